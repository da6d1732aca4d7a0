// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memsize defines byte / bit size constants and human-readable
// formatting, used by the module's block-size, message-size and timeout settings.
package memsize

import "fmt"

// Byte size constants.
const (
	B  uint64 = 1
	KB        = 1024 * B
	MB        = 1024 * KB
	GB        = 1024 * MB
	TB        = 1024 * GB
)

// Bit size constants.
const (
	Bit  uint64 = 1
	Kbit        = 1024 * Bit
	Mbit        = 1024 * Kbit
	Gbit        = 1024 * Mbit
	Tbit        = 1024 * Gbit
)

// Format renders bytes as a human-readable string, e.g. "256.00KB".
func Format(bytes uint64) string {
	return format(bytes, "B", []uint64{TB, GB, MB, KB, B}, []string{"T", "G", "M", "K", ""})
}

// BitFormat renders bits as a human-readable string, e.g. "256.00Kbit".
func BitFormat(bits uint64) string {
	return format(bits, "bit", []uint64{Tbit, Gbit, Mbit, Kbit, Bit}, []string{"T", "G", "M", "K", ""})
}

func format(n uint64, unit string, divs []uint64, prefixes []string) string {
	if n == 0 {
		return fmt.Sprintf("0%s", unit)
	}
	for i, div := range divs {
		if n >= div {
			return fmt.Sprintf("%.2f%s%s", float64(n)/float64(div), prefixes[i], unit)
		}
	}
	return fmt.Sprintf("%d%s", n, unit)
}

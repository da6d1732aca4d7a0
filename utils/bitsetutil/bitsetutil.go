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

// Package bitsetutil provides small construction helpers around
// willf/bitset.BitSet for use in tests and fixtures.
package bitsetutil

import "github.com/willf/bitset"

// FromBools builds a BitSet of len(bools) bits, with bit i set iff bools[i].
func FromBools(bools ...bool) *bitset.BitSet {
	b := bitset.New(uint(len(bools)))
	for i, v := range bools {
		b.SetTo(uint(i), v)
	}
	return b
}

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

package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeInteger(t *testing.T) {
	require.Equal(t, "i42e", string(Encode(int64(42))))
	require.Equal(t, "i-42e", string(Encode(int64(-42))))
	require.Equal(t, "i0e", string(Encode(int64(0))))
}

func TestEncodeString(t *testing.T) {
	require.Equal(t, "4:spam", string(Encode([]byte("spam"))))
	require.Equal(t, "0:", string(Encode([]byte{})))
}

func TestEncodeList(t *testing.T) {
	list := []Value{[]byte("spam"), []byte("eggs"), int64(7)}
	require.Equal(t, "l4:spam4:eggsi7ee", string(Encode(list)))
}

func TestEncodeDictSortsKeys(t *testing.T) {
	dict := NewDict()
	dict.Set("spam", []byte("eggs"))
	dict.Set("cow", []byte("moo"))
	require.Equal(t, "d3:cow3:moo4:spam4:eggse", string(Encode(dict)))
}

// Canonical bencoded input must round-trip byte-for-byte through Decode then
// Encode: for canonical input, hashing a structural re-encoding gives the
// same info hash as hashing the captured raw span.
func TestRoundTripCanonicalInput(t *testing.T) {
	inputs := []string{
		"i0e",
		"i-123456e",
		"4:spam",
		"0:",
		"le",
		"l4:spam4:eggsi7ee",
		"de",
		"d3:cow3:moo4:spam4:eggse",
		"d4:infod6:lengthi100e4:name4:test12:piece lengthi16384eee",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			v, n, err := Decode([]byte(in))
			require.NoError(t, err)
			require.Equal(t, len(in), n)
			require.Equal(t, in, string(Encode(v)))
		})
	}
}

func TestEncodePanicsOnUnsupportedType(t *testing.T) {
	require.Panics(t, func() {
		Encode(3.14)
	})
}

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

func TestDecodeInteger(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"i0e", 0},
		{"i42e", 42},
		{"i-42e", -42},
		{"i1234567890123e", 1234567890123},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			require := require.New(t)
			v, n, err := Decode([]byte(test.in))
			require.NoError(err)
			require.Equal(len(test.in), n)
			require.Equal(test.want, v)
		})
	}
}

func TestDecodeIntegerRejectsLeadingZero(t *testing.T) {
	tests := []string{"i01e", "i00e", "i-0e", "i0123e"}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, _, err := Decode([]byte(in))
			require.Error(t, err)
		})
	}
}

func TestDecodeString(t *testing.T) {
	require := require.New(t)

	v, n, err := Decode([]byte("4:spam"))
	require.NoError(err)
	require.Equal(6, n)
	require.Equal([]byte("spam"), v)
}

func TestDecodeEmptyString(t *testing.T) {
	require := require.New(t)

	v, n, err := Decode([]byte("0:"))
	require.NoError(err)
	require.Equal(2, n)
	require.Equal([]byte{}, v)
}

func TestDecodeStringRejectsLeadingZeroLength(t *testing.T) {
	_, _, err := Decode([]byte("04:spam"))
	require.Error(t, err)
}

func TestDecodeStringBinarySafe(t *testing.T) {
	require := require.New(t)

	raw := []byte{0xff, 0x00, 0x7f, 0x80}
	in := append([]byte("4:"), raw...)
	v, n, err := Decode(in)
	require.NoError(err)
	require.Equal(len(in), n)
	require.Equal(raw, v)
}

func TestDecodeList(t *testing.T) {
	require := require.New(t)

	v, n, err := Decode([]byte("l4:spam4:eggsi7ee"))
	require.NoError(err)
	require.Equal(17, n)
	list, ok := v.([]Value)
	require.True(ok)
	require.Equal([]byte("spam"), list[0])
	require.Equal([]byte("eggs"), list[1])
	require.Equal(int64(7), list[2])
}

func TestDecodeEmptyList(t *testing.T) {
	require := require.New(t)

	v, _, err := Decode([]byte("le"))
	require.NoError(err)
	require.Equal([]Value{}, v)
}

func TestDecodeDict(t *testing.T) {
	require := require.New(t)

	v, n, err := Decode([]byte("d3:cow3:moo4:spam4:eggse"))
	require.NoError(err)
	require.Equal(24, n)
	dict, ok := v.(*Dict)
	require.True(ok)

	cow, err := dict.GetBytes("cow")
	require.NoError(err)
	require.Equal([]byte("moo"), cow)

	spam, err := dict.GetBytes("spam")
	require.NoError(err)
	require.Equal([]byte("eggs"), spam)
}

func TestDecodeDictCapturesRawSpan(t *testing.T) {
	require := require.New(t)

	in := "d3:cow3:mooe"
	v, n, err := Decode([]byte(in))
	require.NoError(err)
	require.Equal(len(in), n)
	dict := v.(*Dict)
	require.Equal(in, string(dict.Raw))
}

func TestDecodeNestedDict(t *testing.T) {
	require := require.New(t)

	v, _, err := Decode([]byte("d4:infod6:lengthi100eee"))
	require.NoError(err)
	dict := v.(*Dict)
	info, err := dict.GetDict("info")
	require.NoError(err)
	length, err := info.GetInt("length")
	require.NoError(err)
	require.Equal(int64(100), length)
	require.Equal("d6:lengthi100ee", string(info.Raw))
}

func TestDecodeTrailingBytesAreNotAnError(t *testing.T) {
	require := require.New(t)

	v, n, err := Decode([]byte("i1eGARBAGE"))
	require.NoError(err)
	require.Equal(3, n)
	require.Equal(int64(1), v)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		desc string
		in   string
	}{
		{"empty input", ""},
		{"unterminated integer", "i42"},
		{"non-digit integer", "i4x2e"},
		{"string length overruns input", "10:short"},
		{"unterminated list", "l4:spam"},
		{"unterminated dict", "d3:cow"},
		{"dict key not a string", "di1ei2ee"},
		{"dict key with no value", "d3:cowe"},
		{"unknown leading byte", "x"},
	}
	for _, test := range tests {
		t.Run(test.desc, func(t *testing.T) {
			_, _, err := Decode([]byte(test.in))
			require.Error(t, err)

			var decodeErr *DecodeError
			require.ErrorAs(err, &decodeErr)
		})
	}
}

func TestDecodeDictRejectsNonDict(t *testing.T) {
	_, err := DecodeDict([]byte("i1e"))
	require.Error(t, err)
}

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
	"bytes"
	"fmt"
	"strconv"
)

// Encode canonically re-encodes v: integers with no leading zeros or
// negative zero, byte strings verbatim, lists in order, and dict keys sorted
// ascending by byte value. Round-tripping Decode then Encode over
// already-canonical input (such as any well-formed .torrent file) reproduces
// the original bytes exactly.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v Value) {
	switch t := v.(type) {
	case int64:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(t, 10))
		buf.WriteByte('e')
	case int:
		encodeValue(buf, int64(t))
	case []byte:
		buf.WriteString(strconv.Itoa(len(t)))
		buf.WriteByte(':')
		buf.Write(t)
	case string:
		encodeValue(buf, []byte(t))
	case []Value:
		buf.WriteByte('l')
		for _, e := range t {
			encodeValue(buf, e)
		}
		buf.WriteByte('e')
	case *Dict:
		buf.WriteByte('d')
		for _, k := range t.SortedKeys() {
			encodeValue(buf, []byte(k))
			val, _ := t.Get(k)
			encodeValue(buf, val)
		}
		buf.WriteByte('e')
	default:
		panic(fmt.Sprintf("bencode: cannot encode value of type %T", v))
	}
}

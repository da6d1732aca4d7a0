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
	"errors"
	"fmt"
)

// errEndOfContainer is an internal sentinel returned by decodeValue when it
// consumes the 'e' that terminates the list or dict currently being decoded.
// It never escapes the package.
var errEndOfContainer = errors.New("end of container")

// errUnexpectedEOF is returned when the input ends mid-token.
var errUnexpectedEOF = errors.New("unexpected end of input")

// DecodeError reports a decode failure together with the byte offset at
// which it occurred, so callers can point a user at the malformed input.
type DecodeError struct {
	Offset int
	Cause  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("bencode: decode error at offset %d: %s", e.Offset, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

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
package dispatch

import "fmt"

// DownloadError reports that a piece could not be retrieved from any peer
// after exhausting the configured number of attempts.
type DownloadError struct {
	Piece int
	Cause error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download piece %d: %s", e.Piece, e.Cause)
}

func (e *DownloadError) Unwrap() error {
	return e.Cause
}

// PeerProtocolError reports a violation of the peer wire protocol by a
// remote peer -- an unexpected message id, a malformed payload, or a socket
// error mid-stream.
type PeerProtocolError struct {
	PeerID string
	Cause  error
}

func (e *PeerProtocolError) Error() string {
	return fmt.Sprintf("peer %s: %s", e.PeerID, e.Cause)
}

func (e *PeerProtocolError) Unwrap() error {
	return e.Cause
}

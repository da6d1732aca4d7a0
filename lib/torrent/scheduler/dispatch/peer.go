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

import (
	"sync"

	"github.com/uber/kraken/core"
	"github.com/uber/kraken/lib/torrent/scheduler/conn"
)

// peer consolidates bookkeeping for a single remote peer over the lifetime of
// a download. This client never uploads, so only the pieces we requested and
// received are tracked -- there is no symmetrical upload-side accounting.
type peer struct {
	id   core.PeerID
	conn *conn.Conn

	pstats *peerStats
}

func newPeer(peerID core.PeerID, c *conn.Conn) *peer {
	return &peer{
		id:     peerID,
		conn:   c,
		pstats: new(peerStats),
	}
}

func (p *peer) String() string {
	return p.id.String()
}

// peerStats wraps stats collected for a given peer.
type peerStats struct {
	mu sync.Mutex

	pieceRequestsSent       int
	goodPiecesReceived      int
	duplicatePiecesReceived int
	invalidPiecesReceived   int
}

func (s *peerStats) incrementPieceRequestsSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pieceRequestsSent++
}

func (s *peerStats) incrementGoodPiecesReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goodPiecesReceived++
}

func (s *peerStats) incrementInvalidPiecesReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidPiecesReceived++
}

func (s *peerStats) get() (sent, good, duplicate, invalid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pieceRequestsSent, s.goodPiecesReceived, s.duplicatePiecesReceived, s.invalidPiecesReceived
}

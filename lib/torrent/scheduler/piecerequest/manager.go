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

// Package piecerequest tracks which pieces are currently reserved against
// which peer, so the scheduler never hands the same piece to two peers at
// once.
package piecerequest

import (
	"sync"
	"time"

	"github.com/uber/kraken/core"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"
)

// Status enumerates possible statuses of a Request.
type Status int

const (
	// StatusPending denotes a valid request which is still in-flight.
	StatusPending Status = iota

	// StatusUnsent denotes an unsent request that is safe to retry to the same peer.
	StatusUnsent

	// StatusInvalid denotes a completed request that resulted in an invalid payload.
	StatusInvalid
)

// Request represents a piece request to a peer.
type Request struct {
	Piece  int
	PeerID core.PeerID
	Status Status

	sentAt time.Time
}

// Manager encapsulates thread-safe piece reservation bookkeeping for a
// download in which each peer connection drives one piece request at a
// time sequentially. It is not responsible for sending nor receiving
// pieces in any way.
type Manager struct {
	sync.Mutex

	// requests is indexed by piece.
	requests map[int]*Request

	clock   clock.Clock
	timeout time.Duration
}

// NewManager creates a new Manager.
func NewManager(clk clock.Clock, timeout time.Duration) *Manager {
	return &Manager{
		requests: make(map[int]*Request),
		clock:    clk,
		timeout:  timeout,
	}
}

// ReservePiece selects the first candidate piece that has no pending,
// unexpired reservation and reserves it for peerID, returning false if
// every candidate is already reserved by some other in-flight request.
func (m *Manager) ReservePiece(peerID core.PeerID, candidates *bitset.BitSet) (int, bool) {
	m.Lock()
	defer m.Unlock()

	for i, ok := candidates.NextSet(0); ok; i, ok = candidates.NextSet(i + 1) {
		if r, exists := m.requests[int(i)]; exists && r.Status == StatusPending && !m.expired(r) {
			continue
		}
		m.requests[int(i)] = &Request{
			Piece:  int(i),
			PeerID: peerID,
			Status: StatusPending,
			sentAt: m.clock.Now(),
		}
		return int(i), true
	}
	return 0, false
}

// MarkUnsent marks the piece request for piece i as unsent, making it
// immediately eligible for reservation by any peer.
func (m *Manager) MarkUnsent(peerID core.PeerID, i int) {
	m.markStatus(peerID, i, StatusUnsent)
}

// MarkInvalid marks the piece request for piece i as invalid.
func (m *Manager) MarkInvalid(peerID core.PeerID, i int) {
	m.markStatus(peerID, i, StatusInvalid)
}

// Clear deletes the piece request for piece i. Should be used for freeing up
// unneeded request bookkeeping once a piece has been received.
func (m *Manager) Clear(i int) {
	m.Lock()
	defer m.Unlock()

	delete(m.requests, i)
}

func (m *Manager) expired(r *Request) bool {
	expiresAt := r.sentAt.Add(m.timeout)
	return m.clock.Now().After(expiresAt)
}

func (m *Manager) markStatus(peerID core.PeerID, i int, s Status) {
	m.Lock()
	defer m.Unlock()

	if r, ok := m.requests[i]; ok && r.PeerID == peerID {
		r.Status = s
	}
}

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

// Package dispatch drives the per-piece block loop over a single peer
// connection (C7) and fans that loop out across the peer set returned by the
// tracker (C8), assembling the pieces it collects into the torrent's
// payload.
package dispatch

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/uber/kraken/core"
	"github.com/uber/kraken/lib/torrent/scheduler/conn"
	"github.com/uber/kraken/lib/torrent/scheduler/piecerequest"
	"github.com/uber/kraken/lib/torrent/scheduler/torrentlog"
)

// Scheduler downloads a single torrent by dialing and handshaking every
// candidate peer, then fanning piece requests out across whichever
// connections come up, reassembling the verified pieces into one payload.
// It never seeds: this client only ever sends "interested" and "request".
type Scheduler struct {
	config      Config
	metaInfo    *core.MetaInfo
	localPeerID core.PeerID

	handshaker *conn.Handshaker

	clk        clock.Clock
	stats      tally.Scope
	logger     *zap.SugaredLogger
	torrentlog *torrentlog.Logger

	requests *piecerequest.Manager

	mu        sync.Mutex
	attempts  map[int]int
	abandoned *bitset.BitSet
}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithTorrentLog overrides the structured event logger.
func WithTorrentLog(l *torrentlog.Logger) Option {
	return func(s *Scheduler) { s.torrentlog = l }
}

// New creates a Scheduler for downloading the torrent described by mi,
// identifying itself to peers as localPeerID.
func New(
	config Config,
	mi *core.MetaInfo,
	localPeerID core.PeerID,
	stats tally.Scope,
	clk clock.Clock,
	logger *zap.SugaredLogger,
	opts ...Option) *Scheduler {

	config = config.applyDefaults()
	stats = stats.Tagged(map[string]string{"module": "dispatch"})

	s := &Scheduler{
		config:      config,
		metaInfo:    mi,
		localPeerID: localPeerID,
		handshaker: conn.NewHandshaker(
			conn.Config{HandshakeTimeout: config.HandshakeTimeout}, stats, clk, localPeerID, connEvents{}, logger),
		clk:         clk,
		stats:       stats,
		logger:      logger,
		torrentlog:  torrentlog.NewNopLogger(),
		requests: piecerequest.NewManager(
			clk, config.calcPieceRequestTimeout(mi.PieceLength())),
		attempts:  make(map[int]int),
		abandoned: bitset.New(uint(mi.NumPieces())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// connEvents is a no-op conn.Events -- this scheduler tears down connections
// itself once a download finishes, rather than reacting to async closes.
type connEvents struct{}

func (connEvents) ConnClosed(*conn.Conn) {}

// Download connects to every address in peerAddrs and assembles the full
// torrent payload. Returns an error if any piece cannot be retrieved from
// any peer after exhausting MaxAttemptsPerPiece.
func (s *Scheduler) Download(peerAddrs []string) ([]byte, error) {
	start := s.clk.Now()

	numPieces := s.metaInfo.NumPieces()
	payload := make([]byte, s.metaInfo.Length())

	needed := bitset.New(uint(numPieces))
	for i := 0; i < numPieces; i++ {
		needed.Set(uint(i))
	}
	sb := newSyncBitfield(needed)

	type result struct {
		index int
		data  []byte
	}

	results := make(chan result, numPieces)
	done := make(chan struct{})
	var wg sync.WaitGroup
	var peersMu sync.Mutex
	var peers []*peer

	for _, addr := range peerAddrs {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.connectPeer(addr)
			if err != nil {
				s.log().Infof("Failed to establish peer connection to %s: %s", addr, err)
				return
			}
			peersMu.Lock()
			peers = append(peers, p)
			peersMu.Unlock()

			s.runPeer(p, sb, func(index int, data []byte) {
				select {
				case results <- result{index, data}:
				case <-done:
				}
			}, done)
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	remaining := numPieces
	received := bitset.New(uint(numPieces))
	var downloadErr error
	for remaining > 0 {
		r, ok := <-results
		if !ok {
			s.mu.Lock()
			missing, found := s.abandoned.NextSet(0)
			s.mu.Unlock()
			if !found {
				missing, _ = sb.Copy().NextSet(0)
			}
			downloadErr = &DownloadError{
				Piece: int(missing),
				Cause: fmt.Errorf("%d pieces could not be retrieved from any peer", remaining),
			}
			break
		}
		if received.Test(uint(r.index)) {
			continue // Re-downloaded before its needed bit was cleared.
		}
		received.Set(uint(r.index))
		copy(payload[s.pieceOffset(r.index):], r.data)
		sb.Set(uint(r.index), false)
		remaining--
	}
	close(done)
	peersMu.Lock()
	for _, p := range peers {
		p.conn.Close()
	}
	peersMu.Unlock()
	wg.Wait()

	if downloadErr != nil {
		s.torrentlog.DownloadFailure(s.metaInfo.InfoHash(), s.metaInfo.Length(), downloadErr)
		return nil, downloadErr
	}
	s.torrentlog.DownloadSuccess(s.metaInfo.InfoHash(), s.metaInfo.Length(), s.clk.Now().Sub(start))
	s.logPeerSummaries(peers)
	return payload, nil
}

// DownloadPiece connects to a single peer and downloads exactly one piece,
// verifying it against the torrent's recorded SHA-1 hash.
func (s *Scheduler) DownloadPiece(peerAddr string, index int) ([]byte, error) {
	if index < 0 || index >= s.metaInfo.NumPieces() {
		return nil, fmt.Errorf("piece index %d out of range [0, %d)", index, s.metaInfo.NumPieces())
	}
	p, err := s.connectPeer(peerAddr)
	if err != nil {
		return nil, err
	}
	defer p.conn.Close()

	if err := s.awaitBitfield(p); err != nil {
		return nil, err
	}
	if err := p.conn.SendInterested(); err != nil {
		return nil, err
	}
	if err := s.awaitUnchoke(p); err != nil {
		return nil, err
	}
	data, err := s.downloadPieceBlocks(p, index)
	if err != nil {
		return nil, err
	}
	if !s.verifyPiece(index, data) {
		return nil, &DownloadError{Piece: index, Cause: errors.New("piece hash mismatch")}
	}
	return data, nil
}

func (s *Scheduler) pieceOffset(index int) int64 {
	return int64(index) * s.metaInfo.PieceLength()
}

func (s *Scheduler) connectPeer(addr string) (*peer, error) {
	c, err := s.handshaker.Dial(addr, s.metaInfo.InfoHash())
	if err != nil {
		s.torrentlog.OutgoingConnectionReject(s.metaInfo.InfoHash(), core.PeerID{}, err)
		return nil, fmt.Errorf("dial %s: %s", addr, err)
	}
	c.Start()
	s.torrentlog.OutgoingConnectionAccept(s.metaInfo.InfoHash(), c.PeerID())
	return newPeer(c.PeerID(), c), nil
}

// runPeer drives one peer connection through the classic leech lifecycle --
// bitfield, interested, unchoke -- then repeatedly reserves and downloads
// whatever pieces remain until told to stop or the connection dies.
func (s *Scheduler) runPeer(p *peer, needed *syncBitfield, emit func(int, []byte), done <-chan struct{}) {
	if err := s.awaitBitfield(p); err != nil {
		s.log().Infof("Peer %s failed bitfield handshake: %s", p, err)
		return
	}
	if err := p.conn.SendInterested(); err != nil {
		s.log().Infof("Peer %s failed to send interested: %s", p, err)
		return
	}
	if err := s.awaitUnchoke(p); err != nil {
		s.log().Infof("Peer %s never unchoked: %s", p, err)
		return
	}

	for {
		select {
		case <-done:
			return
		default:
		}

		candidates := needed.Copy()
		if candidates.None() {
			return
		}
		i, ok := s.requests.ReservePiece(p.id, candidates)
		if !ok {
			select {
			case <-done:
				return
			case <-s.clk.After(50 * time.Millisecond):
			}
			continue
		}
		if s.isAbandoned(i) {
			s.requests.Clear(i)
			continue
		}

		p.pstats.incrementPieceRequestsSent()
		data, err := s.downloadPieceBlocks(p, i)
		if err != nil {
			s.log().Infof("Peer %s failed piece %d: %s", p, i, err)
			s.requests.MarkUnsent(p.id, i)
			s.recordFailure(i)
			if s.isAbandoned(i) {
				needed.Set(uint(i), false)
			}
			return // Connection is presumed unhealthy after a mid-stream failure.
		}
		if !s.verifyPiece(i, data) {
			p.pstats.incrementInvalidPiecesReceived()
			s.requests.MarkInvalid(p.id, i)
			s.recordFailure(i)
			if s.isAbandoned(i) {
				needed.Set(uint(i), false)
			}
			continue
		}

		p.pstats.incrementGoodPiecesReceived()
		s.requests.Clear(i)
		emit(i, data)
	}
}

// recordFailure tracks a failed attempt at piece i. Once a piece has failed
// against MaxAttemptsPerPiece distinct reservations, it is abandoned: no
// peer will be offered it again, and the overall download will surface a
// DownloadError for it.
func (s *Scheduler) recordFailure(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[i]++
	if s.attempts[i] >= s.config.MaxAttemptsPerPiece {
		s.abandoned.Set(uint(i))
	}
}

func (s *Scheduler) isAbandoned(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandoned.Test(uint(i))
}

// downloadPieceBlocks implements the per-piece block loop (C7): split the
// piece into BlockSize chunks, request each in turn, and assemble the
// responses in order.
func (s *Scheduler) downloadPieceBlocks(p *peer, index int) ([]byte, error) {
	length := s.metaInfo.GetPieceLength(index)
	buf := make([]byte, length)

	timeout := s.config.calcPieceRequestTimeout(length)

	var b int64
	for b < length {
		reqLen := s.config.BlockSize
		if length-b < reqLen {
			reqLen = length - b
		}
		payload := conn.NewRequestPayload(index, int(b), int(reqLen))
		if err := p.conn.Send(&conn.Message{ID: conn.MsgRequest, Payload: payload}); err != nil {
			return nil, &PeerProtocolError{PeerID: p.id.String(), Cause: err}
		}
		block, err := s.awaitBlock(p, index, int(b), timeout)
		if err != nil {
			return nil, err
		}
		if int64(len(block)) != reqLen {
			return nil, &PeerProtocolError{PeerID: p.id.String(), Cause: fmt.Errorf(
				"expected block of %d bytes, got %d", reqLen, len(block))}
		}
		copy(buf[b:], block)
		b += reqLen
	}
	return buf, nil
}

func (s *Scheduler) awaitBlock(p *peer, index, begin int, timeout time.Duration) ([]byte, error) {
	deadline := s.clk.After(timeout)
	for {
		select {
		case msg, ok := <-p.conn.Receiver():
			if !ok {
				return nil, &PeerProtocolError{PeerID: p.id.String(), Cause: errors.New("connection closed")}
			}
			if msg.ID == conn.MsgPiece {
				idx, got, block, err := conn.ParsePiecePayload(msg.Payload)
				if err != nil {
					return nil, &PeerProtocolError{PeerID: p.id.String(), Cause: err}
				}
				if idx == index && got == begin {
					return block, nil
				}
				continue // Stale response for an earlier request; ignore.
			}
			p.conn.HandleMessage(msg)
		case <-deadline:
			return nil, &PeerProtocolError{PeerID: p.id.String(), Cause: fmt.Errorf(
				"timed out waiting for piece %d block %d", index, begin)}
		}
	}
}

// awaitBitfield consumes the first post-handshake message, which by the
// classic protocol is either a bitfield (id=5) or a have (id=4). This
// minimal client does not track peer availability, so the payload is
// discarded either way -- receiving it is only a transition signal.
func (s *Scheduler) awaitBitfield(p *peer) error {
	select {
	case msg, ok := <-p.conn.Receiver():
		if !ok {
			return &PeerProtocolError{PeerID: p.id.String(), Cause: errors.New("connection closed")}
		}
		if msg.ID != conn.MsgBitfield && msg.ID != conn.MsgHave {
			return &PeerProtocolError{PeerID: p.id.String(), Cause: fmt.Errorf(
				"expected bitfield or have, got message id %d", msg.ID)}
		}
		return nil
	case <-s.clk.After(s.config.PieceRequestMinTimeout):
		return &PeerProtocolError{PeerID: p.id.String(), Cause: errors.New("timed out awaiting bitfield")}
	}
}

func (s *Scheduler) awaitUnchoke(p *peer) error {
	deadline := s.clk.After(s.config.PieceRequestMinTimeout)
	for {
		select {
		case msg, ok := <-p.conn.Receiver():
			if !ok {
				return &PeerProtocolError{PeerID: p.id.String(), Cause: errors.New("connection closed")}
			}
			p.conn.HandleMessage(msg)
			if msg.ID == conn.MsgUnchoke {
				return nil
			}
		case <-deadline:
			return &PeerProtocolError{PeerID: p.id.String(), Cause: errors.New("timed out awaiting unchoke")}
		}
	}
}

func (s *Scheduler) verifyPiece(index int, data []byte) bool {
	return sha1.Sum(data) == s.metaInfo.GetPieceHash(index)
}

func (s *Scheduler) logPeerSummaries(peers []*peer) {
	summaries := make(torrentlog.PeerSummaries, 0, len(peers))
	for _, p := range peers {
		sent, good, dup, invalid := p.pstats.get()
		summaries = append(summaries, torrentlog.PeerSummary{
			PeerID:                  p.id,
			RequestsSent:            sent,
			GoodPiecesReceived:      good,
			DuplicatePiecesReceived: dup,
			InvalidPiecesReceived:   invalid,
		})
	}
	s.torrentlog.PeerSummaries(s.metaInfo.InfoHash(), summaries)
}

func (s *Scheduler) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "hash", s.metaInfo.InfoHash())
	return s.logger.With(keysAndValues...)
}

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
package conn

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/uber/kraken/core"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

const (
	handshakeLen = 68
	protocolName = "BitTorrent protocol"
)

// encodeHandshake serializes the fixed 68-byte handshake frame:
// [1 byte = 19][19 bytes protocol][8 bytes reserved][20 bytes info hash][20 bytes peer id].
func encodeHandshake(infoHash core.InfoHash, peerID core.PeerID) []byte {
	b := make([]byte, handshakeLen)
	b[0] = byte(len(protocolName))
	copy(b[1:20], protocolName)
	// Bytes 20:28 are reserved and left zero.
	copy(b[28:48], infoHash.Bytes())
	copy(b[48:68], peerID[:])
	return b
}

// decodeHandshake validates and parses a 68-byte handshake frame.
func decodeHandshake(b []byte) (infoHash core.InfoHash, peerID core.PeerID, err error) {
	if len(b) != handshakeLen {
		return core.InfoHash{}, core.PeerID{}, fmt.Errorf(
			"handshake must be %d bytes, got %d", handshakeLen, len(b))
	}
	if int(b[0]) != len(protocolName) {
		return core.InfoHash{}, core.PeerID{}, fmt.Errorf(
			"unexpected protocol name length: %d", b[0])
	}
	if !bytes.Equal(b[1:20], []byte(protocolName)) {
		return core.InfoHash{}, core.PeerID{}, fmt.Errorf(
			"unexpected protocol name: %q", b[1:20])
	}
	copy(infoHash[:], b[28:48])
	peerID, err = core.NewPeerIDFromBytes(b[48:68])
	if err != nil {
		return core.InfoHash{}, core.PeerID{}, fmt.Errorf("peer id: %s", err)
	}
	return infoHash, peerID, nil
}

// Handshaker drives the 68-byte handshake exchange over a freshly dialed or
// accepted TCP connection, then hands off to a Conn for framed message I/O.
type Handshaker struct {
	config Config
	stats  tally.Scope
	clk    clock.Clock
	peerID core.PeerID
	events Events
	logger *zap.SugaredLogger
}

// NewHandshaker creates a new Handshaker using the local peer id peerID.
func NewHandshaker(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	peerID core.PeerID,
	events Events,
	logger *zap.SugaredLogger) *Handshaker {

	config = config.applyDefaults()
	return &Handshaker{
		config: config,
		stats:  stats.Tagged(map[string]string{"module": "conn"}),
		clk:    clk,
		peerID: peerID,
		events: events,
		logger: logger,
	}
}

// Dial opens a TCP connection to addr and performs the handshake for
// infoHash, returning an established Conn on success.
func (h *Handshaker) Dial(addr string, infoHash core.InfoHash) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, h.config.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %s", err)
	}
	remotePeerID, err := h.exchange(nc, infoHash)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return newConn(h.config, h.stats, h.clk, h.events, nc, h.peerID, remotePeerID, infoHash, h.logger)
}

// Accept performs the handshake side of a connection opened by a remote
// peer, verifying that the remote's info hash matches infoHash.
func (h *Handshaker) Accept(nc net.Conn, infoHash core.InfoHash) (*Conn, error) {
	remotePeerID, err := h.exchange(nc, infoHash)
	if err != nil {
		return nil, err
	}
	return newConn(h.config, h.stats, h.clk, h.events, nc, h.peerID, remotePeerID, infoHash, h.logger)
}

func (h *Handshaker) exchange(nc net.Conn, infoHash core.InfoHash) (core.PeerID, error) {
	if err := nc.SetDeadline(h.clk.Now().Add(h.config.HandshakeTimeout)); err != nil {
		return core.PeerID{}, fmt.Errorf("set deadline: %s", err)
	}
	defer nc.SetDeadline(noDeadline)

	if _, err := nc.Write(encodeHandshake(infoHash, h.peerID)); err != nil {
		return core.PeerID{}, fmt.Errorf("send handshake: %s", err)
	}

	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(nc, buf); err != nil {
		return core.PeerID{}, fmt.Errorf("read handshake: %s", err)
	}
	remoteInfoHash, remotePeerID, err := decodeHandshake(buf)
	if err != nil {
		return core.PeerID{}, fmt.Errorf("decode handshake: %s", err)
	}
	if remoteInfoHash != infoHash {
		return core.PeerID{}, fmt.Errorf(
			"info hash mismatch: expected %s, got %s", infoHash, remoteInfoHash)
	}
	return remotePeerID, nil
}

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
	"crypto/sha1"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/uber/kraken/bencode"
	"github.com/uber/kraken/core"
	"github.com/uber/kraken/lib/torrent/scheduler/conn"
)

// buildTestTorrent generates a random payload split into pieceLength chunks
// (the last one short), and returns both the payload and the MetaInfo
// describing it, with real SHA-1 hashes a seeder can actually satisfy.
func buildTestTorrent(t *testing.T, length int64, pieceLength int64) ([]byte, *core.MetaInfo) {
	t.Helper()

	payload := make([]byte, length)
	rand.New(rand.NewSource(0)).Read(payload)

	var pieces []byte
	for off := int64(0); off < length; off += pieceLength {
		end := off + pieceLength
		if end > length {
			end = length
		}
		sum := sha1.Sum(payload[off:end])
		pieces = append(pieces, sum[:]...)
	}

	info := bencode.NewDict()
	info.Set("length", length)
	info.Set("name", []byte("test.bin"))
	info.Set("piece length", pieceLength)
	info.Set("pieces", pieces)

	top := bencode.NewDict()
	top.Set("announce", []byte("http://tracker.example.com/announce"))
	top.Set("info", info)

	mi, err := core.NewMetaInfo(top)
	require.NoError(t, err)
	return payload, mi
}

// seedPeer accepts a single connection on lis, handshakes as the given
// peer id, and serves piece requests straight out of payload until the
// connection closes or badPieces causes it to send garbage instead.
func seedPeer(
	t *testing.T,
	lis net.Listener,
	peerID core.PeerID,
	infoHash core.InfoHash,
	mi *core.MetaInfo,
	payload []byte,
	badPieces map[int]bool) {

	nc, err := lis.Accept()
	if err != nil {
		return
	}
	h := conn.NewHandshaker(
		conn.Config{}, tally.NoopScope, clock.New(), peerID, seedEvents{}, zap.NewNop().Sugar())
	c, err := h.Accept(nc, infoHash)
	require.NoError(t, err)
	defer c.Close()
	c.Start()

	require.NoError(t, c.Send(&conn.Message{ID: conn.MsgBitfield, Payload: []byte{0xff}}))

	for msg := range c.Receiver() {
		switch msg.ID {
		case conn.MsgInterested:
			if err := c.Send(&conn.Message{ID: conn.MsgUnchoke}); err != nil {
				return
			}
		case conn.MsgRequest:
			index, begin, length, err := conn.ParseRequestPayload(msg.Payload)
			require.NoError(t, err)
			block := make([]byte, length)
			off := index*int(mi.PieceLength()) + begin
			if badPieces[index] {
				// Garbage of the right length: fails hash verification
				// without breaking the block-length invariant.
				copy(block, payload[off:off+length])
				block[0] ^= 0xff
			} else {
				copy(block, payload[off:off+length])
			}
			if err := c.Send(&conn.Message{
				ID:      conn.MsgPiece,
				Payload: conn.NewPiecePayload(index, begin, block),
			}); err != nil {
				return
			}
		}
	}
}

type seedEvents struct{}

func (seedEvents) ConnClosed(*conn.Conn) {}

func testConfig() Config {
	return Config{
		PieceRequestMinTimeout: 2 * time.Second,
		HandshakeTimeout:       2 * time.Second,
		MaxAttemptsPerPiece:    2,
	}.applyDefaults()
}

func TestSchedulerDownloadSinglePeer(t *testing.T) {
	require := require.New(t)

	payload, mi := buildTestTorrent(t, 92063, 32768)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer lis.Close()

	seederID, err := core.NewPeerIDFromBytes([]byte("seeder00000000000000"[:20]))
	require.NoError(err)
	leecherID, err := core.NewPeerIDFromBytes([]byte("leecher0000000000000"[:20]))
	require.NoError(err)

	go seedPeer(t, lis, seederID, mi.InfoHash(), mi, payload, nil)

	s := New(testConfig(), mi, leecherID, tally.NoopScope, clock.New(), zap.NewNop().Sugar())

	got, err := s.Download([]string{lis.Addr().String()})
	require.NoError(err)
	require.Equal(payload, got)
}

func TestSchedulerDownloadPiece(t *testing.T) {
	require := require.New(t)

	payload, mi := buildTestTorrent(t, 92063, 32768)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer lis.Close()

	seederID, err := core.NewPeerIDFromBytes([]byte("seeder00000000000000"[:20]))
	require.NoError(err)
	leecherID, err := core.NewPeerIDFromBytes([]byte("leecher0000000000000"[:20]))
	require.NoError(err)

	go seedPeer(t, lis, seederID, mi.InfoHash(), mi, payload, nil)

	s := New(testConfig(), mi, leecherID, tally.NoopScope, clock.New(), zap.NewNop().Sugar())

	got, err := s.DownloadPiece(lis.Addr().String(), 1)
	require.NoError(err)
	require.Equal(payload[32768:65536], got)
}

func TestSchedulerDownloadPieceHashMismatch(t *testing.T) {
	require := require.New(t)

	payload, mi := buildTestTorrent(t, 92063, 32768)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer lis.Close()

	seederID, err := core.NewPeerIDFromBytes([]byte("seeder00000000000000"[:20]))
	require.NoError(err)
	leecherID, err := core.NewPeerIDFromBytes([]byte("leecher0000000000000"[:20]))
	require.NoError(err)

	go seedPeer(t, lis, seederID, mi.InfoHash(), mi, payload, map[int]bool{0: true})

	s := New(testConfig(), mi, leecherID, tally.NoopScope, clock.New(), zap.NewNop().Sugar())

	_, err = s.DownloadPiece(lis.Addr().String(), 0)
	require.Error(err)

	var downloadErr *DownloadError
	require.ErrorAs(err, &downloadErr)
	require.Equal(0, downloadErr.Piece)
}

func TestSchedulerDownloadAbandonsUnsatisfiablePiece(t *testing.T) {
	require := require.New(t)

	payload, mi := buildTestTorrent(t, 92063, 32768)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer lis.Close()

	seederID, err := core.NewPeerIDFromBytes([]byte("seeder00000000000000"[:20]))
	require.NoError(err)
	leecherID, err := core.NewPeerIDFromBytes([]byte("leecher0000000000000"[:20]))
	require.NoError(err)

	// Every piece this seeder sends for index 0 fails verification, so the
	// single-peer download must eventually give up on it.
	go seedPeer(t, lis, seederID, mi.InfoHash(), mi, payload, map[int]bool{0: true})

	config := testConfig()
	config.MaxAttemptsPerPiece = 1
	s := New(config, mi, leecherID, tally.NoopScope, clock.New(), zap.NewNop().Sugar())

	_, err = s.Download([]string{lis.Addr().String()})
	require.Error(err)
}

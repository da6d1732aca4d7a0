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
	"net"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/uber/kraken/core"
)

func newTestConnPair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	a, b := net.Pipe()
	config := Config{}.applyDefaults()
	infoHash := core.NewInfoHashFromBytes([]byte("test"))
	peerA, _ := core.NewPeerIDFromBytes([]byte("aaaaaaaaaaaaaaaaaaaa"))
	peerB, _ := core.NewPeerIDFromBytes([]byte("bbbbbbbbbbbbbbbbbbbb"))

	connA, err := newConn(config, tally.NoopScope, clock.New(), noopEvents{}, a, peerA, peerB, infoHash, zap.NewNop().Sugar())
	require.NoError(t, err)
	connB, err := newConn(config, tally.NoopScope, clock.New(), noopEvents{}, b, peerB, peerA, infoHash, zap.NewNop().Sugar())
	require.NoError(t, err)

	connA.Start()
	connB.Start()
	return connA, connB
}

func TestConnSendReceive(t *testing.T) {
	require := require.New(t)

	connA, connB := newTestConnPair(t)
	defer connA.Close()
	defer connB.Close()

	require.NoError(connA.Send(&Message{ID: MsgInterested}))

	select {
	case msg := <-connB.Receiver():
		require.Equal(MsgInterested, msg.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConnHandleMessageTracksChokeState(t *testing.T) {
	require := require.New(t)

	connA, connB := newTestConnPair(t)
	defer connA.Close()
	defer connB.Close()

	require.Equal(AwaitingBitfield, connA.State())

	connA.HandleMessage(&Message{ID: MsgUnchoke})
	require.Equal(Unchoked, connA.State())

	connA.HandleMessage(&Message{ID: MsgChoke})
	require.Equal(Choked, connA.State())
}

func TestConnCloseIsIdempotent(t *testing.T) {
	connA, connB := newTestConnPair(t)
	defer connB.Close()

	connA.Close()
	connA.Close()
	require.True(t, connA.IsClosed())
}

func TestConnReceiverClosesOnPeerDisconnect(t *testing.T) {
	connA, connB := newTestConnPair(t)
	defer connA.Close()

	connB.Close()

	select {
	case _, ok := <-connA.Receiver():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for receiver to close")
	}
}

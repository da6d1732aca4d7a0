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

	"github.com/stretchr/testify/require"
)

func TestSendReadFrameRoundTrip(t *testing.T) {
	require := require.New(t)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		require.NoError(sendMessage(client, MsgRequest, NewRequestPayload(1, 2, 16384)))
	}()

	msg, keepAlive, err := readFrame(server)
	require.NoError(err)
	require.False(keepAlive)
	require.Equal(MsgRequest, msg.ID)

	index, begin, length, err := ParseRequestPayload(msg.Payload)
	require.NoError(err)
	require.Equal(1, index)
	require.Equal(2, begin)
	require.Equal(16384, length)
}

func TestSendMessageLengthPrefixExcludesItself(t *testing.T) {
	require := require.New(t)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	payload := []byte("hello")
	go func() {
		require.NoError(sendMessage(client, MsgPiece, payload))
	}()

	msg, keepAlive, err := readFrame(server)
	require.NoError(err)
	require.False(keepAlive)
	// length field == len(payload) + 1 (id byte only), not +5.
	require.Equal(MsgPiece, msg.ID)
	require.Equal(payload, msg.Payload)
}

func TestReadFrameKeepAlive(t *testing.T) {
	require := require.New(t)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		require.NoError(sendKeepAlive(client))
	}()

	msg, keepAlive, err := readFrame(server)
	require.NoError(err)
	require.True(keepAlive)
	require.Nil(msg)
}

func TestPiecePayloadRoundTrip(t *testing.T) {
	require := require.New(t)

	block := []byte("some block data")
	payload := NewPiecePayload(3, 16384, block)

	index, begin, got, err := ParsePiecePayload(payload)
	require.NoError(err)
	require.Equal(3, index)
	require.Equal(16384, begin)
	require.Equal(block, got)
}

func TestHavePayloadRoundTrip(t *testing.T) {
	require := require.New(t)

	payload := NewHavePayload(42)
	index, err := ParseHavePayload(payload)
	require.NoError(err)
	require.Equal(42, index)
}

func TestParseRequestPayloadRejectsBadLength(t *testing.T) {
	_, _, _, err := ParseRequestPayload([]byte{1, 2, 3})
	require.Error(t, err)
}

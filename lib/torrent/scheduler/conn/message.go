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
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/uber/kraken/utils/memsize"
)

// Message ids, as placed in the single id byte following the length prefix.
const (
	MsgChoke         byte = 0
	MsgUnchoke       byte = 1
	MsgInterested    byte = 2
	MsgNotInterested byte = 3
	MsgHave          byte = 4
	MsgBitfield      byte = 5
	MsgRequest       byte = 6
	MsgPiece         byte = 7
	MsgCancel        byte = 8
)

// maxMessageSize bounds the length prefix accepted from a peer, piece
// messages included; a 16 KiB block plus its id byte and 8-byte header fits.
const maxMessageSize = 32 * memsize.KB

// Message is a single length-prefixed, id-tagged peer wire message.
type Message struct {
	ID      byte
	Payload []byte
}

// sendMessage writes [len(payload)+1][id][payload] to nc. The length field
// counts only the id byte and the payload -- it excludes itself.
func sendMessage(nc net.Conn, id byte, payload []byte) error {
	var header [5]byte
	binary.BigEndian.PutUint32(header[:4], uint32(len(payload)+1))
	header[4] = id
	if _, err := nc.Write(header[:]); err != nil {
		return fmt.Errorf("write header: %s", err)
	}
	if len(payload) > 0 {
		if _, err := nc.Write(payload); err != nil {
			return fmt.Errorf("write payload: %s", err)
		}
	}
	return nil
}

// sendKeepAlive writes a zero-length keep-alive frame.
func sendKeepAlive(nc net.Conn) error {
	var zero [4]byte
	_, err := nc.Write(zero[:])
	return err
}

func sendMessageWithTimeout(nc net.Conn, id byte, payload []byte, timeout time.Duration) error {
	if err := nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("set write deadline: %s", err)
	}
	return sendMessage(nc, id, payload)
}

// readFrame reads one length-prefixed frame off nc. A zero-length frame is a
// keep-alive and is reported via keepAlive=true with a nil message.
func readFrame(nc net.Conn) (msg *Message, keepAlive bool, err error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(nc, lenBuf[:]); err != nil {
		return nil, false, fmt.Errorf("read length prefix: %s", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, true, nil
	}
	if uint64(n) > maxMessageSize {
		return nil, false, fmt.Errorf("message exceeds max size: %d > %d", n, maxMessageSize)
	}
	var idBuf [1]byte
	if _, err := io.ReadFull(nc, idBuf[:]); err != nil {
		return nil, false, fmt.Errorf("read id: %s", err)
	}
	payload := make([]byte, n-1)
	if len(payload) > 0 {
		if _, err := io.ReadFull(nc, payload); err != nil {
			return nil, false, fmt.Errorf("read payload: %s", err)
		}
	}
	return &Message{ID: idBuf[0], Payload: payload}, false, nil
}

func readFrameWithTimeout(nc net.Conn, timeout time.Duration) (*Message, bool, error) {
	if err := nc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, false, fmt.Errorf("set read deadline: %s", err)
	}
	return readFrame(nc)
}

// NewRequestPayload encodes a block request: piece index, begin offset, and
// block length, each a 4-byte big-endian integer.
func NewRequestPayload(index, begin, length int) []byte {
	var p [12]byte
	binary.BigEndian.PutUint32(p[0:4], uint32(index))
	binary.BigEndian.PutUint32(p[4:8], uint32(begin))
	binary.BigEndian.PutUint32(p[8:12], uint32(length))
	return p[:]
}

// ParseRequestPayload decodes a request (or cancel) message payload.
func ParseRequestPayload(payload []byte) (index, begin, length int, err error) {
	if len(payload) != 12 {
		return 0, 0, 0, fmt.Errorf("request payload must be 12 bytes, got %d", len(payload))
	}
	index = int(binary.BigEndian.Uint32(payload[0:4]))
	begin = int(binary.BigEndian.Uint32(payload[4:8]))
	length = int(binary.BigEndian.Uint32(payload[8:12]))
	return index, begin, length, nil
}

// NewPiecePayload encodes a piece message's header (index, begin) followed
// by the block data.
func NewPiecePayload(index, begin int, block []byte) []byte {
	p := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(p[0:4], uint32(index))
	binary.BigEndian.PutUint32(p[4:8], uint32(begin))
	copy(p[8:], block)
	return p
}

// ParsePiecePayload decodes a piece message payload into its index, begin
// offset, and block data. The returned block aliases payload.
func ParsePiecePayload(payload []byte) (index, begin int, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("piece payload must be at least 8 bytes, got %d", len(payload))
	}
	index = int(binary.BigEndian.Uint32(payload[0:4]))
	begin = int(binary.BigEndian.Uint32(payload[4:8]))
	return index, begin, payload[8:], nil
}

// NewHavePayload encodes a have message's piece index.
func NewHavePayload(index int) []byte {
	var p [4]byte
	binary.BigEndian.PutUint32(p[:], uint32(index))
	return p[:]
}

// ParseHavePayload decodes a have message payload.
func ParseHavePayload(payload []byte) (int, error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("have payload must be 4 bytes, got %d", len(payload))
	}
	return int(binary.BigEndian.Uint32(payload)), nil
}

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
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/uber/kraken/core"
)

var noDeadline time.Time

// State models a Conn's position in the peer wire protocol's lifecycle.
// Unlike the teacher's multi-torrent Conn, one Conn here serves exactly one
// torrent for its entire lifetime, matching the one-shot CLI download model.
type State int

// Conn states, in the order a freshly dialed connection passes through them.
const (
	Handshaking State = iota
	AwaitingBitfield
	ReadyToExpress
	Choked
	Unchoked
	Closed
)

func (s State) String() string {
	switch s {
	case Handshaking:
		return "handshaking"
	case AwaitingBitfield:
		return "awaiting_bitfield"
	case ReadyToExpress:
		return "ready_to_express"
	case Choked:
		return "choked"
	case Unchoked:
		return "unchoked"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Events defines Conn lifecycle callbacks.
type Events interface {
	ConnClosed(*Conn)
}

// Conn manages framed peer wire communication for a single torrent over a
// single TCP connection. Reads and writes happen on dedicated goroutines;
// callers interact through Send and Receiver.
type Conn struct {
	peerID      core.PeerID
	localPeerID core.PeerID
	infoHash    core.InfoHash
	createdAt   time.Time

	nc     net.Conn
	config Config
	clk    clock.Clock
	stats  tally.Scope
	logger *zap.SugaredLogger
	events Events

	mu    sync.Mutex
	state State

	startOnce sync.Once
	sender    chan *Message
	receiver  chan *Message

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func newConn(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	events Events,
	nc net.Conn,
	localPeerID core.PeerID,
	remotePeerID core.PeerID,
	infoHash core.InfoHash,
	logger *zap.SugaredLogger) (*Conn, error) {

	if err := nc.SetDeadline(noDeadline); err != nil {
		return nil, fmt.Errorf("clear deadline: %s", err)
	}

	c := &Conn{
		peerID:      remotePeerID,
		localPeerID: localPeerID,
		infoHash:    infoHash,
		createdAt:   clk.Now(),
		nc:          nc,
		config:      config,
		clk:         clk,
		stats:       stats,
		logger:      logger,
		events:      events,
		state:       AwaitingBitfield,
		sender:      make(chan *Message, config.SenderBufferSize),
		receiver:    make(chan *Message, config.ReceiverBufferSize),
		closed:      atomic.NewBool(false),
		done:        make(chan struct{}),
	}
	return c, nil
}

// Start begins the read and write loops. Safe to call multiple times.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// PeerID returns the remote peer's id.
func (c *Conn) PeerID() core.PeerID {
	return c.peerID
}

// InfoHash returns the torrent this Conn is downloading.
func (c *Conn) InfoHash() core.InfoHash {
	return c.infoHash
}

// CreatedAt returns when the Conn was established.
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// State returns the Conn's current protocol state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s, hash=%s, state=%s)", c.peerID, c.infoHash, c.State())
}

// SendInterested announces interest in the remote peer's pieces and
// transitions to Choked, awaiting an unchoke.
func (c *Conn) SendInterested() error {
	c.setState(ReadyToExpress)
	if err := c.Send(&Message{ID: MsgInterested}); err != nil {
		return err
	}
	c.setState(Choked)
	return nil
}

// HandleMessage updates state in response to an incoming message's id. Piece
// downloaders layer their own request/response tracking on top of this.
func (c *Conn) HandleMessage(msg *Message) {
	switch msg.ID {
	case MsgUnchoke:
		c.setState(Unchoked)
	case MsgChoke:
		c.setState(Choked)
	}
}

// Send queues msg for writing to the underlying connection.
func (c *Conn) Send(msg *Message) error {
	select {
	case <-c.done:
		return errors.New("conn closed")
	case c.sender <- msg:
		return nil
	default:
		c.stats.Counter("dropped_messages").Inc(1)
		return errors.New("send buffer full")
	}
}

// Receiver returns the channel of incoming messages. Closed when the read
// loop exits.
func (c *Conn) Receiver() <-chan *Message {
	return c.receiver
}

// Close idempotently tears down the connection.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		c.setState(Closed)
		if c.events != nil {
			c.events.ConnClosed(c)
		}
	}()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

func (c *Conn) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		default:
			msg, keepAlive, err := readFrame(c.nc)
			if err != nil {
				c.log().Infof("Error reading frame, closing connection: %s", err)
				return
			}
			if keepAlive {
				continue
			}
			c.receiver <- msg
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sender:
			if err := sendMessage(c.nc, msg.ID, msg.Payload); err != nil {
				c.log().Infof("Error writing message, closing connection: %s", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", c.peerID, "hash", c.infoHash)
	return c.logger.With(keysAndValues...)
}

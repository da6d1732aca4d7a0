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
	"math"
	"time"

	"github.com/uber/kraken/utils/memsize"
	"github.com/uber/kraken/utils/timeutil"
)

// Config defines the configuration for the piece download scheduler.
type Config struct {

	// PieceRequestMinTimeout is the minimum timeout for all piece requests, regardless of
	// size.
	PieceRequestMinTimeout time.Duration `yaml:"piece_request_min_timeout"`

	// PieceRequestTimeoutPerMb is the duration that will be added to piece request
	// timeouts based on the piece size (in megabytes).
	PieceRequestTimeoutPerMb time.Duration `yaml:"piece_request_timeout_per_mb"`

	// BlockSize is the size of a single block within a piece requested over the
	// wire. Real BitTorrent clients agree on 16 KiB; peers are free to reject
	// larger requests.
	BlockSize int64 `yaml:"block_size"`

	// MaxAttemptsPerPiece bounds how many failed attempts at a piece (a hash
	// mismatch or a mid-transfer failure, on any peer) the download tolerates
	// before it gives up on the piece entirely. Retries are not steered to a
	// different peer: after a hash mismatch the same peer may reserve the same
	// piece again, and each such attempt counts.
	MaxAttemptsPerPiece int `yaml:"max_attempts_per_piece"`

	// HandshakeTimeout bounds how long the initial handshake exchange may take
	// per peer.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

func (c Config) applyDefaults() Config {
	if c.PieceRequestMinTimeout == 0 {
		c.PieceRequestMinTimeout = 4 * time.Second
	}
	if c.PieceRequestTimeoutPerMb == 0 {
		c.PieceRequestTimeoutPerMb = 4 * time.Second
	}
	if c.BlockSize == 0 {
		c.BlockSize = 16 * memsize.KB
	}
	if c.MaxAttemptsPerPiece == 0 {
		c.MaxAttemptsPerPiece = 5
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	return c
}

func (c Config) calcPieceRequestTimeout(pieceLength int64) time.Duration {
	n := float64(c.PieceRequestTimeoutPerMb) * float64(pieceLength) / float64(memsize.MB)
	d := time.Duration(math.Ceil(n))
	return timeutil.MaxDuration(d, c.PieceRequestMinTimeout)
}

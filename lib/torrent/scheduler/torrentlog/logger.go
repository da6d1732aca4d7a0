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
package torrentlog

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/uber/kraken/core"
	"github.com/uber/kraken/utils/log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	errEmptyReceivedPieces    = errors.New("empty received piece counts")
	errNegativeReceivedPieces = errors.New("negative value in received piece counts")
)

// Logger wraps structured log entries for important torrent events. These
// events are intended to be consumed by a log aggregator, distinct from the
// verbose stdout logs emitted as a download runs.
type Logger struct {
	zap *zap.Logger
}

// New creates a new Logger.
func New(config log.Config, peerID core.PeerID) (*Logger, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %s", err)
	}

	logger, err := log.New(config, map[string]interface{}{
		"hostname": hostname,
		"peer_id":  peerID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("config: %s", err)
	}
	return &Logger{logger}, nil
}

// NewNopLogger returns a Logger containing a no-op zap logger for testing purposes.
func NewNopLogger() *Logger {
	return &Logger{zap.NewNop()}
}

// OutgoingConnectionAccept logs an accepted outgoing connection.
func (l *Logger) OutgoingConnectionAccept(infoHash core.InfoHash, remotePeerID core.PeerID) {
	l.zap.Debug(
		"Outgoing connection accept",
		zap.String("info_hash", infoHash.String()),
		zap.String("remote_peer_id", remotePeerID.String()))
}

// OutgoingConnectionReject logs a rejected outgoing connection.
func (l *Logger) OutgoingConnectionReject(infoHash core.InfoHash, remotePeerID core.PeerID, err error) {
	l.zap.Debug(
		"Outgoing connection reject",
		zap.String("info_hash", infoHash.String()),
		zap.String("remote_peer_id", remotePeerID.String()),
		zap.Error(err))
}

// IncomingConnectionAccept logs an accepted incoming connection.
func (l *Logger) IncomingConnectionAccept(infoHash core.InfoHash, remotePeerID core.PeerID) {
	l.zap.Debug(
		"Incoming connection accept",
		zap.String("info_hash", infoHash.String()),
		zap.String("remote_peer_id", remotePeerID.String()))
}

// IncomingConnectionReject logs a rejected incoming connection.
func (l *Logger) IncomingConnectionReject(infoHash core.InfoHash, remotePeerID core.PeerID, err error) {
	l.zap.Debug(
		"Incoming connection reject",
		zap.String("info_hash", infoHash.String()),
		zap.String("remote_peer_id", remotePeerID.String()),
		zap.Error(err))
}

// DownloadSuccess logs a successful download.
func (l *Logger) DownloadSuccess(infoHash core.InfoHash, size int64, downloadTime time.Duration) {
	l.zap.Info(
		"Download success",
		zap.String("info_hash", infoHash.String()),
		zap.Int64("size", size),
		zap.Duration("download_time", downloadTime))
}

// DownloadFailure logs a failed download.
func (l *Logger) DownloadFailure(infoHash core.InfoHash, size int64, err error) {
	l.zap.Error(
		"Download failure",
		zap.String("info_hash", infoHash.String()),
		zap.Int64("size", size),
		zap.Error(err))
}

// PeerSummaries logs a summary of the pieces requested from and received from
// each peer that participated in a download.
func (l *Logger) PeerSummaries(infoHash core.InfoHash, summaries PeerSummaries) {
	l.zap.Info(
		"Peer summaries",
		zap.String("info_hash", infoHash.String()),
		zap.Array("peer_summaries", summaries))
}

// Sync flushes the log.
func (l *Logger) Sync() {
	l.zap.Sync()
}

// PeerSummary contains information about piece requests to and pieces
// received from a single remote peer over the lifetime of a download.
type PeerSummary struct {
	PeerID                  core.PeerID
	RequestsSent            int
	GoodPiecesReceived      int
	DuplicatePiecesReceived int
	InvalidPiecesReceived   int
}

// MarshalLogObject marshals a PeerSummary for logging.
func (s PeerSummary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("peer_id", s.PeerID.String())
	enc.AddInt("requests_sent", s.RequestsSent)
	enc.AddInt("good_pieces_received", s.GoodPiecesReceived)
	enc.AddInt("duplicate_pieces_received", s.DuplicatePiecesReceived)
	enc.AddInt("invalid_pieces_received", s.InvalidPiecesReceived)
	return nil
}

// PeerSummaries is a slice of PeerSummary that can be marshalled for logging.
type PeerSummaries []PeerSummary

// MarshalLogArray marshals a PeerSummaries slice for logging.
func (ss PeerSummaries) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, summary := range ss {
		enc.AppendObject(summary)
	}
	return nil
}

// receivedPiecesSummary captures basic statistics over the number of pieces
// received per peer, for inclusion in periodic log summaries.
type receivedPiecesSummary struct {
	NumZero int
	Min     int
	Max     int
	Mean    float64
	Stdev   float64
}

func newReceivedPiecesSummary(counts []int) (*receivedPiecesSummary, error) {
	if len(counts) == 0 {
		return nil, errEmptyReceivedPieces
	}

	numZero := 0
	min := counts[0]
	max := counts[0]
	sum := 0
	for _, c := range counts {
		if c < 0 {
			return nil, errNegativeReceivedPieces
		}
		if c == 0 {
			numZero++
		}
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
		sum += c
	}
	mean := float64(sum) / float64(len(counts))

	var variance float64
	if len(counts) > 1 {
		var sumSquares float64
		for _, c := range counts {
			d := float64(c) - mean
			sumSquares += d * d
		}
		variance = sumSquares / float64(len(counts)-1)
	}

	return &receivedPiecesSummary{
		NumZero: numZero,
		Min:     min,
		Max:     max,
		Mean:    mean,
		Stdev:   math.Sqrt(variance),
	}, nil
}

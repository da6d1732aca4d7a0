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
package core

import (
	"fmt"

	"github.com/uber/kraken/bencode"
)

// MetainfoError indicates that a decoded value tree does not describe a
// well-formed torrent: a required field is absent, or present with the
// wrong bencode type.
type MetainfoError struct {
	Field string
	Cause error
}

func (e *MetainfoError) Error() string {
	return fmt.Sprintf("metainfo: field %q: %s", e.Field, e.Cause)
}

func (e *MetainfoError) Unwrap() error {
	return e.Cause
}

// MetaInfo is a typed view over a decoded single-file torrent. It exposes
// the fields needed to announce to a tracker and to drive a piece-by-piece
// download, and carries the info hash derived from the info dictionary's
// captured raw byte span.
type MetaInfo struct {
	announce    string
	name        string
	length      int64
	pieceLength int64
	pieces      []byte
	infoHash    InfoHash
}

// NewMetaInfo constructs a MetaInfo from an already-decoded top-level
// dictionary, such as the output of bencode.DecodeDict on a .torrent file's
// contents. The info hash is computed by hashing the raw byte span captured
// for the "info" sub-dictionary during decode, not by re-encoding the typed
// fields -- this sidesteps any canonicalization mismatch entirely.
func NewMetaInfo(d *bencode.Dict) (*MetaInfo, error) {
	announce, err := d.GetString("announce")
	if err != nil {
		return nil, &MetainfoError{"announce", err}
	}
	info, err := d.GetDict("info")
	if err != nil {
		return nil, &MetainfoError{"info", err}
	}
	name, err := info.GetString("name")
	if err != nil {
		return nil, &MetainfoError{"info.name", err}
	}
	length, err := info.GetInt("length")
	if err != nil {
		return nil, &MetainfoError{"info.length", err}
	}
	if length < 0 {
		return nil, &MetainfoError{"info.length", fmt.Errorf("must be non-negative, got %d", length)}
	}
	pieceLength, err := info.GetInt("piece length")
	if err != nil {
		return nil, &MetainfoError{"info.piece length", err}
	}
	if pieceLength <= 0 {
		return nil, &MetainfoError{"info.piece length", fmt.Errorf("must be positive, got %d", pieceLength)}
	}
	pieces, err := info.GetBytes("pieces")
	if err != nil {
		return nil, &MetainfoError{"info.pieces", err}
	}
	if len(pieces)%20 != 0 {
		return nil, &MetainfoError{"info.pieces", fmt.Errorf("length %d is not a multiple of 20", len(pieces))}
	}
	wantPieces := numPieces(length, pieceLength)
	if len(pieces) != 20*wantPieces {
		return nil, &MetainfoError{"info.pieces", fmt.Errorf(
			"expected %d bytes for %d pieces of a %d-byte file, got %d", 20*wantPieces, wantPieces, length, len(pieces))}
	}
	if len(info.Raw) == 0 {
		return nil, &MetainfoError{"info", fmt.Errorf("missing captured raw byte span")}
	}

	return &MetaInfo{
		announce:    announce,
		name:        name,
		length:      length,
		pieceLength: pieceLength,
		pieces:      pieces,
		infoHash:    NewInfoHashFromBytes(info.Raw),
	}, nil
}

// DecodeMetaInfo decodes raw torrent file bytes and lifts them into a
// MetaInfo in one step.
func DecodeMetaInfo(raw []byte) (*MetaInfo, error) {
	d, err := bencode.DecodeDict(raw)
	if err != nil {
		return nil, fmt.Errorf("decode torrent: %s", err)
	}
	return NewMetaInfo(d)
}

// Announce returns the tracker announce URL.
func (mi *MetaInfo) Announce() string {
	return mi.announce
}

// Name returns the suggested file name.
func (mi *MetaInfo) Name() string {
	return mi.name
}

// Length returns the total length of the file in bytes.
func (mi *MetaInfo) Length() int64 {
	return mi.length
}

// PieceLength returns the nominal length of each piece. The final piece may
// be shorter -- use GetPieceLength for the true length of a given piece.
func (mi *MetaInfo) PieceLength() int64 {
	return mi.pieceLength
}

// NumPieces returns the number of pieces the file is split into.
func (mi *MetaInfo) NumPieces() int {
	return len(mi.pieces) / 20
}

// GetPieceLength returns the length of piece i, accounting for the final,
// possibly-short piece.
func (mi *MetaInfo) GetPieceLength(i int) int64 {
	n := mi.NumPieces()
	if i < 0 || i >= n {
		return 0
	}
	if i == n-1 {
		return mi.length - mi.pieceLength*int64(i)
	}
	return mi.pieceLength
}

// GetPieceHash returns the expected SHA-1 hash of piece i. Does not check
// bounds.
func (mi *MetaInfo) GetPieceHash(i int) [20]byte {
	var h [20]byte
	copy(h[:], mi.pieces[i*20:(i+1)*20])
	return h
}

// InfoHash returns the torrent's info hash.
func (mi *MetaInfo) InfoHash() InfoHash {
	return mi.infoHash
}

// numPieces computes ceil(length / pieceLength).
func numPieces(length, pieceLength int64) int {
	if pieceLength <= 0 {
		return 0
	}
	return int((length + pieceLength - 1) / pieceLength)
}

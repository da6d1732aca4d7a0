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

// Package bencode implements a decoder and canonical encoder for the
// BitTorrent wire serialization format: signed integers, raw byte strings,
// ordered lists, and byte-string-keyed dictionaries.
package bencode

import (
	"encoding/hex"
	"fmt"
	"sort"
	"unicode/utf8"
)

// Value is the decoded form of one bencoded token. Exactly one of the
// underlying types below is produced by Decode:
//
//	int64        -- "i<digits>e"
//	[]byte       -- "<len>:<bytes>"
//	[]Value      -- "l<values>e"
//	*Dict        -- "d<key/value pairs>e"
type Value interface{}

// Dict is a byte-string-keyed dictionary. It preserves the key order seen on
// decode (useful for debugging and for re-emitting non-canonical input
// byte-for-byte), but Encode always emits keys in ascending byte-lexicographic
// order, as the wire format requires for info-hash determinism.
type Dict struct {
	keys   []string
	values map[string]Value

	// Raw holds the exact bencoded bytes of this dictionary, from the
	// opening 'd' to the closing 'e' inclusive, as they appeared in the
	// input the decoder was given. Hashing Raw directly -- rather than
	// structurally re-encoding the decoded fields -- is what keeps the
	// info-hash computation byte-exact for any canonically-encoded input.
	Raw []byte
}

// NewDict creates an empty Dict.
func NewDict() *Dict {
	return &Dict{values: make(map[string]Value)}
}

// Set inserts or overwrites key. Insertion order is preserved for new keys.
func (d *Dict) Set(key string, v Value) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

// Get returns the value for key, and whether it was present.
func (d *Dict) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Keys returns the dictionary's keys in decode (insertion) order.
func (d *Dict) Keys() []string {
	return append([]string(nil), d.keys...)
}

// SortedKeys returns the dictionary's keys in ascending byte-lexicographic
// order, the order the wire format mandates on encode.
func (d *Dict) SortedKeys() []string {
	keys := d.Keys()
	sort.Strings(keys)
	return keys
}

// Len returns the number of entries in d.
func (d *Dict) Len() int {
	return len(d.keys)
}

// GetString returns the ByteString value for key, requiring that it decode
// as valid UTF-8 (torrent metadata fields like "name" and "announce" are
// always text; "pieces" is binary and must be read with GetBytes instead).
func (d *Dict) GetString(key string) (string, error) {
	v, ok := d.values[key]
	if !ok {
		return "", fmt.Errorf("missing key %q", key)
	}
	b, ok := v.([]byte)
	if !ok {
		return "", fmt.Errorf("key %q: expected byte string, got %T", key, v)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("key %q: byte string is not valid UTF-8", key)
	}
	return string(b), nil
}

// GetBytes returns the raw ByteString value for key.
func (d *Dict) GetBytes(key string) ([]byte, error) {
	v, ok := d.values[key]
	if !ok {
		return nil, fmt.Errorf("missing key %q", key)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("key %q: expected byte string, got %T", key, v)
	}
	return b, nil
}

// GetInt returns the Integer value for key.
func (d *Dict) GetInt(key string) (int64, error) {
	v, ok := d.values[key]
	if !ok {
		return 0, fmt.Errorf("missing key %q", key)
	}
	i, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("key %q: expected integer, got %T", key, v)
	}
	return i, nil
}

// GetDict returns the Dictionary value for key.
func (d *Dict) GetDict(key string) (*Dict, error) {
	v, ok := d.values[key]
	if !ok {
		return nil, fmt.Errorf("missing key %q", key)
	}
	sub, ok := v.(*Dict)
	if !ok {
		return nil, fmt.Errorf("key %q: expected dictionary, got %T", key, v)
	}
	return sub, nil
}

// ToDisplay renders v as JSON-like text for the "decode" CLI command. Byte
// strings that are not valid UTF-8 are rendered as lowercase hex, matching
// the external CLI contract.
func ToDisplay(v Value) string {
	switch t := v.(type) {
	case int64:
		return fmt.Sprintf("%d", t)
	case []byte:
		if isPrintableUTF8(t) {
			return fmt.Sprintf("%q", string(t))
		}
		return fmt.Sprintf("%q", hex.EncodeToString(t))
	case []Value:
		out := "["
		for i, e := range t {
			if i > 0 {
				out += ","
			}
			out += ToDisplay(e)
		}
		return out + "]"
	case *Dict:
		out := "{"
		keys := t.SortedKeys()
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			val, _ := t.Get(k)
			out += fmt.Sprintf("%q:%s", k, ToDisplay(val))
		}
		return out + "}"
	default:
		return "null"
	}
}

func isPrintableUTF8(b []byte) bool {
	for _, r := range string(b) {
		if r == 0xFFFD {
			return false
		}
	}
	return len(b) == len([]byte(string(b)))
}

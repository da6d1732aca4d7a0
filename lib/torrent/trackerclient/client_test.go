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
package trackerclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/uber/kraken/bencode"
	"github.com/uber/kraken/core"
)

func testConfig() Config {
	return Config{
		Timeout:        time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		MaxElapsedTime: time.Second,
	}.applyDefaults()
}

func buildAnnounceMetaInfo(t *testing.T, announce string) *core.MetaInfo {
	t.Helper()

	info := bencode.NewDict()
	info.Set("length", int64(100))
	info.Set("name", []byte("x.bin"))
	info.Set("piece length", int64(100))
	info.Set("pieces", make([]byte, 20))

	top := bencode.NewDict()
	top.Set("announce", []byte(announce))
	top.Set("info", info)

	mi, err := core.NewMetaInfo(top)
	require.NoError(t, err)
	return mi
}

func TestClientAnnounceParsesCompactPeers(t *testing.T) {
	require := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := bencode.NewDict()
		// 127.0.0.1:6882 and 10.0.0.1:6883, packed as raw 6-byte windows.
		d.Set("peers", []byte{127, 0, 0, 1, 0x1A, 0xE2, 10, 0, 0, 1, 0x1A, 0xE3})
		w.Write(bencode.Encode(d))
	}))
	defer server.Close()

	mi := buildAnnounceMetaInfo(t, server.URL)
	peerID, err := core.NewPeerIDFromBytes([]byte("00112233445566778899"))
	require.NoError(err)

	c := New(testConfig())
	peers, err := c.Announce(mi, peerID, mi.Length())
	require.NoError(err)
	require.Equal([]string{"127.0.0.1:6882", "10.0.0.1:6883"}, peers)
}

func TestClientAnnounceEmptyPeerListIsAnError(t *testing.T) {
	require := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := bencode.NewDict()
		d.Set("peers", []byte{})
		w.Write(bencode.Encode(d))
	}))
	defer server.Close()

	mi := buildAnnounceMetaInfo(t, server.URL)
	peerID, err := core.NewPeerIDFromBytes([]byte("00112233445566778899"))
	require.NoError(err)

	c := New(testConfig())
	_, err = c.Announce(mi, peerID, mi.Length())
	require.Error(err)
}

func TestClientAnnounceRetriesOnFailure(t *testing.T) {
	require := require.New(t)

	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		d := bencode.NewDict()
		d.Set("peers", []byte{127, 0, 0, 1, 0x1A, 0xE2})
		w.Write(bencode.Encode(d))
	}))
	defer server.Close()

	mi := buildAnnounceMetaInfo(t, server.URL)
	peerID, err := core.NewPeerIDFromBytes([]byte("00112233445566778899"))
	require.NoError(err)

	c := New(testConfig())
	peers, err := c.Announce(mi, peerID, mi.Length())
	require.NoError(err)
	require.Equal([]string{"127.0.0.1:6882"}, peers)
	require.Equal(3, attempts)
}

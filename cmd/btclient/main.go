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

// Command btclient is a minimal BitTorrent client: it can decode bencoded
// values, inspect a torrent's metainfo, announce to a tracker, perform the
// peer handshake, and download a torrent's payload one piece or in full.
package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/alecthomas/kingpin"
	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"

	"github.com/uber/kraken/bencode"
	"github.com/uber/kraken/core"
	"github.com/uber/kraken/lib/torrent/scheduler/conn"
	"github.com/uber/kraken/lib/torrent/scheduler/dispatch"
	"github.com/uber/kraken/lib/torrent/trackerclient"
	"github.com/uber/kraken/utils/configutil"
	"github.com/uber/kraken/utils/log"
)

var (
	app        = kingpin.New("btclient", "A minimal BitTorrent client")
	configFile = app.Flag("config", "configuration file path").String()

	decodeCmd  = app.Command("decode", "Decode a bencoded string and print its value")
	decodeArg  = decodeCmd.Arg("value", "bencoded string").Required().String()

	infoCmd  = app.Command("info", "Print a torrent's tracker URL, length, and piece hashes")
	infoPath = infoCmd.Arg("torrent", "path to a .torrent file").Required().String()

	peersCmd  = app.Command("peers", "Announce to the tracker and print the peer list")
	peersPath = peersCmd.Arg("torrent", "path to a .torrent file").Required().String()

	handshakeCmd  = app.Command("handshake", "Perform the peer handshake and print the remote peer id")
	handshakePath = handshakeCmd.Arg("torrent", "path to a .torrent file").Required().String()
	handshakeAddr = handshakeCmd.Arg("peer", "peer address, host:port").Required().String()

	downloadPieceCmd   = app.Command("download_piece", "Download a single piece from a peer")
	downloadPiecePath  = downloadPieceCmd.Arg("torrent", "path to a .torrent file").Required().String()
	downloadPieceIndex = downloadPieceCmd.Arg("index", "zero-based piece index").Required().Int()
	downloadPieceOut   = downloadPieceCmd.Flag("out", "output file path").Short('o').Required().String()

	downloadCmd  = app.Command("download", "Download the full torrent payload")
	downloadPath = downloadCmd.Arg("torrent", "path to a .torrent file").Required().String()
	downloadOut  = downloadCmd.Flag("out", "output file path").Short('o').Required().String()
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	var config Config
	if *configFile != "" {
		if err := configutil.Load(*configFile, &config); err != nil {
			kingpin.Fatalf("load config: %s", err)
		}
	}
	if err := log.Configure(config.ZapLogging); err != nil {
		kingpin.Fatalf("configure logging: %s", err)
	}

	var err error
	switch cmd {
	case decodeCmd.FullCommand():
		err = runDecode(*decodeArg)
	case infoCmd.FullCommand():
		err = runInfo(*infoPath)
	case peersCmd.FullCommand():
		err = runPeers(config, *peersPath)
	case handshakeCmd.FullCommand():
		err = runHandshake(config, *handshakePath, *handshakeAddr)
	case downloadPieceCmd.FullCommand():
		err = runDownloadPiece(config, *downloadPiecePath, *downloadPieceIndex, *downloadPieceOut)
	case downloadCmd.FullCommand():
		err = runDownload(config, *downloadPath, *downloadOut)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDecode(raw string) error {
	v, n, err := bencode.Decode([]byte(raw))
	if err != nil {
		return fmt.Errorf("decode: %s", err)
	}
	if n != len(raw) {
		return fmt.Errorf("decode: %d trailing bytes were not consumed", len(raw)-n)
	}
	fmt.Println(bencode.ToDisplay(v))
	return nil
}

func loadMetaInfo(path string) (*core.MetaInfo, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %s", path, err)
	}
	mi, err := core.DecodeMetaInfo(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %s", path, err)
	}
	return mi, nil
}

func runInfo(path string) error {
	mi, err := loadMetaInfo(path)
	if err != nil {
		return err
	}
	fmt.Printf("Tracker URL: %s\n", mi.Announce())
	fmt.Printf("Length: %d\n", mi.Length())
	fmt.Printf("Info Hash: %s\n", mi.InfoHash().Hex())
	fmt.Printf("Piece Length: %d\n", mi.PieceLength())
	fmt.Println("Piece Hashes:")
	for i := 0; i < mi.NumPieces(); i++ {
		h := mi.GetPieceHash(i)
		fmt.Printf("%x\n", h[:])
	}
	return nil
}

func localPeerID(config Config) (core.PeerID, error) {
	return config.PeerIDFactory.GeneratePeerID("", 0)
}

func announce(config Config, mi *core.MetaInfo) ([]string, error) {
	peerID, err := localPeerID(config)
	if err != nil {
		return nil, fmt.Errorf("generate peer id: %s", err)
	}
	tc := trackerclient.New(config.Tracker)
	return tc.Announce(mi, peerID, mi.Length())
}

func runPeers(config Config, path string) error {
	mi, err := loadMetaInfo(path)
	if err != nil {
		return err
	}
	peers, err := announce(config, mi)
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Println(p)
	}
	return nil
}

func runHandshake(config Config, path, addr string) error {
	mi, err := loadMetaInfo(path)
	if err != nil {
		return err
	}
	peerID, err := localPeerID(config)
	if err != nil {
		return fmt.Errorf("generate peer id: %s", err)
	}
	h := conn.NewHandshaker(
		conn.Config{}, tally.NoopScope, clock.New(), peerID, noopEvents{}, log.Default())
	c, err := h.Dial(addr, mi.InfoHash())
	if err != nil {
		return fmt.Errorf("handshake: %s", err)
	}
	defer c.Close()
	fmt.Printf("Peer ID: %s\n", c.PeerID().String())
	return nil
}

type noopEvents struct{}

func (noopEvents) ConnClosed(*conn.Conn) {}

func newScheduler(config Config, mi *core.MetaInfo) (*dispatch.Scheduler, error) {
	peerID, err := localPeerID(config)
	if err != nil {
		return nil, fmt.Errorf("generate peer id: %s", err)
	}
	return dispatch.New(
		config.Scheduler, mi, peerID, tally.NoopScope, clock.New(), log.Default()), nil
}

func runDownloadPiece(config Config, path string, index int, out string) error {
	mi, err := loadMetaInfo(path)
	if err != nil {
		return err
	}
	peers, err := announce(config, mi)
	if err != nil {
		return err
	}
	s, err := newScheduler(config, mi)
	if err != nil {
		return err
	}
	data, err := s.DownloadPiece(peers[0], index)
	if err != nil {
		return fmt.Errorf("download piece %d: %s", index, err)
	}
	if err := ioutil.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("write %s: %s", out, err)
	}
	return nil
}

func runDownload(config Config, path, out string) error {
	mi, err := loadMetaInfo(path)
	if err != nil {
		return err
	}
	peers, err := announce(config, mi)
	if err != nil {
		return err
	}
	s, err := newScheduler(config, mi)
	if err != nil {
		return err
	}
	data, err := s.Download(peers)
	if err != nil {
		return fmt.Errorf("download: %s", err)
	}
	if err := ioutil.WriteFile(out, data, 0644); err != nil {
		return fmt.Errorf("write %s: %s", out, err)
	}
	return nil
}

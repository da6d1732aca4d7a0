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

// Package trackerclient announces a torrent to its tracker and parses the
// compact peer list out of the response.
package trackerclient

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/uber/kraken/bencode"
	"github.com/uber/kraken/core"
)

// TrackerError indicates the tracker request failed outright, or the
// response body could not be parsed as a compact announce reply.
type TrackerError struct {
	Cause error
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("tracker: %s", e.Cause)
}

func (e *TrackerError) Unwrap() error {
	return e.Cause
}

// Config defines retry behavior for announce requests.
type Config struct {
	Timeout        time.Duration `yaml:"timeout"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxElapsedTime time.Duration `yaml:"max_elapsed_time"`
	Port           int           `yaml:"port"`
}

func (c Config) applyDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.MaxElapsedTime == 0 {
		c.MaxElapsedTime = 30 * time.Second
	}
	if c.Port == 0 {
		c.Port = 6881
	}
	return c
}

// Client announces a torrent to its tracker.
type Client struct {
	config Config
	http   *http.Client
}

// New creates a new Client.
func New(config Config) *Client {
	config = config.applyDefaults()
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// Announce queries mi's tracker for the set of peers currently serving it,
// retrying transient failures with exponential backoff. left is the number
// of bytes still needed, matching the tracker announce protocol's "left"
// parameter -- pass mi.Length() for a fresh download.
func (c *Client) Announce(mi *core.MetaInfo, peerID core.PeerID, left int64) ([]string, error) {
	url := fmt.Sprintf(
		"%s?info_hash=%s&peer_id=%s&port=%d&uploaded=0&downloaded=0&left=%d&compact=1",
		mi.Announce(), mi.InfoHash().URLEncode(), peerID.URLEncode(), c.config.Port, left)

	var peers []string
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.config.InitialBackoff,
		RandomizationFactor: 0.05,
		Multiplier:          1.3,
		MaxInterval:         c.config.MaxBackoff,
		MaxElapsedTime:      c.config.MaxElapsedTime,
		Clock:               backoff.SystemClock,
	}
	err := backoff.Retry(func() error {
		body, err := c.get(url)
		if err != nil {
			return err
		}
		peers, err = parseAnnounceResponse(body)
		return err
	}, b)
	if err != nil {
		return nil, &TrackerError{err}
	}
	if len(peers) == 0 {
		return nil, &TrackerError{fmt.Errorf("tracker returned no peers")}
	}
	return peers, nil
}

func (c *Client) get(url string) ([]byte, error) {
	resp, err := c.http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return ioutil.ReadAll(resp.Body)
}

// parseAnnounceResponse decodes a bencoded tracker response and chunks its
// compact "peers" byte string directly: each 6-byte window is a raw
// [4-byte IPv4][2-byte port] pair, never hex-decoded first.
func parseAnnounceResponse(body []byte) ([]string, error) {
	d, err := bencode.DecodeDict(body)
	if err != nil {
		return nil, fmt.Errorf("decode response: %s", err)
	}
	if reason, err := d.GetString("failure reason"); err == nil {
		return nil, fmt.Errorf("tracker failure: %s", reason)
	}
	compact, err := d.GetBytes("peers")
	if err != nil {
		return nil, fmt.Errorf("field \"peers\": %s", err)
	}
	if len(compact)%6 != 0 {
		return nil, fmt.Errorf("field \"peers\": length %d is not a multiple of 6", len(compact))
	}
	peers := make([]string, 0, len(compact)/6)
	for i := 0; i < len(compact); i += 6 {
		ip := compact[i : i+4]
		port := uint16(compact[i+4])<<8 | uint16(compact[i+5])
		peers = append(peers, fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], port))
	}
	return peers, nil
}

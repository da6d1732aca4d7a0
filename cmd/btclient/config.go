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
package main

import (
	"github.com/uber/kraken/core"
	"github.com/uber/kraken/lib/torrent/scheduler/dispatch"
	"github.com/uber/kraken/lib/torrent/trackerclient"
	"github.com/uber/kraken/utils/log"
)

// Config defines the top-level configuration for the btclient binary. All
// sections are optional: zero values fall back to the defaults each
// subpackage already applies.
type Config struct {
	ZapLogging    log.Config           `yaml:"zap_logging"`
	PeerIDFactory core.PeerIDFactory   `yaml:"peer_id_factory"`
	Scheduler     dispatch.Config      `yaml:"scheduler"`
	Tracker       trackerclient.Config `yaml:"tracker"`
}

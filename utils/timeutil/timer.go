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
package timeutil

import (
	"sync"
	"time"
)

// Timer wraps a time.Timer with idempotent Start/Cancel semantics, so callers
// do not need to track whether the timer is already running.
type Timer struct {
	d time.Duration
	C <-chan time.Time

	c chan time.Time

	mu      sync.Mutex
	running bool
	t       *time.Timer
}

// NewTimer creates a new Timer which fires after d once started.
func NewTimer(d time.Duration) *Timer {
	c := make(chan time.Time, 1)
	return &Timer{d: d, C: c, c: c}
}

// Start starts the timer if it is not already running. Returns whether the
// timer was started by this call.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return false
	}
	t.running = true
	t.t = time.AfterFunc(t.d, func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
		select {
		case t.c <- time.Now():
		default:
		}
	})
	return true
}

// Cancel stops the timer if it is running. Returns whether the timer was
// stopped by this call.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return false
	}
	t.running = false
	return t.t.Stop()
}

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
	"sync"

	"github.com/willf/bitset"
)

// syncBitfield is a thread-safe bitset tracking which pieces of a download
// are still needed. Every peer goroutine reads a snapshot via Copy to pick
// its next candidate piece; the scheduler clears a bit once that piece is
// verified and assembled into the payload.
type syncBitfield struct {
	sync.RWMutex
	b *bitset.BitSet
}

func newSyncBitfield(b *bitset.BitSet) *syncBitfield {
	return &syncBitfield{
		b: b.Clone(),
	}
}

// Copy returns a snapshot of the current bitset. The caller may read or
// mutate the result freely without affecting s or racing with concurrent
// calls to Set.
func (s *syncBitfield) Copy() *bitset.BitSet {
	s.RLock()
	defer s.RUnlock()

	b := &bitset.BitSet{}
	s.b.Copy(b)
	return b
}

// Set sets bit i to v.
func (s *syncBitfield) Set(i uint, v bool) {
	s.Lock()
	defer s.Unlock()

	s.b.SetTo(i, v)
}

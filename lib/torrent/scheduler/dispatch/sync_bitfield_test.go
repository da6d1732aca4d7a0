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
	"testing"

	"github.com/uber/kraken/utils/bitsetutil"

	"github.com/stretchr/testify/require"
)

func TestSyncBitfieldCopyReflectsClearedPieces(t *testing.T) {
	require := require.New(t)

	b := newSyncBitfield(bitsetutil.FromBools(true, true, true))
	require.False(b.Copy().None())

	b.Set(0, false)
	b.Set(1, false)
	require.False(b.Copy().None())

	b.Set(2, false)
	require.True(b.Copy().None())
}

func TestSyncBitfieldCopyIsIndependentSnapshot(t *testing.T) {
	require := require.New(t)

	b := newSyncBitfield(bitsetutil.FromBools(true, true))
	snapshot := b.Copy()

	b.Set(0, false)

	// Mutating b after Copy must not retroactively change the snapshot.
	require.True(snapshot.Test(0))
	require.False(b.Copy().Test(0))
}

func TestSyncBitfieldDuplicateSetIsIdempotent(t *testing.T) {
	require := require.New(t)

	b := newSyncBitfield(bitsetutil.FromBools(true, true))

	b.Set(0, false)
	b.Set(0, false)
	require.False(b.Copy().Test(0))
	require.True(b.Copy().Test(1))

	b.Set(0, true)
	require.True(b.Copy().Test(0))
}

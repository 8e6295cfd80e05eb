// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package chunkstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repocache/pkg/cacheclient"
)

func newTestStore(t *testing.T, opts ...Option) (*Store, *cacheclient.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	cc, err := cacheclient.NewForTest(cacheclient.Config{URL: fmt.Sprintf("redis://%s/0", mr.Addr())}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	store, err := New(cc, opts...)
	require.NoError(t, err)
	return store, cc
}

func TestShouldChunk(t *testing.T) {
	store, _ := newTestStore(t, WithChunkSize(10))
	require.False(t, store.ShouldChunk(bytes.Repeat([]byte("a"), 10)))
	require.True(t, store.ShouldChunk(bytes.Repeat([]byte("a"), 11)))
}

func TestStoreAndReconstructRoundTrip(t *testing.T) {
	store, _ := newTestStore(t, WithChunkSize(16))
	ctx := context.Background()

	data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 5))
	require.NoError(t, store.Store(ctx, "acme/widgets", DataTypeContent, data))

	got, ok, err := store.Reconstruct(ctx, "acme/widgets", DataTypeContent)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, data, got)
}

func TestReconstructMissingReturnsMiss(t *testing.T) {
	store, _ := newTestStore(t)
	got, ok, err := store.Reconstruct(context.Background(), "no/such", DataTypeContent)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestReconstructDetectsChunkCorruption(t *testing.T) {
	store, cc := newTestStore(t, WithChunkSize(8), WithCompression(false))
	ctx := context.Background()

	data := []byte("0123456789abcdef0123")
	require.NoError(t, store.Store(ctx, "acme/widgets", DataTypeTree, data))

	// Corrupt the first chunk's stored bytes directly.
	require.NoError(t, cc.Set(ctx, "repo:acme/widgets:tree:chunk:0", "XXXXXXXX", 0))

	got, ok, err := store.Reconstruct(ctx, "acme/widgets", DataTypeTree)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, got)
}

func TestCleanupRemovesAllChunkKeys(t *testing.T) {
	store, cc := newTestStore(t, WithChunkSize(4))
	ctx := context.Background()

	data := []byte("0123456789abcdef")
	require.NoError(t, store.Store(ctx, "acme/widgets", DataTypeSummary, data))

	require.NoError(t, store.Cleanup(ctx, "acme/widgets", DataTypeSummary))

	n, err := cc.Exists(ctx, "repo:acme/widgets:summary:chunk_metadata", "repo:acme/widgets:summary:chunk:0")
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

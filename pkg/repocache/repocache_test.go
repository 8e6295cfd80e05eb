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

package repocache

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repocache/pkg/cacheclient"
	"github.com/kraklabs/repocache/pkg/chunkstore"
)

func newTestRepoCache(t *testing.T) *RepoCache {
	t.Helper()
	mr := miniredis.RunT(t)
	cc, err := cacheclient.NewForTest(cacheclient.Config{URL: fmt.Sprintf("redis://%s/0", mr.Addr())}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })

	cs, err := chunkstore.New(cc, chunkstore.WithChunkSize(32))
	require.NoError(t, err)

	return New(cc, cs, nil)
}

func TestStoreGetRoundTrip(t *testing.T) {
	rc := newTestRepoCache(t)
	ctx := context.Background()

	content := strings.Repeat("package main\n", 10)
	require.NoError(t, rc.Store(ctx, "acme/widgets", content, "tree-text", "a summary", map[string]string{"branch": "main"}))

	q, found, err := rc.Get(ctx, "acme/widgets")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, content, q.Content)
	require.Equal(t, "tree-text", q.Tree)
	require.Equal(t, "a summary", q.Summary)
	require.Equal(t, "main", q.Metadata.Extra["branch"])
}

func TestExistsWithMetadata(t *testing.T) {
	rc := newTestRepoCache(t)
	ctx := context.Background()

	info, err := rc.ExistsWithMetadata(ctx, "missing/repo")
	require.NoError(t, err)
	require.False(t, info.Exists)
	require.False(t, info.Partial)

	require.NoError(t, rc.Store(ctx, "acme/widgets", "c", "t", "s", nil))
	info, err = rc.ExistsWithMetadata(ctx, "acme/widgets")
	require.NoError(t, err)
	require.True(t, info.Exists)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	rc := newTestRepoCache(t)
	ctx := context.Background()

	require.NoError(t, rc.Store(ctx, "acme/widgets", "c", "t", "s", nil))
	require.NoError(t, rc.Invalidate(ctx, "acme/widgets"))

	_, found, err := rc.Get(ctx, "acme/widgets")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStoreReplacesPriorEntry(t *testing.T) {
	rc := newTestRepoCache(t)
	ctx := context.Background()

	require.NoError(t, rc.Store(ctx, "acme/widgets", "c1", "t1", "s1", nil))
	require.NoError(t, rc.Store(ctx, "acme/widgets", "c2", "t2", "s2", nil))

	q, found, err := rc.Get(ctx, "acme/widgets")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "c2", q.Content)
}

func TestListReturnsStoredRepos(t *testing.T) {
	rc := newTestRepoCache(t)
	ctx := context.Background()

	require.NoError(t, rc.Store(ctx, "acme/widgets", "c", "t", "s", nil))
	require.NoError(t, rc.Store(ctx, "acme/gadgets", "c", "t", "s", nil))

	entries, err := rc.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestStoreChunksLargeBlob(t *testing.T) {
	rc := newTestRepoCache(t)
	ctx := context.Background()

	content := strings.Repeat("x", 1000) // exceeds the 32-byte test chunk size
	require.NoError(t, rc.Store(ctx, "acme/widgets", content, "t", "s", nil))

	q, found, err := rc.Get(ctx, "acme/widgets")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, content, q.Content)
	_, wasChunked := q.Metadata.ChunkedTypes["content"]
	require.True(t, wasChunked)
}

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

package cacheclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewForTest(Config{URL: fmt.Sprintf("redis://%s/0", mr.Addr())}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClientGetSetDelete(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	v, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v", v)

	n, err := c.Delete(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestClientExistsAndScan(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "repo:a/b:metadata", "x", 0))
	require.NoError(t, c.Set(ctx, "repo:a/b:content", "y", 0))

	n, err := c.Exists(ctx, "repo:a/b:metadata", "nope")
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	keys, err := c.Scan(ctx, "repo:*:metadata")
	require.NoError(t, err)
	require.Equal(t, []string{"repo:a/b:metadata"}, keys)
}

func TestClientPipeline(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", "1", 0))

	results, err := c.Pipeline(ctx, []PipelineOp{
		{Kind: "get", Key: "a"},
		{Kind: "get", Key: "missing"},
		{Kind: "set", Key: "b", Value: "2"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, "1", results[0].Value)
	require.True(t, results[0].Found)
	require.False(t, results[1].Found)
	require.NoError(t, results[2].Err)

	v, found, err := c.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", v)
}

func TestClientRejectsLoopbackInProduction(t *testing.T) {
	_, err := New(Config{URL: "redis://127.0.0.1:6379/0"}, nil)
	require.Error(t, err)
}

func TestBackoffDelayWithinBounds(t *testing.T) {
	for attempt := 1; attempt <= 5; attempt++ {
		d := backoffDelay(100*time.Millisecond, 2*time.Second, 2.0, attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 3*time.Second)
	}
}

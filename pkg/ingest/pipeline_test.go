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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repocache/pkg/cacheclient"
	"github.com/kraklabs/repocache/pkg/chunkstore"
	"github.com/kraklabs/repocache/pkg/repocache"
	"github.com/kraklabs/repocache/pkg/tierpolicy"
)

type fakeIngester struct {
	mu      sync.Mutex
	calls   int32
	content string
	summary string
	err     error
	delay   time.Duration
}

func (f *fakeIngester) Fetch(ctx context.Context, repoURL, branch, token string) (*Result, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &Result{Content: f.content, Tree: "tree\n", Summary: f.summary}, nil
}

type fakeSizeChecker struct{ mb float64 }

func (f fakeSizeChecker) Size(ctx context.Context, repoURL string) (float64, error) { return f.mb, nil }

func newTestPipeline(t *testing.T, ingester Ingester, sizeMB float64) (*Pipeline, *repocache.RepoCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := cacheclient.NewForTest(cacheclient.Config{URL: fmt.Sprintf("redis://%s/0", mr.Addr())}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	chunks, err := chunkstore.New(client)
	require.NoError(t, err)
	rc := repocache.New(client, chunks, nil)

	policy, err := tierpolicy.New(tierpolicy.Default())
	require.NoError(t, err)

	p := New(Config{}, rc, policy, ingester, fakeSizeChecker{mb: sizeMB}, nil, nil, nil)
	return p, rc
}

func TestParseRepoNameHandlesHTTPSAndSSH(t *testing.T) {
	name, err := ParseRepoName("https://github.com/acme/widgets")
	require.NoError(t, err)
	require.Equal(t, "acme/widgets", name)

	name, err = ParseRepoName("https://github.com/acme/widgets.git")
	require.NoError(t, err)
	require.Equal(t, "acme/widgets", name)

	name, err = ParseRepoName("git@github.com:acme/widgets.git")
	require.NoError(t, err)
	require.Equal(t, "acme/widgets", name)

	_, err = ParseRepoName("not-a-url")
	require.Error(t, err)
}

func TestFetchStoresAndIndexesOnSuccess(t *testing.T) {
	ingester := &fakeIngester{content: "hello world", summary: "estimated tokens: 42"}
	p, rc := newTestPipeline(t, ingester, 10)

	result, err := p.Fetch(context.Background(), "https://github.com/acme/widgets", "main", "free", "user-1", false)
	require.NoError(t, err)
	require.Equal(t, "acme/widgets", result.RepoName)
	require.Equal(t, 42, result.EstimatedTokens)
	require.False(t, result.AlreadyCached)

	info, err := rc.ExistsWithMetadata(context.Background(), "acme/widgets")
	require.NoError(t, err)
	require.True(t, info.Exists)
}

func TestFetchShortCircuitsOnCacheHit(t *testing.T) {
	ingester := &fakeIngester{content: "hello world", summary: "estimated tokens: 42"}
	p, _ := newTestPipeline(t, ingester, 10)

	_, err := p.Fetch(context.Background(), "https://github.com/acme/widgets", "main", "free", "user-1", false)
	require.NoError(t, err)
	require.Equal(t, int32(1), ingester.calls)

	result, err := p.Fetch(context.Background(), "https://github.com/acme/widgets", "main", "free", "user-1", false)
	require.NoError(t, err)
	require.True(t, result.AlreadyCached)
	require.Equal(t, int32(1), ingester.calls, "cache hit must not call the ingester again")
}

func TestFetchRejectsRepositoryOverSizeLimit(t *testing.T) {
	ingester := &fakeIngester{content: "hello world", summary: "estimated tokens: 42"}
	p, _ := newTestPipeline(t, ingester, 999)

	_, err := p.Fetch(context.Background(), "https://github.com/acme/widgets", "main", "free", "user-1", false)
	require.Error(t, err)
	require.Equal(t, int32(0), ingester.calls, "oversized repos must be rejected before fetching")
}

func TestFetchRejectsWhenOverTierBudget(t *testing.T) {
	ingester := &fakeIngester{content: "hello world", summary: "estimated tokens: 50000000"}
	p, _ := newTestPipeline(t, ingester, 10)

	_, err := p.Fetch(context.Background(), "https://github.com/acme/widgets", "main", "free", "user-1", false)
	require.Error(t, err)
}

func TestFetchDeduplicatesConcurrentCallsForSameRepo(t *testing.T) {
	ingester := &fakeIngester{content: "hello world", summary: "estimated tokens: 42", delay: 50 * time.Millisecond}
	p, _ := newTestPipeline(t, ingester, 10)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Fetch(context.Background(), "https://github.com/acme/widgets", "main", "free", "user-1", false)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), ingester.calls, "concurrent fetches of the same repo+branch must share one in-flight call")
}

func TestFetchRetriesOnIngesterFailure(t *testing.T) {
	calls := int32(0)
	ingester := &fakeIngester{}
	ingester.err = errors.New("transient failure")

	p, _ := newTestPipeline(t, ingester, 10)
	p.cfg.FetchBackoff = []time.Duration{time.Millisecond, time.Millisecond}

	_, err := p.Fetch(context.Background(), "https://github.com/acme/widgets", "main", "free", "user-1", false)
	require.Error(t, err)
	require.Equal(t, int32(calls+4), ingester.calls) // 1 + FetchRetries(3)
}

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

package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecuteFallsBackOnPrimaryFailure(t *testing.T) {
	r := New()
	r.Register("fetch", "secondary", func(ctx context.Context) (any, error) { return "fallback-value", nil })

	v, err := r.Execute(context.Background(), "fetch", func(ctx context.Context) (any, error) {
		return nil, errors.New("primary failed")
	})
	require.NoError(t, err)
	require.Equal(t, "fallback-value", v)
}

func TestExecuteTriesFallbacksInOrder(t *testing.T) {
	r := New()
	r.Register("fetch", "first", func(ctx context.Context) (any, error) { return nil, errors.New("also failed") })
	r.Register("fetch", "second", func(ctx context.Context) (any, error) { return "second-value", nil })

	v, err := r.ExecuteFallbacksOnly(context.Background(), "fetch")
	require.NoError(t, err)
	require.Equal(t, "second-value", v)
}

func TestExecuteFailsWhenNoFallbacksRegistered(t *testing.T) {
	r := New()
	_, err := r.Execute(context.Background(), "fetch", func(ctx context.Context) (any, error) {
		return nil, errors.New("primary failed")
	})
	require.Error(t, err)
}

func TestStatsTrackSuccessRate(t *testing.T) {
	r := New()
	r.Register("fetch", "only", func(ctx context.Context) (any, error) { return "ok", nil })
	_, err := r.ExecuteFallbacksOnly(context.Background(), "fetch")
	require.NoError(t, err)

	stats := r.StatsFor("fetch")
	require.Len(t, stats, 1)
	require.Greater(t, stats[0].SuccessRate, 1.0-0.0001) // clamped to 1.0 after a success nudge from 1.0
}

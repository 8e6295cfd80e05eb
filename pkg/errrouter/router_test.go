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

package errrouter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repocache/internal/errs"
	"github.com/kraklabs/repocache/pkg/fallback"
)

func TestClassifyMapsCategoryToSeverityAndAction(t *testing.T) {
	category, severity, action := Classify(errs.NewConnectionError("t", "m", "", nil))
	require.Equal(t, errs.CategoryRedisConnection, category)
	require.Equal(t, SeverityHigh, severity)
	require.Equal(t, ActionRetry, action)

	_, severity, action = Classify(errs.NewValidationError("t", "m", ""))
	require.Equal(t, SeverityLow, severity)
	require.Equal(t, ActionIgnore, action)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	router := New(nil, nil)
	attempts := 0
	v, info := router.Execute(context.Background(), "cacheclient", "get", RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond},
		func(ctx context.Context) (any, error) {
			attempts++
			if attempts < 2 {
				return nil, errs.NewConnectionError("t", "m", "", nil)
			}
			return "ok", nil
		})
	require.Nil(t, info)
	require.Equal(t, "ok", v)
	require.Equal(t, 2, attempts)
}

func TestExecuteFallsBackOnMediumFallbackErrors(t *testing.T) {
	fbs := fallback.New()
	fbs.Register("get", "secondary", func(ctx context.Context) (any, error) { return "from-fallback", nil })
	router := New(fbs, nil)

	v, info := router.Execute(context.Background(), "repocache", "get", RetryConfig{},
		func(ctx context.Context) (any, error) {
			return nil, errs.NewOperationError("t", "m", "", nil)
		})
	require.Nil(t, info)
	require.Equal(t, "from-fallback", v)
}

func TestExecuteReturnsErrorInfoOnExhaustion(t *testing.T) {
	router := New(nil, nil)
	_, info := router.Execute(context.Background(), "cacheclient", "get", RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond},
		func(ctx context.Context) (any, error) {
			return nil, errs.NewConnectionError("t", "m", "", nil)
		})
	require.NotNil(t, info)
	require.Equal(t, ActionRetry, info.RecoveryAction)
	require.NotEmpty(t, info.ErrorID)
}

func TestToUserFacingStableType(t *testing.T) {
	info := &ErrorInfo{Component: "cacheclient", Severity: SeverityHigh, RecoveryAction: ActionRetry, ErrorID: "abc"}
	uf := ToUserFacing(info)
	require.Equal(t, "cache_access_failed", uf.Type)
	require.True(t, uf.RetryAvailable)
}

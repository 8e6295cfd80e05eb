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

package tierpolicy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTiersValidateTokenLimits(t *testing.T) {
	p, err := New(Default())
	require.NoError(t, err)

	res := p.Validate("free", 500_000)
	require.True(t, res.Allowed)

	res = p.Validate("free", 2_000_000)
	require.False(t, res.Allowed)

	res = p.Validate("enterprise", 999_999_999)
	require.True(t, res.Allowed)
}

func TestValidateRejectsUnknownTierAndNegativeTokens(t *testing.T) {
	p, err := New(Default())
	require.NoError(t, err)

	res := p.Validate("platinum", 100)
	require.False(t, res.Allowed)

	res = p.Validate("free", -1)
	require.False(t, res.Allowed)
}

func TestValidateNormalizesTierNameCaseAndWhitespace(t *testing.T) {
	p, err := New(Default())
	require.NoError(t, err)

	res := p.Validate("FREE", 500_000)
	require.True(t, res.Allowed)

	res = p.Validate("  free  ", 500_000)
	require.True(t, res.Allowed)

	tier, ok := p.Tier(" Pro ")
	require.True(t, ok)
	require.Equal(t, "pro", tier.Name)
}

func TestNewRejectsNonMonotonicTiers(t *testing.T) {
	_, err := New([]Tier{
		{Name: "free", MaxRepositoryTokens: 1000},
		{Name: "pro", MaxRepositoryTokens: 500},
	})
	require.Error(t, err)
}

func TestRecentAttemptsBoundedAt50(t *testing.T) {
	p, err := New(Default())
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		p.RecordAttempt(AccessAttempt{UserTier: "free"})
	}
	require.Len(t, p.RecentAttempts(), maxAccessLog)
}

func TestDetailsForReportsUsagePct(t *testing.T) {
	p, err := New(Default())
	require.NoError(t, err)

	d := p.DetailsFor("free", 500_000)
	require.True(t, d.Allowed)
	require.InDelta(t, 50.0, d.UsagePct, 0.01)
}

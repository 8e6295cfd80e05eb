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

// Package tierpolicy validates ingest requests against a per-tier token
// budget table. A TierPolicy is constructed once at process start and
// passed explicitly to callers — never a package-level global.
package tierpolicy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/repocache/internal/errs"
)

const unlimited = -1

// Tier is one named access level.
type Tier struct {
	Name                 string
	MaxRepositoryTokens  int // -1 = unlimited
	MaxRequestsPerMonth  int
	MaxContextFiles      int
	MaxFileSizeMB        int
	AllowedModels        []string // nil = all models
	PrioritySupport      bool
}

func (t Tier) allowsTokens(n int) bool {
	return t.MaxRepositoryTokens == unlimited || n <= t.MaxRepositoryTokens
}

// AccessAttempt is an advisory, append-only log entry.
type AccessAttempt struct {
	Timestamp       time.Time
	UserTier        string
	RepoURL         string
	EstimatedTokens int
	Allowed         bool
	Message         string
	UserID          string
}

const maxAccessLog = 50

// Policy validates access attempts against the configured tier table.
type Policy struct {
	tiers map[string]Tier
	order []string

	mu  sync.Mutex
	log []AccessAttempt
}

// Default tier table (FREE <= PRO <= ENTERPRISE, per the configuration
// invariant checked at New).
func Default() []Tier {
	return []Tier{
		{Name: "free", MaxRepositoryTokens: 1_000_000, MaxRequestsPerMonth: 500, MaxContextFiles: 10, MaxFileSizeMB: 5},
		{Name: "pro", MaxRepositoryTokens: 10_000_000, MaxRequestsPerMonth: 2_000, MaxContextFiles: 50, MaxFileSizeMB: 20},
		{Name: "enterprise", MaxRepositoryTokens: unlimited, MaxRequestsPerMonth: 3_000, MaxContextFiles: 200, MaxFileSizeMB: 200, PrioritySupport: true},
	}
}

// New builds a Policy, validating that tier limits are non-decreasing
// (fatal configuration error on violation, per the spec invariant).
func New(tiers []Tier) (*Policy, error) {
	p := &Policy{tiers: map[string]Tier{}}
	for _, t := range tiers {
		p.tiers[t.Name] = t
		p.order = append(p.order, t.Name)
	}
	if err := p.validateMonotonic(); err != nil {
		return nil, err
	}
	return p, nil
}

func asInfinity(n int) float64 {
	if n == unlimited {
		return 1 << 62
	}
	return float64(n)
}

func (p *Policy) validateMonotonic() error {
	prev := -1.0
	for _, name := range p.order {
		cur := asInfinity(p.tiers[name].MaxRepositoryTokens)
		if cur < prev {
			return errs.NewValidationError(
				"Invalid tier configuration",
				fmt.Sprintf("tier %q has a smaller token limit than the tier before it", name),
				"Tier limits must be non-decreasing in configuration order",
			)
		}
		prev = cur
	}
	return nil
}

// ValidateResult is the outcome of a Validate call.
type ValidateResult struct {
	Allowed bool
	Message string
}

// normalizeTier lower-cases and trims a tier name so lookups are
// case/whitespace-insensitive, per the spec's Validate contract.
func normalizeTier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Validate checks whether estimatedTokens is within tierName's budget.
func (p *Policy) Validate(tierName string, estimatedTokens int) ValidateResult {
	if estimatedTokens < 0 {
		return ValidateResult{Allowed: false, Message: "estimated_tokens must not be negative"}
	}
	tierName = normalizeTier(tierName)
	tier, ok := p.tiers[tierName]
	if !ok {
		return ValidateResult{Allowed: false, Message: fmt.Sprintf("unknown tier %q, available tiers: %v", tierName, p.order)}
	}
	if tier.allowsTokens(estimatedTokens) {
		return ValidateResult{Allowed: true, Message: "ok"}
	}
	return ValidateResult{
		Allowed: false,
		Message: fmt.Sprintf("repository requires %d tokens, exceeding the %s tier's limit of %d", estimatedTokens, tierName, tier.MaxRepositoryTokens),
	}
}

// Details is Validate's result enriched with usage percentage and the
// available tier list, for a richer user-facing response.
type Details struct {
	Allowed        bool
	Message        string
	TierLimit      int
	UsagePct       float64
	AvailableTiers []string
}

func (p *Policy) DetailsFor(tierName string, estimatedTokens int) Details {
	res := p.Validate(tierName, estimatedTokens)
	tier, ok := p.tiers[normalizeTier(tierName)]
	limit := 0
	pct := 0.0
	if ok {
		limit = tier.MaxRepositoryTokens
		if limit != unlimited && limit > 0 {
			pct = float64(estimatedTokens) / float64(limit) * 100
		}
	}
	tiers := make([]string, len(p.order))
	copy(tiers, p.order)
	sort.Strings(tiers)
	return Details{Allowed: res.Allowed, Message: res.Message, TierLimit: limit, UsagePct: pct, AvailableTiers: tiers}
}

// RecordAttempt appends an advisory access-log entry, bounded to the most
// recent maxAccessLog entries.
func (p *Policy) RecordAttempt(a AccessAttempt) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.log = append(p.log, a)
	if len(p.log) > maxAccessLog {
		p.log = p.log[len(p.log)-maxAccessLog:]
	}
}

// RecentAttempts returns a copy of the advisory access log.
func (p *Policy) RecentAttempts() []AccessAttempt {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AccessAttempt, len(p.log))
	copy(out, p.log)
	return out
}

// Tier looks up a tier definition by name, normalizing case and whitespace.
func (p *Policy) Tier(name string) (Tier, bool) {
	t, ok := p.tiers[normalizeTier(name)]
	return t, ok
}

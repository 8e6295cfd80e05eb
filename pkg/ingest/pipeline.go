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

// Package ingest orchestrates repository ingestion: validating the request,
// checking the cache, fetching via an external Ingester, validating against
// the caller's tier, filtering excluded paths, and storing the result.
// A single in-flight fetch is shared across concurrent callers for the same
// (repo, branch).
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/kraklabs/repocache/internal/errs"
	"github.com/kraklabs/repocache/pkg/contentindex"
	"github.com/kraklabs/repocache/pkg/errrouter"
	"github.com/kraklabs/repocache/pkg/repocache"
	"github.com/kraklabs/repocache/pkg/tierpolicy"
)

var repoURLPattern = regexp.MustCompile(`^(?:https://github\.com/|git@github\.com:)([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)

// ParseRepoName extracts "owner/name" from an https or ssh GitHub URL.
func ParseRepoName(repoURL string) (string, error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(repoURL))
	if m == nil {
		return "", errs.NewValidationError(
			"Invalid repository URL",
			fmt.Sprintf("%q is not a recognized https or ssh GitHub URL", repoURL),
			"Use https://github.com/owner/repo or git@github.com:owner/repo.git",
		)
	}
	return m[1] + "/" + m[2], nil
}

var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)estimated tokens:\s*(\d+)`),
	regexp.MustCompile(`(?i)tokens:\s*(\d+)`),
	regexp.MustCompile(`(?i)token count:\s*(\d+)`),
}

// extractEstimatedTokens returns the first regex match across tokenPatterns,
// or 0 if none match — preserving the legacy "miss defaults to 0" behavior
// unless strict mode is requested.
func extractEstimatedTokens(summary string, strict bool) (int, error) {
	for _, p := range tokenPatterns {
		if m := p.FindStringSubmatch(summary); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n, nil
			}
		}
	}
	if strict {
		return 0, errs.NewValidationError(
			"Could not determine token count",
			"none of the recognized token-count patterns matched the repository summary",
			"Check REPOCACHE_STRICT_TOKEN_EXTRACTION if this repeats across repositories",
		)
	}
	return 0, nil
}

// FetchResult is Pipeline.Fetch's outcome.
type FetchResult struct {
	RepoName        string
	AlreadyCached   bool
	EstimatedTokens int
}

type sizeDecision struct {
	tooLarge  bool
	mb        float64
	decidedAt time.Time
}

// Metrics are the Prometheus collectors the pipeline reports against.
type Metrics struct {
	StepDuration *prometheus.HistogramVec
	StepOutcome  *prometheus.CounterVec
}

// NewMetrics creates and registers the pipeline's Prometheus collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "repocache",
			Subsystem: "ingest",
			Name:      "step_duration_seconds",
			Help:      "Duration of each ingest pipeline step.",
		}, []string{"step"}),
		StepOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "repocache",
			Subsystem: "ingest",
			Name:      "step_total",
			Help:      "Count of ingest pipeline steps by outcome.",
		}, []string{"step", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.StepDuration, m.StepOutcome)
	}
	return m
}

func (m *Metrics) observe(step string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StepOutcome.WithLabelValues(step, outcome).Inc()
}

// Config configures a Pipeline.
type Config struct {
	MaxRepositorySizeMB    float64
	ExcludeGlobs           []string
	StrictTokenExtraction  bool
	SizeCacheTTL           time.Duration
	FetchRetries           int
	FetchBackoff           []time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRepositorySizeMB == 0 {
		c.MaxRepositorySizeMB = 150
	}
	if len(c.ExcludeGlobs) == 0 {
		c.ExcludeGlobs = []string{"analytics/"}
	}
	if c.SizeCacheTTL == 0 {
		c.SizeCacheTTL = time.Hour
	}
	if c.FetchRetries == 0 {
		c.FetchRetries = 3
	}
	if len(c.FetchBackoff) == 0 {
		c.FetchBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
	}
	return c
}

// Pipeline orchestrates repository ingestion end to end.
type Pipeline struct {
	cfg         Config
	repoCache   *repocache.RepoCache
	tierPolicy  *tierpolicy.Policy
	ingester    Ingester
	sizeChecker SizeChecker
	router      *errrouter.Router
	logger      *slog.Logger
	metrics     *Metrics

	sf singleflight.Group

	sizeCacheMu sync.Mutex
	sizeCache   map[string]sizeDecision
}

func New(cfg Config, repoCache *repocache.RepoCache, tierPolicy *tierpolicy.Policy, ingester Ingester, sizeChecker SizeChecker, router *errrouter.Router, metrics *Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if router == nil {
		router = errrouter.New(nil, logger)
	}
	return &Pipeline{
		cfg:         cfg.withDefaults(),
		repoCache:   repoCache,
		tierPolicy:  tierPolicy,
		ingester:    ingester,
		sizeChecker: sizeChecker,
		router:      router,
		logger:      logger,
		metrics:     metrics,
		sizeCache:   map[string]sizeDecision{},
	}
}

// Fetch runs the full ingest pipeline for one repository. Concurrent calls
// for the same (repoURL, branch) share a single in-flight fetch.
func (p *Pipeline) Fetch(ctx context.Context, repoURL, branch, userTier, userID string, force bool) (*FetchResult, error) {
	key := repoURL + "@" + branch
	v, err, _ := p.sf.Do(key, func() (any, error) {
		return p.fetchOnce(ctx, repoURL, branch, userTier, userID, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*FetchResult), nil
}

func (p *Pipeline) fetchOnce(ctx context.Context, repoURL, branch, userTier, userID string, force bool) (*FetchResult, error) {
	step := "validate"
	start := time.Now()
	if _, ok := p.tierPolicy.Tier(userTier); !ok {
		err := errs.NewValidationError("Unknown tier", fmt.Sprintf("tier %q is not configured", userTier), "Use free, pro, or enterprise")
		p.metrics.observe(step, start, err)
		return nil, err
	}

	repoName, err := ParseRepoName(repoURL)
	p.metrics.observe(step, start, err)
	if err != nil {
		return nil, err
	}

	if !force {
		step = "check_cache"
		start = time.Now()
		info, err := p.repoCache.ExistsWithMetadata(ctx, repoName)
		p.metrics.observe(step, start, err)
		if err != nil {
			return nil, err
		}
		if info.Exists {
			return &FetchResult{RepoName: repoName, AlreadyCached: true}, nil
		}
	}

	step = "size_check"
	start = time.Now()
	if err := p.checkSize(ctx, repoName, repoURL); err != nil {
		p.metrics.observe(step, start, err)
		return nil, err
	}
	p.metrics.observe(step, start, nil)

	step = "fetch"
	start = time.Now()
	result, err := p.fetchWithRetries(ctx, repoURL, branch)
	p.metrics.observe(step, start, err)
	if err != nil {
		return nil, err
	}

	step = "extract_tokens"
	start = time.Now()
	tokens, err := extractEstimatedTokens(result.Summary, p.cfg.StrictTokenExtraction)
	p.metrics.observe(step, start, err)
	if err != nil {
		return nil, err
	}

	step = "tier_validate"
	start = time.Now()
	validation := p.tierPolicy.Validate(userTier, tokens)
	p.tierPolicy.RecordAttempt(tierpolicy.AccessAttempt{
		Timestamp: time.Now().UTC(), UserTier: userTier, RepoURL: repoURL,
		EstimatedTokens: tokens, Allowed: validation.Allowed, Message: validation.Message, UserID: userID,
	})
	if !validation.Allowed {
		err := errs.NewValidationError("Repository exceeds tier limit", validation.Message, "Upgrade your tier or choose a smaller repository")
		p.metrics.observe(step, start, err)
		return nil, err
	}
	p.metrics.observe(step, start, nil)

	step = "filter_excludes"
	start = time.Now()
	filteredContent := filterExcluded(result.Content, p.cfg.ExcludeGlobs)
	filteredTree := filterExcluded(result.Tree, p.cfg.ExcludeGlobs)
	p.metrics.observe(step, start, nil)

	step = "store"
	start = time.Now()
	storeErr := p.storeWithOneRetry(ctx, repoName, filteredContent, filteredTree, result.Summary, branch)
	p.metrics.observe(step, start, storeErr)
	if storeErr != nil {
		return nil, storeErr
	}

	step = "build_index"
	start = time.Now()
	if _, err := contentindex.Build(filteredContent); err != nil {
		p.logger.Warn("ingest.build_index.failed", "repo", repoName, "error", err)
		p.metrics.observe(step, start, err)
	} else {
		p.metrics.observe(step, start, nil)
	}

	return &FetchResult{RepoName: repoName, EstimatedTokens: tokens}, nil
}

func (p *Pipeline) checkSize(ctx context.Context, repoName, repoURL string) error {
	p.sizeCacheMu.Lock()
	decision, found := p.sizeCache[repoName]
	p.sizeCacheMu.Unlock()
	if found && time.Since(decision.decidedAt) < p.cfg.SizeCacheTTL {
		if decision.tooLarge {
			return tooLargeErr(repoName, decision.mb, p.cfg.MaxRepositorySizeMB)
		}
		return nil
	}

	if p.sizeChecker == nil {
		return nil
	}
	mb, err := p.sizeChecker.Size(ctx, repoURL)
	if err != nil {
		return errs.NewConnectionError("Could not determine repository size", err.Error(), "", err)
	}

	tooLarge := mb > p.cfg.MaxRepositorySizeMB
	p.sizeCacheMu.Lock()
	p.sizeCache[repoName] = sizeDecision{tooLarge: tooLarge, mb: mb, decidedAt: time.Now()}
	p.sizeCacheMu.Unlock()

	if tooLarge {
		return tooLargeErr(repoName, mb, p.cfg.MaxRepositorySizeMB)
	}
	return nil
}

func tooLargeErr(repoName string, mb, limit float64) error {
	return errs.NewValidationError(
		"Repository too large",
		fmt.Sprintf("%s is %.1f MiB, exceeding the %.0f MiB ingest limit", repoName, mb, limit),
		"Contact support if this repository needs an exception",
	)
}

// fetchWithRetries runs the external ingester through the ErrorRouter, which
// classifies each failure and retries with exponential backoff (or falls
// back to a registered alternative) according to the spec's category table.
func (p *Pipeline) fetchWithRetries(ctx context.Context, repoURL, branch string) (*Result, error) {
	rcfg := errrouter.RetryConfig{
		MaxRetries:     p.cfg.FetchRetries,
		InitialBackoff: p.cfg.FetchBackoff[0],
		MaxBackoff:     p.cfg.FetchBackoff[len(p.cfg.FetchBackoff)-1],
		Multiplier:     2,
	}
	v, info := p.router.Execute(ctx, "ingest", "fetch", rcfg, func(ctx context.Context) (any, error) {
		result, err := p.ingester.Fetch(ctx, repoURL, branch, "")
		if err != nil {
			p.logger.Warn("ingest.fetch.retry", "repo_url", repoURL, "branch", branch, "error", err)
		}
		return result, err
	})
	if info != nil {
		uf := errrouter.ToUserFacing(info)
		return nil, errs.NewConnectionError(uf.Title,
			fmt.Sprintf("fetch of %s@%s failed after %d attempts: %s", repoURL, branch, info.RetryCount+1, info.Message),
			strings.Join(uf.SuggestedActions, "; "), errors.New(info.Message))
	}
	return v.(*Result), nil
}

func (p *Pipeline) storeWithOneRetry(ctx context.Context, repoName, content, tree, summary, branch string) error {
	extra := map[string]string{"branch": branch}
	err := p.repoCache.Store(ctx, repoName, content, tree, summary, extra)
	if err == nil {
		return nil
	}
	p.logger.Warn("ingest.store.retry", "repo", repoName, "error", err)
	return p.repoCache.Store(ctx, repoName, content, tree, summary, extra)
}

// filterExcluded removes paths under the exclude globs (treated as simple
// path-prefix markers, e.g. "analytics/"). In a content dump, a whole file
// section (boundary, FILE header and body) is dropped when its header path
// matches; any other line that mentions a glob is dropped as well.
func filterExcluded(text string, globs []string) string {
	if len(globs) == 0 {
		return text
	}
	dumpBoundary := strings.Repeat("=", 48)
	matches := func(line string) bool {
		for _, g := range globs {
			if strings.Contains(line, g) {
				return true
			}
		}
		return false
	}
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	skipping := false
	for i, line := range lines {
		if line == dumpBoundary && i+1 < len(lines) && strings.HasPrefix(lines[i+1], "FILE: ") {
			skipping = matches(lines[i+1])
		}
		if skipping || matches(line) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

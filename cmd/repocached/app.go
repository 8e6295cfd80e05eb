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

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kraklabs/repocache/internal/config"
	"github.com/kraklabs/repocache/internal/errs"
	"github.com/kraklabs/repocache/pkg/cacheclient"
	"github.com/kraklabs/repocache/pkg/chunkstore"
	"github.com/kraklabs/repocache/pkg/contentindex"
	"github.com/kraklabs/repocache/pkg/errrouter"
	"github.com/kraklabs/repocache/pkg/fallback"
	"github.com/kraklabs/repocache/pkg/ingest"
	"github.com/kraklabs/repocache/pkg/repocache"
	"github.com/kraklabs/repocache/pkg/tierpolicy"
)

// app bundles every component a subcommand needs, built once from resolved
// configuration. It is never a package-level global — main constructs one
// per invocation and passes it explicitly to each command.
type app struct {
	cfg        *config.Config
	client     *cacheclient.Client
	chunks     *chunkstore.Store
	repoCache  *repocache.RepoCache
	tiers      *tierpolicy.Policy
	router     *errrouter.Router
	pipeline   *ingest.Pipeline
	indexCache *contentindex.DiskCache
	logger     *slog.Logger
}

func newApp(globals GlobalFlags, configPath string, metricsRegistry prometheus.Registerer) (*app, error) {
	level := slog.LevelWarn
	switch {
	case globals.Verbose >= 2:
		level = slog.LevelDebug
	case globals.Verbose >= 1:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	client, err := cacheclient.New(cacheclient.Config{
		URL:            cfg.CacheURL,
		Password:       cfg.CachePassword,
		TLS:            cacheclient.TLSConfig{Enabled: cfg.CacheSSL, CertReqs: cfg.CacheSSLCertReqs},
		MaxConnections: cfg.CacheMaxConnections,
		SocketTimeout:  time.Duration(cfg.CacheSocketTimeoutS) * time.Second,
	}, logger)
	if err != nil {
		return nil, err
	}

	chunks, err := chunkstore.New(client, chunkstore.WithMaxChunks(cfg.MaxChunks), chunkstore.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	rc := repocache.New(client, chunks, logger)

	tiers, err := tierpolicy.New([]tierpolicy.Tier{
		{Name: "free", MaxRepositoryTokens: cfg.TierLimits.Free, MaxRequestsPerMonth: 500, MaxContextFiles: 10, MaxFileSizeMB: 5},
		{Name: "pro", MaxRepositoryTokens: cfg.TierLimits.Pro, MaxRequestsPerMonth: 2_000, MaxContextFiles: 50, MaxFileSizeMB: 20},
		{Name: "enterprise", MaxRepositoryTokens: cfg.TierLimits.Enterprise, MaxRequestsPerMonth: 3_000, MaxContextFiles: 200, MaxFileSizeMB: 200, PrioritySupport: true},
	})
	if err != nil {
		return nil, err
	}

	fallbacks := fallback.New()
	router := errrouter.New(fallbacks, logger)

	var metrics *ingest.Metrics
	if metricsRegistry != nil {
		metrics = ingest.NewMetrics(metricsRegistry)
	}

	fixtureDir := envOr("REPOCACHE_FIXTURE_DIR", "./fixtures")
	pipeline := ingest.New(ingest.Config{
		ExcludeGlobs:          cfg.ExcludeGlobs,
		StrictTokenExtraction: cfg.StrictTokenExtract,
	}, rc, tiers, ingest.NewStaticIngester(fixtureDir), ingest.StaticSizeChecker{SizeMB: 50}, router, metrics, logger)

	indexCache, err := contentindex.NewDiskCache(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg: cfg, client: client, chunks: chunks, repoCache: rc,
		tiers: tiers, router: router, pipeline: pipeline, indexCache: indexCache, logger: logger,
	}, nil
}

func (a *app) Close() {
	if a.client != nil {
		_ = a.client.Close()
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(err error, jsonMode bool) {
	if err == nil {
		return
	}
	errs.FatalError(err, jsonMode)
}

func backgroundCtx() context.Context {
	return context.Background()
}

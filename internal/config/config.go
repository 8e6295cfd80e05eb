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

// Package config loads process configuration from environment variables,
// with an optional .repocache/project.yaml for local/dev overrides of the
// tier table and ingest-time exclude globs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/repocache/internal/errs"
)

// Config is the fully resolved process configuration.
type Config struct {
	CacheURL             string
	CachePassword        string
	CacheSSL             bool
	CacheSSLCertReqs     string // none|optional|required
	CacheMaxConnections  int
	CacheSocketTimeoutS  int
	TierPlan             string
	TierLimits           TierLimits
	RepoFetchToken       string
	StorageDir           string
	ExcludeGlobs         []string
	MaxChunks            int
	StrictTokenExtract   bool
	MemoryThresholdMB    int
}

// TierLimits holds the three built-in tiers' token caps. -1 means unlimited.
type TierLimits struct {
	Free       int
	Pro        int
	Enterprise int
}

// ProjectFile mirrors the optional .repocache/project.yaml overrides file.
type ProjectFile struct {
	ExcludeGlobs []string `yaml:"exclude_globs,omitempty"`
	TierLimits   struct {
		Free       int `yaml:"free,omitempty"`
		Pro        int `yaml:"pro,omitempty"`
		Enterprise int `yaml:"enterprise,omitempty"`
	} `yaml:"tier_limits,omitempty"`
}

// Load resolves configuration from the environment, then applies an
// optional project.yaml found at configPath (or ./.repocache/project.yaml
// when configPath is empty and the file exists).
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		CacheURL:            os.Getenv("CACHE_URL"),
		CachePassword:       os.Getenv("CACHE_PASSWORD"),
		CacheSSLCertReqs:    envOr("CACHE_SSL_CERT_REQS", "required"),
		CacheMaxConnections: envInt("CACHE_MAX_CONNECTIONS", 20),
		CacheSocketTimeoutS: envInt("CACHE_SOCKET_TIMEOUT", 5),
		TierPlan:            envOr("TIER_PLAN", "free"),
		TierLimits: TierLimits{
			Free:       envInt("TIER_FREE_LIMIT", 1_000_000),
			Pro:        envInt("TIER_PRO_LIMIT", 10_000_000),
			Enterprise: envInt("TIER_ENTERPRISE_LIMIT", -1),
		},
		RepoFetchToken:     os.Getenv("REPO_FETCH_TOKEN"),
		StorageDir:         envOr("STORAGE_DIR", "/tmp/repo_storage"),
		ExcludeGlobs:       splitCSV(envOr("REPOCACHE_EXCLUDE_GLOBS", "analytics/")),
		MaxChunks:          envInt("REPOCACHE_MAX_CHUNKS", 4096),
		StrictTokenExtract: envBool("REPOCACHE_STRICT_TOKEN_EXTRACTION", false),
		MemoryThresholdMB:  envInt("REPOCACHE_MEMORY_THRESHOLD_MB", 1024),
	}
	cfg.CacheSSL = strings.HasPrefix(cfg.CacheURL, "rediss://") || envBool("CACHE_SSL", false)

	if cfg.CacheURL == "" {
		return nil, errs.NewValidationError(
			"Missing CACHE_URL",
			"CACHE_URL must be set to a redis:// or rediss:// endpoint",
			"export CACHE_URL=redis://host:6379/0",
		)
	}

	path := configPath
	if path == "" {
		path = filepath.Join(".repocache", "project.yaml")
	}
	if data, err := os.ReadFile(path); err == nil {
		var pf ProjectFile
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, errs.NewValidationError(
				"Invalid project.yaml",
				fmt.Sprintf("failed to parse %s: %v", path, err),
				"Check the YAML syntax of your project.yaml",
			)
		}
		if len(pf.ExcludeGlobs) > 0 {
			cfg.ExcludeGlobs = pf.ExcludeGlobs
		}
		if pf.TierLimits.Free != 0 {
			cfg.TierLimits.Free = pf.TierLimits.Free
		}
		if pf.TierLimits.Pro != 0 {
			cfg.TierLimits.Pro = pf.TierLimits.Pro
		}
		if pf.TierLimits.Enterprise != 0 {
			cfg.TierLimits.Enterprise = pf.TierLimits.Enterprise
		}
	}

	if err := cfg.validateTierMonotonicity(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validateTierMonotonicity() error {
	free, pro, ent := c.TierLimits.Free, c.TierLimits.Pro, c.TierLimits.Enterprise
	asInf := func(v int) float64 {
		if v < 0 {
			return 1 << 62
		}
		return float64(v)
	}
	if asInf(free) > asInf(pro) || asInf(pro) > asInf(ent) {
		return errs.NewValidationError(
			"Invalid tier configuration",
			fmt.Sprintf("tier limits must be non-decreasing: free=%d pro=%d enterprise=%d", free, pro, ent),
			"Fix TIER_FREE_LIMIT/TIER_PRO_LIMIT/TIER_ENTERPRISE_LIMIT so free <= pro <= enterprise",
		)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

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
	"fmt"
	"os"
)

// Result is what an external repository ingester hands back to the
// pipeline: the three raw blobs that RepoCache will store.
type Result struct {
	Summary string
	Tree    string
	Content string
}

// Ingester fetches a repository's content dump from whatever external
// system actually clones and renders it. The real implementation (cloning,
// rendering, talking to a remote ingestion service) is out of scope here —
// only the interface and a local test double live in this module.
type Ingester interface {
	Fetch(ctx context.Context, repoURL, branch, token string) (*Result, error)
}

// SizeChecker estimates a remote repository's size in megabytes before a
// full fetch is attempted.
type SizeChecker interface {
	Size(ctx context.Context, repoURL string) (mb float64, err error)
}

// StaticIngester reads a pre-rendered content dump from a local fixture
// directory, keyed by "owner/name". It exists for local CLI use and tests
// where no live ingestion service is available.
type StaticIngester struct {
	FixtureDir string
}

func NewStaticIngester(fixtureDir string) *StaticIngester {
	return &StaticIngester{FixtureDir: fixtureDir}
}

func (s *StaticIngester) Fetch(ctx context.Context, repoURL, branch, token string) (*Result, error) {
	name, err := ParseRepoName(repoURL)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("%s/%s/%s.dump.txt", s.FixtureDir, name, branch)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: static fixture not found for %s@%s: %w", name, branch, err)
	}
	return &Result{
		Content: string(data),
		Tree:    fmt.Sprintf("# tree for %s@%s\n", name, branch),
		Summary: fmt.Sprintf("estimated tokens: %d\n", len(data)/4),
	}, nil
}

// StaticSizeChecker always reports a fixed size, for local/dev use.
type StaticSizeChecker struct {
	SizeMB float64
}

func (s StaticSizeChecker) Size(ctx context.Context, repoURL string) (float64, error) {
	return s.SizeMB, nil
}

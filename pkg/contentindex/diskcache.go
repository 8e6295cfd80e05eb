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

package contentindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DiskCache persists a built Index to a scratch directory so repeated opens
// of the same repository's content skip rescanning the dump. It is a sidecar
// to the cache store, not a source of truth: any miss or staleness falls
// back to Build against the cached content blob.
type DiskCache struct {
	baseDir string
	mu      sync.Mutex
}

// NewDiskCache creates (if needed) baseDir and returns a cache rooted there.
func NewDiskCache(baseDir string) (*DiskCache, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("contentindex: create scratch dir %s: %w", baseDir, err)
	}
	return &DiskCache{baseDir: baseDir}, nil
}

func (d *DiskCache) indexPath(repoName, dataType string) string {
	return filepath.Join(d.baseDir, sanitize(repoName), dataType+".index")
}

func (d *DiskCache) mtimePath(repoName, dataType string) string {
	return filepath.Join(d.baseDir, sanitize(repoName), dataType+".index.mtime")
}

// Save writes idx and a sidecar timestamp recording contentStoredAt — the
// cache write time of the content this index was built against, used later
// by Load to decide staleness via Index.IsValid.
func (d *DiskCache) Save(repoName, dataType string, idx *Index, contentStoredAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Join(d.baseDir, sanitize(repoName))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("contentindex: create repo dir %s: %w", dir, err)
	}

	header := fmt.Sprintf("# content index for %s/%s", repoName, dataType)
	if err := os.WriteFile(d.indexPath(repoName, dataType), []byte(idx.Serialize(header)), 0o640); err != nil {
		return fmt.Errorf("contentindex: write index: %w", err)
	}
	stamp := strconv.FormatInt(contentStoredAt.UnixNano(), 10)
	if err := os.WriteFile(d.mtimePath(repoName, dataType), []byte(stamp), 0o640); err != nil {
		return fmt.Errorf("contentindex: write mtime sidecar: %w", err)
	}
	return nil
}

// Load returns the persisted index for (repoName, dataType) if present and
// still valid against contentStoredAt. A miss or stale entry returns
// (nil, false, nil) — never an error, since disk absence is routine.
func (d *DiskCache) Load(repoName, dataType string, contentStoredAt time.Time) (*Index, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := os.ReadFile(d.indexPath(repoName, dataType))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("contentindex: read index: %w", err)
	}
	stampRaw, err := os.ReadFile(d.mtimePath(repoName, dataType))
	if err != nil {
		return nil, false, nil
	}
	nanos, err := strconv.ParseInt(strings.TrimSpace(string(stampRaw)), 10, 64)
	if err != nil {
		return nil, false, nil
	}
	builtAt := time.Unix(0, nanos)

	idx, err := Parse(string(data), builtAt)
	if err != nil {
		return nil, false, nil
	}
	if !idx.IsValid(contentStoredAt) {
		return nil, false, nil
	}
	return idx, true, nil
}

// Evict removes the persisted index and sidecar for (repoName, dataType),
// ignoring a missing file.
func (d *DiskCache) Evict(repoName, dataType string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range []string{d.indexPath(repoName, dataType), d.mtimePath(repoName, dataType)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func sanitize(repoName string) string {
	return strings.ReplaceAll(repoName, "/", "_")
}

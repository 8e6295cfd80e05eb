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

// Package repocache stores and retrieves a repository's (content, tree,
// summary, metadata) quartet atop chunkstore and cacheclient, with metadata
// written last on Store and deleted first on Invalidate so a crash mid-write
// never leaves a repository looking complete.
package repocache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kraklabs/repocache/internal/errs"
	"github.com/kraklabs/repocache/pkg/cacheclient"
	"github.com/kraklabs/repocache/pkg/chunkstore"
)

var allTypes = []chunkstore.DataType{chunkstore.DataTypeContent, chunkstore.DataTypeTree, chunkstore.DataTypeSummary}

// Quartet is a stored repository's four pieces.
type Quartet struct {
	Content  string
	Tree     string
	Summary  string
	Metadata Metadata
}

// ExistsInfo reports how complete a repository's cache entry is.
type ExistsInfo struct {
	Exists   bool // all three blobs plus metadata present
	Partial  bool // some but not all present
	Metadata Metadata
}

// ListEntry summarizes one cached repository for RepoCache.List.
type ListEntry struct {
	Name      string
	StoredAt  time.Time
	DataTypes []string
}

// RepoCache is the top-level storage facade used by the ingest pipeline and
// the VFS.
type RepoCache struct {
	client *cacheclient.Client
	chunks *chunkstore.Store
	logger *slog.Logger
}

func New(client *cacheclient.Client, chunks *chunkstore.Store, logger *slog.Logger) *RepoCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepoCache{client: client, chunks: chunks, logger: logger}
}

func topKey(repoName string, dt chunkstore.DataType) string {
	return fmt.Sprintf("repo:%s:%s", repoName, dt)
}

func metadataKey(repoName string) string {
	return fmt.Sprintf("repo:%s:metadata", repoName)
}

// Store persists content/tree/summary (each independently chunked if it
// exceeds the chunk boundary) and a metadata record, in that order. Any
// prior entry for repoName is cleaned up first, so Store is idempotent.
func (r *RepoCache) Store(ctx context.Context, repoName, content, tree, summary string, extraMeta map[string]string) error {
	if err := r.cleanupAll(ctx, repoName); err != nil {
		return err
	}

	blobs := map[chunkstore.DataType]string{
		chunkstore.DataTypeContent: content,
		chunkstore.DataTypeTree:    tree,
		chunkstore.DataTypeSummary: summary,
	}

	chunked := map[string]struct{}{}
	var pipelineOps []cacheclient.PipelineOp
	dataTypes := map[string]struct{}{}

	for _, dt := range allTypes {
		blob := blobs[dt]
		dataTypes[string(dt)] = struct{}{}
		data := []byte(blob)
		if r.chunks.ShouldChunk(data) {
			if err := r.chunks.Store(ctx, repoName, dt, data); err != nil {
				return err
			}
			chunked[string(dt)] = struct{}{}
		} else {
			pipelineOps = append(pipelineOps, cacheclient.PipelineOp{Kind: "set", Key: topKey(repoName, dt), Value: blob})
		}
	}

	if len(pipelineOps) > 0 {
		results, err := r.client.Pipeline(ctx, pipelineOps)
		if err != nil {
			return err
		}
		for _, res := range results {
			if res.Err != nil {
				return errs.NewOperationError("Repository store failed",
					fmt.Sprintf("writing blobs for %s: %v", repoName, res.Err), "", res.Err)
			}
		}
	}

	meta := Metadata{
		StoredAt:     time.Now().UTC(),
		RepoName:     repoName,
		DataTypes:    dataTypes,
		ChunkedTypes: chunked,
		Extra:        extraMeta,
	}
	return r.client.Set(ctx, metadataKey(repoName), meta.Serialize(), 0)
}

// ExistsWithMetadata reports the completeness of a repository's cache entry.
func (r *RepoCache) ExistsWithMetadata(ctx context.Context, repoName string) (ExistsInfo, error) {
	raw, found, err := r.client.Get(ctx, metadataKey(repoName))
	if err != nil {
		return ExistsInfo{}, err
	}
	if !found {
		return ExistsInfo{}, nil
	}
	meta, err := ParseMetadata(raw)
	if err != nil {
		r.logger.Warn("repocache.exists.corrupt_metadata", "repo", repoName, "error", err)
		return ExistsInfo{}, nil
	}

	present := 0
	for _, dt := range allTypes {
		ok, err := r.blobPresent(ctx, repoName, dt, meta)
		if err != nil {
			return ExistsInfo{}, err
		}
		if ok {
			present++
		}
	}

	return ExistsInfo{
		Exists:   present == len(allTypes),
		Partial:  present > 0 && present < len(allTypes),
		Metadata: meta,
	}, nil
}

func (r *RepoCache) blobPresent(ctx context.Context, repoName string, dt chunkstore.DataType, meta Metadata) (bool, error) {
	if _, chunked := meta.ChunkedTypes[string(dt)]; chunked {
		n, err := r.client.Exists(ctx, fmt.Sprintf("%s:chunk_metadata", topKey(repoName, dt)))
		return n > 0, err
	}
	n, err := r.client.Exists(ctx, topKey(repoName, dt))
	return n > 0, err
}

// Get reassembles a repository's quartet, or returns found=false if any
// required piece is missing or fails integrity verification.
func (r *RepoCache) Get(ctx context.Context, repoName string) (Quartet, bool, error) {
	raw, found, err := r.client.Get(ctx, metadataKey(repoName))
	if err != nil {
		return Quartet{}, false, err
	}
	if !found {
		return Quartet{}, false, nil
	}
	meta, err := ParseMetadata(raw)
	if err != nil {
		r.logger.Warn("repocache.get.corrupt_metadata", "repo", repoName, "error", err)
		return Quartet{}, false, nil
	}

	values := map[chunkstore.DataType]string{}
	var nonChunkedKeys []string
	var nonChunkedTypes []chunkstore.DataType

	for _, dt := range allTypes {
		if _, chunked := meta.ChunkedTypes[string(dt)]; chunked {
			data, ok, err := r.chunks.Reconstruct(ctx, repoName, dt)
			if err != nil {
				return Quartet{}, false, err
			}
			if !ok {
				return Quartet{}, false, nil
			}
			values[dt] = string(data)
		} else {
			nonChunkedKeys = append(nonChunkedKeys, topKey(repoName, dt))
			nonChunkedTypes = append(nonChunkedTypes, dt)
		}
	}

	if len(nonChunkedKeys) > 0 {
		ops := make([]cacheclient.PipelineOp, len(nonChunkedKeys))
		for i, k := range nonChunkedKeys {
			ops[i] = cacheclient.PipelineOp{Kind: "get", Key: k}
		}
		results, err := r.client.Pipeline(ctx, ops)
		if err != nil {
			return Quartet{}, false, err
		}
		for i, res := range results {
			if res.Err != nil || !res.Found {
				return Quartet{}, false, nil
			}
			values[nonChunkedTypes[i]] = res.Value
		}
	}

	return Quartet{
		Content:  values[chunkstore.DataTypeContent],
		Tree:     values[chunkstore.DataTypeTree],
		Summary:  values[chunkstore.DataTypeSummary],
		Metadata: meta,
	}, true, nil
}

// Invalidate removes a repository's entry: metadata first, then the
// remaining top-level and chunk keys.
func (r *RepoCache) Invalidate(ctx context.Context, repoName string) error {
	if _, err := r.client.Delete(ctx, metadataKey(repoName)); err != nil {
		return err
	}
	return r.cleanupAll(ctx, repoName)
}

func (r *RepoCache) cleanupAll(ctx context.Context, repoName string) error {
	var topKeys []string
	for _, dt := range allTypes {
		if err := r.chunks.Cleanup(ctx, repoName, dt); err != nil {
			return err
		}
		topKeys = append(topKeys, topKey(repoName, dt))
	}
	_, err := r.client.Delete(ctx, topKeys...)
	return err
}

// List scans all cached repositories and their stored_at/data_types.
func (r *RepoCache) List(ctx context.Context) ([]ListEntry, error) {
	keys, err := r.client.Scan(ctx, "repo:*:metadata")
	if err != nil {
		return nil, err
	}

	entries := make([]ListEntry, 0, len(keys))
	for _, key := range keys {
		raw, found, err := r.client.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		meta, err := ParseMetadata(raw)
		if err != nil {
			r.logger.Warn("repocache.list.corrupt_metadata", "key", key, "error", err)
			continue
		}
		types := make([]string, 0, len(meta.DataTypes))
		for t := range meta.DataTypes {
			types = append(types, t)
		}
		entries = append(entries, ListEntry{Name: meta.RepoName, StoredAt: meta.StoredAt, DataTypes: types})
	}
	return entries, nil
}

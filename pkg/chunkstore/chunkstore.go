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

// Package chunkstore splits large blobs into size-bounded chunks for storage
// behind a key/value cache whose individual command size is bounded, and
// reconstructs them with per-chunk and overall integrity verification.
package chunkstore

import (
	"context"
	"crypto/md5" //nolint:gosec // used only for fast per-chunk integrity, not security
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/kraklabs/repocache/internal/errs"
	"github.com/kraklabs/repocache/pkg/cacheclient"
)

// DefaultChunkSize is the spec-mandated chunk boundary: 1 MiB.
const DefaultChunkSize = 1 << 20

// DataType names which of a repository's three blobs a chunk set belongs to.
type DataType string

const (
	DataTypeContent DataType = "content"
	DataTypeTree    DataType = "tree"
	DataTypeSummary DataType = "summary"
)

// Descriptor is the metadata record stored alongside a blob's chunks.
type Descriptor struct {
	TotalSize  int       `json:"total_size"`
	ChunkCount int       `json:"chunk_count"`
	ChunkSize  int       `json:"chunk_size"`
	SHA256     string    `json:"sha256_checksum"`
	DataType   DataType  `json:"data_type"`
	Compressed bool      `json:"compressed"`
	ChunkedAt  time.Time `json:"chunked_at"`
}

// Store chunks, stores, reconstructs, and cleans up chunked blobs.
type Store struct {
	client    *cacheclient.Client
	chunkSize int
	maxChunks int
	compress  bool
	logger    *slog.Logger
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// Option configures a Store.
type Option func(*Store)

func WithChunkSize(n int) Option { return func(s *Store) { s.chunkSize = n } }
func WithMaxChunks(n int) Option { return func(s *Store) { s.maxChunks = n } }
func WithCompression(enabled bool) Option {
	return func(s *Store) { s.compress = enabled }
}
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// New creates a Store backed by client.
func New(client *cacheclient.Client, opts ...Option) (*Store, error) {
	s := &Store{
		client:    client,
		chunkSize: DefaultChunkSize,
		maxChunks: 4096,
		compress:  true,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: init zstd decoder: %w", err)
	}
	s.encoder = enc
	s.decoder = dec
	return s, nil
}

// ShouldChunk reports whether data exceeds the chunk boundary and must be
// split before storage.
func (s *Store) ShouldChunk(data []byte) bool {
	return len(data) > s.chunkSize
}

type preparedChunk struct {
	bytes    []byte
	checksum string // hex md5 over the stored (possibly compressed) bytes
}

// Chunk splits data into exact byte-boundary chunks, computing a sha-256
// over the full logical content and an md5 per stored chunk.
func (s *Store) Chunk(data []byte, dt DataType) ([]preparedChunk, Descriptor) {
	overallSum := sha256.Sum256(data)

	var chunks []preparedChunk
	for offset := 0; offset < len(data); offset += s.chunkSize {
		end := offset + s.chunkSize
		if end > len(data) {
			end = len(data)
		}
		raw := data[offset:end]
		stored := raw
		if s.compress {
			stored = s.encoder.EncodeAll(raw, nil)
		}
		sum := md5.Sum(stored) //nolint:gosec
		chunks = append(chunks, preparedChunk{bytes: stored, checksum: hex.EncodeToString(sum[:])})
	}

	descriptor := Descriptor{
		TotalSize:  len(data),
		ChunkCount: len(chunks),
		ChunkSize:  s.chunkSize,
		SHA256:     hex.EncodeToString(overallSum[:]),
		DataType:   dt,
		Compressed: s.compress,
		ChunkedAt:  time.Now().UTC(),
	}
	return chunks, descriptor
}

func keyPrefix(repoName string, dt DataType) string {
	return fmt.Sprintf("repo:%s:%s", repoName, dt)
}

// Store persists chunks and their descriptor as a single pipelined
// round-trip, keyed under repoName/dt.
func (s *Store) Store(ctx context.Context, repoName string, dt DataType, data []byte) error {
	chunks, descriptor := s.Chunk(data, dt)
	prefix := keyPrefix(repoName, dt)

	descBytes, err := json.Marshal(descriptor)
	if err != nil {
		return errs.NewInternalError("Failed to encode chunk descriptor", err.Error(), "", err)
	}

	ops := []cacheclient.PipelineOp{
		{Kind: "set", Key: prefix + ":chunk_count", Value: fmt.Sprintf("%d", descriptor.ChunkCount)},
		{Kind: "set", Key: prefix + ":chunk_metadata", Value: string(descBytes)},
	}
	for i, c := range chunks {
		ops = append(ops,
			cacheclient.PipelineOp{Kind: "set", Key: fmt.Sprintf("%s:chunk:%d", prefix, i), Value: string(c.bytes)},
			cacheclient.PipelineOp{Kind: "set", Key: fmt.Sprintf("%s:chunk:%d:checksum", prefix, i), Value: c.checksum},
		)
	}

	results, err := s.client.Pipeline(ctx, ops)
	if err != nil {
		return err
	}
	for _, r := range results {
		if r.Err != nil {
			return errs.NewOperationError("Chunk store failed",
				fmt.Sprintf("pipelined chunk write for %s/%s failed: %v", repoName, dt, r.Err), "", r.Err)
		}
	}
	return nil
}

// Reconstruct loads a blob's descriptor and chunks, verifying per-chunk md5
// and an overall sha-256 over the decompressed content. A verification
// failure returns (nil, false, nil) — a deliberate cache miss, not an error,
// so callers re-fetch rather than propagate corruption.
func (s *Store) Reconstruct(ctx context.Context, repoName string, dt DataType) ([]byte, bool, error) {
	prefix := keyPrefix(repoName, dt)

	descRaw, found, err := s.client.Get(ctx, prefix+":chunk_metadata")
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	var descriptor Descriptor
	if err := json.Unmarshal([]byte(descRaw), &descriptor); err != nil {
		s.logger.Warn("chunkstore.reconstruct.corrupt_descriptor", "repo", repoName, "type", dt)
		return nil, false, nil
	}

	if descriptor.ChunkCount == 0 {
		return nil, false, nil
	}

	ops := make([]cacheclient.PipelineOp, 0, descriptor.ChunkCount*2)
	for i := 0; i < descriptor.ChunkCount; i++ {
		ops = append(ops,
			cacheclient.PipelineOp{Kind: "get", Key: fmt.Sprintf("%s:chunk:%d", prefix, i)},
			cacheclient.PipelineOp{Kind: "get", Key: fmt.Sprintf("%s:chunk:%d:checksum", prefix, i)},
		)
	}
	results, err := s.client.Pipeline(ctx, ops)
	if err != nil {
		return nil, false, err
	}

	assembled := make([]byte, 0, descriptor.TotalSize)
	for i := 0; i < descriptor.ChunkCount; i++ {
		chunkRes := results[i*2]
		sumRes := results[i*2+1]
		if !chunkRes.Found || !sumRes.Found || chunkRes.Err != nil || sumRes.Err != nil {
			s.logger.Warn("chunkstore.reconstruct.missing_chunk", "repo", repoName, "type", dt, "index", i)
			return nil, false, nil
		}
		sum := md5.Sum([]byte(chunkRes.Value)) //nolint:gosec
		if hex.EncodeToString(sum[:]) != sumRes.Value {
			s.logger.Warn("chunkstore.reconstruct.checksum_mismatch", "repo", repoName, "type", dt, "index", i)
			return nil, false, nil
		}
		raw := []byte(chunkRes.Value)
		if descriptor.Compressed {
			decoded, decErr := s.decoder.DecodeAll(raw, nil)
			if decErr != nil {
				s.logger.Warn("chunkstore.reconstruct.decompress_failed", "repo", repoName, "type", dt, "index", i, "error", decErr)
				return nil, false, nil
			}
			raw = decoded
		}
		assembled = append(assembled, raw...)
	}

	overallSum := sha256.Sum256(assembled)
	if hex.EncodeToString(overallSum[:]) != descriptor.SHA256 {
		s.logger.Warn("chunkstore.reconstruct.overall_checksum_mismatch", "repo", repoName, "type", dt)
		return nil, false, nil
	}

	return assembled, true, nil
}

// Cleanup deletes all chunk keys for a blob, bounded by MaxChunks as a
// safety limit against an unbounded delete loop if chunk_count itself were
// corrupted to an implausible value.
func (s *Store) Cleanup(ctx context.Context, repoName string, dt DataType) error {
	prefix := keyPrefix(repoName, dt)

	countRaw, found, err := s.client.Get(ctx, prefix+":chunk_count")
	if err != nil {
		return err
	}
	count := s.maxChunks
	if found {
		var n int
		if _, scanErr := fmt.Sscanf(countRaw, "%d", &n); scanErr == nil && n >= 0 && n < s.maxChunks {
			count = n
		} else {
			s.logger.Warn("chunkstore.cleanup.bound_exceeded", "repo", repoName, "type", dt, "max_chunks", s.maxChunks)
		}
	}

	keys := []string{prefix + ":chunk_count", prefix + ":chunk_metadata"}
	for i := 0; i < count; i++ {
		keys = append(keys, fmt.Sprintf("%s:chunk:%d", prefix, i), fmt.Sprintf("%s:chunk:%d:checksum", prefix, i))
	}

	const batchSize = 50
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		if _, err := s.client.Delete(ctx, keys[i:end]...); err != nil {
			return err
		}
	}
	return nil
}

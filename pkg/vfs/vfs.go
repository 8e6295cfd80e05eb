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

// Package vfs presents a cached repository as an in-memory tree with lazy
// content loading and LRU eviction. Build works purely in memory;
// BuildWithDiskCache additionally loads and saves the line index on disk.
package vfs

import (
	"crypto/md5" //nolint:gosec // integrity check, not security
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kraklabs/repocache/pkg/contentindex"
)

const (
	defaultMaxEntries     = 200
	defaultMaxMemoryBytes = 100 * 1024 * 1024
)

// FileLocation identifies where a file's bytes live within the VFS's
// internally tracked extraction order, and carries its checksum for
// integrity-verified fallback extraction.
type FileLocation struct {
	StartOffset int
	EndOffset   int
	Size        int
	Checksum    string // hex md5 of the extracted file content
}

// File is one leaf in the virtual tree.
type File struct {
	Path     string
	Size     int
	Language string
	IsBinary bool
	Location FileLocation
}

// node is an internal tree node; exactly one of children or file is set.
type node struct {
	name     string
	children map[string]*node
	file     *File
}

func newDirNode(name string) *node {
	return &node{name: name, children: map[string]*node{}}
}

// Stat describes a path's kind and, for files, its size/language.
type Stat struct {
	Path     string
	IsDir    bool
	Size     int
	Language string
	IsBinary bool
}

type cachedContent struct {
	data string
	size int
}

// VFS is the in-memory tree plus dual-capacity LRU content cache for one
// repository snapshot.
type VFS struct {
	repoName string
	content  string
	index    *contentindex.Index

	root      *node
	fileIndex map[string]*File
	langStats map[string]int

	mu sync.RWMutex

	cache          *lru.Cache[string, cachedContent]
	cacheMu        sync.Mutex
	memUsed        int
	maxMemoryBytes int

	logger *slog.Logger
}

// Option configures a VFS at construction time.
type Option func(*VFS)

func WithMaxEntries(n int) Option { return func(v *VFS) { v.recreateCache(n) } }
func WithMaxMemoryBytes(n int) Option {
	return func(v *VFS) { v.maxMemoryBytes = n }
}
func WithLogger(l *slog.Logger) Option { return func(v *VFS) { v.logger = l } }

// Build constructs a VFS from a repository's raw content dump, indexing
// every file named in the dump into the virtual tree.
func Build(repoName, content string, opts ...Option) (*VFS, error) {
	idx, err := contentindex.Build(content)
	if err != nil {
		return nil, err
	}
	return buildFromIndex(repoName, content, idx, opts...), nil
}

// BuildWithDiskCache is Build, but consults cache first for a still-valid
// persisted index (keyed by contentStoredAt, the cache write time of
// content) before rescanning the dump, and persists a freshly built index
// back to cache on a miss.
func BuildWithDiskCache(repoName, content string, cache *contentindex.DiskCache, dataType string, contentStoredAt time.Time, opts ...Option) (*VFS, error) {
	if idx, hit, err := cache.Load(repoName, dataType, contentStoredAt); err == nil && hit {
		return buildFromIndex(repoName, content, idx, opts...), nil
	}

	idx, err := contentindex.Build(content)
	if err != nil {
		return nil, err
	}
	if err := cache.Save(repoName, dataType, idx, contentStoredAt); err != nil {
		slog.Default().Warn("vfs.build_with_disk_cache.save_failed", "repo", repoName, "error", err)
	}
	return buildFromIndex(repoName, content, idx, opts...), nil
}

func buildFromIndex(repoName, content string, idx *contentindex.Index, opts ...Option) *VFS {
	v := &VFS{
		repoName:       repoName,
		content:        content,
		index:          idx,
		root:           newDirNode(""),
		fileIndex:      map[string]*File{},
		langStats:      map[string]int{},
		maxMemoryBytes: defaultMaxMemoryBytes,
		logger:         slog.Default(),
	}
	cache, _ := lru.New[string, cachedContent](defaultMaxEntries)
	v.cache = cache

	for _, opt := range opts {
		opt(v)
	}

	offset := 0
	for _, path := range idx.Paths() {
		entry, _ := idx.Lookup(path)
		extracted, err := contentindex.GetContent(content, entry)
		if err != nil {
			v.logger.Warn("vfs.build.extract_failed", "repo", repoName, "path", path, "error", err)
			continue
		}
		sum := md5.Sum([]byte(extracted)) //nolint:gosec
		f := &File{
			Path:     path,
			Size:     len(extracted),
			Language: DetectLanguage(path),
			IsBinary: IsBinaryPath(path),
			Location: FileLocation{
				StartOffset: offset,
				EndOffset:   offset + len(extracted),
				Size:        len(extracted),
				Checksum:    hex.EncodeToString(sum[:]),
			},
		}
		offset += len(extracted)
		v.insert(path, f)
		v.langStats[f.Language]++
	}

	return v
}

func (v *VFS) recreateCache(maxEntries int) {
	evicted := func(key string, value cachedContent) {
		v.cacheMu.Lock()
		v.memUsed -= value.size
		v.cacheMu.Unlock()
	}
	cache, _ := lru.NewWithEvict[string, cachedContent](maxEntries, evicted)
	v.cache = cache
}

func (v *VFS) insert(filePath string, f *File) {
	v.fileIndex[filePath] = f
	parts := strings.Split(filePath, "/")
	cur := v.root
	for i, part := range parts {
		if i == len(parts)-1 {
			cur.children[part] = &node{name: part, file: f}
			return
		}
		next, ok := cur.children[part]
		if !ok || next.file != nil {
			next = newDirNode(part)
			cur.children[part] = next
		}
		cur = next
	}
}

// Exists reports whether path names a file or directory in the tree. O(1)
// for files; O(depth) for directories.
func (v *VFS) Exists(path string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if _, ok := v.fileIndex[path]; ok {
		return true
	}
	return v.findDir(path) != nil
}

// IsDirectory reports whether path resolves to a directory.
func (v *VFS) IsDirectory(path string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if path == "" || path == "." {
		return true
	}
	return v.findDir(path) != nil
}

func (v *VFS) findDir(path string) *node {
	path = strings.Trim(path, "/")
	if path == "" {
		return v.root
	}
	cur := v.root
	for _, part := range strings.Split(path, "/") {
		next, ok := cur.children[part]
		if !ok || next.file != nil {
			return nil
		}
		cur = next
	}
	return cur
}

// List returns the direct child names of dir, sorted.
func (v *VFS) List(dir string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d := v.findDir(dir)
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stat returns metadata for a file or directory path.
func (v *VFS) Stat(path string) (Stat, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if f, ok := v.fileIndex[path]; ok {
		return Stat{Path: path, Size: f.Size, Language: f.Language, IsBinary: f.IsBinary}, true
	}
	if d := v.findDir(path); d != nil {
		return Stat{Path: path, IsDir: true}, true
	}
	return Stat{}, false
}

// Open returns a file's content, through the LRU cache on a hit, or on a
// miss by resolving the path through the content index, extracting it with
// contentindex.GetContent and verifying it against the file's checksum.
// There is no second extraction path: if the index lookup, extraction or
// checksum fails, Open returns false.
func (v *VFS) Open(path string) (string, bool) {
	if cached, ok := v.cacheGet(path); ok {
		return cached, true
	}

	v.mu.RLock()
	f, ok := v.fileIndex[path]
	v.mu.RUnlock()
	if !ok {
		return "", false
	}

	entry, ok := v.index.Lookup(path)
	if !ok {
		return "", false
	}
	extracted, err := contentindex.GetContent(v.content, entry)
	if err != nil {
		v.logger.Warn("vfs.open.extract_failed", "repo", v.repoName, "path", path, "error", err)
		return "", false
	}

	sum := md5.Sum([]byte(extracted)) //nolint:gosec
	if hex.EncodeToString(sum[:]) != f.Location.Checksum {
		v.logger.Warn("vfs.open.checksum_mismatch", "repo", v.repoName, "path", path)
		return "", false
	}

	v.cachePut(path, extracted)
	return extracted, true
}

func (v *VFS) cacheGet(path string) (string, bool) {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	c, ok := v.cache.Get(path)
	if !ok {
		return "", false
	}
	return c.data, true
}

func (v *VFS) cachePut(path, data string) {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	v.cache.Add(path, cachedContent{data: data, size: len(data)})
	v.memUsed += len(data)
	for v.memUsed > v.maxMemoryBytes && v.cache.Len() > 0 {
		_, evicted, ok := v.cache.RemoveOldest()
		if !ok {
			break
		}
		v.memUsed -= evicted.size
	}
}

// FindByExtension returns every indexed path with the given extension
// (including the leading '.').
func (v *VFS) FindByExtension(ext string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []string
	for path := range v.fileIndex {
		if strings.HasSuffix(path, ext) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// FindByLanguage returns every indexed path detected as lang. lang is
// compared case-insensitively against the canonical lower-case names
// DetectLanguage produces (e.g. "python", "go", "cpp").
func (v *VFS) FindByLanguage(lang string) []string {
	lang = strings.ToLower(lang)
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []string
	for path, f := range v.fileIndex {
		if f.Language == lang {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

// LanguageStats returns a copy of the file-count-per-language breakdown
// computed during Build.
func (v *VFS) LanguageStats() map[string]int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]int, len(v.langStats))
	for k, val := range v.langStats {
		out[k] = val
	}
	return out
}

// TotalFiles returns the number of indexed files.
func (v *VFS) TotalFiles() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.fileIndex)
}

// Paths returns every indexed file path.
func (v *VFS) Paths() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.fileIndex))
	for p := range v.fileIndex {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CacheStats reports the current LRU content cache occupancy.
func (v *VFS) CacheStats() (entries int, memoryBytes int) {
	v.cacheMu.Lock()
	defer v.cacheMu.Unlock()
	return v.cache.Len(), v.memUsed
}

func (v *VFS) String() string {
	return fmt.Sprintf("vfs(%s: %d files)", v.repoName, v.TotalFiles())
}

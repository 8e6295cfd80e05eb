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

// Package gitsim presents a read-only Git-like metadata surface over a VFS
// snapshot. It never shells out to a real git binary and never writes
// anywhere — mutating operations are accepted and silently no-op.
package gitsim

import "github.com/kraklabs/repocache/pkg/vfs"

// Runner is the interface the assistant-facing tools see. Mirroring it as
// an interface (rather than exposing *Simulator directly) keeps callers
// mockable in tests, the same way a real git wrapper would be.
type Runner interface {
	TrackedFiles() []string
	IsTracked(path string) bool
	Status() Status
	RepoInfo() RepoInfo
	Add(paths ...string) error
	Commit(message string) error
	Push() error
}

// Status summarizes the simulated working tree.
type Status struct {
	Branch         string
	RemoteURL      string
	TrackedCount   int
	ModifiedCount  int
	UntrackedCount int
	Clean          bool
}

// RepoInfo describes the simulated repository itself.
type RepoInfo struct {
	RepoRoot      string
	CurrentBranch string
	RemoteURL     string
	RepoName      string
	IsGitRepo     bool
	HasRemote     bool
}

// Simulator is the concrete Runner backed by a VFS snapshot. It holds a
// read-only reference to the VFS and is constructed by the caller; the VFS
// has no reference to any Simulator, so there is no cycle between the two.
type Simulator struct {
	vfsRef    *vfs.VFS
	repoName  string
	branch    string
	remoteURL string
}

// New creates a Simulator over an already-built VFS snapshot.
func New(v *vfs.VFS, repoName, branch, remoteURL string) *Simulator {
	return &Simulator{vfsRef: v, repoName: repoName, branch: branch, remoteURL: remoteURL}
}

// TrackedFiles returns every file path the VFS snapshot knows about, sorted.
func (s *Simulator) TrackedFiles() []string {
	return s.vfsRef.Paths()
}

// IsTracked reports whether path names a tracked (indexed) file.
func (s *Simulator) IsTracked(path string) bool {
	return s.vfsRef.Exists(path) && !s.vfsRef.IsDirectory(path)
}

// Status reports the (always clean, since read-only) working tree state.
func (s *Simulator) Status() Status {
	tracked := s.vfsRef.TotalFiles()
	return Status{
		Branch:       s.branch,
		RemoteURL:    s.remoteURL,
		TrackedCount: tracked,
		Clean:        true,
	}
}

// RepoInfo reports static repository identity.
func (s *Simulator) RepoInfo() RepoInfo {
	return RepoInfo{
		RepoRoot:      "/",
		CurrentBranch: s.branch,
		RemoteURL:     s.remoteURL,
		RepoName:      s.repoName,
		IsGitRepo:     true,
		HasRemote:     s.remoteURL != "",
	}
}

// Add is a no-op write barrier: the assistant may "stage" files, but
// nothing is ever written back to the origin repository.
func (s *Simulator) Add(paths ...string) error { return nil }

// Commit is a no-op write barrier.
func (s *Simulator) Commit(message string) error { return nil }

// Push is a no-op write barrier.
func (s *Simulator) Push() error { return nil }

var _ Runner = (*Simulator)(nil)

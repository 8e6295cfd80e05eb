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

package gitsim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repocache/pkg/vfs"
)

const boundary = "================================================"

func buildVFS(t *testing.T) *vfs.VFS {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(boundary + "\nFILE: main.go\n" + boundary + "\npackage main\n")
	v, err := vfs.Build("acme/widgets", sb.String())
	require.NoError(t, err)
	return v
}

func TestSimulatorTrackedFilesAndStatus(t *testing.T) {
	sim := New(buildVFS(t), "acme/widgets", "main", "https://github.com/acme/widgets")

	require.ElementsMatch(t, []string{"main.go"}, sim.TrackedFiles())
	require.True(t, sim.IsTracked("main.go"))
	require.False(t, sim.IsTracked("missing.go"))

	status := sim.Status()
	require.Equal(t, "main", status.Branch)
	require.True(t, status.Clean)
	require.Equal(t, 1, status.TrackedCount)
}

func TestSimulatorWriteOperationsAreNoOps(t *testing.T) {
	sim := New(buildVFS(t), "acme/widgets", "main", "")
	require.NoError(t, sim.Add("main.go"))
	require.NoError(t, sim.Commit("message"))
	require.NoError(t, sim.Push())

	info := sim.RepoInfo()
	require.True(t, info.IsGitRepo)
	require.False(t, info.HasRemote)
}

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

package vfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const boundary = "================================================"

func dump(files map[string]string, order []string) string {
	var sb strings.Builder
	for _, path := range order {
		sb.WriteString(boundary + "\n")
		sb.WriteString("FILE: " + path + "\n")
		sb.WriteString(boundary + "\n")
		sb.WriteString(files[path])
	}
	return sb.String()
}

func TestBuildIndexesFilesAndDirectories(t *testing.T) {
	content := dump(map[string]string{
		"main.go":        "package main\n",
		"pkg/util.go":    "package pkg\n",
		"pkg/sub/x.go":   "package sub\n",
		"Dockerfile":     "FROM scratch\n",
	}, []string{"main.go", "pkg/util.go", "pkg/sub/x.go", "Dockerfile"})

	v, err := Build("acme/widgets", content)
	require.NoError(t, err)

	require.True(t, v.Exists("main.go"))
	require.True(t, v.IsDirectory("pkg"))
	require.True(t, v.IsDirectory("pkg/sub"))
	require.False(t, v.IsDirectory("main.go"))
	require.ElementsMatch(t, []string{"main.go", "pkg", "Dockerfile"}, v.List(""))
	require.Equal(t, 4, v.TotalFiles())
}

func TestOpenReturnsContentAndCachesIt(t *testing.T) {
	content := dump(map[string]string{"main.go": "package main\n\nfunc main() {}\n"}, []string{"main.go"})
	v, err := Build("acme/widgets", content)
	require.NoError(t, err)

	got, ok := v.Open("main.go")
	require.True(t, ok)
	require.Contains(t, got, "func main")

	entries, _ := v.CacheStats()
	require.Equal(t, 1, entries)

	got2, ok := v.Open("main.go")
	require.True(t, ok)
	require.Equal(t, got, got2)
}

func TestOpenMissingFileFails(t *testing.T) {
	v, err := Build("acme/widgets", dump(map[string]string{"a.go": "x\n"}, []string{"a.go"}))
	require.NoError(t, err)
	_, ok := v.Open("missing.go")
	require.False(t, ok)
}

func TestLanguageDetection(t *testing.T) {
	content := dump(map[string]string{
		"main.go":    "package main\n",
		"script.py":  "print(1)\n",
		"Dockerfile": "FROM x\n",
	}, []string{"main.go", "script.py", "Dockerfile"})
	v, err := Build("acme/widgets", content)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"main.go"}, v.FindByLanguage("go"))
	require.ElementsMatch(t, []string{"script.py"}, v.FindByLanguage("Python"))
	require.Equal(t, 1, v.LanguageStats()["dockerfile"])
}

func TestMemoryCapEvictsEntries(t *testing.T) {
	content := dump(map[string]string{
		"a.go": strings.Repeat("a", 100) + "\n",
		"b.go": strings.Repeat("b", 100) + "\n",
	}, []string{"a.go", "b.go"})
	v, err := Build("acme/widgets", content, WithMaxMemoryBytes(150))
	require.NoError(t, err)

	_, ok := v.Open("a.go")
	require.True(t, ok)
	_, ok = v.Open("b.go")
	require.True(t, ok)

	entries, mem := v.CacheStats()
	require.LessOrEqual(t, mem, 150)
	require.LessOrEqual(t, entries, 2)
}

func TestFindByExtension(t *testing.T) {
	content := dump(map[string]string{
		"main.go":     "a\n",
		"README.md":   "b\n",
		"pkg/util.go": "c\n",
	}, []string{"main.go", "README.md", "pkg/util.go"})
	v, err := Build("acme/widgets", content)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"main.go", "pkg/util.go"}, v.FindByExtension(".go"))
}

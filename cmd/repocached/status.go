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
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repocache/internal/ui"
	"github.com/kraklabs/repocache/pkg/gitsim"
	"github.com/kraklabs/repocache/pkg/vfs"
)

func runStatus(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: repocached status <repo>")
		return 1
	}
	repoName := fs.Arg(0)

	a, err := newApp(globals, configPath, nil)
	if err != nil {
		fatal(err, globals.JSON)
		return 1
	}
	defer a.Close()

	ctx := backgroundCtx()
	info, err := a.repoCache.ExistsWithMetadata(ctx, repoName)
	if err != nil {
		fatal(err, globals.JSON)
		return 1
	}

	if !info.Exists {
		if globals.JSON {
			enc, _ := json.Marshal(map[string]any{"repo": repoName, "exists": false})
			fmt.Println(string(enc))
			return 0
		}
		ui.Warn.Printf("%s is not cached\n", repoName)
		return 0
	}

	tree, sim, simErr := a.buildRepoStatus(ctx, repoName)

	if globals.JSON {
		payload := map[string]any{
			"repo":      repoName,
			"exists":    info.Exists,
			"partial":   info.Partial,
			"stored_at": info.Metadata.StoredAt,
		}
		if simErr == nil {
			entries, cacheBytes := tree.CacheStats()
			payload["git_status"] = sim.Status()
			payload["repo_info"] = sim.RepoInfo()
			payload["vfs_stats"] = map[string]any{
				"total_files":   tree.TotalFiles(),
				"languages":     tree.LanguageStats(),
				"cache_entries": entries,
				"cache_bytes":   cacheBytes,
			}
		}
		enc, _ := json.Marshal(payload)
		fmt.Println(string(enc))
		return 0
	}

	if info.Partial {
		ui.Warn.Printf("%s is partially cached (stored %s)\n", repoName, info.Metadata.StoredAt)
		return 0
	}
	ui.Success.Printf("%s is cached (stored %s)\n", repoName, info.Metadata.StoredAt)

	if simErr != nil {
		ui.Dim.Printf("  (git/vfs status unavailable: %v)\n", simErr)
		return 0
	}
	status := sim.Status()
	repoInfo := sim.RepoInfo()
	entries, cacheBytes := tree.CacheStats()
	ui.Info.Printf("  branch: %s  remote: %s  tracked files: %d\n", status.Branch, status.RemoteURL, status.TrackedCount)
	ui.Info.Printf("  repo root: %s  is_git_repo: %v  has_remote: %v\n", repoInfo.RepoRoot, repoInfo.IsGitRepo, repoInfo.HasRemote)
	ui.Info.Printf("  vfs: %d files, %d languages, %d cache entries (%d bytes)\n",
		tree.TotalFiles(), len(tree.LanguageStats()), entries, cacheBytes)
	return 0
}

// buildRepoStatus reconstructs the VFS tree and GitSimulator for an
// already-cached repository, the same pattern open.go uses to serve content.
func (a *app) buildRepoStatus(ctx context.Context, repoName string) (*vfs.VFS, *gitsim.Simulator, error) {
	quartet, found, err := a.repoCache.Get(ctx, repoName)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, fmt.Errorf("status: %s vanished between existence check and load", repoName)
	}

	tree, err := vfs.BuildWithDiskCache(repoName, quartet.Content, a.indexCache, "content", quartet.Metadata.StoredAt, vfs.WithLogger(a.logger))
	if err != nil {
		return nil, nil, err
	}

	branch := quartet.Metadata.Extra["branch"]
	if branch == "" {
		branch = "main"
	}
	remoteURL := fmt.Sprintf("https://github.com/%s", repoName)
	return tree, gitsim.New(tree, repoName, branch, remoteURL), nil
}

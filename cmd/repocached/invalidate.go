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
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repocache/internal/ui"
)

func runInvalidate(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("invalidate", flag.ContinueOnError)
	yes := fs.BoolP("yes", "y", false, "Skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: repocached invalidate <repo> [--yes]")
		return 1
	}
	repoName := fs.Arg(0)

	if !*yes {
		fmt.Fprintf(os.Stderr, "This will evict all cached data for %s. Continue? [y/N] ", repoName)
		var resp string
		fmt.Scanln(&resp)
		if resp != "y" && resp != "Y" {
			fmt.Fprintln(os.Stderr, "aborted")
			return 1
		}
	}

	a, err := newApp(globals, configPath, nil)
	if err != nil {
		fatal(err, globals.JSON)
		return 1
	}
	defer a.Close()

	if err := a.repoCache.Invalidate(backgroundCtx(), repoName); err != nil {
		fatal(err, globals.JSON)
		return 1
	}
	for _, dataType := range []string{"content", "tree", "summary"} {
		if err := a.indexCache.Evict(repoName, dataType); err != nil {
			a.logger.Warn("invalidate.evict_disk_index_failed", "repo", repoName, "type", dataType, "error", err)
		}
	}
	ui.Success.Printf("✓ invalidated %s\n", repoName)
	return 0
}

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
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repocache/internal/errs"
	"github.com/kraklabs/repocache/internal/ui"
)

func runFetch(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	branch := fs.String("branch", "main", "Branch to fetch")
	tier := fs.String("tier", "free", "Tier to validate the request against")
	userID := fs.String("user", "", "User identifier for the access log")
	force := fs.Bool("force", false, "Re-fetch even if already cached")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: repocached fetch <repo-url> [--branch main] [--tier free] [--force]")
		return 1
	}
	repoURL := fs.Arg(0)

	a, err := newApp(globals, configPath, nil)
	if err != nil {
		fatal(err, globals.JSON)
		return 1
	}
	defer a.Close()

	bar := ui.NewProgressBar(1, fmt.Sprintf("fetching %s", repoURL), globals.Quiet)
	result, err := a.pipeline.Fetch(backgroundCtx(), repoURL, *branch, *tier, *userID, *force)
	_ = bar.Finish()
	if err != nil {
		if !globals.JSON {
			ue, _ := err.(*errs.UserError)
			if ue != nil {
				ui.Fail.Fprintf(os.Stderr, "✗ %s\n", ue.Title)
				fmt.Fprintf(os.Stderr, "  %s\n", ue.Message)
			} else {
				ui.Fail.Fprintf(os.Stderr, "✗ %v\n", err)
			}
			return 1
		}
		fatal(err, true)
		return 1
	}

	if globals.JSON {
		enc, _ := json.Marshal(map[string]any{
			"repo":             result.RepoName,
			"already_cached":   result.AlreadyCached,
			"estimated_tokens": result.EstimatedTokens,
		})
		fmt.Println(string(enc))
		return 0
	}

	if result.AlreadyCached {
		ui.Info.Printf("%s is already cached\n", result.RepoName)
	} else {
		ui.Success.Printf("✓ fetched %s (%d estimated tokens)\n", result.RepoName, result.EstimatedTokens)
	}
	return 0
}

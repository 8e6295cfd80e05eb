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
	"github.com/kraklabs/repocache/pkg/vfs"
)

func runOpen(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: repocached open <repo> <path>")
		return 1
	}
	repoName, path := fs.Arg(0), fs.Arg(1)

	a, err := newApp(globals, configPath, nil)
	if err != nil {
		fatal(err, globals.JSON)
		return 1
	}
	defer a.Close()

	ctx := backgroundCtx()
	quartet, found, err := a.repoCache.Get(ctx, repoName)
	if err != nil {
		fatal(err, globals.JSON)
		return 1
	}
	if !found {
		ui.Fail.Fprintf(os.Stderr, "✗ %s is not cached\n", repoName)
		return 1
	}

	tree, err := vfs.BuildWithDiskCache(repoName, quartet.Content, a.indexCache, "content", quartet.Metadata.StoredAt, vfs.WithLogger(a.logger))
	if err != nil {
		fatal(err, globals.JSON)
		return 1
	}

	content, ok := tree.Open(path)
	if !ok {
		ui.Fail.Fprintf(os.Stderr, "✗ %s not found in %s\n", path, repoName)
		return 1
	}
	fmt.Print(content)
	return 0
}

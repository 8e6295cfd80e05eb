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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repocache/internal/ui"
)

func runList(args []string, configPath string, globals GlobalFlags) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	a, err := newApp(globals, configPath, nil)
	if err != nil {
		fatal(err, globals.JSON)
		return 1
	}
	defer a.Close()

	entries, err := a.repoCache.List(backgroundCtx())
	if err != nil {
		fatal(err, globals.JSON)
		return 1
	}

	if globals.JSON {
		enc, _ := json.Marshal(entries)
		fmt.Println(string(enc))
		return 0
	}

	if len(entries) == 0 {
		ui.Dim.Println("(no repositories cached)")
		return 0
	}
	for _, e := range entries {
		fmt.Printf("%s  stored %s  types=%v\n", e.Name, e.StoredAt.Format("2006-01-02 15:04:05"), e.DataTypes)
	}
	return 0
}

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

// Package main implements the repocached CLI for fetching, browsing, and
// managing cached repository snapshots.
//
// Usage:
//
//	repocached fetch <repo-url> [--branch main] [--tier free] [--force]
//	repocached open <repo> <path>
//	repocached status <repo> [--json]
//	repocached list [--json]
//	repocached invalidate <repo>
//	repocached serve [--addr :9090]
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repocache/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .repocache/project.yaml (default: ./.repocache/project.yaml)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `repocached - cached repository access for AI code assistants

Usage:
  repocached <command> [options]

Commands:
  fetch         Fetch a repository into the cache
  open          Print a file's content from a cached repository
  status        Show a cached repository's metadata
  list          List cached repositories
  invalidate    Evict a repository from the cache
  serve         Expose Prometheus metrics over HTTP

Global Options:
  --json            Output in JSON format
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output
  -c, --config      Path to .repocache/project.yaml
  -V, --version     Show version and exit

Environment Variables:
  CACHE_URL          redis:// or rediss:// cache endpoint (required)
  STORAGE_DIR        Fallback local storage directory
  TIER_PLAN          Default tier to validate requests against

For detailed command help: repocached <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("repocached version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{JSON: *jsonOutput, NoColor: *noColor, Verbose: *verbose, Quiet: *quiet}
	ui.InitColors(globals.NoColor)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "fetch":
		os.Exit(runFetch(cmdArgs, *configPath, globals))
	case "open":
		os.Exit(runOpen(cmdArgs, *configPath, globals))
	case "status":
		os.Exit(runStatus(cmdArgs, *configPath, globals))
	case "list":
		os.Exit(runList(cmdArgs, *configPath, globals))
	case "invalidate":
		os.Exit(runInvalidate(cmdArgs, *configPath, globals))
	case "serve":
		os.Exit(runServe(cmdArgs, *configPath, globals))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}

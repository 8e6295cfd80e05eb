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
	"path"
	"strings"
)

var extensionLanguages = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".go":    "go",
	".rs":    "rust",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "bash",
	".bash":  "bash",
	".ps1":   "powershell",
	".html":  "html",
	".css":   "css",
	".md":    "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".sql":   "sql",
}

var specialFilenames = map[string]struct{}{
	"dockerfile": {},
	"makefile":   {},
	"rakefile":   {},
	"gemfile":    {},
}

var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".ico": {}, ".bmp": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".bz2": {}, ".7z": {},
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".a": {}, ".o": {},
	".pdf": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".mp3": {}, ".mp4": {}, ".mov": {}, ".wasm": {},
}

// DetectLanguage classifies a path by extension, with special-case handling
// for extensionless conventional filenames.
func DetectLanguage(filePath string) string {
	base := strings.ToLower(path.Base(filePath))
	if _, ok := specialFilenames[base]; ok {
		return base
	}
	ext := strings.ToLower(path.Ext(base))
	if lang, ok := extensionLanguages[ext]; ok {
		return lang
	}
	return "text"
}

// IsBinaryPath reports whether a path's extension marks it as binary. The
// file is still indexed; only Open's caller-facing interpretation differs.
func IsBinaryPath(filePath string) bool {
	ext := strings.ToLower(path.Ext(filePath))
	_, ok := binaryExtensions[ext]
	return ok
}

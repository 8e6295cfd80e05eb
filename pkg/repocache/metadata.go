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

package repocache

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Metadata is the typed record stored at repo:{name}:metadata. It replaces
// the wire format's free-form "k:v,k:v" string with a real struct, while
// Serialize/ParseMetadata still produce and consume that exact format.
type Metadata struct {
	StoredAt     time.Time
	RepoName     string
	DataTypes    map[string]struct{}
	ChunkedTypes map[string]struct{}
	Extra        map[string]string
}

// Serialize renders m as "k:v,k:v,..." with set-valued fields ";"-joined.
func (m Metadata) Serialize() string {
	pairs := []string{
		"stored_at:" + m.StoredAt.UTC().Format(time.RFC3339),
		"repo_name:" + m.RepoName,
		"data_types:" + joinSorted(m.DataTypes),
		"chunked_types:" + joinSorted(m.ChunkedTypes),
	}
	for _, k := range sortedKeys(m.Extra) {
		pairs = append(pairs, "x_"+k+":"+m.Extra[k])
	}
	return strings.Join(pairs, ",")
}

// ParseMetadata parses the wire format produced by Serialize. Paths within
// values must not contain ",", which the format does not escape.
func ParseMetadata(s string) (Metadata, error) {
	m := Metadata{
		DataTypes:    map[string]struct{}{},
		ChunkedTypes: map[string]struct{}{},
		Extra:        map[string]string{},
	}
	for _, pair := range strings.Split(s, ",") {
		if pair == "" {
			continue
		}
		// Split on the first colon only: keys never contain one, while
		// values may (stored_at's RFC3339 time does), and stay whole.
		idx := strings.Index(pair, ":")
		if idx < 0 {
			return Metadata{}, fmt.Errorf("repocache: malformed metadata field %q", pair)
		}
		key, value := pair[:idx], pair[idx+1:]
		switch {
		case key == "stored_at":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return Metadata{}, fmt.Errorf("repocache: bad stored_at: %w", err)
			}
			m.StoredAt = t
		case key == "repo_name":
			m.RepoName = value
		case key == "data_types":
			m.DataTypes = toSet(value)
		case key == "chunked_types":
			m.ChunkedTypes = toSet(value)
		case strings.HasPrefix(key, "x_"):
			m.Extra[strings.TrimPrefix(key, "x_")] = value
		}
	}
	return m, nil
}

func joinSorted(set map[string]struct{}) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ";")
}

func toSet(joined string) map[string]struct{} {
	set := map[string]struct{}{}
	if joined == "" {
		return set
	}
	for _, s := range strings.Split(joined, ";") {
		set[s] = struct{}{}
	}
	return set
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

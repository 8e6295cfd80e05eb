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

// Package result provides a small three-way outcome type for operations
// that can succeed, be denied by policy, or fail with a service error —
// replacing exception-style control flow with an explicit return value.
package result

import "github.com/kraklabs/repocache/internal/errs"

// Outcome distinguishes why a Result is not Ok.
type Outcome int

const (
	Ok Outcome = iota
	Denied
	ServiceError
)

// Result[T] carries exactly one of: a value (Ok), a denial message
// (Denied), or a service error (ServiceError).
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Reason  string
	Err     *errs.UserError
}

func Success[T any](v T) Result[T] {
	return Result[T]{Outcome: Ok, Value: v}
}

func Deny[T any](reason string) Result[T] {
	return Result[T]{Outcome: Denied, Reason: reason}
}

func Fail[T any](err *errs.UserError) Result[T] {
	return Result[T]{Outcome: ServiceError, Err: err}
}

func (r Result[T]) IsOk() bool { return r.Outcome == Ok }

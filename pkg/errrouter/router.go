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

// Package errrouter classifies failures into a (category, severity, action)
// triple, retries or falls back as the action dictates, and produces a
// stable user-facing error record keyed by error_id.
package errrouter

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/kraklabs/repocache/internal/errs"
	"github.com/kraklabs/repocache/pkg/fallback"
)

// Severity ranks how serious a classified error is.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Action is the recovery action chosen for a classified error.
type Action string

const (
	ActionRetry    Action = "Retry"
	ActionFallback Action = "Fallback"
	ActionReset    Action = "Reset"
	ActionCleanup  Action = "Cleanup"
	ActionAbort    Action = "Abort"
	ActionIgnore   Action = "Ignore"
)

var classification = map[errs.Category]struct {
	Severity Severity
	Action   Action
}{
	errs.CategoryRedisConnection: {SeverityHigh, ActionRetry},
	errs.CategoryRedisOperation:  {SeverityMedium, ActionFallback},
	errs.CategoryCacheInit:       {SeverityHigh, ActionReset},
	errs.CategoryCacheProcessing: {SeverityMedium, ActionFallback},
	errs.CategoryVFS:             {SeverityLow, ActionFallback},
	errs.CategoryMemory:          {SeverityCritical, ActionCleanup},
	errs.CategoryTimeout:         {SeverityMedium, ActionRetry},
	errs.CategoryAuth:            {SeverityHigh, ActionAbort},
	errs.CategoryValidation:      {SeverityLow, ActionIgnore},
}

// ErrorInfo is the structured record produced once retries/fallbacks are
// exhausted for a classified error.
type ErrorInfo struct {
	ErrorID        string
	Timestamp      time.Time
	Component      string
	Category       errs.Category
	Severity       Severity
	Message        string
	Context        map[string]string
	RecoveryAction Action
	RetryCount     int
}

// RetryConfig mirrors the shape used across this module wherever a bounded
// retry loop is needed.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	return c
}

// Router runs operations through classification, retry, and fallback.
type Router struct {
	fallbacks *fallback.Registry
	logger    *slog.Logger
}

func New(fallbacks *fallback.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{fallbacks: fallbacks, logger: logger}
}

// Classify maps an error to its (category, severity, action) triple.
func Classify(err error) (errs.Category, Severity, Action) {
	var ue *errs.UserError
	category := errs.CategoryUnknown
	if errors.As(err, &ue) {
		category = ue.Category
	}
	cls, ok := classification[category]
	if !ok {
		return category, SeverityMedium, ActionRetry
	}
	return category, cls.Severity, cls.Action
}

// Execute runs fn, retrying on ActionRetry classifications and falling back
// to registered alternatives for operation on ActionFallback classifications.
// On exhaustion it returns a nil value along with an ErrorInfo describing
// the last failure; callers decide whether to propagate it.
func (r *Router) Execute(ctx context.Context, component, operation string, cfg RetryConfig, fn func(context.Context) (any, error)) (any, *ErrorInfo) {
	cfg = cfg.withDefaults()

	var lastErr error
	var lastCategory errs.Category
	var lastSeverity Severity
	var lastAction Action
	retries := 0

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		lastCategory, lastSeverity, lastAction = Classify(err)

		switch lastAction {
		case ActionIgnore:
			return value, nil
		case ActionRetry:
			retries = attempt
			if attempt < cfg.MaxRetries {
				delay := backoff(cfg, attempt)
				select {
				case <-ctx.Done():
					return nil, r.buildInfo(component, lastCategory, lastSeverity, lastAction, ctx.Err(), retries)
				case <-time.After(delay):
				}
				continue
			}
		case ActionFallback:
			if r.fallbacks != nil {
				if v, fbErr := r.fallbacks.ExecuteFallbacksOnly(ctx, operation); fbErr == nil {
					return v, nil
				}
			}
		}
		break
	}

	return nil, r.buildInfo(component, lastCategory, lastSeverity, lastAction, lastErr, retries)
}

func (r *Router) buildInfo(component string, category errs.Category, severity Severity, action Action, err error, retries int) *ErrorInfo {
	info := &ErrorInfo{
		ErrorID:        newErrorID(),
		Timestamp:      time.Now().UTC(),
		Component:      component,
		Category:       category,
		Severity:       severity,
		Message:        errMessage(err),
		RecoveryAction: action,
		RetryCount:     retries,
	}
	r.logger.Error("errrouter.exhausted", "error_id", info.ErrorID, "component", component,
		"category", category, "severity", severity, "action", action, "error", err)
	return info
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	d := cfg.InitialBackoff
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * cfg.Multiplier)
		if d > cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	return d
}

func newErrorID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// UserFacing is what an external caller sees for a classified error.
type UserFacing struct {
	ErrorID            string
	Type               string
	Title              string
	Message            string
	SuggestedActions   []string
	RetryAvailable     bool
	FallbackAvailable  bool
}

// ToUserFacing converts an ErrorInfo into the stable user-facing shape.
func ToUserFacing(info *ErrorInfo) UserFacing {
	errType, title, suggestions := userFacingMapping(info.Component, info.Severity)
	return UserFacing{
		ErrorID:           info.ErrorID,
		Type:              errType,
		Title:             title,
		Message:           info.Message,
		SuggestedActions:  suggestions,
		RetryAvailable:    info.RecoveryAction == ActionRetry,
		FallbackAvailable: info.RecoveryAction == ActionFallback,
	}
}

func userFacingMapping(component string, severity Severity) (errType, title string, suggestions []string) {
	switch {
	case severity == SeverityCritical:
		return "service_temporarily_unavailable", "Service temporarily unavailable",
			[]string{"Retry in a few minutes", "Contact support if this persists"}
	case component == "cacheclient":
		return "cache_access_failed", "Cache access failed",
			[]string{"Check cache connectivity", "Retry the request"}
	case component == "repocache" || component == "ingest":
		return "repository_processing_failed", "Repository processing failed",
			[]string{"Retry the ingest", "Verify the repository URL and branch"}
	case severity == SeverityLow:
		return "validation_failed", "Request validation failed", []string{"Check the request parameters"}
	default:
		return "unknown_error", "An unexpected error occurred", []string{"Retry the request", "Contact support if this persists"}
	}
}

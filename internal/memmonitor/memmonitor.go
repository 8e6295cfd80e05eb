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

// Package memmonitor samples process RSS on a ticker and invokes registered
// cleanup callbacks when memory pressure crosses a critical threshold.
package memmonitor

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Monitor periodically checks heap usage and runs cleanup callbacks when the
// critical threshold is crossed. It is safe to register callbacks from
// multiple goroutines.
type Monitor struct {
	thresholdBytes uint64
	interval       time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	callbacks []func()
}

// New creates a Monitor. thresholdMB is the RSS (approximated via
// runtime.MemStats.Sys) above which cleanup callbacks fire.
func New(thresholdMB int, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		thresholdBytes: uint64(thresholdMB) * 1024 * 1024,
		interval:       15 * time.Second,
		logger:         logger,
	}
}

// RegisterCleanup adds a callback invoked (at most once per crossing) when
// memory pressure is detected.
func (m *Monitor) RegisterCleanup(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// Run blocks, sampling memory until ctx is canceled. Intended to be started
// in its own goroutine from a CLI entry point.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	wasOverThreshold := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			over := stats.Sys >= m.thresholdBytes
			if over && !wasOverThreshold {
				m.logger.Warn("memmonitor.threshold.crossed",
					"sys_bytes", stats.Sys, "threshold_bytes", m.thresholdBytes)
				m.runCleanup()
			}
			wasOverThreshold = over
		}
	}
}

func (m *Monitor) runCleanup() {
	m.mu.Lock()
	callbacks := append([]func(){}, m.callbacks...)
	m.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

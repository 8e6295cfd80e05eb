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

// Package cacheclient provides a pooled, retrying, TLS-aware client over a
// Redis-compatible key/value store. It is the sole owner of the connection
// pool backing every other package in this module.
package cacheclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/kraklabs/repocache/internal/errs"
)

// TLSConfig controls transport security for the cache connection.
type TLSConfig struct {
	Enabled  bool
	CertReqs string // "none", "optional", or "required" (default)
}

// Config configures a Client.
type Config struct {
	URL                 string
	Password            string
	TLS                 TLSConfig
	MaxConnections      int
	SocketTimeout       time.Duration
	MaxRetries          int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	Multiplier          float64
	HealthCheckInterval time.Duration

	// allowLoopback bypasses the local/loopback endpoint rejection. Only
	// set by NewForTest.
	allowLoopback bool
}

func (c *Config) setDefaults() {
	if c.MaxConnections == 0 {
		c.MaxConnections = 20
	}
	if c.SocketTimeout == 0 {
		c.SocketTimeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2.0
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	if c.TLS.CertReqs == "" {
		c.TLS.CertReqs = "required"
	}
}

// PipelineOp is a single operation submitted to Pipeline.
type PipelineOp struct {
	Kind  string // "get", "set", "del"
	Key   string
	Value string
	TTL   time.Duration
}

// PipelineResult is the outcome of one PipelineOp, in input order.
type PipelineResult struct {
	Value string
	Found bool
	Err   error
}

// Client is a pooled, retrying cache client. One Client owns one connection
// pool for the lifetime of the process.
type Client struct {
	rdb    *redis.Client
	cfg    Config
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu         sync.Mutex
	closed     bool
	stopHealth chan struct{}
}

// New creates a Client. Local/loopback endpoints are rejected — this client
// is meant to talk to a real remote cache deployment.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	return newClient(cfg, logger)
}

// NewForTest creates a Client that permits loopback endpoints, for use with
// an in-memory server such as miniredis.
func NewForTest(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.allowLoopback = true
	return newClient(cfg, logger)
}

func newClient(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg.setDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errs.NewValidationError(
			"Invalid CACHE_URL",
			fmt.Sprintf("could not parse %q as a redis URL: %v", cfg.URL, err),
			"Use a redis://host:port/db or rediss://host:port/db URL",
		)
	}

	if !cfg.allowLoopback {
		if err := rejectLoopback(opts.Addr); err != nil {
			return nil, err
		}
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.PoolSize = cfg.MaxConnections
	opts.DialTimeout = cfg.SocketTimeout
	opts.ReadTimeout = cfg.SocketTimeout
	opts.WriteTimeout = cfg.SocketTimeout

	if cfg.TLS.Enabled || strings.HasPrefix(cfg.URL, "rediss://") {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLS.CertReqs == "none", //nolint:gosec // explicit opt-in for cloud endpoints with hostname-only trust
		}
	}

	rdb := redis.NewClient(opts)

	c := &Client{
		rdb:        rdb,
		cfg:        cfg,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConnections)),
		stopHealth: make(chan struct{}),
	}

	go c.healthCheckLoop()

	return c, nil
}

func rejectLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return loopbackErr(addr)
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return loopbackErr(addr)
	}
	return nil
}

func loopbackErr(addr string) error {
	return errs.NewValidationError(
		"Loopback cache endpoint rejected",
		fmt.Sprintf("CACHE_URL resolves to a loopback address (%s)", addr),
		"Point CACHE_URL at a real remote cache deployment, or use NewForTest for local/dev testing",
	)
}

func (c *Client) healthCheckLoop() {
	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopHealth:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SocketTimeout)
			if err := c.rdb.Ping(ctx).Err(); err != nil {
				c.logger.Warn("cache.healthcheck.failed", "error", err)
			}
			cancel()
		}
	}
}

// Close releases the connection pool and stops the health checker. Safe to
// call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.stopHealth)
	return c.rdb.Close()
}

// Ping verifies connectivity, retrying transient failures.
func (c *Client) Ping(ctx context.Context) error {
	return c.withRetry(ctx, "ping", func(ctx context.Context) error {
		return c.rdb.Ping(ctx).Err()
	})
}

// Get fetches a single key. found is false on a cache miss (not an error).
func (c *Client) Get(ctx context.Context, key string) (value string, found bool, err error) {
	err = c.withRetry(ctx, "get", func(ctx context.Context) error {
		v, getErr := c.rdb.Get(ctx, key).Result()
		if errors.Is(getErr, redis.Nil) {
			found = false
			return nil
		}
		if getErr != nil {
			return getErr
		}
		value, found = v, true
		return nil
	})
	return value, found, err
}

// Set stores a key with an optional TTL (0 = no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.withRetry(ctx, "set", func(ctx context.Context) error {
		return c.rdb.Set(ctx, key, value, ttl).Err()
	})
}

// Delete removes zero or more keys, returning the count actually removed.
func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var n int64
	err := c.withRetry(ctx, "delete", func(ctx context.Context) error {
		v, delErr := c.rdb.Del(ctx, keys...).Result()
		n = v
		return delErr
	})
	return n, err
}

// Exists reports how many of the given keys are present.
func (c *Client) Exists(ctx context.Context, keys ...string) (int64, error) {
	var n int64
	err := c.withRetry(ctx, "exists", func(ctx context.Context) error {
		v, existsErr := c.rdb.Exists(ctx, keys...).Result()
		n = v
		return existsErr
	})
	return n, err
}

// Scan iterates all keys matching pattern using cursor-based SCAN, never
// the blocking KEYS command.
func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := c.withRetry(ctx, "scan", func(ctx context.Context) error {
		keys = keys[:0]
		var cursor uint64
		for {
			batch, next, scanErr := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
			if scanErr != nil {
				return scanErr
			}
			keys = append(keys, batch...)
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	return keys, err
}

// Pipeline executes all ops as a single round-trip. Results are returned in
// input order; if any op errors (a get miss is not an error), the whole
// call fails and no partial results are returned.
func (c *Client) Pipeline(ctx context.Context, ops []PipelineOp) ([]PipelineResult, error) {
	results := make([]PipelineResult, len(ops))
	err := c.withRetry(ctx, "pipeline", func(ctx context.Context) error {
		pipe := c.rdb.Pipeline()
		cmds := make([]redis.Cmder, len(ops))
		for i, op := range ops {
			switch op.Kind {
			case "get":
				cmds[i] = pipe.Get(ctx, op.Key)
			case "set":
				cmds[i] = pipe.Set(ctx, op.Key, op.Value, op.TTL)
			case "del":
				cmds[i] = pipe.Del(ctx, op.Key)
			default:
				return fmt.Errorf("cacheclient: unknown pipeline op kind %q", op.Kind)
			}
		}
		_, execErr := pipe.Exec(ctx)
		if execErr != nil && !errors.Is(execErr, redis.Nil) {
			// A non-nil, non-redis.Nil error means the round-trip itself
			// failed (connection-level) — let withRetry handle it.
			if isTransient(execErr) {
				return execErr
			}
		}
		for i, cmd := range cmds {
			switch v := cmd.(type) {
			case *redis.StringCmd:
				s, getErr := v.Result()
				if errors.Is(getErr, redis.Nil) {
					results[i] = PipelineResult{Found: false}
				} else if getErr != nil {
					return getErr
				} else {
					results[i] = PipelineResult{Value: s, Found: true}
				}
			case *redis.StatusCmd:
				if _, setErr := v.Result(); setErr != nil {
					return setErr
				}
				results[i] = PipelineResult{}
			case *redis.IntCmd:
				if _, delErr := v.Result(); delErr != nil {
					return delErr
				}
				results[i] = PipelineResult{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// withRetry runs fn, retrying transient failures up to cfg.MaxRetries times
// with exponential backoff and +-25% jitter. Non-transient errors fail
// immediately. Concurrency into the store is bounded by sem.
func (c *Client) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return errs.NewTimeoutError("Cache pool exhausted",
			fmt.Sprintf("timed out waiting for a cache connection slot for %q", op), "Increase CACHE_MAX_CONNECTIONS or reduce concurrency", err)
	}
	defer c.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(c.cfg.InitialBackoff, c.cfg.MaxBackoff, c.cfg.Multiplier, attempt)
			select {
			case <-ctx.Done():
				return errs.NewTimeoutError("Cache operation canceled",
					fmt.Sprintf("%s canceled while backing off", op), "", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return errs.NewOperationError("Cache operation failed",
				fmt.Sprintf("%s failed: %v", op, err), "", err)
		}
		c.logger.Warn("cache.retry", "op", op, "attempt", attempt, "error", err)
	}
	return errs.NewConnectionError("Cache unavailable",
		fmt.Sprintf("%s failed after %d retries: %v", op, c.cfg.MaxRetries, lastErr),
		"Check that the cache deployment is reachable and credentials are correct", lastErr)
}

func backoffDelay(initial, max time.Duration, multiplier float64, attempt int) time.Duration {
	d := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if d > float64(max) {
		d = float64(max)
	}
	jitter := d * 0.25 * (rand.Float64()*2 - 1)
	result := time.Duration(d + jitter)
	if result < 0 {
		result = 0
	}
	return result
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{"connection refused", "connection reset", "broken pipe", "i/o timeout", "EOF", "dial tcp"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

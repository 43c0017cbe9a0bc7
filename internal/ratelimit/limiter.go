// Package ratelimit provides a Redis-backed fixed-window rate limiter
// shared across all service instances.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/coloring-service/internal/logging"
	"github.com/redis/go-redis/v9"
)

// Default limiter configuration values.
const (
	DefaultMaxRequests = 5
	DefaultWindow      = time.Hour
)

// incrScript atomically increments the window counter and sets its TTL on
// first use. The request that pushes the count over the limit is itself
// rejected but still recorded.
var incrScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

// Result is the outcome of an admission check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per identifier within fixed time windows.
// Independent limiter instances are namespaced by key prefix and do not
// interfere with each other's counters.
type Limiter struct {
	redis       redis.Cmdable
	keyPrefix   string
	maxRequests int
	window      time.Duration
	metrics     *Metrics
	logger      *logging.Logger

	// now is overridable in tests.
	now func() time.Time
}

// Config holds configuration for a limiter instance.
type Config struct {
	// Redis is the shared Redis client. Required.
	Redis redis.Cmdable

	// KeyPrefix namespaces this limiter's counters (e.g. "generate").
	// Required.
	KeyPrefix string

	// MaxRequests is the number of requests allowed per window.
	// Default: 5.
	MaxRequests int

	// Window is the fixed window duration. Default: 1h.
	Window time.Duration

	// Logger is an optional logger for fail-open events.
	Logger *logging.Logger
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.KeyPrefix == "" {
		return errors.New("key prefix is required")
	}
	if c.MaxRequests < 0 {
		return errors.New("max requests cannot be negative")
	}
	if c.Window < 0 {
		return errors.New("window cannot be negative")
	}
	return nil
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(cfg *Config) (*Limiter, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	maxRequests := cfg.MaxRequests
	if maxRequests == 0 {
		maxRequests = DefaultMaxRequests
	}

	window := cfg.Window
	if window == 0 {
		window = DefaultWindow
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Limiter{
		redis:       cfg.Redis,
		keyPrefix:   cfg.KeyPrefix,
		maxRequests: maxRequests,
		window:      window,
		metrics:     NewMetrics(),
		logger:      logger,
		now:         time.Now,
	}, nil
}

// MaxRequests returns the configured per-window limit.
func (l *Limiter) MaxRequests() int {
	return l.maxRequests
}

// Metrics returns the limiter's counters.
func (l *Limiter) Metrics() *Metrics {
	return l.metrics
}

// windowStart returns the boundary of the window containing t:
// floor(t / window) * window.
func (l *Limiter) windowStart(t time.Time) time.Time {
	return t.Truncate(l.window)
}

// key builds the counter key for (prefix, identifier, window_start).
func (l *Limiter) key(identifier string, windowStart time.Time) string {
	return "rl:" + l.keyPrefix + ":" + identifier + ":" + strconv.FormatInt(windowStart.Unix(), 10)
}

// Check records one request for the identifier and reports whether it is
// admitted. Any storage error fails open: availability is prioritized over
// strict enforcement, and the event is logged and counted so sustained
// outages remain observable.
func (l *Limiter) Check(ctx context.Context, identifier string) Result {
	now := l.now()
	windowStart := l.windowStart(now)
	resetAt := windowStart.Add(l.window)

	count, err := incrScript.Run(ctx, l.redis,
		[]string{l.key(identifier, windowStart)},
		l.window.Milliseconds(),
	).Int()
	if err != nil {
		l.metrics.RecordFailOpen()
		l.logger.WithError(err).WithFields(map[string]interface{}{
			"prefix":     l.keyPrefix,
			"identifier": identifier,
		}).Error("rate limit check failed, failing open")

		return Result{
			Allowed:   true,
			Remaining: l.maxRequests - 1,
			ResetAt:   resetAt,
		}
	}

	remaining := l.maxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	// Evaluated after the increment: the over-limit request is recorded.
	allowed := count <= l.maxRequests
	if allowed {
		l.metrics.RecordAllowed()
	} else {
		l.metrics.RecordRejected()
	}

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

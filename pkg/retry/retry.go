// Package retry runs an operation again while its error is worth retrying,
// and exposes the exponential delay policy on its own for callers that
// stretch a polling interval instead of looping.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config holds retry configuration.
type Config struct {
	// MaxAttempts counts the first attempt too.
	MaxAttempts int

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// JitterFactor spreads each delay by +/- this fraction.
	JitterFactor float64

	// RetryIf decides whether err earns another attempt. Nil retries every error.
	RetryIf func(error) bool

	// OnRetry runs before the wait that precedes the next attempt.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns three attempts starting at 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Option is a functional option for configuring retries.
type Option func(*Config)

// WithMaxAttempts sets the maximum number of attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the delay before the first retry. Zero retries immediately.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d >= 0 {
			c.InitialDelay = d
		}
	}
}

// WithMaxDelay caps the delay between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1.0 {
			c.Multiplier = m
		}
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1.0 {
			c.JitterFactor = j
		}
	}
}

// WithRetryIf restricts retries to errors matching fn.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		c.RetryIf = fn
	}
}

// WithOnRetry registers a callback run before each retry.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}

// Retrier runs operations under one Config.
type Retrier struct {
	config Config
}

// New creates a Retrier from the defaults and opts.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config}
}

// Do runs operation until it succeeds, returns an error RetryIf rejects, or
// runs out of attempts. The last operation error wins over a context error.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error
	backoff := r.config.Backoff()

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := backoff.Delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// Do creates a Retrier from opts and runs operation with it.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, operation)
}

// Backoff returns the delay policy described by the config.
func (c Config) Backoff() Backoff {
	return Backoff{
		Initial:    c.InitialDelay,
		Max:        c.MaxDelay,
		Multiplier: c.Multiplier,
		Jitter:     c.JitterFactor,
	}
}

// Backoff is an exponential delay policy.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Delay returns the delay after the given number of consecutive failures
// (1-based): Initial * Multiplier^(attempt-1), capped at Max, with jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Initial <= 0 {
		return 0
	}
	multiplier := math.Max(b.Multiplier, 1.0)

	d := float64(b.Initial) * math.Pow(multiplier, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// DatabaseRetrier returns a Retrier tuned for short store writes. Extra
// options are applied after the defaults.
func DatabaseRetrier(opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(3),
		WithInitialDelay(50 * time.Millisecond),
		WithMaxDelay(1 * time.Second),
		WithMultiplier(2.0),
		WithJitter(0.05),
	}
	return New(append(base, opts...)...)
}

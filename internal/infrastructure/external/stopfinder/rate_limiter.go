package stopfinder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiterConfig contains configuration for upstream pacing.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate
	RequestsPerSecond float64

	// BurstSize is how many requests may go out back to back
	BurstSize int

	// WaitTimeout caps how long a request waits for its turn
	WaitTimeout time.Duration

	// RetryAfter is the pause after a 429 that carries no Retry-After header
	RetryAfter time.Duration
}

// DefaultRateLimiterConfig returns conservative defaults for the schedule API.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 1.0,
		BurstSize:         3, // login + client key + schedule
		WaitTimeout:       10 * time.Second,
		RetryAfter:        60 * time.Second,
	}
}

// RateLimitError is returned when a request cannot get a turn in time, or
// when the upstream answered 429.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// pauseSlack absorbs the nanosecond rounding of the limiter's token math.
const pauseSlack = time.Millisecond

// pacer spaces out upstream calls. The schedule service is an unofficial
// mobile API, so calls are paced even though a cycle makes only a handful.
type pacer struct {
	limiter     *rate.Limiter
	limit       rate.Limit
	burst       int
	waitTimeout time.Duration
	retryAfter  time.Duration

	mu          sync.Mutex
	pausedUntil time.Time
}

func newPacer(config RateLimiterConfig) *pacer {
	defaults := DefaultRateLimiterConfig()
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.BurstSize <= 0 {
		config.BurstSize = defaults.BurstSize
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = defaults.WaitTimeout
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = defaults.RetryAfter
	}

	limit := rate.Limit(config.RequestsPerSecond)
	return &pacer{
		limiter:     rate.NewLimiter(limit, config.BurstSize),
		limit:       limit,
		burst:       config.BurstSize,
		waitTimeout: config.WaitTimeout,
		retryAfter:  config.RetryAfter,
	}
}

// Wait blocks until the next request may go out. It fails fast when the turn
// would come after the wait timeout or the caller's deadline.
func (p *pacer) Wait(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.waitTimeout)
	defer cancel()

	if err := p.limiter.Wait(ctx); err != nil {
		return &RateLimitError{Message: fmt.Sprintf("no request slot: %v", err)}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.pausedUntil.IsZero() {
		if now := time.Now(); !now.Before(p.pausedUntil.Add(-pauseSlack)) {
			p.limiter.SetLimitAt(now, p.limit)
			p.limiter.SetBurstAt(now, p.burst)
			p.pausedUntil = time.Time{}
		}
	}
	return nil
}

// Pause holds back every request for at least d, then resumes the configured
// pace. A non-positive d uses the default Retry-After.
func (p *pacer) Pause(d time.Duration) time.Duration {
	if d <= 0 {
		d = p.retryAfter
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.limiter.SetLimitAt(now, rate.Every(d))
	p.limiter.SetBurstAt(now, 1)
	p.limiter.ReserveN(now, 1)
	p.pausedUntil = now.Add(d)
	return d
}

// RateLimiterStatus is a point-in-time view of the pacer.
type RateLimiterStatus struct {
	Limit       float64   `json:"limit_per_second"`
	Burst       int       `json:"burst"`
	Tokens      float64   `json:"tokens"`
	PausedUntil time.Time `json:"paused_until,omitempty"`
}

// Status reports the current limit, burst and available tokens.
func (p *pacer) Status() RateLimiterStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	return RateLimiterStatus{
		Limit:       float64(p.limiter.Limit()),
		Burst:       p.limiter.Burst(),
		Tokens:      p.limiter.TokensAt(now),
		PausedUntil: p.pausedUntil,
	}
}

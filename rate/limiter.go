// Package rate enforces fixed-window rate limits over an atomic counter
// store. The caller composes the key (IP, user ID, or both); the limiter
// guarantees no more than Capacity admissions per Window per key, including
// under concurrent arrival, because admission is a single atomic
// increment-with-TTL on the store.
package rate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable reports a transient counter-store failure. Callers
	// must not interpret it as a rate-limit denial.
	ErrStoreUnavailable = errors.New("rate counter store unavailable")
)

// Result is the outcome of one admission attempt.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// CounterStore is the atomic counter primitive behind the limiter.
type CounterStore interface {
	// IncrWithTTL atomically increments key, starting the TTL window when
	// the key is created, and returns the post-increment count together
	// with the time left in the current window.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (count int64, remaining time.Duration, err error)

	// Reset clears the counter for key.
	Reset(ctx context.Context, key string) error
}

// Config tunes the limiter.
type Config struct {
	Capacity int
	Window   time.Duration
}

// Limiter is a fixed-window rate limiter.
type Limiter struct {
	store CounterStore
	cfg   Config
}

// NewLimiter validates configuration and returns a limiter.
func NewLimiter(store CounterStore, cfg Config) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("nil counter store")
	}
	if cfg.Capacity <= 0 {
		return nil, errors.New("capacity must be positive")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("window must be positive")
	}
	return &Limiter{store: store, cfg: cfg}, nil
}

// Check attempts one admission for key. A denied result carries the time
// until the window resets so callers can avoid retry storms.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	count, remaining, err := l.store.IncrWithTTL(ctx, key, l.cfg.Window)
	if err != nil {
		return Result{}, err
	}

	if count > int64(l.cfg.Capacity) {
		return Result{Allowed: false, Remaining: 0, RetryAfter: remaining}, nil
	}

	left := l.cfg.Capacity - int(count)
	if left < 0 {
		left = 0
	}
	return Result{Allowed: true, Remaining: left}, nil
}

// Reset clears the window for key, e.g. after a successful credential
// presentation.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

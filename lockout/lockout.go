// Package lockout implements brute-force protection: a sliding-window
// failure counter per identifier (and optionally per IP) that escalates to a
// timed lockout with exponential backoff.
package lockout

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable reports a transient lockout-store failure, distinct
// from a lockout decision.
var ErrStoreUnavailable = errors.New("lockout store unavailable")

// Policy selects which key the failure counter and the lock attach to.
type Policy int

const (
	// KeyByBoth, the default, counts per identifier+IP pair and locks the
	// identifier, so one noisy IP cannot lock an account being used
	// legitimately elsewhere, while a distributed attack on one account
	// still converges on its lock.
	KeyByBoth Policy = iota
	// KeyByIdentifier counts and locks on the account identifier alone.
	KeyByIdentifier
	// KeyByIP counts and locks on the source IP alone.
	KeyByIP
)

// Config tunes the protection state machine.
type Config struct {
	FailureThreshold int
	Window           time.Duration
	BaseBackoff      time.Duration
	MaxBackoff       time.Duration
	Policy           Policy

	// Now overrides the clock for deterministic tests.
	Now func() time.Time
}

// Status describes the lockout state of one identifier.
type Status struct {
	Identifier  string
	Locked      bool
	LockedUntil time.Time
	Failures    int
	RetryAfter  time.Duration
}

// Store is the persistence behind the state machine. Counter mutations must
// be atomic increment-with-TTL operations; lost updates would let an
// attacker exceed the threshold.
type Store interface {
	// IncrFailures atomically bumps the failure counter, starting the
	// window TTL when the counter is created.
	IncrFailures(ctx context.Context, key string, window time.Duration) (int64, error)

	// GetFailures reads the counter without mutating it.
	GetFailures(ctx context.Context, key string) (int64, error)

	// ResetFailures clears the counter.
	ResetFailures(ctx context.Context, key string) error

	// IncrStrikes bumps the repeat-lockout counter used for backoff
	// escalation; ttl bounds how long escalation history is remembered.
	IncrStrikes(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SetLock records a lock until the given time, expiring on its own.
	SetLock(ctx context.Context, key string, until time.Time) error

	// GetLock returns the lock deadline, or ok=false when not locked.
	GetLock(ctx context.Context, key string) (until time.Time, ok bool, err error)

	// ClearLock removes the lock record.
	ClearLock(ctx context.Context, key string) error
}

// BruteForce is the per-identifier lockout state machine.
type BruteForce struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// New validates the configuration and returns the protection instance.
func New(store Store, cfg Config) (*BruteForce, error) {
	if store == nil {
		return nil, errors.New("nil lockout store")
	}
	if cfg.FailureThreshold <= 0 {
		return nil, errors.New("failure threshold must be positive")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("window must be positive")
	}
	if cfg.BaseBackoff <= 0 {
		return nil, errors.New("base backoff must be positive")
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		return nil, errors.New("max backoff must be >= base backoff")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &BruteForce{store: store, cfg: cfg, now: now}, nil
}

func (b *BruteForce) countKey(identifier, ip string) string {
	switch b.cfg.Policy {
	case KeyByIP:
		return "ip:" + ip
	case KeyByBoth:
		return "id:" + identifier + ":" + ip
	default:
		return "id:" + identifier
	}
}

func (b *BruteForce) lockKey(identifier, ip string) string {
	if b.cfg.Policy == KeyByIP {
		return "ip:" + ip
	}
	return "id:" + identifier
}

// RecordAttempt feeds one login attempt into the state machine and returns
// the resulting status. A success while unlocked resets the failure count; a
// failure that reaches the threshold inside the window locks the key for
// BaseBackoff·2^(lockouts-1), capped at MaxBackoff.
func (b *BruteForce) RecordAttempt(ctx context.Context, identifier, ip string, success bool) (Status, error) {
	countKey := b.countKey(identifier, ip)
	lockKey := b.lockKey(identifier, ip)
	now := b.now()

	if success {
		if _, ok, err := b.store.GetLock(ctx, lockKey); err != nil {
			return Status{}, err
		} else if ok {
			// A success while locked does not unlock; the lock expires on
			// its own schedule.
			return b.CheckLocked(ctx, identifier, ip)
		}
		if err := b.store.ResetFailures(ctx, countKey); err != nil {
			return Status{}, err
		}
		return Status{Identifier: identifier}, nil
	}

	count, err := b.store.IncrFailures(ctx, countKey, b.cfg.Window)
	if err != nil {
		return Status{}, err
	}

	if count < int64(b.cfg.FailureThreshold) {
		return Status{Identifier: identifier, Failures: int(count)}, nil
	}

	strikes, err := b.store.IncrStrikes(ctx, lockKey, b.escalationHorizon())
	if err != nil {
		return Status{}, err
	}

	backoff := b.backoff(strikes)
	until := now.Add(backoff)
	if err := b.store.SetLock(ctx, lockKey, until); err != nil {
		return Status{}, err
	}
	if err := b.store.ResetFailures(ctx, countKey); err != nil {
		return Status{}, err
	}

	return Status{
		Identifier:  identifier,
		Locked:      true,
		LockedUntil: until,
		Failures:    int(count),
		RetryAfter:  backoff,
	}, nil
}

// CheckLocked reports the current lockout state. Once the deadline passes
// the lock auto-clears and the failure counter resets.
func (b *BruteForce) CheckLocked(ctx context.Context, identifier, ip string) (Status, error) {
	lockKey := b.lockKey(identifier, ip)
	now := b.now()

	until, ok, err := b.store.GetLock(ctx, lockKey)
	if err != nil {
		return Status{}, err
	}
	if !ok {
		failures, err := b.store.GetFailures(ctx, b.countKey(identifier, ip))
		if err != nil {
			return Status{}, err
		}
		return Status{Identifier: identifier, Failures: int(failures)}, nil
	}

	if !until.After(now) {
		if err := b.store.ClearLock(ctx, lockKey); err != nil {
			return Status{}, err
		}
		if err := b.store.ResetFailures(ctx, b.countKey(identifier, ip)); err != nil {
			return Status{}, err
		}
		return Status{Identifier: identifier}, nil
	}

	return Status{
		Identifier:  identifier,
		Locked:      true,
		LockedUntil: until,
		RetryAfter:  until.Sub(now),
	}, nil
}

// Reset clears all state for an identifier, e.g. after a manual unlock.
func (b *BruteForce) Reset(ctx context.Context, identifier, ip string) error {
	if err := b.store.ClearLock(ctx, b.lockKey(identifier, ip)); err != nil {
		return err
	}
	return b.store.ResetFailures(ctx, b.countKey(identifier, ip))
}

func (b *BruteForce) backoff(strikes int64) time.Duration {
	backoff := b.cfg.BaseBackoff
	for i := int64(1); i < strikes; i++ {
		backoff *= 2
		if backoff >= b.cfg.MaxBackoff {
			return b.cfg.MaxBackoff
		}
	}
	if backoff > b.cfg.MaxBackoff {
		return b.cfg.MaxBackoff
	}
	return backoff
}

// escalationHorizon bounds how long repeat-lockout history is remembered.
func (b *BruteForce) escalationHorizon() time.Duration {
	horizon := 4 * b.cfg.MaxBackoff
	if horizon < 24*time.Hour {
		horizon = 24 * time.Hour
	}
	return horizon
}

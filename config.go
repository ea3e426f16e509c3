package auth

import (
	"errors"
	"time"
)

// Config is the kernel's tuning surface. Zero values fall back to
// DefaultConfig; Validate rejects combinations that weaken the security
// model.
type Config struct {
	// Token lifetimes and JWT claims.
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
	Leeway     time.Duration

	// Session expiry model.
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration

	// Login rate limiting, keyed by source IP.
	LoginRateCapacity int
	LoginRateWindow   time.Duration

	// Brute-force lockout. LockoutPolicy is a lockout.Policy value; the
	// zero value keys attempts by identifier and IP together.
	FailureThreshold   int
	LockoutWindow      time.Duration
	LockoutBaseBackoff time.Duration
	LockoutMaxBackoff  time.Duration
	LockoutPolicy      int

	// Audit pipeline. The flags are phrased so the zero value is the
	// default: audit on, events dropped rather than blocking the caller
	// when the buffer is full.
	DisableAudit     bool
	AuditBufferSize  int
	AuditBlockIfFull bool

	DisableMetrics bool

	// Now overrides the clock everywhere, for deterministic tests.
	Now func() time.Time
}

// DefaultConfig returns the tuning a typical web deployment starts from.
func DefaultConfig() Config {
	return Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		Leeway:     30 * time.Second,

		IdleTimeout:     30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,

		LoginRateCapacity: 10,
		LoginRateWindow:   time.Minute,

		FailureThreshold:   5,
		LockoutWindow:      time.Minute,
		LockoutBaseBackoff: 30 * time.Second,
		LockoutMaxBackoff:  15 * time.Minute,

		AuditBufferSize: 256,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.AccessTTL == 0 {
		c.AccessTTL = def.AccessTTL
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = def.RefreshTTL
	}
	if c.Leeway == 0 {
		c.Leeway = def.Leeway
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.AbsoluteTimeout == 0 {
		c.AbsoluteTimeout = def.AbsoluteTimeout
	}
	if c.LoginRateCapacity == 0 {
		c.LoginRateCapacity = def.LoginRateCapacity
	}
	if c.LoginRateWindow == 0 {
		c.LoginRateWindow = def.LoginRateWindow
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.LockoutWindow == 0 {
		c.LockoutWindow = def.LockoutWindow
	}
	if c.LockoutBaseBackoff == 0 {
		c.LockoutBaseBackoff = def.LockoutBaseBackoff
	}
	if c.LockoutMaxBackoff == 0 {
		c.LockoutMaxBackoff = def.LockoutMaxBackoff
	}
	if c.AuditBufferSize == 0 {
		c.AuditBufferSize = def.AuditBufferSize
	}
	return c
}

// Validate rejects configurations that break the kernel's invariants.
func (c Config) Validate() error {
	switch {
	case c.AccessTTL <= 0:
		return errors.New("access ttl must be positive")
	case c.RefreshTTL <= c.AccessTTL:
		return errors.New("refresh ttl must exceed access ttl")
	case c.Leeway < 0 || c.Leeway > 2*time.Minute:
		return errors.New("leeway must be between 0 and 2 minutes")
	case c.IdleTimeout <= 0:
		return errors.New("idle timeout must be positive")
	case c.AbsoluteTimeout < c.IdleTimeout:
		return errors.New("absolute timeout must be >= idle timeout")
	case c.LoginRateCapacity <= 0:
		return errors.New("login rate capacity must be positive")
	case c.LoginRateWindow <= 0:
		return errors.New("login rate window must be positive")
	case c.FailureThreshold <= 0:
		return errors.New("failure threshold must be positive")
	case c.LockoutWindow <= 0:
		return errors.New("lockout window must be positive")
	case c.LockoutBaseBackoff <= 0:
		return errors.New("lockout base backoff must be positive")
	case c.LockoutMaxBackoff < c.LockoutBaseBackoff:
		return errors.New("lockout max backoff must be >= base backoff")
	}
	return nil
}

package auth

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the kernel. Subpackages define their own
// local sentinels; the kernel maps them onto this taxonomy at its surface
// so host applications match against one vocabulary.
var (
	// ErrInvalidCredential covers wrong passwords, unknown identifiers,
	// malformed tokens, and unknown API keys. Deliberately unspecific.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrExpired marks a credential past its lifetime.
	ErrExpired = errors.New("credential expired")

	// ErrReuseDetected marks a rotated refresh token presented twice. The
	// whole token family is revoked before this error is returned.
	ErrReuseDetected = errors.New("refresh token reuse detected")

	// ErrPermissionDenied marks an authenticated identity without the
	// required permission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound marks a missing session, token record, or API key.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable marks a transient backing-store failure. It is
	// never conflated with an authentication decision.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// LockedError reports a brute-force lockout. It unwraps to
// ErrInvalidCredential so generic handling still treats it as a failed
// login.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

func (e *LockedError) Unwrap() error { return ErrInvalidCredential }

// RateLimitedError reports a rate-limited credential presentation.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

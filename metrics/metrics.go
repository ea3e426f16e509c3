// Package metrics provides lock-free counters for the kernel's security
// events. Counters are plain atomics; exporters (see export/otel) observe
// point-in-time snapshots.
package metrics

import "sync/atomic"

// ID identifies one counter.
type ID uint16

const (
	TokenIssued ID = iota
	TokenVerifyFailure
	RefreshSuccess
	RefreshFailure
	RefreshReuseDetected
	FamilyRevoked
	SessionCreated
	SessionInvalidated
	LogoutAll
	PermissionDenied
	RateLimitHit
	LoginFailure
	AccountLocked
	APIKeyAccepted
	APIKeyRejected
	StorageUnavailable

	idCount
)

// Def describes a counter for exporters.
type Def struct {
	ID   ID
	Name string
	Help string
}

// Defs enumerates every counter with its stable external name.
var Defs = []Def{
	{TokenIssued, "auth_tokens_issued_total", "Access/refresh pairs issued."},
	{TokenVerifyFailure, "auth_token_verify_failures_total", "Token verifications rejected."},
	{RefreshSuccess, "auth_refresh_success_total", "Successful refresh rotations."},
	{RefreshFailure, "auth_refresh_failures_total", "Failed refresh attempts."},
	{RefreshReuseDetected, "auth_refresh_reuse_detected_total", "Refresh tokens presented twice."},
	{FamilyRevoked, "auth_refresh_families_revoked_total", "Refresh-token families revoked."},
	{SessionCreated, "auth_sessions_created_total", "Server-side sessions created."},
	{SessionInvalidated, "auth_sessions_invalidated_total", "Sessions explicitly invalidated."},
	{LogoutAll, "auth_logout_all_total", "Log-out-everywhere operations."},
	{PermissionDenied, "auth_permission_denied_total", "RBAC denials."},
	{RateLimitHit, "auth_rate_limit_hits_total", "Rate limiter denials."},
	{LoginFailure, "auth_login_failures_total", "Failed credential presentations."},
	{AccountLocked, "auth_accounts_locked_total", "Brute-force lockouts triggered."},
	{APIKeyAccepted, "auth_api_keys_accepted_total", "API keys accepted."},
	{APIKeyRejected, "auth_api_keys_rejected_total", "API keys rejected."},
	{StorageUnavailable, "auth_storage_unavailable_total", "Transient store failures."},
}

// Metrics holds the counters. The zero value is unusable; construct with
// [New]. A nil *Metrics is a valid no-op.
type Metrics struct {
	enabled  bool
	counters [idCount]atomic.Uint64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters [idCount]uint64
}

// New returns a metrics instance. When enabled is false, all operations are
// no-ops.
func New(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

// Inc increments a counter by one.
func (m *Metrics) Inc(metric ID) {
	if m == nil || !m.enabled || metric >= idCount {
		return
	}
	m.counters[metric].Add(1)
}

// Count returns the current value of a counter.
func (m *Metrics) Count(metric ID) uint64 {
	if m == nil || !m.enabled || metric >= idCount {
		return 0
	}
	return m.counters[metric].Load()
}

// Snapshot deep-copies every counter.
func (m *Metrics) Snapshot() Snapshot {
	var s Snapshot
	if m == nil || !m.enabled {
		return s
	}
	for i := range m.counters {
		s.Counters[i] = m.counters[i].Load()
	}
	return s
}

// Package audit is the cross-cutting security event sink. Every kernel
// component reports through it; persistence and formatting are the host
// application's concern, supplied as a [Sink].
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Severity ranks how urgently an event needs operator attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Canonical event types emitted by the kernel.
const (
	EventLoginSuccess      = "login_success"
	EventLoginFailure      = "login_failure"
	EventLoginRateLimited  = "login_rate_limited"
	EventAccountLocked     = "account_locked"
	EventRefreshSuccess   = "refresh_success"
	EventRefreshInvalid   = "refresh_invalid"
	EventReuseDetected    = "refresh_reuse_detected"
	EventFamilyRevoked    = "refresh_family_revoked"
	EventLogoutSession    = "logout_session"
	EventLogoutAll        = "logout_all"
	EventPermissionDenied = "permission_denied"
	EventAPIKeyAccepted   = "api_key_accepted"
	EventAPIKeyRejected   = "api_key_rejected"
	EventTokenRejected    = "token_rejected"
	EventStorageDegraded  = "storage_degraded"
	EventAdminRevocation  = "admin_revocation"
)

// Event is a structured security event. UserID/SessionID/IP are optional
// depending on event type.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Severity  Severity          `json:"severity"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel, typically
// consumed by a host-side persistence worker.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

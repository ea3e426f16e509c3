package session

import (
	"time"

	"github.com/gopress-cms/auth/id"
)

// Session is a server-side authentication session. The expiry is derived,
// not stored: a session is live while both the idle deadline
// (LastSeenAt + idle timeout) and the absolute deadline
// (CreatedAt + absolute timeout) are in the future.
type Session struct {
	ID     id.SessionID
	UserID id.UserID

	Roles []string
	Data  map[string]string

	IP        string
	UserAgent string

	CreatedAt  time.Time
	LastSeenAt time.Time
}

func (s *Session) clone() *Session {
	cp := *s
	cp.Roles = append([]string(nil), s.Roles...)
	if s.Data != nil {
		cp.Data = make(map[string]string, len(s.Data))
		for k, v := range s.Data {
			cp.Data[k] = v
		}
	}
	return &cp
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gopress-cms/auth/apikey"
	"github.com/gopress-cms/auth/audit"
	"github.com/gopress-cms/auth/id"
	"github.com/gopress-cms/auth/metrics"
	"github.com/gopress-cms/auth/permission"
	"github.com/gopress-cms/auth/session"
	"github.com/gopress-cms/auth/token"
)

// ErrNoCredentials is returned when a request carries none of the accepted
// credential kinds.
var ErrNoCredentials = errors.New("no credentials presented")

// ErrUnauthorized is returned when a presented credential fails
// verification.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated identity lacks the
// required permission.
var ErrForbidden = errors.New("forbidden")

// DefaultAPIKeyHeader carries API keys when no other header is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// DefaultSessionCookie is the cookie name checked for session IDs.
const DefaultSessionCookie = "gp_session"

// Config wires the verifiers a Guard consults. Nil verifiers disable their
// credential kind.
type Config struct {
	Tokens   *token.Manager
	Sessions *session.Manager
	APIKeys  *apikey.Manager
	Checker  *permission.Checker

	// Order is the credential precedence. The first kind present on the
	// request decides; later kinds are not tried as fallbacks, so a bad
	// bearer token is rejected even when a valid cookie rides along.
	// Defaults to bearer, session, api_key.
	Order []Method

	SessionCookie string
	APIKeyHeader  string

	Auditor *audit.Dispatcher
	Metrics *metrics.Metrics
}

// Guard authenticates requests and attaches an AuthContext.
type Guard struct {
	cfg Config
}

// NewGuard validates that at least one verifier is wired.
func NewGuard(cfg Config) (*Guard, error) {
	if cfg.Tokens == nil && cfg.Sessions == nil && cfg.APIKeys == nil {
		return nil, errors.New("guard needs at least one verifier")
	}
	if len(cfg.Order) == 0 {
		cfg.Order = []Method{MethodBearer, MethodSession, MethodAPIKey}
	}
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = DefaultSessionCookie
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = DefaultAPIKeyHeader
	}
	return &Guard{cfg: cfg}, nil
}

// Authenticate resolves the request's credential to an identity without
// touching the response. Handlers that need custom rejection bodies call
// this directly.
func (g *Guard) Authenticate(r *http.Request) (*AuthContext, error) {
	for _, method := range g.cfg.Order {
		switch method {
		case MethodBearer:
			if g.cfg.Tokens == nil {
				continue
			}
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				continue
			}
			return g.verifyBearer(raw)
		case MethodSession:
			if g.cfg.Sessions == nil {
				continue
			}
			cookie, err := r.Cookie(g.cfg.SessionCookie)
			if err != nil || cookie.Value == "" {
				continue
			}
			return g.verifySession(r.Context(), cookie.Value)
		case MethodAPIKey:
			if g.cfg.APIKeys == nil {
				continue
			}
			raw := r.Header.Get(g.cfg.APIKeyHeader)
			if raw == "" {
				continue
			}
			return g.verifyAPIKey(r.Context(), raw)
		}
	}
	return nil, ErrNoCredentials
}

// Middleware authenticates every request, rejecting with 401 when no
// credential verifies.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, err := g.Authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}

// Require authenticates and additionally demands one permission, rejecting
// with 403 when the identity's roles do not grant it.
func (g *Guard) Require(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := g.Authenticate(r)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if err := g.Authorize(ac, resource, action); err != nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
		})
	}
}

// Authorize checks one permission against an already-authenticated
// identity.
func (g *Guard) Authorize(ac *AuthContext, resource, action string) error {
	if g.cfg.Checker == nil {
		return errors.New("no permission checker wired")
	}
	if g.cfg.Checker.HasPermission(ac.Roles, resource, action) {
		return nil
	}
	g.count(metrics.PermissionDenied)
	g.emit(audit.Event{
		EventType: audit.EventPermissionDenied,
		Severity:  audit.SeverityWarning,
		UserID:    ac.UserID.String(),
		Metadata:  map[string]string{"resource": resource, "action": action},
	})
	return ErrForbidden
}

func (g *Guard) verifyBearer(raw string) (*AuthContext, error) {
	claims, err := g.cfg.Tokens.Verify(raw, token.TypeAccess)
	if err != nil {
		g.count(metrics.TokenVerifyFailure)
		g.emit(audit.Event{
			EventType: audit.EventTokenRejected,
			Severity:  audit.SeverityWarning,
			Error:     err.Error(),
		})
		return nil, ErrUnauthorized
	}
	uid, err := claims.UserID()
	if err != nil {
		return nil, ErrUnauthorized
	}
	return &AuthContext{UserID: uid, Roles: claims.Roles, Method: MethodBearer}, nil
}

func (g *Guard) verifySession(ctx context.Context, raw string) (*AuthContext, error) {
	sid, err := id.ParseSession(raw)
	if err != nil {
		return nil, ErrUnauthorized
	}
	sess, err := g.cfg.Sessions.Get(ctx, sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return &AuthContext{
		UserID:    sess.UserID,
		Roles:     sess.Roles,
		Method:    MethodSession,
		SessionID: &sess.ID,
	}, nil
}

func (g *Guard) verifyAPIKey(ctx context.Context, raw string) (*AuthContext, error) {
	key, err := g.cfg.APIKeys.Verify(ctx, raw)
	if err != nil {
		switch {
		case errors.Is(err, apikey.ErrInvalidKey),
			errors.Is(err, apikey.ErrRevoked),
			errors.Is(err, apikey.ErrExpired):
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return &AuthContext{
		UserID: key.UserID,
		Roles:  key.Roles,
		Method: MethodAPIKey,
		KeyID:  &key.ID,
	}, nil
}

func (g *Guard) emit(e audit.Event) {
	if g.cfg.Auditor != nil {
		g.cfg.Auditor.Emit(context.Background(), e)
	}
}

func (g *Guard) count(mid metrics.ID) {
	if g.cfg.Metrics != nil {
		g.cfg.Metrics.Inc(mid)
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	raw := strings.TrimSpace(value[len(bearer):])
	return raw, raw != ""
}

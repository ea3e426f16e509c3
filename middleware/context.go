// Package middleware provides net/http guards that authenticate requests
// against the kernel's verifiers and optionally enforce a permission.
package middleware

import (
	"context"

	"github.com/gopress-cms/auth/id"
)

// Method names the credential kind a request authenticated with.
type Method string

const (
	MethodBearer  Method = "bearer"
	MethodSession Method = "session"
	MethodAPIKey  Method = "api_key"
)

// AuthContext is the identity attached to a request after authentication.
type AuthContext struct {
	UserID id.UserID
	Roles  []string
	Method Method

	// SessionID is set only for session-authenticated requests.
	SessionID *id.SessionID

	// KeyID is set only for API key requests.
	KeyID *id.APIKeyID
}

type authContextKey struct{}

// FromContext extracts the identity a Guard attached to the request.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(*AuthContext)
	return ac, ok
}

// WithAuthContext attaches an identity, exported for handler tests.
func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

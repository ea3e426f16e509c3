package middleware

import (
	"net/http"
	"time"

	"github.com/gopress-cms/auth/id"
)

// CookieConfig controls how session cookies are written.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// DefaultCookieConfig is Secure + SameSite=Lax under the default cookie
// name.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     DefaultSessionCookie,
		Path:     "/",
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

// SessionCookie builds the Set-Cookie value for a session. The cookie is
// always HttpOnly; session IDs are never for scripts.
func SessionCookie(cfg CookieConfig, sid id.SessionID, maxAge time.Duration) *http.Cookie {
	if cfg.Name == "" {
		cfg.Name = DefaultSessionCookie
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    sid.String(),
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   int(maxAge / time.Second),
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: cfg.SameSite,
	}
}

// ClearSessionCookie builds the expired cookie that logs a browser out.
func ClearSessionCookie(cfg CookieConfig) *http.Cookie {
	if cfg.Name == "" {
		cfg.Name = DefaultSessionCookie
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: cfg.SameSite,
	}
}

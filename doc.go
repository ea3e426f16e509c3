// Package auth is an embeddable authentication and authorization kernel:
// password login with rate limiting and brute-force lockout, JWT access
// tokens over a rotating key ring, refresh tokens with single-use rotation
// and theft detection, server-side sessions with sliding and absolute
// expiry, API keys, and role-based permission checks.
//
// The Kernel type wires everything together; each concern also ships as a
// standalone subpackage (token, session, refresh, apikey, rate, lockout,
// permission, password) for hosts that want only a slice of the stack.
// Stores default to in-memory and can be swapped for Redis or Postgres
// implementations where one exists.
package auth

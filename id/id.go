// Package id provides type-safe entity identifiers backed by UUID v7.
//
// Each entity kind gets its own nominal ID type, so a user ID can never be
// passed where a session ID is expected. IDs are time-ordered (UUID v7),
// which keeps relational indexes append-friendly.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// Marker types. They carry no data; they only distinguish ID kinds at
// compile time.
type (
	userMarker    struct{}
	sessionMarker struct{}
	tokenMarker   struct{}
	familyMarker  struct{}
	apiKeyMarker  struct{}
)

// ID is a UUID wrapped with an entity marker.
type ID[T any] struct {
	inner uuid.UUID
}

// UserID identifies a user account.
type UserID = ID[userMarker]

// SessionID identifies a server-side session.
type SessionID = ID[sessionMarker]

// TokenID identifies a single refresh-token record.
type TokenID = ID[tokenMarker]

// FamilyID identifies a refresh-token lineage.
type FamilyID = ID[familyMarker]

// APIKeyID identifies an API key record.
type APIKeyID = ID[apiKeyMarker]

// New returns a fresh time-ordered ID.
func New[T any]() (ID[T], error) {
	u, err := uuid.NewV7()
	if err != nil {
		return ID[T]{}, err
	}
	return ID[T]{inner: u}, nil
}

// MustNew is New that panics on randomness failure. Intended for tests.
func MustNew[T any]() ID[T] {
	v, err := New[T]()
	if err != nil {
		panic(err)
	}
	return v
}

// Parse converts the canonical UUID string form back into a typed ID.
func Parse[T any](s string) (ID[T], error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID[T]{}, fmt.Errorf("invalid id: %w", err)
	}
	return ID[T]{inner: u}, nil
}

// FromUUID wraps an existing UUID.
func FromUUID[T any](u uuid.UUID) ID[T] {
	return ID[T]{inner: u}
}

// Typed constructors and parsers, one pair per entity kind.

// NewUser returns a fresh user ID.
func NewUser() (UserID, error) { return New[userMarker]() }

// NewSession returns a fresh session ID.
func NewSession() (SessionID, error) { return New[sessionMarker]() }

// NewToken returns a fresh refresh-token record ID.
func NewToken() (TokenID, error) { return New[tokenMarker]() }

// NewFamily returns a fresh refresh-token family ID.
func NewFamily() (FamilyID, error) { return New[familyMarker]() }

// NewAPIKey returns a fresh API key ID.
func NewAPIKey() (APIKeyID, error) { return New[apiKeyMarker]() }

// ParseUser parses a user ID from its string form.
func ParseUser(s string) (UserID, error) { return Parse[userMarker](s) }

// ParseSession parses a session ID from its string form.
func ParseSession(s string) (SessionID, error) { return Parse[sessionMarker](s) }

// ParseToken parses a refresh-token record ID from its string form.
func ParseToken(s string) (TokenID, error) { return Parse[tokenMarker](s) }

// ParseFamily parses a family ID from its string form.
func ParseFamily(s string) (FamilyID, error) { return Parse[familyMarker](s) }

// ParseAPIKey parses an API key ID from its string form.
func ParseAPIKey(s string) (APIKeyID, error) { return Parse[apiKeyMarker](s) }

// UserFromUUID wraps an existing UUID as a user ID.
func UserFromUUID(u uuid.UUID) UserID { return FromUUID[userMarker](u) }

// SessionFromUUID wraps an existing UUID as a session ID.
func SessionFromUUID(u uuid.UUID) SessionID { return FromUUID[sessionMarker](u) }

// TokenFromUUID wraps an existing UUID as a refresh-token record ID.
func TokenFromUUID(u uuid.UUID) TokenID { return FromUUID[tokenMarker](u) }

// FamilyFromUUID wraps an existing UUID as a family ID.
func FamilyFromUUID(u uuid.UUID) FamilyID { return FromUUID[familyMarker](u) }

// APIKeyFromUUID wraps an existing UUID as an API key ID.
func APIKeyFromUUID(u uuid.UUID) APIKeyID { return FromUUID[apiKeyMarker](u) }

// UUID returns the underlying UUID.
func (i ID[T]) UUID() uuid.UUID { return i.inner }

// IsNil reports whether the ID is the zero UUID.
func (i ID[T]) IsNil() bool { return i.inner == uuid.Nil }

func (i ID[T]) String() string { return i.inner.String() }

// MarshalText implements encoding.TextMarshaler.
func (i ID[T]) MarshalText() ([]byte, error) {
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID[T]) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	i.inner = u
	return nil
}

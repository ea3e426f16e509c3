// Package secret holds the crypto-random and opaque-token primitives shared
// by the refresh and apikey packages.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// Size is the byte length of every opaque secret issued by the kernel.
const Size = 32

const tokenRawSize = 16 + Size // uuid + secret

// ErrTokenFormat is returned when an opaque token fails structural decoding.
var ErrTokenFormat = errors.New("invalid opaque token format")

// New returns a fresh 256-bit secret.
func New() ([Size]byte, error) {
	var s [Size]byte
	_, err := rand.Read(s[:])
	return s, err
}

// Hash returns the SHA-256 digest stored server-side in place of the secret.
func Hash(s [Size]byte) [32]byte {
	return sha256.Sum256(s[:])
}

// HashBytes hashes an arbitrary-length secret, used for API keys.
func HashBytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// Equal compares two digests in constant time.
func Equal(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// EncodeToken packs a record ID and its secret into the compact base64url
// wire form handed to clients. The secret never appears anywhere else.
func EncodeToken(recordID uuid.UUID, s [Size]byte) string {
	var raw [tokenRawSize]byte
	copy(raw[:16], recordID[:])
	copy(raw[16:], s[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeToken splits an opaque token back into record ID and secret.
func DecodeToken(token string) (uuid.UUID, [Size]byte, error) {
	var s [Size]byte

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return uuid.Nil, s, ErrTokenFormat
	}
	if len(raw) != tokenRawSize {
		return uuid.Nil, s, ErrTokenFormat
	}

	var u uuid.UUID
	copy(u[:], raw[:16])
	copy(s[:], raw[16:])
	return u, s, nil
}

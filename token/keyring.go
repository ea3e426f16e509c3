package token

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// SigningMethod selects the JWT signing algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs with EdDSA over Curve25519. Default.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with HMAC-SHA256 using a shared secret.
	MethodHS256 SigningMethod = "hs256"
)

// Key is one signing key in the ring. For HS256 the Private bytes double as
// the verification secret; for Ed25519 Private may be empty on verify-only
// ring members.
type Key struct {
	ID      string
	Method  SigningMethod
	Private []byte
	Public  []byte
}

type ringState struct {
	keys   map[string]Key
	active string
}

// KeyRing is the process-wide signing key set. It is populated at startup
// and only ever extended: rotation appends a new key ID, old keys stay until
// every token signed with them has expired. Readers work on an immutable
// snapshot, so concurrent verification never observes a half-updated ring.
type KeyRing struct {
	mu    sync.Mutex // serializes Add/Activate
	state atomic.Pointer[ringState]
}

// NewKeyRing builds a ring with active as the signing key and any number of
// verify-only keys.
func NewKeyRing(active Key, verifyOnly ...Key) (*KeyRing, error) {
	if err := validateKey(active, true); err != nil {
		return nil, err
	}

	keys := map[string]Key{active.ID: active}
	for _, k := range verifyOnly {
		if err := validateKey(k, false); err != nil {
			return nil, err
		}
		if _, dup := keys[k.ID]; dup {
			return nil, fmt.Errorf("duplicate key id %q", k.ID)
		}
		keys[k.ID] = k
	}

	r := &KeyRing{}
	r.state.Store(&ringState{keys: keys, active: active.ID})
	return r, nil
}

// Add appends a key to the ring. Existing key IDs are never replaced.
func (r *KeyRing) Add(k Key) error {
	if err := validateKey(k, false); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.state.Load()
	if _, dup := old.keys[k.ID]; dup {
		return fmt.Errorf("key id %q already in ring", k.ID)
	}

	next := make(map[string]Key, len(old.keys)+1)
	for kid, key := range old.keys {
		next[kid] = key
	}
	next[k.ID] = k

	r.state.Store(&ringState{keys: next, active: old.active})
	return nil
}

// Activate makes an already-added key the signing key. The previous signing
// key remains in the ring for verification.
func (r *KeyRing) Activate(kid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.state.Load()
	k, ok := old.keys[kid]
	if !ok {
		return fmt.Errorf("key id %q not in ring", kid)
	}
	if len(k.Private) == 0 {
		return fmt.Errorf("key id %q has no signing material", kid)
	}

	r.state.Store(&ringState{keys: old.keys, active: kid})
	return nil
}

// Active returns the current signing key.
func (r *KeyRing) Active() Key {
	st := r.state.Load()
	return st.keys[st.active]
}

// Lookup returns the key for kid, if present.
func (r *KeyRing) Lookup(kid string) (Key, bool) {
	st := r.state.Load()
	k, ok := st.keys[kid]
	return k, ok
}

func validateKey(k Key, requirePrivate bool) error {
	if strings.TrimSpace(k.ID) == "" {
		return errors.New("key id cannot be empty")
	}

	switch k.Method {
	case MethodHS256:
		if len(k.Private) == 0 {
			return errors.New("hs256 requires a shared secret")
		}
	case MethodEd25519:
		if len(k.Private) > 0 {
			if _, err := parseEdPrivateKey(k.Private); err != nil {
				return fmt.Errorf("key %q: %w", k.ID, err)
			}
		} else if requirePrivate {
			return fmt.Errorf("key %q: ed25519 signing key requires private material", k.ID)
		}
		if len(k.Public) == 0 {
			return fmt.Errorf("key %q: ed25519 requires public key", k.ID)
		}
		if _, err := parseEdPublicKey(k.Public); err != nil {
			return fmt.Errorf("key %q: %w", k.ID, err)
		}
	default:
		return errors.New("unsupported signing method")
	}

	if requirePrivate && len(k.Private) == 0 {
		return errors.New("signing key requires private material")
	}
	return nil
}

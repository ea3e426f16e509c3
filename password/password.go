// Package password hashes and verifies credentials with Argon2id, encoded
// in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The hasher supports transparent parameter upgrades: when a stored hash was
// produced with weaker parameters, NeedsRehash reports true so callers can
// re-hash on the next successful verification. Password policy (length,
// reuse history) belongs to the caller, not here.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

const (
	minMemoryKB    uint32 = 8 * 1024
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	maxPasswordLen        = 1024
)

// ErrHashFormat is returned for hashes that are not valid PHC argon2id
// strings.
var ErrHashFormat = errors.New("invalid password hash format")

// Config sets the Argon2id cost parameters.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig follows the interactive-login recommendation of RFC 9106.
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher hashes and verifies passwords with a fixed parameter set.
type Hasher struct {
	cfg Config
}

// NewHasher validates the cost parameters and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < minMemoryKB:
		return nil, errors.New("argon2 memory below 8 MiB")
	case cfg.Time < 1:
		return nil, errors.New("argon2 time cost below 1")
	case cfg.Parallelism < 1:
		return nil, errors.New("argon2 parallelism below 1")
	case cfg.SaltLength < minSaltLength:
		return nil, errors.New("argon2 salt below 16 bytes")
	case cfg.KeyLength < minKeyLength:
		return nil, errors.New("argon2 key below 16 bytes")
	}
	return &Hasher{cfg: cfg}, nil
}

// Hash derives a PHC-encoded hash from the password. The password is used
// byte for byte, without Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("empty password")
	}
	if len(password) > maxPasswordLen {
		return "", errors.New("password too long")
	}

	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		h.cfg.Time, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		h.cfg.Memory, h.cfg.Time, h.cfg.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

// Verify reports whether the password matches the stored hash. The
// comparison is constant time.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt,
		parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.hash)))

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsRehash reports whether the stored hash was produced with parameters
// weaker than the hasher's current configuration.
func (h *Hasher) NeedsRehash(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}
	if h.cfg.Memory > parsed.memory || h.cfg.Time > parsed.time {
		return true, nil
	}
	if h.cfg.Parallelism > parsed.parallelism {
		return true, nil
	}
	if h.cfg.KeyLength != uint32(len(parsed.hash)) {
		return true, nil
	}
	return false, nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return nil, ErrHashFormat
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") || version != argon2.Version {
		return nil, ErrHashFormat
	}

	var p parsedPHC
	if err := parseParams(parts[3], &p); err != nil {
		return nil, err
	}

	if p.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil {
		return nil, ErrHashFormat
	}
	if len(p.salt) < int(minSaltLength) {
		return nil, ErrHashFormat
	}
	if p.hash, err = base64.StdEncoding.DecodeString(parts[5]); err != nil {
		return nil, ErrHashFormat
	}
	if len(p.hash) < int(minKeyLength) {
		return nil, ErrHashFormat
	}
	return &p, nil
}

func parseParams(part string, p *parsedPHC) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return ErrHashFormat
	}

	var haveM, haveT, haveP bool
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return ErrHashFormat
		}
		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return ErrHashFormat
			}
			p.memory = uint32(v)
			haveM = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < 1 {
				return ErrHashFormat
			}
			p.time = uint32(v)
			haveT = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < 1 {
				return ErrHashFormat
			}
			p.parallelism = uint8(v)
			haveP = true
		default:
			return ErrHashFormat
		}
	}
	if !haveM || !haveT || !haveP {
		return ErrHashFormat
	}
	return nil
}

package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"portal-auth/internal/config"
)

var ErrInvalidDigest = errors.New("invalid digest format")

// Hasher is the credential digest contract. Digest is one-way; Verify
// recomputes and compares in constant time. Both are pure with respect to
// stored state, so callers may invoke them concurrently.
type Hasher interface {
	Digest(secret string) (string, error)
	Verify(secret, digest string) (bool, error)
}

// NewHasher selects the implementation from config. SHA-256 is the default:
// existing records and the remembered-credential pair carry unsalted SHA-256
// digests, and equal secrets must keep producing equal digests for them to
// keep verifying. Argon2id is the opt-in replacement for fresh deployments.
func NewHasher(cfg *config.Config) Hasher {
	if cfg.Hashing.Algorithm == "argon2id" {
		return NewArgon2Hasher(cfg)
	}
	return NewSHA256Hasher()
}

// SHA256Hasher reproduces the portal's legacy digest: hex-encoded SHA-256 of
// the UTF-8 secret, no salt, no per-user randomness.
type SHA256Hasher struct{}

func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

func (h *SHA256Hasher) Digest(secret string) (string, error) {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:]), nil
}

func (h *SHA256Hasher) Verify(secret, digest string) (bool, error) {
	computed, err := h.Digest(secret)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1, nil
}

// Argon2Hasher produces salted argon2id digests in the standard encoded
// form. Digests from different calls never compare equal, so callers must
// go through Verify rather than comparing digest strings.
type Argon2Hasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

func NewArgon2Hasher(cfg *config.Config) *Argon2Hasher {
	return &Argon2Hasher{
		memory:      uint32(cfg.Hashing.Argon2Memory),
		iterations:  uint32(cfg.Hashing.Argon2Iterations),
		parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		saltLength:  16,
		keyLength:   32,
	}
}

func (h *Argon2Hasher) Digest(secret string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, h.iterations, h.memory, h.parallelism, h.keyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2Hasher) Verify(secret, digest string) (bool, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidDigest
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrInvalidDigest
	}
	if version != argon2.Version {
		return false, fmt.Errorf("%w: unsupported argon2 version %d", ErrInvalidDigest, version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, ErrInvalidDigest
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidDigest
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, ErrInvalidDigest
	}

	computed := argon2.IDKey([]byte(secret), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

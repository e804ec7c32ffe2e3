package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-auth/internal/config"
)

func TestSHA256HasherDeterministic(t *testing.T) {
	h := NewSHA256Hasher()

	first, err := h.Digest("1234")
	require.NoError(t, err)
	second, err := h.Digest("1234")
	require.NoError(t, err)

	assert.Equal(t, first, second, "equal secrets must produce equal digests")
	assert.Len(t, first, 64)
}

func TestSHA256HasherVerify(t *testing.T) {
	h := NewSHA256Hasher()

	digest, err := h.Digest("123456")
	require.NoError(t, err)

	ok, err := h.Verify("123456", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("654321", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2HasherRoundTrip(t *testing.T) {
	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Algorithm:         "argon2id",
			Argon2Memory:      8 * 1024,
			Argon2Iterations:  1,
			Argon2Parallelism: 1,
		},
	}
	h := NewArgon2Hasher(cfg)

	digest, err := h.Digest("1234")
	require.NoError(t, err)
	assert.Contains(t, digest, "$argon2id$")

	ok, err := h.Verify("1234", digest)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("4321", digest)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2HasherSaltedDigestsDiffer(t *testing.T) {
	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2Memory:      8 * 1024,
			Argon2Iterations:  1,
			Argon2Parallelism: 1,
		},
	}
	h := NewArgon2Hasher(cfg)

	first, err := h.Digest("1234")
	require.NoError(t, err)
	second, err := h.Digest("1234")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestArgon2HasherRejectsMalformedDigest(t *testing.T) {
	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2Memory:      8 * 1024,
			Argon2Iterations:  1,
			Argon2Parallelism: 1,
		},
	}
	h := NewArgon2Hasher(cfg)

	_, err := h.Verify("1234", "not-a-digest")
	assert.ErrorIs(t, err, ErrInvalidDigest)
}

func TestNewHasherSelection(t *testing.T) {
	sha := NewHasher(&config.Config{Hashing: config.HashingConfig{Algorithm: "sha256"}})
	assert.IsType(t, &SHA256Hasher{}, sha)

	argon := NewHasher(&config.Config{Hashing: config.HashingConfig{
		Algorithm: "argon2id", Argon2Memory: 8 * 1024, Argon2Iterations: 1, Argon2Parallelism: 1,
	}})
	assert.IsType(t, &Argon2Hasher{}, argon)
}

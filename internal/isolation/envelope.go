package isolation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrCorruptEnvelope = errors.New("corrupt record envelope")

// Envelope wraps a user record before it hits the store and unwraps it on
// the way out. The default implementation is a pass-through marker, kept as
// a seam so a real cipher can be substituted without touching the manager.
type Envelope interface {
	Wrap(record *UserRecord) (string, error)
	Unwrap(raw string) (*UserRecord, error)
}

// PassthroughEnvelope stores the record as plain JSON plus an `_encrypted`
// marker and a wrap timestamp. This reproduces the legacy on-disk shape
// exactly; records it wrote remain readable.
type PassthroughEnvelope struct{}

func NewPassthroughEnvelope() *PassthroughEnvelope {
	return &PassthroughEnvelope{}
}

func (e *PassthroughEnvelope) Wrap(record *UserRecord) (string, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("failed to build envelope: %w", err)
	}
	fields["_encrypted"] = true
	fields["_timestamp"] = time.Now().UnixMilli()

	wrapped, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(wrapped), nil
}

func (e *PassthroughEnvelope) Unwrap(raw string) (*UserRecord, error) {
	var record UserRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEnvelope, err)
	}
	return &record, nil
}

type aesEnvelopePayload struct {
	Encrypted  bool   `json:"_encrypted"`
	Cipher     string `json:"_cipher"`
	Payload    string `json:"_payload"`
	WrappedAt  int64  `json:"_timestamp"`
	EnvVersion string `json:"_version"`
}

// AESGCMEnvelope is the substitution seam made concrete: records are sealed
// with AES-256-GCM under a process-held key. Switching an existing store to
// this envelope requires re-wrapping records written by the pass-through.
type AESGCMEnvelope struct {
	gcm cipher.AEAD
}

func NewAESGCMEnvelope(key []byte) (*AESGCMEnvelope, error) {
	if len(key) != 32 {
		return nil, errors.New("envelope key must be 32 bytes")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to build GCM: %w", err)
	}
	return &AESGCMEnvelope{gcm: gcm}, nil
}

func (e *AESGCMEnvelope) Wrap(record *UserRecord) (string, error) {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.gcm.Seal(nonce, nonce, plaintext, nil)

	wrapped, err := json.Marshal(aesEnvelopePayload{
		Encrypted:  true,
		Cipher:     "aes-256-gcm",
		Payload:    base64.StdEncoding.EncodeToString(sealed),
		WrappedAt:  time.Now().UnixMilli(),
		EnvVersion: "v1",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(wrapped), nil
}

func (e *AESGCMEnvelope) Unwrap(raw string) (*UserRecord, error) {
	var payload aesEnvelopePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEnvelope, err)
	}
	if payload.Cipher != "aes-256-gcm" {
		return nil, fmt.Errorf("%w: unexpected cipher %q", ErrCorruptEnvelope, payload.Cipher)
	}

	sealed, err := base64.StdEncoding.DecodeString(payload.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload encoding", ErrCorruptEnvelope)
	}

	nonceSize := e.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: payload too short", ErrCorruptEnvelope)
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := e.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEnvelope, err)
	}

	var record UserRecord
	if err := json.Unmarshal(plaintext, &record); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEnvelope, err)
	}
	return &record, nil
}

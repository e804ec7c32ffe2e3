package isolation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"portal-auth/internal/audit"
	"portal-auth/internal/hashing"
	"portal-auth/internal/session"
	"portal-auth/internal/store"
	"portal-auth/internal/util"
)

const (
	userKeyPrefix = "user_"
	userIndexKey  = "user_index"

	rememberedKey = "remembered_credentials"
)

// UserRecord is one registered account, keyed by phone number. PinDigest is
// the one-way digest of the PIN; the clear PIN is never stored.
type UserRecord struct {
	Phone         string `json:"phone"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	AccountNumber string `json:"accountNumber"`
	Settlement    string `json:"settlement"`
	Street        string `json:"street"`
	HouseNumber   string `json:"houseNumber"`
	Apartment     string `json:"apartment"`
	Address       string `json:"address"`
	PinDigest     string `json:"pinCode"`
}

// PublicUserData is the narrow projection that is intentionally
// world-readable.
type PublicUserData struct {
	Phone      string `json:"phone"`
	Settlement string `json:"settlement"`
}

// RememberedCredentials is the persisted "remember me" pair.
type RememberedCredentials struct {
	Phone     string `json:"phone"`
	PinDigest string `json:"pinCode"`
}

// Manager owns the keyed user store and enforces the isolation contract: a
// caller may read or write the record for phone P only while the current
// session's phone equals P; bulk access requires a live admin session.
//
// Two call conventions share the one store and index. The strict methods
// (GetUserData, UpdateUserData, DeleteUserData, GetAllUsersForAdmin) carry
// the session checks; the convenience methods (AddUser, UpdateUser,
// GetUserByPhone) are reserved for the authentication flow itself, which
// runs before a session can exist.
type Manager struct {
	store    store.Store
	sessions *session.Manager
	hasher   hashing.Hasher
	envelope Envelope
	auditor  *audit.Recorder
}

func NewManager(
	st store.Store,
	sessions *session.Manager,
	hasher hashing.Hasher,
	envelope Envelope,
	auditor *audit.Recorder,
) *Manager {
	return &Manager{
		store:    st,
		sessions: sessions,
		hasher:   hasher,
		envelope: envelope,
		auditor:  auditor,
	}
}

// storageKey derives the store key from a one-way transform of the phone so
// raw phone numbers are never used as lookup keys.
func (m *Manager) storageKey(phone string) string {
	sum := sha256.Sum256([]byte(phone + "_user_data"))
	return userKeyPrefix + hex.EncodeToString(sum[:])[:16]
}

// canAccess reports whether the current session owns phone. Denials are
// recorded as security events; the caller sees only a generic miss so the
// check never leaks whether the record exists.
func (m *Manager) canAccess(phone string) bool {
	current := m.sessions.CurrentUserPhone()
	if current == "" || current != phone {
		m.auditor.Record(audit.EventUnauthorizedAccess, phone, "session/phone mismatch")
		return false
	}
	return true
}

// StoreUserData wraps and writes a record and adds the phone to the index.
// It carries no session check: registration calls it before any session
// exists.
func (m *Manager) StoreUserData(record *UserRecord) error {
	wrapped, err := m.envelope.Wrap(record)
	if err != nil {
		return fmt.Errorf("failed to wrap user record: %w", err)
	}

	if err := m.store.Set(m.storageKey(record.Phone), wrapped); err != nil {
		return fmt.Errorf("failed to store user record: %w", err)
	}

	if err := m.addToIndex(record.Phone); err != nil {
		return err
	}

	util.Info("user record stored", util.String("phone", record.Phone))
	return nil
}

// GetUserData returns the record for phone if the current session owns it.
// Denial and absence look identical to the caller.
func (m *Manager) GetUserData(phone string) (*UserRecord, error) {
	if !m.canAccess(phone) {
		return nil, nil
	}

	raw, err := m.store.Get(m.storageKey(phone))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user record: %w", err)
	}

	record, err := m.envelope.Unwrap(raw)
	if err != nil {
		util.Error("failed to unwrap user record", util.ErrorField(err))
		return nil, err
	}
	return record, nil
}

// UpdateUserData overwrites the caller's own record. Returns false on an
// access denial.
func (m *Manager) UpdateUserData(record *UserRecord) (bool, error) {
	if !m.canAccess(record.Phone) {
		return false, nil
	}
	if err := m.StoreUserData(record); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteUserData removes the caller's own record and updates the index.
func (m *Manager) DeleteUserData(phone string) (bool, error) {
	if !m.canAccess(phone) {
		return false, nil
	}

	if err := m.store.Delete(m.storageKey(phone)); err != nil {
		return false, fmt.Errorf("failed to delete user record: %w", err)
	}
	if err := m.removeFromIndex(phone); err != nil {
		return false, err
	}

	util.Info("user record deleted", util.String("phone", phone))
	return true, nil
}

// UserExists reports record existence. Intentionally unauthenticated.
func (m *Manager) UserExists(phone string) bool {
	_, err := m.store.Get(m.storageKey(phone))
	return err == nil
}

// GetPublicUserData returns the world-readable projection, or nil.
func (m *Manager) GetPublicUserData(phone string) *PublicUserData {
	raw, err := m.store.Get(m.storageKey(phone))
	if err != nil {
		return nil
	}

	record, err := m.envelope.Unwrap(raw)
	if err != nil {
		return nil
	}

	settlement := record.Settlement
	if settlement == "" {
		settlement = "Unknown"
	}
	return &PublicUserData{Phone: phone, Settlement: settlement}
}

// VerifyCredentials looks the record up directly and verifies the supplied
// PIN against the stored digest. This is the login path, so it bypasses the
// session check by design. Returns nil on any mismatch or miss.
func (m *Manager) VerifyCredentials(phone, pin string) (*UserRecord, error) {
	raw, err := m.store.Get(m.storageKey(phone))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user record: %w", err)
	}

	record, err := m.envelope.Unwrap(raw)
	if err != nil {
		util.Error("credential verification failed", util.ErrorField(err))
		return nil, err
	}

	ok, err := m.hasher.Verify(pin, record.PinDigest)
	if err != nil {
		return nil, fmt.Errorf("failed to verify credentials: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return record, nil
}

// GetAllUsersForAdmin returns every record reachable via the index.
// Requires a live admin session; otherwise it denies, logs, and returns an
// empty list.
func (m *Manager) GetAllUsersForAdmin() ([]*UserRecord, error) {
	if !m.sessions.IsAdmin() {
		m.auditor.Record(audit.EventUnauthorizedAdmin, "", "bulk user listing without admin session")
		return nil, nil
	}

	phones, err := m.index()
	if err != nil {
		return nil, err
	}

	users := make([]*UserRecord, 0, len(phones))
	for _, phone := range phones {
		raw, err := m.store.Get(m.storageKey(phone))
		if err != nil {
			continue
		}
		record, err := m.envelope.Unwrap(raw)
		if err != nil {
			util.Error("failed to load user for admin listing",
				util.String("phone", phone), util.ErrorField(err))
			continue
		}
		users = append(users, record)
	}
	return users, nil
}

// HasAnyUsers reports whether any account is registered.
func (m *Manager) HasAnyUsers() bool {
	phones, err := m.index()
	return err == nil && len(phones) > 0
}

// GetAllRegisteredPhones lists known identifiers without record contents.
func (m *Manager) GetAllRegisteredPhones() []string {
	phones, err := m.index()
	if err != nil {
		return nil
	}
	return phones
}

// AddUser is the auth-flow convenience write: same key derivation, same
// envelope, same index as StoreUserData.
func (m *Manager) AddUser(record *UserRecord) error {
	return m.StoreUserData(record)
}

// UpdateUser overwrites a record without the session check. Only the
// authentication flow (PIN set/reset before login completes) may use it.
func (m *Manager) UpdateUser(record *UserRecord) error {
	wrapped, err := m.envelope.Wrap(record)
	if err != nil {
		return fmt.Errorf("failed to wrap user record: %w", err)
	}
	if err := m.store.Set(m.storageKey(record.Phone), wrapped); err != nil {
		return fmt.Errorf("failed to update user record: %w", err)
	}
	util.Info("user record updated", util.String("phone", record.Phone))
	return nil
}

// GetUserByPhone is the auth-flow convenience read; no session check.
func (m *Manager) GetUserByPhone(phone string) (*UserRecord, error) {
	raw, err := m.store.Get(m.storageKey(phone))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user record: %w", err)
	}
	return m.envelope.Unwrap(raw)
}

// RememberCredentials persists the "remember me" pair.
func (m *Manager) RememberCredentials(phone, pinDigest string) error {
	raw, err := json.Marshal(RememberedCredentials{Phone: phone, PinDigest: pinDigest})
	if err != nil {
		return err
	}
	return m.store.Set(rememberedKey, string(raw))
}

// RememberedCredentials returns the stored pair, or nil.
func (m *Manager) RememberedCredentials() *RememberedCredentials {
	raw, err := m.store.Get(rememberedKey)
	if err != nil {
		return nil
	}
	var creds RememberedCredentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil
	}
	return &creds
}

// ClearRememberedCredentials drops the pair.
func (m *Manager) ClearRememberedCredentials() error {
	return m.store.Delete(rememberedKey)
}

func (m *Manager) index() ([]string, error) {
	raw, err := m.store.Get(userIndexKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user index: %w", err)
	}

	var phones []string
	if err := json.Unmarshal([]byte(raw), &phones); err != nil {
		return nil, fmt.Errorf("corrupt user index: %w", err)
	}
	return phones, nil
}

func (m *Manager) addToIndex(phone string) error {
	phones, err := m.index()
	if err != nil {
		return err
	}
	for _, p := range phones {
		if p == phone {
			return nil
		}
	}
	phones = append(phones, phone)
	return m.writeIndex(phones)
}

func (m *Manager) removeFromIndex(phone string) error {
	phones, err := m.index()
	if err != nil {
		return err
	}
	filtered := phones[:0]
	for _, p := range phones {
		if p != phone {
			filtered = append(filtered, p)
		}
	}
	return m.writeIndex(filtered)
}

func (m *Manager) writeIndex(phones []string) error {
	raw, err := json.Marshal(phones)
	if err != nil {
		return err
	}
	if err := m.store.Set(userIndexKey, string(raw)); err != nil {
		return fmt.Errorf("failed to write user index: %w", err)
	}
	return nil
}

package session

import (
	"encoding/json"
	"errors"
	"time"

	"portal-auth/internal/config"
	"portal-auth/internal/store"
	"portal-auth/internal/util"
)

const (
	sessionKey      = "current_session"
	adminSessionKey = "admin_session"
)

// Token is the single active user session. ExpiresAt is always CreatedAt
// plus the configured session duration.
type Token struct {
	Phone     string `json:"phone"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
	SessionID string `json:"sessionId"`
}

// AdminToken is the independent admin session flag with its own expiry.
type AdminToken struct {
	SessionID string `json:"sessionId"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Manager issues, validates, and destroys session tokens against the store.
// At most one user session and one admin session exist at a time; a new
// login overwrites the previous token.
type Manager struct {
	cfg   *config.SessionConfig
	store store.Store
	now   func() time.Time
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(cfg *config.SessionConfig, st store.Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg,
		store: st,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession mints a session for an authenticated phone number,
// overwriting any existing session.
func (m *Manager) CreateSession(phone string) (*Token, error) {
	now := m.now()
	token := &Token{
		Phone:     phone,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(m.cfg.UserDuration).UnixMilli(),
		SessionID: util.SecureToken(32),
	}

	raw, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(sessionKey, string(raw)); err != nil {
		return nil, err
	}

	util.Info("session created", util.String("phone", phone))
	return token, nil
}

// GetCurrentSession returns the active session, or nil. Expired or corrupt
// tokens are purged as a side effect, so a second immediate call also
// observes no session.
func (m *Manager) GetCurrentSession() *Token {
	raw, err := m.store.Get(sessionKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			util.Error("failed to read session", util.ErrorField(err))
		}
		return nil
	}

	var token Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		util.Error("invalid session data, destroying session")
		m.DestroySession()
		return nil
	}

	if m.now().UnixMilli() > token.ExpiresAt {
		m.DestroySession()
		util.Warn("session expired", util.String("phone", token.Phone))
		return nil
	}

	return &token
}

// DestroySession unconditionally removes the user session.
func (m *Manager) DestroySession() {
	if err := m.store.Delete(sessionKey); err != nil {
		util.Error("failed to destroy session", util.ErrorField(err))
		return
	}
	util.Info("session destroyed")
}

// IsAuthenticated reports whether a live user session exists.
func (m *Manager) IsAuthenticated() bool {
	return m.GetCurrentSession() != nil
}

// CurrentUserPhone returns the authenticated phone, or "".
func (m *Manager) CurrentUserPhone() string {
	if token := m.GetCurrentSession(); token != nil {
		return token.Phone
	}
	return ""
}

// CreateAdminSession mints the admin flag with its own expiry.
func (m *Manager) CreateAdminSession() (*AdminToken, error) {
	now := m.now()
	token := &AdminToken{
		SessionID: util.SecureToken(32),
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(m.cfg.AdminDuration).UnixMilli(),
	}

	raw, err := json.Marshal(token)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(adminSessionKey, string(raw)); err != nil {
		return nil, err
	}

	util.Info("admin session created")
	return token, nil
}

// DestroyAdminSession removes the admin flag.
func (m *Manager) DestroyAdminSession() {
	if err := m.store.Delete(adminSessionKey); err != nil {
		util.Error("failed to destroy admin session", util.ErrorField(err))
		return
	}
	util.Info("admin session destroyed")
}

// IsAdmin reports whether a live admin session exists. Expired flags are
// treated as absent but left for the next create to overwrite.
func (m *Manager) IsAdmin() bool {
	raw, err := m.store.Get(adminSessionKey)
	if err != nil {
		return false
	}

	var token AdminToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return false
	}

	return m.now().UnixMilli() < token.ExpiresAt
}

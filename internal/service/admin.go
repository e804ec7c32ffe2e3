package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"portal-auth/internal/audit"
	"portal-auth/internal/config"
	"portal-auth/internal/isolation"
	"portal-auth/internal/ratelimit"
)

// adminIdentifier keys admin login attempts in the limiter. There is one
// shared admin surface, so a single bucket is intentional.
const adminIdentifier = "admin"

const MsgInvalidAdminPassword = "Неверный пароль администратора"

// AdminLoginRequest carries the admin password and, when a challenge is
// armed, its answer.
type AdminLoginRequest struct {
	Password        string
	HoneypotValue   string
	ChallengeAnswer string
}

// AdminLogin verifies the admin password behind the same gate stack as user
// login, with the stricter admin challenge threshold.
func (s *AuthService) AdminLogin(req AdminLoginRequest) (*Result, error) {
	if s.honeypot.IsBot(req.HoneypotValue) {
		s.auditor.Record(audit.EventBotDetected, adminIdentifier, "honeypot tripped on admin login")
		return &Result{OK: false, Silent: true}, nil
	}

	if gate := s.outerGate(adminIdentifier, config.ActionAdminLogin); gate != nil {
		return gate, nil
	}

	if denied := s.checkChallenge(adminIdentifier, config.ActionAdminLogin, s.cfg.Admin.ChallengeAfter, req.ChallengeAnswer); denied != nil {
		return denied, nil
	}

	if !s.verifyAdminPassword(req.Password) {
		s.limiter.RecordAttempt(adminIdentifier, config.ActionAdminLogin, false)
		s.auditor.Record(audit.EventUnauthorizedAdmin, adminIdentifier, "wrong admin password")
		result := &Result{OK: false, Message: MsgInvalidAdminPassword}
		s.armChallenge(adminIdentifier, config.ActionAdminLogin, s.cfg.Admin.ChallengeAfter, result)
		return result, nil
	}

	s.limiter.RecordAttempt(adminIdentifier, config.ActionAdminLogin, true)
	s.clearChallenge(adminIdentifier)

	token, err := s.sessions.CreateAdminSession()
	if err != nil {
		return nil, err
	}
	return &Result{OK: true, SessionID: token.SessionID}, nil
}

// verifyAdminPassword checks the configured digest; outside production an
// optional plaintext development password is also accepted.
func (s *AuthService) verifyAdminPassword(password string) bool {
	if s.cfg.Admin.PasswordDigest != "" {
		sum := sha256.Sum256([]byte(password))
		digest := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(digest), []byte(s.cfg.Admin.PasswordDigest)) == 1 {
			return true
		}
	}
	if !s.cfg.IsProduction() && s.cfg.Admin.DevPassword != "" {
		return subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Admin.DevPassword)) == 1
	}
	return false
}

// AdminLogout destroys the admin session.
func (s *AuthService) AdminLogout() {
	s.sessions.DestroyAdminSession()
}

// IsAdmin reports whether a live admin session exists.
func (s *AuthService) IsAdmin() bool {
	return s.sessions.IsAdmin()
}

// IsAuthenticated reports whether a live user session exists.
func (s *AuthService) IsAuthenticated() bool {
	return s.sessions.IsAuthenticated()
}

// CurrentUser returns the record owned by the active session, or nil.
func (s *AuthService) CurrentUser() (*isolation.UserRecord, error) {
	phone := s.sessions.CurrentUserPhone()
	if phone == "" {
		return nil, nil
	}
	return s.users.GetUserData(phone)
}

// Stats exposes the limiter's read-only counters for UI polling.
func (s *AuthService) Stats(identifier string, action config.ActionKind) ratelimit.Stats {
	return s.limiter.GetStats(identifier, action)
}

// SecurityEvents returns the recorded security events for the admin
// dashboard. Empty unless a live admin session exists.
func (s *AuthService) SecurityEvents() []audit.Event {
	if !s.sessions.IsAdmin() {
		s.auditor.Record(audit.EventUnauthorizedAdmin, "", "security event listing without admin session")
		return nil
	}
	return s.auditor.Events()
}

// AllUsers returns every registered record. Admin-gated by the isolation
// manager itself.
func (s *AuthService) AllUsers() ([]*isolation.UserRecord, error) {
	return s.users.GetAllUsersForAdmin()
}

package service

import (
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"portal-auth/internal/audit"
	"portal-auth/internal/botguard"
	"portal-auth/internal/config"
	"portal-auth/internal/hashing"
	"portal-auth/internal/isolation"
	"portal-auth/internal/ratelimit"
	"portal-auth/internal/session"
	"portal-auth/internal/spam"
	"portal-auth/internal/throttle"
	"portal-auth/internal/util"
)

// User-facing messages. The limiter and spam detector carry their own.
const (
	MsgInvalidCredentials   = "Неверный номер телефона или PIN-код"
	MsgInvalidPin           = "PIN-код должен состоять из 4 или 6 цифр"
	MsgPinMismatch          = "PIN-коды не совпадают"
	MsgInvalidPhone         = "Некорректный номер телефона"
	MsgUserExists           = "Пользователь с таким номером уже зарегистрирован"
	MsgUserNotFound         = "Пользователь не найден"
	MsgChallengeRequired    = "Подтвердите, что вы не робот"
	MsgChallengeWrongAnswer = "Неверный ответ. Попробуйте еще раз."
	MsgRegistrationPending  = "Профиль сохранен. Установите PIN-код."
)

var (
	pinPattern   = regexp.MustCompile(`^\d{4}$|^\d{6}$`)
	phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)
)

// Result is the structured allow/deny outcome returned to the UI layer.
// Expected denials (rate limit, lockout, spam, bad credentials) are carried
// here, never as errors; Silent marks bot trips that must not surface.
type Result struct {
	OK                bool                  `json:"ok"`
	Message           string                `json:"message,omitempty"`
	RemainingAttempts int                   `json:"remainingAttempts,omitempty"`
	RetryAfter        int                   `json:"retryAfter,omitempty"`
	Locked            bool                  `json:"locked,omitempty"`
	ChallengeRequired bool                  `json:"challengeRequired,omitempty"`
	ChallengeQuestion string                `json:"challengeQuestion,omitempty"`
	SpamReason        string                `json:"spamReason,omitempty"`
	SpamConfidence    int                   `json:"spamConfidence,omitempty"`
	User              *isolation.UserRecord `json:"user,omitempty"`
	SessionID         string                `json:"sessionId,omitempty"`
	Silent            bool                  `json:"-"`
}

// AuthService wires the abuse-mitigation gates around the user store. Gate
// order on every guarded operation: honeypot, client throttle, per-action
// rate limit, then the operation itself.
type AuthService struct {
	cfg      *config.Config
	limiter  *ratelimit.Limiter
	detector *spam.Detector
	throttle *throttle.Throttle
	sessions *session.Manager
	users    *isolation.Manager
	hasher   hashing.Hasher
	auditor  *audit.Recorder
	honeypot *botguard.Honeypot

	// credentialWrites serializes hash-then-write sequences per phone so
	// two in-flight PIN writes for one account cannot interleave.
	credentialWrites singleflight.Group

	mu         sync.Mutex
	challenges map[string]*botguard.Challenge
	pending    map[string]*isolation.UserRecord
}

func NewAuthService(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	detector *spam.Detector,
	thr *throttle.Throttle,
	sessions *session.Manager,
	users *isolation.Manager,
	hasher hashing.Hasher,
	auditor *audit.Recorder,
) *AuthService {
	return &AuthService{
		cfg:        cfg,
		limiter:    limiter,
		detector:   detector,
		throttle:   thr,
		sessions:   sessions,
		users:      users,
		hasher:     hasher,
		auditor:    auditor,
		honeypot:   botguard.NewHoneypot(),
		challenges: make(map[string]*botguard.Challenge),
		pending:    make(map[string]*isolation.UserRecord),
	}
}

// HoneypotField returns the field name forms must render hidden and empty.
func (s *AuthService) HoneypotField() string {
	return s.honeypot.FieldName
}

// LoginRequest carries the login form, including the honeypot value and,
// when a challenge is armed, its answer.
type LoginRequest struct {
	Phone           string
	Pin             string
	HoneypotValue   string
	ChallengeAnswer string
	Remember        bool
}

// Login authenticates a phone/PIN pair behind the full gate stack.
func (s *AuthService) Login(req LoginRequest) (*Result, error) {
	if s.honeypot.IsBot(req.HoneypotValue) {
		// Silent short-circuit: nothing is recorded against the limiter
		// and the caller sees a neutral response.
		s.auditor.Record(audit.EventBotDetected, req.Phone, "honeypot tripped on login")
		return &Result{OK: false, Silent: true}, nil
	}

	if gate := s.outerGate(req.Phone, config.ActionLogin); gate != nil {
		return gate, nil
	}

	if !phonePattern.MatchString(req.Phone) {
		// Validation failures are not counted as attempts.
		return &Result{OK: false, Message: MsgInvalidPhone}, nil
	}

	if denied := s.checkChallenge(req.Phone, config.ActionLogin, s.cfg.Auth.ChallengeAfter, req.ChallengeAnswer); denied != nil {
		return denied, nil
	}

	record, err := s.users.VerifyCredentials(req.Phone, req.Pin)
	if err != nil {
		return nil, err
	}
	if record == nil {
		s.limiter.RecordAttempt(req.Phone, config.ActionLogin, false)
		result := &Result{OK: false, Message: MsgInvalidCredentials}
		s.armChallenge(req.Phone, config.ActionLogin, s.cfg.Auth.ChallengeAfter, result)
		return result, nil
	}

	s.limiter.RecordAttempt(req.Phone, config.ActionLogin, true)
	s.clearChallenge(req.Phone)

	token, err := s.sessions.CreateSession(req.Phone)
	if err != nil {
		return nil, err
	}

	if req.Remember {
		if err := s.users.RememberCredentials(req.Phone, record.PinDigest); err != nil {
			util.Error("failed to persist remembered credentials", util.ErrorField(err))
		}
	}

	return &Result{OK: true, User: record, SessionID: token.SessionID}, nil
}

// RegisterRequest is phase one of registration: profile fields only. The
// PIN is set in a second step.
type RegisterRequest struct {
	Phone         string
	Name          string
	Email         string
	AccountNumber string
	Settlement    string
	Street        string
	HouseNumber   string
	Apartment     string
	HoneypotValue string
}

// Register captures the profile and holds it pending until SetPin
// completes the account.
func (s *AuthService) Register(req RegisterRequest) (*Result, error) {
	if s.honeypot.IsBot(req.HoneypotValue) {
		s.auditor.Record(audit.EventBotDetected, req.Phone, "honeypot tripped on registration")
		return &Result{OK: false, Silent: true}, nil
	}

	if gate := s.outerGate(req.Phone, config.ActionRegistration); gate != nil {
		return gate, nil
	}

	if !phonePattern.MatchString(req.Phone) {
		return &Result{OK: false, Message: MsgInvalidPhone}, nil
	}

	if s.users.UserExists(req.Phone) {
		s.limiter.RecordAttempt(req.Phone, config.ActionRegistration, false)
		return &Result{OK: false, Message: MsgUserExists}, nil
	}

	record := &isolation.UserRecord{
		Phone:         req.Phone,
		Name:          util.SanitizeInput(req.Name),
		Email:         util.SanitizeInput(req.Email),
		AccountNumber: util.SanitizeInput(req.AccountNumber),
		Settlement:    util.SanitizeInput(req.Settlement),
		Street:        util.SanitizeInput(req.Street),
		HouseNumber:   util.SanitizeInput(req.HouseNumber),
		Apartment:     util.SanitizeInput(req.Apartment),
	}
	record.Address = composeAddress(record)

	s.mu.Lock()
	s.pending[req.Phone] = record
	s.mu.Unlock()

	return &Result{OK: true, Message: MsgRegistrationPending}, nil
}

// SetPin completes registration: it digests the PIN, writes the record, and
// opens a session. Hash-then-write is serialized per phone.
func (s *AuthService) SetPin(phone, pin, confirm string) (*Result, error) {
	if !pinPattern.MatchString(pin) {
		return &Result{OK: false, Message: MsgInvalidPin}, nil
	}
	if pin != confirm {
		return &Result{OK: false, Message: MsgPinMismatch}, nil
	}

	s.mu.Lock()
	record, ok := s.pending[phone]
	s.mu.Unlock()
	if !ok {
		return &Result{OK: false, Message: MsgUserNotFound}, nil
	}

	_, err, _ := s.credentialWrites.Do(phone, func() (interface{}, error) {
		digest, err := s.hasher.Digest(pin)
		if err != nil {
			return nil, err
		}
		record.PinDigest = digest
		return nil, s.users.StoreUserData(record)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.pending, phone)
	s.mu.Unlock()

	s.limiter.RecordAttempt(phone, config.ActionRegistration, true)

	token, err := s.sessions.CreateSession(phone)
	if err != nil {
		return nil, err
	}
	return &Result{OK: true, User: record, SessionID: token.SessionID}, nil
}

// ResetPin replaces the digest on an existing account. Rate-limited as a
// password reset; the caller must re-authenticate afterwards.
func (s *AuthService) ResetPin(phone, newPin, confirm string) (*Result, error) {
	if gate := s.outerGate(phone, config.ActionPasswordReset); gate != nil {
		return gate, nil
	}

	if !pinPattern.MatchString(newPin) {
		return &Result{OK: false, Message: MsgInvalidPin}, nil
	}
	if newPin != confirm {
		return &Result{OK: false, Message: MsgPinMismatch}, nil
	}

	var notFound bool
	_, err, _ := s.credentialWrites.Do(phone, func() (interface{}, error) {
		record, err := s.users.GetUserByPhone(phone)
		if err != nil {
			return nil, err
		}
		if record == nil {
			notFound = true
			return nil, nil
		}
		digest, err := s.hasher.Digest(newPin)
		if err != nil {
			return nil, err
		}
		record.PinDigest = digest
		return nil, s.users.UpdateUser(record)
	})
	if err != nil {
		return nil, err
	}
	if notFound {
		s.limiter.RecordAttempt(phone, config.ActionPasswordReset, false)
		return &Result{OK: false, Message: MsgUserNotFound}, nil
	}

	s.limiter.RecordAttempt(phone, config.ActionPasswordReset, true)
	if err := s.users.ClearRememberedCredentials(); err != nil {
		util.Error("failed to clear remembered credentials", util.ErrorField(err))
	}
	return &Result{OK: true}, nil
}

// Logout destroys the current user session.
func (s *AuthService) Logout() {
	s.sessions.DestroySession()
}

// outerGate runs the client throttle and the per-action limit check.
// It returns a denial result, or nil when the caller may proceed.
func (s *AuthService) outerGate(identifier string, action config.ActionKind) *Result {
	if ip := s.throttle.Check(); !ip.Allowed {
		return &Result{OK: false, Message: ip.Message}
	}
	s.throttle.Record()

	check := s.limiter.CheckLimit(identifier, action)
	if !check.Allowed {
		retry := check.ResetAfter
		if check.LockoutAfter > 0 {
			retry = check.LockoutAfter
		}
		return &Result{
			OK:         false,
			Message:    check.Message,
			RetryAfter: int(retry / time.Second),
			Locked:     check.LockoutAfter > 0,
		}
	}
	return nil
}

// checkChallenge enforces an armed arithmetic challenge. Returns a denial
// result when the challenge is unanswered or wrong, nil when clear.
func (s *AuthService) checkChallenge(identifier string, action config.ActionKind, after int, answer string) *Result {
	s.mu.Lock()
	challenge, armed := s.challenges[identifier]
	s.mu.Unlock()

	if !armed {
		stats := s.limiter.GetStats(identifier, action)
		if stats.TotalAttempts < after {
			return nil
		}
		challenge = botguard.NewChallenge()
		s.mu.Lock()
		s.challenges[identifier] = challenge
		s.mu.Unlock()
	}

	if answer == "" {
		return &Result{
			OK:                false,
			Message:           MsgChallengeRequired,
			ChallengeRequired: true,
			ChallengeQuestion: challenge.Question(),
		}
	}

	if !challenge.Verify(answer) {
		// Wrong answer: a fresh challenge, same gate.
		next := botguard.NewChallenge()
		s.mu.Lock()
		s.challenges[identifier] = next
		s.mu.Unlock()
		return &Result{
			OK:                false,
			Message:           MsgChallengeWrongAnswer,
			ChallengeRequired: true,
			ChallengeQuestion: next.Question(),
		}
	}

	s.clearChallenge(identifier)
	return nil
}

// armChallenge attaches a challenge to the result once the identifier has
// accumulated enough failures.
func (s *AuthService) armChallenge(identifier string, action config.ActionKind, after int, result *Result) {
	stats := s.limiter.GetStats(identifier, action)
	if stats.TotalAttempts < after {
		return
	}

	s.mu.Lock()
	challenge, ok := s.challenges[identifier]
	if !ok {
		challenge = botguard.NewChallenge()
		s.challenges[identifier] = challenge
	}
	s.mu.Unlock()

	result.ChallengeRequired = true
	result.ChallengeQuestion = challenge.Question()
}

func (s *AuthService) clearChallenge(identifier string) {
	s.mu.Lock()
	delete(s.challenges, identifier)
	s.mu.Unlock()
}

func composeAddress(r *isolation.UserRecord) string {
	address := r.Settlement + ", " + r.Street + ", " + r.HouseNumber
	if r.Apartment != "" {
		address += ", кв. " + r.Apartment
	}
	return address
}

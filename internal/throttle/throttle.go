package throttle

import (
	"sync"
	"time"

	"portal-auth/internal/config"
	"portal-auth/internal/store"
	"portal-auth/internal/util"
)

const (
	pseudonymKey = "browser_fingerprint"
	window       = time.Minute
)

// TooManyRequestsMessage is surfaced when the global cap is hit.
const TooManyRequestsMessage = "Слишком много запросов. Пожалуйста, подождите минуту."

// Result is the throttle's allow/deny decision.
type Result struct {
	Allowed bool
	Message string
}

// Throttle is a coarse global request cap keyed by a stable client
// pseudonym. No real network address is observable behind the original
// deployment, so a random pseudonym persisted in the store stands in for
// one. It runs as an outer gate before any per-action check.
type Throttle struct {
	cfg   *config.ThrottleConfig
	store store.Store

	now func() time.Time

	mu        sync.Mutex
	attempts  map[string][]time.Time
	pseudonym string
}

type Option func(*Throttle)

func WithClock(now func() time.Time) Option {
	return func(t *Throttle) {
		t.now = now
	}
}

func NewThrottle(cfg *config.ThrottleConfig, st store.Store, opts ...Option) *Throttle {
	t := &Throttle{
		cfg:      cfg,
		store:    st,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Pseudonym returns the stable client pseudonym, generating and persisting
// one on first use.
func (t *Throttle) Pseudonym() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pseudonymLocked()
}

func (t *Throttle) pseudonymLocked() string {
	if t.pseudonym != "" {
		return t.pseudonym
	}

	if v, err := t.store.Get(pseudonymKey); err == nil && v != "" {
		t.pseudonym = v
		return v
	}

	v := util.SecureToken(8)
	if err := t.store.Set(pseudonymKey, v); err != nil {
		util.Error("failed to persist client pseudonym", util.ErrorField(err))
	}
	t.pseudonym = v
	return v
}

// Check reports whether another request is allowed within the trailing
// one-minute window.
func (t *Throttle) Check() Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.pseudonymLocked()
	now := t.now()

	recent := 0
	for _, ts := range t.attempts[id] {
		if now.Sub(ts) < window {
			recent++
		}
	}

	if recent >= t.cfg.MaxRequestsPerMinute {
		return Result{Allowed: false, Message: TooManyRequestsMessage}
	}
	return Result{Allowed: true}
}

// Record registers a request and prunes the identifier's history down to
// the trailing window.
func (t *Throttle) Record() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.pseudonymLocked()
	now := t.now()

	timestamps := append(t.attempts[id], now)
	recent := timestamps[:0]
	for _, ts := range timestamps {
		if now.Sub(ts) < window {
			recent = append(recent, ts)
		}
	}
	t.attempts[id] = recent
}

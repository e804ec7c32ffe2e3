package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"portal-auth/internal/bucketing"
	"portal-auth/internal/config"
	"portal-auth/internal/util"
)

// AttemptRecord tracks failed attempts for one (identifier, action) key
// within the action's sliding window.
type AttemptRecord struct {
	Count        int
	Timestamps   []time.Time
	FirstAttempt time.Time
	LastAttempt  time.Time
	Locked       bool
}

// CheckResult is the limiter's allow/deny decision. ResetAfter and
// LockoutAfter are remaining waits, always recomputed from timestamps on
// demand, never from timers.
type CheckResult struct {
	Allowed           bool
	RemainingAttempts int
	ResetAfter        time.Duration
	LockoutAfter      time.Duration
	Message           string
}

// Stats is the read-only projection consumed by UI indicators. Reads are
// mutation-free and safe to poll.
type Stats struct {
	TotalAttempts     int
	RemainingAttempts int
	FirstAttempt      *time.Time
	LastAttempt       *time.Time
	Locked            bool
}

type shard struct {
	mu      sync.Mutex
	records map[string]*AttemptRecord
}

// Limiter is a sliding-window attempt counter keyed by (identifier, action
// kind). State is process-local and in-memory; it is not shared across
// processes, which matches the original deployment.
type Limiter struct {
	cfg     *config.Config
	buckets *bucketing.Manager
	shards  []*shard

	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type Option func(*Limiter)

// WithClock overrides the limiter's time source. Tests use it to walk
// records across window and lockout boundaries.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

func NewLimiter(cfg *config.Config, buckets *bucketing.Manager, opts ...Option) *Limiter {
	shards := make([]*shard, buckets.Shards())
	for i := range shards {
		shards[i] = &shard{records: make(map[string]*AttemptRecord)}
	}

	l := &Limiter{
		cfg:     cfg,
		buckets: buckets,
		shards:  shards,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func recordKey(identifier string, action config.ActionKind) string {
	return string(action) + ":" + identifier
}

func (l *Limiter) shardFor(identifier string) *shard {
	return l.shards[l.buckets.Shard(identifier)]
}

// CheckLimit decides whether the next attempt is allowed. Locking happens
// only in RecordAttempt; CheckLimit reports the current window state and
// prunes expired timestamps as a side effect.
func (l *Limiter) CheckLimit(identifier string, action config.ActionKind) CheckResult {
	rule := l.cfg.Rule(action)
	key := recordKey(identifier, action)
	now := l.now()

	s := l.shardFor(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return CheckResult{Allowed: true, RemainingAttempts: rule.MaxAttempts}
	}

	// Locked records deny until the lockout elapses past the last attempt.
	if rec.Locked && rule.Lockout > 0 {
		sinceLast := now.Sub(rec.LastAttempt)
		if sinceLast < rule.Lockout {
			remaining := rule.Lockout - sinceLast
			return CheckResult{
				Allowed:      false,
				LockoutAfter: remaining,
				Message:      lockoutMessage(remaining),
			}
		}
		// Lockout expired, full reset.
		delete(s.records, key)
		return CheckResult{Allowed: true, RemainingAttempts: rule.MaxAttempts}
	}

	valid := rec.Timestamps[:0]
	for _, ts := range rec.Timestamps {
		if now.Sub(ts) < rule.Window {
			valid = append(valid, ts)
		}
	}

	if len(valid) == 0 {
		delete(s.records, key)
		return CheckResult{Allowed: true, RemainingAttempts: rule.MaxAttempts}
	}

	rec.Timestamps = valid
	rec.Count = len(valid)

	if rec.Count >= rule.MaxAttempts {
		remaining := rule.Window - now.Sub(valid[0])
		return CheckResult{
			Allowed:    false,
			ResetAfter: remaining,
			Message:    limitMessage(remaining),
		}
	}

	return CheckResult{
		Allowed:           true,
		RemainingAttempts: rule.MaxAttempts - rec.Count,
	}
}

// RecordAttempt registers the outcome of an attempt. Success deletes the
// record outright; failure appends a timestamp and, once the attempt count
// reaches the action's maximum and the action defines a lockout, flips the
// record into the locked state.
func (l *Limiter) RecordAttempt(identifier string, action config.ActionKind, success bool) {
	rule := l.cfg.Rule(action)
	key := recordKey(identifier, action)
	now := l.now()

	s := l.shardFor(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		delete(s.records, key)
		return
	}

	rec, ok := s.records[key]
	if !ok {
		s.records[key] = &AttemptRecord{
			Count:        1,
			Timestamps:   []time.Time{now},
			FirstAttempt: now,
			LastAttempt:  now,
		}
		return
	}

	rec.Timestamps = append(rec.Timestamps, now)
	rec.Count++
	rec.LastAttempt = now

	if rec.Count >= rule.MaxAttempts && rule.Lockout > 0 {
		rec.Locked = true
	}

	// Pre-lockout warning one attempt before the limit. Verbosity is
	// governed by the configured log level rather than a build flag.
	if rec.Count >= rule.MaxAttempts-1 {
		util.Warn("suspicious activity detected",
			util.String("action", string(action)),
			util.String("identifier", identifier),
			util.Int("attempts", rec.Count),
			util.Int("max_attempts", rule.MaxAttempts),
			util.Bool("locked", rec.Locked),
		)
	}
}

// Reset unconditionally clears the record for (identifier, action).
func (l *Limiter) Reset(identifier string, action config.ActionKind) {
	key := recordKey(identifier, action)
	s := l.shardFor(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

// GetStats returns the current counters without pruning or otherwise
// mutating the record.
func (l *Limiter) GetStats(identifier string, action config.ActionKind) Stats {
	rule := l.cfg.Rule(action)
	key := recordKey(identifier, action)

	s := l.shardFor(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Stats{RemainingAttempts: rule.MaxAttempts}
	}

	remaining := rule.MaxAttempts - rec.Count
	if remaining < 0 {
		remaining = 0
	}

	first := rec.FirstAttempt
	last := rec.LastAttempt
	return Stats{
		TotalAttempts:     rec.Count,
		RemainingAttempts: remaining,
		FirstAttempt:      &first,
		LastAttempt:       &last,
		Locked:            rec.Locked,
	}
}

// Cleanup drops every record whose last attempt is older than the
// configured max age, regardless of lock state.
func (l *Limiter) Cleanup() int {
	maxAge := l.cfg.CleanupMaxAge
	now := l.now()
	removed := 0

	for _, s := range l.shards {
		s.mu.Lock()
		for key, rec := range s.records {
			if now.Sub(rec.LastAttempt) > maxAge {
				delete(s.records, key)
				removed++
			}
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		util.Debug("rate limit records swept", util.Int("removed", removed))
	}
	return removed
}

// StartCleanup launches the periodic sweep. It is intended to be called
// once per process; Stop tears the goroutine down.
func (l *Limiter) StartCleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop cancels the cleanup sweep. Safe to call multiple times.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

func lockoutMessage(remaining time.Duration) string {
	return fmt.Sprintf("Действие заблокировано. Попробуйте через %d мин.", ceilMinutes(remaining))
}

func limitMessage(remaining time.Duration) string {
	return fmt.Sprintf("Превышен лимит попыток. Попробуйте через %d мин.", ceilMinutes(remaining))
}

func ceilMinutes(d time.Duration) int {
	mins := int(d / time.Minute)
	if d%time.Minute != 0 {
		mins++
	}
	if mins < 1 {
		mins = 1
	}
	return mins
}

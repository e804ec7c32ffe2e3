package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"portal-auth/internal/bucketing"
	"portal-auth/internal/util"
)

// Event types recorded by the core.
const (
	EventUnauthorizedAccess = "unauthorized_access"
	EventUnauthorizedAdmin  = "unauthorized_admin_access"
	EventBotDetected        = "bot_detected"
	EventSessionExpired     = "session_expired"
	EventLockout            = "lockout"
	EventMigration          = "migration"
)

// Event is one recorded security occurrence.
type Event struct {
	ID         string    `json:"id"`
	Bucket     int       `json:"bucket"`
	Date       string    `json:"date"`
	Time       time.Time `json:"time"`
	Type       string    `json:"type"`
	Identifier string    `json:"identifier"`
	Details    string    `json:"details"`
}

// Recorder keeps a bounded in-memory log of security events for the admin
// dashboard. Events are also mirrored to the structured log; the ring is a
// convenience view, not durable storage.
type Recorder struct {
	buckets *bucketing.Manager

	mu     sync.Mutex
	events []Event
	max    int
}

func NewRecorder(buckets *bucketing.Manager, maxEvents int) *Recorder {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Recorder{
		buckets: buckets,
		max:     maxEvents,
	}
}

// Record appends an event, evicting the oldest once the ring is full.
func (r *Recorder) Record(eventType, identifier, details string) {
	event := Event{
		ID:         uuid.NewString(),
		Bucket:     r.buckets.EventBucket(identifier),
		Date:       r.buckets.DateBucket(),
		Time:       time.Now(),
		Type:       eventType,
		Identifier: identifier,
		Details:    details,
	}

	r.mu.Lock()
	r.events = append(r.events, event)
	if len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
	r.mu.Unlock()

	util.Warn("security event",
		util.String("type", eventType),
		util.String("identifier", identifier),
		util.String("details", details),
	)
}

// Events returns a copy of the recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
)

// Manager assigns identifiers to fixed buckets via murmur3. The rate limiter
// shards its record map and lock set by identifier bucket, and the audit
// recorder tags events with an event bucket so high-volume identifiers do
// not serialize everything behind one mutex.
type Manager struct {
	shards       int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewManager(shards, eventBuckets int) *Manager {
	if shards <= 0 {
		shards = 32
	}
	if eventBuckets <= 0 {
		eventBuckets = 16
	}

	m := &Manager{
		shards:       shards,
		eventBuckets: eventBuckets,
	}

	// Pool of hash functions to avoid allocation overhead on hot paths.
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// Shard returns the shard index for an identifier (0 to shards-1).
// Identical identifiers always map to the same shard.
func (m *Manager) Shard(identifier string) int {
	return int(m.hash(identifier) % uint64(m.shards))
}

// Shards returns the configured shard count.
func (m *Manager) Shards() int {
	return m.shards
}

// EventBucket returns the audit bucket for an identifier.
func (m *Manager) EventBucket(identifier string) int {
	return int(m.hash(identifier) % uint64(m.eventBuckets))
}

// TimeBucket truncates now to windowSeconds boundaries.
func (m *Manager) TimeBucket(windowSeconds int) int64 {
	return time.Now().Unix() / int64(windowSeconds) * int64(windowSeconds)
}

// DateBucket returns the UTC date tag used on audit events.
func (m *Manager) DateBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

func (m *Manager) hash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}

package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore keeps serialized records in process memory. It is meant for tests
// and single-instance development runs.
type MemoryStore struct {
	opts    Options
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Purger = (*MemoryStore)(nil)
)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts.withDefaults(),
		entries: make(map[string]memoryEntry),
	}
}

// Load returns the record for userID, or a fresh one when missing or expired.
func (m *MemoryStore) Load(ctx context.Context, userID string) (Record, error) {
	key := m.opts.Key(userID)
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || !m.opts.Now().Before(entry.expiresAt) {
		return Fresh(""), nil
	}
	return m.opts.load(ctx, "memory", userID, entry.data)
}

// Save replaces the record for userID.
func (m *MemoryStore) Save(_ context.Context, userID string, rec Record, ttl time.Duration) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = m.opts.MaxAge
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[m.opts.Key(userID)] = memoryEntry{data: data, expiresAt: m.opts.Now().Add(ttl)}
	return nil
}

// PurgeExpired drops entries whose TTL has passed.
func (m *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	now := m.opts.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, entry := range m.entries {
		if !now.Before(entry.expiresAt) {
			delete(m.entries, key)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

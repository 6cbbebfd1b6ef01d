package kvstore

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-passwordless"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process KeyValueStore for tests and single-node
// setups. TTLs are honored exactly; expiry is checked on read.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

var _ passwordless.KeyValueStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]memoryEntry{},
		clock:   time.Now,
	}
}

// WithClock overrides the time source, mainly for expiry tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, passwordless.ErrKeyNotFound
	}

	if !entry.expiresAt.IsZero() && !s.clock().Before(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, passwordless.ErrKeyNotFound
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)

	return value, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := memoryEntry{value: make([]byte, len(value))}
	copy(entry.value, value)

	if ttl > 0 {
		entry.expiresAt = s.clock().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()

	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	return nil
}

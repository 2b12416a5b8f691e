package guard

import (
	"context"
	"sync"
	"time"
)

// memEntry is a stored value with its expiry instant.
type memEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-process StateStore backed by a map with per-entry
// expiry. Reads check expiry lazily and evict on the spot; entries nobody
// reads again linger until Sweep runs.
//
// Suitable for single-instance deployments and tests. Multi-instance
// deployments should use RedisStore so all instances observe the same
// conversation state.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]memEntry

	// now is the clock; overridable in tests to cross TTL boundaries
	// without sleeping.
	now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]memEntry),
		now:  time.Now,
	}
}

// Get implements StateStore. Expired entries are removed and reported as
// misses.
func (s *MemoryStore) Get(_ context.Context, conversationID, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	convo, ok := s.data[conversationID]
	if !ok {
		return "", false, nil
	}
	e, ok := convo[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.After(s.now()) {
		delete(convo, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Put implements StateStore.
func (s *MemoryStore) Put(_ context.Context, conversationID, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	convo, ok := s.data[conversationID]
	if !ok {
		convo = make(map[string]memEntry)
		s.data[conversationID] = convo
	}
	convo[key] = memEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// Delete implements StateStore.
func (s *MemoryStore) Delete(_ context.Context, conversationID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if convo, ok := s.data[conversationID]; ok {
		delete(convo, key)
	}
	return nil
}

// Clear implements StateStore.
func (s *MemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, conversationID)
	return nil
}

// Sweep removes every expired entry and empty conversation bucket, returning
// the number of entries evicted. The periodic cleanup job calls this; lazy
// expiry on Get remains the correctness mechanism either way.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for convID, convo := range s.data {
		for key, e := range convo {
			if !e.expiresAt.After(now) {
				delete(convo, key)
				evicted++
			}
		}
		if len(convo) == 0 {
			delete(s.data, convID)
		}
	}
	return evicted
}

package conversation

import (
	"context"
	"log"
	"sync"
	"time"
)

type record struct {
	state   State
	expires time.Time
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// MemoryStore keeps state in process. Expiry is passive (checked on access)
// plus Sweep for active cleanup.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]record
	locks   map[string]*keyLock
}

// NewMemoryStore creates a store whose entries live ttl past their last
// transition.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]record),
		locks:   make(map[string]*keyLock),
	}
}

// SetClock replaces the store's time source.
func (s *MemoryStore) SetClock(now func() time.Time) { s.now = now }

func (s *MemoryStore) Get(_ context.Context, key string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(key), nil
}

// load returns key's live state, dropping it if expired. Caller holds s.mu.
func (s *MemoryStore) load(key string) State {
	rec, ok := s.records[key]
	if !ok {
		return StateNone
	}
	if !s.now().Before(rec.expires) {
		delete(s.records, key)
		return StateNone
	}
	return rec.state
}

func (s *MemoryStore) Update(_ context.Context, key string, fn Mutation) (State, error) {
	unlock := s.lock(key)
	defer unlock()

	s.mu.Lock()
	cur := s.load(key)
	s.mu.Unlock()

	next, write := fn(cur)
	if !write {
		return cur, nil
	}

	s.mu.Lock()
	if next == StateNone {
		delete(s.records, key)
	} else {
		s.records[key] = record{state: next, expires: s.now().Add(s.ttl)}
	}
	s.mu.Unlock()
	return next, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	unlock := s.lock(key)
	defer unlock()

	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// lock serializes updates to key and returns the release func.
func (s *MemoryStore) lock(key string) func() {
	s.mu.Lock()
	kl, ok := s.locks[key]
	if !ok {
		kl = &keyLock{}
		s.locks[key] = kl
	}
	kl.refs++
	s.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		s.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Sweep removes expired entries and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for key, rec := range s.records {
		if !now.Before(rec.expires) {
			delete(s.records, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored (possibly expired) entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *MemoryStore) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				log.Printf("[Conversation] 🧹 Swept %d expired conversation(s)", n)
			}
		}
	}
}

package draftstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mmdatafocus/books_reconcile/models"
)

type entry struct {
	payload   []byte
	expiresAt time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore keeps drafts for ttl. A zero ttl keeps them until cleared.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, entries: map[string]entry{}, now: time.Now}
}

func (s *MemoryStore) Save(ctx context.Context, scope models.DraftScope, key string, draft any) error {
	k, err := storageKey(scope, key)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(draft)
	if err != nil {
		return err
	}
	e := entry{payload: payload}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[k] = e
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, scope models.DraftScope, key string, dest any) (bool, error) {
	k, err := storageKey(scope, key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	e, ok := s.entries[k]
	if ok && !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.entries, k)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *MemoryStore) Clear(ctx context.Context, scope models.DraftScope, key string) error {
	k, err := storageKey(scope, key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, k)
	return nil
}

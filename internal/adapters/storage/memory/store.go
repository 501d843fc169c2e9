package memory

import (
	"context"
	"sync"
	"time"

	"simctl/internal/domain"
)

// Store keeps session state, settings and a bounded history of finished
// sessions in process memory. Nothing survives a restart; it backs tests and
// the "memory" state backend.
type Store struct {
	mu sync.RWMutex

	state    *domain.PersistedState
	settings domain.Settings

	// ring by insertion order of finished session ids
	order       []string
	items       map[string]historyEntry
	maxSessions int
	ttl         time.Duration
}

type historyEntry struct {
	session    domain.Session
	recordedAt time.Time
}

func NewStore(maxSessions int, ttl time.Duration) *Store {
	if maxSessions <= 0 {
		maxSessions = 100
	}
	return &Store{
		order:       make([]string, 0, maxSessions),
		items:       make(map[string]historyEntry, maxSessions),
		maxSessions: maxSessions,
		ttl:         ttl,
	}
}

// StateStore

func (s *Store) Save(ctx context.Context, st domain.PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := st
	s.state = &cp
	return nil
}

func (s *Store) Load(ctx context.Context) (domain.PersistedState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return domain.PersistedState{}, false, nil
	}
	return *s.state, true, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}

func (s *Store) Exists(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state != nil, nil
}

// SettingsStore

func (s *Store) LoadSettings(ctx context.Context) (domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, st domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = st
	return nil
}

// HistoryRepository

func (s *Store) RecordSession(ctx context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	if _, ok := s.items[sess.ID]; !ok {
		if len(s.items) >= s.maxSessions && len(s.order) > 0 {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.items, oldest)
		}
		s.order = append(s.order, sess.ID)
	}
	s.items[sess.ID] = historyEntry{session: sess, recordedAt: time.Now()}
	return nil
}

// ListSessions returns finished sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]domain.Session, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]domain.Session, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		e, ok := s.items[s.order[i]]
		if !ok {
			continue
		}
		if s.ttl > 0 && time.Since(e.recordedAt) > s.ttl {
			continue
		}
		results = append(results, e.session)
	}
	total := len(results)
	start := offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if limit <= 0 || end > total {
		end = total
	}
	return results[start:end], total, nil
}

func (s *Store) evictExpiredLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.ttl)
	kept := s.order[:0]
	for _, id := range s.order {
		if e, ok := s.items[id]; ok && e.recordedAt.Before(cutoff) {
			delete(s.items, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

package regime_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"fasting/backend/internal/model"
)

// memStore is an in-memory OverrideStore.
type memStore struct {
	mu   sync.Mutex
	rows map[string]model.RegimeOverrides
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]model.RegimeOverrides)}
}

func (s *memStore) LoadOverrides(ctx context.Context, planID string) (*model.RegimeOverrides, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[planID]
	if !ok {
		return nil, nil
	}
	copied := row
	return &copied, nil
}

func (s *memStore) SaveOverrides(ctx context.Context, overrides *model.RegimeOverrides) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[overrides.PlanID] = *overrides
	return nil
}

func (s *memStore) DeleteOverrides(ctx context.Context, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, planID)
	return nil
}

// memHistory is an in-memory SessionHistory whose inserts can be made to
// fail a given number of times.
type memHistory struct {
	mu          sync.Mutex
	sessions    []model.Session
	failNext    int
	insertCalls int
}

func (h *memHistory) ListSessions(ctx context.Context, userID string) ([]model.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Session, len(h.sessions))
	copy(out, h.sessions)
	return out, nil
}

func (h *memHistory) InsertSession(ctx context.Context, session *model.Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.insertCalls++
	if h.failNext > 0 {
		h.failNext--
		return errors.New("storage unavailable")
	}
	if session.ID == "" {
		session.ID = "session-" + time.Now().Format("150405.000000000")
	}
	h.sessions = append(h.sessions, *session)
	return nil
}

func (h *memHistory) inserted() []model.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.Session, len(h.sessions))
	copy(out, h.sessions)
	return out
}

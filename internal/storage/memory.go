package storage

import (
	"context"
	"sync"
	"time"

	"hostsentry/internal/model"
)

// memoryStore keeps everything in process. It backs tests and deployments
// that explicitly disable persistence; policy state then only survives as
// long as the process does.
type memoryStore struct {
	mu     sync.Mutex
	hosts  map[string]model.HostPolicyState
	alerts []model.Alert
	seen   map[string]time.Time
}

func NewMemory() Store {
	return &memoryStore{
		hosts: make(map[string]model.HostPolicyState),
		seen:  make(map[string]time.Time),
	}
}

func (s *memoryStore) Init(ctx context.Context) error { return nil }
func (s *memoryStore) Close() error                   { return nil }

func (s *memoryStore) GetHostState(ctx context.Context, host string) (model.HostPolicyState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.hosts[host]
	return st, ok, nil
}

func (s *memoryStore) UpsertHostState(ctx context.Context, st model.HostPolicyState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts[st.Host] = st
	return nil
}

func (s *memoryStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *memoryStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.alerts) {
		limit = len(s.alerts)
	}
	out := make([]model.Alert, 0, limit)
	for i := len(s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.alerts[i])
	}
	return out, nil
}

func (s *memoryStore) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID]
	return ok, nil
}

func (s *memoryStore) MarkEvent(ctx context.Context, eventID string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[eventID]; !ok {
		s.seen[eventID] = seenAt
	}
	return nil
}

func (s *memoryStore) UnmarkEvent(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, eventID)
	return nil
}

func (s *memoryStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ts := range s.seen {
		if ts.Before(olderThan) {
			delete(s.seen, id)
			n++
		}
	}
	return n, nil
}

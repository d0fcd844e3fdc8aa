package alerts

import (
	"sync"
	"time"

	"hostsentry/internal/model"
)

// Store is a bounded in-memory ring of recent alerts backing the read-only
// API. The durable copy lives in storage; this one just avoids a database
// round trip for "what happened lately".
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, 0, limit)
	start := len(s.buf) - limit
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.CreatedAt.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) ForHost(host string, limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].Host != host {
			continue
		}
		out = append(out, s.buf[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// WarmFromHistory seeds an empty ring from durable rows listed newest-first,
// so the recent-alerts surface survives a restart. A ring that already has
// entries is left alone.
func (s *Store) WarmFromHistory(rows []model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) > 0 {
		return
	}
	n := len(rows)
	if n > s.limit {
		n = s.limit
	}
	for i := n - 1; i >= 0; i-- {
		s.buf = append(s.buf, rows[i])
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}

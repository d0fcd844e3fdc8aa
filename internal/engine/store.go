package engine

import (
	"sort"
	"sync"
	"time"

	"hostsentry/internal/model"
)

// hostState is the per-host actor: its rolling window plus the re-trigger
// latches for each detector kind. Window and latches are accessed under mu,
// which also serializes the policy decision that follows a correlation pass.
// Hosts never share state, so passes for different hosts run fully in
// parallel.
type hostState struct {
	mu      sync.Mutex
	window  *Window
	latched map[model.FindingKind]bool

	// Guarded by the owning hostStore's mutex, not by mu.
	lastSeen time.Time
	pins     int
}

// hostStore keys host actors by host string. Reclamation is keyed on last
// event time: a host that keeps reporting keeps its window, however long it
// reports for. Idle hosts are swept lazily on acquire once idleTTL has
// passed, and capacity pressure beyond maxHosts drops the most idle ones
// first. An actor is pinned for the duration of a pass, so a host mid-pass
// can never be reclaimed out from under its own mutex. A reclaimed host
// simply starts with an empty window on its next event; policy state lives
// in durable storage.
type hostStore struct {
	mu        sync.Mutex
	hosts     map[string]*hostState
	span      time.Duration
	maxEvents int
	maxHosts  int
	idleTTL   time.Duration
	lastSweep time.Time
}

func newHostStore(span time.Duration, maxEvents, maxHosts int, idleTTL time.Duration) *hostStore {
	return &hostStore{
		hosts:     make(map[string]*hostState),
		span:      span,
		maxEvents: maxEvents,
		maxHosts:  maxHosts,
		idleTTL:   idleTTL,
	}
}

// acquire returns the pinned actor for host, creating it if needed. The
// caller must release it once the pass is done.
func (s *hostStore) acquire(host string, now time.Time) *hostState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(now)
	h, ok := s.hosts[host]
	if !ok {
		h = &hostState{
			window:  NewWindow(s.span, s.maxEvents),
			latched: make(map[model.FindingKind]bool),
		}
		s.hosts[host] = h
	}
	h.lastSeen = now
	h.pins++
	if !ok {
		s.trim()
	}
	return h
}

func (s *hostStore) release(h *hostState) {
	s.mu.Lock()
	h.pins--
	s.mu.Unlock()
}

// sweep drops unpinned hosts whose last event is older than idleTTL. It runs
// at most once per TTL interval so acquire stays O(1) between sweeps.
func (s *hostStore) sweep(now time.Time) {
	if s.idleTTL <= 0 || now.Sub(s.lastSweep) < s.idleTTL {
		return
	}
	s.lastSweep = now
	for host, h := range s.hosts {
		if h.pins == 0 && now.Sub(h.lastSeen) >= s.idleTTL {
			delete(s.hosts, host)
		}
	}
}

// trim enforces the maxHosts bound, dropping the most idle unpinned hosts
// first.
func (s *hostStore) trim() {
	if s.maxHosts <= 0 || len(s.hosts) <= s.maxHosts {
		return
	}
	type candidate struct {
		host     string
		lastSeen time.Time
	}
	idle := make([]candidate, 0, len(s.hosts))
	for host, h := range s.hosts {
		if h.pins == 0 {
			idle = append(idle, candidate{host: host, lastSeen: h.lastSeen})
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].lastSeen.Before(idle[j].lastSeen) })
	for _, c := range idle {
		if len(s.hosts) <= s.maxHosts {
			return
		}
		delete(s.hosts, c.host)
	}
}

func (s *hostStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hosts)
}

func (s *hostStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hosts = make(map[string]*hostState)
}

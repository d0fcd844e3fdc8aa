package engine

import (
	"time"

	"hostsentry/internal/model"
)

// Window holds the recent events of one host, ordered by event timestamp.
// Events may arrive out of order within the replay tolerance enforced
// upstream; insertion keeps the slice sorted. Eviction is lazy: every admit
// drops entries older than (max timestamp seen - span) and trims to the
// count bound.
type Window struct {
	span      time.Duration
	maxEvents int
	events    []model.EventRecord
	head      int
	maxSeen   time.Time
}

func NewWindow(span time.Duration, maxEvents int) *Window {
	return &Window{
		span:      span,
		maxEvents: maxEvents,
		events:    make([]model.EventRecord, 0, 64),
	}
}

func (w *Window) Span() time.Duration {
	return w.span
}

// Admit inserts the event in timestamp order and returns the resulting
// window. A late event does not move the upper bound; an event older than
// the span cutoff is inserted and immediately evicted by the same pass.
func (w *Window) Admit(ev model.EventRecord) []model.EventRecord {
	ts := ev.TimestampUTC
	if ts.After(w.maxSeen) {
		w.maxSeen = ts
	}
	w.insert(ev)
	w.evict(w.maxSeen.Add(-w.span))
	return w.Snapshot()
}

func (w *Window) insert(ev model.EventRecord) {
	pos := len(w.events)
	for pos > w.head && w.events[pos-1].TimestampUTC.After(ev.TimestampUTC) {
		pos--
	}
	w.events = append(w.events, model.EventRecord{})
	copy(w.events[pos+1:], w.events[pos:])
	w.events[pos] = ev
}

func (w *Window) evict(cutoff time.Time) {
	for w.head < len(w.events) && w.events[w.head].TimestampUTC.Before(cutoff) {
		w.head++
	}
	if w.maxEvents > 0 {
		for len(w.events)-w.head > w.maxEvents {
			w.head++
		}
	}
	if w.head > 0 && w.head*2 >= len(w.events) {
		w.events = append([]model.EventRecord{}, w.events[w.head:]...)
		w.head = 0
	}
}

func (w *Window) Len() int {
	return len(w.events) - w.head
}

func (w *Window) Snapshot() []model.EventRecord {
	out := make([]model.EventRecord, len(w.events)-w.head)
	copy(out, w.events[w.head:])
	return out
}

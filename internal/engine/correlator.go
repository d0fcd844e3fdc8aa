package engine

import (
	"hostsentry/internal/detect"
	"hostsentry/internal/model"
)

// Correlator runs one correlation pass: admit the event, evaluate every
// detector against the updated window, and forward only threshold
// crossings. The latch per detector kind stays set while the detector keeps
// reporting, so a finding fires once per crossing instead of once per event;
// it clears as soon as the window drops back below threshold.
type Correlator struct {
	detectors []detect.Detector
}

func NewCorrelator(detectors []detect.Detector) *Correlator {
	return &Correlator{detectors: detectors}
}

// correlate must run with h.mu held.
func (c *Correlator) correlate(h *hostState, ev model.EventRecord) model.CorrelationResult {
	window := h.window.Admit(ev)
	var findings []model.Finding
	for _, d := range c.detectors {
		kind := d.Kind()
		f, ok := d.Evaluate(ev, window)
		if !ok {
			h.latched[kind] = false
			continue
		}
		if h.latched[kind] {
			continue
		}
		h.latched[kind] = true
		findings = append(findings, f)
	}
	return model.CorrelationResult{Event: ev, Findings: findings, Window: window}
}

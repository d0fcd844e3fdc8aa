package detect

import (
	"fmt"
	"time"

	"hostsentry/internal/config"
	"hostsentry/internal/model"
)

// IngestStorm guards against runaway telemetry agents: it counts every event
// in a short sub-window regardless of action, anchored at the newest
// timestamp in the window.
type IngestStorm struct {
	cfg  config.IngestStormConfig
	span time.Duration
}

func NewIngestStorm(cfg config.IngestStormConfig, span time.Duration) *IngestStorm {
	return &IngestStorm{cfg: cfg, span: span}
}

func (d *IngestStorm) Kind() model.FindingKind {
	return model.KindIngestStorm
}

func (d *IngestStorm) Evaluate(ev model.EventRecord, window []model.EventRecord) (model.Finding, bool) {
	if len(window) == 0 {
		return model.Finding{}, false
	}
	newest := window[len(window)-1].TimestampUTC
	cutoff := newest.Add(-d.cfg.Interval)
	evidence := make([]string, 0, d.cfg.Threshold)
	for _, e := range window {
		if e.TimestampUTC.Before(cutoff) {
			continue
		}
		evidence = append(evidence, e.EventID)
	}
	if len(evidence) <= d.cfg.Threshold {
		return model.Finding{}, false
	}
	return model.Finding{
		Kind:     model.KindIngestStorm,
		Host:     ev.Host,
		Evidence: evidence,
		Severity: d.cfg.Severity,
		Explanation: fmt.Sprintf("%d events within %s (burst threshold %d)",
			len(evidence), d.cfg.Interval, d.cfg.Threshold),
		DetectedAt: ev.TimestampUTC,
	}, true
}

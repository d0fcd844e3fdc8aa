package detect

import (
	"fmt"

	"hostsentry/internal/config"
	"hostsentry/internal/model"
)

// BruteForce flags depth against the host: too many failed logins inside the
// window, regardless of user.
type BruteForce struct {
	cfg config.BruteForceConfig
}

func NewBruteForce(cfg config.BruteForceConfig) *BruteForce {
	return &BruteForce{cfg: cfg}
}

func (d *BruteForce) Kind() model.FindingKind {
	return model.KindBruteForce
}

func (d *BruteForce) Evaluate(ev model.EventRecord, window []model.EventRecord) (model.Finding, bool) {
	evidence := make([]string, 0, d.cfg.Threshold)
	for _, e := range window {
		if isFailedLogin(e) {
			evidence = append(evidence, e.EventID)
		}
	}
	if len(evidence) < d.cfg.Threshold {
		return model.Finding{}, false
	}
	return model.Finding{
		Kind:     model.KindBruteForce,
		Host:     ev.Host,
		Evidence: evidence,
		Severity: d.cfg.Severity,
		Explanation: fmt.Sprintf("%d failed logins within the window (threshold %d)",
			len(evidence), d.cfg.Threshold),
		DetectedAt: ev.TimestampUTC,
	}, true
}

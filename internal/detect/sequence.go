package detect

import (
	"fmt"

	"hostsentry/internal/config"
	"hostsentry/internal/model"
)

// SuccessAfterFailures matches an ordered subsequence, not a count: a run of
// failed logins for one user followed chronologically by a success for that
// same user. The window is already timestamp-sorted, so a single forward
// scan per user is enough.
type SuccessAfterFailures struct {
	cfg config.SuccessAfterConfig
}

func NewSuccessAfterFailures(cfg config.SuccessAfterConfig) *SuccessAfterFailures {
	return &SuccessAfterFailures{cfg: cfg}
}

func (d *SuccessAfterFailures) Kind() model.FindingKind {
	return model.KindSuccessAfterFailures
}

func (d *SuccessAfterFailures) Evaluate(ev model.EventRecord, window []model.EventRecord) (model.Finding, bool) {
	failures := make(map[string][]string)
	for _, e := range window {
		if e.User == "" {
			continue
		}
		switch {
		case isFailedLogin(e):
			failures[e.User] = append(failures[e.User], e.EventID)
		case isSuccessfulLogin(e):
			prior := failures[e.User]
			if len(prior) < d.cfg.FailureRun {
				continue
			}
			evidence := append(append([]string{}, prior...), e.EventID)
			return model.Finding{
				Kind:     model.KindSuccessAfterFailures,
				Host:     ev.Host,
				Evidence: evidence,
				Severity: d.cfg.Severity,
				Explanation: fmt.Sprintf("user %q succeeded after %d failed logins (threshold %d)",
					e.User, len(prior), d.cfg.FailureRun),
				DetectedAt: ev.TimestampUTC,
			}, true
		}
	}
	return model.Finding{}, false
}

package detect

import (
	"fmt"

	"hostsentry/internal/config"
	"hostsentry/internal/model"
)

// PasswordSpray flags breadth: failed logins across many distinct users,
// which brute force (depth against one account) does not catch. Scoping is
// per host; with PerSourceIP set, only failures from the new event's source
// address are counted.
type PasswordSpray struct {
	cfg config.PasswordSprayConfig
}

func NewPasswordSpray(cfg config.PasswordSprayConfig) *PasswordSpray {
	return &PasswordSpray{cfg: cfg}
}

func (d *PasswordSpray) Kind() model.FindingKind {
	return model.KindPasswordSpray
}

func (d *PasswordSpray) Evaluate(ev model.EventRecord, window []model.EventRecord) (model.Finding, bool) {
	seen := make(map[string]struct{})
	evidence := make([]string, 0, d.cfg.Threshold)
	for _, e := range window {
		if !isFailedLogin(e) || e.User == "" {
			continue
		}
		if d.cfg.PerSourceIP && e.SrcIP != ev.SrcIP {
			continue
		}
		if _, ok := seen[e.User]; ok {
			continue
		}
		seen[e.User] = struct{}{}
		evidence = append(evidence, e.EventID)
	}
	if len(seen) < d.cfg.Threshold {
		return model.Finding{}, false
	}
	scope := "host"
	if d.cfg.PerSourceIP {
		scope = "source " + ev.SrcIP
	}
	return model.Finding{
		Kind:     model.KindPasswordSpray,
		Host:     ev.Host,
		Evidence: evidence,
		Severity: d.cfg.Severity,
		Explanation: fmt.Sprintf("failed logins against %d distinct users on %s (threshold %d)",
			len(seen), scope, d.cfg.Threshold),
		DetectedAt: ev.TimestampUTC,
	}, true
}

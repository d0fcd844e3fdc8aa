package detect

import (
	"hostsentry/internal/config"
	"hostsentry/internal/model"
)

// Detector evaluates one attack pattern against a host's window. Evaluate is
// a pure function of (new event, window): it must not keep state, so the
// same window always yields the same answer and detectors can run in any
// order. Re-trigger suppression is the correlator's job.
type Detector interface {
	Kind() model.FindingKind
	Evaluate(ev model.EventRecord, window []model.EventRecord) (model.Finding, bool)
}

// All builds the standard detector set from config.
func All(cfg config.DetectionConfig) []Detector {
	return []Detector{
		NewBruteForce(cfg.BruteForce),
		NewPasswordSpray(cfg.PasswordSpray),
		NewSuccessAfterFailures(cfg.SuccessAfter),
		NewIngestStorm(cfg.IngestStorm, cfg.WindowSpan),
	}
}

func isFailedLogin(ev model.EventRecord) bool {
	return ev.Action == model.ActionLoginFailed
}

func isSuccessfulLogin(ev model.EventRecord) bool {
	return ev.Action == model.ActionLoginSuccess
}

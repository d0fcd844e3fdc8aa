package gateway

import (
	"log/slog"
	"os"
)

// Auditor writes one JSON line per accept/reject decision to an append-only
// file, separate from operational logging so the trail survives log level
// changes.
type Auditor struct {
	logger *slog.Logger
	file   *os.File
}

func NewAuditor(path string) (*Auditor, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Auditor{
		logger: slog.New(slog.NewJSONHandler(f, nil)),
		file:   f,
	}, nil
}

func (a *Auditor) Accept(attrs ...any) {
	if a == nil {
		return
	}
	a.logger.Info("gateway_accept", attrs...)
}

func (a *Auditor) Reject(reason string, attrs ...any) {
	if a == nil {
		return
	}
	a.logger.Info("gateway_reject", append([]any{"reason", reason}, attrs...)...)
}

func (a *Auditor) Decision(attrs ...any) {
	if a == nil {
		return
	}
	a.logger.Info("policy_decision", attrs...)
}

func (a *Auditor) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	return a.file.Close()
}

package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hostsentry/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:hostsentry.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Host state writes are serialized per host in-process; one connection
	// keeps sqlite itself from ever seeing interleaved writers.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS host_policy (
			host TEXT PRIMARY KEY,
			posture TEXT NOT NULL,
			cooldown_until TEXT NULL,
			quarantine_reason TEXT NULL,
			escalation_count INTEGER NOT NULL DEFAULT 0,
			last_decision_at TEXT NOT NULL,
			updated_utc TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			host TEXT NOT NULL,
			decision TEXT NOT NULL,
			posture TEXT NOT NULL,
			created_at TEXT NOT NULL,
			findings_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS idempotency (
			event_id TEXT PRIMARY KEY,
			first_seen_utc TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) GetHostState(ctx context.Context, host string) (model.HostPolicyState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT posture, cooldown_until, quarantine_reason, escalation_count, last_decision_at
		FROM host_policy WHERE host = ?`, host)
	var (
		posture       string
		cooldownUntil sql.NullString
		reason        sql.NullString
		escalation    int
		lastDecision  string
	)
	if err := row.Scan(&posture, &cooldownUntil, &reason, &escalation, &lastDecision); err != nil {
		if err == sql.ErrNoRows {
			return model.HostPolicyState{}, false, nil
		}
		return model.HostPolicyState{}, false, err
	}
	st := model.HostPolicyState{
		Host:             host,
		Posture:          model.Posture(posture),
		QuarantineReason: reason.String,
		EscalationCount:  escalation,
	}
	if cooldownUntil.Valid && cooldownUntil.String != "" {
		ts, err := time.Parse(time.RFC3339Nano, cooldownUntil.String)
		if err != nil {
			return model.HostPolicyState{}, false, err
		}
		st.CooldownUntil = &ts
	}
	if lastDecision != "" {
		ts, err := time.Parse(time.RFC3339Nano, lastDecision)
		if err != nil {
			return model.HostPolicyState{}, false, err
		}
		st.LastDecisionAt = ts
	}
	return st, true, nil
}

func (s *sqliteStore) UpsertHostState(ctx context.Context, st model.HostPolicyState) error {
	var cooldownUntil any
	if st.CooldownUntil != nil {
		cooldownUntil = st.CooldownUntil.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO host_policy(host, posture, cooldown_until, quarantine_reason, escalation_count, last_decision_at, updated_utc)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(host) DO UPDATE SET
			posture=excluded.posture,
			cooldown_until=excluded.cooldown_until,
			quarantine_reason=excluded.quarantine_reason,
			escalation_count=excluded.escalation_count,
			last_decision_at=excluded.last_decision_at,
			updated_utc=excluded.updated_utc`,
		st.Host,
		string(st.Posture),
		cooldownUntil,
		st.QuarantineReason,
		st.EscalationCount,
		st.LastDecisionAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, host, decision, posture, created_at, findings_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		alert.AlertID,
		alert.Host,
		string(alert.Decision),
		string(alert.Posture),
		alert.CreatedAt.UTC().Format(time.RFC3339Nano),
		encodeJSON(alert.Findings),
	)
	return err
}

func (s *sqliteStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT alert_id, host, decision, posture, created_at, findings_json
		FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Alert, 0, limit)
	for rows.Next() {
		var (
			alert    model.Alert
			decision string
			posture  string
			created  string
			findings string
		)
		if err := rows.Scan(&alert.AlertID, &alert.Host, &decision, &posture, &created, &findings); err != nil {
			return nil, err
		}
		alert.Decision = model.Decision(decision)
		alert.Posture = model.Posture(posture)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			alert.CreatedAt = ts
		}
		alert.Findings = decodeFindings(findings)
		out = append(out, alert)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM idempotency WHERE event_id = ? LIMIT 1`, eventID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) MarkEvent(ctx context.Context, eventID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO idempotency(event_id, first_seen_utc) VALUES(?, ?)`,
		eventID, seenAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *sqliteStore) UnmarkEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency WHERE event_id = ?`, eventID)
	return err
}

func (s *sqliteStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency WHERE first_seen_utc < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"hostsentry/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/hostsentry?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS host_policy (
			host TEXT PRIMARY KEY,
			posture TEXT NOT NULL,
			cooldown_until TIMESTAMPTZ NULL,
			quarantine_reason TEXT NULL,
			escalation_count INTEGER NOT NULL DEFAULT 0,
			last_decision_at TIMESTAMPTZ NOT NULL,
			updated_utc TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id TEXT PRIMARY KEY,
			host TEXT NOT NULL,
			decision TEXT NOT NULL,
			posture TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			findings_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at)`,
		`CREATE TABLE IF NOT EXISTS idempotency (
			event_id TEXT PRIMARY KEY,
			first_seen_utc TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) GetHostState(ctx context.Context, host string) (model.HostPolicyState, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT posture, cooldown_until, quarantine_reason, escalation_count, last_decision_at
		FROM host_policy WHERE host = $1`, host)
	var (
		posture       string
		cooldownUntil sql.NullTime
		reason        sql.NullString
		escalation    int
		lastDecision  time.Time
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
		LastDecisionAt:   lastDecision.UTC(),
	}
	if cooldownUntil.Valid {
		ts := cooldownUntil.Time.UTC()
		st.CooldownUntil = &ts
	}
	return st, true, nil
}

func (s *postgresStore) UpsertHostState(ctx context.Context, st model.HostPolicyState) error {
	var cooldownUntil any
	if st.CooldownUntil != nil {
		cooldownUntil = st.CooldownUntil.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO host_policy(host, posture, cooldown_until, quarantine_reason, escalation_count, last_decision_at, updated_utc)
		VALUES($1, $2, $3, $4, $5, $6, $7)
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
		st.LastDecisionAt.UTC(),
		time.Now().UTC(),
	)
	return err
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, host, decision, posture, created_at, findings_json)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		alert.AlertID,
		alert.Host,
		string(alert.Decision),
		string(alert.Posture),
		alert.CreatedAt.UTC(),
		encodeJSON(alert.Findings),
	)
	return err
}

func (s *postgresStore) ListAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT alert_id, host, decision, posture, created_at, findings_json
		FROM alerts ORDER BY created_at DESC LIMIT $1`, limit)
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
			created  time.Time
			findings string
		)
		if err := rows.Scan(&alert.AlertID, &alert.Host, &decision, &posture, &created, &findings); err != nil {
			return nil, err
		}
		alert.Decision = model.Decision(decision)
		alert.Posture = model.Posture(posture)
		alert.CreatedAt = created.UTC()
		alert.Findings = decodeFindings(findings)
		out = append(out, alert)
	}
	return out, rows.Err()
}

func (s *postgresStore) SeenEvent(ctx context.Context, eventID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM idempotency WHERE event_id = $1 LIMIT 1`, eventID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *postgresStore) MarkEvent(ctx context.Context, eventID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency(event_id, first_seen_utc) VALUES($1, $2)
		ON CONFLICT(event_id) DO NOTHING`,
		eventID, seenAt.UTC())
	return err
}

func (s *postgresStore) UnmarkEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency WHERE event_id = $1`, eventID)
	return err
}

func (s *postgresStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency WHERE first_seen_utc < $1`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

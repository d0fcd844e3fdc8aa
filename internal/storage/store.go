package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"hostsentry/internal/config"
	"hostsentry/internal/model"
)

// Store is the durable side of the system: host policy rows (the only
// crash-consistent state), the append-only alert record, and the gateway's
// event-id idempotency table.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	GetHostState(ctx context.Context, host string) (model.HostPolicyState, bool, error)
	UpsertHostState(ctx context.Context, st model.HostPolicyState) error
	SaveAlert(ctx context.Context, alert model.Alert) error
	ListAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	SeenEvent(ctx context.Context, eventID string) (bool, error)
	MarkEvent(ctx context.Context, eventID string, seenAt time.Time) error
	UnmarkEvent(ctx context.Context, eventID string) error
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
}

// NewStore returns the configured driver, or the in-memory store when
// persistence is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return NewMemory(), nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func decodeFindings(data string) []model.Finding {
	var out []model.Finding
	_ = json.Unmarshal([]byte(data), &out)
	return out
}

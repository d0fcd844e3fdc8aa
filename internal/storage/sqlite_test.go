package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostsentry/internal/config"
	"hostsentry/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLite("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteHostStateRoundTrip(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	_, found, err := store.GetHostState(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, found)

	until := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	st := model.HostPolicyState{
		Host:            "h1",
		Posture:         model.PostureCooldown,
		CooldownUntil:   &until,
		EscalationCount: 2,
		LastDecisionAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.UpsertHostState(ctx, st))

	got, found, err := store.GetHostState(ctx, "h1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.PostureCooldown, got.Posture)
	require.NotNil(t, got.CooldownUntil)
	assert.True(t, got.CooldownUntil.Equal(until))
	assert.Equal(t, 2, got.EscalationCount)
	assert.True(t, got.LastDecisionAt.Equal(st.LastDecisionAt))
}

func TestSQLiteUpsertReplacesRow(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()

	until := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	require.NoError(t, store.UpsertHostState(ctx, model.HostPolicyState{
		Host:            "h1",
		Posture:         model.PostureCooldown,
		CooldownUntil:   &until,
		EscalationCount: 1,
		LastDecisionAt:  until.Add(-30 * time.Second),
	}))
	require.NoError(t, store.UpsertHostState(ctx, model.HostPolicyState{
		Host:             "h1",
		Posture:          model.PostureQuarantined,
		QuarantineReason: "BRUTE_FORCE: 7 failed logins within the window (threshold 5)",
		EscalationCount:  2,
		LastDecisionAt:   until,
	}))

	got, found, err := store.GetHostState(ctx, "h1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.PostureQuarantined, got.Posture)
	assert.Nil(t, got.CooldownUntil, "upsert must clear a stale cooldown")
	assert.Contains(t, got.QuarantineReason, "BRUTE_FORCE")
}

func TestSQLiteAlertsNewestFirst(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, store.SaveAlert(ctx, model.Alert{
			AlertID:  id,
			Host:     "h1",
			Decision: model.DecisionThrottle,
			Posture:  model.PostureCooldown,
			Findings: []model.Finding{{
				Kind:     model.KindBruteForce,
				Host:     "h1",
				Evidence: []string{"e1", "e2"},
				Severity: 6,
			}},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := store.ListAlerts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a3", list[0].AlertID)
	assert.Equal(t, "a2", list[1].AlertID)
	require.Len(t, list[0].Findings, 1)
	assert.Equal(t, model.KindBruteForce, list[0].Findings[0].Kind)
	assert.Equal(t, []string{"e1", "e2"}, list[0].Findings[0].Evidence)
}

func TestSQLiteIdempotency(t *testing.T) {
	store := newTestSQLite(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seen, err := store.SeenEvent(ctx, "ev1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, store.MarkEvent(ctx, "ev1", base))
	// Marking twice keeps the first sighting.
	require.NoError(t, store.MarkEvent(ctx, "ev1", base.Add(time.Hour)))

	seen, err = store.SeenEvent(ctx, "ev1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Unmark releases the id, e.g. after a failed correlation pass.
	require.NoError(t, store.UnmarkEvent(ctx, "ev1"))
	seen, err = store.SeenEvent(ctx, "ev1")
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, store.MarkEvent(ctx, "ev1", base))

	require.NoError(t, store.MarkEvent(ctx, "ev2", base.Add(2*time.Hour)))
	n, err := store.PruneEvents(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	seen, err = store.SeenEvent(ctx, "ev1")
	require.NoError(t, err)
	assert.False(t, seen, "pruned ids may be seen again")
	seen, err = store.SeenEvent(ctx, "ev2")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestNewStoreDisabledFallsBackToMemory(t *testing.T) {
	store, err := NewStore(config.StorageConfig{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))

	st := model.NewHostPolicyState("h1")
	require.NoError(t, store.UpsertHostState(context.Background(), st))
	got, found, err := store.GetHostState(context.Background(), "h1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.PostureNormal, got.Posture)
}

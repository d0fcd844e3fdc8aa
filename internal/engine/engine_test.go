package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostsentry/internal/alerts"
	"hostsentry/internal/config"
	"hostsentry/internal/model"
	"hostsentry/internal/storage"
)

func testEngineConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Detection.WindowSpan = 60 * time.Second
	cfg.Detection.BruteForce = config.BruteForceConfig{Threshold: 5, Severity: 6}
	cfg.Storage.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *alerts.Store, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	eng := NewEngine(cfg, nil, alertsStore, store)
	return eng, alertsStore, store
}

func hostEvent(host, id, user, action string, ts time.Time) model.EventRecord {
	return model.EventRecord{
		EventID:      id,
		Host:         host,
		Source:       "auth-agent",
		Category:     "auth",
		Action:       action,
		User:         user,
		Severity:     3,
		TimestampUTC: ts,
	}
}

func TestBruteForceFiresOncePerCrossing(t *testing.T) {
	eng, alertsStore, _ := newTestEngine(t, testEngineConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		decision, alert, err := eng.ProcessEvent(ctx, hostEvent("h1", fmt.Sprintf("f%d", i), "root",
			model.ActionLoginFailed, base.Add(time.Duration(i)*5*time.Second)))
		require.NoError(t, err)
		assert.Equal(t, model.DecisionAllow, decision)
		assert.Nil(t, alert)
	}

	// The fifth failure crosses the threshold.
	decision, alert, err := eng.ProcessEvent(ctx, hostEvent("h1", "f4", "root",
		model.ActionLoginFailed, base.Add(20*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionThrottle, decision)
	require.NotNil(t, alert)
	require.Len(t, alert.Findings, 1)
	assert.Equal(t, model.KindBruteForce, alert.Findings[0].Kind)

	// The sixth stays above threshold: throttled, but no second alert.
	decision, alert, err = eng.ProcessEvent(ctx, hostEvent("h1", "f5", "root",
		model.ActionLoginFailed, base.Add(25*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionThrottle, decision)
	assert.Nil(t, alert)
	assert.Len(t, alertsStore.List(0), 1)
}

func TestLatchClearsWhenWindowSlides(t *testing.T) {
	eng, alertsStore, _ := newTestEngine(t, testEngineConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	eng.nowFn = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		_, _, err := eng.ProcessEvent(ctx, hostEvent("h1", fmt.Sprintf("a%d", i), "root",
			model.ActionLoginFailed, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	require.Len(t, alertsStore.List(0), 1)

	// Two minutes later the old failures have aged out; the count drops
	// below threshold and the latch clears.
	now = base.Add(2 * time.Minute)
	_, alert, err := eng.ProcessEvent(ctx, hostEvent("h1", "b0", "root",
		model.ActionLoginFailed, base.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.Nil(t, alert)

	// A fresh run of failures is a new crossing and alerts again.
	for i := 1; i < 5; i++ {
		_, alert, err = eng.ProcessEvent(ctx, hostEvent("h1", fmt.Sprintf("b%d", i), "root",
			model.ActionLoginFailed, base.Add(2*time.Minute+time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	require.NotNil(t, alert)
	assert.Len(t, alertsStore.List(0), 2)
}

func TestSuccessAfterFailuresQuarantinesHost(t *testing.T) {
	eng, _, store := newTestEngine(t, testEngineConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		_, _, err := eng.ProcessEvent(ctx, hostEvent("h1", fmt.Sprintf("f%d", i), "svc",
			model.ActionLoginFailed, base.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}
	decision, alert, err := eng.ProcessEvent(ctx, hostEvent("h1", "ok", "svc",
		model.ActionLoginSuccess, base.Add(10*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionBlock, decision)
	require.NotNil(t, alert)
	assert.Equal(t, model.KindSuccessAfterFailures, alert.Findings[0].Kind)

	st, found, err := store.GetHostState(ctx, "h1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.PostureQuarantined, st.Posture)

	// Subsequent benign traffic from a quarantined host stays blocked.
	decision, alert, err = eng.ProcessEvent(ctx, hostEvent("h1", "later", "svc",
		"heartbeat", base.Add(20*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, model.DecisionBlock, decision)
	assert.Nil(t, alert)
}

func TestHostsDoNotShareWindows(t *testing.T) {
	eng, alertsStore, _ := newTestEngine(t, testEngineConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return base }

	// Four failures each on two hosts: neither crosses the threshold of five.
	for i := 0; i < 4; i++ {
		for _, host := range []string{"h1", "h2"} {
			decision, _, err := eng.ProcessEvent(ctx, hostEvent(host, fmt.Sprintf("%s-f%d", host, i), "root",
				model.ActionLoginFailed, base.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
			assert.Equal(t, model.DecisionAllow, decision)
		}
	}
	assert.Empty(t, alertsStore.List(0))
	assert.Equal(t, 2, eng.TrackedHosts())
}

func TestConcurrentEventsSameHost(t *testing.T) {
	eng, _, store := newTestEngine(t, testEngineConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return base }

	const n = 40
	var wg sync.WaitGroup
	decisions := make([]model.Decision, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decisions[i], _, errs[i] = eng.ProcessEvent(ctx, hostEvent("h1", fmt.Sprintf("c%d", i), "",
				"heartbeat", base.Add(time.Duration(i)*time.Second)))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, model.DecisionAllow, decisions[i])
	}
	st, found, err := store.GetHostState(ctx, "h1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.PostureNormal, st.Posture)
}

func TestActiveHostSurvivesIdleSweep(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Detection.IdleHostTTL = 5 * time.Second
	eng, alertsStore, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	eng.nowFn = func() time.Time { return now }

	// Ten failures spanning twice the idle TTL. The host reports the whole
	// time, so its window must never be reclaimed mid-run.
	for i := 0; i < 10; i++ {
		now = base.Add(time.Duration(i) * time.Second)
		_, _, err := eng.ProcessEvent(ctx, hostEvent("h1", fmt.Sprintf("f%d", i), "root",
			model.ActionLoginFailed, now))
		require.NoError(t, err)
	}

	list := alertsStore.List(0)
	require.Len(t, list, 1)
	assert.Equal(t, model.KindBruteForce, list[0].Findings[0].Kind)
	assert.Equal(t, 1, eng.TrackedHosts())
}

func TestIdleHostReclaimed(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Detection.IdleHostTTL = 5 * time.Second
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	eng.nowFn = func() time.Time { return now }

	_, _, err := eng.ProcessEvent(ctx, hostEvent("h1", "a0", "", "heartbeat", base))
	require.NoError(t, err)
	require.Equal(t, 1, eng.TrackedHosts())

	// h1 has been quiet for twice the TTL when h2 shows up.
	now = base.Add(10 * time.Second)
	_, _, err = eng.ProcessEvent(ctx, hostEvent("h2", "b0", "", "heartbeat", now))
	require.NoError(t, err)
	assert.Equal(t, 1, eng.TrackedHosts())
}

func TestHostCapacityBound(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Detection.MaxHosts = 2
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	eng.nowFn = func() time.Time { return now }

	for i, host := range []string{"h1", "h2", "h3"} {
		now = base.Add(time.Duration(i) * time.Second)
		_, _, err := eng.ProcessEvent(ctx, hostEvent(host, fmt.Sprintf("%s-e", host), "", "heartbeat", now))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, eng.TrackedHosts())
}

func TestUpdateConfigSwapsThresholds(t *testing.T) {
	cfg := testEngineConfig()
	eng, _, _ := newTestEngine(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return base }

	next := testEngineConfig()
	next.Detection.BruteForce.Threshold = 2
	eng.UpdateConfig(next)

	_, alert, err := eng.ProcessEvent(ctx, hostEvent("h1", "f0", "root",
		model.ActionLoginFailed, base))
	require.NoError(t, err)
	assert.Nil(t, alert)

	_, alert, err = eng.ProcessEvent(ctx, hostEvent("h1", "f1", "root",
		model.ActionLoginFailed, base.Add(time.Second)))
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, model.KindBruteForce, alert.Findings[0].Kind)
}

func TestResetDropsWindowsNotPolicyState(t *testing.T) {
	eng, _, store := newTestEngine(t, testEngineConfig())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eng.nowFn = func() time.Time { return base }

	_, _, err := eng.ProcessEvent(ctx, hostEvent("h1", "f0", "root", model.ActionLoginFailed, base))
	require.NoError(t, err)
	require.Equal(t, 1, eng.TrackedHosts())

	eng.Reset()
	assert.Equal(t, 0, eng.TrackedHosts())

	_, found, err := store.GetHostState(ctx, "h1")
	require.NoError(t, err)
	assert.True(t, found, "reset clears windows, durable posture survives")
}

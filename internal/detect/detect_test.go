package detect

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostsentry/internal/config"
	"hostsentry/internal/model"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func authEvent(id, user, action string, offset time.Duration) model.EventRecord {
	return model.EventRecord{
		EventID:      id,
		Host:         "h1",
		Source:       "auth-agent",
		Category:     "auth",
		Action:       action,
		User:         user,
		Severity:     3,
		TimestampUTC: testBase.Add(offset),
	}
}

func failures(user string, n int, start time.Duration) []model.EventRecord {
	out := make([]model.EventRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, authEvent(
			fmt.Sprintf("%s-f%d", user, i), user, model.ActionLoginFailed,
			start+time.Duration(i)*time.Second))
	}
	return out
}

func TestBruteForceThreshold(t *testing.T) {
	d := NewBruteForce(config.BruteForceConfig{Threshold: 5, Severity: 6})

	window := failures("root", 4, 0)
	_, ok := d.Evaluate(window[len(window)-1], window)
	assert.False(t, ok, "below threshold must not fire")

	window = failures("root", 5, 0)
	f, ok := d.Evaluate(window[len(window)-1], window)
	require.True(t, ok)
	assert.Equal(t, model.KindBruteForce, f.Kind)
	assert.Equal(t, "h1", f.Host)
	assert.Equal(t, 6, f.Severity)
	assert.Len(t, f.Evidence, 5)
}

func TestBruteForceIgnoresOtherActions(t *testing.T) {
	d := NewBruteForce(config.BruteForceConfig{Threshold: 3, Severity: 6})

	window := failures("root", 2, 0)
	window = append(window, authEvent("s1", "root", model.ActionLoginSuccess, 3*time.Second))
	window = append(window, authEvent("p1", "", "process_start", 4*time.Second))

	_, ok := d.Evaluate(window[len(window)-1], window)
	assert.False(t, ok)
}

func TestBruteForceIsStateless(t *testing.T) {
	d := NewBruteForce(config.BruteForceConfig{Threshold: 3, Severity: 6})
	window := failures("root", 3, 0)

	// Same window, same answer, every time.
	for i := 0; i < 3; i++ {
		f, ok := d.Evaluate(window[len(window)-1], window)
		require.True(t, ok)
		assert.Len(t, f.Evidence, 3)
	}
}

func TestPasswordSprayDistinctUsers(t *testing.T) {
	d := NewPasswordSpray(config.PasswordSprayConfig{Threshold: 3, Severity: 7})

	// Five failures but only two distinct users.
	window := append(failures("alice", 3, 0), failures("bob", 2, 10*time.Second)...)
	_, ok := d.Evaluate(window[len(window)-1], window)
	assert.False(t, ok)

	window = append(window, failures("carol", 1, 20*time.Second)...)
	f, ok := d.Evaluate(window[len(window)-1], window)
	require.True(t, ok)
	assert.Equal(t, model.KindPasswordSpray, f.Kind)
	// One evidence id per distinct user.
	assert.Len(t, f.Evidence, 3)
}

func TestPasswordSprayPerSourceIP(t *testing.T) {
	d := NewPasswordSpray(config.PasswordSprayConfig{Threshold: 2, Severity: 7, PerSourceIP: true})

	window := make([]model.EventRecord, 0, 4)
	for i, user := range []string{"alice", "bob", "carol", "dave"} {
		e := authEvent(fmt.Sprintf("f%d", i), user, model.ActionLoginFailed, time.Duration(i)*time.Second)
		if i < 2 {
			e.SrcIP = "10.0.0.1"
		} else {
			e.SrcIP = "10.0.0.2"
		}
		window = append(window, e)
	}

	probe := window[len(window)-1]
	probe.SrcIP = "10.0.0.9"
	_, ok := d.Evaluate(probe, window)
	assert.False(t, ok, "no failures from the probing address")

	probe.SrcIP = "10.0.0.1"
	f, ok := d.Evaluate(probe, window)
	require.True(t, ok)
	assert.Contains(t, f.Explanation, "10.0.0.1")
}

func TestSuccessAfterFailuresFires(t *testing.T) {
	d := NewSuccessAfterFailures(config.SuccessAfterConfig{FailureRun: 3, Severity: 9})

	window := failures("root", 3, 0)
	window = append(window, authEvent("ok", "root", model.ActionLoginSuccess, 10*time.Second))

	f, ok := d.Evaluate(window[len(window)-1], window)
	require.True(t, ok)
	assert.Equal(t, model.KindSuccessAfterFailures, f.Kind)
	assert.Equal(t, 9, f.Severity)
	// Evidence is the failure run plus the success.
	require.Len(t, f.Evidence, 4)
	assert.Equal(t, "ok", f.Evidence[3])
}

func TestSuccessAfterFailuresOrderMatters(t *testing.T) {
	d := NewSuccessAfterFailures(config.SuccessAfterConfig{FailureRun: 3, Severity: 9})

	// Success first, failures after: the subsequence never occurs.
	window := []model.EventRecord{authEvent("ok", "root", model.ActionLoginSuccess, 0)}
	window = append(window, failures("root", 3, 5*time.Second)...)

	_, ok := d.Evaluate(window[len(window)-1], window)
	assert.False(t, ok)
}

func TestSuccessAfterFailuresSameUserOnly(t *testing.T) {
	d := NewSuccessAfterFailures(config.SuccessAfterConfig{FailureRun: 3, Severity: 9})

	window := failures("root", 3, 0)
	window = append(window, authEvent("ok", "svc", model.ActionLoginSuccess, 10*time.Second))

	_, ok := d.Evaluate(window[len(window)-1], window)
	assert.False(t, ok, "another user's success must not close root's run")
}

func TestIngestStormBurst(t *testing.T) {
	d := NewIngestStorm(config.IngestStormConfig{Threshold: 10, Interval: 10 * time.Second, Severity: 4}, 5*time.Minute)

	window := make([]model.EventRecord, 0, 11)
	for i := 0; i < 10; i++ {
		window = append(window, authEvent(fmt.Sprintf("b%d", i), "", "process_start",
			time.Duration(i)*500*time.Millisecond))
	}
	_, ok := d.Evaluate(window[len(window)-1], window)
	assert.False(t, ok, "at the threshold is not a burst")

	window = append(window, authEvent("b10", "", "process_start", 5*time.Second))
	f, ok := d.Evaluate(window[len(window)-1], window)
	require.True(t, ok)
	assert.Equal(t, model.KindIngestStorm, f.Kind)
	assert.Len(t, f.Evidence, 11)
}

func TestIngestStormOldEventsOutsideInterval(t *testing.T) {
	d := NewIngestStorm(config.IngestStormConfig{Threshold: 5, Interval: 10 * time.Second, Severity: 4}, 5*time.Minute)

	// Six events spread across a minute: never more than a few per interval.
	window := make([]model.EventRecord, 0, 6)
	for i := 0; i < 6; i++ {
		window = append(window, authEvent(fmt.Sprintf("s%d", i), "", "process_start",
			time.Duration(i)*12*time.Second))
	}
	_, ok := d.Evaluate(window[len(window)-1], window)
	assert.False(t, ok)
}

func TestAllBuildsFullSet(t *testing.T) {
	cfg := config.DefaultConfig().Detection
	set := All(cfg)
	require.Len(t, set, 4)
	kinds := map[model.FindingKind]bool{}
	for _, d := range set {
		kinds[d.Kind()] = true
	}
	assert.True(t, kinds[model.KindBruteForce])
	assert.True(t, kinds[model.KindPasswordSpray])
	assert.True(t, kinds[model.KindSuccessAfterFailures])
	assert.True(t, kinds[model.KindIngestStorm])
}

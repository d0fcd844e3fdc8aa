package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"hostsentry/internal/alerts"
	"hostsentry/internal/config"
	"hostsentry/internal/detect"
	"hostsentry/internal/metrics"
	"hostsentry/internal/model"
	"hostsentry/internal/policy"
	"hostsentry/internal/storage"
)

// Engine ties a correlation pass to a policy decision. All work for one host
// runs under that host's lock; hosts never contend with each other. There is
// no engine-wide lock on the hot path.
type Engine struct {
	logger  *slog.Logger
	alerts  *alerts.Store
	store   storage.Store
	hosts   *hostStore
	pipe    atomic.Value
	started time.Time
	nowFn   func() time.Time
}

type pipeline struct {
	correlator *Correlator
	policy     *policy.Engine
}

func NewEngine(cfg *config.Config, logger *slog.Logger, alertsStore *alerts.Store, store storage.Store) *Engine {
	e := &Engine{
		logger: logger,
		alerts: alertsStore,
		store:  store,
		hosts: newHostStore(
			cfg.Detection.WindowSpan,
			cfg.Detection.MaxWindowEvents,
			cfg.Detection.MaxHosts,
			cfg.Detection.IdleHostTTL,
		),
		started: time.Now().UTC(),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	e.pipe.Store(&pipeline{
		correlator: NewCorrelator(detect.All(cfg.Detection)),
		policy:     policy.NewEngine(cfg.Policy, store),
	})
	return e
}

// UpdateConfig swaps detector thresholds and policy knobs. Window sizing
// only applies to hosts first seen after the swap.
func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.pipe.Store(&pipeline{
		correlator: NewCorrelator(detect.All(cfg.Detection)),
		policy:     policy.NewEngine(cfg.Policy, e.store),
	})
}

func (e *Engine) pipeline() *pipeline {
	return e.pipe.Load().(*pipeline)
}

// Start consumes pre-authenticated events from a channel, e.g. the kafka
// source. Decisions on this path have no caller to return to; failures are
// logged and counted.
func (e *Engine) Start(ctx context.Context, in <-chan model.EventRecord) {
	go func() {
		for {
			select {
			case ev := <-in:
				if _, _, err := e.ProcessEvent(ctx, ev); err != nil {
					if e.logger != nil {
						e.logger.Error("correlation pass failed", "host", ev.Host, "event_id", ev.EventID, "err", err)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessEvent runs one full pass: admit into the host window, detect,
// decide, persist, record the alert. The decision is returned synchronously
// so the caller may short-circuit a blocked host's traffic. An error means
// the pass failed with state unchanged; it is never a silent ALLOW.
func (e *Engine) ProcessEvent(ctx context.Context, ev model.EventRecord) (model.Decision, *model.Alert, error) {
	start := time.Now()
	now := e.nowFn()
	p := e.pipeline()

	h := e.hosts.acquire(ev.Host, now)
	defer e.hosts.release(h)
	h.mu.Lock()
	defer h.mu.Unlock()

	res := p.correlator.correlate(h, ev)
	for _, f := range res.Findings {
		metrics.FindingsDetected.WithLabelValues(string(f.Kind)).Inc()
	}

	out, err := p.policy.Decide(ctx, res, now)
	if err != nil {
		metrics.ProcessingErrors.Inc()
		return "", nil, err
	}
	metrics.Decisions.WithLabelValues(string(out.Decision)).Inc()
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	if out.Alert != nil {
		e.recordAlert(ctx, *out.Alert, out.State)
	}
	return out.Decision, out.Alert, nil
}

func (e *Engine) recordAlert(ctx context.Context, alert model.Alert, st model.HostPolicyState) {
	e.alerts.Add(alert)
	metrics.AlertsGenerated.WithLabelValues(string(alert.Posture)).Inc()
	if e.logger != nil {
		kinds := make([]string, 0, len(alert.Findings))
		for _, f := range alert.Findings {
			kinds = append(kinds, string(f.Kind))
		}
		e.logger.Warn("alert",
			"alert_id", alert.AlertID,
			"host", alert.Host,
			"kinds", kinds,
			"decision", alert.Decision,
			"posture", st.Posture,
			"escalation_count", st.EscalationCount,
		)
	}
	if e.store != nil {
		if err := e.store.SaveAlert(ctx, alert); err != nil && e.logger != nil {
			e.logger.Error("save alert", "alert_id", alert.AlertID, "err", err)
		}
	}
}

// HostState reports the current durable posture for the API surface.
func (e *Engine) HostState(ctx context.Context, host string) (model.HostPolicyState, bool, error) {
	return e.store.GetHostState(ctx, host)
}

func (e *Engine) TrackedHosts() int {
	return e.hosts.len()
}

func (e *Engine) Started() time.Time {
	return e.started
}

// Reset drops all in-memory windows and latches. Durable policy state is
// untouched.
func (e *Engine) Reset() {
	e.hosts.reset()
}

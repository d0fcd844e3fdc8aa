package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hostsentry/internal/config"
	"hostsentry/internal/model"
	"hostsentry/internal/storage"
)

// Engine is the response policy state machine. It owns every mutation of
// HostPolicyState; callers must serialize Decide per host. State is written
// before the decision is returned, so a crash can never surface a decision
// that was not durably recorded.
type Engine struct {
	cfg   config.PolicyConfig
	store storage.Store
}

func NewEngine(cfg config.PolicyConfig, store storage.Store) *Engine {
	return &Engine{cfg: cfg, store: store}
}

// Outcome is what one decision pass produced. Alert is nil unless the pass
// had findings worth recording.
type Outcome struct {
	Decision model.Decision
	State    model.HostPolicyState
	Alert    *model.Alert
}

// Decide applies the correlation result to the host's durable state.
// Cooldown and quarantine timers are reconciled lazily against the supplied
// now; there is no background sweep. On a persistence failure the pass fails
// atomically: no decision, state unchanged.
func (e *Engine) Decide(ctx context.Context, res model.CorrelationResult, now time.Time) (Outcome, error) {
	host := res.Event.Host
	st, found, err := e.store.GetHostState(ctx, host)
	if err != nil {
		return Outcome{}, fmt.Errorf("load host state for %s: %w", host, err)
	}
	if !found {
		st = model.NewHostPolicyState(host)
	}
	dirty := !found

	findings := e.gate(res.Findings)

	// Quarantine is sticky: no finding, however severe, changes it.
	if st.Posture == model.PostureQuarantined {
		return Outcome{
			Decision: model.DecisionBlock,
			State:    st,
			Alert:    e.alert(host, findings, model.DecisionBlock, st.Posture, now),
		}, nil
	}

	// Expired cooldown reconciles to NORMAL before anything else is applied.
	if st.Posture == model.PostureCooldown && st.CooldownUntil != nil && !now.Before(*st.CooldownUntil) {
		st.Posture = model.PostureNormal
		st.CooldownUntil = nil
		st.EscalationCount = 0
		st.LastDecisionAt = now
		dirty = true
	}

	decision := model.DecisionAllow

	switch {
	case len(findings) == 0:
		if st.Posture == model.PostureCooldown {
			decision = model.DecisionThrottle
		}
	case maxSeverity(findings) >= e.cfg.QuarantineSeverity,
		st.Posture == model.PostureCooldown && st.EscalationCount+1 >= e.cfg.EscalationLimit:
		trigger := triggering(findings)
		st.Posture = model.PostureQuarantined
		st.CooldownUntil = nil
		st.QuarantineReason = fmt.Sprintf("%s: %s", trigger.Kind, trigger.Explanation)
		st.LastDecisionAt = now
		dirty = true
		decision = model.DecisionBlock
	default:
		// Cooldown resets rather than stacks, so repeated low-severity
		// findings cannot build unbounded suppression.
		until := now.Add(e.cfg.Cooldown)
		st.Posture = model.PostureCooldown
		st.CooldownUntil = &until
		st.QuarantineReason = ""
		st.EscalationCount++
		st.LastDecisionAt = now
		dirty = true
		decision = model.DecisionThrottle
	}

	if dirty {
		if err := e.persist(ctx, st); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{
		Decision: decision,
		State:    st,
		Alert:    e.alert(host, findings, decision, st.Posture, now),
	}, nil
}

// gate drops findings below the configured severity floor.
func (e *Engine) gate(findings []model.Finding) []model.Finding {
	if e.cfg.MinSeverity <= 0 {
		return findings
	}
	kept := findings[:0:0]
	for _, f := range findings {
		if f.Severity >= e.cfg.MinSeverity {
			kept = append(kept, f)
		}
	}
	return kept
}

func (e *Engine) alert(host string, findings []model.Finding, decision model.Decision, posture model.Posture, now time.Time) *model.Alert {
	if len(findings) == 0 {
		return nil
	}
	return &model.Alert{
		AlertID:   uuid.NewString(),
		Host:      host,
		Findings:  findings,
		Decision:  decision,
		Posture:   posture,
		CreatedAt: now,
	}
}

func (e *Engine) persist(ctx context.Context, st model.HostPolicyState) error {
	var err error
	for attempt := 0; attempt <= e.cfg.PersistRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = e.store.UpsertHostState(ctx, st); err == nil {
			return nil
		}
		if attempt < e.cfg.PersistRetries {
			time.Sleep(retryDelay(attempt))
		}
	}
	return fmt.Errorf("persist host state for %s: %w", st.Host, err)
}

// retryDelay doubles per attempt from 50ms, capped at 500ms.
func retryDelay(attempt int) time.Duration {
	d := 50 * time.Millisecond << uint(attempt)
	if d > 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	return d
}

// triggering picks the finding that names the decision: highest severity,
// ties broken by detector order within the pass.
func triggering(findings []model.Finding) model.Finding {
	best := findings[0]
	for _, f := range findings[1:] {
		if f.Severity > best.Severity {
			best = f
		}
	}
	return best
}

func maxSeverity(findings []model.Finding) int {
	return triggering(findings).Severity
}

package model

import "time"

type Decision string

const (
	DecisionAllow    Decision = "ALLOW"
	DecisionThrottle Decision = "THROTTLE"
	DecisionBlock    Decision = "BLOCK"
)

type Posture string

const (
	PostureNormal      Posture = "NORMAL"
	PostureCooldown    Posture = "COOLDOWN"
	PostureQuarantined Posture = "QUARANTINED"
)

type FindingKind string

const (
	KindBruteForce           FindingKind = "BRUTE_FORCE"
	KindPasswordSpray        FindingKind = "PASSWORD_SPRAY"
	KindSuccessAfterFailures FindingKind = "SUCCESS_AFTER_FAILURES"
	KindIngestStorm          FindingKind = "INGEST_STORM"
)

const (
	ActionLoginFailed  = "login_failed"
	ActionLoginSuccess = "login_success"
)

// EventRecord is the validated, normalized unit of input. Immutable once
// admitted; TimestampUTC places the event in the window, not arrival time.
type EventRecord struct {
	EventID      string            `json:"event_id"`
	Host         string            `json:"host"`
	Source       string            `json:"source"`
	Category     string            `json:"category"`
	Action       string            `json:"action"`
	Severity     int               `json:"severity"`
	TimestampUTC time.Time         `json:"timestamp_utc"`
	User         string            `json:"user,omitempty"`
	SrcIP        string            `json:"src_ip,omitempty"`
	DestIP       string            `json:"dest_ip,omitempty"`
	ProcessName  string            `json:"process_name,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// Finding is a detector's output for one correlation pass. Ephemeral: it is
// only persisted as part of the alert it triggers.
type Finding struct {
	Kind        FindingKind `json:"kind"`
	Host        string      `json:"host"`
	Evidence    []string    `json:"evidence"`
	Severity    int         `json:"severity"`
	Explanation string      `json:"explanation"`
	DetectedAt  time.Time   `json:"detected_at"`
}

type CorrelationResult struct {
	Event    EventRecord   `json:"event"`
	Findings []Finding     `json:"findings"`
	Window   []EventRecord `json:"window"`
}

// HostPolicyState is the durable per-host posture row. CooldownUntil is set
// iff posture is COOLDOWN; QuarantineReason iff QUARANTINED. EscalationCount
// resets to zero on any transition back to NORMAL.
type HostPolicyState struct {
	Host             string     `json:"host"`
	Posture          Posture    `json:"posture"`
	CooldownUntil    *time.Time `json:"cooldown_until,omitempty"`
	QuarantineReason string     `json:"quarantine_reason,omitempty"`
	EscalationCount  int        `json:"escalation_count"`
	LastDecisionAt   time.Time  `json:"last_decision_at"`
}

func NewHostPolicyState(host string) HostPolicyState {
	return HostPolicyState{Host: host, Posture: PostureNormal}
}

// Alert is the append-only forensic artifact tying findings to the decision
// they produced. Never mutated after creation.
type Alert struct {
	AlertID   string    `json:"alert_id"`
	Host      string    `json:"host"`
	Findings  []Finding `json:"findings"`
	Decision  Decision  `json:"decision"`
	Posture   Posture   `json:"posture"`
	CreatedAt time.Time `json:"created_at"`
}

// Package api defines the gateway's wire-level request/response
// contracts (component G/H's external surface), independent of any
// particular transport.
package api

// ChatRequest is a single inbound prompt for a tenant pipeline.
type ChatRequest struct {
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

// Stage is the internal pipeline stage a decision concluded at.
type Stage string

const (
	StageSuccess    Stage = "SUCCESS"
	StageWarn       Stage = "WARN"
	StageBlockedL1  Stage = "BLOCKED_L1"
	StageBlockedL2  Stage = "BLOCKED_L2"
	StageError      Stage = "ERROR"
)

// RiskScores is the risk_scores sub-object of a ledger block and the
// decision record.
type RiskScores struct {
	L1Dist  float64 `json:"l1_dist"`
	L2Score int     `json:"l2_score"`
}

// Decision is the orchestrator's external response shape.
type Decision struct {
	Allowed      bool        `json:"allowed"`
	Response     string      `json:"response"`
	RiskScore    int         `json:"risk_score"`
	BlockReason  *string     `json:"block_reason"`
	Layer1Safe   bool        `json:"layer_1_safe"`
	Layer2Safe   *bool       `json:"layer_2_safe"`
	LatencyMs    float64     `json:"latency_ms"`

	// Internal fields, not part of the minimal external contract but
	// useful to expose to callers that want more than the summary.
	Stage        Stage       `json:"stage"`
	L1Dist       float64     `json:"l1_dist"`
	L2Skipped    bool        `json:"l2_skipped"`
	AttackCategory *string   `json:"attack_category,omitempty"`
}

// ExpectedLabel is the reviewer-supplied ground truth in a FeedbackRequest.
type ExpectedLabel string

const (
	ExpectedMalicious ExpectedLabel = "MALICIOUS"
	ExpectedBenign    ExpectedLabel = "BENIGN"
)

// ActualDecision is what the pipeline actually did with the prompt.
type ActualDecision string

const (
	ActualBlocked ActualDecision = "BLOCKED"
	ActualAllowed ActualDecision = "ALLOWED"
)

// FeedbackRequest reports ground truth for a previously-processed prompt.
type FeedbackRequest struct {
	Prompt         string         `json:"prompt"`
	ExpectedLabel  ExpectedLabel  `json:"expected_label"`
	ActualDecision ActualDecision `json:"actual_decision"`
	Correct        bool           `json:"correct"`
}

// TrainingDataEntry is one row of the tenant's training_data_log.json,
// written by an external test client and read by an operator UI; the
// gateway core only owns its path under the tenant root.
type TrainingDataEntry struct {
	Prompt         string         `json:"prompt"`
	ExpectedLabel  ExpectedLabel  `json:"expected_label"`
	ActualDecision ActualDecision `json:"actual_decision"`
	Correct        bool           `json:"correct"`
	Timestamp      string         `json:"timestamp"`
}

// AdminResetRequest asks a tenant's session state (graph + chat
// history) to be cleared; antibodies and the ledger are untouched.
type AdminResetRequest struct {
	ClientID string `json:"client_id"`
}

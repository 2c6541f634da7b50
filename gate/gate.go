package gate

import "time"

// FailureAction controls what happens when a gate fails.
type FailureAction string

const (
	// ActionRetry allows the failing step to retry under its retry policy.
	ActionRetry FailureAction = "retry"
	// ActionFail fails the step immediately without retrying.
	ActionFail FailureAction = "fail"
	// ActionWarn records the failure but lets execution proceed.
	ActionWarn FailureAction = "warn"
)

// Definition is a named bundle of content-validation requirements.
// Definitions are immutable after registration; re-registering an id replaces
// the previous definition.
type Definition struct {
	// ID uniquely identifies the gate.
	ID string `json:"id" yaml:"id"`
	// Name is a human-readable label.
	Name string `json:"name" yaml:"name"`
	// Requirements are evaluated in order; ordering affects only reporting.
	Requirements []Requirement `json:"requirements" yaml:"requirements"`
	// FailureAction selects the behavior when the gate fails.
	// Defaults to retry.
	FailureAction FailureAction `json:"failure_action,omitempty" yaml:"failure_action,omitempty"`
	// SoftPassThreshold is the minimum weighted-average score the optional
	// requirements must reach. Zero means the default of 0.5.
	SoftPassThreshold float64 `json:"soft_pass_threshold,omitempty" yaml:"soft_pass_threshold,omitempty"`
}

// Action returns the effective failure action, defaulting to retry.
func (d *Definition) Action() FailureAction {
	if d.FailureAction == "" {
		return ActionRetry
	}
	return d.FailureAction
}

// DefaultSoftPassThreshold applies when a definition does not set its own.
const DefaultSoftPassThreshold = 0.5

// Threshold returns the effective soft-pass threshold.
func (d *Definition) Threshold() float64 {
	if d.SoftPassThreshold <= 0 {
		return DefaultSoftPassThreshold
	}
	return d.SoftPassThreshold
}

// Requirement is one testable criterion within a gate.
type Requirement struct {
	// ID identifies the requirement within its gate. Optional; falls back to
	// the type key in results.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`
	// Type is the registered evaluator key, e.g. "content_length".
	Type string `json:"type" yaml:"type"`
	// Criteria carries type-specific parameters, e.g. {"min": 50}.
	Criteria map[string]any `json:"criteria,omitempty" yaml:"criteria,omitempty"`
	// Required requirements must all pass for the gate to pass.
	Required bool `json:"required" yaml:"required"`
	// Weight scales this requirement's score in the soft aggregate.
	// Zero means weight 1.
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// ResultID returns the id used for this requirement in evaluation results.
func (r *Requirement) ResultID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.Type
}

// EffectiveWeight returns the weight used in soft aggregation.
func (r *Requirement) EffectiveWeight() float64 {
	if r.Weight <= 0 {
		return 1
	}
	return r.Weight
}

// EvaluationResult is the outcome of evaluating one requirement.
type EvaluationResult struct {
	// RequirementID identifies the requirement this result belongs to.
	RequirementID string `json:"requirement_id"`
	// Passed reports whether the requirement was satisfied.
	Passed bool `json:"passed"`
	// Score is a normalized quality score in [0, 1].
	Score float64 `json:"score"`
	// Message is a human-readable evaluation summary.
	Message string `json:"message,omitempty"`
	// Hint is remediation guidance, set only for failed requirements.
	Hint string `json:"hint,omitempty"`
	// Details carries structured evaluator-specific data.
	Details map[string]any `json:"details,omitempty"`
}

// Status is the aggregated outcome of evaluating one gate.
type Status struct {
	// GateID identifies the gate.
	GateID string `json:"gate_id"`
	// Passed is the aggregate result: all required requirements passed and
	// the weighted optional score met the soft-pass threshold.
	Passed bool `json:"passed"`
	// Results holds per-requirement outcomes in requirement order.
	Results []EvaluationResult `json:"results"`
	// SoftScore is the weighted average score of optional requirements,
	// or 1 when the gate has none.
	SoftScore float64 `json:"soft_score"`
	// RetryCount is maintained by the caller coordinating retries; the
	// pipeline itself never mutates it.
	RetryCount int `json:"retry_count"`
	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// FailedRequirements returns the ids of requirements that did not pass.
func (s *Status) FailedRequirements() []string {
	var failed []string
	for _, r := range s.Results {
		if !r.Passed {
			failed = append(failed, r.RequirementID)
		}
	}
	return failed
}

// Hints collects remediation hints from failed requirements.
func (s *Status) Hints() []string {
	var hints []string
	for _, r := range s.Results {
		if !r.Passed && r.Hint != "" {
			hints = append(hints, r.Hint)
		}
	}
	return hints
}

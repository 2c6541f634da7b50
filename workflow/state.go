package workflow

import (
	"time"

	"github.com/gateflow/gateflow/gate"
	"github.com/gateflow/gateflow/types"
)

// ExecutionStatus is the overall status of a workflow execution.
type ExecutionStatus string

const (
	// StatusPending means the execution has not started yet.
	StatusPending ExecutionStatus = "pending"
	// StatusRunning means a step is executing.
	StatusRunning ExecutionStatus = "running"
	// StatusWaitingOnGate means gate evaluation is in progress.
	StatusWaitingOnGate ExecutionStatus = "waiting_on_gate"
	// StatusRetrying means a failed step is waiting out its backoff delay.
	StatusRetrying ExecutionStatus = "retrying"
	// StatusCompleted is terminal: all steps reached a terminal outcome and
	// none failed fatally.
	StatusCompleted ExecutionStatus = "completed"
	// StatusFailed is terminal: the execution failed.
	StatusFailed ExecutionStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepStatus is the per-step outcome status.
type StepStatus string

const (
	// StepPending means the step has not been dispatched.
	StepPending StepStatus = "pending"
	// StepRunning means an attempt is in flight.
	StepRunning StepStatus = "running"
	// StepCompleted means the step succeeded and its gates passed.
	StepCompleted StepStatus = "completed"
	// StepFailed means the step exhausted its retries or failed fatally.
	StepFailed StepStatus = "failed"
	// StepSkipped means an upstream dependency failed, so the step never ran.
	StepSkipped StepStatus = "skipped"
)

// StepOutcome records the result of one step within an execution.
type StepOutcome struct {
	StepID    string          `json:"step_id"`
	Status    StepStatus      `json:"status"`
	Result    *StepResult     `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode types.ErrorCode `json:"error_code,omitempty"`
	// Attempts counts adapter invocations, including the successful one.
	Attempts int `json:"attempts"`
	// Gates holds the last gate evaluation statuses for the step.
	Gates     []gate.Status `json:"gates,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
}

// terminal reports whether the step reached a terminal per-step outcome.
func (o *StepOutcome) terminal() bool {
	return o.Status == StepCompleted || o.Status == StepFailed || o.Status == StepSkipped
}

// ExecutionState is the engine's record of one workflow run. It is mutated
// only by the engine that owns it; external readers get consistent snapshots
// via Clone.
type ExecutionState struct {
	ExecutionID string          `json:"execution_id"`
	WorkflowID  string          `json:"workflow_id"`
	Status      ExecutionStatus `json:"status"`
	// Cursor is the index of the current step in the topological order.
	Cursor int `json:"cursor"`
	// Order is the topological order the execution follows.
	Order []string `json:"order"`
	// Steps maps step ids to their outcomes.
	Steps map[string]*StepOutcome `json:"steps"`
	// Inputs are the caller-provided run inputs.
	Inputs map[string]any `json:"inputs,omitempty"`
	// Error describes the terminal failure, if any.
	Error     string          `json:"error,omitempty"`
	ErrorCode types.ErrorCode `json:"error_code,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at,omitempty"`
}

// newExecutionState initializes a pending state for a run.
func newExecutionState(executionID string, wf *Workflow, inputs map[string]any) *ExecutionState {
	state := &ExecutionState{
		ExecutionID: executionID,
		WorkflowID:  wf.ID,
		Status:      StatusPending,
		Order:       wf.Order(),
		Steps:       make(map[string]*StepOutcome, len(wf.Steps)),
		Inputs:      inputs,
		StartedAt:   time.Now(),
	}
	for _, step := range wf.Steps {
		state.Steps[step.ID] = &StepOutcome{StepID: step.ID, Status: StepPending}
	}
	return state
}

// Clone returns a deep copy safe to hand to external readers.
func (s *ExecutionState) Clone() *ExecutionState {
	cp := *s
	cp.Order = append([]string(nil), s.Order...)
	cp.Steps = make(map[string]*StepOutcome, len(s.Steps))
	for id, outcome := range s.Steps {
		oc := *outcome
		if outcome.Result != nil {
			rc := *outcome.Result
			oc.Result = &rc
		}
		oc.Gates = append([]gate.Status(nil), outcome.Gates...)
		cp.Steps[id] = &oc
	}
	if s.Inputs != nil {
		cp.Inputs = make(map[string]any, len(s.Inputs))
		for k, v := range s.Inputs {
			cp.Inputs[k] = v
		}
	}
	return &cp
}

// Results returns the result payloads of completed steps.
func (s *ExecutionState) Results() map[string]*StepResult {
	out := make(map[string]*StepResult)
	for id, outcome := range s.Steps {
		if outcome.Status == StepCompleted && outcome.Result != nil {
			out[id] = outcome.Result
		}
	}
	return out
}

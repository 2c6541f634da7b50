package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StepKind defines the kind of a workflow step. The set is closed; unknown
// kinds are rejected at registration.
type StepKind string

const (
	// StepKindContent produces or transforms content (e.g. runs a prompt).
	StepKindContent StepKind = "content"
	// StepKindTool invokes an external tool.
	StepKindTool StepKind = "tool"
	// StepKindGate exists only to evaluate gates against upstream output.
	StepKindGate StepKind = "gate"
	// StepKindConditional routes based on upstream results.
	StepKindConditional StepKind = "conditional"
)

// validStepKinds is the closed set accepted at registration.
var validStepKinds = map[StepKind]bool{
	StepKindContent:     true,
	StepKindTool:        true,
	StepKindGate:        true,
	StepKindConditional: true,
}

// Step is a single unit of work within a workflow.
type Step struct {
	// ID uniquely identifies the step within its workflow.
	ID string `json:"id" yaml:"id"`
	// Kind specifies the step kind.
	Kind StepKind `json:"kind" yaml:"kind"`
	// Config carries opaque kind-specific configuration passed to the adapter.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	// DependsOn lists step ids that must complete before this step runs.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	// Gates lists gate ids evaluated against this step's output.
	Gates []string `json:"gates,omitempty" yaml:"gates,omitempty"`
	// Timeout overrides the workflow default step timeout when positive.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Retry overrides the workflow retry policy when set.
	Retry *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
	// BestEffort marks the step as non-fatal: on terminal failure its
	// dependents are skipped but the rest of the workflow continues.
	BestEffort bool `json:"best_effort,omitempty" yaml:"best_effort,omitempty"`
}

// StepResult is the outcome of a single step attempt.
type StepResult struct {
	// Output is the adapter's result payload.
	Output any `json:"output,omitempty"`
	// Metadata carries adapter-specific details (model used, token counts...).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Content renders the result output as text for gate evaluation.
// String outputs are used verbatim; everything else is JSON-encoded.
func (r *StepResult) Content() string {
	if r == nil || r.Output == nil {
		return ""
	}
	if s, ok := r.Output.(string); ok {
		return s
	}
	b, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Sprintf("%v", r.Output)
	}
	return string(b)
}

// StepAdapter executes a step's work. The engine treats it as an opaque
// collaborator: it is invoked once per attempt and must be safe to call
// repeatedly for the same step to support retries.
type StepAdapter interface {
	// ExecuteStep runs one attempt of the step. priorResults maps completed
	// dependency step ids to their results.
	ExecuteStep(ctx context.Context, step *Step, priorResults map[string]*StepResult) (*StepResult, error)
}

// StepAdapterFunc adapts a function to the StepAdapter interface.
type StepAdapterFunc func(ctx context.Context, step *Step, priorResults map[string]*StepResult) (*StepResult, error)

// ExecuteStep implements StepAdapter.
func (f StepAdapterFunc) ExecuteStep(ctx context.Context, step *Step, priorResults map[string]*StepResult) (*StepResult, error) {
	return f(ctx, step, priorResults)
}

package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is the serializable form of a workflow, as written in YAML or
// JSON workflow files. Durations are expressed in milliseconds to keep the
// files toolchain-friendly.
type Definition struct {
	ID          string           `json:"id" yaml:"id"`
	Name        string           `json:"name,omitempty" yaml:"name,omitempty"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepDefinition `json:"steps" yaml:"steps"`
	Retry       *RetryDefinition `json:"retry,omitempty" yaml:"retry,omitempty"`
	// StepTimeoutMs is the default per-step timeout in milliseconds.
	StepTimeoutMs int      `json:"step_timeout_ms,omitempty" yaml:"step_timeout_ms,omitempty"`
	Metadata      Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StepDefinition is the serializable form of a step.
type StepDefinition struct {
	ID         string           `json:"id" yaml:"id"`
	Kind       string           `json:"kind" yaml:"kind"`
	Config     map[string]any   `json:"config,omitempty" yaml:"config,omitempty"`
	DependsOn  []string         `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Gates      []string         `json:"gates,omitempty" yaml:"gates,omitempty"`
	TimeoutMs  int              `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retry      *RetryDefinition `json:"retry,omitempty" yaml:"retry,omitempty"`
	BestEffort bool             `json:"best_effort,omitempty" yaml:"best_effort,omitempty"`
}

// RetryDefinition is the serializable form of a retry policy.
type RetryDefinition struct {
	MaxAttempts      int      `json:"max_attempts" yaml:"max_attempts"`
	Backoff          string   `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	BaseDelayMs      int      `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty"`
	MaxDelayMs       int      `json:"max_delay_ms,omitempty" yaml:"max_delay_ms,omitempty"`
	Jitter           bool     `json:"jitter,omitempty" yaml:"jitter,omitempty"`
	RetryableClasses []string `json:"retryable_classes,omitempty" yaml:"retryable_classes,omitempty"`
}

// ToWorkflow converts the definition into a Workflow ready for registration.
func (d *Definition) ToWorkflow() (*Workflow, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("workflow definition has no id")
	}
	wf := &Workflow{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		StepTimeout: time.Duration(d.StepTimeoutMs) * time.Millisecond,
		Metadata:    d.Metadata,
	}
	if d.Retry != nil {
		wf.Retry = d.Retry.toPolicy()
	} else {
		wf.Retry = DefaultRetryPolicy()
	}
	wf.Steps = make([]*Step, 0, len(d.Steps))
	for _, sd := range d.Steps {
		step := &Step{
			ID:         sd.ID,
			Kind:       StepKind(sd.Kind),
			Config:     sd.Config,
			DependsOn:  sd.DependsOn,
			Gates:      sd.Gates,
			Timeout:    time.Duration(sd.TimeoutMs) * time.Millisecond,
			BestEffort: sd.BestEffort,
		}
		if sd.Retry != nil {
			policy := sd.Retry.toPolicy()
			step.Retry = &policy
		}
		wf.Steps = append(wf.Steps, step)
	}
	return wf, nil
}

func (r *RetryDefinition) toPolicy() RetryPolicy {
	policy := RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		Backoff:     BackoffStrategy(r.Backoff),
		BaseDelay:   time.Duration(r.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(r.MaxDelayMs) * time.Millisecond,
		Jitter:      r.Jitter,
	}
	for _, class := range r.RetryableClasses {
		policy.RetryableClasses = append(policy.RetryableClasses, FailureClass(class))
	}
	if len(policy.RetryableClasses) == 0 {
		policy.RetryableClasses = []FailureClass{FailureExecution, FailureTimeout}
	}
	return policy
}

// DefinitionFromYAML parses a YAML workflow definition.
func DefinitionFromYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}
	return &def, nil
}

// DefinitionFromJSON parses a JSON workflow definition.
func DefinitionFromJSON(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}
	return &def, nil
}

// ToYAML renders the definition as YAML.
func (d *Definition) ToYAML() ([]byte, error) {
	return yaml.Marshal(d)
}

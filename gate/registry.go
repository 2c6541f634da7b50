package gate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/types"
)

// Context carries execution-scoped information into evaluators.
// All fields are optional; evaluators must work with a zero Context.
type Context struct {
	// WorkflowID is the owning workflow, when evaluating inside a run.
	WorkflowID string
	// ExecutionID is the run the content came from.
	ExecutionID string
	// StepID is the step whose output is being evaluated.
	StepID string
	// Vars carries caller-provided evaluation variables.
	Vars map[string]any
}

// Evaluator checks content against one requirement's criteria.
// Implementations must be pure: the same inputs always produce the same
// result, with no reliance on shared mutable state.
type Evaluator interface {
	Evaluate(ctx context.Context, content string, criteria map[string]any, ectx Context) (EvaluationResult, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, content string, criteria map[string]any, ectx Context) (EvaluationResult, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, content string, criteria map[string]any, ectx Context) (EvaluationResult, error) {
	return f(ctx, content, criteria, ectx)
}

// HintGenerator produces remediation guidance for a failed requirement.
type HintGenerator interface {
	Hint(req Requirement, result EvaluationResult) string
}

// HintFunc adapts a function to the HintGenerator interface.
type HintFunc func(req Requirement, result EvaluationResult) string

// Hint implements HintGenerator.
func (f HintFunc) Hint(req Requirement, result EvaluationResult) string {
	return f(req, result)
}

// binding is the dispatch entry for one requirement type.
type binding struct {
	evaluator Evaluator
	fallback  Evaluator
	hints     HintGenerator
}

// Registry holds evaluators and hint generators keyed by requirement type.
//
// Registration is last-write-wins per type key, so evaluator implementations
// can be hot-swapped without restarting in-flight evaluations: an evaluation
// keeps whichever evaluator was bound at dispatch time. Unknown type keys
// fail closed with a registry dispatch error rather than silently passing.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*binding
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		bindings: make(map[string]*binding),
		logger:   logger.With(zap.String("component", "gate_registry")),
	}
}

// RegisterEvaluator binds an evaluator to a requirement type, replacing any
// previous binding for that type.
func (r *Registry) RegisterEvaluator(reqType string, ev Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bindings[reqType]
	if b == nil {
		b = &binding{}
		r.bindings[reqType] = b
	} else {
		// Preserve hint generator and fallback across re-registration
		b = &binding{fallback: b.fallback, hints: b.hints}
		r.bindings[reqType] = b
	}
	b.evaluator = ev

	r.logger.Debug("evaluator registered", zap.String("type", reqType))
}

// RegisterFallback binds a fallback evaluator invoked when the primary
// evaluator for the type returns an internal error. Fallback use is logged.
func (r *Registry) RegisterFallback(reqType string, ev Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bindings[reqType]
	if b == nil {
		b = &binding{}
		r.bindings[reqType] = b
	}
	b.fallback = ev
}

// RegisterHintGenerator binds a hint generator to a requirement type.
func (r *Registry) RegisterHintGenerator(reqType string, h HintGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bindings[reqType]
	if b == nil {
		b = &binding{}
		r.bindings[reqType] = b
	}
	b.hints = h
}

// HasEvaluator reports whether the type key has a bound evaluator.
func (r *Registry) HasEvaluator(reqType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b := r.bindings[reqType]
	return b != nil && b.evaluator != nil
}

// Types returns the registered requirement type keys.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bindings))
	for t, b := range r.bindings {
		if b.evaluator != nil {
			out = append(out, t)
		}
	}
	return out
}

// EvaluateRequirement dispatches one requirement to its bound evaluator.
//
// When the primary evaluator returns an error and a fallback is bound, the
// fallback runs instead and the switch is logged. An unregistered type or a
// failing evaluator with no fallback yields a registry dispatch error.
func (r *Registry) EvaluateRequirement(ctx context.Context, content string, req Requirement, ectx Context) (EvaluationResult, error) {
	r.mu.RLock()
	b := r.bindings[req.Type]
	var primary, fallback Evaluator
	var hints HintGenerator
	if b != nil {
		primary = b.evaluator
		fallback = b.fallback
		hints = b.hints
	}
	r.mu.RUnlock()

	if primary == nil {
		return EvaluationResult{}, types.Errorf(types.ErrUnknownRequirement,
			"no evaluator registered for requirement type %q", req.Type)
	}

	result, err := primary.Evaluate(ctx, content, req.Criteria, ectx)
	if err != nil && fallback != nil {
		r.logger.Warn("primary evaluator failed, using fallback",
			zap.String("type", req.Type),
			zap.Error(err),
		)
		result, err = fallback.Evaluate(ctx, content, req.Criteria, ectx)
	}
	if err != nil {
		return EvaluationResult{}, types.Errorf(types.ErrRegistryDispatch,
			"evaluator for type %q failed", req.Type).WithCause(err)
	}

	result.RequirementID = req.ResultID()
	if !result.Passed && result.Hint == "" && hints != nil {
		result.Hint = hints.Hint(req, result)
	}
	return result, nil
}

package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/gate"
	"github.com/gateflow/gateflow/types"
)

// Metadata carries authoring information for a workflow.
type Metadata struct {
	// Author identifies who wrote the workflow.
	Author string `json:"author,omitempty" yaml:"author,omitempty"`
	// Version is a free-form authoring version.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	// Runtimes lists the target runtimes the workflow is written for.
	Runtimes []string `json:"runtimes,omitempty" yaml:"runtimes,omitempty"`
	// Tags are free-form labels.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	// RegisteredAt is set by the registry on registration.
	RegisteredAt time.Time `json:"registered_at,omitempty" yaml:"-"`
}

// Workflow is a validated, immutable workflow definition.
// Instances returned by the registry carry a precomputed dependency graph and
// topological order; executions never mutate them.
type Workflow struct {
	// ID uniquely identifies the workflow.
	ID string `json:"id" yaml:"id"`
	// Name is a human-readable label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// Description describes what the workflow does.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Steps are the workflow's steps. Order is the declaration order used for
	// deterministic scheduling tie-breaks.
	Steps []*Step `json:"steps" yaml:"steps"`
	// Retry is the workflow-level default retry policy.
	Retry RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
	// StepTimeout is the default per-step timeout when a step sets none.
	StepTimeout time.Duration `json:"step_timeout,omitempty" yaml:"step_timeout,omitempty"`
	// Metadata carries authoring info.
	Metadata Metadata `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// derived at registration
	graph *DependencyGraph
	order []string
	steps map[string]*Step
}

// Graph returns the workflow's dependency graph.
func (w *Workflow) Graph() *DependencyGraph {
	return w.graph
}

// Order returns the validated topological execution order.
func (w *Workflow) Order() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// StepByID returns the step with the given id.
func (w *Workflow) StepByID(id string) (*Step, bool) {
	s, ok := w.steps[id]
	return s, ok
}

// CatalogStore persists registered definitions outside the process.
// Implementations live in the store package; the registry works without one.
type CatalogStore interface {
	PutWorkflow(ctx context.Context, id string, doc []byte) error
	ListWorkflows(ctx context.Context) (map[string][]byte, error)
}

// Registry validates and stores workflow definitions.
//
// Registration replaces by id and never mutates a stored workflow in place.
// Validation covers step identity, the closed step-kind set, dependency graph
// shape (dangling edges, cycles) and, when a gate catalog is attached, that
// every referenced gate id is registered.
type Registry struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow

	validator *GraphValidator
	gates     *gate.Catalog
	store     CatalogStore
	logger    *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithGateCatalog makes registration validate gate references against the
// catalog.
func WithGateCatalog(c *gate.Catalog) RegistryOption {
	return func(r *Registry) { r.gates = c }
}

// WithCatalogStore persists registered workflows to the store.
func WithCatalogStore(s CatalogStore) RegistryOption {
	return func(r *Registry) { r.store = s }
}

// NewRegistry creates a workflow registry.
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		workflows: make(map[string]*Workflow),
		validator: NewGraphValidator(),
		logger:    logger.With(zap.String("component", "workflow_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and stores a workflow, returning its id.
// A workflow that fails validation is not stored and not persisted.
func (r *Registry) Register(ctx context.Context, wf *Workflow) (string, error) {
	prepared, err := r.prepare(wf)
	if err != nil {
		return "", err
	}

	if r.store != nil {
		doc, err := json.Marshal(prepared)
		if err != nil {
			return "", types.Errorf(types.ErrInvalidWorkflow,
				"workflow %q cannot be serialized", prepared.ID).WithCause(err)
		}
		if err := r.store.PutWorkflow(ctx, prepared.ID, doc); err != nil {
			return "", types.Errorf(types.ErrInvalidWorkflow,
				"persisting workflow %q failed", prepared.ID).WithCause(err)
		}
	}

	r.mu.Lock()
	r.workflows[prepared.ID] = prepared
	r.mu.Unlock()

	r.logger.Info("workflow registered",
		zap.String("workflow_id", prepared.ID),
		zap.Int("steps", len(prepared.Steps)),
	)
	return prepared.ID, nil
}

// Get returns the workflow with the given id.
func (r *Registry) Get(id string) (*Workflow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[id]
	return wf, ok
}

// List returns all registered workflows sorted by id.
func (r *Registry) List() []*Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workflow, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadPersisted restores workflows from the catalog store. Definitions that
// no longer validate (e.g. a gate type was unregistered) are skipped with a
// log record rather than aborting the load.
func (r *Registry) LoadPersisted(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	docs, err := r.store.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	for id, doc := range docs {
		var wf Workflow
		if err := json.Unmarshal(doc, &wf); err != nil {
			r.logger.Warn("skipping undecodable persisted workflow",
				zap.String("workflow_id", id), zap.Error(err))
			continue
		}
		prepared, err := r.prepare(&wf)
		if err != nil {
			r.logger.Warn("skipping invalid persisted workflow",
				zap.String("workflow_id", id), zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.workflows[prepared.ID] = prepared
		r.mu.Unlock()
	}
	return nil
}

// prepare validates a definition and returns an immutable copy with the
// derived graph and topological order attached.
func (r *Registry) prepare(wf *Workflow) (*Workflow, error) {
	if wf == nil || wf.ID == "" {
		return nil, types.NewError(types.ErrInvalidWorkflow, "workflow id must not be empty")
	}
	if len(wf.Steps) == 0 {
		return nil, types.Errorf(types.ErrInvalidWorkflow, "workflow %q has no steps", wf.ID)
	}

	cp := cloneWorkflow(wf)
	cp.Metadata.RegisteredAt = time.Now()

	cp.steps = make(map[string]*Step, len(cp.Steps))
	for _, step := range cp.Steps {
		if step.ID == "" {
			return nil, types.Errorf(types.ErrInvalidStep,
				"workflow %q has a step with no id", cp.ID)
		}
		if _, dup := cp.steps[step.ID]; dup {
			return nil, types.Errorf(types.ErrDuplicateStep,
				"workflow %q declares step %q more than once", cp.ID, step.ID).WithStep(step.ID)
		}
		if !validStepKinds[step.Kind] {
			return nil, types.Errorf(types.ErrInvalidStep,
				"step %q has unknown kind %q", step.ID, step.Kind).WithStep(step.ID)
		}
		cp.steps[step.ID] = step
	}

	if r.gates != nil {
		for _, step := range cp.Steps {
			if _, err := r.gates.Resolve(step.Gates); err != nil {
				return nil, err
			}
		}
	}

	cp.graph = graphFromSteps(cp.Steps)
	order, err := r.validator.Validate(cp.graph)
	if err != nil {
		return nil, err
	}
	cp.order = order

	return cp, nil
}

// cloneWorkflow deep-copies the definition fields of a workflow.
func cloneWorkflow(wf *Workflow) *Workflow {
	cp := *wf
	cp.graph = nil
	cp.order = nil
	cp.steps = nil
	cp.Steps = make([]*Step, len(wf.Steps))
	for i, step := range wf.Steps {
		sc := *step
		sc.DependsOn = append([]string(nil), step.DependsOn...)
		sc.Gates = append([]string(nil), step.Gates...)
		if step.Config != nil {
			sc.Config = make(map[string]any, len(step.Config))
			for k, v := range step.Config {
				sc.Config[k] = v
			}
		}
		if step.Retry != nil {
			rc := *step.Retry
			rc.RetryableClasses = append([]FailureClass(nil), step.Retry.RetryableClasses...)
			sc.Retry = &rc
		}
		cp.Steps[i] = &sc
	}
	cp.Metadata.Runtimes = append([]string(nil), wf.Metadata.Runtimes...)
	cp.Metadata.Tags = append([]string(nil), wf.Metadata.Tags...)
	cp.Retry.RetryableClasses = append([]FailureClass(nil), wf.Retry.RetryableClasses...)
	return &cp
}

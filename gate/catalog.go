package gate

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/types"
)

// Catalog stores registered gate definitions.
//
// Definitions are validated on registration and immutable afterwards;
// registering an existing id replaces the stored definition, it never
// mutates it in place.
type Catalog struct {
	mu       sync.RWMutex
	defs     map[string]*Definition
	registry *Registry
	logger   *zap.Logger
}

// NewCatalog creates a catalog. When registry is non-nil, registration
// rejects definitions referencing unregistered requirement types.
func NewCatalog(registry *Registry, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		defs:     make(map[string]*Definition),
		registry: registry,
		logger:   logger.With(zap.String("component", "gate_catalog")),
	}
}

// Register validates and stores a gate definition, replacing any existing
// definition with the same id.
func (c *Catalog) Register(def *Definition) error {
	if err := c.validate(def); err != nil {
		return err
	}

	stored := cloneDefinition(def)

	c.mu.Lock()
	c.defs[stored.ID] = stored
	c.mu.Unlock()

	c.logger.Info("gate registered",
		zap.String("gate_id", stored.ID),
		zap.Int("requirements", len(stored.Requirements)),
	)
	return nil
}

// Get returns the definition for an id.
func (c *Catalog) Get(id string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[id]
	if !ok {
		return nil, false
	}
	return cloneDefinition(def), true
}

// List returns all registered definitions sorted by id.
func (c *Catalog) List() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, cloneDefinition(def))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve maps gate ids to their definitions, failing on the first unknown id.
func (c *Catalog) Resolve(ids []string) ([]*Definition, error) {
	defs := make([]*Definition, 0, len(ids))
	for _, id := range ids {
		def, ok := c.Get(id)
		if !ok {
			return nil, types.Errorf(types.ErrGateNotFound, "gate %q is not registered", id).WithGate(id)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (c *Catalog) validate(def *Definition) error {
	if def == nil || def.ID == "" {
		return types.NewError(types.ErrInvalidGate, "gate id must not be empty")
	}
	if len(def.Requirements) == 0 {
		return types.Errorf(types.ErrInvalidGate, "gate %q has no requirements", def.ID).WithGate(def.ID)
	}
	switch def.FailureAction {
	case "", ActionRetry, ActionFail, ActionWarn:
	default:
		return types.Errorf(types.ErrInvalidGate,
			"gate %q has unknown failure action %q", def.ID, def.FailureAction).WithGate(def.ID)
	}
	if def.SoftPassThreshold < 0 || def.SoftPassThreshold > 1 {
		return types.Errorf(types.ErrInvalidGate,
			"gate %q soft-pass threshold %v outside [0,1]", def.ID, def.SoftPassThreshold).WithGate(def.ID)
	}
	for _, req := range def.Requirements {
		if req.Type == "" {
			return types.Errorf(types.ErrInvalidGate,
				"gate %q has a requirement with no type", def.ID).WithGate(def.ID)
		}
		if req.Weight < 0 {
			return types.Errorf(types.ErrInvalidGate,
				"gate %q requirement %q has negative weight", def.ID, req.ResultID()).WithGate(def.ID)
		}
		if c.registry != nil && !c.registry.HasEvaluator(req.Type) {
			return types.Errorf(types.ErrUnknownRequirement,
				"gate %q references unregistered requirement type %q", def.ID, req.Type).WithGate(def.ID)
		}
	}
	return nil
}

// cloneDefinition deep-copies a definition so stored state stays immutable.
func cloneDefinition(def *Definition) *Definition {
	cp := *def
	cp.Requirements = make([]Requirement, len(def.Requirements))
	for i, req := range def.Requirements {
		rc := req
		if req.Criteria != nil {
			rc.Criteria = make(map[string]any, len(req.Criteria))
			for k, v := range req.Criteria {
				rc.Criteria[k] = v
			}
		}
		cp.Requirements[i] = rc
	}
	return &cp
}

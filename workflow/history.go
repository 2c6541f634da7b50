package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// HistoryArchiver persists terminal execution states outside the process.
// Implementations live in the store package.
type HistoryArchiver interface {
	Archive(ctx context.Context, state *ExecutionState) error
}

// HistoryStore keeps a bounded in-memory history of terminal executions.
//
// Each engine instance owns its own store; there is no process-wide history.
// When the capacity is reached the oldest entry is evicted.
type HistoryStore struct {
	mu       sync.RWMutex
	capacity int
	// ring holds execution ids in insertion order for eviction
	ring    []string
	entries map[string]*ExecutionState
	logger  *zap.Logger
}

// DefaultHistoryCapacity bounds history when no capacity is configured.
const DefaultHistoryCapacity = 256

// NewHistoryStore creates a bounded history store.
func NewHistoryStore(capacity int, logger *zap.Logger) *HistoryStore {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryStore{
		capacity: capacity,
		entries:  make(map[string]*ExecutionState, capacity),
		logger:   logger.With(zap.String("component", "history_store")),
	}
}

// Add records a terminal execution state, evicting the oldest entry when the
// store is full. The state is cloned so later reads are isolated.
func (h *HistoryStore) Add(state *ExecutionState) {
	cp := state.Clone()

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.entries[cp.ExecutionID]; !exists {
		h.ring = append(h.ring, cp.ExecutionID)
	}
	h.entries[cp.ExecutionID] = cp

	for len(h.ring) > h.capacity {
		oldest := h.ring[0]
		h.ring = h.ring[1:]
		delete(h.entries, oldest)
		h.logger.Debug("evicted execution from history",
			zap.String("execution_id", oldest),
		)
	}
}

// Get returns the recorded state for an execution id.
func (h *HistoryStore) Get(executionID string) (*ExecutionState, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	state, ok := h.entries[executionID]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// ListByWorkflow returns recorded executions of a workflow, oldest first.
func (h *HistoryStore) ListByWorkflow(workflowID string) []*ExecutionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*ExecutionState
	for _, id := range h.ring {
		if state := h.entries[id]; state != nil && state.WorkflowID == workflowID {
			out = append(out, state.Clone())
		}
	}
	return out
}

// ListByStatus returns recorded executions with the given status, oldest first.
func (h *HistoryStore) ListByStatus(status ExecutionStatus) []*ExecutionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*ExecutionState
	for _, id := range h.ring {
		if state := h.entries[id]; state != nil && state.Status == status {
			out = append(out, state.Clone())
		}
	}
	return out
}

// Len returns the number of recorded executions.
func (h *HistoryStore) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.ring)
}

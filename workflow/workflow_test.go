package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gateflow/gateflow/gate"
	"github.com/gateflow/gateflow/types"
)

// memoryStore is a CatalogStore backed by a map, for registry tests.
type memoryStore struct {
	mu     sync.Mutex
	docs   map[string][]byte
	putErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{docs: map[string][]byte{}}
}

func (m *memoryStore) PutWorkflow(_ context.Context, id string, doc []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = append([]byte(nil), doc...)
	return nil
}

func (m *memoryStore) ListWorkflows(_ context.Context) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte, len(m.docs))
	for id, doc := range m.docs {
		out[id] = append([]byte(nil), doc...)
	}
	return out, nil
}

func validWorkflow(id string) *Workflow {
	return &Workflow{
		ID: id,
		Steps: []*Step{
			{ID: "first", Kind: StepKindContent},
			{ID: "second", Kind: StepKindContent, DependsOn: []string{"first"}},
		},
	}
}

// ---------------------------------------------------------------------------
// Register
// ---------------------------------------------------------------------------

func TestRegistry_Register(t *testing.T) {
	t.Parallel()
	r := NewRegistry(zap.NewNop())

	id, err := r.Register(context.Background(), validWorkflow("wf"))
	require.NoError(t, err)
	assert.Equal(t, "wf", id)

	wf, ok := r.Get("wf")
	require.True(t, ok)
	assert.Equal(t, []string{"first", "second"}, wf.Order())
	assert.False(t, wf.Metadata.RegisteredAt.IsZero())

	step, ok := wf.StepByID("second")
	require.True(t, ok)
	assert.Equal(t, []string{"first"}, step.DependsOn)
}

func TestRegistry_Register_IsolatedFromCaller(t *testing.T) {
	t.Parallel()
	r := NewRegistry(zap.NewNop())
	input := validWorkflow("wf")
	_, err := r.Register(context.Background(), input)
	require.NoError(t, err)

	// Mutating the caller's copy must not affect the stored workflow.
	input.Steps[0].ID = "mutated"
	wf, ok := r.Get("wf")
	require.True(t, ok)
	assert.Equal(t, "first", wf.Steps[0].ID)
}

func TestRegistry_Register_ReplacesById(t *testing.T) {
	t.Parallel()
	r := NewRegistry(zap.NewNop())
	_, err := r.Register(context.Background(), validWorkflow("wf"))
	require.NoError(t, err)

	replacement := &Workflow{
		ID:    "wf",
		Steps: []*Step{{ID: "solo", Kind: StepKindTool}},
	}
	_, err = r.Register(context.Background(), replacement)
	require.NoError(t, err)

	wf, _ := r.Get("wf")
	assert.Equal(t, []string{"solo"}, wf.Order())
}

func TestRegistry_Register_Validation(t *testing.T) {
	t.Parallel()
	r := NewRegistry(zap.NewNop())

	tests := []struct {
		name string
		wf   *Workflow
		code types.ErrorCode
	}{
		{
			name: "nil workflow",
			wf:   nil,
			code: types.ErrInvalidWorkflow,
		},
		{
			name: "empty id",
			wf:   &Workflow{Steps: []*Step{{ID: "s", Kind: StepKindContent}}},
			code: types.ErrInvalidWorkflow,
		},
		{
			name: "no steps",
			wf:   &Workflow{ID: "empty"},
			code: types.ErrInvalidWorkflow,
		},
		{
			name: "step without id",
			wf:   &Workflow{ID: "bad", Steps: []*Step{{Kind: StepKindContent}}},
			code: types.ErrInvalidStep,
		},
		{
			name: "duplicate step ids",
			wf: &Workflow{ID: "dup", Steps: []*Step{
				{ID: "s", Kind: StepKindContent},
				{ID: "s", Kind: StepKindContent},
			}},
			code: types.ErrDuplicateStep,
		},
		{
			name: "unknown step kind",
			wf:   &Workflow{ID: "kind", Steps: []*Step{{ID: "s", Kind: "teleport"}}},
			code: types.ErrInvalidStep,
		},
		{
			name: "dependency on missing step",
			wf: &Workflow{ID: "dangling", Steps: []*Step{
				{ID: "s", Kind: StepKindContent, DependsOn: []string{"ghost"}},
			}},
			code: types.ErrDanglingEdge,
		},
		{
			name: "dependency cycle",
			wf: &Workflow{ID: "cyclic", Steps: []*Step{
				{ID: "x", Kind: StepKindContent, DependsOn: []string{"y"}},
				{ID: "y", Kind: StepKindContent, DependsOn: []string{"x"}},
			}},
			code: types.ErrCycleDetected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(context.Background(), tt.wf)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
			assert.True(t, types.IsValidation(err))
		})
	}

	// Nothing invalid was stored.
	assert.Empty(t, r.List())
}

func TestRegistry_Register_UnknownGateRejected(t *testing.T) {
	t.Parallel()
	gateReg := gate.NewRegistry(zap.NewNop())
	gate.RegisterBuiltins(gateReg)
	catalog := gate.NewCatalog(gateReg, zap.NewNop())

	r := NewRegistry(zap.NewNop(), WithGateCatalog(catalog))
	wf := &Workflow{
		ID:    "gated",
		Steps: []*Step{{ID: "s", Kind: StepKindContent, Gates: []string{"not-registered"}}},
	}
	_, err := r.Register(context.Background(), wf)
	require.Error(t, err)
	assert.Equal(t, types.ErrGateNotFound, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// List / persistence
// ---------------------------------------------------------------------------

func TestRegistry_List_SortedById(t *testing.T) {
	t.Parallel()
	r := NewRegistry(zap.NewNop())
	for _, id := range []string{"zebra", "alpha", "mid"} {
		_, err := r.Register(context.Background(), validWorkflow(id))
		require.NoError(t, err)
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
	assert.Equal(t, "zebra", list[2].ID)
}

func TestRegistry_PersistsOnRegister(t *testing.T) {
	t.Parallel()
	store := newMemoryStore()
	r := NewRegistry(zap.NewNop(), WithCatalogStore(store))

	_, err := r.Register(context.Background(), validWorkflow("kept"))
	require.NoError(t, err)

	docs, err := store.ListWorkflows(context.Background())
	require.NoError(t, err)
	require.Contains(t, docs, "kept")

	var wf Workflow
	require.NoError(t, json.Unmarshal(docs["kept"], &wf))
	assert.Equal(t, "kept", wf.ID)
	assert.Len(t, wf.Steps, 2)
}

func TestRegistry_PersistFailureRejectsRegistration(t *testing.T) {
	t.Parallel()
	store := newMemoryStore()
	store.putErr = errors.New("disk full")
	r := NewRegistry(zap.NewNop(), WithCatalogStore(store))

	_, err := r.Register(context.Background(), validWorkflow("lost"))
	require.Error(t, err)
	_, ok := r.Get("lost")
	assert.False(t, ok)
}

func TestRegistry_LoadPersisted(t *testing.T) {
	t.Parallel()
	store := newMemoryStore()

	first := NewRegistry(zap.NewNop(), WithCatalogStore(store))
	_, err := first.Register(context.Background(), validWorkflow("restored"))
	require.NoError(t, err)

	second := NewRegistry(zap.NewNop(), WithCatalogStore(store))
	require.NoError(t, second.LoadPersisted(context.Background()))

	wf, ok := second.Get("restored")
	require.True(t, ok)
	assert.Equal(t, []string{"first", "second"}, wf.Order())
}

func TestRegistry_LoadPersisted_SkipsInvalid(t *testing.T) {
	t.Parallel()
	store := newMemoryStore()
	require.NoError(t, store.PutWorkflow(context.Background(), "garbage", []byte("not json")))

	invalid, err := json.Marshal(&Workflow{ID: "cyclic", Steps: []*Step{
		{ID: "x", Kind: StepKindContent, DependsOn: []string{"x"}},
	}})
	require.NoError(t, err)
	require.NoError(t, store.PutWorkflow(context.Background(), "cyclic", invalid))

	good, err := json.Marshal(validWorkflow("fine"))
	require.NoError(t, err)
	require.NoError(t, store.PutWorkflow(context.Background(), "fine", good))

	r := NewRegistry(zap.NewNop(), WithCatalogStore(store))
	require.NoError(t, r.LoadPersisted(context.Background()))

	_, ok := r.Get("fine")
	assert.True(t, ok)
	_, ok = r.Get("garbage")
	assert.False(t, ok)
	_, ok = r.Get("cyclic")
	assert.False(t, ok)
}

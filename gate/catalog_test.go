package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gateflow/gateflow/types"
)

func builtinCatalog() *Catalog {
	return NewCatalog(builtinRegistry(), zap.NewNop())
}

func lengthGate(id string) *Definition {
	return &Definition{
		ID: id,
		Requirements: []Requirement{
			{Type: TypeContentLength, Criteria: map[string]any{"min": 10}, Required: true},
		},
	}
}

func TestCatalog_RegisterAndGet(t *testing.T) {
	t.Parallel()
	c := builtinCatalog()
	require.NoError(t, c.Register(lengthGate("quality")))

	def, ok := c.Get("quality")
	require.True(t, ok)
	assert.Equal(t, "quality", def.ID)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

func TestCatalog_GetReturnsIsolatedCopy(t *testing.T) {
	t.Parallel()
	c := builtinCatalog()
	require.NoError(t, c.Register(lengthGate("quality")))

	def, _ := c.Get("quality")
	def.Requirements[0].Criteria["min"] = 9999

	again, _ := c.Get("quality")
	assert.Equal(t, 10, again.Requirements[0].Criteria["min"])
}

func TestCatalog_RegisterReplaces(t *testing.T) {
	t.Parallel()
	c := builtinCatalog()
	require.NoError(t, c.Register(lengthGate("g")))

	replacement := lengthGate("g")
	replacement.Name = "updated"
	require.NoError(t, c.Register(replacement))

	def, _ := c.Get("g")
	assert.Equal(t, "updated", def.Name)
}

func TestCatalog_List_Sorted(t *testing.T) {
	t.Parallel()
	c := builtinCatalog()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, c.Register(lengthGate(id)))
	}

	list := c.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].ID)
	assert.Equal(t, "mid", list[1].ID)
	assert.Equal(t, "zeta", list[2].ID)
}

func TestCatalog_Resolve(t *testing.T) {
	t.Parallel()
	c := builtinCatalog()
	require.NoError(t, c.Register(lengthGate("a")))
	require.NoError(t, c.Register(lengthGate("b")))

	defs, err := c.Resolve([]string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].ID)

	_, err = c.Resolve([]string{"a", "ghost"})
	require.Error(t, err)
	assert.Equal(t, types.ErrGateNotFound, types.GetErrorCode(err))

	defs, err = c.Resolve(nil)
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestCatalog_Validation(t *testing.T) {
	t.Parallel()
	c := builtinCatalog()

	tests := []struct {
		name string
		def  *Definition
		code types.ErrorCode
	}{
		{
			name: "nil definition",
			def:  nil,
			code: types.ErrInvalidGate,
		},
		{
			name: "empty id",
			def:  &Definition{Requirements: []Requirement{{Type: TypeContentLength}}},
			code: types.ErrInvalidGate,
		},
		{
			name: "no requirements",
			def:  &Definition{ID: "empty"},
			code: types.ErrInvalidGate,
		},
		{
			name: "unknown failure action",
			def: &Definition{ID: "g", FailureAction: "explode",
				Requirements: []Requirement{{Type: TypeContentLength}}},
			code: types.ErrInvalidGate,
		},
		{
			name: "threshold above one",
			def: &Definition{ID: "g", SoftPassThreshold: 1.5,
				Requirements: []Requirement{{Type: TypeContentLength}}},
			code: types.ErrInvalidGate,
		},
		{
			name: "requirement without type",
			def:  &Definition{ID: "g", Requirements: []Requirement{{}}},
			code: types.ErrInvalidGate,
		},
		{
			name: "negative weight",
			def: &Definition{ID: "g",
				Requirements: []Requirement{{Type: TypeContentLength, Weight: -1}}},
			code: types.ErrInvalidGate,
		},
		{
			name: "unregistered requirement type",
			def:  &Definition{ID: "g", Requirements: []Requirement{{Type: "telepathy"}}},
			code: types.ErrUnknownRequirement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Register(tt.def)
			require.Error(t, err)
			assert.Equal(t, tt.code, types.GetErrorCode(err))
		})
	}

	assert.Empty(t, c.List())
}

func TestCatalog_WithoutRegistrySkipsTypeCheck(t *testing.T) {
	t.Parallel()
	c := NewCatalog(nil, zap.NewNop())
	err := c.Register(&Definition{ID: "g", Requirements: []Requirement{{Type: "anything"}}})
	require.NoError(t, err)
}

func TestDefinition_Defaults(t *testing.T) {
	t.Parallel()
	def := &Definition{}
	assert.Equal(t, ActionRetry, def.Action())
	assert.Equal(t, DefaultSoftPassThreshold, def.Threshold())

	def.FailureAction = ActionWarn
	def.SoftPassThreshold = 0.8
	assert.Equal(t, ActionWarn, def.Action())
	assert.Equal(t, 0.8, def.Threshold())

	req := &Requirement{Type: "t"}
	assert.Equal(t, "t", req.ResultID())
	assert.Equal(t, 1.0, req.EffectiveWeight())
	req.ID = "named"
	req.Weight = 2.5
	assert.Equal(t, "named", req.ResultID())
	assert.Equal(t, 2.5, req.EffectiveWeight())
}

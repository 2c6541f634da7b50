package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func scriptedEvaluator(passed bool, score float64) Evaluator {
	return EvaluatorFunc(func(_ context.Context, _ string, _ map[string]any, _ Context) (EvaluationResult, error) {
		return EvaluationResult{Passed: passed, Score: score}, nil
	})
}

func newScriptedPipeline(t *testing.T, results map[string]EvaluationResult) *Pipeline {
	t.Helper()
	r := NewRegistry(zap.NewNop())
	for reqType, result := range results {
		res := result
		r.RegisterEvaluator(reqType, EvaluatorFunc(func(_ context.Context, _ string, _ map[string]any, _ Context) (EvaluationResult, error) {
			return res, nil
		}))
	}
	return NewPipeline(r, zap.NewNop())
}

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestPipeline_AllRequiredPass(t *testing.T) {
	t.Parallel()
	p := newScriptedPipeline(t, map[string]EvaluationResult{
		"r1": {Passed: true, Score: 1},
		"r2": {Passed: true, Score: 1},
	})
	def := &Definition{
		ID: "g",
		Requirements: []Requirement{
			{Type: "r1", Required: true},
			{Type: "r2", Required: true},
		},
	}

	status := p.EvaluateGate(context.Background(), "content", def, Context{})
	assert.True(t, status.Passed)
	// No optional requirements: soft score defaults to 1.
	assert.Equal(t, 1.0, status.SoftScore)
	assert.Len(t, status.Results, 2)
	assert.False(t, status.EvaluatedAt.IsZero())
}

func TestPipeline_RequiredFailureFailsGate(t *testing.T) {
	t.Parallel()
	p := newScriptedPipeline(t, map[string]EvaluationResult{
		"ok":  {Passed: true, Score: 1},
		"bad": {Passed: false, Score: 0},
	})
	def := &Definition{
		ID: "g",
		Requirements: []Requirement{
			{Type: "ok", Required: true},
			{Type: "bad", Required: true},
		},
	}

	status := p.EvaluateGate(context.Background(), "content", def, Context{})
	assert.False(t, status.Passed)
	assert.Equal(t, []string{"bad"}, status.FailedRequirements())
}

func TestPipeline_WeightedSoftScore(t *testing.T) {
	t.Parallel()
	p := newScriptedPipeline(t, map[string]EvaluationResult{
		"strong": {Passed: true, Score: 1},
		"weak":   {Passed: false, Score: 0},
	})
	def := &Definition{
		ID: "g",
		Requirements: []Requirement{
			{Type: "strong", Weight: 3},
			{Type: "weak", Weight: 1},
		},
	}

	status := p.EvaluateGate(context.Background(), "content", def, Context{})
	// (1*3 + 0*1) / 4 = 0.75 >= default threshold 0.5
	assert.InDelta(t, 0.75, status.SoftScore, 1e-9)
	assert.True(t, status.Passed)
}

func TestPipeline_SoftScoreBelowThresholdFailsGate(t *testing.T) {
	t.Parallel()
	p := newScriptedPipeline(t, map[string]EvaluationResult{
		"low": {Passed: false, Score: 0.2},
	})
	def := &Definition{
		ID:           "g",
		Requirements: []Requirement{{Type: "low"}},
	}

	status := p.EvaluateGate(context.Background(), "content", def, Context{})
	assert.InDelta(t, 0.2, status.SoftScore, 1e-9)
	assert.False(t, status.Passed)
}

func TestPipeline_CustomThreshold(t *testing.T) {
	t.Parallel()
	p := newScriptedPipeline(t, map[string]EvaluationResult{
		"mid": {Passed: false, Score: 0.6},
	})

	lenient := &Definition{ID: "g", SoftPassThreshold: 0.5, Requirements: []Requirement{{Type: "mid"}}}
	strict := &Definition{ID: "g", SoftPassThreshold: 0.9, Requirements: []Requirement{{Type: "mid"}}}

	assert.True(t, p.EvaluateGate(context.Background(), "c", lenient, Context{}).Passed)
	assert.False(t, p.EvaluateGate(context.Background(), "c", strict, Context{}).Passed)
}

func TestPipeline_EvaluateGates_OrderPreserved(t *testing.T) {
	t.Parallel()
	p := newScriptedPipeline(t, map[string]EvaluationResult{
		"ok": {Passed: true, Score: 1},
	})
	defs := []*Definition{
		{ID: "first", Requirements: []Requirement{{Type: "ok", Required: true}}},
		{ID: "second", Requirements: []Requirement{{Type: "ok", Required: true}}},
	}

	statuses := p.EvaluateGates(context.Background(), "content", defs, Context{})
	require.Len(t, statuses, 2)
	assert.Equal(t, "first", statuses[0].GateID)
	assert.Equal(t, "second", statuses[1].GateID)
}

// ---------------------------------------------------------------------------
// Isolation
// ---------------------------------------------------------------------------

func TestPipeline_PanicIsolatedToRequirement(t *testing.T) {
	t.Parallel()
	r := NewRegistry(zap.NewNop())
	r.RegisterEvaluator("explosive", EvaluatorFunc(func(_ context.Context, _ string, _ map[string]any, _ Context) (EvaluationResult, error) {
		panic("evaluator bug")
	}))
	r.RegisterEvaluator("stable", scriptedEvaluator(true, 1))
	p := NewPipeline(r, zap.NewNop())

	def := &Definition{
		ID: "g",
		Requirements: []Requirement{
			{Type: "explosive", Required: true},
			{Type: "stable", Required: true},
		},
	}

	status := p.EvaluateGate(context.Background(), "content", def, Context{})
	require.Len(t, status.Results, 2)
	assert.False(t, status.Results[0].Passed)
	assert.Contains(t, status.Results[0].Message, "panicked")
	assert.True(t, status.Results[1].Passed)
	assert.False(t, status.Passed)
}

func TestPipeline_UnknownTypeBecomesFailedResult(t *testing.T) {
	t.Parallel()
	p := NewPipeline(NewRegistry(zap.NewNop()), zap.NewNop())
	def := &Definition{
		ID:           "g",
		Requirements: []Requirement{{Type: "ghost", Required: true}},
	}

	status := p.EvaluateGate(context.Background(), "content", def, Context{})
	assert.False(t, status.Passed)
	require.Len(t, status.Results, 1)
	assert.False(t, status.Results[0].Passed)
	assert.Equal(t, "ghost", status.Results[0].RequirementID)
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestGateWithFailingRequiredNeverPasses(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		optionalScores := rapid.SliceOfN(rapid.Float64Range(0, 1), 0, 5).Draw(t, "optional")

		r := NewRegistry(zap.NewNop())
		r.RegisterEvaluator("failing", scriptedEvaluator(false, 0))
		reqs := []Requirement{{Type: "failing", Required: true}}
		for i, score := range optionalScores {
			typ := "opt" + string(rune('a'+i))
			r.RegisterEvaluator(typ, scriptedEvaluator(true, score))
			reqs = append(reqs, Requirement{Type: typ})
		}

		def := &Definition{
			ID:                "g",
			Requirements:      reqs,
			SoftPassThreshold: rapid.Float64Range(0.01, 1).Draw(t, "threshold"),
		}
		p := NewPipeline(r, zap.NewNop())

		status := p.EvaluateGate(context.Background(), "content", def, Context{})
		if status.Passed {
			t.Fatalf("gate passed despite a failing required requirement (soft score %v)", status.SoftScore)
		}
	})
}

func TestSoftScoreAlwaysWithinBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scores := rapid.SliceOfN(rapid.Float64Range(0, 1), 1, 6).Draw(t, "scores")
		weights := rapid.SliceOfN(rapid.Float64Range(0.1, 10), len(scores), len(scores)).Draw(t, "weights")

		r := NewRegistry(zap.NewNop())
		var reqs []Requirement
		for i, score := range scores {
			typ := "req" + string(rune('a'+i))
			r.RegisterEvaluator(typ, scriptedEvaluator(score >= 0.5, score))
			reqs = append(reqs, Requirement{Type: typ, Weight: weights[i]})
		}

		p := NewPipeline(r, zap.NewNop())
		status := p.EvaluateGate(context.Background(), "content", &Definition{ID: "g", Requirements: reqs}, Context{})
		if status.SoftScore < 0 || status.SoftScore > 1 {
			t.Fatalf("soft score %v outside [0,1]", status.SoftScore)
		}
	})
}

package gate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Pipeline evaluates gates against content.
//
// The pipeline is pure: it returns statuses and mutates nothing else. Retry
// counters live with the caller coordinating retries, which keeps the
// pipeline independently testable. Gates are evaluated independently of each
// other, and a misbehaving evaluator (error or panic) fails only its own
// requirement, never the whole pipeline.
type Pipeline struct {
	registry *Registry
	logger   *zap.Logger
}

// NewPipeline creates a pipeline backed by the given registry.
func NewPipeline(registry *Registry, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		registry: registry,
		logger:   logger.With(zap.String("component", "gate_pipeline")),
	}
}

// EvaluateGates evaluates every gate against the content and returns one
// status per gate, in input order.
func (p *Pipeline) EvaluateGates(ctx context.Context, content string, gates []*Definition, ectx Context) []Status {
	statuses := make([]Status, 0, len(gates))
	for _, def := range gates {
		statuses = append(statuses, p.EvaluateGate(ctx, content, def, ectx))
	}
	return statuses
}

// EvaluateGate evaluates a single gate's requirements and aggregates them.
//
// Aggregation: the gate passes iff every required requirement passed AND the
// weighted average score of optional requirements meets the gate's soft-pass
// threshold. A gate with no optional requirements has a soft score of 1.
func (p *Pipeline) EvaluateGate(ctx context.Context, content string, def *Definition, ectx Context) Status {
	status := Status{
		GateID:  def.ID,
		Results: make([]EvaluationResult, 0, len(def.Requirements)),
	}

	requiredPassed := true
	var softSum, weightSum float64

	for i := range def.Requirements {
		req := def.Requirements[i]
		result := p.evaluateRequirement(ctx, content, req, ectx)
		status.Results = append(status.Results, result)

		if req.Required {
			if !result.Passed {
				requiredPassed = false
			}
			continue
		}
		softSum += result.Score * req.EffectiveWeight()
		weightSum += req.EffectiveWeight()
	}

	status.SoftScore = 1
	if weightSum > 0 {
		status.SoftScore = softSum / weightSum
	}
	status.Passed = requiredPassed && status.SoftScore >= def.Threshold()
	status.EvaluatedAt = time.Now()

	p.logger.Debug("gate evaluated",
		zap.String("gate_id", def.ID),
		zap.Bool("passed", status.Passed),
		zap.Float64("soft_score", status.SoftScore),
		zap.Strings("failed_requirements", status.FailedRequirements()),
	)

	return status
}

// evaluateRequirement runs one requirement with panic isolation. A panicking
// or erroring evaluator becomes a failed result with a diagnostic message so
// the remaining requirements still evaluate.
func (p *Pipeline) evaluateRequirement(ctx context.Context, content string, req Requirement, ectx Context) (result EvaluationResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("evaluator panicked",
				zap.String("type", req.Type),
				zap.Any("panic", r),
			)
			result = EvaluationResult{
				RequirementID: req.ResultID(),
				Passed:        false,
				Score:         0,
				Message:       fmt.Sprintf("evaluator for %q panicked: %v", req.Type, r),
			}
		}
	}()

	result, err := p.registry.EvaluateRequirement(ctx, content, req, ectx)
	if err != nil {
		p.logger.Warn("requirement evaluation failed",
			zap.String("type", req.Type),
			zap.Error(err),
		)
		return EvaluationResult{
			RequirementID: req.ResultID(),
			Passed:        false,
			Score:         0,
			Message:       err.Error(),
		}
	}
	return result
}

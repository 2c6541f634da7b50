package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gateflow/gateflow/gate"
	"github.com/gateflow/gateflow/types"
)

// MetricsRecorder receives engine metrics. Satisfied by the internal
// prometheus collector; nil disables metrics.
type MetricsRecorder interface {
	ExecutionStarted()
	ExecutionFinished(workflow, status string, duration time.Duration)
	StepFinished(workflow, kind, status string, duration time.Duration)
	StepRetried(workflow string)
	GateEvaluated(gateID string, passed bool, softScore float64)
}

// EngineConfig tunes the execution engine.
type EngineConfig struct {
	// DefaultStepTimeout applies when neither the step nor the workflow sets
	// a timeout. Zero disables the default.
	DefaultStepTimeout time.Duration `json:"default_step_timeout" yaml:"default_step_timeout"`
	// GlobalStepTimeout is a hard ceiling on any step's effective timeout.
	GlobalStepTimeout time.Duration `json:"global_step_timeout" yaml:"global_step_timeout"`
	// MaxParallelism above 1 lets independent sibling steps run concurrently.
	MaxParallelism int `json:"max_parallelism" yaml:"max_parallelism"`
	// HistoryCapacity bounds the in-memory execution history.
	HistoryCapacity int `json:"history_capacity" yaml:"history_capacity"`
}

// DefaultEngineConfig returns the default engine configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultStepTimeout: 2 * time.Minute,
		GlobalStepTimeout:  10 * time.Minute,
		MaxParallelism:     1,
		HistoryCapacity:    DefaultHistoryCapacity,
	}
}

// Engine orchestrates workflow executions: it walks steps in topological
// order, dispatches them to the step adapter, evaluates attached gates,
// coordinates retries and records execution state.
//
// ExecutionState for a run is mutated only by the engine; Snapshot returns
// consistent copies for concurrent readers. Executions are independent:
// re-running a workflow creates a new execution id and never mutates the
// stored definition.
type Engine struct {
	cfg      EngineConfig
	adapter  StepAdapter
	registry *Registry
	gates    *gate.Catalog
	pipeline *gate.Pipeline
	retry    *RetryCoordinator
	history  *HistoryStore
	archiver HistoryArchiver
	metrics  MetricsRecorder
	events   EventSink
	logger   *zap.Logger
	tracer   trace.Tracer

	mu     sync.RWMutex
	active map[string]*execution
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithGates attaches the gate catalog and pipeline used for step gates.
func WithGates(catalog *gate.Catalog, pipeline *gate.Pipeline) EngineOption {
	return func(e *Engine) {
		e.gates = catalog
		e.pipeline = pipeline
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEventSink attaches an observability sink for lifecycle events.
func WithEventSink(s EventSink) EngineOption {
	return func(e *Engine) { e.events = s }
}

// WithHistoryArchiver archives terminal execution states to external storage.
func WithHistoryArchiver(a HistoryArchiver) EngineOption {
	return func(e *Engine) { e.archiver = a }
}

// NewEngine creates an execution engine.
func NewEngine(cfg EngineConfig, adapter StepAdapter, registry *Registry, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		adapter:  adapter,
		registry: registry,
		retry:    NewRetryCoordinator(logger),
		history:  NewHistoryStore(cfg.HistoryCapacity, logger),
		events:   NopSink{},
		logger:   logger.With(zap.String("component", "execution_engine")),
		tracer:   otel.Tracer("github.com/gateflow/gateflow/workflow"),
		active:   make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the workflow registry the engine executes from.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// History returns the engine's bounded execution history.
func (e *Engine) History() *HistoryStore {
	return e.history
}

// execution is the live run owned by the engine.
type execution struct {
	mu         sync.RWMutex
	state      *ExecutionState
	cancel     context.CancelFunc
	orderIndex map[string]int
}

func (x *execution) update(fn func(*ExecutionState)) {
	x.mu.Lock()
	fn(x.state)
	x.mu.Unlock()
}

func (x *execution) snapshot() *ExecutionState {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.Clone()
}

func (x *execution) setStatus(status ExecutionStatus) {
	x.update(func(s *ExecutionState) { s.Status = status })
}

// completedResults returns the results of all completed steps so far.
func (x *execution) completedResults() map[string]*StepResult {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.state.Results()
}

// Execute runs a registered workflow to a terminal state and returns the
// final execution state. The returned error is non-nil only when the run
// could not start (unknown workflow id); runtime failures are reported
// through the state's status and error fields.
func (e *Engine) Execute(ctx context.Context, workflowID string, inputs map[string]any) (*ExecutionState, error) {
	wf, ok := e.registry.Get(workflowID)
	if !ok {
		return nil, types.Errorf(types.ErrWorkflowNotFound, "workflow %q is not registered", workflowID)
	}

	executionID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ex := &execution{
		state:      newExecutionState(executionID, wf, inputs),
		cancel:     cancel,
		orderIndex: make(map[string]int, len(wf.Steps)),
	}
	for i, id := range ex.state.Order {
		ex.orderIndex[id] = i
	}

	e.mu.Lock()
	e.active[executionID] = ex
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, executionID)
		e.mu.Unlock()
	}()

	runCtx, span := e.tracer.Start(runCtx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.String("execution.id", executionID),
			attribute.Int("workflow.steps", len(wf.Steps)),
		))
	defer span.End()

	if e.metrics != nil {
		e.metrics.ExecutionStarted()
	}
	e.emit(Event{Type: EventExecutionStarted, ExecutionID: executionID, WorkflowID: wf.ID})
	e.logger.Info("execution started",
		zap.String("execution_id", executionID),
		zap.String("workflow_id", wf.ID),
		zap.Int("steps", len(wf.Steps)),
	)

	ex.setStatus(StatusRunning)

	var runErr error
	if e.cfg.MaxParallelism > 1 {
		runErr = e.runParallel(runCtx, wf, ex)
	} else {
		runErr = e.runSequential(runCtx, wf, ex)
	}

	final := e.finish(wf, ex, runErr)
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
	}
	return final, nil
}

// Snapshot returns a consistent copy of an execution's state, live or
// historical.
func (e *Engine) Snapshot(executionID string) (*ExecutionState, bool) {
	e.mu.RLock()
	ex, ok := e.active[executionID]
	e.mu.RUnlock()
	if ok {
		return ex.snapshot(), true
	}
	return e.history.Get(executionID)
}

// Cancel requests cooperative cancellation of a live execution. The request
// takes effect at the next step boundary; an in-flight adapter call receives
// the context cancellation as a best-effort signal.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.RLock()
	ex, ok := e.active[executionID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	ex.cancel()
	return true
}

// EvaluateContent evaluates gates against arbitrary content without a
// workflow run, using the engine's catalog and pipeline.
func (e *Engine) EvaluateContent(ctx context.Context, content string, gateIDs []string, ectx gate.Context) ([]gate.Status, error) {
	if e.gates == nil || e.pipeline == nil {
		return nil, types.NewError(types.ErrInvalidGate, "engine has no gate pipeline configured")
	}
	defs, err := e.gates.Resolve(gateIDs)
	if err != nil {
		return nil, err
	}
	return e.pipeline.EvaluateGates(ctx, content, defs, ectx), nil
}

// runSequential walks the topological order one step at a time.
func (e *Engine) runSequential(ctx context.Context, wf *Workflow, ex *execution) error {
	for i, stepID := range ex.state.Order {
		if err := ctx.Err(); err != nil {
			return types.NewError(types.ErrCancelled, "execution cancelled").WithCause(err)
		}
		ex.update(func(s *ExecutionState) { s.Cursor = i })

		step, ok := wf.StepByID(stepID)
		if !ok {
			return types.Errorf(types.ErrInvalidWorkflow, "step %q missing from workflow", stepID)
		}

		if failedDep := e.failedDependency(ex, step); failedDep != "" {
			e.skipStep(wf, ex, step, failedDep)
			continue
		}
		if err := e.runStep(ctx, wf, ex, step); err != nil {
			return err
		}
	}
	return nil
}

// runParallel executes dependency levels in order, running the steps within
// a level concurrently up to MaxParallelism.
func (e *Engine) runParallel(ctx context.Context, wf *Workflow, ex *execution) error {
	for _, level := range dependencyLevels(wf) {
		if err := ctx.Err(); err != nil {
			return types.NewError(types.ErrCancelled, "execution cancelled").WithCause(err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.cfg.MaxParallelism)

		for _, stepID := range level {
			step, ok := wf.StepByID(stepID)
			if !ok {
				return types.Errorf(types.ErrInvalidWorkflow, "step %q missing from workflow", stepID)
			}
			if failedDep := e.failedDependency(ex, step); failedDep != "" {
				e.skipStep(wf, ex, step, failedDep)
				continue
			}
			ex.update(func(s *ExecutionState) { s.Cursor = ex.orderIndex[step.ID] })
			g.Go(func() error {
				return e.runStep(gctx, wf, ex, step)
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// failedDependency returns the id of a dependency that failed or was
// skipped, or "" when the step may run. All dependencies are guaranteed to
// have reached a terminal outcome before the step is considered.
func (e *Engine) failedDependency(ex *execution, step *Step) string {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	for _, dep := range step.DependsOn {
		outcome := ex.state.Steps[dep]
		if outcome == nil {
			continue
		}
		if outcome.Status == StepFailed || outcome.Status == StepSkipped {
			return dep
		}
	}
	return ""
}

// skipStep records an upstream-failed skip for a step.
func (e *Engine) skipStep(wf *Workflow, ex *execution, step *Step, failedDep string) {
	now := time.Now()
	ex.update(func(s *ExecutionState) {
		outcome := s.Steps[step.ID]
		outcome.Status = StepSkipped
		outcome.Error = fmt.Sprintf("upstream step %q failed", failedDep)
		outcome.ErrorCode = types.ErrUpstreamFailed
		outcome.EndedAt = now
	})
	if e.metrics != nil {
		e.metrics.StepFinished(wf.ID, string(step.Kind), string(StepSkipped), 0)
	}
	e.emit(Event{
		Type:        EventStepSkipped,
		ExecutionID: ex.state.ExecutionID,
		WorkflowID:  wf.ID,
		StepID:      step.ID,
		Error:       fmt.Sprintf("upstream step %q failed", failedDep),
	})
	e.logger.Info("step skipped, upstream failed",
		zap.String("step_id", step.ID),
		zap.String("failed_dependency", failedDep),
	)
}

// runStep drives one step through its attempt loop until it completes, is
// exhausted, or the run is cancelled. A terminal step failure returns an
// error unless the step is best-effort.
func (e *Engine) runStep(ctx context.Context, wf *Workflow, ex *execution, step *Step) error {
	policy := wf.Retry
	if step.Retry != nil {
		policy = *step.Retry
	}

	ctx, span := e.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("step.id", step.ID),
			attribute.String("step.kind", string(step.Kind)),
		))
	defer span.End()

	started := time.Now()
	attempts := 0

	for {
		attempts++
		ex.update(func(s *ExecutionState) {
			s.Status = StatusRunning
			outcome := s.Steps[step.ID]
			outcome.Status = StepRunning
			outcome.Attempts = attempts
			if outcome.StartedAt.IsZero() {
				outcome.StartedAt = started
			}
		})
		e.emit(Event{
			Type:        EventStepStarted,
			ExecutionID: ex.state.ExecutionID,
			WorkflowID:  wf.ID,
			StepID:      step.ID,
			Attempt:     attempts,
		})

		result, failures, gateStatuses, err := e.attempt(ctx, wf, ex, step, attempts)
		if err != nil {
			// Cancellation mid-attempt: record and surface.
			ex.update(func(s *ExecutionState) {
				outcome := s.Steps[step.ID]
				outcome.Status = StepFailed
				outcome.Error = err.Error()
				outcome.ErrorCode = types.GetErrorCode(err)
				outcome.EndedAt = time.Now()
			})
			return err
		}

		if len(gateStatuses) > 0 {
			ex.update(func(s *ExecutionState) {
				s.Steps[step.ID].Gates = gateStatuses
			})
		}

		if len(failures) == 0 {
			duration := time.Since(started)
			ex.update(func(s *ExecutionState) {
				outcome := s.Steps[step.ID]
				outcome.Status = StepCompleted
				outcome.Result = result
				outcome.EndedAt = time.Now()
			})
			if e.metrics != nil {
				e.metrics.StepFinished(wf.ID, string(step.Kind), string(StepCompleted), duration)
			}
			e.emit(Event{
				Type:        EventStepCompleted,
				ExecutionID: ex.state.ExecutionID,
				WorkflowID:  wf.ID,
				StepID:      step.ID,
				Attempt:     attempts,
			})
			e.logger.Debug("step completed",
				zap.String("step_id", step.ID),
				zap.Int("attempts", attempts),
				zap.Duration("duration", duration),
			)
			return nil
		}

		if e.retry.ShouldRetry(failures, policy, attempts) {
			ex.update(func(s *ExecutionState) { s.Status = StatusRetrying })
			if e.metrics != nil {
				e.metrics.StepRetried(wf.ID)
			}
			delay := e.retry.NextDelay(policy, attempts)
			e.emit(Event{
				Type:        EventStepRetrying,
				ExecutionID: ex.state.ExecutionID,
				WorkflowID:  wf.ID,
				StepID:      step.ID,
				Attempt:     attempts,
				Error:       failureSummary(failures),
			})
			e.logger.Info("step retrying",
				zap.String("step_id", step.ID),
				zap.Int("attempt", attempts),
				zap.Duration("delay", delay),
				zap.String("reason", failureSummary(failures)),
			)
			select {
			case <-ctx.Done():
				return types.NewError(types.ErrCancelled, "execution cancelled during backoff").WithCause(ctx.Err())
			case <-time.After(delay):
			}
			continue
		}

		stepErr := stepFailureError(step, failures, attempts)
		duration := time.Since(started)
		ex.update(func(s *ExecutionState) {
			outcome := s.Steps[step.ID]
			outcome.Status = StepFailed
			outcome.Error = stepErr.Error()
			outcome.ErrorCode = types.GetErrorCode(stepErr)
			outcome.EndedAt = time.Now()
		})
		if e.metrics != nil {
			e.metrics.StepFinished(wf.ID, string(step.Kind), string(StepFailed), duration)
		}
		e.emit(Event{
			Type:        EventStepFailed,
			ExecutionID: ex.state.ExecutionID,
			WorkflowID:  wf.ID,
			StepID:      step.ID,
			Attempt:     attempts,
			Error:       stepErr.Error(),
		})
		e.logger.Error("step failed",
			zap.String("step_id", step.ID),
			zap.Int("attempts", attempts),
			zap.Error(stepErr),
		)
		span.SetStatus(codes.Error, stepErr.Error())

		if step.BestEffort {
			e.logger.Warn("best-effort step failed, dependents will be skipped",
				zap.String("step_id", step.ID),
			)
			return nil
		}
		return stepErr
	}
}

// attempt performs a single adapter invocation plus gate evaluation.
// The returned error is non-nil only for cancellation; adapter and gate
// problems come back as failures for the retry decision.
func (e *Engine) attempt(ctx context.Context, wf *Workflow, ex *execution, step *Step, attempt int) (*StepResult, []Failure, []gate.Status, error) {
	stepCtx := ctx
	if timeout := e.effectiveTimeout(wf, step); timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := e.adapter.ExecuteStep(stepCtx, step, ex.completedResults())
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, nil, types.NewError(types.ErrCancelled, "execution cancelled").WithCause(ctx.Err())
		}
		class := FailureExecution
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			class = FailureTimeout
		}
		return nil, []Failure{{Class: class, Err: err}}, nil, nil
	}

	if len(step.Gates) == 0 || e.pipeline == nil || e.gates == nil {
		return result, nil, nil, nil
	}

	ex.setStatus(StatusWaitingOnGate)
	defs, err := e.gates.Resolve(step.Gates)
	if err != nil {
		// Gate ids are validated at registration; a miss here means the
		// catalog changed underneath the run.
		return nil, []Failure{{Class: FailureExecution, Err: err}}, nil, nil
	}

	ectx := gate.Context{
		WorkflowID:  wf.ID,
		ExecutionID: ex.state.ExecutionID,
		StepID:      step.ID,
		Vars:        ex.state.Inputs,
	}
	statuses := e.pipeline.EvaluateGates(ctx, result.Content(), defs, ectx)

	var failures []Failure
	for i := range statuses {
		statuses[i].RetryCount = attempt - 1
		def := defs[i]
		if e.metrics != nil {
			e.metrics.GateEvaluated(def.ID, statuses[i].Passed, statuses[i].SoftScore)
		}
		passed := statuses[i].Passed
		e.emit(Event{
			Type:        EventGateEvaluated,
			ExecutionID: ex.state.ExecutionID,
			WorkflowID:  wf.ID,
			StepID:      step.ID,
			GateID:      def.ID,
			Attempt:     attempt,
			Passed:      &passed,
		})
		if passed {
			continue
		}
		if def.Action() == gate.ActionWarn {
			e.logger.Warn("gate failed with warn action, continuing",
				zap.String("gate_id", def.ID),
				zap.String("step_id", step.ID),
				zap.Strings("hints", statuses[i].Hints()),
			)
			continue
		}
		failures = append(failures, Failure{Class: FailureGate, GateAction: def.Action()})
	}
	return result, failures, statuses, nil
}

// finish records the terminal outcome, archives it and returns the final
// snapshot. Terminal states are final: the history copy is never mutated.
func (e *Engine) finish(wf *Workflow, ex *execution, runErr error) *ExecutionState {
	now := time.Now()
	ex.update(func(s *ExecutionState) {
		s.EndedAt = now
		if runErr != nil {
			s.Status = StatusFailed
			s.Error = runErr.Error()
			s.ErrorCode = types.GetErrorCode(runErr)
			return
		}
		// A run with a failed best-effort step still counts as failed
		// overall, with completed upstream results preserved.
		s.Status = StatusCompleted
		for _, outcome := range s.Steps {
			if outcome.Status == StepFailed || outcome.Status == StepSkipped {
				s.Status = StatusFailed
				if s.Error == "" {
					s.Error = fmt.Sprintf("step %q did not complete", outcome.StepID)
					s.ErrorCode = types.ErrExecutionFailed
				}
			}
		}
	})

	final := ex.snapshot()
	e.history.Add(final)

	if e.archiver != nil {
		// Fire and forget: archiving must never block or fail the run.
		go func(state *ExecutionState) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.archiver.Archive(ctx, state); err != nil {
				e.logger.Warn("history archive failed",
					zap.String("execution_id", state.ExecutionID),
					zap.Error(err),
				)
			}
		}(final)
	}

	duration := final.EndedAt.Sub(final.StartedAt)
	if e.metrics != nil {
		e.metrics.ExecutionFinished(wf.ID, string(final.Status), duration)
	}
	e.emit(Event{
		Type:        EventExecutionFinished,
		ExecutionID: final.ExecutionID,
		WorkflowID:  wf.ID,
		Error:       final.Error,
	})
	e.logger.Info("execution finished",
		zap.String("execution_id", final.ExecutionID),
		zap.String("workflow_id", wf.ID),
		zap.String("status", string(final.Status)),
		zap.Duration("duration", duration),
	)
	return final
}

// effectiveTimeout resolves the step timeout: step override, else workflow
// default, else engine default, always capped by the global ceiling.
func (e *Engine) effectiveTimeout(wf *Workflow, step *Step) time.Duration {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = wf.StepTimeout
	}
	if timeout <= 0 {
		timeout = e.cfg.DefaultStepTimeout
	}
	if ceiling := e.cfg.GlobalStepTimeout; ceiling > 0 && (timeout <= 0 || timeout > ceiling) {
		timeout = ceiling
	}
	return timeout
}

func (e *Engine) emit(ev Event) {
	ev.Timestamp = time.Now()
	e.events.Emit(ev)
}

// stepFailureError converts a step's terminal failures into a typed error.
func stepFailureError(step *Step, failures []Failure, attempts int) error {
	primary := failures[0]
	switch primary.Class {
	case FailureGate:
		return types.Errorf(types.ErrGateFailed,
			"step %q failed gate validation after %d attempts", step.ID, attempts).WithStep(step.ID)
	case FailureTimeout:
		return types.Errorf(types.ErrStepTimeout,
			"step %q timed out after %d attempts", step.ID, attempts).
			WithStep(step.ID).WithCause(primary.Err)
	default:
		return types.Errorf(types.ErrStepFailed,
			"step %q failed after %d attempts", step.ID, attempts).
			WithStep(step.ID).WithCause(primary.Err)
	}
}

// failureSummary renders failures for logs and events.
func failureSummary(failures []Failure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		if f.Err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", f.Class, f.Err))
		} else {
			parts = append(parts, string(f.Class))
		}
	}
	return strings.Join(parts, "; ")
}

// dependencyLevels groups step ids by dependency depth: level n steps depend
// only on steps in levels < n. Within a level, topological (declaration)
// order is preserved.
func dependencyLevels(wf *Workflow) [][]string {
	depth := make(map[string]int, len(wf.Steps))
	for _, id := range wf.Order() {
		step, _ := wf.StepByID(id)
		d := 0
		for _, dep := range step.DependsOn {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
	}
	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]string, maxDepth+1)
	for _, id := range wf.Order() {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

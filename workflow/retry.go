package workflow

import (
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/gateflow/gateflow/gate"
)

// BackoffStrategy selects how retry delays grow across attempts.
type BackoffStrategy string

const (
	// BackoffFixed waits the base delay between every attempt.
	BackoffFixed BackoffStrategy = "fixed"
	// BackoffLinear waits base * attempt.
	BackoffLinear BackoffStrategy = "linear"
	// BackoffExponential waits base * 2^(attempt-1), capped at the ceiling.
	BackoffExponential BackoffStrategy = "exponential"
)

// FailureClass classifies a step failure for retry decisions.
type FailureClass string

const (
	// FailureExecution is a step adapter error.
	FailureExecution FailureClass = "execution"
	// FailureTimeout is an expired step timeout.
	FailureTimeout FailureClass = "timeout"
	// FailureGate is a failed required gate.
	FailureGate FailureClass = "gate"
)

// Failure describes one reason a step attempt did not succeed.
type Failure struct {
	// Class identifies the failure family.
	Class FailureClass
	// Err is the underlying error for execution failures.
	Err error
	// GateAction is the failing gate's failure action for gate failures.
	GateAction gate.FailureAction
}

// RetryPolicy bounds how a failed step may be retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
	// Backoff selects the delay growth strategy.
	Backoff BackoffStrategy `json:"backoff" yaml:"backoff"`
	// BaseDelay is the starting delay between attempts.
	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay"`
	// MaxDelay caps the delay for linear and exponential growth.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`
	// Jitter adds random variance to delays to avoid retry stampedes.
	Jitter bool `json:"jitter" yaml:"jitter"`
	// RetryableClasses lists the failure classes that may retry.
	// Gate failures are always retryable unless the gate's failure action
	// says otherwise, regardless of this list.
	RetryableClasses []FailureClass `json:"retryable_classes" yaml:"retryable_classes"`
}

// DefaultRetryPolicy returns the engine-wide default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     BackoffExponential,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		RetryableClasses: []FailureClass{
			FailureExecution,
			FailureTimeout,
		},
	}
}

// normalized returns a copy with zero values replaced by safe defaults.
func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Backoff == "" {
		p.Backoff = BackoffFixed
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// RetryCoordinator decides whether failed steps may retry and how long to
// wait before the next attempt. Retry budgets are per step: the coordinator
// is stateless and the engine tracks attempt counters per step id.
type RetryCoordinator struct {
	logger *zap.Logger
}

// NewRetryCoordinator creates a retry coordinator.
func NewRetryCoordinator(logger *zap.Logger) *RetryCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryCoordinator{
		logger: logger.With(zap.String("component", "retry_coordinator")),
	}
}

// ShouldRetry reports whether a step that has already made attemptsSoFar
// attempts may try again under the policy, given the failures from the last
// attempt. At least one failure must be retryable: execution and timeout
// failures per the policy's retryable classes, gate failures always unless
// the gate's failure action is fail.
func (c *RetryCoordinator) ShouldRetry(failures []Failure, policy RetryPolicy, attemptsSoFar int) bool {
	policy = policy.normalized()
	if attemptsSoFar >= policy.MaxAttempts {
		return false
	}
	for _, f := range failures {
		if c.retryable(f, policy) {
			return true
		}
	}
	return false
}

func (c *RetryCoordinator) retryable(f Failure, policy RetryPolicy) bool {
	if f.Class == FailureGate {
		return f.GateAction != gate.ActionFail
	}
	for _, class := range policy.RetryableClasses {
		if f.Class == class {
			return true
		}
	}
	return false
}

// NextDelay returns the wait before the given attempt number (1-based, i.e.
// attempt 1 is the first retry). Delays never exceed the policy ceiling.
func (c *RetryCoordinator) NextDelay(policy RetryPolicy, attempt int) time.Duration {
	policy = policy.normalized()
	if attempt < 1 {
		attempt = 1
	}

	var delay float64
	switch policy.Backoff {
	case BackoffLinear:
		delay = float64(policy.BaseDelay) * float64(attempt)
	case BackoffExponential:
		delay = float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1))
	default:
		delay = float64(policy.BaseDelay)
	}

	if delay > float64(policy.MaxDelay) {
		delay = float64(policy.MaxDelay)
	}

	// ±25% jitter to avoid synchronized retries
	if policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}

package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/gateflow/gateflow/gate"
)

// ---------------------------------------------------------------------------
// ShouldRetry
// ---------------------------------------------------------------------------

func TestRetryCoordinator_ShouldRetry(t *testing.T) {
	t.Parallel()
	c := NewRetryCoordinator(zap.NewNop())
	execFailure := []Failure{{Class: FailureExecution, Err: errors.New("boom")}}

	tests := []struct {
		name     string
		failures []Failure
		policy   RetryPolicy
		attempts int
		want     bool
	}{
		{
			name:     "budget remaining",
			failures: execFailure,
			policy:   RetryPolicy{MaxAttempts: 3, RetryableClasses: []FailureClass{FailureExecution}},
			attempts: 1,
			want:     true,
		},
		{
			name:     "budget exhausted",
			failures: execFailure,
			policy:   RetryPolicy{MaxAttempts: 3, RetryableClasses: []FailureClass{FailureExecution}},
			attempts: 3,
			want:     false,
		},
		{
			name:     "attempts beyond budget",
			failures: execFailure,
			policy:   RetryPolicy{MaxAttempts: 2, RetryableClasses: []FailureClass{FailureExecution}},
			attempts: 5,
			want:     false,
		},
		{
			name:     "class not retryable",
			failures: execFailure,
			policy:   RetryPolicy{MaxAttempts: 3, RetryableClasses: []FailureClass{FailureTimeout}},
			attempts: 1,
			want:     false,
		},
		{
			name:     "timeout retryable",
			failures: []Failure{{Class: FailureTimeout}},
			policy:   RetryPolicy{MaxAttempts: 3, RetryableClasses: []FailureClass{FailureTimeout}},
			attempts: 1,
			want:     true,
		},
		{
			name:     "gate failure retryable regardless of classes",
			failures: []Failure{{Class: FailureGate, GateAction: gate.ActionRetry}},
			policy:   RetryPolicy{MaxAttempts: 3, RetryableClasses: []FailureClass{FailureExecution}},
			attempts: 1,
			want:     true,
		},
		{
			name:     "gate failure with fail action never retries",
			failures: []Failure{{Class: FailureGate, GateAction: gate.ActionFail}},
			policy:   RetryPolicy{MaxAttempts: 10},
			attempts: 1,
			want:     false,
		},
		{
			name:     "one retryable failure among several is enough",
			failures: []Failure{{Class: FailureGate, GateAction: gate.ActionFail}, execFailure[0]},
			policy:   RetryPolicy{MaxAttempts: 3, RetryableClasses: []FailureClass{FailureExecution}},
			attempts: 1,
			want:     true,
		},
		{
			name:     "no failures",
			failures: nil,
			policy:   RetryPolicy{MaxAttempts: 3, RetryableClasses: []FailureClass{FailureExecution}},
			attempts: 1,
			want:     false,
		},
		{
			name:     "zero max attempts normalizes to one",
			failures: execFailure,
			policy:   RetryPolicy{RetryableClasses: []FailureClass{FailureExecution}},
			attempts: 1,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.ShouldRetry(tt.failures, tt.policy, tt.attempts))
		})
	}
}

// ---------------------------------------------------------------------------
// NextDelay
// ---------------------------------------------------------------------------

func TestRetryCoordinator_NextDelay_Fixed(t *testing.T) {
	t.Parallel()
	c := NewRetryCoordinator(zap.NewNop())
	policy := RetryPolicy{Backoff: BackoffFixed, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}

	assert.Equal(t, 2*time.Second, c.NextDelay(policy, 1))
	assert.Equal(t, 2*time.Second, c.NextDelay(policy, 5))
}

func TestRetryCoordinator_NextDelay_Linear(t *testing.T) {
	t.Parallel()
	c := NewRetryCoordinator(zap.NewNop())
	policy := RetryPolicy{Backoff: BackoffLinear, BaseDelay: time.Second, MaxDelay: time.Minute}

	assert.Equal(t, 1*time.Second, c.NextDelay(policy, 1))
	assert.Equal(t, 2*time.Second, c.NextDelay(policy, 2))
	assert.Equal(t, 3*time.Second, c.NextDelay(policy, 3))
}

func TestRetryCoordinator_NextDelay_Exponential(t *testing.T) {
	t.Parallel()
	c := NewRetryCoordinator(zap.NewNop())
	policy := RetryPolicy{Backoff: BackoffExponential, BaseDelay: time.Second, MaxDelay: time.Minute}

	assert.Equal(t, 1*time.Second, c.NextDelay(policy, 1))
	assert.Equal(t, 2*time.Second, c.NextDelay(policy, 2))
	assert.Equal(t, 4*time.Second, c.NextDelay(policy, 3))
	assert.Equal(t, 8*time.Second, c.NextDelay(policy, 4))
}

func TestRetryCoordinator_NextDelay_CappedAtMaxDelay(t *testing.T) {
	t.Parallel()
	c := NewRetryCoordinator(zap.NewNop())
	policy := RetryPolicy{Backoff: BackoffExponential, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	assert.Equal(t, 5*time.Second, c.NextDelay(policy, 10))
	assert.Equal(t, 5*time.Second, c.NextDelay(policy, 60))
}

func TestRetryCoordinator_NextDelay_InvalidAttemptClamped(t *testing.T) {
	t.Parallel()
	c := NewRetryCoordinator(zap.NewNop())
	policy := RetryPolicy{Backoff: BackoffLinear, BaseDelay: time.Second, MaxDelay: time.Minute}

	assert.Equal(t, time.Second, c.NextDelay(policy, 0))
	assert.Equal(t, time.Second, c.NextDelay(policy, -3))
}

func TestRetryCoordinator_NextDelay_JitterStaysInBounds(t *testing.T) {
	t.Parallel()
	c := NewRetryCoordinator(zap.NewNop())
	policy := RetryPolicy{Backoff: BackoffFixed, BaseDelay: 4 * time.Second, MaxDelay: time.Minute, Jitter: true}

	for i := 0; i < 200; i++ {
		delay := c.NextDelay(policy, 1)
		assert.GreaterOrEqual(t, delay, 3*time.Second)
		assert.LessOrEqual(t, delay, 5*time.Second)
	}
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestRetryDelayMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		policy := RetryPolicy{
			Backoff:   BackoffExponential,
			BaseDelay: time.Duration(rapid.IntRange(1, 5000).Draw(t, "base")) * time.Millisecond,
			MaxDelay:  time.Duration(rapid.IntRange(1, 300).Draw(t, "max")) * time.Second,
		}
		c := NewRetryCoordinator(zap.NewNop())

		prev := time.Duration(0)
		for attempt := 1; attempt <= 20; attempt++ {
			delay := c.NextDelay(policy, attempt)
			if delay < prev {
				t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, delay, prev)
			}
			if delay > policy.MaxDelay {
				t.Fatalf("delay %v exceeds ceiling %v", delay, policy.MaxDelay)
			}
			prev = delay
		}
	})
}

func TestRetryBudgetNeverExceeded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxAttempts := rapid.IntRange(1, 10).Draw(t, "maxAttempts")
		attempts := rapid.IntRange(0, 30).Draw(t, "attempts")
		policy := RetryPolicy{
			MaxAttempts:      maxAttempts,
			RetryableClasses: []FailureClass{FailureExecution, FailureTimeout},
		}
		c := NewRetryCoordinator(zap.NewNop())
		failures := []Failure{{Class: FailureExecution, Err: errors.New("transient")}}

		got := c.ShouldRetry(failures, policy, attempts)
		if attempts >= maxAttempts && got {
			t.Fatalf("retry allowed at %d attempts with budget %d", attempts, maxAttempts)
		}
		if attempts < maxAttempts && !got {
			t.Fatalf("retry denied at %d attempts with budget %d", attempts, maxAttempts)
		}
	})
}

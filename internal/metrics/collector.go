// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the engine's prometheus metrics.
type Collector struct {
	// execution metrics
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	activeExecutions  prometheus.Gauge

	// step metrics
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepRetries  *prometheus.CounterVec

	// gate metrics
	gateEvaluationsTotal *prometheus.CounterVec
	gateSoftScore        *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector registering its metrics under the given
// namespace on the default registerer.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"workflow", "status"},
	)

	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	c.activeExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_active_executions",
			Help:      "Number of executions currently in flight",
		},
	)

	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Total number of step outcomes by status",
		},
		[]string{"workflow", "kind", "status"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Step duration in seconds, including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"workflow", "kind"},
	)

	c.stepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_retries_total",
			Help:      "Total number of step retry attempts",
		},
		[]string{"workflow"},
	)

	c.gateEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_evaluations_total",
			Help:      "Total number of gate evaluations by result",
		},
		[]string{"gate", "result"},
	)

	c.gateSoftScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gate_soft_score",
			Help:      "Weighted soft score of gate evaluations",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"gate"},
	)

	return c
}

// ExecutionStarted records the start of an execution.
func (c *Collector) ExecutionStarted() {
	c.activeExecutions.Inc()
}

// ExecutionFinished records a terminal execution outcome.
func (c *Collector) ExecutionFinished(workflow, status string, duration time.Duration) {
	c.activeExecutions.Dec()
	c.executionsTotal.WithLabelValues(workflow, status).Inc()
	c.executionDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// StepFinished records a terminal step outcome.
func (c *Collector) StepFinished(workflow, kind, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(workflow, kind, status).Inc()
	c.stepDuration.WithLabelValues(workflow, kind).Observe(duration.Seconds())
}

// StepRetried records one retry attempt.
func (c *Collector) StepRetried(workflow string) {
	c.stepRetries.WithLabelValues(workflow).Inc()
}

// GateEvaluated records a gate evaluation outcome.
func (c *Collector) GateEvaluated(gateID string, passed bool, softScore float64) {
	result := "failed"
	if passed {
		result = "passed"
	}
	c.gateEvaluationsTotal.WithLabelValues(gateID, result).Inc()
	c.gateSoftScore.WithLabelValues(gateID).Observe(softScore)
}

package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Saga counters
	SagasStarted   *telemetry.Counter
	SagaResults    *telemetry.Counter
	RetryAttempts  *telemetry.Counter
	OrdersAccepted *telemetry.Counter

	// Compensation counters
	CompensationSteps *telemetry.Counter

	// Error tracking counters
	ErrorsTotal *telemetry.Counter

	// Histograms
	StepDuration    *telemetry.Histogram
	SagaDuration    *telemetry.Histogram
	RequestDuration *telemetry.Histogram

	// Gauges
	ActiveExecutions  *telemetry.UpDownCounter
	StreamSubscribers *telemetry.UpDownCounter

	initOnce sync.Once
	initErr  error
)

// Init initializes all saga metrics
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	var err error

	SagasStarted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_executions_started_total",
		Description: "Total number of saga executions started",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	SagaResults, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_executions_finished_total",
		Description: "Total number of saga executions finished, by result",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	RetryAttempts, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_retry_attempts_total",
		Description: "Total number of saga retry attempts, by outcome",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	OrdersAccepted, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "orders_accepted_total",
		Description: "Total number of orders accepted for processing",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	CompensationSteps, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_compensation_steps_total",
		Description: "Total number of step compensations, by step and result",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	ErrorsTotal, err = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "saga_errors_total",
		Description: "Total number of errors by type and operation",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	// Step calls cover remote collaborators with internal retries
	StepDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "saga_step_duration_seconds",
		Description: "Duration of one saga step execution",
		Unit:        "s",
	}, []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120})
	if err != nil {
		return err
	}

	SagaDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "saga_execution_duration_seconds",
		Description: "End-to-end duration of one saga execution",
		Unit:        "s",
	}, []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300})
	if err != nil {
		return err
	}

	RequestDuration, err = telemetry.NewHistogramWithBuckets(telemetry.MetricOpts{
		Name:        "saga_request_duration_seconds",
		Description: "HTTP request duration in seconds",
		Unit:        "s",
	}, []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10})
	if err != nil {
		return err
	}

	ActiveExecutions, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "saga_active_executions",
		Description: "Current number of in-flight saga executions",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	StreamSubscribers, err = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "saga_stream_subscribers",
		Description: "Current number of progress stream subscribers",
		Unit:        "1",
	})
	if err != nil {
		return err
	}

	return nil
}

// RecordOrderAccepted records an accepted order
func RecordOrderAccepted(ctx context.Context) {
	if OrdersAccepted != nil {
		OrdersAccepted.Inc(ctx)
	}
	if SagasStarted != nil {
		SagasStarted.Inc(ctx)
	}
}

// RecordSagaResult records a finished execution by result
// (success, compensated, failed, compensation_failed)
func RecordSagaResult(ctx context.Context, result string) {
	if SagaResults != nil {
		SagaResults.Inc(ctx,
			attribute.String("result", result),
		)
	}
}

// RecordSagaDuration records the end-to-end execution duration
func RecordSagaDuration(ctx context.Context, result string, duration time.Duration) {
	if SagaDuration != nil {
		SagaDuration.Record(ctx, duration.Seconds(),
			attribute.String("result", result),
		)
	}
}

// RecordStepDuration records one step execution by outcome
func RecordStepDuration(ctx context.Context, stepName, outcome string, duration time.Duration) {
	if StepDuration != nil {
		StepDuration.Record(ctx, duration.Seconds(),
			attribute.String("step", stepName),
			attribute.String("outcome", outcome),
		)
	}
}

// RecordCompensationStep records one step compensation
func RecordCompensationStep(ctx context.Context, stepName string, success bool) {
	if CompensationSteps != nil {
		CompensationSteps.Inc(ctx,
			attribute.String("step", stepName),
			attribute.Bool("success", success),
		)
	}
}

// RecordRetryAttempt records a retry attempt by outcome
// (accepted, success, failed, not_eligible)
func RecordRetryAttempt(ctx context.Context, outcome string) {
	if RetryAttempts != nil {
		RetryAttempts.Inc(ctx,
			attribute.String("outcome", outcome),
		)
	}
}

// RecordError records an error by type and operation
func RecordError(ctx context.Context, errorType, operation string) {
	if ErrorsTotal != nil {
		ErrorsTotal.Inc(ctx,
			attribute.String("error_type", errorType),
			attribute.String("operation", operation),
		)
	}
}

// RecordRequestDuration records HTTP request duration
func RecordRequestDuration(ctx context.Context, operation string, durationSeconds float64) {
	if RequestDuration != nil {
		RequestDuration.Record(ctx, durationSeconds,
			attribute.String("operation", operation),
		)
	}
}

// IncActiveExecutions marks an execution in flight
func IncActiveExecutions(ctx context.Context) {
	if ActiveExecutions != nil {
		ActiveExecutions.Inc(ctx)
	}
}

// DecActiveExecutions marks an execution finished
func DecActiveExecutions(ctx context.Context) {
	if ActiveExecutions != nil {
		ActiveExecutions.Dec(ctx)
	}
}

// IncStreamSubscribers marks a progress stream subscriber attached
func IncStreamSubscribers(ctx context.Context) {
	if StreamSubscribers != nil {
		StreamSubscribers.Inc(ctx)
	}
}

// DecStreamSubscribers marks a progress stream subscriber detached
func DecStreamSubscribers(ctx context.Context) {
	if StreamSubscribers != nil {
		StreamSubscribers.Dec(ctx)
	}
}

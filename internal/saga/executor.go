package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/metrics"
	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// cancelledEffectUnknown is recorded when the orchestration task is cancelled
// while a step call may already have taken effect remotely
const cancelledEffectUnknown = "cancelled - effect unknown"

// StepOutcome is the result of executing (or skipping) one step
type StepOutcome struct {
	StepName     string
	StepIndex    int // 0-based
	StepResultID string
	Success      bool
	Skipped      bool
	ErrorCode    string
	ErrorMessage string
	Duration     time.Duration
}

// StepExecutor drives the persisted lifecycle of a single step: step row
// transitions, the remote call with its deadline, and the step events.
type StepExecutor struct {
	store        repository.Store
	recorder     *EventRecorder
	logger       Logger
	totalTimeout time.Duration
}

// NewStepExecutor creates a step executor. totalTimeout bounds one step's
// execute call including the collaborator client's internal retries.
func NewStepExecutor(store repository.Store, recorder *EventRecorder, logger Logger, totalTimeout time.Duration) *StepExecutor {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &StepExecutor{store: store, recorder: recorder, logger: logger, totalTimeout: totalTimeout}
}

// ExecuteOne runs one step against the saga context and persists its
// lifecycle. Business failures and faults are reported in the outcome; an
// error return means the store itself failed.
func (e *StepExecutor) ExecuteOne(ctx context.Context, step Step, sctx *Context) (*StepOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.step."+step.Name())
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", sctx.Order.ID),
		attribute.String("execution_id", sctx.ExecutionID),
		attribute.Int("step_order", step.Order()),
	)

	row, err := e.store.StartStep(ctx, sctx.ExecutionID, step.Name(), step.Order())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to start step %s: %w", step.Name(), err)
	}

	e.recorder.Record(ctx, &domain.OrderEvent{
		OrderID:   sctx.Order.ID,
		EventType: domain.EventStepStarted,
		StepName:  step.Name(),
	})

	started := time.Now()
	result := e.invoke(ctx, step, sctx)
	duration := time.Since(started)

	outcome := &StepOutcome{
		StepName:     step.Name(),
		StepIndex:    step.Order() - 1,
		StepResultID: row.ID,
		Success:      result.Success,
		ErrorCode:    result.ErrorCode,
		ErrorMessage: result.ErrorMessage,
		Duration:     duration,
	}

	if result.Success {
		sctx.Merge(result.Data)
		if err := e.store.CompleteStep(ctx, row.ID, result.Data, time.Now()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to complete step %s: %w", step.Name(), err)
		}
		e.recorder.Record(ctx, &domain.OrderEvent{
			OrderID:   sctx.Order.ID,
			EventType: domain.EventStepCompleted,
			StepName:  step.Name(),
			Outcome:   "SUCCESS",
			Details:   result.Data,
		})
		metrics.RecordStepDuration(ctx, step.Name(), "success", duration)
		span.SetStatus(codes.Ok, "")
		return outcome, nil
	}

	// The FAILED record must land even when the failure is the caller's own
	// cancellation; compensation planning reads it
	persistCtx := ctx
	if ctx.Err() != nil {
		persistCtx = context.WithoutCancel(ctx)
	}
	if err := e.store.FailStepAndExecution(persistCtx, row.ID, sctx.ExecutionID, outcome.StepIndex, result.ErrorMessage, time.Now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to record step failure for %s: %w", step.Name(), err)
	}
	e.recorder.Record(persistCtx, &domain.OrderEvent{
		OrderID:      sctx.Order.ID,
		EventType:    domain.EventStepFailed,
		StepName:     step.Name(),
		Outcome:      "FAILED",
		ErrorCode:    result.ErrorCode,
		ErrorMessage: result.ErrorMessage,
	})
	metrics.RecordStepDuration(persistCtx, step.Name(), "failed", duration)

	e.logger.WarnContext(ctx, "saga step failed",
		"order_id", sctx.Order.ID,
		"execution_id", sctx.ExecutionID,
		"step", step.Name(),
		"error_code", result.ErrorCode,
		"error_message", result.ErrorMessage)

	span.SetStatus(codes.Error, result.ErrorMessage)
	return outcome, nil
}

// invoke runs the step's Execute under the step deadline, converting panics
// and cancellation into failed results
func (e *StepExecutor) invoke(ctx context.Context, step Step, sctx *Context) (result *ExecuteResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "saga step panicked",
				"step", step.Name(),
				"order_id", sctx.Order.ID,
				"panic", r)
			result = failure(domain.ErrCodeTransient, fmt.Sprintf("Unexpected error: %v", r))
		}
	}()

	stepCtx := ctx
	if e.totalTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, e.totalTimeout)
		defer cancel()
	}

	result = step.Execute(stepCtx, sctx)
	if result == nil {
		return failure(domain.ErrCodeTransient, "Unexpected error: step returned no result")
	}
	// Parent cancellation mid-call: the remote effect may or may not exist,
	// record that honestly so compensation still runs
	if !result.Success && ctx.Err() != nil {
		return failure(domain.ErrCodeTransient, cancelledEffectUnknown)
	}
	return result
}

// SkipOne records a SKIPPED step row carrying the stored data of the prior
// execution's result. No collaborator call is made.
func (e *StepExecutor) SkipOne(ctx context.Context, step Step, sctx *Context, carriedData map[string]string) (*StepOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.step.skip."+step.Name())
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", sctx.Order.ID),
		attribute.String("execution_id", sctx.ExecutionID),
	)

	row, err := e.store.InsertSkippedStep(ctx, sctx.ExecutionID, step.Name(), step.Order(), carriedData, time.Now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to record skipped step %s: %w", step.Name(), err)
	}

	e.recorder.Record(ctx, &domain.OrderEvent{
		OrderID:   sctx.Order.ID,
		EventType: domain.EventStepSkipped,
		StepName:  step.Name(),
		Outcome:   "SKIPPED",
		Details:   carriedData,
	})

	span.SetStatus(codes.Ok, "")
	return &StepOutcome{
		StepName:     step.Name(),
		StepIndex:    step.Order() - 1,
		StepResultID: row.ID,
		Success:      true,
		Skipped:      true,
	}, nil
}

package saga

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/metrics"
	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ResultStatus is the terminal status of one saga run
type ResultStatus string

const (
	ResultSuccess     ResultStatus = "SUCCESS"
	ResultFailed      ResultStatus = "FAILED"
	ResultCompensated ResultStatus = "COMPENSATED"
)

// Result is the outcome of driving an order through the step sequence
type Result struct {
	Status              ResultStatus
	OrderID             string
	ExecutionID         string
	ConfirmationNumber  string
	TotalChargedInCents int64
	TrackingNumber      string
	EstimatedDelivery   string
	FailedStep          string
	ErrorCode           string
	Reason              string
	CompensatedSteps    []string
	FailedCompensations []string
}

// SkipPredicate decides whether a step is skipped during a resumed run
type SkipPredicate func(stepName string) bool

// Orchestrator drives one order through the registered steps, compensating
// the completed prefix when a step fails. One orchestration task runs per
// execution; all step and store calls happen serially from it.
type Orchestrator struct {
	registry    *Registry
	store       repository.Store
	executor    *StepExecutor
	compensator *Compensator
	recorder    *EventRecorder
	logger      Logger
}

// NewOrchestrator creates a saga orchestrator
func NewOrchestrator(registry *Registry, store repository.Store, executor *StepExecutor, compensator *Compensator, recorder *EventRecorder, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Orchestrator{
		registry:    registry,
		store:       store,
		executor:    executor,
		compensator: compensator,
		recorder:    recorder,
		logger:      logger,
	}
}

// Execute runs a fresh saga for the order: creates the execution (moving the
// order to PROCESSING) and walks every step from the start.
func (o *Orchestrator) Execute(ctx context.Context, order *domain.Order) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.execute")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", order.ID))

	execution := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now(),
	}
	if err := o.store.CreateExecution(ctx, execution); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	sctx := NewContext(order, execution.ID)
	o.recorder.Record(ctx, &domain.OrderEvent{
		OrderID:   order.ID,
		EventType: domain.EventSagaStarted,
		Details:   map[string]string{"execution_id": execution.ID},
	})

	result, err := o.run(ctx, sctx, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("result", string(result.Status)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Resume runs a retry execution that the caller has already created,
// skipping steps the plan proved still valid. The context must carry the
// imported data of the prior execution.
func (o *Orchestrator) Resume(ctx context.Context, sctx *Context, plan *domain.ResumePlan, carried map[string]map[string]string, attemptNumber int) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.resume")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", sctx.Order.ID),
		attribute.String("execution_id", sctx.ExecutionID),
		attribute.Int("attempt_number", attemptNumber),
		attribute.String("resume_step", plan.ResumeStepName),
	)

	o.recorder.Record(ctx, &domain.OrderEvent{
		OrderID:   sctx.Order.ID,
		EventType: domain.EventSagaStarted,
		Details: map[string]string{
			"execution_id":   sctx.ExecutionID,
			"attempt_number": strconv.Itoa(attemptNumber),
			"resumed_from":   plan.ResumeStepName,
		},
	})

	skip := func(stepName string) bool { return plan.ShouldSkip(stepName) }
	result, err := o.run(ctx, sctx, skip, carried)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("result", string(result.Status)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// run walks the step sequence. Skipped steps never join the completed
// prefix: their side effects belong to an earlier execution and were proven
// still valid, not produced here.
func (o *Orchestrator) run(ctx context.Context, sctx *Context, skip SkipPredicate, carried map[string]map[string]string) (*Result, error) {
	metrics.IncActiveExecutions(ctx)
	defer metrics.DecActiveExecutions(ctx)

	order := sctx.Order
	var completed []*domain.SagaStepResult

	for _, step := range o.registry.OrderedSteps() {
		if skip != nil && skip(step.Name()) {
			// A later failure compensates only rows this execution
			// completed; a skipped row's effect stays with the execution
			// that produced it. Relaxing the skip rules means revisiting
			// this boundary.
			if _, err := o.executor.SkipOne(ctx, step, sctx, carried[step.Name()]); err != nil {
				return nil, err
			}
			continue
		}

		outcome, err := o.executor.ExecuteOne(ctx, step, sctx)
		if err != nil {
			return nil, err
		}
		if outcome.Success {
			completed = append(completed, &domain.SagaStepResult{
				ID:          outcome.StepResultID,
				ExecutionID: sctx.ExecutionID,
				StepName:    outcome.StepName,
				StepOrder:   step.Order(),
			})
			continue
		}
		// Failure records and the compensation sweep must outlive the
		// caller's cancellation
		if ctx.Err() != nil {
			ctx = context.WithoutCancel(ctx)
		}
		return o.handleFailure(ctx, sctx, completed, outcome)
	}

	if err := o.store.CompleteExecution(ctx, sctx.ExecutionID, order.ID, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to complete execution: %w", err)
	}

	confirmation := confirmationNumber(order.ID)
	o.recorder.Record(ctx, &domain.OrderEvent{
		OrderID:   order.ID,
		EventType: domain.EventSagaCompleted,
		Outcome:   "SUCCESS",
		Details: map[string]string{
			"confirmation_number": confirmation,
			"tracking_number":     sctx.Get(KeyTrackingNumber),
			"estimated_delivery":  sctx.Get(KeyEstimatedDelivery),
		},
	})
	metrics.RecordSagaResult(ctx, "success")

	o.logger.InfoContext(ctx, "saga completed",
		"order_id", order.ID,
		"execution_id", sctx.ExecutionID,
		"confirmation_number", confirmation)

	return &Result{
		Status:              ResultSuccess,
		OrderID:             order.ID,
		ExecutionID:         sctx.ExecutionID,
		ConfirmationNumber:  confirmation,
		TotalChargedInCents: order.TotalAmountInCents,
		TrackingNumber:      sctx.Get(KeyTrackingNumber),
		EstimatedDelivery:   sctx.Get(KeyEstimatedDelivery),
	}, nil
}

// handleFailure finishes a run whose step failed: an empty completed prefix
// fails the order outright, otherwise the prefix is compensated in reverse.
func (o *Orchestrator) handleFailure(ctx context.Context, sctx *Context, completed []*domain.SagaStepResult, outcome *StepOutcome) (*Result, error) {
	order := sctx.Order

	if len(completed) == 0 {
		if err := o.store.UpdateOrderStatus(ctx, order.ID, domain.OrderStatusFailed); err != nil {
			return nil, fmt.Errorf("failed to mark order failed: %w", err)
		}
		o.recorder.Record(ctx, &domain.OrderEvent{
			OrderID:      order.ID,
			EventType:    domain.EventSagaFailed,
			StepName:     outcome.StepName,
			Outcome:      "FAILED",
			ErrorCode:    outcome.ErrorCode,
			ErrorMessage: outcome.ErrorMessage,
		})
		metrics.RecordSagaResult(ctx, "failed")
		return &Result{
			Status:      ResultFailed,
			OrderID:     order.ID,
			ExecutionID: sctx.ExecutionID,
			FailedStep:  outcome.StepName,
			ErrorCode:   outcome.ErrorCode,
			Reason:      outcome.ErrorMessage,
		}, nil
	}

	compOutcome, err := o.compensator.Compensate(ctx, &CompensationRequest{
		SagaCtx:        sctx,
		ExecutionID:    sctx.ExecutionID,
		OrderID:        order.ID,
		CompletedSteps: completed,
		FailedStep:     outcome.StepName,
		FailureReason:  outcome.ErrorMessage,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		OrderID:             order.ID,
		ExecutionID:         sctx.ExecutionID,
		FailedStep:          outcome.StepName,
		ErrorCode:           outcome.ErrorCode,
		Reason:              outcome.ErrorMessage,
		CompensatedSteps:    compOutcome.CompensatedSteps,
		FailedCompensations: compOutcome.FailedCompensations,
	}
	if compOutcome.AllSucceeded {
		result.Status = ResultCompensated
		metrics.RecordSagaResult(ctx, "compensated")
	} else {
		result.Status = ResultFailed
		metrics.RecordSagaResult(ctx, "compensation_failed")
	}
	return result, nil
}

// confirmationNumber derives a stable customer-facing confirmation from the
// order id
func confirmationNumber(orderID string) string {
	compact := strings.ToUpper(strings.ReplaceAll(orderID, "-", ""))
	if len(compact) > 12 {
		compact = compact[:12]
	}
	return "CONF-" + compact
}

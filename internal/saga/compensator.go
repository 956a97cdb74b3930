package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/metrics"
	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CompensationRequest carries everything the compensator needs; it keeps the
// orchestrator and compensator free of references to each other.
type CompensationRequest struct {
	SagaCtx        *Context
	ExecutionID    string
	OrderID        string
	CompletedSteps []*domain.SagaStepResult // COMPLETED rows of this execution, in step order
	FailedStep     string
	FailureReason  string
}

// CompensationOutcome summarises one reverse sweep
type CompensationOutcome struct {
	AlreadyCompensated  bool
	CompensatedSteps    []string
	FailedCompensations []string
	AllSucceeded        bool
}

// Compensator undoes the completed prefix of a failed execution in reverse
// order. Individual compensation failures are recorded and the sweep
// continues; they never abort the remaining compensations.
type Compensator struct {
	registry *Registry
	store    repository.Store
	recorder *EventRecorder
	logger   Logger
}

// NewCompensator creates a compensator
func NewCompensator(registry *Registry, store repository.Store, recorder *EventRecorder, logger Logger) *Compensator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Compensator{registry: registry, store: store, recorder: recorder, logger: logger}
}

// Compensate runs the reverse sweep. Calling it against an execution that is
// already COMPENSATED is a no-op with zero collaborator calls.
func (c *Compensator) Compensate(ctx context.Context, req *CompensationRequest) (*CompensationOutcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.compensate")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", req.OrderID),
		attribute.String("execution_id", req.ExecutionID),
		attribute.Int("steps_to_compensate", len(req.CompletedSteps)),
	)

	execution, err := c.store.GetExecution(ctx, req.ExecutionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	if execution.Status == domain.ExecutionStatusCompensated {
		span.SetAttributes(attribute.Bool("already_compensated", true))
		span.SetStatus(codes.Ok, "")
		return &CompensationOutcome{AlreadyCompensated: true, AllSucceeded: true}, nil
	}

	if err := c.store.MarkCompensationStarted(ctx, req.ExecutionID, req.OrderID, time.Now()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to mark compensation started: %w", err)
	}

	names := make([]string, len(req.CompletedSteps))
	for i, row := range req.CompletedSteps {
		names[i] = row.StepName
	}
	c.recorder.Record(ctx, &domain.OrderEvent{
		OrderID:   req.OrderID,
		EventType: domain.EventCompensationStarted,
		Details: map[string]string{
			"steps_to_compensate": strings.Join(names, ","),
			"failed_step":         req.FailedStep,
			"failure_reason":      req.FailureReason,
		},
	})

	outcome := &CompensationOutcome{}
	for i := len(req.CompletedSteps) - 1; i >= 0; i-- {
		row := req.CompletedSteps[i]
		c.compensateStep(ctx, req, row, outcome)
	}
	outcome.AllSucceeded = len(outcome.FailedCompensations) == 0

	c.recorder.Record(ctx, &domain.OrderEvent{
		OrderID:   req.OrderID,
		EventType: domain.EventCompensationCompleted,
		Outcome:   compensationOutcomeLabel(outcome.AllSucceeded),
		Details: map[string]string{
			"compensated_steps":    strings.Join(outcome.CompensatedSteps, ","),
			"failed_compensations": strings.Join(outcome.FailedCompensations, ","),
		},
	})

	if outcome.AllSucceeded {
		if err := c.store.MarkExecutionCompensated(ctx, req.ExecutionID, req.OrderID, time.Now()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to mark execution compensated: %w", err)
		}
	} else {
		// The execution stays COMPENSATING with the recorded failures; the
		// order moves to FAILED for operator attention
		if err := c.store.UpdateOrderStatus(ctx, req.OrderID, domain.OrderStatusFailed); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to mark order failed: %w", err)
		}
		c.logger.ErrorContext(ctx, "compensation left residue",
			"order_id", req.OrderID,
			"execution_id", req.ExecutionID,
			"failed_compensations", outcome.FailedCompensations)
	}

	span.SetAttributes(attribute.Bool("all_succeeded", outcome.AllSucceeded))
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

func (c *Compensator) compensateStep(ctx context.Context, req *CompensationRequest, row *domain.SagaStepResult, outcome *CompensationOutcome) {
	step, ok := c.registry.StepByName(row.StepName)
	if !ok {
		// Registry drift; record and keep sweeping
		msg := fmt.Sprintf("no registered step named %q", row.StepName)
		c.recordFailure(ctx, req, row, msg, outcome)
		return
	}

	result := c.invokeCompensate(ctx, step, req.SagaCtx)
	if result.Success {
		if err := c.store.MarkStepCompensated(ctx, row.ID, time.Now()); err != nil {
			c.recordFailure(ctx, req, row, fmt.Sprintf("compensated remotely but failed to persist: %v", err), outcome)
			return
		}
		outcome.CompensatedSteps = append(outcome.CompensatedSteps, row.StepName)
		c.recorder.Record(ctx, &domain.OrderEvent{
			OrderID:   req.OrderID,
			EventType: domain.EventStepCompensated,
			StepName:  row.StepName,
			Outcome:   "COMPENSATED",
		})
		metrics.RecordCompensationStep(ctx, row.StepName, true)
		return
	}

	c.recordFailure(ctx, req, row, result.Message, outcome)
}

func (c *Compensator) invokeCompensate(ctx context.Context, step Step, sctx *Context) (result *CompensateResult) {
	defer func() {
		if r := recover(); r != nil {
			result = &CompensateResult{Success: false, Message: fmt.Sprintf("Unexpected error: %v", r)}
		}
	}()
	result = step.Compensate(ctx, sctx)
	if result == nil {
		result = &CompensateResult{Success: false, Message: "compensation returned no result"}
	}
	return result
}

func (c *Compensator) recordFailure(ctx context.Context, req *CompensationRequest, row *domain.SagaStepResult, message string, outcome *CompensationOutcome) {
	outcome.FailedCompensations = append(outcome.FailedCompensations, row.StepName)
	if err := c.store.RecordCompensationFailure(ctx, row.ID, message); err != nil {
		c.logger.ErrorContext(ctx, "failed to record compensation failure",
			"order_id", req.OrderID,
			"step", row.StepName,
			"error", err)
	}
	c.recorder.Record(ctx, &domain.OrderEvent{
		OrderID:      req.OrderID,
		EventType:    domain.EventStepCompensationFailed,
		StepName:     row.StepName,
		Outcome:      "FAILED",
		ErrorMessage: message,
	})
	metrics.RecordCompensationStep(ctx, row.StepName, false)
	c.logger.WarnContext(ctx, "step compensation failed",
		"order_id", req.OrderID,
		"execution_id", req.ExecutionID,
		"step", row.StepName,
		"message", message)
}

func compensationOutcomeLabel(allSucceeded bool) string {
	if allSucceeded {
		return "SUCCESS"
	}
	return "PARTIAL_FAILURE"
}

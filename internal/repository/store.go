package repository

import (
	"context"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
)

// Store persists orders, saga executions, step results, retry attempts and
// timeline events. Every method that groups writes performs them in a single
// transaction; reads reflect all prior committed writes.
type Store interface {
	// CreateOrderWithItems inserts the order and its items in one transaction
	CreateOrderWithItems(ctx context.Context, order *domain.Order) error
	// GetOrder returns the order with its items
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	// UpdateOrderStatus transitions the order status
	UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error

	// CreateExecution inserts a new execution and moves the order to
	// PROCESSING in the same transaction. Fails with
	// domain.ErrExecutionAlreadyActive when another non-terminal execution
	// exists for the order.
	CreateExecution(ctx context.Context, execution *domain.SagaExecution) error
	// GetExecution returns one execution by id
	GetExecution(ctx context.Context, executionID string) (*domain.SagaExecution, error)
	// CompleteExecution marks the execution COMPLETED and the order
	// COMPLETED in one transaction
	CompleteExecution(ctx context.Context, executionID, orderID string, at time.Time) error
	// MarkCompensationStarted marks the execution and order COMPENSATING
	MarkCompensationStarted(ctx context.Context, executionID, orderID string, at time.Time) error
	// MarkExecutionCompensated marks the execution and order COMPENSATED
	MarkExecutionCompensated(ctx context.Context, executionID, orderID string, at time.Time) error

	// StartStep inserts a PENDING step row, transitions it to IN_PROGRESS
	// and updates the execution's current step index, all in one transaction
	StartStep(ctx context.Context, executionID, stepName string, stepOrder int) (*domain.SagaStepResult, error)
	// CompleteStep marks the step COMPLETED with its output data
	CompleteStep(ctx context.Context, stepResultID string, stepData map[string]string, at time.Time) error
	// FailStepAndExecution marks the step FAILED and the execution FAILED
	// in the same transaction
	FailStepAndExecution(ctx context.Context, stepResultID, executionID string, failedStepIndex int, errorMessage string, at time.Time) error
	// InsertSkippedStep inserts a SKIPPED row at the expected step order
	InsertSkippedStep(ctx context.Context, executionID, stepName string, stepOrder int, stepData map[string]string, at time.Time) (*domain.SagaStepResult, error)
	// MarkStepCompensated marks the step COMPENSATED
	MarkStepCompensated(ctx context.Context, stepResultID string, at time.Time) error
	// RecordCompensationFailure records the failure message on the step row
	// without changing its status
	RecordCompensationFailure(ctx context.Context, stepResultID, message string) error
	// ListStepResults returns the execution's step rows ordered by step order
	ListStepResults(ctx context.Context, executionID string) ([]*domain.SagaStepResult, error)

	// AppendEvent appends a timeline event, assigning a per-order sequence
	AppendEvent(ctx context.Context, event *domain.OrderEvent) error
	// ListEvents returns the order's events in sequence order
	ListEvents(ctx context.Context, orderID string) ([]*domain.OrderEvent, error)

	// FindResumeState returns the latest execution and its ordered step results
	FindResumeState(ctx context.Context, orderID string) (*domain.ResumeState, error)

	// CreateRetryAttempt inserts a PENDING attempt. Fails with
	// domain.ErrRetryAlreadyInProgress when a PENDING attempt exists.
	CreateRetryAttempt(ctx context.Context, attempt *domain.RetryAttempt) error
	// UpdateRetryAttemptPlan records the resume plan on the attempt
	UpdateRetryAttemptPlan(ctx context.Context, attemptID, retryExecutionID, resumedFromStep string, skippedSteps []string) error
	// CompleteRetryAttempt records the final outcome of the attempt
	CompleteRetryAttempt(ctx context.Context, attemptID string, outcome domain.RetryOutcome, failureReason string, at time.Time) error
	// ListRetryAttempts returns the order's attempts ordered by attempt number
	ListRetryAttempts(ctx context.Context, orderID string) ([]*domain.RetryAttempt, error)

	// ListCompensatingExecutions returns executions stuck in COMPENSATING
	// longer than the given age
	ListCompensatingExecutions(ctx context.Context, olderThan time.Duration) ([]*domain.SagaExecution, error)
	// ListStalledExecutions returns executions still IN_PROGRESS longer
	// than the given age; their orchestration task is gone or wedged
	ListStalledExecutions(ctx context.Context, olderThan time.Duration) ([]*domain.SagaExecution, error)
	// ExpirePendingRetryAttempts fails PENDING attempts older than the given
	// age and returns how many were expired
	ExpirePendingRetryAttempts(ctx context.Context, olderThan time.Duration) (int64, error)
}

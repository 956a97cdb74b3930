package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orderrush/saga-orchestrator/internal/domain"
)

// MemoryStore is an in-memory Store with the same transactional semantics as
// PostgresStore. Used by tests and local development.
type MemoryStore struct {
	mu sync.Mutex

	orders        map[string]*domain.Order
	executions    map[string]*domain.SagaExecution
	stepResults   map[string]*domain.SagaStepResult
	events        map[string][]*domain.OrderEvent // by order id, in sequence order
	retryAttempts map[string]*domain.RetryAttempt
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:        make(map[string]*domain.Order),
		executions:    make(map[string]*domain.SagaExecution),
		stepResults:   make(map[string]*domain.SagaStepResult),
		events:        make(map[string][]*domain.OrderEvent),
		retryAttempts: make(map[string]*domain.RetryAttempt),
	}
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}

func copyExecution(e *domain.SagaExecution) *domain.SagaExecution {
	c := *e
	return &c
}

func copyStepResult(r *domain.SagaStepResult) *domain.SagaStepResult {
	c := *r
	if r.StepData != nil {
		c.StepData = make(map[string]string, len(r.StepData))
		for k, v := range r.StepData {
			c.StepData[k] = v
		}
	}
	return &c
}

func copyEvent(e *domain.OrderEvent) *domain.OrderEvent {
	c := *e
	if e.Details != nil {
		c.Details = make(map[string]string, len(e.Details))
		for k, v := range e.Details {
			c.Details[k] = v
		}
	}
	return &c
}

func copyRetryAttempt(a *domain.RetryAttempt) *domain.RetryAttempt {
	c := *a
	c.SkippedSteps = append([]string(nil), a.SkippedSteps...)
	return &c
}

func (s *MemoryStore) CreateOrderWithItems(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = copyOrder(order)
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CreateExecution(ctx context.Context, execution *domain.SagaExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.executions {
		if e.OrderID == execution.OrderID && !e.Status.IsTerminal() {
			return domain.ErrExecutionAlreadyActive
		}
	}
	s.executions[execution.ID] = copyExecution(execution)
	if order, ok := s.orders[execution.OrderID]; ok {
		order.Status = domain.OrderStatusProcessing
		order.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) GetExecution(ctx context.Context, executionID string) (*domain.SagaExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	return copyExecution(exec), nil
}

func (s *MemoryStore) transition(executionID, orderID string, f func(e *domain.SagaExecution), orderStatus domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	f(exec)
	if order, ok := s.orders[orderID]; ok {
		order.Status = orderStatus
		order.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) CompleteExecution(ctx context.Context, executionID, orderID string, at time.Time) error {
	return s.transition(executionID, orderID, func(e *domain.SagaExecution) {
		e.Status = domain.ExecutionStatusCompleted
		e.CompletedAt = &at
	}, domain.OrderStatusCompleted)
}

func (s *MemoryStore) MarkCompensationStarted(ctx context.Context, executionID, orderID string, at time.Time) error {
	return s.transition(executionID, orderID, func(e *domain.SagaExecution) {
		e.Status = domain.ExecutionStatusCompensating
		e.CompensationStartedAt = &at
	}, domain.OrderStatusCompensating)
}

func (s *MemoryStore) MarkExecutionCompensated(ctx context.Context, executionID, orderID string, at time.Time) error {
	return s.transition(executionID, orderID, func(e *domain.SagaExecution) {
		e.Status = domain.ExecutionStatusCompensated
		e.CompensationCompletedAt = &at
	}, domain.OrderStatusCompensated)
}

func (s *MemoryStore) StartStep(ctx context.Context, executionID, stepName string, stepOrder int) (*domain.SagaStepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[executionID]
	if !ok {
		return nil, domain.ErrExecutionNotFound
	}
	now := time.Now()
	result := &domain.SagaStepResult{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		StepName:    stepName,
		StepOrder:   stepOrder,
		Status:      domain.StepStatusInProgress,
		StartedAt:   &now,
	}
	s.stepResults[result.ID] = copyStepResult(result)
	exec.CurrentStepIndex = stepOrder - 1
	return result, nil
}

func (s *MemoryStore) CompleteStep(ctx context.Context, stepResultID string, stepData map[string]string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.stepResults[stepResultID]
	if !ok {
		return domain.ErrStepResultNotFound
	}
	result.Status = domain.StepStatusCompleted
	if stepData != nil {
		result.StepData = make(map[string]string, len(stepData))
		for k, v := range stepData {
			result.StepData[k] = v
		}
	}
	result.CompletedAt = &at
	return nil
}

func (s *MemoryStore) FailStepAndExecution(ctx context.Context, stepResultID, executionID string, failedStepIndex int, errorMessage string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.stepResults[stepResultID]
	if !ok {
		return domain.ErrStepResultNotFound
	}
	exec, ok := s.executions[executionID]
	if !ok {
		return domain.ErrExecutionNotFound
	}
	result.Status = domain.StepStatusFailed
	result.ErrorMessage = errorMessage
	result.CompletedAt = &at
	exec.Status = domain.ExecutionStatusFailed
	idx := failedStepIndex
	exec.FailedStepIndex = &idx
	exec.FailureReason = errorMessage
	exec.CompletedAt = &at
	return nil
}

func (s *MemoryStore) InsertSkippedStep(ctx context.Context, executionID, stepName string, stepOrder int, stepData map[string]string, at time.Time) (*domain.SagaStepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[executionID]; !ok {
		return nil, domain.ErrExecutionNotFound
	}
	result := &domain.SagaStepResult{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		StepName:    stepName,
		StepOrder:   stepOrder,
		Status:      domain.StepStatusSkipped,
		StepData:    stepData,
		CompletedAt: &at,
	}
	s.stepResults[result.ID] = copyStepResult(result)
	return result, nil
}

func (s *MemoryStore) MarkStepCompensated(ctx context.Context, stepResultID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.stepResults[stepResultID]
	if !ok {
		return domain.ErrStepResultNotFound
	}
	result.Status = domain.StepStatusCompensated
	result.CompletedAt = &at
	return nil
}

func (s *MemoryStore) RecordCompensationFailure(ctx context.Context, stepResultID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.stepResults[stepResultID]
	if !ok {
		return domain.ErrStepResultNotFound
	}
	result.ErrorMessage = message
	return nil
}

func (s *MemoryStore) ListStepResults(ctx context.Context, executionID string) ([]*domain.SagaStepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listStepResultsLocked(executionID), nil
}

func (s *MemoryStore) listStepResultsLocked(executionID string) []*domain.SagaStepResult {
	var results []*domain.SagaStepResult
	for _, r := range s.stepResults {
		if r.ExecutionID == executionID {
			results = append(results, copyStepResult(r))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].StepOrder < results[j].StepOrder
	})
	return results
}

func (s *MemoryStore) AppendEvent(ctx context.Context, event *domain.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := copyEvent(event)
	e.Sequence = int64(len(s.events[event.OrderID])) + 1
	s.events[event.OrderID] = append(s.events[event.OrderID], e)
	event.Sequence = e.Sequence
	return nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, orderID string) ([]*domain.OrderEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]*domain.OrderEvent, 0, len(s.events[orderID]))
	for _, e := range s.events[orderID] {
		events = append(events, copyEvent(e))
	}
	return events, nil
}

func (s *MemoryStore) FindResumeState(ctx context.Context, orderID string) (*domain.ResumeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.SagaExecution
	for _, e := range s.executions {
		if e.OrderID != orderID {
			continue
		}
		if latest == nil || e.StartedAt.After(latest.StartedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, domain.ErrExecutionNotFound
	}
	return &domain.ResumeState{
		Execution:   copyExecution(latest),
		StepResults: s.listStepResultsLocked(latest.ID),
	}, nil
}

func (s *MemoryStore) CreateRetryAttempt(ctx context.Context, attempt *domain.RetryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.retryAttempts {
		if a.OrderID == attempt.OrderID && a.Outcome == domain.RetryOutcomePending {
			return domain.ErrRetryAlreadyInProgress
		}
	}
	s.retryAttempts[attempt.ID] = copyRetryAttempt(attempt)
	return nil
}

func (s *MemoryStore) UpdateRetryAttemptPlan(ctx context.Context, attemptID, retryExecutionID, resumedFromStep string, skippedSteps []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.retryAttempts[attemptID]
	if !ok {
		return domain.ErrRetryAttemptNotFound
	}
	attempt.RetryExecutionID = retryExecutionID
	attempt.ResumedFromStep = resumedFromStep
	attempt.SkippedSteps = append([]string(nil), skippedSteps...)
	return nil
}

func (s *MemoryStore) CompleteRetryAttempt(ctx context.Context, attemptID string, outcome domain.RetryOutcome, failureReason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.retryAttempts[attemptID]
	if !ok {
		return domain.ErrRetryAttemptNotFound
	}
	attempt.Outcome = outcome
	attempt.FailureReason = failureReason
	attempt.CompletedAt = &at
	return nil
}

func (s *MemoryStore) ListRetryAttempts(ctx context.Context, orderID string) ([]*domain.RetryAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var attempts []*domain.RetryAttempt
	for _, a := range s.retryAttempts {
		if a.OrderID == orderID {
			attempts = append(attempts, copyRetryAttempt(a))
		}
	}
	sort.Slice(attempts, func(i, j int) bool {
		return attempts[i].AttemptNumber < attempts[j].AttemptNumber
	})
	return attempts, nil
}

func (s *MemoryStore) ListCompensatingExecutions(ctx context.Context, olderThan time.Duration) ([]*domain.SagaExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var executions []*domain.SagaExecution
	for _, e := range s.executions {
		if e.Status == domain.ExecutionStatusCompensating &&
			e.CompensationStartedAt != nil && e.CompensationStartedAt.Before(cutoff) {
			executions = append(executions, copyExecution(e))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CompensationStartedAt.Before(*executions[j].CompensationStartedAt)
	})
	return executions, nil
}

func (s *MemoryStore) ListStalledExecutions(ctx context.Context, olderThan time.Duration) ([]*domain.SagaExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var executions []*domain.SagaExecution
	for _, e := range s.executions {
		if e.Status == domain.ExecutionStatusInProgress && e.StartedAt.Before(cutoff) {
			executions = append(executions, copyExecution(e))
		}
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})
	return executions, nil
}

func (s *MemoryStore) ExpirePendingRetryAttempts(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var expired int64
	now := time.Now()
	for _, a := range s.retryAttempts {
		if a.Outcome == domain.RetryOutcomePending && a.InitiatedAt.Before(cutoff) {
			a.Outcome = domain.RetryOutcomeFailed
			a.FailureReason = "retry attempt expired"
			a.CompletedAt = &now
			expired++
		}
	}
	return expired, nil
}

package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/repository"
)

func TestResidueWorker_SweepExpiresAbandonedRetries(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	stale := &domain.RetryAttempt{
		ID:            uuid.New().String(),
		OrderID:       uuid.New().String(),
		AttemptNumber: 1,
		Outcome:       domain.RetryOutcomePending,
		InitiatedAt:   time.Now().Add(-time.Hour),
	}
	fresh := &domain.RetryAttempt{
		ID:            uuid.New().String(),
		OrderID:       uuid.New().String(),
		AttemptNumber: 1,
		Outcome:       domain.RetryOutcomePending,
		InitiatedAt:   time.Now(),
	}
	for _, a := range []*domain.RetryAttempt{stale, fresh} {
		if err := store.CreateRetryAttempt(ctx, a); err != nil {
			t.Fatalf("failed to create attempt: %v", err)
		}
	}

	w := NewResidueWorker(store, &ResidueWorkerConfig{
		ScanInterval:           time.Minute,
		CompensationResidueAge: 10 * time.Minute,
		StalledExecutionAge:    10 * time.Minute,
		PendingRetryAge:        30 * time.Minute,
	})
	w.sweep(ctx)

	totalExpired, lastScan, _, _ := w.Stats()
	if totalExpired != 1 {
		t.Fatalf("expected 1 expired attempt, got %d", totalExpired)
	}
	if lastScan.IsZero() {
		t.Error("expected last scan time recorded")
	}

	attempts, _ := store.ListRetryAttempts(ctx, stale.OrderID)
	if attempts[0].Outcome != domain.RetryOutcomeFailed {
		t.Errorf("expected the stale attempt FAILED, got %s", attempts[0].Outcome)
	}
	attempts, _ = store.ListRetryAttempts(ctx, fresh.OrderID)
	if attempts[0].Outcome != domain.RetryOutcomePending {
		t.Errorf("expected the fresh attempt untouched, got %s", attempts[0].Outcome)
	}
}

func TestResidueWorker_SweepCountsStuckCompensations(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	order := &domain.Order{ID: uuid.New().String(), Status: domain.OrderStatusPending, CreatedAt: time.Now()}
	if err := store.CreateOrderWithItems(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	execution := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now().Add(-time.Hour),
	}
	if err := store.CreateExecution(ctx, execution); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}
	if err := store.MarkCompensationStarted(ctx, execution.ID, order.ID, time.Now().Add(-30*time.Minute)); err != nil {
		t.Fatalf("failed to mark compensating: %v", err)
	}

	w := NewResidueWorker(store, &ResidueWorkerConfig{
		ScanInterval:           time.Minute,
		CompensationResidueAge: 10 * time.Minute,
		StalledExecutionAge:    10 * time.Minute,
		PendingRetryAge:        30 * time.Minute,
	})
	w.sweep(ctx)

	_, _, lastStuck, _ := w.Stats()
	if lastStuck != 1 {
		t.Fatalf("expected 1 stuck execution seen, got %d", lastStuck)
	}

	// The worker only reports; the execution is never re-driven
	got, err := store.GetExecution(ctx, execution.ID)
	if err != nil {
		t.Fatalf("failed to load execution: %v", err)
	}
	if got.Status != domain.ExecutionStatusCompensating {
		t.Errorf("expected the execution left COMPENSATING, got %s", got.Status)
	}
}

func TestResidueWorker_SweepCountsStalledExecutions(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()

	staleOrder := &domain.Order{ID: uuid.New().String(), Status: domain.OrderStatusPending, CreatedAt: time.Now()}
	freshOrder := &domain.Order{ID: uuid.New().String(), Status: domain.OrderStatusPending, CreatedAt: time.Now()}
	for _, o := range []*domain.Order{staleOrder, freshOrder} {
		if err := store.CreateOrderWithItems(ctx, o); err != nil {
			t.Fatalf("failed to create order: %v", err)
		}
	}
	stalled := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   staleOrder.ID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now().Add(-time.Hour),
	}
	fresh := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   freshOrder.ID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now(),
	}
	for _, e := range []*domain.SagaExecution{stalled, fresh} {
		if err := store.CreateExecution(ctx, e); err != nil {
			t.Fatalf("failed to create execution: %v", err)
		}
	}

	w := NewResidueWorker(store, &ResidueWorkerConfig{
		ScanInterval:           time.Minute,
		CompensationResidueAge: 10 * time.Minute,
		StalledExecutionAge:    10 * time.Minute,
		PendingRetryAge:        30 * time.Minute,
	})
	w.sweep(ctx)

	_, _, _, lastStalled := w.Stats()
	if lastStalled != 1 {
		t.Fatalf("expected 1 stalled execution seen, got %d", lastStalled)
	}

	// Reporting only: the stalled execution stays IN_PROGRESS
	got, err := store.GetExecution(ctx, stalled.ID)
	if err != nil {
		t.Fatalf("failed to load execution: %v", err)
	}
	if got.Status != domain.ExecutionStatusInProgress {
		t.Errorf("expected the execution left IN_PROGRESS, got %s", got.Status)
	}
}

func TestResidueWorker_StartStop(t *testing.T) {
	store := repository.NewMemoryStore()
	w := NewResidueWorker(store, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := w.Start(context.Background()); err == nil {
		t.Error("expected an error starting twice")
	}
	w.Stop()
	w.Stop() // idempotent
}

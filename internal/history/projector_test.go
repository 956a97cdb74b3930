package history

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/repository"
)

func appendEvents(t *testing.T, store *repository.MemoryStore, orderID string, events ...*domain.OrderEvent) {
	t.Helper()
	for _, e := range events {
		e.ID = uuid.New().String()
		e.OrderID = orderID
		e.Timestamp = time.Now()
		if err := store.AppendEvent(context.Background(), e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}
}

func TestProjector_HappyPathTimeline(t *testing.T) {
	store := repository.NewMemoryStore()
	orderID := uuid.New().String()
	appendEvents(t, store, orderID,
		&domain.OrderEvent{EventType: domain.EventSagaStarted},
		&domain.OrderEvent{EventType: domain.EventStepStarted, StepName: "Inventory Reservation"},
		&domain.OrderEvent{EventType: domain.EventStepCompleted, StepName: "Inventory Reservation"},
		&domain.OrderEvent{EventType: domain.EventStepCompleted, StepName: "Payment Authorization"},
		&domain.OrderEvent{EventType: domain.EventStepCompleted, StepName: "Shipping Arrangement"},
		&domain.OrderEvent{EventType: domain.EventSagaCompleted, Outcome: "SUCCESS"},
	)

	timeline, err := NewProjector(store).Timeline(context.Background(), orderID)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}

	// STEP_STARTED has no customer meaning and is omitted
	if len(timeline.Entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(timeline.Entries))
	}
	if timeline.Entries[0].Title != "Order processing started" {
		t.Errorf("unexpected first entry: %q", timeline.Entries[0].Title)
	}
	if timeline.Entries[1].Title != "Item reservation" || timeline.Entries[1].Outcome != "SUCCESS" {
		t.Errorf("unexpected reservation entry: %+v", timeline.Entries[1])
	}
	last := timeline.Entries[len(timeline.Entries)-1]
	if last.Title != "Order confirmed" {
		t.Errorf("expected final entry \"Order confirmed\", got %q", last.Title)
	}
}

func TestProjector_FailureCarriesSuggestedAction(t *testing.T) {
	store := repository.NewMemoryStore()
	orderID := uuid.New().String()
	appendEvents(t, store, orderID,
		&domain.OrderEvent{EventType: domain.EventSagaStarted},
		&domain.OrderEvent{EventType: domain.EventStepCompleted, StepName: "Inventory Reservation"},
		&domain.OrderEvent{
			EventType:    domain.EventStepFailed,
			StepName:     "Payment Authorization",
			ErrorCode:    domain.ErrCodePaymentDeclined,
			ErrorMessage: "card was declined by the issuer",
		},
		&domain.OrderEvent{EventType: domain.EventCompensationStarted},
		&domain.OrderEvent{EventType: domain.EventStepCompensated, StepName: "Inventory Reservation"},
		&domain.OrderEvent{EventType: domain.EventCompensationCompleted, Outcome: "SUCCESS"},
	)

	timeline, err := NewProjector(store).Timeline(context.Background(), orderID)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}

	var failed *TimelineEntry
	for i := range timeline.Entries {
		if timeline.Entries[i].Outcome == "FAILED" {
			failed = &timeline.Entries[i]
		}
	}
	if failed == nil {
		t.Fatal("expected a FAILED entry")
	}
	if failed.Error == nil {
		t.Fatal("expected error details on the failed entry")
	}
	if failed.Error.Code != domain.ErrCodePaymentDeclined {
		t.Errorf("expected PAYMENT_DECLINED, got %s", failed.Error.Code)
	}
	if failed.Error.SuggestedAction == "" {
		t.Error("expected a suggested action")
	}

	last := timeline.Entries[len(timeline.Entries)-1]
	if last.Title != "Order reversed" || last.Outcome != "COMPENSATED" {
		t.Errorf("expected a clean reversal entry, got %+v", last)
	}
}

func TestProjector_PartialReversalReadsAsIncomplete(t *testing.T) {
	store := repository.NewMemoryStore()
	orderID := uuid.New().String()
	appendEvents(t, store, orderID,
		&domain.OrderEvent{EventType: domain.EventCompensationCompleted, Outcome: "PARTIAL_FAILURE"},
	)

	timeline, err := NewProjector(store).Timeline(context.Background(), orderID)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(timeline.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(timeline.Entries))
	}
	if timeline.Entries[0].Title != "Order reversal incomplete" {
		t.Errorf("unexpected title: %q", timeline.Entries[0].Title)
	}
	if timeline.Entries[0].Outcome != "FAILED" {
		t.Errorf("expected FAILED outcome, got %s", timeline.Entries[0].Outcome)
	}
}

func TestProjector_BusMarkersNeverProject(t *testing.T) {
	store := repository.NewMemoryStore()
	orderID := uuid.New().String()
	appendEvents(t, store, orderID,
		&domain.OrderEvent{EventType: domain.EventDropped},
		&domain.OrderEvent{EventType: domain.EventTerminal},
	)

	timeline, err := NewProjector(store).Timeline(context.Background(), orderID)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(timeline.Entries) != 0 {
		t.Errorf("markers must not project, got %+v", timeline.Entries)
	}
}

func TestProjector_AttemptSummaries(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	orderID := uuid.New().String()

	order := &domain.Order{ID: orderID, Status: domain.OrderStatusFailed}
	if err := store.CreateOrderWithItems(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	execution := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now(),
	}
	if err := store.CreateExecution(ctx, execution); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}
	row, err := store.StartStep(ctx, execution.ID, "Payment Authorization", 2)
	if err != nil {
		t.Fatalf("failed to start step: %v", err)
	}
	if err := store.CompleteStep(ctx, row.ID, nil, time.Now()); err != nil {
		t.Fatalf("failed to complete step: %v", err)
	}

	attempt := &domain.RetryAttempt{
		ID:                  uuid.New().String(),
		OrderID:             orderID,
		OriginalExecutionID: uuid.New().String(),
		RetryExecutionID:    execution.ID,
		AttemptNumber:       1,
		ResumedFromStep:     "Payment Authorization",
		SkippedSteps:        []string{"Inventory Reservation"},
		Outcome:             domain.RetryOutcomeSuccess,
		InitiatedAt:         time.Now(),
	}
	if err := store.CreateRetryAttempt(ctx, attempt); err != nil {
		t.Fatalf("failed to create attempt: %v", err)
	}

	timeline, err := NewProjector(store).Timeline(ctx, orderID)
	if err != nil {
		t.Fatalf("timeline failed: %v", err)
	}
	if len(timeline.Attempts) != 1 {
		t.Fatalf("expected 1 attempt summary, got %d", len(timeline.Attempts))
	}
	summary := timeline.Attempts[0]
	if summary.AttemptNumber != 1 || summary.Outcome != "SUCCESS" {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.ResumedFromStep != "Payment Authorization" {
		t.Errorf("expected resumed from payment, got %s", summary.ResumedFromStep)
	}
	if summary.StepsCompleted != 1 {
		t.Errorf("expected 1 completed step, got %d", summary.StepsCompleted)
	}
	if len(summary.SkippedSteps) != 1 || summary.SkippedSteps[0] != "Inventory Reservation" {
		t.Errorf("unexpected skipped steps: %v", summary.SkippedSteps)
	}
}

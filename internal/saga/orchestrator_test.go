package saga

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orderrush/saga-orchestrator/internal/clients"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/repository"
)

type harness struct {
	store     *repository.MemoryStore
	inventory *clients.FakeInventoryClient
	payment   *clients.FakePaymentClient
	shipping  *clients.FakeShippingClient
	registry  *Registry
	recorder  *EventRecorder
	orch      *Orchestrator
	planner   *Planner
}

func newHarness() *harness {
	store := repository.NewMemoryStore()
	inventory := clients.NewFakeInventoryClient()
	payment := clients.NewFakePaymentClient()
	shipping := clients.NewFakeShippingClient()

	registry := MustNewRegistry(
		NewInventoryStep(inventory, time.Hour, 24*time.Hour),
		NewPaymentStep(payment, 24*time.Hour),
		NewShippingStep(shipping, 4*time.Hour),
	)
	recorder := NewEventRecorder(store, nil, nil)
	executor := NewStepExecutor(store, recorder, nil, time.Minute)
	compensator := NewCompensator(registry, store, recorder, nil)
	orch := NewOrchestrator(registry, store, executor, compensator, recorder, nil)
	planner := NewPlanner(registry, store, PlannerConfig{
		MaxAttempts:        3,
		RetryWindow:        24 * time.Hour,
		Cooldown:           5 * time.Minute,
		NonRetryableTokens: []string{"FRAUD", "SUSPENDED", "CANCELLED"},
	})

	return &harness{
		store:     store,
		inventory: inventory,
		payment:   payment,
		shipping:  shipping,
		registry:  registry,
		recorder:  recorder,
		orch:      orch,
		planner:   planner,
	}
}

func testOrder(paymentMethodID, postalCode string) *domain.Order {
	orderID := uuid.New().String()
	items := []domain.OrderItem{
		{
			ID:               uuid.New().String(),
			OrderID:          orderID,
			ProductID:        uuid.New().String(),
			ProductName:      "Widget",
			Quantity:         2,
			UnitPriceInCents: 1999,
		},
		{
			ID:               uuid.New().String(),
			OrderID:          orderID,
			ProductID:        uuid.New().String(),
			ProductName:      "Gadget",
			Quantity:         1,
			UnitPriceInCents: 2000,
		},
	}
	now := time.Now()
	return &domain.Order{
		ID:                 orderID,
		CustomerID:         uuid.New().String(),
		Items:              items,
		TotalAmountInCents: domain.TotalInCents(items),
		Status:             domain.OrderStatusPending,
		PaymentMethodID:    paymentMethodID,
		ShippingAddress: domain.ShippingAddress{
			Street:     "123 Main St",
			City:       "Springfield",
			State:      "IL",
			PostalCode: postalCode,
			Country:    "US",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (h *harness) submit(t *testing.T, order *domain.Order) *Result {
	t.Helper()
	ctx := context.Background()
	if err := h.store.CreateOrderWithItems(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	result, err := h.orch.Execute(ctx, order)
	if err != nil {
		t.Fatalf("saga execution failed: %v", err)
	}
	return result
}

func (h *harness) eventTypes(t *testing.T, orderID string) []domain.EventType {
	t.Helper()
	events, err := h.store.ListEvents(context.Background(), orderID)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	types := make([]domain.EventType, len(events))
	for i, e := range events {
		types[i] = e.EventType
	}
	return types
}

func containsEvent(types []domain.EventType, want domain.EventType) bool {
	for _, tp := range types {
		if tp == want {
			return true
		}
	}
	return false
}

func TestOrchestrator_HappyPath(t *testing.T) {
	h := newHarness()
	order := testOrder("good-card", "62701")

	if order.TotalAmountInCents != 5998 {
		t.Fatalf("expected total 5998 cents, got %d", order.TotalAmountInCents)
	}

	result := h.submit(t, order)

	if result.Status != ResultSuccess {
		t.Fatalf("expected SUCCESS, got %s (%s)", result.Status, result.Reason)
	}
	if !strings.HasPrefix(result.ConfirmationNumber, "CONF-") {
		t.Errorf("expected confirmation number with CONF- prefix, got %q", result.ConfirmationNumber)
	}
	if result.TotalChargedInCents != 5998 {
		t.Errorf("expected 5998 cents charged, got %d", result.TotalChargedInCents)
	}
	if result.TrackingNumber == "" {
		t.Error("expected a tracking number")
	}
	if result.EstimatedDelivery == "" {
		t.Error("expected an estimated delivery")
	}

	stored, err := h.store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if stored.Status != domain.OrderStatusCompleted {
		t.Errorf("expected order COMPLETED, got %s", stored.Status)
	}

	exec, err := h.store.GetExecution(context.Background(), result.ExecutionID)
	if err != nil {
		t.Fatalf("failed to load execution: %v", err)
	}
	if exec.Status != domain.ExecutionStatusCompleted {
		t.Errorf("expected execution COMPLETED, got %s", exec.Status)
	}

	rows, err := h.store.ListStepResults(context.Background(), result.ExecutionID)
	if err != nil {
		t.Fatalf("failed to list step results: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 step rows, got %d", len(rows))
	}
	for i, row := range rows {
		if row.Status != domain.StepStatusCompleted {
			t.Errorf("step %s: expected COMPLETED, got %s", row.StepName, row.Status)
		}
		if row.StepOrder != i+1 {
			t.Errorf("step %s: expected order %d, got %d", row.StepName, i+1, row.StepOrder)
		}
	}
	if rows[0].StepData[KeyReservationID] == "" {
		t.Error("inventory step row missing RESERVATION_ID")
	}
	if rows[1].StepData[KeyAuthorizationID] == "" {
		t.Error("payment step row missing AUTHORIZATION_ID")
	}
	if rows[2].StepData[KeyTrackingNumber] == "" {
		t.Error("shipping step row missing TRACKING_NUMBER")
	}

	types := h.eventTypes(t, order.ID)
	if types[0] != domain.EventSagaStarted {
		t.Errorf("expected first event SAGA_STARTED, got %s", types[0])
	}
	if types[len(types)-1] != domain.EventSagaCompleted {
		t.Errorf("expected last event SAGA_COMPLETED, got %s", types[len(types)-1])
	}
	if containsEvent(types, domain.EventCompensationStarted) {
		t.Error("happy path should not compensate")
	}
}

func TestOrchestrator_PaymentDeclined_CompensatesInventory(t *testing.T) {
	h := newHarness()
	order := testOrder("declined-card", "62701")

	result := h.submit(t, order)

	if result.Status != ResultCompensated {
		t.Fatalf("expected COMPENSATED, got %s", result.Status)
	}
	if result.FailedStep != StepNamePayment {
		t.Errorf("expected failed step %q, got %q", StepNamePayment, result.FailedStep)
	}
	if result.ErrorCode != domain.ErrCodePaymentDeclined {
		t.Errorf("expected error code PAYMENT_DECLINED, got %s", result.ErrorCode)
	}
	if len(result.CompensatedSteps) != 1 || result.CompensatedSteps[0] != StepNameInventory {
		t.Errorf("expected compensated steps [%s], got %v", StepNameInventory, result.CompensatedSteps)
	}

	// The reservation must actually be released
	if h.inventory.ActiveCount() != 0 {
		t.Errorf("expected no active reservations, got %d", h.inventory.ActiveCount())
	}
	if len(h.inventory.ReleaseCalls) != 1 {
		t.Errorf("expected 1 release call, got %d", len(h.inventory.ReleaseCalls))
	}
	// Shipping must never have been attempted
	if len(h.shipping.ArrangeCalls) != 0 {
		t.Errorf("expected no shipping calls, got %d", len(h.shipping.ArrangeCalls))
	}

	stored, _ := h.store.GetOrder(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusCompensated {
		t.Errorf("expected order COMPENSATED, got %s", stored.Status)
	}

	types := h.eventTypes(t, order.ID)
	if !containsEvent(types, domain.EventCompensationStarted) {
		t.Error("expected COMPENSATION_STARTED event")
	}
	if types[len(types)-1] != domain.EventCompensationCompleted {
		t.Errorf("expected last event COMPENSATION_COMPLETED, got %s", types[len(types)-1])
	}
	// SAGA_FAILED is reserved for failures with nothing to undo
	if containsEvent(types, domain.EventSagaFailed) {
		t.Error("compensated ending should not emit SAGA_FAILED")
	}
}

func TestOrchestrator_InvalidAddress_CompensatesInReverseOrder(t *testing.T) {
	h := newHarness()
	order := testOrder("good-card", "00000")

	result := h.submit(t, order)

	if result.Status != ResultCompensated {
		t.Fatalf("expected COMPENSATED, got %s", result.Status)
	}
	if result.FailedStep != StepNameShipping {
		t.Errorf("expected failed step %q, got %q", StepNameShipping, result.FailedStep)
	}
	if result.ErrorCode != domain.ErrCodeInvalidAddress {
		t.Errorf("expected error code INVALID_ADDRESS, got %s", result.ErrorCode)
	}

	// Reverse order: payment first, then inventory
	want := []string{StepNamePayment, StepNameInventory}
	if len(result.CompensatedSteps) != len(want) {
		t.Fatalf("expected compensated steps %v, got %v", want, result.CompensatedSteps)
	}
	for i, name := range want {
		if result.CompensatedSteps[i] != name {
			t.Errorf("compensation position %d: expected %s, got %s", i, name, result.CompensatedSteps[i])
		}
	}

	if h.payment.ActiveCount() != 0 {
		t.Errorf("expected no active authorizations, got %d", h.payment.ActiveCount())
	}
	if h.inventory.ActiveCount() != 0 {
		t.Errorf("expected no active reservations, got %d", h.inventory.ActiveCount())
	}
}

func TestOrchestrator_FirstStepFails_NoCompensation(t *testing.T) {
	h := newHarness()
	order := testOrder("good-card", "62701")
	order.Items[0].ProductID = "00000000-0000-0000-0000-000000000000"

	result := h.submit(t, order)

	if result.Status != ResultFailed {
		t.Fatalf("expected FAILED, got %s", result.Status)
	}
	if result.ErrorCode != domain.ErrCodeInventoryUnavailable {
		t.Errorf("expected error code INVENTORY_UNAVAILABLE, got %s", result.ErrorCode)
	}
	if len(result.CompensatedSteps) != 0 {
		t.Errorf("expected no compensations, got %v", result.CompensatedSteps)
	}
	if len(h.inventory.ReleaseCalls) != 0 {
		t.Errorf("expected no release calls, got %d", len(h.inventory.ReleaseCalls))
	}

	stored, _ := h.store.GetOrder(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusFailed {
		t.Errorf("expected order FAILED, got %s", stored.Status)
	}

	types := h.eventTypes(t, order.ID)
	if !containsEvent(types, domain.EventSagaFailed) {
		t.Error("expected SAGA_FAILED event")
	}
	if containsEvent(types, domain.EventCompensationStarted) {
		t.Error("empty completed prefix must not compensate")
	}
}

func TestOrchestrator_CompensationFailure_LeavesResidue(t *testing.T) {
	h := newHarness()
	h.inventory.ReleaseErr = clients.Transient(context.DeadlineExceeded)
	order := testOrder("declined-card", "62701")

	result := h.submit(t, order)

	if result.Status != ResultFailed {
		t.Fatalf("expected FAILED (partial compensation), got %s", result.Status)
	}
	if len(result.FailedCompensations) != 1 || result.FailedCompensations[0] != StepNameInventory {
		t.Errorf("expected failed compensations [%s], got %v", StepNameInventory, result.FailedCompensations)
	}

	// Order fails for operator attention; the execution keeps COMPENSATING
	stored, _ := h.store.GetOrder(context.Background(), order.ID)
	if stored.Status != domain.OrderStatusFailed {
		t.Errorf("expected order FAILED, got %s", stored.Status)
	}
	exec, _ := h.store.GetExecution(context.Background(), result.ExecutionID)
	if exec.Status != domain.ExecutionStatusCompensating {
		t.Errorf("expected execution COMPENSATING, got %s", exec.Status)
	}

	types := h.eventTypes(t, order.ID)
	if !containsEvent(types, domain.EventStepCompensationFailed) {
		t.Error("expected STEP_COMPENSATION_FAILED event")
	}

	events, _ := h.store.ListEvents(context.Background(), order.ID)
	last := events[len(events)-1]
	if last.EventType != domain.EventCompensationCompleted {
		t.Fatalf("expected last event COMPENSATION_COMPLETED, got %s", last.EventType)
	}
	if last.Outcome != "PARTIAL_FAILURE" {
		t.Errorf("expected PARTIAL_FAILURE outcome, got %s", last.Outcome)
	}
}

func TestOrchestrator_CancelledRunStillCompensates(t *testing.T) {
	store := &guardedStore{repository.NewMemoryStore()}
	inventory := clients.NewFakeInventoryClient()
	payment := clients.NewFakePaymentClient()
	shipping := clients.NewFakeShippingClient()
	payment.AuthorizeErr = context.Canceled

	registry := MustNewRegistry(
		NewInventoryStep(inventory, time.Hour, 24*time.Hour),
		NewPaymentStep(payment, 24*time.Hour),
		NewShippingStep(shipping, 4*time.Hour),
	)
	recorder := NewEventRecorder(store, nil, nil)
	executor := NewStepExecutor(store, recorder, nil, time.Minute)
	compensator := NewCompensator(registry, store, recorder, nil)
	orch := NewOrchestrator(registry, store, executor, compensator, recorder, nil)

	bg := context.Background()
	order := testOrder("good-card", "62701")
	if err := store.CreateOrderWithItems(bg, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	cancel()

	result, err := orch.Execute(ctx, order)
	if err != nil {
		t.Fatalf("saga execution failed: %v", err)
	}
	if result.Status != ResultCompensated {
		t.Fatalf("expected COMPENSATED, got %s (%s)", result.Status, result.Reason)
	}
	if result.Reason != cancelledEffectUnknown {
		t.Errorf("expected reason %q, got %q", cancelledEffectUnknown, result.Reason)
	}

	// The reservation taken before the cancelled payment call must be released
	if inventory.ActiveCount() != 0 {
		t.Errorf("expected the reservation released, %d still active", inventory.ActiveCount())
	}

	exec, err := store.GetExecution(bg, result.ExecutionID)
	if err != nil {
		t.Fatalf("failed to load execution: %v", err)
	}
	if exec.Status != domain.ExecutionStatusCompensated {
		t.Errorf("expected execution COMPENSATED, got %s", exec.Status)
	}
	stored, err := store.GetOrder(bg, order.ID)
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}
	if stored.Status != domain.OrderStatusCompensated {
		t.Errorf("expected order COMPENSATED, got %s", stored.Status)
	}
}

func TestOrchestrator_EventSequenceIsMonotone(t *testing.T) {
	h := newHarness()
	order := testOrder("good-card", "62701")
	h.submit(t, order)

	events, err := h.store.ListEvents(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	for i, e := range events {
		if e.Sequence != int64(i+1) {
			t.Fatalf("event %d: expected sequence %d, got %d", i, i+1, e.Sequence)
		}
	}
}

func TestOrchestrator_Resume_SkipsValidSteps(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	order := testOrder("good-card", "62701")
	if err := h.store.CreateOrderWithItems(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	execution := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now(),
	}
	if err := h.store.CreateExecution(ctx, execution); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}

	reservationID := uuid.New().String()
	sctx := NewContext(order, execution.ID)
	sctx.Merge(map[string]string{KeyReservationID: reservationID})
	h.inventory.Active[reservationID] = true

	plan := &domain.ResumePlan{
		ResumeStepIndex:  1,
		ResumeStepName:   StepNamePayment,
		SkippedSteps:     []string{StepNameInventory},
		StepsToReExecute: []string{StepNamePayment, StepNameShipping},
	}
	carried := map[string]map[string]string{
		StepNameInventory: {KeyReservationID: reservationID},
	}

	result, err := h.orch.Resume(ctx, sctx, plan, carried, 1)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if result.Status != ResultSuccess {
		t.Fatalf("expected SUCCESS, got %s (%s)", result.Status, result.Reason)
	}

	// The skipped step must not call the collaborator
	if len(h.inventory.ReserveCalls) != 0 {
		t.Errorf("expected no reserve calls, got %d", len(h.inventory.ReserveCalls))
	}

	rows, _ := h.store.ListStepResults(ctx, execution.ID)
	if len(rows) != 3 {
		t.Fatalf("expected 3 step rows, got %d", len(rows))
	}
	if rows[0].Status != domain.StepStatusSkipped {
		t.Errorf("expected inventory SKIPPED, got %s", rows[0].Status)
	}
	if rows[0].StepData[KeyReservationID] != reservationID {
		t.Errorf("skipped row must carry the prior reservation id")
	}
	if rows[1].Status != domain.StepStatusCompleted || rows[2].Status != domain.StepStatusCompleted {
		t.Error("expected payment and shipping COMPLETED")
	}

	types := h.eventTypes(t, order.ID)
	if !containsEvent(types, domain.EventStepSkipped) {
		t.Error("expected STEP_SKIPPED event")
	}
}

func TestOrchestrator_Resume_FailureAfterSkipLeavesCarriedEffects(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	order := testOrder("declined-card", "62701")
	if err := h.store.CreateOrderWithItems(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	execution := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now(),
	}
	if err := h.store.CreateExecution(ctx, execution); err != nil {
		t.Fatalf("failed to create execution: %v", err)
	}

	reservationID := uuid.New().String()
	sctx := NewContext(order, execution.ID)
	sctx.Merge(map[string]string{KeyReservationID: reservationID})
	h.inventory.Active[reservationID] = true

	plan := &domain.ResumePlan{
		ResumeStepIndex:  1,
		ResumeStepName:   StepNamePayment,
		SkippedSteps:     []string{StepNameInventory},
		StepsToReExecute: []string{StepNamePayment, StepNameShipping},
	}
	carried := map[string]map[string]string{
		StepNameInventory: {KeyReservationID: reservationID},
	}

	result, err := h.orch.Resume(ctx, sctx, plan, carried, 1)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	// The skipped inventory row is not part of this execution's completed
	// prefix, so the declined payment fails the run without compensating it
	if result.Status != ResultFailed {
		t.Fatalf("expected FAILED, got %s (%s)", result.Status, result.Reason)
	}
	if len(result.CompensatedSteps) != 0 {
		t.Errorf("expected no compensated steps, got %v", result.CompensatedSteps)
	}
	if len(h.inventory.ReleaseCalls) != 0 {
		t.Errorf("expected no release calls, got %d", len(h.inventory.ReleaseCalls))
	}
	if h.inventory.ActiveCount() != 1 {
		t.Errorf("expected the carried reservation untouched, %d active", h.inventory.ActiveCount())
	}

	stored, _ := h.store.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusFailed {
		t.Errorf("expected order FAILED, got %s", stored.Status)
	}

	types := h.eventTypes(t, order.ID)
	if !containsEvent(types, domain.EventSagaFailed) {
		t.Error("expected SAGA_FAILED event")
	}
	if containsEvent(types, domain.EventCompensationStarted) {
		t.Error("compensation must not start over a skipped row")
	}
}

func TestOrchestrator_SingleActiveExecutionPerOrder(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	order := testOrder("good-card", "62701")
	if err := h.store.CreateOrderWithItems(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	first := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now(),
	}
	if err := h.store.CreateExecution(ctx, first); err != nil {
		t.Fatalf("failed to create first execution: %v", err)
	}

	second := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now(),
	}
	if err := h.store.CreateExecution(ctx, second); err != domain.ErrExecutionAlreadyActive {
		t.Fatalf("expected ErrExecutionAlreadyActive, got %v", err)
	}
}

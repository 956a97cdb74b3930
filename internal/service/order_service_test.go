package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderrush/saga-orchestrator/internal/clients"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/dto"
	"github.com/orderrush/saga-orchestrator/internal/history"
	"github.com/orderrush/saga-orchestrator/internal/progress"
	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/internal/saga"
)

type serviceFixture struct {
	store     *repository.MemoryStore
	inventory *clients.FakeInventoryClient
	payment   *clients.FakePaymentClient
	shipping  *clients.FakeShippingClient
	bus       *progress.Bus
	service   *OrderService
}

func newServiceFixture() *serviceFixture {
	store := repository.NewMemoryStore()
	inventory := clients.NewFakeInventoryClient()
	payment := clients.NewFakePaymentClient()
	shipping := clients.NewFakeShippingClient()
	bus := progress.NewBus(64)

	registry := saga.MustNewRegistry(
		saga.NewInventoryStep(inventory, time.Hour, 24*time.Hour),
		saga.NewPaymentStep(payment, 24*time.Hour),
		saga.NewShippingStep(shipping, 4*time.Hour),
	)
	fanout := NewEventFanout(bus, nil, "order-saga-events", nil)
	recorder := saga.NewEventRecorder(store, fanout, nil)
	executor := saga.NewStepExecutor(store, recorder, nil, 2*time.Minute)
	compensator := saga.NewCompensator(registry, store, recorder, nil)
	orchestrator := saga.NewOrchestrator(registry, store, executor, compensator, recorder, nil)
	planner := saga.NewPlanner(registry, store, saga.PlannerConfig{
		MaxAttempts:        3,
		RetryWindow:        24 * time.Hour,
		Cooldown:           0, // no cooldown so retries run back to back in tests
		NonRetryableTokens: []string{"FRAUD", "SUSPENDED", "CANCELLED"},
	})
	projector := history.NewProjector(store)
	svc := NewOrderService(store, orchestrator, planner, projector, recorder, bus, nil, nil)

	return &serviceFixture{
		store:     store,
		inventory: inventory,
		payment:   payment,
		shipping:  shipping,
		bus:       bus,
		service:   svc,
	}
}

func submitRequest(paymentMethodID, postalCode string) *dto.SubmitOrderRequest {
	return &dto.SubmitOrderRequest{
		CustomerID:      uuid.New().String(),
		PaymentMethodID: paymentMethodID,
		Items: []dto.OrderItemRequest{
			{ProductID: uuid.New().String(), ProductName: "Widget", Quantity: 2, UnitPriceInCents: 1999},
			{ProductID: uuid.New().String(), ProductName: "Gadget", Quantity: 1, UnitPriceInCents: 2000},
		},
		ShippingAddress: dto.ShippingAddressRequest{
			Street:     "123 Main St",
			City:       "Springfield",
			State:      "IL",
			PostalCode: postalCode,
			Country:    "US",
		},
	}
}

func TestOrderService_SubmitOrder_Success(t *testing.T) {
	f := newServiceFixture()

	result, err := f.service.SubmitOrder(context.Background(), submitRequest("good-card", "62701"))
	require.NoError(t, err)

	assert.Equal(t, saga.ResultSuccess, result.Status)
	assert.Equal(t, int64(5998), result.TotalChargedInCents)
	assert.NotEmpty(t, result.ConfirmationNumber)
	assert.NotEmpty(t, result.TrackingNumber)

	order, err := f.store.GetOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)
}

func TestOrderService_SubmitOrder_Validation(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	req := submitRequest("good-card", "62701")
	req.CustomerID = ""
	_, err := f.service.SubmitOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidCustomerID)

	req = submitRequest("", "62701")
	_, err = f.service.SubmitOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrMissingPaymentMethod)

	req = submitRequest("good-card", "62701")
	req.Items = nil
	_, err = f.service.SubmitOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrEmptyItems)

	req = submitRequest("good-card", "62701")
	req.Items[0].Quantity = 0
	_, err = f.service.SubmitOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrInvalidQuantity)

	req = submitRequest("good-card", "")
	_, err = f.service.SubmitOrder(ctx, req)
	assert.ErrorIs(t, err, domain.ErrIncompleteAddress)
}

func TestOrderService_SubmitOrder_DeclineCompensates(t *testing.T) {
	f := newServiceFixture()

	result, err := f.service.SubmitOrder(context.Background(), submitRequest("declined-card", "62701"))
	require.NoError(t, err)

	assert.Equal(t, saga.ResultCompensated, result.Status)
	assert.Equal(t, domain.ErrCodePaymentDeclined, result.ErrorCode)
	assert.Zero(t, f.inventory.ActiveCount(), "reservation must be released")

	order, err := f.store.GetOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompensated, order.Status)
}

func TestOrderService_RetryOrder_SucceedsWithUpdatedCard(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	submitted, err := f.service.SubmitOrder(ctx, submitRequest("declined-card", "62701"))
	require.NoError(t, err)
	require.Equal(t, saga.ResultCompensated, submitted.Status)

	retried, err := f.service.RetryOrder(ctx, submitted.OrderID, &dto.RetryOrderRequest{
		UpdatedPaymentMethodID: "good-card",
	})
	require.NoError(t, err)
	require.False(t, retried.NotEligible)

	assert.Equal(t, 1, retried.AttemptNumber)
	require.NotNil(t, retried.Result)
	assert.Equal(t, saga.ResultSuccess, retried.Result.Status)

	// Compensation released the reservation, so inventory re-executes
	assert.Len(t, f.inventory.ReserveCalls, 2)
	assert.Equal(t, 1, f.inventory.ActiveCount())

	order, err := f.store.GetOrder(ctx, submitted.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, order.Status)

	attempts, err := f.store.ListRetryAttempts(ctx, submitted.OrderID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.RetryOutcomeSuccess, attempts[0].Outcome)
	assert.NotNil(t, attempts[0].CompletedAt)
}

func TestOrderService_RetryOrder_FraudIsNotEligible(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	submitted, err := f.service.SubmitOrder(ctx, submitRequest("fraud-card", "62701"))
	require.NoError(t, err)
	require.Equal(t, saga.ResultCompensated, submitted.Status)

	retried, err := f.service.RetryOrder(ctx, submitted.OrderID, &dto.RetryOrderRequest{
		UpdatedPaymentMethodID: "good-card",
	})
	require.NoError(t, err)

	assert.True(t, retried.NotEligible)
	require.NotNil(t, retried.Eligibility)
	assert.False(t, retried.Eligibility.Eligible)

	found := false
	for _, b := range retried.Eligibility.Blockers {
		if b.Type == domain.BlockerType(domain.ErrCodeFraudDetected) {
			found = true
		}
	}
	assert.True(t, found, "expected FRAUD_DETECTED blocker, got %+v", retried.Eligibility.Blockers)

	// No attempt row is written for an ineligible retry
	attempts, err := f.store.ListRetryAttempts(ctx, submitted.OrderID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestOrderService_RetryOrder_ValidationBeforeAttemptRow(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	submitted, err := f.service.SubmitOrder(ctx, submitRequest("declined-card", "62701"))
	require.NoError(t, err)

	_, err = f.service.RetryOrder(ctx, submitted.OrderID, &dto.RetryOrderRequest{
		UpdatedPaymentMethodID: "good-card",
		UpdatedShippingAddress: &dto.ShippingAddressRequest{Street: "456 Oak Ave", City: "Springfield"},
	})
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err), "expected a validation error, got %v", err)

	// The failed validation must not have burned an attempt
	attempts, listErr := f.store.ListRetryAttempts(ctx, submitted.OrderID)
	require.NoError(t, listErr)
	assert.Empty(t, attempts)

	// A corrected request still goes through
	retried, err := f.service.RetryOrder(ctx, submitted.OrderID, &dto.RetryOrderRequest{
		UpdatedPaymentMethodID: "good-card",
	})
	require.NoError(t, err)
	assert.Equal(t, saga.ResultSuccess, retried.Result.Status)
}

func TestOrderService_RetryOrder_CompensationResidueBlocks(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	// Decline payment and fail the inventory release so compensation stalls
	f.inventory.ReleaseErr = clients.Transient(context.DeadlineExceeded)
	submitted, err := f.service.SubmitOrder(ctx, submitRequest("declined-card", "62701"))
	require.NoError(t, err)
	require.Equal(t, saga.ResultFailed, submitted.Status)

	retried, err := f.service.RetryOrder(ctx, submitted.OrderID, &dto.RetryOrderRequest{
		UpdatedPaymentMethodID: "good-card",
	})
	require.NoError(t, err)
	require.True(t, retried.NotEligible)

	found := false
	for _, b := range retried.Eligibility.Blockers {
		if b.Type == domain.BlockerExecutionActive {
			found = true
		}
	}
	assert.True(t, found, "expected EXECUTION_ACTIVE blocker, got %+v", retried.Eligibility.Blockers)

	// The refused retry must leave the order exactly as it found it
	order, err := f.store.GetOrder(ctx, submitted.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, order.Status)

	// A later eligibility check still reads the order as FAILED, never RETRYING
	elig, err := f.service.CheckRetryEligibility(ctx, submitted.OrderID)
	require.NoError(t, err)
	for _, b := range elig.Blockers {
		assert.NotEqual(t, domain.BlockerOrderNotRetryable, b.Type,
			"a refused retry must not strand the order in RETRYING")
	}
}

func TestOrderService_RetryOrder_AttemptsExhausted(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	submitted, err := f.service.SubmitOrder(ctx, submitRequest("declined-card", "62701"))
	require.NoError(t, err)

	// Three failed retries without fixing the card
	for i := 1; i <= 3; i++ {
		retried, err := f.service.RetryOrder(ctx, submitted.OrderID, nil)
		require.NoError(t, err)
		require.False(t, retried.NotEligible, "attempt %d should run", i)
		assert.Equal(t, i, retried.AttemptNumber)
		assert.Equal(t, saga.ResultCompensated, retried.Result.Status)
	}

	retried, err := f.service.RetryOrder(ctx, submitted.OrderID, &dto.RetryOrderRequest{
		UpdatedPaymentMethodID: "good-card",
	})
	require.NoError(t, err)
	assert.True(t, retried.NotEligible)

	found := false
	for _, b := range retried.Eligibility.Blockers {
		if b.Type == domain.BlockerAttemptsExhausted {
			found = true
		}
	}
	assert.True(t, found, "expected ATTEMPTS_EXHAUSTED, got %+v", retried.Eligibility.Blockers)
	assert.Zero(t, retried.Eligibility.AttemptsRemaining)
}

func TestOrderService_GetStatus(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	submitted, err := f.service.SubmitOrder(ctx, submitRequest("good-card", "62701"))
	require.NoError(t, err)

	status, err := f.service.GetStatus(ctx, submitted.OrderID)
	require.NoError(t, err)

	assert.Equal(t, submitted.OrderID, status.OrderID)
	assert.Equal(t, string(domain.OrderStatusCompleted), status.OverallStatus)
	require.Len(t, status.Steps, 3)
	for _, step := range status.Steps {
		assert.Equal(t, string(domain.StepStatusCompleted), step.Status)
	}

	_, err = f.service.GetStatus(ctx, uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderService_GetHistory(t *testing.T) {
	f := newServiceFixture()
	ctx := context.Background()

	submitted, err := f.service.SubmitOrder(ctx, submitRequest("declined-card", "62701"))
	require.NoError(t, err)

	timeline, err := f.service.GetHistory(ctx, submitted.OrderID)
	require.NoError(t, err)

	assert.Equal(t, submitted.OrderID, timeline.OrderID)
	assert.NotEmpty(t, timeline.Entries)
	last := timeline.Entries[len(timeline.Entries)-1]
	assert.Equal(t, "Order reversed", last.Title)

	_, err = f.service.GetHistory(ctx, uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderService_ProgressStream(t *testing.T) {
	f := newServiceFixture()

	// Submission is synchronous, so watch a known order id driven through the
	// recorder's fanout path
	orderID := uuid.New().String()
	sub := f.service.Subscribe(orderID)
	defer sub.Close()
	assert.Equal(t, 1, f.bus.SubscriberCount(orderID))

	f.bus.Publish(&domain.OrderEvent{OrderID: orderID, EventType: domain.EventSagaStarted})
	f.bus.Publish(&domain.OrderEvent{OrderID: orderID, EventType: domain.EventSagaCompleted})

	assert.Equal(t, domain.EventSagaStarted, (<-sub.Events()).EventType)
	assert.Equal(t, domain.EventSagaCompleted, (<-sub.Events()).EventType)
	assert.Equal(t, domain.EventTerminal, (<-sub.Events()).EventType)
	_, open := <-sub.Events()
	assert.False(t, open, "stream must close after the terminal marker")
}

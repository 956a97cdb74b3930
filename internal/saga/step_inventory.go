package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/clients"
	"github.com/orderrush/saga-orchestrator/internal/domain"
)

// StepNameInventory is the stable name of the inventory reservation step
const StepNameInventory = "Inventory Reservation"

// InventoryStep reserves the order's items and releases the reservation on
// compensation. A stored reservation stays VALID within its TTL, is
// REFRESHABLE within the refresh window, and must re-execute after that.
type InventoryStep struct {
	client        clients.InventoryClient
	ttl           time.Duration
	refreshWindow time.Duration
}

// NewInventoryStep creates the inventory step
func NewInventoryStep(client clients.InventoryClient, ttl, refreshWindow time.Duration) *InventoryStep {
	return &InventoryStep{client: client, ttl: ttl, refreshWindow: refreshWindow}
}

func (s *InventoryStep) Name() string { return StepNameInventory }
func (s *InventoryStep) Order() int   { return 1 }

func (s *InventoryStep) Execute(ctx context.Context, sctx *Context) *ExecuteResult {
	reservation, err := s.client.Reserve(ctx, clients.ReserveRequest{
		OrderID: sctx.Order.ID,
		Items:   sctx.Order.Items,
	}, stepIdempotencyKey(sctx, StepNameInventory))
	if err != nil {
		if ce, ok := clients.AsClientError(err); ok {
			return resultFromClientError(ce.Code, ce.Message)
		}
		return resultFromClientError("", err.Error())
	}

	return &ExecuteResult{
		Success: true,
		Data: map[string]string{
			KeyReservationID: reservation.ReservationID,
		},
	}
}

func (s *InventoryStep) Compensate(ctx context.Context, sctx *Context) *CompensateResult {
	reservationID := sctx.Get(KeyReservationID)
	if reservationID == "" {
		// Nothing was reserved; treat as already undone
		return &CompensateResult{Success: true, Message: "no reservation to release"}
	}

	if err := s.client.Release(ctx, reservationID); err != nil {
		return &CompensateResult{Success: false, Message: fmt.Sprintf("failed to release reservation %s: %v", reservationID, err)}
	}
	return &CompensateResult{Success: true}
}

func (s *InventoryStep) ResultValidity(stored *domain.SagaStepResult, sctx *Context, now time.Time) domain.ResultValidity {
	done, ok := completedAt(stored)
	if !ok || stored.StepData[KeyReservationID] == "" {
		return domain.ValidityMustReexecute
	}
	age := now.Sub(done)
	switch {
	case age <= s.ttl:
		return domain.ValidityValid
	case age <= s.refreshWindow:
		return domain.ValidityRefreshable
	default:
		return domain.ValidityMustReexecute
	}
}

// stepIdempotencyKey derives a stable per-execution, per-step key so that
// collaborator retries never double-apply a side effect
func stepIdempotencyKey(sctx *Context, stepName string) string {
	return fmt.Sprintf("%s:%s", sctx.ExecutionID, stepName)
}

package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/clients"
	"github.com/orderrush/saga-orchestrator/internal/domain"
)

// StepNameShipping is the stable name of the shipping arrangement step
const StepNameShipping = "Shipping Arrangement"

// keyAddressFingerprint records which address a shipment was arranged for,
// so an address change invalidates the stored result
const keyAddressFingerprint = "ADDRESS_FINGERPRINT"

// ShippingStep arranges a shipment for the order and cancels it on
// compensation.
type ShippingStep struct {
	client clients.ShippingClient
	ttl    time.Duration
}

// NewShippingStep creates the shipping step
func NewShippingStep(client clients.ShippingClient, ttl time.Duration) *ShippingStep {
	return &ShippingStep{client: client, ttl: ttl}
}

func (s *ShippingStep) Name() string { return StepNameShipping }
func (s *ShippingStep) Order() int   { return 3 }

func (s *ShippingStep) Execute(ctx context.Context, sctx *Context) *ExecuteResult {
	shipment, err := s.client.Arrange(ctx, clients.ArrangeRequest{
		OrderID: sctx.Order.ID,
		Address: sctx.ShippingAddress,
		Items:   sctx.Order.Items,
	}, stepIdempotencyKey(sctx, StepNameShipping))
	if err != nil {
		if ce, ok := clients.AsClientError(err); ok {
			return resultFromClientError(ce.Code, ce.Message)
		}
		return resultFromClientError("", err.Error())
	}

	return &ExecuteResult{
		Success: true,
		Data: map[string]string{
			KeyShipmentID:         shipment.ShipmentID,
			KeyTrackingNumber:     shipment.TrackingNumber,
			KeyEstimatedDelivery:  shipment.EstimatedDelivery.Format(time.RFC3339),
			keyAddressFingerprint: sctx.ShippingAddress.Fingerprint(),
		},
	}
}

func (s *ShippingStep) Compensate(ctx context.Context, sctx *Context) *CompensateResult {
	shipmentID := sctx.Get(KeyShipmentID)
	if shipmentID == "" {
		return &CompensateResult{Success: true, Message: "no shipment to cancel"}
	}

	if err := s.client.Cancel(ctx, shipmentID); err != nil {
		return &CompensateResult{Success: false, Message: fmt.Sprintf("failed to cancel shipment %s: %v", shipmentID, err)}
	}
	return &CompensateResult{Success: true}
}

func (s *ShippingStep) ResultValidity(stored *domain.SagaStepResult, sctx *Context, now time.Time) domain.ResultValidity {
	done, ok := completedAt(stored)
	if !ok || stored.StepData[KeyShipmentID] == "" {
		return domain.ValidityMustReexecute
	}
	if stored.StepData[keyAddressFingerprint] != sctx.ShippingAddress.Fingerprint() {
		return domain.ValidityMustReexecute
	}
	if now.Sub(done) <= s.ttl {
		return domain.ValidityValid
	}
	return domain.ValidityMustReexecute
}

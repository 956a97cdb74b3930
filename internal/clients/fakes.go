package clients

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/orderrush/saga-orchestrator/internal/domain"
)

// Fake collaborator clients for tests and local development. They honor
// the same error contracts as the real services:
//   - all-zero product id      -> INVENTORY_UNAVAILABLE
//   - payment method "declined-card" -> PAYMENT_DECLINED
//   - payment method "fraud-card"    -> FRAUD_DETECTED
//   - postal code "00000"            -> INVALID_ADDRESS
// Every call is recorded so tests can assert ordering and idempotence.

const zeroProductID = "00000000-0000-0000-0000-000000000000"

// FakeInventoryClient is an in-memory InventoryClient
type FakeInventoryClient struct {
	mu sync.Mutex

	// ReservationTTL controls the ExpiresAt of new reservations (default 1h)
	ReservationTTL time.Duration
	// ReserveErr forces Reserve to fail when set
	ReserveErr error
	// ReleaseErr forces Release to fail when set
	ReleaseErr error

	ReserveCalls []ReserveRequest
	ReleaseCalls []string
	// Active holds reservation ids that have not been released
	Active map[string]bool
}

func NewFakeInventoryClient() *FakeInventoryClient {
	return &FakeInventoryClient{
		ReservationTTL: time.Hour,
		Active:         make(map[string]bool),
	}
}

func (f *FakeInventoryClient) Reserve(ctx context.Context, req ReserveRequest, idempotencyKey string) (*Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ReserveCalls = append(f.ReserveCalls, req)

	if f.ReserveErr != nil {
		return nil, f.ReserveErr
	}
	for _, item := range req.Items {
		if item.ProductID == zeroProductID {
			return nil, &ClientError{
				Code:    domain.ErrCodeInventoryUnavailable,
				Message: fmt.Sprintf("product %s is out of stock", item.ProductID),
			}
		}
	}

	id := uuid.New().String()
	f.Active[id] = true
	return &Reservation{
		ReservationID: id,
		ExpiresAt:     time.Now().Add(f.ReservationTTL),
	}, nil
}

func (f *FakeInventoryClient) Release(ctx context.Context, reservationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ReleaseCalls = append(f.ReleaseCalls, reservationID)
	if f.ReleaseErr != nil {
		return f.ReleaseErr
	}
	delete(f.Active, reservationID)
	return nil
}

// ActiveCount returns the number of un-released reservations
func (f *FakeInventoryClient) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Active)
}

// FakePaymentClient is an in-memory PaymentClient
type FakePaymentClient struct {
	mu sync.Mutex

	AuthorizationTTL time.Duration
	AuthorizeErr     error
	VoidErr          error

	AuthorizeCalls []AuthorizeRequest
	VoidCalls      []string
	// Active holds authorization ids that have not been voided
	Active map[string]bool
}

func NewFakePaymentClient() *FakePaymentClient {
	return &FakePaymentClient{
		AuthorizationTTL: 24 * time.Hour,
		Active:           make(map[string]bool),
	}
}

func (f *FakePaymentClient) Authorize(ctx context.Context, req AuthorizeRequest, idempotencyKey string) (*Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.AuthorizeCalls = append(f.AuthorizeCalls, req)

	if f.AuthorizeErr != nil {
		return nil, f.AuthorizeErr
	}
	switch req.PaymentMethodID {
	case "declined-card":
		return nil, &ClientError{
			Code:    domain.ErrCodePaymentDeclined,
			Message: "card was declined by the issuer",
		}
	case "fraud-card":
		return nil, &ClientError{
			Code:    domain.ErrCodeFraudDetected,
			Message: "FRAUD_DETECTED: transaction flagged by risk engine",
		}
	}

	id := uuid.New().String()
	f.Active[id] = true
	now := time.Now()
	return &Authorization{
		AuthorizationID: id,
		CapturedAt:      now,
		ExpiresAt:       now.Add(f.AuthorizationTTL),
	}, nil
}

func (f *FakePaymentClient) Void(ctx context.Context, authorizationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.VoidCalls = append(f.VoidCalls, authorizationID)
	if f.VoidErr != nil {
		return f.VoidErr
	}
	delete(f.Active, authorizationID)
	return nil
}

// ActiveCount returns the number of un-voided authorizations
func (f *FakePaymentClient) ActiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Active)
}

// FakeShippingClient is an in-memory ShippingClient
type FakeShippingClient struct {
	mu sync.Mutex

	ArrangeErr error
	CancelErr  error

	ArrangeCalls []ArrangeRequest
	CancelCalls  []string
	Active       map[string]bool
}

func NewFakeShippingClient() *FakeShippingClient {
	return &FakeShippingClient{
		Active: make(map[string]bool),
	}
}

func (f *FakeShippingClient) Arrange(ctx context.Context, req ArrangeRequest, idempotencyKey string) (*Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ArrangeCalls = append(f.ArrangeCalls, req)

	if f.ArrangeErr != nil {
		return nil, f.ArrangeErr
	}
	if req.Address.PostalCode == "00000" {
		return nil, &ClientError{
			Code:    domain.ErrCodeInvalidAddress,
			Message: fmt.Sprintf("postal code %q is not deliverable", req.Address.PostalCode),
		}
	}

	id := uuid.New().String()
	f.Active[id] = true
	return &Shipment{
		ShipmentID:        id,
		TrackingNumber:    "TRK-" + uuid.New().String()[:8],
		EstimatedDelivery: time.Now().Add(72 * time.Hour),
	}, nil
}

func (f *FakeShippingClient) Cancel(ctx context.Context, shipmentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CancelCalls = append(f.CancelCalls, shipmentID)
	if f.CancelErr != nil {
		return f.CancelErr
	}
	delete(f.Active, shipmentID)
	return nil
}

package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
)

// ClientError is a business error returned by a collaborator service.
// Transport faults that survive the client's own retries are reported
// with Code=TRANSIENT.
type ClientError struct {
	Code    string
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsClientError unwraps err into a ClientError if possible
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// Transient wraps a transport-level fault as a TRANSIENT client error
func Transient(err error) *ClientError {
	return &ClientError{Code: domain.ErrCodeTransient, Message: err.Error()}
}

// ReserveRequest asks the inventory service to hold items for an order
type ReserveRequest struct {
	OrderID string             `json:"order_id"`
	Items   []domain.OrderItem `json:"items"`
}

// Reservation is a successful inventory hold
type Reservation struct {
	ReservationID string    `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// InventoryClient talks to the inventory service
type InventoryClient interface {
	Reserve(ctx context.Context, req ReserveRequest, idempotencyKey string) (*Reservation, error)
	Release(ctx context.Context, reservationID string) error
}

// AuthorizeRequest asks the payment service to authorize a charge
type AuthorizeRequest struct {
	OrderID         string `json:"order_id"`
	PaymentMethodID string `json:"payment_method_id"`
	AmountInCents   int64  `json:"amount_in_cents"`
}

// Authorization is a successful payment authorization
type Authorization struct {
	AuthorizationID string    `json:"authorization_id"`
	CapturedAt      time.Time `json:"captured_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// PaymentClient talks to the payment service
type PaymentClient interface {
	Authorize(ctx context.Context, req AuthorizeRequest, idempotencyKey string) (*Authorization, error)
	Void(ctx context.Context, authorizationID string) error
}

// ArrangeRequest asks the shipping service to create a shipment
type ArrangeRequest struct {
	OrderID string                 `json:"order_id"`
	Address domain.ShippingAddress `json:"address"`
	Items   []domain.OrderItem     `json:"items"`
}

// Shipment is a successful shipping arrangement
type Shipment struct {
	ShipmentID        string    `json:"shipment_id"`
	TrackingNumber    string    `json:"tracking_number"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
}

// ShippingClient talks to the shipping service
type ShippingClient interface {
	Arrange(ctx context.Context, req ArrangeRequest, idempotencyKey string) (*Shipment, error)
	Cancel(ctx context.Context, shipmentID string) error
}

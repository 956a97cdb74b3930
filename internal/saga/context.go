package saga

import (
	"github.com/orderrush/saga-orchestrator/internal/domain"
)

// Context keys written by steps and read by later steps, compensations and
// the retry planner.
const (
	KeyReservationID     = "RESERVATION_ID"
	KeyAuthorizationID   = "AUTHORIZATION_ID"
	KeyShipmentID        = "SHIPMENT_ID"
	KeyTrackingNumber    = "TRACKING_NUMBER"
	KeyEstimatedDelivery = "ESTIMATED_DELIVERY"
)

// KnownDataKeys are the context keys the core recognises when rebuilding a
// context from persisted step data.
var KnownDataKeys = []string{
	KeyReservationID,
	KeyAuthorizationID,
	KeyShipmentID,
	KeyTrackingNumber,
	KeyEstimatedDelivery,
}

// Context carries per-execution state along the step pipeline. It is owned by
// the orchestrator for the execution's lifetime and passed by reference; step
// Execute writes outputs into Data, step Compensate reads them.
type Context struct {
	Order           *domain.Order
	ExecutionID     string
	CustomerID      string
	PaymentMethodID string
	ShippingAddress domain.ShippingAddress
	Data            map[string]string
}

// NewContext builds a fresh context for an execution of the given order
func NewContext(order *domain.Order, executionID string) *Context {
	return &Context{
		Order:           order,
		ExecutionID:     executionID,
		CustomerID:      order.CustomerID,
		PaymentMethodID: order.PaymentMethodID,
		ShippingAddress: order.ShippingAddress,
		Data:            make(map[string]string),
	}
}

// Merge copies the given step outputs into the context data
func (c *Context) Merge(data map[string]string) {
	for k, v := range data {
		c.Data[k] = v
	}
}

// Get returns the value for a context key, or ""
func (c *Context) Get(key string) string {
	return c.Data[key]
}

// Has reports whether the key is present and non-empty
func (c *Context) Has(key string) bool {
	return c.Data[key] != ""
}

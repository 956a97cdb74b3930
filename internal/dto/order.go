package dto

import (
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/saga"
)

// ShippingAddressRequest is an address in an API request
type ShippingAddressRequest struct {
	Street     string `json:"street" binding:"required"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state" binding:"required"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required"`
}

// ToDomain converts the request address to a domain address
func (a *ShippingAddressRequest) ToDomain() domain.ShippingAddress {
	return domain.ShippingAddress{
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

// OrderItemRequest is one line item in a submit request
type OrderItemRequest struct {
	ProductID        string `json:"product_id" binding:"required,uuid"`
	ProductName      string `json:"product_name,omitempty"`
	Quantity         int    `json:"quantity" binding:"required,min=1"`
	UnitPriceInCents int64  `json:"unit_price_in_cents" binding:"required,min=1"`
}

// SubmitOrderRequest represents a request to submit an order
type SubmitOrderRequest struct {
	CustomerID      string                 `json:"customer_id" binding:"required,uuid"`
	Items           []OrderItemRequest     `json:"items" binding:"required,min=1,dive"`
	PaymentMethodID string                 `json:"payment_method_id" binding:"required"`
	ShippingAddress ShippingAddressRequest `json:"shipping_address" binding:"required"`
}

// RetryOrderRequest represents a request to retry a failed order
type RetryOrderRequest struct {
	UpdatedPaymentMethodID string                  `json:"updated_payment_method_id,omitempty"`
	UpdatedShippingAddress *ShippingAddressRequest `json:"updated_shipping_address,omitempty"`
	AcknowledgedChanges    []string                `json:"acknowledged_changes,omitempty"`
}

// ToSagaRequest converts the API request to the planner's retry request
func (r *RetryOrderRequest) ToSagaRequest() *saga.RetryRequest {
	req := &saga.RetryRequest{
		UpdatedPaymentMethodID: r.UpdatedPaymentMethodID,
		AcknowledgedChanges:    r.AcknowledgedChanges,
	}
	if r.UpdatedShippingAddress != nil {
		addr := r.UpdatedShippingAddress.ToDomain()
		req.UpdatedShippingAddress = &addr
	}
	return req
}

// SagaResultResponse represents the outcome of a saga run in API responses
type SagaResultResponse struct {
	Status              string   `json:"status"` // SUCCESS, FAILED, COMPENSATED
	OrderID             string   `json:"order_id"`
	ExecutionID         string   `json:"execution_id"`
	ConfirmationNumber  string   `json:"confirmation_number,omitempty"`
	TotalChargedInCents int64    `json:"total_charged_in_cents,omitempty"`
	TrackingNumber      string   `json:"tracking_number,omitempty"`
	EstimatedDelivery   string   `json:"estimated_delivery,omitempty"`
	FailedStep          string   `json:"failed_step,omitempty"`
	ErrorCode           string   `json:"error_code,omitempty"`
	Reason              string   `json:"reason,omitempty"`
	CompensatedSteps    []string `json:"compensated_steps,omitempty"`
	FailedCompensations []string `json:"failed_compensations,omitempty"`
}

// FromSagaResult converts an orchestrator result to an API response
func FromSagaResult(result *saga.Result) *SagaResultResponse {
	return &SagaResultResponse{
		Status:              string(result.Status),
		OrderID:             result.OrderID,
		ExecutionID:         result.ExecutionID,
		ConfirmationNumber:  result.ConfirmationNumber,
		TotalChargedInCents: result.TotalChargedInCents,
		TrackingNumber:      result.TrackingNumber,
		EstimatedDelivery:   result.EstimatedDelivery,
		FailedStep:          result.FailedStep,
		ErrorCode:           result.ErrorCode,
		Reason:              result.Reason,
		CompensatedSteps:    result.CompensatedSteps,
		FailedCompensations: result.FailedCompensations,
	}
}

// StepStatusResponse is one step's state in a status response
type StepStatusResponse struct {
	Name        string     `json:"name"`
	Order       int        `json:"order"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// OrderStatusResponse represents the current state of an order
type OrderStatusResponse struct {
	OrderID       string               `json:"order_id"`
	OverallStatus string               `json:"overall_status"`
	CurrentStep   string               `json:"current_step,omitempty"`
	Steps         []StepStatusResponse `json:"steps"`
	LastUpdated   time.Time            `json:"last_updated"`
	TraceContext  string               `json:"trace_context,omitempty"`
}

// RetryResultResponse represents the outcome of a retry request
type RetryResultResponse struct {
	Status        string              `json:"status"` // SUCCESS, FAILED, COMPENSATED, NOT_ELIGIBLE
	AttemptNumber int                 `json:"attempt_number,omitempty"`
	Eligibility   *domain.Eligibility `json:"eligibility,omitempty"`
	Result        *SagaResultResponse `json:"result,omitempty"`
}

// OrderEventResponse is one progress event on the status stream
type OrderEventResponse struct {
	EventType    string            `json:"event_type"`
	StepName     string            `json:"step_name,omitempty"`
	Outcome      string            `json:"outcome,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// FromOrderEvent converts a domain event to its stream representation
func FromOrderEvent(event *domain.OrderEvent) *OrderEventResponse {
	return &OrderEventResponse{
		EventType:    string(event.EventType),
		StepName:     event.StepName,
		Outcome:      event.Outcome,
		Details:      event.Details,
		ErrorCode:    event.ErrorCode,
		ErrorMessage: event.ErrorMessage,
		Timestamp:    event.Timestamp,
	}
}

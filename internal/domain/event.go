package domain

import (
	"time"
)

// EventType identifies a timeline / progress event
type EventType string

const (
	EventSagaStarted            EventType = "SAGA_STARTED"
	EventStepStarted            EventType = "STEP_STARTED"
	EventStepCompleted          EventType = "STEP_COMPLETED"
	EventStepFailed             EventType = "STEP_FAILED"
	EventStepSkipped            EventType = "STEP_SKIPPED"
	EventCompensationStarted    EventType = "COMPENSATION_STARTED"
	EventStepCompensated        EventType = "STEP_COMPENSATED"
	EventStepCompensationFailed EventType = "STEP_COMPENSATION_FAILED"
	EventCompensationCompleted  EventType = "COMPENSATION_COMPLETED"
	EventSagaCompleted          EventType = "SAGA_COMPLETED"
	EventSagaFailed             EventType = "SAGA_FAILED"
	EventRetryInitiated         EventType = "RETRY_INITIATED"

	// Progress bus markers; never persisted
	EventDropped  EventType = "DROPPED"
	EventTerminal EventType = "TERMINAL"
)

// IsTerminalEvent reports whether this event ends a saga execution
func (t EventType) IsTerminalEvent() bool {
	switch t {
	case EventSagaCompleted, EventSagaFailed, EventCompensationCompleted:
		return true
	}
	return false
}

// OrderEvent is one append-only timeline entry for an order.
// Sequence is assigned by the store and is monotone per order.
type OrderEvent struct {
	ID           string            `json:"id"`
	OrderID      string            `json:"order_id"`
	Sequence     int64             `json:"sequence"`
	EventType    EventType         `json:"event_type"`
	StepName     string            `json:"step_name,omitempty"`
	Outcome      string            `json:"outcome,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Step error codes surfaced by collaborators and the executor
const (
	ErrCodeInventoryUnavailable = "INVENTORY_UNAVAILABLE"
	ErrCodePaymentDeclined      = "PAYMENT_DECLINED"
	ErrCodeFraudDetected        = "FRAUD_DETECTED"
	ErrCodeInvalidAddress       = "INVALID_ADDRESS"
	ErrCodeShippingUnavailable  = "SHIPPING_UNAVAILABLE"
	ErrCodeTransient            = "TRANSIENT"
)

// SuggestedActionFor maps a step error code to a customer-facing action
func SuggestedActionFor(errorCode string) string {
	switch errorCode {
	case ErrCodePaymentDeclined:
		return "Update your payment method and retry the order"
	case ErrCodeFraudDetected:
		return "Contact customer support"
	case ErrCodeInvalidAddress:
		return "Verify your shipping address and retry the order"
	case ErrCodeShippingUnavailable:
		return "Try a different shipping address or retry later"
	case ErrCodeInventoryUnavailable:
		return "Confirm item availability and retry the order"
	case ErrCodeTransient:
		return "Retry the order; the failure was temporary"
	}
	return "Contact customer support if the problem persists"
}

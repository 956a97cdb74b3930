package domain

import (
	"time"
)

// OrderStatus represents the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "PENDING"
	OrderStatusProcessing   OrderStatus = "PROCESSING"
	OrderStatusCompleted    OrderStatus = "COMPLETED"
	OrderStatusFailed       OrderStatus = "FAILED"
	OrderStatusCompensating OrderStatus = "COMPENSATING"
	OrderStatusCompensated  OrderStatus = "COMPENSATED"
	OrderStatusRetrying     OrderStatus = "RETRYING"
)

// IsTerminal reports whether no further transition may leave this status.
// RETRYING is not terminal: a retry moves the order back to PROCESSING.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCompensated, OrderStatusFailed:
		return true
	}
	return false
}

// IsRetryable reports whether an order in this status may be retried
func (s OrderStatus) IsRetryable() bool {
	return s == OrderStatusFailed || s == OrderStatusCompensated
}

// ShippingAddress is the delivery address attached to an order
type ShippingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// IsComplete reports whether every address field is present
func (a ShippingAddress) IsComplete() bool {
	return a.Street != "" && a.City != "" && a.State != "" &&
		a.PostalCode != "" && a.Country != ""
}

// MissingField returns the name of the first empty address field, or ""
func (a ShippingAddress) MissingField() string {
	switch {
	case a.Street == "":
		return "street"
	case a.City == "":
		return "city"
	case a.State == "":
		return "state"
	case a.PostalCode == "":
		return "postal_code"
	case a.Country == "":
		return "country"
	}
	return ""
}

// Fingerprint returns a canonical string over all address fields, used to
// detect address changes between saga attempts
func (a ShippingAddress) Fingerprint() string {
	return a.Street + "|" + a.City + "|" + a.State + "|" + a.PostalCode + "|" + a.Country
}

// Order represents an order driven through the saga
type Order struct {
	ID                 string          `json:"id"`
	CustomerID         string          `json:"customer_id"`
	Items              []OrderItem     `json:"items"`
	TotalAmountInCents int64           `json:"total_amount_in_cents"`
	Status             OrderStatus     `json:"status"`
	PaymentMethodID    string          `json:"payment_method_id"`
	ShippingAddress    ShippingAddress `json:"shipping_address"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// OrderItem is a single line item of an order
type OrderItem struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	ProductID        string `json:"product_id"`
	ProductName      string `json:"product_name"`
	Quantity         int    `json:"quantity"`
	UnitPriceInCents int64  `json:"unit_price_in_cents"`
}

// TotalInCents returns the sum of quantity * unit price over all items
func TotalInCents(items []OrderItem) int64 {
	var total int64
	for _, it := range items {
		total += int64(it.Quantity) * it.UnitPriceInCents
	}
	return total
}

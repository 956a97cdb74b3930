package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/orderrush/saga-orchestrator/pkg/retry"
)

// apiResponse is the JSON envelope used by all collaborator services
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// httpCaller issues JSON POST calls against one collaborator service.
// Transport faults and 5xx responses are retried with backoff; business
// errors (4xx with an error envelope) are permanent.
type httpCaller struct {
	baseURL    string
	httpClient *http.Client
	retrier    *retry.Retrier
}

// CallerOptions configures a collaborator HTTP client
type CallerOptions struct {
	// CallTimeout bounds one HTTP round trip
	CallTimeout time.Duration
	// TotalTimeout bounds the whole call including retries
	TotalTimeout time.Duration
	// MaxRetries is the number of retries on transient faults
	MaxRetries int
}

// DefaultCallerOptions returns the default client policy
func DefaultCallerOptions() CallerOptions {
	return CallerOptions{
		CallTimeout:  30 * time.Second,
		TotalTimeout: 2 * time.Minute,
		MaxRetries:   2,
	}
}

func newHTTPCaller(baseURL string, opts CallerOptions) *httpCaller {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = 2 * time.Minute
	}
	return &httpCaller{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: opts.CallTimeout,
		},
		retrier: retry.New(&retry.Config{
			MaxRetries:      opts.MaxRetries,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.1,
		}),
	}
}

// postJSON calls path with body and decodes the envelope's data into out.
// out may be nil for calls with no response payload.
func (c *httpCaller) postJSON(ctx context.Context, path, idempotencyKey string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	op := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		var envelope apiResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&envelope); decErr != nil {
			if resp.StatusCode >= 500 {
				return fmt.Errorf("server error %d", resp.StatusCode)
			}
			return retry.Permanent(fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, decErr))
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server error %d", resp.StatusCode)
		}

		if !envelope.Success || resp.StatusCode >= 400 {
			code := "UNKNOWN"
			message := fmt.Sprintf("unexpected status %d", resp.StatusCode)
			if envelope.Error != nil {
				code = envelope.Error.Code
				message = envelope.Error.Message
			}
			return retry.Permanent(&ClientError{Code: code, Message: message})
		}

		if out != nil && len(envelope.Data) > 0 {
			if err := json.Unmarshal(envelope.Data, out); err != nil {
				return retry.Permanent(fmt.Errorf("failed to decode response data: %w", err))
			}
		}
		return nil
	}

	result := c.retrier.Do(ctx, op)
	if result.Err == nil {
		return nil
	}

	// Business errors pass through intact; everything else collapses to TRANSIENT
	if ce, ok := AsClientError(result.Err); ok {
		return ce
	}
	final := result.Err
	if result.LastError != nil {
		final = result.LastError
	}
	if ce, ok := AsClientError(final); ok {
		return ce
	}
	return Transient(final)
}

// HTTPInventoryClient calls the inventory service over HTTP
type HTTPInventoryClient struct {
	caller *httpCaller
}

// NewHTTPInventoryClient creates an inventory client for the given base URL
func NewHTTPInventoryClient(baseURL string, opts CallerOptions) *HTTPInventoryClient {
	return &HTTPInventoryClient{caller: newHTTPCaller(baseURL, opts)}
}

func (c *HTTPInventoryClient) Reserve(ctx context.Context, req ReserveRequest, idempotencyKey string) (*Reservation, error) {
	var out Reservation
	if err := c.caller.postJSON(ctx, "/api/v1/reservations", idempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPInventoryClient) Release(ctx context.Context, reservationID string) error {
	body := map[string]string{"reservation_id": reservationID}
	return c.caller.postJSON(ctx, "/api/v1/reservations/release", reservationID, body, nil)
}

// HTTPPaymentClient calls the payment service over HTTP
type HTTPPaymentClient struct {
	caller *httpCaller
}

// NewHTTPPaymentClient creates a payment client for the given base URL
func NewHTTPPaymentClient(baseURL string, opts CallerOptions) *HTTPPaymentClient {
	return &HTTPPaymentClient{caller: newHTTPCaller(baseURL, opts)}
}

func (c *HTTPPaymentClient) Authorize(ctx context.Context, req AuthorizeRequest, idempotencyKey string) (*Authorization, error) {
	var out Authorization
	if err := c.caller.postJSON(ctx, "/api/v1/authorizations", idempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPPaymentClient) Void(ctx context.Context, authorizationID string) error {
	body := map[string]string{"authorization_id": authorizationID}
	return c.caller.postJSON(ctx, "/api/v1/authorizations/void", authorizationID, body, nil)
}

// HTTPShippingClient calls the shipping service over HTTP
type HTTPShippingClient struct {
	caller *httpCaller
}

// NewHTTPShippingClient creates a shipping client for the given base URL
func NewHTTPShippingClient(baseURL string, opts CallerOptions) *HTTPShippingClient {
	return &HTTPShippingClient{caller: newHTTPCaller(baseURL, opts)}
}

func (c *HTTPShippingClient) Arrange(ctx context.Context, req ArrangeRequest, idempotencyKey string) (*Shipment, error) {
	var out Shipment
	if err := c.caller.postJSON(ctx, "/api/v1/shipments", idempotencyKey, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPShippingClient) Cancel(ctx context.Context, shipmentID string) error {
	body := map[string]string{"shipment_id": shipmentID}
	return c.caller.postJSON(ctx, "/api/v1/shipments/cancel", shipmentID, body, nil)
}

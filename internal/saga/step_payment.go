package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/clients"
	"github.com/orderrush/saga-orchestrator/internal/domain"
)

// StepNamePayment is the stable name of the payment authorization step
const StepNamePayment = "Payment Authorization"

// keyPaymentMethodFingerprint records which payment method an authorization
// was taken against, so a changed method invalidates the stored result
const keyPaymentMethodFingerprint = "PAYMENT_METHOD_ID"

// PaymentStep authorizes the order total against the context's payment
// method and voids the authorization on compensation.
type PaymentStep struct {
	client clients.PaymentClient
	ttl    time.Duration
}

// NewPaymentStep creates the payment step
func NewPaymentStep(client clients.PaymentClient, ttl time.Duration) *PaymentStep {
	return &PaymentStep{client: client, ttl: ttl}
}

func (s *PaymentStep) Name() string { return StepNamePayment }
func (s *PaymentStep) Order() int   { return 2 }

func (s *PaymentStep) Execute(ctx context.Context, sctx *Context) *ExecuteResult {
	auth, err := s.client.Authorize(ctx, clients.AuthorizeRequest{
		OrderID:         sctx.Order.ID,
		PaymentMethodID: sctx.PaymentMethodID,
		AmountInCents:   sctx.Order.TotalAmountInCents,
	}, stepIdempotencyKey(sctx, StepNamePayment))
	if err != nil {
		if ce, ok := clients.AsClientError(err); ok {
			return resultFromClientError(ce.Code, ce.Message)
		}
		return resultFromClientError("", err.Error())
	}

	return &ExecuteResult{
		Success: true,
		Data: map[string]string{
			KeyAuthorizationID:          auth.AuthorizationID,
			keyPaymentMethodFingerprint: sctx.PaymentMethodID,
		},
	}
}

func (s *PaymentStep) Compensate(ctx context.Context, sctx *Context) *CompensateResult {
	authorizationID := sctx.Get(KeyAuthorizationID)
	if authorizationID == "" {
		return &CompensateResult{Success: true, Message: "no authorization to void"}
	}

	if err := s.client.Void(ctx, authorizationID); err != nil {
		return &CompensateResult{Success: false, Message: fmt.Sprintf("failed to void authorization %s: %v", authorizationID, err)}
	}
	return &CompensateResult{Success: true}
}

func (s *PaymentStep) ResultValidity(stored *domain.SagaStepResult, sctx *Context, now time.Time) domain.ResultValidity {
	done, ok := completedAt(stored)
	if !ok || stored.StepData[KeyAuthorizationID] == "" {
		return domain.ValidityMustReexecute
	}
	// A different payment method invalidates the old authorization outright
	if stored.StepData[keyPaymentMethodFingerprint] != sctx.PaymentMethodID {
		return domain.ValidityMustReexecute
	}
	if now.Sub(done) <= s.ttl {
		return domain.ValidityValid
	}
	return domain.ValidityMustReexecute
}

package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RetryRequest carries the customer's corrections for a retry
type RetryRequest struct {
	UpdatedPaymentMethodID string                  `json:"updated_payment_method_id,omitempty"`
	UpdatedShippingAddress *domain.ShippingAddress `json:"updated_shipping_address,omitempty"`
	AcknowledgedChanges    []string                `json:"acknowledged_changes,omitempty"`
}

// PlannerConfig is the planner's policy snapshot, taken at construction
type PlannerConfig struct {
	MaxAttempts        int
	RetryWindow        time.Duration
	Cooldown           time.Duration
	NonRetryableTokens []string
}

// EligibilityReport bundles the eligibility decision with the state it was
// decided against, so callers do not have to re-load it
type EligibilityReport struct {
	Order       *domain.Order
	Resume      *domain.ResumeState
	Attempts    []*domain.RetryAttempt
	Eligibility *domain.Eligibility
}

// Planner decides whether and where a failed order's saga can resume.
// All rate limiting state (attempt cap, cooldown, window) is read from
// persisted retry attempt rows; the planner holds none in memory.
type Planner struct {
	registry *Registry
	store    repository.Store
	cfg      PlannerConfig
}

// NewPlanner creates a retry planner
func NewPlanner(registry *Registry, store repository.Store, cfg PlannerConfig) *Planner {
	return &Planner{registry: registry, store: store, cfg: cfg}
}

// Evaluate loads the order's retry state and checks every eligibility rule.
// Rule violations land in the report as blockers, not errors; an error
// return means the store failed.
func (p *Planner) Evaluate(ctx context.Context, orderID string) (*EligibilityReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "saga.planner.evaluate")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	report := &EligibilityReport{Eligibility: &domain.Eligibility{}}

	order, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			report.Eligibility.Blockers = append(report.Eligibility.Blockers, domain.Blocker{
				Type:    domain.BlockerOrderNotFound,
				Message: fmt.Sprintf("order %s does not exist", orderID),
			})
			span.SetStatus(codes.Ok, "")
			return report, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	report.Order = order

	expiresAt := order.CreatedAt.Add(p.cfg.RetryWindow)
	report.Eligibility.ExpiresAt = &expiresAt

	if !order.Status.IsRetryable() {
		report.Eligibility.Blockers = append(report.Eligibility.Blockers, domain.Blocker{
			Type:    domain.BlockerOrderNotRetryable,
			Message: fmt.Sprintf("order status %s does not allow retry; only FAILED or COMPENSATED orders can be retried", order.Status),
		})
	}

	resume, err := p.store.FindResumeState(ctx, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrExecutionNotFound) {
			report.Eligibility.Blockers = append(report.Eligibility.Blockers, domain.Blocker{
				Type:    domain.BlockerNoPriorExecution,
				Message: "order has no prior saga execution to resume from",
			})
			span.SetStatus(codes.Ok, "")
			return report, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load resume state: %w", err)
	}
	report.Resume = resume

	// A non-terminal latest execution owns the order's collateral; a retry
	// execution cannot coexist with it. Compensation residue in particular
	// stays here until an operator resolves it.
	if !resume.Execution.Status.IsTerminal() {
		report.Eligibility.Blockers = append(report.Eligibility.Blockers, domain.Blocker{
			Type: domain.BlockerExecutionActive,
			Message: fmt.Sprintf("execution %s is still %s; no new attempt can start until it settles",
				resume.Execution.ID, resume.Execution.Status),
			Resolvable: resume.Execution.Status == domain.ExecutionStatusInProgress,
		})
	}

	attempts, err := p.store.ListRetryAttempts(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list retry attempts: %w", err)
	}
	report.Attempts = attempts

	now := time.Now()
	p.applyAttemptRules(report, attempts, now)
	p.applyFailureRules(report, resume)

	if now.After(expiresAt) {
		report.Eligibility.Blockers = append(report.Eligibility.Blockers, domain.Blocker{
			Type:    domain.BlockerWindowExpired,
			Message: fmt.Sprintf("retry window closed at %s", expiresAt.Format(time.RFC3339)),
		})
	}

	report.Eligibility.Eligible = len(report.Eligibility.Blockers) == 0
	report.Eligibility.RequiredActions = requiredActions(failureReason(resume))

	span.SetAttributes(
		attribute.Bool("eligible", report.Eligibility.Eligible),
		attribute.Int("blockers", len(report.Eligibility.Blockers)),
	)
	span.SetStatus(codes.Ok, "")
	return report, nil
}

func (p *Planner) applyAttemptRules(report *EligibilityReport, attempts []*domain.RetryAttempt, now time.Time) {
	elig := report.Eligibility

	remaining := p.cfg.MaxAttempts - len(attempts)
	if remaining < 0 {
		remaining = 0
	}
	elig.AttemptsRemaining = remaining

	var lastInitiated time.Time
	for _, attempt := range attempts {
		if attempt.Outcome == domain.RetryOutcomePending {
			elig.Blockers = append(elig.Blockers, domain.Blocker{
				Type:       domain.BlockerRetryInProgress,
				Message:    fmt.Sprintf("retry attempt %d is still in progress", attempt.AttemptNumber),
				Resolvable: true,
			})
		}
		if attempt.InitiatedAt.After(lastInitiated) {
			lastInitiated = attempt.InitiatedAt
		}
	}

	if len(attempts) >= p.cfg.MaxAttempts {
		elig.Blockers = append(elig.Blockers, domain.Blocker{
			Type:    domain.BlockerAttemptsExhausted,
			Message: fmt.Sprintf("all %d retry attempts used", p.cfg.MaxAttempts),
		})
	}

	if !lastInitiated.IsZero() {
		retryAfter := lastInitiated.Add(p.cfg.Cooldown)
		if now.Before(retryAfter) {
			elig.Blockers = append(elig.Blockers, domain.Blocker{
				Type:       domain.BlockerCooldownActive,
				Message:    fmt.Sprintf("retry available after %s", retryAfter.Format(time.RFC3339)),
				Resolvable: true,
				RetryAfter: &retryAfter,
			})
		}
	}
}

func (p *Planner) applyFailureRules(report *EligibilityReport, resume *domain.ResumeState) {
	reason := failureReason(resume)
	if reason == "" {
		return
	}
	for _, token := range p.cfg.NonRetryableTokens {
		if containsFold(reason, token) {
			report.Eligibility.Blockers = append(report.Eligibility.Blockers, domain.Blocker{
				Type:    nonRetryableBlockerType(reason),
				Message: fmt.Sprintf("failure %q is not retryable", reason),
			})
			return
		}
	}
}

// nonRetryableBlockerType surfaces the underlying error code when the
// failure reason carries one, so callers see FRAUD_DETECTED rather than a
// generic classification
func nonRetryableBlockerType(reason string) domain.BlockerType {
	for _, code := range []string{
		domain.ErrCodeFraudDetected,
		domain.ErrCodePaymentDeclined,
		domain.ErrCodeInvalidAddress,
		domain.ErrCodeInventoryUnavailable,
		domain.ErrCodeShippingUnavailable,
	} {
		if containsFold(reason, code) {
			return domain.BlockerType(code)
		}
	}
	return domain.BlockerNonRetryableReason
}

// failureReason prefers the execution's recorded reason and falls back to
// the last FAILED step row
func failureReason(resume *domain.ResumeState) string {
	if resume == nil || resume.Execution == nil {
		return ""
	}
	if resume.Execution.FailureReason != "" {
		return resume.Execution.FailureReason
	}
	for i := len(resume.StepResults) - 1; i >= 0; i-- {
		if resume.StepResults[i].Status == domain.StepStatusFailed {
			return resume.StepResults[i].ErrorMessage
		}
	}
	return ""
}

// requiredActions derives the customer's fix list from the failure reason
func requiredActions(reason string) []domain.RequiredAction {
	if reason == "" {
		return nil
	}
	var actions []domain.RequiredAction
	if containsFold(reason, "PAYMENT") || containsFold(reason, "DECLINED") || containsFold(reason, "CARD") {
		actions = append(actions, domain.ActionUpdatePaymentMethod)
	}
	if containsFold(reason, "ADDRESS") || containsFold(reason, "SHIPPING") {
		actions = append(actions, domain.ActionVerifyAddress)
	}
	if containsFold(reason, "INVENTORY") || containsFold(reason, "STOCK") {
		actions = append(actions, domain.ActionConfirmItemAvailability)
	}
	return actions
}

// BuildContext reconstructs the saga context for a retry: effective payment
// method and shipping address from the request (no silent merging of partial
// addresses), plus the known data keys imported from the prior execution's
// surviving step rows. The execution id is assigned by the caller once the
// retry execution exists.
func (p *Planner) BuildContext(order *domain.Order, resume *domain.ResumeState, req *RetryRequest) (*Context, error) {
	paymentMethodID := order.PaymentMethodID
	if req != nil && req.UpdatedPaymentMethodID != "" {
		paymentMethodID = req.UpdatedPaymentMethodID
	}
	if paymentMethodID == "" {
		return nil, &domain.RetryContextValidationError{
			Field:  "paymentMethodId",
			Reason: "no payment method on the request or the order",
		}
	}

	address := order.ShippingAddress
	if req != nil && req.UpdatedShippingAddress != nil {
		address = *req.UpdatedShippingAddress
	}
	if missing := address.MissingField(); missing != "" {
		return nil, &domain.RetryContextValidationError{
			Field:  "shippingAddress." + missing,
			Reason: "shipping address must be complete; partial addresses are not merged",
		}
	}

	sctx := &Context{
		Order:           order,
		CustomerID:      order.CustomerID,
		PaymentMethodID: paymentMethodID,
		ShippingAddress: address,
		Data:            make(map[string]string),
	}

	for _, row := range resume.StepResults {
		if row.Status != domain.StepStatusCompleted && row.Status != domain.StepStatusSkipped {
			continue
		}
		for _, key := range KnownDataKeys {
			if v := row.StepData[key]; v != "" {
				sctx.Data[key] = v
			}
		}
	}

	return sctx, nil
}

// PlanResume walks the prior execution's step rows in order. Rows whose
// stored result is still VALID are skipped; the first row that is failed,
// stale or changed becomes the resume point, and everything after it
// re-executes unconditionally.
func (p *Planner) PlanResume(resume *domain.ResumeState, sctx *Context, now time.Time) *domain.ResumePlan {
	plan := &domain.ResumePlan{
		SkippedSteps:     []string{},
		StepsToReExecute: []string{},
	}

	resumeIndex := 0
	for _, row := range resume.StepResults {
		step, ok := p.registry.StepByName(row.StepName)
		if !ok {
			break
		}
		if row.Status == domain.StepStatusCompleted || row.Status == domain.StepStatusSkipped {
			if step.ResultValidity(row, sctx, now) == domain.ValidityValid {
				plan.SkippedSteps = append(plan.SkippedSteps, row.StepName)
				resumeIndex = step.Order()
				continue
			}
		}
		resumeIndex = step.Order() - 1
		break
	}

	// A fully-valid prefix should not occur for a failed order; re-execute
	// the final step rather than resume past the end
	if resumeIndex >= p.registry.Len() {
		resumeIndex = p.registry.Len() - 1
		if n := len(plan.SkippedSteps); n > 0 {
			plan.SkippedSteps = plan.SkippedSteps[:n-1]
		}
	}

	resumeStep, _ := p.registry.StepAt(resumeIndex)
	plan.ResumeStepIndex = resumeIndex
	plan.ResumeStepName = resumeStep.Name()
	for _, step := range p.registry.OrderedSteps()[resumeIndex:] {
		plan.StepsToReExecute = append(plan.StepsToReExecute, step.Name())
	}
	return plan
}

// ValidateResumeInputs checks that the resume point's prerequisites made it
// into the rebuilt context
func (p *Planner) ValidateResumeInputs(plan *domain.ResumePlan, sctx *Context) error {
	var required []string
	switch plan.ResumeStepName {
	case StepNamePayment:
		required = []string{KeyReservationID}
	case StepNameShipping:
		required = []string{KeyReservationID, KeyAuthorizationID}
	}
	for _, key := range required {
		if !sctx.Has(key) {
			return &domain.RetryContextValidationError{
				Field:  key,
				Reason: fmt.Sprintf("required to resume at %s but missing from the prior execution's results", plan.ResumeStepName),
			}
		}
	}
	return nil
}

// CarriedData collects the stored outputs of the steps the plan skips, so
// the retry execution's SKIPPED rows carry them forward
func (p *Planner) CarriedData(resume *domain.ResumeState, plan *domain.ResumePlan) map[string]map[string]string {
	carried := make(map[string]map[string]string, len(plan.SkippedSteps))
	for _, row := range resume.StepResults {
		if !plan.ShouldSkip(row.StepName) {
			continue
		}
		data := make(map[string]string, len(row.StepData))
		for k, v := range row.StepData {
			data[k] = v
		}
		carried[row.StepName] = data
	}
	return carried
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToUpper(s), strings.ToUpper(substr))
}

package domain

import (
	"time"
)

// RetryOutcome represents the outcome of a retry attempt
type RetryOutcome string

const (
	RetryOutcomePending RetryOutcome = "PENDING"
	RetryOutcomeSuccess RetryOutcome = "SUCCESS"
	RetryOutcomeFailed  RetryOutcome = "FAILED"
)

// RetryAttempt records one retry of a failed order.
// At most one PENDING attempt may exist per order.
type RetryAttempt struct {
	ID                  string       `json:"id"`
	OrderID             string       `json:"order_id"`
	OriginalExecutionID string       `json:"original_execution_id"`
	RetryExecutionID    string       `json:"retry_execution_id,omitempty"`
	AttemptNumber       int          `json:"attempt_number"` // monotonic per order
	ResumedFromStep     string       `json:"resumed_from_step,omitempty"`
	SkippedSteps        []string     `json:"skipped_steps,omitempty"`
	Outcome             RetryOutcome `json:"outcome"`
	FailureReason       string       `json:"failure_reason,omitempty"`
	InitiatedAt         time.Time    `json:"initiated_at"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
}

// BlockerType classifies why a retry is not allowed
type BlockerType string

const (
	BlockerOrderNotFound      BlockerType = "ORDER_NOT_FOUND"
	BlockerOrderNotRetryable  BlockerType = "ORDER_NOT_RETRYABLE"
	BlockerNoPriorExecution   BlockerType = "NO_PRIOR_EXECUTION"
	BlockerExecutionActive    BlockerType = "EXECUTION_ACTIVE"
	BlockerRetryInProgress    BlockerType = "RETRY_IN_PROGRESS"
	BlockerNonRetryableReason BlockerType = "NON_RETRYABLE_FAILURE"
	BlockerAttemptsExhausted  BlockerType = "ATTEMPTS_EXHAUSTED"
	BlockerCooldownActive     BlockerType = "COOLDOWN_ACTIVE"
	BlockerWindowExpired      BlockerType = "RETRY_WINDOW_EXPIRED"
)

// Blocker is one reason retry eligibility was denied
type Blocker struct {
	Type       BlockerType `json:"type"`
	Message    string      `json:"message"`
	Resolvable bool        `json:"resolvable"`
	// RetryAfter is set for time-based blockers (cooldown)
	RetryAfter *time.Time `json:"retry_after,omitempty"`
}

// RequiredAction tells the customer what to fix before retrying
type RequiredAction string

const (
	ActionUpdatePaymentMethod     RequiredAction = "UPDATE_PAYMENT_METHOD"
	ActionVerifyAddress           RequiredAction = "VERIFY_ADDRESS"
	ActionConfirmItemAvailability RequiredAction = "CONFIRM_ITEM_AVAILABILITY"
)

// Eligibility is the result of a retry eligibility check
type Eligibility struct {
	Eligible          bool             `json:"eligible"`
	Blockers          []Blocker        `json:"blockers,omitempty"`
	AttemptsRemaining int              `json:"attempts_remaining"`
	RequiredActions   []RequiredAction `json:"required_actions,omitempty"`
	// ExpiresAt is when the retry window closes
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ResultValidity classifies a stored step result at retry time
type ResultValidity string

const (
	// ValidityValid means the side effect still holds and the step may be skipped
	ValidityValid ResultValidity = "VALID"
	// ValidityRefreshable means the side effect may be renewable but the step
	// must re-execute; treated the same as MUST_REEXECUTE for the resume point
	ValidityRefreshable ResultValidity = "REFRESHABLE"
	// ValidityMustReexecute means the side effect is stale or inputs changed
	ValidityMustReexecute ResultValidity = "MUST_REEXECUTE"
)

// ResumePlan is the retry planner's decision of where to resume
type ResumePlan struct {
	ResumeStepIndex  int      `json:"resume_step_index"` // 0-based into the registry order
	ResumeStepName   string   `json:"resume_step_name"`
	SkippedSteps     []string `json:"skipped_steps"`
	StepsToReExecute []string `json:"steps_to_re_execute"`
}

// ShouldSkip reports whether the named step is skipped under this plan
func (p *ResumePlan) ShouldSkip(stepName string) bool {
	for _, s := range p.SkippedSteps {
		if s == stepName {
			return true
		}
	}
	return false
}

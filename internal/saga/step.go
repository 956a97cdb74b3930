package saga

import (
	"context"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
)

// ExecuteResult is what a step's forward operation produced
type ExecuteResult struct {
	Success      bool
	Data         map[string]string
	ErrorCode    string
	ErrorMessage string
}

// CompensateResult is what a step's compensation produced
type CompensateResult struct {
	Success bool
	Message string
}

// Step is one stage of the saga. Steps are stateless singletons; all
// per-execution state lives in the saga Context.
type Step interface {
	// Name is the stable step name recorded on step rows and events
	Name() string
	// Order is the 1-based position in the fixed sequence
	Order() int
	// Execute performs the step's side effect and returns its outputs.
	// Business failures are reported in the result, not as an error.
	Execute(ctx context.Context, sctx *Context) *ExecuteResult
	// Compensate undoes the step's side effect using context data
	Compensate(ctx context.Context, sctx *Context) *CompensateResult
	// ResultValidity classifies a stored result from a prior execution:
	// VALID results may be skipped on retry, anything else re-executes
	ResultValidity(stored *domain.SagaStepResult, sctx *Context, now time.Time) domain.ResultValidity
}

func failure(code, message string) *ExecuteResult {
	return &ExecuteResult{Success: false, ErrorCode: code, ErrorMessage: message}
}

// resultFromClientError maps a collaborator error to a failed ExecuteResult
func resultFromClientError(code, message string) *ExecuteResult {
	if code == "" {
		code = domain.ErrCodeTransient
	}
	return failure(code, message)
}

func completedAt(stored *domain.SagaStepResult) (time.Time, bool) {
	if stored == nil || stored.CompletedAt == nil {
		return time.Time{}, false
	}
	return *stored.CompletedAt, true
}

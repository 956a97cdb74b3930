package domain

import (
	"time"
)

// ExecutionStatus represents the state of one saga execution
type ExecutionStatus string

const (
	ExecutionStatusInProgress   ExecutionStatus = "IN_PROGRESS"
	ExecutionStatusCompleted    ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed       ExecutionStatus = "FAILED"
	ExecutionStatusCompensating ExecutionStatus = "COMPENSATING"
	ExecutionStatusCompensated  ExecutionStatus = "COMPENSATED"
)

// IsTerminal reports whether the execution can make no further transition.
// COMPENSATING with recorded compensation failures stays non-terminal for
// operator visibility even though the core never re-drives it.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCompensated:
		return true
	}
	return false
}

// SagaExecution is one attempt at driving an order through all steps.
// An order may have multiple executions (one per retry); at most one is
// non-terminal at any time.
type SagaExecution struct {
	ID                      string          `json:"id"`
	OrderID                 string          `json:"order_id"`
	CurrentStepIndex        int             `json:"current_step_index"` // 0-based
	Status                  ExecutionStatus `json:"status"`
	FailedStepIndex         *int            `json:"failed_step_index,omitempty"`
	FailureReason           string          `json:"failure_reason,omitempty"`
	StartedAt               time.Time       `json:"started_at"`
	CompletedAt             *time.Time      `json:"completed_at,omitempty"`
	CompensationStartedAt   *time.Time      `json:"compensation_started_at,omitempty"`
	CompensationCompletedAt *time.Time      `json:"compensation_completed_at,omitempty"`
}

// StepStatus represents the state of a single step within an execution
type StepStatus string

const (
	StepStatusPending     StepStatus = "PENDING"
	StepStatusInProgress  StepStatus = "IN_PROGRESS"
	StepStatusCompleted   StepStatus = "COMPLETED"
	StepStatusFailed      StepStatus = "FAILED"
	StepStatusSkipped     StepStatus = "SKIPPED"
	StepStatusCompensated StepStatus = "COMPENSATED"
)

// SagaStepResult is the persisted lifecycle record of one step in one execution
type SagaStepResult struct {
	ID           string            `json:"id"`
	ExecutionID  string            `json:"execution_id"`
	StepName     string            `json:"step_name"`
	StepOrder    int               `json:"step_order"` // 1-based, dense
	Status       StepStatus        `json:"status"`
	StepData     map[string]string `json:"step_data,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// ResumeState is the latest execution of an order together with its
// step results ordered by step order
type ResumeState struct {
	Execution   *SagaExecution
	StepResults []*SagaStepResult
}

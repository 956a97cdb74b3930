package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// StartStep inserts a PENDING step row, transitions it to IN_PROGRESS and
// updates the execution's current step index, all in one transaction
func (s *PostgresStore) StartStep(ctx context.Context, executionID, stepName string, stepOrder int) (*domain.SagaStepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.step.start")
	defer span.End()

	span.SetAttributes(
		attribute.String("execution_id", executionID),
		attribute.String("step_name", stepName),
		attribute.Int("step_order", stepOrder),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	result := &domain.SagaStepResult{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		StepName:    stepName,
		StepOrder:   stepOrder,
		Status:      domain.StepStatusInProgress,
		StartedAt:   &now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO saga_step_results (id, execution_id, step_name, step_order, status)
		VALUES ($1, $2, $3, $4, $5)
	`, result.ID, executionID, stepName, stepOrder, string(domain.StepStatusPending))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to insert step result: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE saga_step_results SET status = $1, started_at = $2 WHERE id = $3
	`, string(domain.StepStatusInProgress), now, result.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to start step: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE saga_executions SET current_step_index = $1 WHERE id = $2
	`, stepOrder-1, executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to update current step index: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to commit step start: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// CompleteStep marks the step COMPLETED with its output data
func (s *PostgresStore) CompleteStep(ctx context.Context, stepResultID string, stepData map[string]string, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.step.complete")
	defer span.End()

	span.SetAttributes(attribute.String("step_result_id", stepResultID))

	data, err := marshalMap(stepData)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal step data: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE saga_step_results SET status = $1, step_data = $2, completed_at = $3 WHERE id = $4
	`, string(domain.StepStatusCompleted), data, at, stepResultID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to complete step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrStepResultNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// FailStepAndExecution marks the step FAILED and the execution FAILED in the
// same transaction
func (s *PostgresStore) FailStepAndExecution(ctx context.Context, stepResultID, executionID string, failedStepIndex int, errorMessage string, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.step.fail_with_execution")
	defer span.End()

	span.SetAttributes(
		attribute.String("step_result_id", stepResultID),
		attribute.String("execution_id", executionID),
		attribute.Int("failed_step_index", failedStepIndex),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE saga_step_results SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4
	`, string(domain.StepStatusFailed), errorMessage, at, stepResultID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to fail step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrStepResultNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE saga_executions SET status = $1, failed_step_index = $2, failure_reason = $3, completed_at = $4
		WHERE id = $5
	`, string(domain.ExecutionStatusFailed), failedStepIndex, errorMessage, at, executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to fail execution: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit step failure: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// InsertSkippedStep inserts a SKIPPED row at the expected step order
func (s *PostgresStore) InsertSkippedStep(ctx context.Context, executionID, stepName string, stepOrder int, stepData map[string]string, at time.Time) (*domain.SagaStepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.step.insert_skipped")
	defer span.End()

	span.SetAttributes(
		attribute.String("execution_id", executionID),
		attribute.String("step_name", stepName),
		attribute.Int("step_order", stepOrder),
	)

	data, err := marshalMap(stepData)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to marshal step data: %w", err)
	}

	result := &domain.SagaStepResult{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		StepName:    stepName,
		StepOrder:   stepOrder,
		Status:      domain.StepStatusSkipped,
		StepData:    stepData,
		CompletedAt: &at,
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO saga_step_results (id, execution_id, step_name, step_order, status, step_data, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, result.ID, executionID, stepName, stepOrder, string(domain.StepStatusSkipped), data, at)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to insert skipped step: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// MarkStepCompensated marks the step COMPENSATED
func (s *PostgresStore) MarkStepCompensated(ctx context.Context, stepResultID string, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.step.mark_compensated")
	defer span.End()

	span.SetAttributes(attribute.String("step_result_id", stepResultID))

	tag, err := s.pool.Exec(ctx, `
		UPDATE saga_step_results SET status = $1, completed_at = $2 WHERE id = $3
	`, string(domain.StepStatusCompensated), at, stepResultID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to mark step compensated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrStepResultNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// RecordCompensationFailure records the failure message on the step row
// without changing its status
func (s *PostgresStore) RecordCompensationFailure(ctx context.Context, stepResultID, message string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.step.record_compensation_failure")
	defer span.End()

	span.SetAttributes(attribute.String("step_result_id", stepResultID))

	tag, err := s.pool.Exec(ctx, `
		UPDATE saga_step_results SET error_message = $1 WHERE id = $2
	`, message, stepResultID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to record compensation failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrStepResultNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

const stepColumns = `id, execution_id, step_name, step_order, status, step_data, error_message, started_at, completed_at`

func scanStepResult(row pgx.Row) (*domain.SagaStepResult, error) {
	result := &domain.SagaStepResult{}
	var status string
	var stepData []byte
	var errorMessage *string
	err := row.Scan(
		&result.ID,
		&result.ExecutionID,
		&result.StepName,
		&result.StepOrder,
		&status,
		&stepData,
		&errorMessage,
		&result.StartedAt,
		&result.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	result.Status = domain.StepStatus(status)
	if errorMessage != nil {
		result.ErrorMessage = *errorMessage
	}
	data, err := unmarshalMap(stepData)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step data: %w", err)
	}
	result.StepData = data
	return result, nil
}

// ListStepResults returns the execution's step rows ordered by step order
func (s *PostgresStore) ListStepResults(ctx context.Context, executionID string) ([]*domain.SagaStepResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.step.list")
	defer span.End()

	span.SetAttributes(attribute.String("execution_id", executionID))

	rows, err := s.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM saga_step_results WHERE execution_id = $1 ORDER BY step_order`,
		executionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list step results: %w", err)
	}
	defer rows.Close()

	var results []*domain.SagaStepResult
	for rows.Next() {
		result, err := scanStepResult(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate step results: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return results, nil
}

// AppendEvent appends a timeline event, assigning a per-order sequence.
// Events for one order are written serially from its orchestration task, so
// MAX(sequence)+1 inside the insert is race-free in practice.
func (s *PostgresStore) AppendEvent(ctx context.Context, event *domain.OrderEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.append")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", event.OrderID),
		attribute.String("event_type", string(event.EventType)),
	)

	details, err := marshalMap(event.Details)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal event details: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO order_events (
			id, order_id, sequence, event_type, step_name, outcome,
			details, error_code, error_message, timestamp
		) VALUES (
			$1, $2,
			(SELECT COALESCE(MAX(sequence), 0) + 1 FROM order_events WHERE order_id = $2),
			$3, $4, $5, $6, $7, $8, $9
		)
		RETURNING sequence
	`,
		event.ID,
		event.OrderID,
		string(event.EventType),
		nullString(event.StepName),
		nullString(event.Outcome),
		details,
		nullString(event.ErrorCode),
		nullString(event.ErrorMessage),
		event.Timestamp,
	).Scan(&event.Sequence)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to append event: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ListEvents returns the order's events in sequence order
func (s *PostgresStore) ListEvents(ctx context.Context, orderID string) ([]*domain.OrderEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.event.list")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, sequence, event_type, step_name, outcome,
			details, error_code, error_message, timestamp
		FROM order_events
		WHERE order_id = $1
		ORDER BY sequence
	`, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OrderEvent
	for rows.Next() {
		event := &domain.OrderEvent{}
		var eventType string
		var stepName, outcome, errorCode, errorMessage *string
		var details []byte
		err := rows.Scan(
			&event.ID,
			&event.OrderID,
			&event.Sequence,
			&eventType,
			&stepName,
			&outcome,
			&details,
			&errorCode,
			&errorMessage,
			&event.Timestamp,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.EventType = domain.EventType(eventType)
		if stepName != nil {
			event.StepName = *stepName
		}
		if outcome != nil {
			event.Outcome = *outcome
		}
		if errorCode != nil {
			event.ErrorCode = *errorCode
		}
		if errorMessage != nil {
			event.ErrorMessage = *errorMessage
		}
		detailsMap, err := unmarshalMap(details)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
		}
		event.Details = detailsMap
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return events, nil
}

// FindResumeState returns the latest execution and its ordered step results
func (s *PostgresStore) FindResumeState(ctx context.Context, orderID string) (*domain.ResumeState, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.execution.find_resume_state")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	exec, err := scanExecution(s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM saga_executions WHERE order_id = $1 ORDER BY started_at DESC LIMIT 1`,
		orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrExecutionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to find latest execution: %w", err)
	}

	results, err := s.ListStepResults(ctx, exec.ID)
	if err != nil {
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &domain.ResumeState{Execution: exec, StepResults: results}, nil
}

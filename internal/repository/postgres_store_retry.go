package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CreateRetryAttempt inserts a PENDING attempt. The partial unique index on
// PENDING attempts enforces at most one per order.
func (s *PostgresStore) CreateRetryAttempt(ctx context.Context, attempt *domain.RetryAttempt) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.retry.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", attempt.OrderID),
		attribute.Int("attempt_number", attempt.AttemptNumber),
	)

	skipped, err := json.Marshal(attempt.SkippedSteps)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal skipped steps: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO retry_attempts (
			id, order_id, original_execution_id, retry_execution_id,
			attempt_number, resumed_from_step, skipped_steps, outcome, initiated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		attempt.ID,
		attempt.OrderID,
		attempt.OriginalExecutionID,
		nullString(attempt.RetryExecutionID),
		attempt.AttemptNumber,
		nullString(attempt.ResumedFromStep),
		skipped,
		string(attempt.Outcome),
		attempt.InitiatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			span.SetStatus(codes.Error, "retry already pending")
			return domain.ErrRetryAlreadyInProgress
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to create retry attempt: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// UpdateRetryAttemptPlan records the resume plan on the attempt
func (s *PostgresStore) UpdateRetryAttemptPlan(ctx context.Context, attemptID, retryExecutionID, resumedFromStep string, skippedSteps []string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.retry.update_plan")
	defer span.End()

	span.SetAttributes(attribute.String("attempt_id", attemptID))

	skipped, err := json.Marshal(skippedSteps)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal skipped steps: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE retry_attempts
		SET retry_execution_id = $1, resumed_from_step = $2, skipped_steps = $3
		WHERE id = $4
	`, retryExecutionID, resumedFromStep, skipped, attemptID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update retry attempt plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrRetryAttemptNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CompleteRetryAttempt records the final outcome of the attempt
func (s *PostgresStore) CompleteRetryAttempt(ctx context.Context, attemptID string, outcome domain.RetryOutcome, failureReason string, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.retry.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("attempt_id", attemptID),
		attribute.String("outcome", string(outcome)),
	)

	tag, err := s.pool.Exec(ctx, `
		UPDATE retry_attempts
		SET outcome = $1, failure_reason = $2, completed_at = $3
		WHERE id = $4
	`, string(outcome), nullString(failureReason), at, attemptID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to complete retry attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrRetryAttemptNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ListRetryAttempts returns the order's attempts ordered by attempt number
func (s *PostgresStore) ListRetryAttempts(ctx context.Context, orderID string) ([]*domain.RetryAttempt, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.retry.list")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, original_execution_id, retry_execution_id,
			attempt_number, resumed_from_step, skipped_steps, outcome,
			failure_reason, initiated_at, completed_at
		FROM retry_attempts
		WHERE order_id = $1
		ORDER BY attempt_number
	`, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list retry attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*domain.RetryAttempt
	for rows.Next() {
		attempt := &domain.RetryAttempt{}
		var outcome string
		var retryExecutionID, resumedFromStep, failureReason *string
		var skipped []byte
		err := rows.Scan(
			&attempt.ID,
			&attempt.OrderID,
			&attempt.OriginalExecutionID,
			&retryExecutionID,
			&attempt.AttemptNumber,
			&resumedFromStep,
			&skipped,
			&outcome,
			&failureReason,
			&attempt.InitiatedAt,
			&attempt.CompletedAt,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan retry attempt: %w", err)
		}
		attempt.Outcome = domain.RetryOutcome(outcome)
		if retryExecutionID != nil {
			attempt.RetryExecutionID = *retryExecutionID
		}
		if resumedFromStep != nil {
			attempt.ResumedFromStep = *resumedFromStep
		}
		if failureReason != nil {
			attempt.FailureReason = *failureReason
		}
		if len(skipped) > 0 {
			if err := json.Unmarshal(skipped, &attempt.SkippedSteps); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("failed to unmarshal skipped steps: %w", err)
			}
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate retry attempts: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return attempts, nil
}

// ListCompensatingExecutions returns executions stuck in COMPENSATING longer
// than the given age
func (s *PostgresStore) ListCompensatingExecutions(ctx context.Context, olderThan time.Duration) ([]*domain.SagaExecution, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.execution.list_compensating")
	defer span.End()

	cutoff := time.Now().Add(-olderThan)

	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM saga_executions
		WHERE status = $1 AND compensation_started_at < $2
		ORDER BY compensation_started_at`,
		string(domain.ExecutionStatusCompensating), cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list compensating executions: %w", err)
	}
	defer rows.Close()

	var executions []*domain.SagaExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return executions, nil
}

// ListStalledExecutions returns executions still IN_PROGRESS longer than the
// given age
func (s *PostgresStore) ListStalledExecutions(ctx context.Context, olderThan time.Duration) ([]*domain.SagaExecution, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.execution.list_stalled")
	defer span.End()

	cutoff := time.Now().Add(-olderThan)

	rows, err := s.pool.Query(ctx,
		`SELECT `+executionColumns+` FROM saga_executions
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at`,
		string(domain.ExecutionStatusInProgress), cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list stalled executions: %w", err)
	}
	defer rows.Close()

	var executions []*domain.SagaExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return executions, nil
}

// ExpirePendingRetryAttempts fails PENDING attempts older than the given age
func (s *PostgresStore) ExpirePendingRetryAttempts(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.retry.expire_pending")
	defer span.End()

	cutoff := time.Now().Add(-olderThan)

	tag, err := s.pool.Exec(ctx, `
		UPDATE retry_attempts
		SET outcome = $1, failure_reason = 'retry attempt expired', completed_at = NOW()
		WHERE outcome = $2 AND initiated_at < $3
	`, string(domain.RetryOutcomeFailed), string(domain.RetryOutcomePending), cutoff)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("failed to expire pending retry attempts: %w", err)
	}

	span.SetAttributes(attribute.Int64("expired", tag.RowsAffected()))
	span.SetStatus(codes.Ok, "")
	return tag.RowsAffected(), nil
}

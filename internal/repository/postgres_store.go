package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const pgUniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL with pgxpool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func marshalMap(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalMap(b []byte) (map[string]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateOrderWithItems inserts the order and its items in one transaction
func (s *PostgresStore) CreateOrderWithItems(ctx context.Context, order *domain.Order) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.create_with_items")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("customer_id", order.CustomerID),
		attribute.Int("item_count", len(order.Items)),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, customer_id, total_amount_in_cents, status, payment_method_id,
			shipping_street, shipping_city, shipping_state, shipping_postal_code, shipping_country,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		order.ID,
		order.CustomerID,
		order.TotalAmountInCents,
		string(order.Status),
		nullString(order.PaymentMethodID),
		order.ShippingAddress.Street,
		order.ShippingAddress.City,
		order.ShippingAddress.State,
		order.ShippingAddress.PostalCode,
		order.ShippingAddress.Country,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price_in_cents)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, order.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPriceInCents)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit order: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// GetOrder returns the order with its items
func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.get")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	order := &domain.Order{}
	var status string
	var paymentMethodID *string

	err := s.pool.QueryRow(ctx, `
		SELECT id, customer_id, total_amount_in_cents, status, payment_method_id,
			shipping_street, shipping_city, shipping_state, shipping_postal_code, shipping_country,
			created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(
		&order.ID,
		&order.CustomerID,
		&order.TotalAmountInCents,
		&status,
		&paymentMethodID,
		&order.ShippingAddress.Street,
		&order.ShippingAddress.City,
		&order.ShippingAddress.State,
		&order.ShippingAddress.PostalCode,
		&order.ShippingAddress.Country,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrOrderNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	if paymentMethodID != nil {
		order.PaymentMethodID = *paymentMethodID
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price_in_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPriceInCents); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to iterate order items: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return order, nil
}

// UpdateOrderStatus transitions the order status
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.order.update_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", string(status)),
	)

	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
	`, string(status), orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrOrderNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// CreateExecution inserts a new execution and moves the order to PROCESSING.
// The partial unique index on non-terminal executions enforces the
// single-active-execution invariant.
func (s *PostgresStore) CreateExecution(ctx context.Context, execution *domain.SagaExecution) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.execution.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("execution_id", execution.ID),
		attribute.String("order_id", execution.OrderID),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO saga_executions (id, order_id, current_step_index, status, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, execution.ID, execution.OrderID, execution.CurrentStepIndex, string(execution.Status), execution.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			span.SetStatus(codes.Error, "execution already active")
			return domain.ErrExecutionAlreadyActive
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
	`, string(domain.OrderStatusProcessing), execution.OrderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit execution: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func scanExecution(row pgx.Row) (*domain.SagaExecution, error) {
	exec := &domain.SagaExecution{}
	var status string
	var failureReason *string
	err := row.Scan(
		&exec.ID,
		&exec.OrderID,
		&exec.CurrentStepIndex,
		&status,
		&exec.FailedStepIndex,
		&failureReason,
		&exec.StartedAt,
		&exec.CompletedAt,
		&exec.CompensationStartedAt,
		&exec.CompensationCompletedAt,
	)
	if err != nil {
		return nil, err
	}
	exec.Status = domain.ExecutionStatus(status)
	if failureReason != nil {
		exec.FailureReason = *failureReason
	}
	return exec, nil
}

const executionColumns = `id, order_id, current_step_index, status, failed_step_index, failure_reason,
	started_at, completed_at, compensation_started_at, compensation_completed_at`

// GetExecution returns one execution by id
func (s *PostgresStore) GetExecution(ctx context.Context, executionID string) (*domain.SagaExecution, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.execution.get")
	defer span.End()

	span.SetAttributes(attribute.String("execution_id", executionID))

	exec, err := scanExecution(s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM saga_executions WHERE id = $1`, executionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrExecutionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return exec, nil
}

// CompleteExecution marks the execution and the order COMPLETED
func (s *PostgresStore) CompleteExecution(ctx context.Context, executionID, orderID string, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.execution.complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("execution_id", executionID),
		attribute.String("order_id", orderID),
	)

	return s.transitionExecutionAndOrder(ctx, span, `
		UPDATE saga_executions SET status = $1, completed_at = $2 WHERE id = $3
	`, []interface{}{string(domain.ExecutionStatusCompleted), at, executionID},
		orderID, domain.OrderStatusCompleted)
}

// MarkCompensationStarted marks the execution and order COMPENSATING
func (s *PostgresStore) MarkCompensationStarted(ctx context.Context, executionID, orderID string, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.execution.mark_compensation_started")
	defer span.End()

	span.SetAttributes(
		attribute.String("execution_id", executionID),
		attribute.String("order_id", orderID),
	)

	return s.transitionExecutionAndOrder(ctx, span, `
		UPDATE saga_executions SET status = $1, compensation_started_at = $2 WHERE id = $3
	`, []interface{}{string(domain.ExecutionStatusCompensating), at, executionID},
		orderID, domain.OrderStatusCompensating)
}

// MarkExecutionCompensated marks the execution and order COMPENSATED
func (s *PostgresStore) MarkExecutionCompensated(ctx context.Context, executionID, orderID string, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.execution.mark_compensated")
	defer span.End()

	span.SetAttributes(
		attribute.String("execution_id", executionID),
		attribute.String("order_id", orderID),
	)

	return s.transitionExecutionAndOrder(ctx, span, `
		UPDATE saga_executions SET status = $1, compensation_completed_at = $2 WHERE id = $3
	`, []interface{}{string(domain.ExecutionStatusCompensated), at, executionID},
		orderID, domain.OrderStatusCompensated)
}

// transitionExecutionAndOrder runs the execution update and the paired order
// status update in one transaction
func (s *PostgresStore) transitionExecutionAndOrder(ctx context.Context, span trace.Span, execQuery string, execArgs []interface{}, orderID string, orderStatus domain.OrderStatus) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, execQuery, execArgs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		span.SetStatus(codes.Error, "not found")
		return domain.ErrExecutionNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
	`, string(orderStatus), orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/dto"
	"github.com/orderrush/saga-orchestrator/internal/history"
	"github.com/orderrush/saga-orchestrator/internal/metrics"
	"github.com/orderrush/saga-orchestrator/internal/progress"
	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/internal/saga"
	"github.com/orderrush/saga-orchestrator/pkg/redis"
	"github.com/orderrush/saga-orchestrator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// statusCacheTTL keeps the status cache short-lived; in-flight orders change
// state every few hundred milliseconds
const statusCacheTTL = 3 * time.Second

// RetryResult is the service-level outcome of a retry request
type RetryResult struct {
	NotEligible   bool
	Eligibility   *domain.Eligibility
	AttemptNumber int
	Result        *saga.Result
}

// OrderService drives orders through the saga and answers status, history
// and retry queries
type OrderService struct {
	store        repository.Store
	orchestrator *saga.Orchestrator
	planner      *saga.Planner
	projector    *history.Projector
	recorder     *saga.EventRecorder
	bus          *progress.Bus
	cache        *redis.Client
	logger       *zap.Logger
}

// NewOrderService creates an order service. cache may be nil.
func NewOrderService(
	store repository.Store,
	orchestrator *saga.Orchestrator,
	planner *saga.Planner,
	projector *history.Projector,
	recorder *saga.EventRecorder,
	bus *progress.Bus,
	cache *redis.Client,
	logger *zap.Logger,
) *OrderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderService{
		store:        store,
		orchestrator: orchestrator,
		planner:      planner,
		projector:    projector,
		recorder:     recorder,
		bus:          bus,
		cache:        cache,
		logger:       logger,
	}
}

// SubmitOrder persists the order and drives it through the saga to a
// terminal state. The call returns when the saga finishes.
func (s *OrderService) SubmitOrder(ctx context.Context, req *dto.SubmitOrderRequest) (*saga.Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.order.submit")
	defer span.End()

	order, err := buildOrder(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("customer_id", order.CustomerID),
		attribute.Int64("total_amount_in_cents", order.TotalAmountInCents),
	)

	if err := s.store.CreateOrderWithItems(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	metrics.RecordOrderAccepted(ctx)

	s.logger.Info("order accepted",
		zap.String("order_id", order.ID),
		zap.String("customer_id", order.CustomerID),
		zap.Int64("total_amount_in_cents", order.TotalAmountInCents))

	started := time.Now()
	result, err := s.orchestrator.Execute(ctx, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.RecordSagaDuration(ctx, string(result.Status), time.Since(started))
	s.invalidateStatusCache(ctx, order.ID)

	span.SetAttributes(attribute.String("result", string(result.Status)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// buildOrder validates the request and assembles a PENDING order
func buildOrder(req *dto.SubmitOrderRequest) (*domain.Order, error) {
	if req.CustomerID == "" {
		return nil, domain.ErrInvalidCustomerID
	}
	if len(req.Items) == 0 {
		return nil, domain.ErrEmptyItems
	}
	if req.PaymentMethodID == "" {
		return nil, domain.ErrMissingPaymentMethod
	}
	address := req.ShippingAddress.ToDomain()
	if !address.IsComplete() {
		return nil, domain.ErrIncompleteAddress
	}

	orderID := uuid.New().String()
	items := make([]domain.OrderItem, len(req.Items))
	for i, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		if it.UnitPriceInCents < 0 {
			return nil, domain.ErrInvalidUnitPrice
		}
		items[i] = domain.OrderItem{
			ID:               uuid.New().String(),
			OrderID:          orderID,
			ProductID:        it.ProductID,
			ProductName:      it.ProductName,
			Quantity:         it.Quantity,
			UnitPriceInCents: it.UnitPriceInCents,
		}
	}

	now := time.Now()
	return &domain.Order{
		ID:                 orderID,
		CustomerID:         req.CustomerID,
		Items:              items,
		TotalAmountInCents: domain.TotalInCents(items),
		Status:             domain.OrderStatusPending,
		PaymentMethodID:    req.PaymentMethodID,
		ShippingAddress:    address,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// GetStatus returns the order's current state with its latest execution's
// step breakdown
func (s *OrderService) GetStatus(ctx context.Context, orderID string) (*dto.OrderStatusResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.order.get_status")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	if cached := s.cachedStatus(ctx, orderID); cached != nil {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		span.SetStatus(codes.Ok, "")
		return cached, nil
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	status := &dto.OrderStatusResponse{
		OrderID:       order.ID,
		OverallStatus: string(order.Status),
		Steps:         []dto.StepStatusResponse{},
		LastUpdated:   order.UpdatedAt,
		TraceContext:  telemetry.GetTraceID(ctx),
	}

	resume, err := s.store.FindResumeState(ctx, orderID)
	if err != nil && !errors.Is(err, domain.ErrExecutionNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resume != nil {
		for _, row := range resume.StepResults {
			status.Steps = append(status.Steps, dto.StepStatusResponse{
				Name:        row.StepName,
				Order:       row.StepOrder,
				Status:      string(row.Status),
				StartedAt:   row.StartedAt,
				CompletedAt: row.CompletedAt,
			})
			if row.Status == domain.StepStatusInProgress {
				status.CurrentStep = row.StepName
			}
		}
	}

	s.cacheStatus(ctx, orderID, status)
	span.SetStatus(codes.Ok, "")
	return status, nil
}

// GetHistory returns the order's projected timeline
func (s *OrderService) GetHistory(ctx context.Context, orderID string) (*history.Timeline, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.projector.Timeline(ctx, orderID)
}

// CheckRetryEligibility evaluates every retry rule for the order
func (s *OrderService) CheckRetryEligibility(ctx context.Context, orderID string) (*domain.Eligibility, error) {
	report, err := s.planner.Evaluate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return report.Eligibility, nil
}

// Subscribe attaches a progress observer to the order
func (s *OrderService) Subscribe(orderID string) *progress.Subscription {
	return s.bus.Subscribe(orderID)
}

// RetryOrder resumes a failed order's saga from the first step whose prior
// result no longer holds. Context validation failures surface before any
// retry attempt row is written.
func (s *OrderService) RetryOrder(ctx context.Context, orderID string, req *dto.RetryOrderRequest) (*RetryResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.order.retry")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID))

	report, err := s.planner.Evaluate(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !report.Eligibility.Eligible {
		metrics.RecordRetryAttempt(ctx, "not_eligible")
		span.SetAttributes(attribute.Bool("eligible", false))
		span.SetStatus(codes.Ok, "")
		return &RetryResult{NotEligible: true, Eligibility: report.Eligibility}, nil
	}

	var sagaReq *saga.RetryRequest
	if req != nil {
		sagaReq = req.ToSagaRequest()
	}

	sctx, err := s.planner.BuildContext(report.Order, report.Resume, sagaReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	plan := s.planner.PlanResume(report.Resume, sctx, time.Now())
	if err := s.planner.ValidateResumeInputs(plan, sctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	attemptNumber := len(report.Attempts) + 1
	span.SetAttributes(
		attribute.Int("attempt_number", attemptNumber),
		attribute.String("resume_step", plan.ResumeStepName),
	)

	if err := s.store.UpdateOrderStatus(ctx, orderID, domain.OrderStatusRetrying); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to mark order retrying: %w", err)
	}
	s.recorder.Record(ctx, &domain.OrderEvent{
		OrderID:   orderID,
		EventType: domain.EventRetryInitiated,
		Details: map[string]string{
			"attempt_number": fmt.Sprintf("%d", attemptNumber),
			"resumed_from":   plan.ResumeStepName,
		},
	})

	execution := &domain.SagaExecution{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		Status:    domain.ExecutionStatusInProgress,
		StartedAt: time.Now(),
	}
	if err := s.store.CreateExecution(ctx, execution); err != nil {
		// Undo the RETRYING flip: a RETRYING order is not retryable, so
		// leaving it would strand the order after a lost race
		if rbErr := s.store.UpdateOrderStatus(ctx, orderID, report.Order.Status); rbErr != nil {
			s.logger.Error("failed to restore order status after execution conflict",
				zap.String("order_id", orderID),
				zap.Error(rbErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create retry execution: %w", err)
	}

	attempt := &domain.RetryAttempt{
		ID:                  uuid.New().String(),
		OrderID:             orderID,
		OriginalExecutionID: report.Resume.Execution.ID,
		AttemptNumber:       attemptNumber,
		Outcome:             domain.RetryOutcomePending,
		InitiatedAt:         time.Now(),
	}
	if err := s.store.CreateRetryAttempt(ctx, attempt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create retry attempt: %w", err)
	}
	if err := s.store.UpdateRetryAttemptPlan(ctx, attempt.ID, execution.ID, plan.ResumeStepName, plan.SkippedSteps); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to record retry plan: %w", err)
	}

	sctx.ExecutionID = execution.ID
	carried := s.planner.CarriedData(report.Resume, plan)

	s.logger.Info("retrying order",
		zap.String("order_id", orderID),
		zap.Int("attempt_number", attemptNumber),
		zap.String("resume_step", plan.ResumeStepName),
		zap.Strings("skipped_steps", plan.SkippedSteps))

	started := time.Now()
	result, err := s.orchestrator.Resume(ctx, sctx, plan, carried, attemptNumber)
	if err != nil {
		if completeErr := s.store.CompleteRetryAttempt(ctx, attempt.ID, domain.RetryOutcomeFailed, err.Error(), time.Now()); completeErr != nil {
			s.logger.Error("failed to record retry failure",
				zap.String("order_id", orderID),
				zap.Error(completeErr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	metrics.RecordSagaDuration(ctx, string(result.Status), time.Since(started))

	outcome := domain.RetryOutcomeFailed
	failureReason := result.Reason
	if result.Status == saga.ResultSuccess {
		outcome = domain.RetryOutcomeSuccess
		failureReason = ""
	}
	if err := s.store.CompleteRetryAttempt(ctx, attempt.ID, outcome, failureReason, time.Now()); err != nil {
		s.logger.Error("failed to record retry outcome",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
	metrics.RecordRetryAttempt(ctx, string(outcome))
	s.invalidateStatusCache(ctx, orderID)

	span.SetAttributes(attribute.String("result", string(result.Status)))
	span.SetStatus(codes.Ok, "")
	return &RetryResult{AttemptNumber: attemptNumber, Result: result}, nil
}

func statusCacheKey(orderID string) string {
	return "order:status:" + orderID
}

func (s *OrderService) cachedStatus(ctx context.Context, orderID string) *dto.OrderStatusResponse {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, statusCacheKey(orderID)).Result()
	if err != nil {
		return nil
	}
	var status dto.OrderStatusResponse
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil
	}
	return &status
}

func (s *OrderService) cacheStatus(ctx context.Context, orderID string, status *dto.OrderStatusResponse) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, statusCacheKey(orderID), raw, statusCacheTTL).Err(); err != nil {
		s.logger.Debug("failed to cache order status",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

func (s *OrderService) invalidateStatusCache(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statusCacheKey(orderID)).Err(); err != nil {
		s.logger.Debug("failed to invalidate status cache",
			zap.String("order_id", orderID),
			zap.Error(err))
	}
}

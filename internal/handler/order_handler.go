package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/dto"
	"github.com/orderrush/saga-orchestrator/internal/saga"
	"github.com/orderrush/saga-orchestrator/internal/service"
	"github.com/orderrush/saga-orchestrator/pkg/response"
	"go.uber.org/zap"
)

// OrderHandler handles order HTTP requests
type OrderHandler struct {
	orders *service.OrderService
	logger *zap.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(orders *service.OrderService, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orders: orders, logger: logger}
}

// RegisterRoutes mounts the order routes on the given group
func (h *OrderHandler) RegisterRoutes(rg *gin.RouterGroup) {
	orders := rg.Group("/orders")
	{
		orders.POST("", h.SubmitOrder)
		orders.GET("/:order_id/status", h.GetStatus)
		orders.GET("/:order_id/stream", h.StreamStatus)
		orders.GET("/:order_id/history", h.GetHistory)
		orders.GET("/:order_id/retry-eligibility", h.CheckRetryEligibility)
		orders.POST("/:order_id/retry", h.RetryOrder)
	}
}

// SubmitOrder handles POST /orders. The response carries the saga's
// terminal result: the call returns once the order reached a terminal state.
func (h *OrderHandler) SubmitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.orders.SubmitOrder(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err, "submit_order")
		return
	}

	resp := dto.FromSagaResult(result)
	if result.Status == saga.ResultSuccess {
		response.Created(c, resp)
		return
	}
	// The order was accepted and processed; its saga ended in failure or
	// compensation, which the envelope carries as data, not an HTTP error
	response.Success(c, resp)
}

// GetStatus handles GET /orders/:order_id/status
func (h *OrderHandler) GetStatus(c *gin.Context) {
	status, err := h.orders.GetStatus(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.respondError(c, err, "get_status")
		return
	}
	response.Success(c, status)
}

// GetHistory handles GET /orders/:order_id/history
func (h *OrderHandler) GetHistory(c *gin.Context) {
	timeline, err := h.orders.GetHistory(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.respondError(c, err, "get_history")
		return
	}
	response.Success(c, timeline)
}

// CheckRetryEligibility handles GET /orders/:order_id/retry-eligibility
func (h *OrderHandler) CheckRetryEligibility(c *gin.Context) {
	eligibility, err := h.orders.CheckRetryEligibility(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.respondError(c, err, "check_retry_eligibility")
		return
	}
	response.Success(c, eligibility)
}

// RetryOrder handles POST /orders/:order_id/retry
func (h *OrderHandler) RetryOrder(c *gin.Context) {
	var req dto.RetryOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.orders.RetryOrder(c.Request.Context(), c.Param("order_id"), &req)
	if err != nil {
		h.respondError(c, err, "retry_order")
		return
	}

	if result.NotEligible {
		response.Success(c, &dto.RetryResultResponse{
			Status:      "NOT_ELIGIBLE",
			Eligibility: result.Eligibility,
		})
		return
	}

	response.Success(c, &dto.RetryResultResponse{
		Status:        string(result.Result.Status),
		AttemptNumber: result.AttemptNumber,
		Result:        dto.FromSagaResult(result.Result),
	})
}

// StreamStatus handles GET /orders/:order_id/stream as server-sent events.
// The stream ends after the TERMINAL marker or when the client disconnects.
func (h *OrderHandler) StreamStatus(c *gin.Context) {
	orderID := c.Param("order_id")

	status, err := h.orders.GetStatus(c.Request.Context(), orderID)
	if err != nil {
		h.respondError(c, err, "stream_status")
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Already terminal: nothing more will be published for this order
	if domain.OrderStatus(status.OverallStatus).IsTerminal() {
		c.SSEvent("snapshot", status)
		c.SSEvent(string(domain.EventTerminal), gin.H{"order_id": orderID})
		return
	}

	sub := h.orders.Subscribe(orderID)
	defer sub.Close()

	c.SSEvent("snapshot", status)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent("progress", dto.FromOrderEvent(event))
			return event.EventType != domain.EventTerminal
		}
	})
}

// respondError maps domain errors onto the response envelope
func (h *OrderHandler) respondError(c *gin.Context, err error, operation string) {
	var validationErr *domain.RetryContextValidationError

	switch {
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	case errors.As(err, &validationErr):
		response.Error(c, http.StatusUnprocessableEntity, "RETRY_CONTEXT_INVALID", validationErr.Reason, validationErr.Field)
	case domain.IsValidationError(err):
		response.BadRequest(c, err.Error())
	case domain.IsConflictError(err):
		response.Conflict(c, "ALREADY_IN_PROGRESS", err.Error())
	default:
		h.logger.Error("request failed",
			zap.String("operation", operation),
			zap.Error(err))
		response.InternalError(c, err)
	}
}

package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/orderrush/saga-orchestrator/internal/repository"
	"github.com/orderrush/saga-orchestrator/pkg/response"
)

// defaultResidueAge is how long an execution may sit in COMPENSATING before
// the operator endpoints report it
const defaultResidueAge = 10 * time.Minute

// AdminHandler exposes operator endpoints for compensation residue and
// stale retry attempts. The core never re-drives a partially failed
// compensation; these endpoints give operators the visibility to do so
// out-of-band.
type AdminHandler struct {
	store repository.Store
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(store repository.Store) *AdminHandler {
	return &AdminHandler{store: store}
}

// RegisterRoutes mounts the admin routes on the given group
func (h *AdminHandler) RegisterRoutes(rg *gin.RouterGroup) {
	admin := rg.Group("/admin")
	{
		admin.GET("/compensating-executions", h.ListCompensatingExecutions)
		admin.POST("/expire-pending-retries", h.ExpirePendingRetries)
	}
}

// ListCompensatingExecutions handles GET /admin/compensating-executions.
// Returns executions stuck in COMPENSATING longer than older_than.
func (h *AdminHandler) ListCompensatingExecutions(c *gin.Context) {
	olderThan := defaultResidueAge
	if raw := c.Query("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			response.BadRequest(c, "older_than must be a duration like 10m or 1h")
			return
		}
		olderThan = parsed
	}

	executions, err := h.store.ListCompensatingExecutions(c.Request.Context(), olderThan)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	response.Success(c, gin.H{
		"executions": executions,
		"count":      len(executions),
		"older_than": olderThan.String(),
	})
}

// ExpirePendingRetries handles POST /admin/expire-pending-retries.
// Fails PENDING retry attempts whose orchestration task died before
// recording an outcome.
func (h *AdminHandler) ExpirePendingRetries(c *gin.Context) {
	olderThan := defaultResidueAge
	if raw := c.Query("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			response.BadRequest(c, "older_than must be a duration like 10m or 1h")
			return
		}
		olderThan = parsed
	}

	expired, err := h.store.ExpirePendingRetryAttempts(c.Request.Context(), olderThan)
	if err != nil {
		response.InternalError(c, err)
		return
	}

	response.Success(c, gin.H{
		"expired":    expired,
		"older_than": olderThan.String(),
	})
}

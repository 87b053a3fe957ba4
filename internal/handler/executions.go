package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"autopilot/internal/audit"
	"autopilot/internal/repository"
	"autopilot/internal/service"
)

type ExecutionHandler struct {
	Repo      repository.Repository
	Lifecycle *service.ExecutionLifecycle
}

func (h *ExecutionHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/executions")
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.GET("/:id/history", h.history)
	group.POST("/:id/approve", h.approve)
	group.POST("/:id/skip", h.skip)
	group.POST("/:id/pause", h.pause)
}

// @Summary List executions
// @Tags executions
// @Produce json
// @Router /api/v1/executions [get]
func (h *ExecutionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListExecutionsParams{
		Limit:   limit,
		Offset:  offset,
		Wallet:  lowerPtr(strQueryPtr(c, "wallet")),
		State:   strQueryPtr(c, "state"),
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	if sid := uint64Query(c, "strategy_id"); sid > 0 {
		params.StrategyID = &sid
	}
	items, err := h.Repo.ListExecutions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountExecutions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get execution
// @Tags executions
// @Produce json
// @Router /api/v1/executions/{id} [get]
func (h *ExecutionHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetExecutionByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "execution not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Get execution state history
// @Tags executions
// @Produce json
// @Router /api/v1/executions/{id}/history [get]
func (h *ExecutionHandler) history(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetExecutionByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "execution not found", nil)
		return
	}
	Ok(c, item.Transitions(), nil)
}

type approveRequest struct {
	ApprovedBy string `json:"approved_by"`
}

// @Summary Approve a pending execution
// @Tags executions
// @Accept json
// @Produce json
// @Router /api/v1/executions/{id}/approve [post]
func (h *ExecutionHandler) approve(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req approveRequest
	_ = c.ShouldBindJSON(&req)
	item, err := h.Lifecycle.Approve(c.Request.Context(), id, strings.TrimSpace(req.ApprovedBy))
	if err != nil {
		Error(c, statusForLifecycleErr(err), err.Error(), nil)
		return
	}
	audit.EmitBestEffort(c, "execution_approved", "info", map[string]any{
		"execution_id": id,
		"approved_by":  req.ApprovedBy,
	})
	Ok(c, item, nil)
}

type skipRequest struct {
	Reason string `json:"reason"`
}

// @Summary Skip a pending execution
// @Tags executions
// @Accept json
// @Produce json
// @Router /api/v1/executions/{id}/skip [post]
func (h *ExecutionHandler) skip(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req skipRequest
	_ = c.ShouldBindJSON(&req)
	item, err := h.Lifecycle.SkipAndReschedule(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		Error(c, statusForLifecycleErr(err), err.Error(), nil)
		return
	}
	audit.EmitBestEffort(c, "execution_skipped", "info", map[string]any{
		"execution_id": id,
		"reason":       req.Reason,
	})
	Ok(c, item, nil)
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

// @Summary Pause a pending execution
// @Tags executions
// @Accept json
// @Produce json
// @Router /api/v1/executions/{id}/pause [post]
func (h *ExecutionHandler) pause(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req pauseRequest
	_ = c.ShouldBindJSON(&req)
	item, err := h.Lifecycle.Pause(c.Request.Context(), id, strings.TrimSpace(req.Reason))
	if err != nil {
		Error(c, statusForLifecycleErr(err), err.Error(), nil)
		return
	}
	audit.EmitBestEffort(c, "execution_paused", "info", map[string]any{
		"execution_id": id,
		"reason":       req.Reason,
	})
	Ok(c, item, nil)
}

func statusForLifecycleErr(err error) int {
	switch {
	case errors.Is(err, service.ErrExecutionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrExecutionTerminal):
		return http.StatusConflict
	default:
		return http.StatusConflict
	}
}

func uint64Query(c *gin.Context, key string) uint64 {
	out, err := strconv.ParseUint(strings.TrimSpace(c.Query(key)), 10, 64)
	if err != nil {
		return 0
	}
	return out
}

package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"autopilot/internal/models"
	"autopilot/internal/repository"
	"autopilot/internal/schedule"
	"autopilot/internal/service"
)

type StrategyHandler struct {
	Repo      repository.Repository
	Sessions  *service.SmartSessionService
	Scheduler *service.TriggerScheduler
}

func (h *StrategyHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/strategies")
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.POST("/:id/activate", h.activate)
	group.POST("/:id/pause", h.pause)
	group.POST("/:id/archive", h.archive)
	group.PUT("/:id/config", h.updateConfig)
	group.DELETE("/:id", h.remove)
	group.POST("/:id/execute", h.executeNow)
}

type createStrategyRequest struct {
	WalletAddress          string          `json:"wallet_address" binding:"required"`
	Kind                   string          `json:"kind" binding:"required"`
	Name                   string          `json:"name" binding:"required"`
	Config                 json.RawMessage `json:"config" binding:"required"`
	ScheduleExpr           *string         `json:"schedule_expr"`
	RequiresManualApproval *bool           `json:"requires_manual_approval"`
	SmartSessionID         *string         `json:"smart_session_id"`
}

// @Summary Create strategy (draft)
// @Tags strategies
// @Accept json
// @Produce json
// @Router /api/v1/strategies [post]
func (h *StrategyHandler) create(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item := &models.Strategy{
		WalletAddress:          strings.ToLower(strings.TrimSpace(req.WalletAddress)),
		Kind:                   strings.TrimSpace(req.Kind),
		Name:                   strings.TrimSpace(req.Name),
		Status:                 models.StrategyStatusDraft,
		Config:                 datatypes.JSON(req.Config),
		ScheduleExpr:           req.ScheduleExpr,
		RequiresManualApproval: true,
		SmartSessionID:         req.SmartSessionID,
	}
	if req.RequiresManualApproval != nil {
		item.RequiresManualApproval = *req.RequiresManualApproval
	}
	if err := validateStrategyConfig(item); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Repo.InsertStrategy(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary List strategies
// @Tags strategies
// @Produce json
// @Router /api/v1/strategies [get]
func (h *StrategyHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListStrategiesParams{
		Limit:   limit,
		Offset:  offset,
		Wallet:  lowerPtr(strQueryPtr(c, "wallet")),
		Status:  strQueryPtr(c, "status"),
		Kind:    strQueryPtr(c, "kind"),
		OrderBy: "created_at",
		Asc:     boolPtr(false),
	}
	items, err := h.Repo.ListStrategies(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountStrategies(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get strategy
// @Tags strategies
// @Produce json
// @Router /api/v1/strategies/{id} [get]
func (h *StrategyHandler) get(c *gin.Context) {
	item := h.load(c)
	if item == nil {
		return
	}
	Ok(c, item, nil)
}

// @Summary Activate strategy
// @Tags strategies
// @Produce json
// @Router /api/v1/strategies/{id}/activate [post]
func (h *StrategyHandler) activate(c *gin.Context) {
	item := h.load(c)
	if item == nil {
		return
	}
	if item.Status == models.StrategyStatusArchived {
		Error(c, http.StatusConflict, "archived strategies cannot be activated", nil)
		return
	}
	now := time.Now().UTC()
	// Autonomous strategies need a currently valid session before they
	// go live; manual-approval strategies activate unconditionally.
	if !item.RequiresManualApproval {
		if item.SmartSessionID == nil || *item.SmartSessionID == "" {
			Error(c, http.StatusConflict, "autonomous strategy has no linked smart session", nil)
			return
		}
		_, ok, err := h.Sessions.Validate(c.Request.Context(), *item.SmartSessionID, now)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		if !ok {
			Error(c, http.StatusConflict, "linked smart session is not valid", nil)
			return
		}
	}
	expr := ""
	if item.ScheduleExpr != nil {
		expr = *item.ScheduleExpr
	}
	next := schedule.NextRunWithOptions(expr, item.ScheduleOptions(), now)
	if err := h.Repo.UpdateStrategyStatus(c.Request.Context(), item.ID, models.StrategyStatusActive, &next); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item.Status = models.StrategyStatusActive
	item.NextExecutionAt = &next
	Ok(c, item, nil)
}

// @Summary Pause strategy
// @Tags strategies
// @Produce json
// @Router /api/v1/strategies/{id}/pause [post]
func (h *StrategyHandler) pause(c *gin.Context) {
	h.setStatus(c, models.StrategyStatusPaused)
}

// @Summary Archive strategy
// @Tags strategies
// @Produce json
// @Router /api/v1/strategies/{id}/archive [post]
func (h *StrategyHandler) archive(c *gin.Context) {
	h.setStatus(c, models.StrategyStatusArchived)
}

func (h *StrategyHandler) setStatus(c *gin.Context, status string) {
	item := h.load(c)
	if item == nil {
		return
	}
	// Leaving active clears the pending trigger.
	if err := h.Repo.UpdateStrategyStatus(c.Request.Context(), item.ID, status, nil); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item.Status = status
	item.NextExecutionAt = nil
	Ok(c, item, nil)
}

type updateConfigRequest struct {
	Config       json.RawMessage `json:"config" binding:"required"`
	ScheduleExpr *string         `json:"schedule_expr"`
}

// @Summary Update strategy config
// @Tags strategies
// @Accept json
// @Produce json
// @Router /api/v1/strategies/{id}/config [put]
func (h *StrategyHandler) updateConfig(c *gin.Context) {
	item := h.load(c)
	if item == nil {
		return
	}
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	probe := *item
	probe.Config = datatypes.JSON(req.Config)
	if err := validateStrategyConfig(&probe); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Repo.UpdateStrategyConfig(c.Request.Context(), item.ID, req.Config, req.ScheduleExpr); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	item.Config = datatypes.JSON(req.Config)
	if req.ScheduleExpr != nil {
		item.ScheduleExpr = req.ScheduleExpr
	}
	Ok(c, item, nil)
}

// @Summary Delete strategy (cascades executions)
// @Tags strategies
// @Produce json
// @Router /api/v1/strategies/{id} [delete]
func (h *StrategyHandler) remove(c *gin.Context) {
	item := h.load(c)
	if item == nil {
		return
	}
	if err := h.Repo.DeleteStrategy(c.Request.Context(), item.ID); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"deleted": item.ID}, nil)
}

type executeNowRequest struct {
	RequestedBy string `json:"requested_by"`
}

// @Summary Execute strategy immediately
// @Tags strategies
// @Accept json
// @Produce json
// @Router /api/v1/strategies/{id}/execute [post]
func (h *StrategyHandler) executeNow(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusServiceUnavailable, "scheduler unavailable", nil)
		return
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req executeNowRequest
	_ = c.ShouldBindJSON(&req)
	item, err := h.Scheduler.TriggerNow(c.Request.Context(), id, strings.TrimSpace(req.RequestedBy))
	if err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *StrategyHandler) load(c *gin.Context) *models.Strategy {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return nil
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return nil
	}
	item, err := h.Repo.GetStrategyByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return nil
	}
	if item == nil {
		Error(c, http.StatusNotFound, "strategy not found", nil)
		return nil
	}
	return item
}

// validateStrategyConfig checks the kind tag and that the config blob
// decodes for that kind.
func validateStrategyConfig(item *models.Strategy) error {
	switch item.Kind {
	case models.StrategyKindRecurringBuy:
		_, err := item.RecurringBuy()
		return err
	case models.StrategyKindRebalance:
		_, err := item.Rebalance()
		return err
	case models.StrategyKindStopLoss:
		_, err := item.StopLoss()
		return err
	default:
		return fmt.Errorf("unknown strategy kind: %q", item.Kind)
	}
}

func lowerPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.ToLower(strings.TrimSpace(*p))
	return &v
}

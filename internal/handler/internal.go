package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"autopilot/internal/service"
)

const internalSecretHeader = "X-Internal-Secret"

// InternalHandler receives executor callbacks. Every route checks the
// shared secret before touching any state.
type InternalHandler struct {
	Secret    string
	Lifecycle *service.ExecutionLifecycle
	Sessions  *service.SmartSessionService
}

func (h *InternalHandler) Register(r *gin.Engine) {
	group := r.Group("/internal/executions", h.requireSecret)
	group.POST("/:id/complete", h.complete)
	group.POST("/:id/fail", h.fail)
	group.POST("/:id/decision", h.decision)
}

func (h *InternalHandler) requireSecret(c *gin.Context) {
	secret := strings.TrimSpace(h.Secret)
	if secret == "" {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "internal callbacks disabled"})
		return
	}
	got := strings.TrimSpace(c.GetHeader(internalSecretHeader))
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid internal secret"})
		return
	}
	c.Next()
}

type completeRequest struct {
	TxHash     string          `json:"tx_hash"`
	OutputData json.RawMessage `json:"output_data"`
	// Executor-reported spend, mirrored onto the strategy's session.
	SessionID string          `json:"session_id"`
	SpentUSD  decimal.Decimal `json:"spent_usd"`
}

func (h *InternalHandler) complete(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item, err := h.Lifecycle.Complete(c.Request.Context(), id, req.TxHash, datatypes.JSON(req.OutputData))
	if err != nil {
		Error(c, statusForLifecycleErr(err), err.Error(), nil)
		return
	}
	if h.Sessions != nil && strings.TrimSpace(req.SessionID) != "" {
		_ = h.Sessions.RecordSpend(c.Request.Context(), req.SessionID, req.SpentUSD)
	}
	Ok(c, item, nil)
}

type failRequest struct {
	ErrorMessage string `json:"error_message" binding:"required"`
	ErrorCode    string `json:"error_code"`
	Recoverable  *bool  `json:"recoverable"`
}

func (h *InternalHandler) fail(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item, err := h.Lifecycle.Fail(c.Request.Context(), id, req.ErrorMessage, req.ErrorCode, req.Recoverable)
	if err != nil {
		Error(c, statusForLifecycleErr(err), err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

type decisionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *InternalHandler) decision(c *gin.Context) {
	if h.Lifecycle == nil {
		Error(c, http.StatusServiceUnavailable, "lifecycle unavailable", nil)
		return
	}
	id := uint64PathParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item, err := h.Lifecycle.AppendDecision(c.Request.Context(), id, req.Reason)
	if err != nil {
		Error(c, statusForLifecycleErr(err), err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

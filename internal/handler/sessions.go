package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"autopilot/internal/audit"
	"autopilot/internal/models"
	"autopilot/internal/repository"
	"autopilot/internal/service"
)

type SessionHandler struct {
	Repo     repository.Repository
	Sessions *service.SmartSessionService
}

func (h *SessionHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/sessions")
	group.POST("", h.upsert)
	group.GET("", h.list)
	group.POST("/:sessionId/revoke", h.revoke)
}

type upsertSessionRequest struct {
	SessionID        string          `json:"session_id" binding:"required"`
	WalletAddress    string          `json:"wallet_address" binding:"required"`
	ChainID          int             `json:"chain_id"`
	SpendingLimitUSD decimal.Decimal `json:"spending_limit_usd"`
	AllowedActions   []string        `json:"allowed_actions"`
	AllowedTokens    []string        `json:"allowed_tokens"`
	ValidUntil       time.Time       `json:"valid_until" binding:"required"`
	GrantTxHash      *string         `json:"grant_tx_hash"`
}

// @Summary Mirror a smart session grant
// @Tags sessions
// @Accept json
// @Produce json
// @Router /api/v1/sessions [post]
func (h *SessionHandler) upsert(c *gin.Context) {
	if h.Sessions == nil {
		Error(c, http.StatusServiceUnavailable, "sessions unavailable", nil)
		return
	}
	var req upsertSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item := &models.SmartSession{
		SessionID:        strings.TrimSpace(req.SessionID),
		WalletAddress:    strings.ToLower(strings.TrimSpace(req.WalletAddress)),
		Status:           models.SessionStatusActive,
		ChainID:          req.ChainID,
		SpendingLimitUSD: req.SpendingLimitUSD,
		AllowedActions:   toJSONArray(req.AllowedActions),
		AllowedTokens:    toJSONArray(req.AllowedTokens),
		ValidUntil:       req.ValidUntil.UTC(),
		GrantTxHash:      req.GrantTxHash,
	}
	if err := h.Sessions.Register(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary List smart sessions
// @Tags sessions
// @Produce json
// @Router /api/v1/sessions [get]
func (h *SessionHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListSmartSessions(c.Request.Context(), repository.ListSmartSessionsParams{
		Limit:  intQuery(c, "limit", 50),
		Offset: intQuery(c, "offset", 0),
		Wallet: lowerPtr(strQueryPtr(c, "wallet")),
		Status: strQueryPtr(c, "status"),
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

// @Summary Revoke a smart session
// @Tags sessions
// @Produce json
// @Router /api/v1/sessions/{sessionId}/revoke [post]
func (h *SessionHandler) revoke(c *gin.Context) {
	if h.Sessions == nil {
		Error(c, http.StatusServiceUnavailable, "sessions unavailable", nil)
		return
	}
	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		Error(c, http.StatusBadRequest, "invalid session id", nil)
		return
	}
	if err := h.Sessions.Revoke(c.Request.Context(), sessionID); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	audit.EmitBestEffort(c, "session_revoked", "info", map[string]any{
		"session_id": sessionID,
	})
	Ok(c, gin.H{"revoked": sessionID}, nil)
}

func toJSONArray(values []string) datatypes.JSON {
	if len(values) == 0 {
		return datatypes.JSON([]byte("[]"))
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return datatypes.JSON([]byte("[]"))
	}
	return datatypes.JSON(raw)
}

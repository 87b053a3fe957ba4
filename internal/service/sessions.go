package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"autopilot/internal/models"
	"autopilot/internal/repository"
)

// SmartSessionService manages the delegated-permission sessions that
// let the scheduler execute strategies without a fresh user signature.
type SmartSessionService struct {
	Repo   repository.Repository
	Logger *zap.Logger
	Flags  *SystemSettingsService
}

// Register upserts a session grant reported by the wallet backend.
func (s *SmartSessionService) Register(ctx context.Context, item *models.SmartSession) error {
	if s == nil || s.Repo == nil || item == nil {
		return nil
	}
	item.SessionID = strings.TrimSpace(item.SessionID)
	if item.SessionID == "" {
		return errors.New("session id is empty")
	}
	item.WalletAddress = strings.ToLower(strings.TrimSpace(item.WalletAddress))
	if item.WalletAddress == "" {
		return errors.New("wallet address is empty")
	}
	if item.Status == "" {
		item.Status = models.SessionStatusActive
	}
	return s.Repo.UpsertSmartSession(ctx, item)
}

// Validate loads the session and reports whether it can authorize an
// autonomous execution right now. A missing session is not an error.
func (s *SmartSessionService) Validate(ctx context.Context, sessionID string, now time.Time) (*models.SmartSession, bool, error) {
	if s == nil || s.Repo == nil {
		return nil, false, nil
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, false, nil
	}
	item, err := s.Repo.GetSmartSessionBySessionID(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	if item == nil {
		return nil, false, nil
	}
	return item, item.Valid(now), nil
}

// Revoke marks the session revoked. Strategies bound to it fall back to
// manual approval on their next trigger.
func (s *SmartSessionService) Revoke(ctx context.Context, sessionID string) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is empty")
	}
	now := time.Now().UTC()
	return s.Repo.UpdateSmartSessionStatus(ctx, sessionID, models.SessionStatusRevoked, &now)
}

// RecordSpend mirrors the executor-reported spend onto the session so
// the remaining allowance is visible without calling the policy service.
func (s *SmartSessionService) RecordSpend(ctx context.Context, sessionID string, amountUSD decimal.Decimal) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || amountUSD.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return s.Repo.AddSmartSessionSpend(ctx, sessionID, amountUSD)
}

// ExpireDue is the periodic cleanup pass: any active session whose
// valid_until has passed is flipped to expired.
func (s *SmartSessionService) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.Repo == nil {
		return 0, nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureSessionCleanup, true) {
		return 0, nil
	}
	n, err := s.Repo.ExpireDueSmartSessions(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.Logger != nil {
		s.Logger.Info("expired smart sessions", zap.Int64("count", n))
	}
	return n, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"autopilot/internal/client/policy"
	"autopilot/internal/config"
	"autopilot/internal/models"
	"autopilot/internal/repository"
	"autopilot/internal/schedule"
)

// PolicyEvaluator pre-checks an autonomous execution against the
// session's policy. A transport error is distinct from a rejection.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, req policy.EvaluateRequest) (*policy.EvaluateResult, error)
}

// ExecutionDispatcher hands an execution to the external engine. A nil
// error acknowledges dispatch only, not completion.
type ExecutionDispatcher interface {
	ExecuteStrategy(ctx context.Context, executionID, strategyID uint64, config json.RawMessage) error
	ExecuteDCA(ctx context.Context, strategyID uint64) error
}

// TriggerScheduler discovers due strategies on every cron tick and
// routes each one down the manual-approval or autonomous path.
type TriggerScheduler struct {
	Repo      repository.Repository
	Sessions  *SmartSessionService
	Lifecycle *ExecutionLifecycle
	Policy    PolicyEvaluator
	Engine    ExecutionDispatcher
	Logger    *zap.Logger
	Flags     *SystemSettingsService
	Config    config.SchedulerConfig

	// PolicyEnabled mirrors policy.enabled; when false the autonomous
	// path trusts the executor's own enforcement.
	PolicyEnabled bool
}

// ProcessDueStrategies is one scheduler tick. Strategy failures are
// isolated: one broken strategy never blocks the rest of the batch.
func (s *TriggerScheduler) ProcessDueStrategies(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeatureTriggerScheduler, true) {
		return nil
	}
	limit := s.Config.BatchLimit
	if limit <= 0 {
		limit = 200
	}
	now := time.Now().UTC()
	due, err := s.Repo.ListDueStrategies(ctx, now, limit)
	if err != nil {
		return err
	}
	for i := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.processStrategy(ctx, &due[i], now); err != nil && s.Logger != nil {
			s.Logger.Warn("strategy trigger failed",
				zap.Uint64("strategy_id", due[i].ID),
				zap.String("kind", due[i].Kind),
				zap.Error(err))
		}
	}
	return nil
}

func (s *TriggerScheduler) processStrategy(ctx context.Context, strat *models.Strategy, now time.Time) error {
	if strat == nil || !strat.Due(now) {
		return nil
	}

	// Duplicate guard: one in-flight execution per strategy. The cheap
	// pre-check here avoids the row lock; CreateExecutionIfIdle re-checks
	// under the lock before inserting.
	active, err := s.Repo.CountActiveExecutionsByStrategy(ctx, strat.ID)
	if err != nil {
		return err
	}
	if active > 0 {
		if s.Logger != nil {
			s.Logger.Debug("strategy has an in-flight execution, skipping",
				zap.Uint64("strategy_id", strat.ID))
		}
		return nil
	}

	if s.autonomous(ctx, strat, now) {
		return s.triggerAutonomous(ctx, strat, now)
	}
	return s.triggerManual(ctx, strat, now)
}

// autonomous reports whether this trigger may run without a human in the
// loop: the strategy opted out of manual approval AND its linked smart
// session is currently valid.
func (s *TriggerScheduler) autonomous(ctx context.Context, strat *models.Strategy, now time.Time) bool {
	if strat.RequiresManualApproval {
		return false
	}
	if strat.SmartSessionID == nil || *strat.SmartSessionID == "" {
		return false
	}
	_, ok, err := s.Sessions.Validate(ctx, *strat.SmartSessionID, now)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("session lookup failed, falling back to manual approval",
				zap.Uint64("strategy_id", strat.ID), zap.Error(err))
		}
		return false
	}
	return ok
}

// triggerManual creates an awaiting_approval execution and advances the
// schedule so the next tick does not re-trigger the same run.
func (s *TriggerScheduler) triggerManual(ctx context.Context, strat *models.Strategy, now time.Time) error {
	reason := strat.ApprovalSummary()
	item := s.newExecution(strat, models.StateAwaitingApproval, models.TriggerScheduledExecution, now)
	item.RequiresApproval = true
	item.ApprovalReason = &reason

	created, err := s.Repo.CreateExecutionIfIdle(ctx, item)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	if s.Logger != nil {
		s.Logger.Info("execution awaiting approval",
			zap.Uint64("strategy_id", strat.ID),
			zap.Uint64("execution_id", item.ID),
			zap.String("summary", reason))
	}
	return s.advance(ctx, strat, now)
}

// triggerAutonomous runs the policy pre-check and, if it passes,
// creates the execution directly in executing and dispatches it.
func (s *TriggerScheduler) triggerAutonomous(ctx context.Context, strat *models.Strategy, now time.Time) error {
	if s.policyCheckEnabled(ctx) {
		result, err := s.Policy.Evaluate(ctx, policy.EvaluateRequest{
			SessionID:     derefStr(strat.SmartSessionID),
			WalletAddress: strat.WalletAddress,
			ActionType:    strat.Kind,
			ChainID:       strat.ChainID(),
			ValueUSD:      strat.RunValueUSD().String(),
		})
		switch {
		case err != nil:
			// Fail open: the executor enforces the same policy before
			// signing, so an unreachable evaluator must not stall every
			// strategy in the system.
			if s.Logger != nil {
				s.Logger.Warn("policy pre-check unreachable, proceeding",
					zap.Uint64("strategy_id", strat.ID), zap.Error(err))
			}
		case !result.Approved:
			if s.Logger != nil {
				s.Logger.Info("policy rejected autonomous execution",
					zap.Uint64("strategy_id", strat.ID),
					zap.String("violations", result.ViolationSummary()))
			}
			return s.advance(ctx, strat, now)
		}
	}

	item := s.newExecution(strat, models.StateExecuting, models.TriggerSmartSessionAutoExecute, now)
	item.StartedAt = &now

	created, err := s.Repo.CreateExecutionIfIdle(ctx, item)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	if s.Logger != nil {
		s.Logger.Info("autonomous execution dispatching",
			zap.Uint64("strategy_id", strat.ID),
			zap.Uint64("execution_id", item.ID))
	}
	// Schedule advances whether or not dispatch succeeds: the executor
	// reports failures through the callback, which marks this execution
	// failed without consuming an extra trigger.
	if err := s.dispatch(ctx, strat, item); err != nil {
		if s.Logger != nil {
			s.Logger.Warn("engine dispatch failed",
				zap.Uint64("execution_id", item.ID), zap.Error(err))
		}
		if s.Lifecycle != nil {
			if _, ferr := s.Lifecycle.Fail(ctx, item.ID, fmt.Sprintf("dispatch failed: %v", err), "dispatch_error", boolPtr(true)); ferr != nil && s.Logger != nil {
				s.Logger.Warn("failed to mark dispatch failure", zap.Uint64("execution_id", item.ID), zap.Error(ferr))
			}
		}
	}
	return s.advance(ctx, strat, now)
}

// policyCheckEnabled combines the deploy-time policy.enabled config
// with the feature.policy_check runtime switch. Either one can turn the
// pre-check off; the executor's own enforcement is unaffected.
func (s *TriggerScheduler) policyCheckEnabled(ctx context.Context) bool {
	if !s.PolicyEnabled || s.Policy == nil {
		return false
	}
	if s.Flags != nil && !s.Flags.IsEnabled(ctx, FeaturePolicyCheck, true) {
		return false
	}
	return true
}

// TriggerNow is the user's explicit execute-now request. The request
// itself is the approval, so the execution starts directly in executing;
// the duplicate guard still applies.
func (s *TriggerScheduler) TriggerNow(ctx context.Context, strategyID uint64, requestedBy string) (*models.Execution, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("trigger scheduler is not configured")
	}
	strat, err := s.Repo.GetStrategyByID(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	if strat == nil {
		return nil, errors.New("strategy not found")
	}
	if strat.Status != models.StrategyStatusActive {
		return nil, fmt.Errorf("strategy is %s, not active", strat.Status)
	}

	now := time.Now().UTC()
	item := s.newExecution(strat, models.StateExecuting, models.TriggerManualExecuteNow, now)
	item.StartedAt = &now
	item.ApprovedBy = &requestedBy
	item.ApprovedAt = &now

	created, err := s.Repo.CreateExecutionIfIdle(ctx, item)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, errors.New("strategy already has an execution in progress")
	}
	if err := s.dispatch(ctx, strat, item); err != nil {
		if s.Lifecycle != nil {
			_, _ = s.Lifecycle.Fail(ctx, item.ID, fmt.Sprintf("dispatch failed: %v", err), "dispatch_error", boolPtr(true))
		}
		return nil, err
	}
	return item, nil
}

func (s *TriggerScheduler) dispatch(ctx context.Context, strat *models.Strategy, item *models.Execution) error {
	if s.Engine == nil {
		return errors.New("execution engine is not configured")
	}
	if strat.Kind == models.StrategyKindRecurringBuy {
		return s.Engine.ExecuteDCA(ctx, strat.ID)
	}
	return s.Engine.ExecuteStrategy(ctx, item.ID, strat.ID, json.RawMessage(strat.Config))
}

func (s *TriggerScheduler) advance(ctx context.Context, strat *models.Strategy, now time.Time) error {
	expr := derefStr(strat.ScheduleExpr)
	next := schedule.NextRunWithOptions(expr, strat.ScheduleOptions(), now)
	return s.Repo.AdvanceStrategySchedule(ctx, strat.ID, next)
}

func (s *TriggerScheduler) newExecution(strat *models.Strategy, state, trigger string, now time.Time) *models.Execution {
	history := models.AppendTransition(nil, models.StateTransition{
		FromState: models.StateIdle,
		ToState:   state,
		Trigger:   trigger,
		Timestamp: now,
	})
	return &models.Execution{
		StrategyID:     strat.ID,
		WalletAddress:  strat.WalletAddress,
		State:          state,
		StateEnteredAt: now,
		History:        history,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func boolPtr(b bool) *bool { return &b }

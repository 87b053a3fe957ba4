package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"autopilot/internal/audit"
	"autopilot/internal/models"
	"autopilot/internal/repository"
	"autopilot/internal/schedule"
)

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrExecutionTerminal = errors.New("execution already in a terminal state")
)

// ExecutionLifecycle owns every persisted state change of an execution.
// All mutations funnel through Transition so the history log and the
// state column can never disagree.
type ExecutionLifecycle struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// Transition moves the execution to a new state, appending one history
// entry. Terminal executions reject all further transitions. extra
// carries column updates that must land atomically with the state
// change (tx hash, error fields, approval stamps).
func (s *ExecutionLifecycle) Transition(ctx context.Context, executionID uint64, toState, trigger, reason string, extra map[string]any) (*models.Execution, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("execution lifecycle is not configured")
	}
	item, err := s.Repo.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrExecutionNotFound
	}
	if item.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrExecutionTerminal, item.State)
	}

	now := time.Now().UTC()
	history := models.AppendTransition(item.History, models.StateTransition{
		FromState: item.State,
		ToState:   toState,
		Trigger:   trigger,
		Timestamp: now,
		Reason:    reason,
	})

	updates := map[string]any{
		"state":            toState,
		"state_entered_at": now,
		"history":          history,
		"updated_at":       now,
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := s.Repo.UpdateExecution(ctx, executionID, updates); err != nil {
		return nil, err
	}

	item.State = toState
	item.StateEnteredAt = now
	item.History = history
	if s.Logger != nil {
		s.Logger.Info("execution transition",
			zap.Uint64("execution_id", executionID),
			zap.Uint64("strategy_id", item.StrategyID),
			zap.String("to_state", toState),
			zap.String("trigger", trigger))
	}
	audit.EmitBestEffortCtx(ctx, "execution_transition", "info", map[string]any{
		"execution_id": executionID,
		"strategy_id":  item.StrategyID,
		"to_state":     toState,
		"trigger":      trigger,
	})
	return item, nil
}

// Approve moves a pending execution into executing and stamps the
// approval metadata. Only awaiting_approval and paused executions can
// be approved.
func (s *ExecutionLifecycle) Approve(ctx context.Context, executionID uint64, approvedBy string) (*models.Execution, error) {
	item, err := s.get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if item.State != models.StateAwaitingApproval && item.State != models.StatePaused {
		return nil, fmt.Errorf("cannot approve execution in state %s", item.State)
	}
	now := time.Now().UTC()
	return s.Transition(ctx, executionID, models.StateExecuting, models.TriggerUserApproved, "", map[string]any{
		"approved_by": strings.TrimSpace(approvedBy),
		"approved_at": now,
		"started_at":  now,
	})
}

// Skip cancels a pending (awaiting_approval or paused) execution. The
// caller reschedules the strategy; skipping one run never disables the
// strategy.
func (s *ExecutionLifecycle) Skip(ctx context.Context, executionID uint64, reason string) (*models.Execution, error) {
	item, err := s.get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if item.State != models.StateAwaitingApproval && item.State != models.StatePaused {
		return nil, fmt.Errorf("cannot skip execution in state %s", item.State)
	}
	now := time.Now().UTC()
	return s.Transition(ctx, executionID, models.StateCancelled, models.TriggerUserSkipped, reason, map[string]any{
		"completed_at": now,
	})
}

// Pause defers a pending approval decision without cancelling it. The
// execution keeps its strategy's active slot; Approve and Skip are the
// only ways out of paused.
func (s *ExecutionLifecycle) Pause(ctx context.Context, executionID uint64, reason string) (*models.Execution, error) {
	item, err := s.get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if item.State != models.StateAwaitingApproval {
		return nil, fmt.Errorf("cannot pause execution in state %s", item.State)
	}
	return s.Transition(ctx, executionID, models.StatePaused, models.TriggerUserPaused, reason, nil)
}

// Complete records a successful run reported by the executor.
func (s *ExecutionLifecycle) Complete(ctx context.Context, executionID uint64, txHash string, output datatypes.JSON) (*models.Execution, error) {
	now := time.Now().UTC()
	extra := map[string]any{
		"completed_at":  now,
		"error_message": nil,
		"error_code":    nil,
		"recoverable":   nil,
	}
	if strings.TrimSpace(txHash) != "" {
		extra["tx_hash"] = strings.TrimSpace(txHash)
	}
	if len(output) > 0 {
		extra["output_data"] = output
	}
	item, err := s.Transition(ctx, executionID, models.StateCompleted, models.TriggerExecutionSuccess, "", extra)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.MarkStrategyExecuted(ctx, item.StrategyID, now, true); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to stamp strategy success", zap.Uint64("strategy_id", item.StrategyID), zap.Error(err))
	}
	return item, nil
}

// Fail records an executor-reported failure. The strategy's schedule is
// left untouched: a failed run does not consume the next trigger.
func (s *ExecutionLifecycle) Fail(ctx context.Context, executionID uint64, message, code string, recoverable *bool) (*models.Execution, error) {
	now := time.Now().UTC()
	extra := map[string]any{
		"completed_at":  now,
		"error_message": message,
	}
	if strings.TrimSpace(code) != "" {
		extra["error_code"] = strings.TrimSpace(code)
	}
	if recoverable != nil {
		extra["recoverable"] = *recoverable
	}
	item, err := s.Transition(ctx, executionID, models.StateFailed, models.TriggerExecutionError, message, extra)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.MarkStrategyExecuted(ctx, item.StrategyID, now, false); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to stamp strategy failure", zap.Uint64("strategy_id", item.StrategyID), zap.Error(err))
	}
	return item, nil
}

// AppendDecision records engine telemetry (monitoring observations,
// partial fills, retries) in the history log without changing state.
func (s *ExecutionLifecycle) AppendDecision(ctx context.Context, executionID uint64, reason string) (*models.Execution, error) {
	item, err := s.get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if item.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrExecutionTerminal, item.State)
	}
	return s.Transition(ctx, executionID, item.State, models.TriggerEngineTelemetry, reason, nil)
}

// SkipAndReschedule is the user-skip flow: cancel the pending execution
// and move the owning strategy's next trigger forward.
func (s *ExecutionLifecycle) SkipAndReschedule(ctx context.Context, executionID uint64, reason string) (*models.Execution, error) {
	item, err := s.Skip(ctx, executionID, reason)
	if err != nil {
		return nil, err
	}
	strat, err := s.Repo.GetStrategyByID(ctx, item.StrategyID)
	if err != nil || strat == nil {
		return item, err
	}
	if strat.Status != models.StrategyStatusActive {
		return item, nil
	}
	expr := ""
	if strat.ScheduleExpr != nil {
		expr = *strat.ScheduleExpr
	}
	opts := strat.ScheduleOptions()
	next := schedule.NextRunWithOptions(expr, opts, time.Now().UTC())
	if err := s.Repo.AdvanceStrategySchedule(ctx, strat.ID, next); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to reschedule after skip", zap.Uint64("strategy_id", strat.ID), zap.Error(err))
	}
	return item, nil
}

func (s *ExecutionLifecycle) get(ctx context.Context, executionID uint64) (*models.Execution, error) {
	if s == nil || s.Repo == nil {
		return nil, errors.New("execution lifecycle is not configured")
	}
	item, err := s.Repo.GetExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrExecutionNotFound
	}
	return item, nil
}

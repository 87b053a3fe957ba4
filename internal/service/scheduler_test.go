package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"autopilot/internal/client/policy"
	"autopilot/internal/config"
	"autopilot/internal/models"
	"autopilot/internal/repository"
)

type stubPolicy struct {
	result *policy.EvaluateResult
	err    error
	calls  int
}

func (p *stubPolicy) Evaluate(ctx context.Context, req policy.EvaluateRequest) (*policy.EvaluateResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

type stubEngine struct {
	mu        sync.Mutex
	strategy  int
	dca       int
	err       error
	lastExec  uint64
	lastStrat uint64
}

func (e *stubEngine) ExecuteStrategy(ctx context.Context, executionID, strategyID uint64, config json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategy++
	e.lastExec = executionID
	e.lastStrat = strategyID
	return e.err
}

func (e *stubEngine) ExecuteDCA(ctx context.Context, strategyID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dca++
	e.lastStrat = strategyID
	return e.err
}

func newScheduler(repo *stubRepo, pol PolicyEvaluator, eng ExecutionDispatcher) *TriggerScheduler {
	return &TriggerScheduler{
		Repo:          repo,
		Sessions:      &SmartSessionService{Repo: repo},
		Lifecycle:     &ExecutionLifecycle{Repo: repo},
		Policy:        pol,
		Engine:        eng,
		Config:        config.SchedulerConfig{BatchLimit: 100},
		PolicyEnabled: pol != nil,
	}
}

func seedSession(t *testing.T, repo *stubRepo, sessionID string, validUntil time.Time, status string) {
	t.Helper()
	err := repo.UpsertSmartSession(context.Background(), &models.SmartSession{
		SessionID:     sessionID,
		WalletAddress: "0xabc",
		Status:        status,
		ChainID:       8453,
		ValidUntil:    validUntil,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func executionsFor(t *testing.T, repo *stubRepo, strategyID uint64) []models.Execution {
	t.Helper()
	items, err := repo.ListExecutions(context.Background(), listExecsParams(strategyID))
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	return items
}

// Manual-approval strategy due: exactly one awaiting_approval execution
// with the scheduled_execution trigger, schedule advanced.
func TestTick_ManualApprovalPath(t *testing.T) {
	repo := newStubRepo()
	strat := seedStrategy(t, repo, nil)
	before := *strat.NextExecutionAt

	eng := &stubEngine{}
	sched := newScheduler(repo, nil, eng)
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	execs := executionsFor(t, repo, strat.ID)
	if len(execs) != 1 {
		t.Fatalf("executions=%d want 1", len(execs))
	}
	exec := execs[0]
	if exec.State != models.StateAwaitingApproval {
		t.Fatalf("state=%s want awaiting_approval", exec.State)
	}
	if !exec.RequiresApproval || exec.ApprovalReason == nil || *exec.ApprovalReason == "" {
		t.Fatalf("approval metadata missing: %+v", exec)
	}
	trs := exec.Transitions()
	if len(trs) != 1 || trs[0].FromState != models.StateIdle || trs[0].Trigger != models.TriggerScheduledExecution {
		t.Fatalf("bad history: %+v", trs)
	}
	if eng.strategy+eng.dca != 0 {
		t.Fatalf("manual path dispatched to engine")
	}

	stored, _ := repo.GetStrategyByID(context.Background(), strat.ID)
	if stored.NextExecutionAt == nil || !stored.NextExecutionAt.After(before) {
		t.Fatalf("schedule not advanced")
	}
}

// Valid session + policy approval: one executing execution tagged
// smart_session_auto_execute, dispatch attempted.
func TestTick_AutonomousPath(t *testing.T) {
	repo := newStubRepo()
	sessionID := "sess-1"
	strat := seedStrategy(t, repo, func(s *models.Strategy) {
		s.RequiresManualApproval = false
		s.SmartSessionID = &sessionID
	})
	seedSession(t, repo, sessionID, time.Now().UTC().Add(time.Hour), models.SessionStatusActive)

	pol := &stubPolicy{result: &policy.EvaluateResult{Approved: true}}
	eng := &stubEngine{}
	sched := newScheduler(repo, pol, eng)
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	execs := executionsFor(t, repo, strat.ID)
	if len(execs) != 1 {
		t.Fatalf("executions=%d want 1", len(execs))
	}
	exec := execs[0]
	if exec.State != models.StateExecuting {
		t.Fatalf("state=%s want executing", exec.State)
	}
	trs := exec.Transitions()
	if len(trs) != 1 || trs[0].Trigger != models.TriggerSmartSessionAutoExecute {
		t.Fatalf("bad history: %+v", trs)
	}
	if pol.calls != 1 {
		t.Fatalf("policy calls=%d want 1", pol.calls)
	}
	// recurring_buy uses the DCA fast path.
	if eng.dca != 1 || eng.strategy != 0 {
		t.Fatalf("dispatch dca=%d strategy=%d want 1,0", eng.dca, eng.strategy)
	}
}

// Policy explicit rejection: no execution, schedule still advances.
func TestTick_PolicyRejection(t *testing.T) {
	repo := newStubRepo()
	sessionID := "sess-1"
	strat := seedStrategy(t, repo, func(s *models.Strategy) {
		s.RequiresManualApproval = false
		s.SmartSessionID = &sessionID
	})
	before := *strat.NextExecutionAt
	seedSession(t, repo, sessionID, time.Now().UTC().Add(time.Hour), models.SessionStatusActive)

	pol := &stubPolicy{result: &policy.EvaluateResult{
		Approved:   false,
		Violations: []policy.Violation{{Message: "spending limit exceeded"}},
	}}
	eng := &stubEngine{}
	sched := newScheduler(repo, pol, eng)
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if n := len(executionsFor(t, repo, strat.ID)); n != 0 {
		t.Fatalf("executions=%d want 0", n)
	}
	if eng.dca+eng.strategy != 0 {
		t.Fatalf("rejected run was dispatched")
	}
	stored, _ := repo.GetStrategyByID(context.Background(), strat.ID)
	if stored.NextExecutionAt == nil || !stored.NextExecutionAt.After(before) {
		t.Fatalf("schedule not advanced after rejection")
	}
}

// Policy transport error: fail open, execution proceeds.
func TestTick_PolicyUnreachableFailsOpen(t *testing.T) {
	repo := newStubRepo()
	sessionID := "sess-1"
	strat := seedStrategy(t, repo, func(s *models.Strategy) {
		s.RequiresManualApproval = false
		s.SmartSessionID = &sessionID
	})
	seedSession(t, repo, sessionID, time.Now().UTC().Add(time.Hour), models.SessionStatusActive)

	pol := &stubPolicy{err: errors.New("connection refused")}
	eng := &stubEngine{}
	sched := newScheduler(repo, pol, eng)
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	execs := executionsFor(t, repo, strat.ID)
	if len(execs) != 1 {
		t.Fatalf("executions=%d want 1", len(execs))
	}
	if execs[0].State != models.StateExecuting {
		t.Fatalf("state=%s want executing", execs[0].State)
	}
	if eng.dca != 1 {
		t.Fatalf("dispatch missing after fail-open")
	}
}

// feature.policy_check off: the evaluator is never consulted even when
// policy.enabled is set, and the autonomous run proceeds.
func TestTick_PolicyCheckSwitchDisabled(t *testing.T) {
	repo := newStubRepo()
	sessionID := "sess-1"
	strat := seedStrategy(t, repo, func(s *models.Strategy) {
		s.RequiresManualApproval = false
		s.SmartSessionID = &sessionID
	})
	seedSession(t, repo, sessionID, time.Now().UTC().Add(time.Hour), models.SessionStatusActive)

	flags := &SystemSettingsService{Repo: repo}
	if err := flags.SetEnabled(context.Background(), FeaturePolicyCheck, false); err != nil {
		t.Fatalf("set: %v", err)
	}

	// A rejecting evaluator proves the switch short-circuits the call.
	pol := &stubPolicy{result: &policy.EvaluateResult{
		Approved:   false,
		Violations: []policy.Violation{{Message: "spending limit exceeded"}},
	}}
	eng := &stubEngine{}
	sched := newScheduler(repo, pol, eng)
	sched.Flags = flags
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if pol.calls != 0 {
		t.Fatalf("policy calls=%d want 0 while switch disabled", pol.calls)
	}
	execs := executionsFor(t, repo, strat.ID)
	if len(execs) != 1 || execs[0].State != models.StateExecuting {
		t.Fatalf("want one executing execution, got %+v", execs)
	}
	if eng.dca != 1 {
		t.Fatalf("dispatch missing")
	}
}

// Expired or revoked session falls back to the manual-approval path.
func TestTick_InvalidSessionFallsBackToManual(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status string
		until  time.Time
	}{
		{"expired", models.SessionStatusActive, time.Now().UTC().Add(-time.Hour)},
		{"revoked", models.SessionStatusRevoked, time.Now().UTC().Add(time.Hour)},
	} {
		repo := newStubRepo()
		sessionID := "sess-1"
		strat := seedStrategy(t, repo, func(s *models.Strategy) {
			s.RequiresManualApproval = false
			s.SmartSessionID = &sessionID
		})
		seedSession(t, repo, sessionID, tc.until, tc.status)

		sched := newScheduler(repo, &stubPolicy{result: &policy.EvaluateResult{Approved: true}}, &stubEngine{})
		if err := sched.ProcessDueStrategies(context.Background()); err != nil {
			t.Fatalf("%s: tick: %v", tc.name, err)
		}
		execs := executionsFor(t, repo, strat.ID)
		if len(execs) != 1 || execs[0].State != models.StateAwaitingApproval {
			t.Fatalf("%s: want one awaiting_approval execution, got %+v", tc.name, execs)
		}
	}
}

// A second tick while the first execution is still pending must not
// create another one.
func TestTick_DuplicateGuard(t *testing.T) {
	repo := newStubRepo()
	strat := seedStrategy(t, repo, nil)

	sched := newScheduler(repo, nil, &stubEngine{})
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}

	// Force the strategy due again with the execution still pending.
	past := time.Now().UTC().Add(-time.Minute)
	if err := repo.AdvanceStrategySchedule(context.Background(), strat.ID, past); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	if n := len(executionsFor(t, repo, strat.ID)); n != 1 {
		t.Fatalf("executions=%d want 1", n)
	}
}

// A paused execution holds the slot: the guard must not admit a second
// execution while one is paused.
func TestTick_PausedExecutionBlocksGuard(t *testing.T) {
	repo := newStubRepo()
	strat := seedStrategy(t, repo, nil)

	sched := newScheduler(repo, nil, &stubEngine{})
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	execs := executionsFor(t, repo, strat.ID)
	if len(execs) != 1 {
		t.Fatalf("executions=%d want 1", len(execs))
	}
	lc := &ExecutionLifecycle{Repo: repo}
	if _, err := lc.Pause(context.Background(), execs[0].ID, "hold"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	if err := repo.AdvanceStrategySchedule(context.Background(), strat.ID, past); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if n := len(executionsFor(t, repo, strat.ID)); n != 1 {
		t.Fatalf("executions=%d want 1 while paused", n)
	}
}

// Concurrent ticks racing on the same due strategy: the guard admits
// exactly one execution.
func TestTick_ConcurrentGuard(t *testing.T) {
	repo := newStubRepo()
	strat := seedStrategy(t, repo, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched := newScheduler(repo, nil, &stubEngine{})
			_ = sched.ProcessDueStrategies(context.Background())
		}()
	}
	wg.Wait()

	if n := len(executionsFor(t, repo, strat.ID)); n != 1 {
		t.Fatalf("executions=%d want exactly 1", n)
	}
}

// Paused strategies are never picked up even when their timestamp is due.
func TestTick_IgnoresInactiveStrategies(t *testing.T) {
	repo := newStubRepo()
	strat := seedStrategy(t, repo, func(s *models.Strategy) {
		s.Status = models.StrategyStatusPaused
	})

	sched := newScheduler(repo, nil, &stubEngine{})
	if err := sched.ProcessDueStrategies(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n := len(executionsFor(t, repo, strat.ID)); n != 0 {
		t.Fatalf("executions=%d want 0", n)
	}
}

func TestTriggerNow(t *testing.T) {
	repo := newStubRepo()
	strat := seedStrategy(t, repo, nil)

	eng := &stubEngine{}
	sched := newScheduler(repo, nil, eng)
	item, err := sched.TriggerNow(context.Background(), strat.ID, "0xabc")
	if err != nil {
		t.Fatalf("trigger now: %v", err)
	}
	if item.State != models.StateExecuting {
		t.Fatalf("state=%s want executing", item.State)
	}
	trs := item.Transitions()
	if len(trs) != 1 || trs[0].Trigger != models.TriggerManualExecuteNow {
		t.Fatalf("bad history: %+v", trs)
	}
	if eng.dca != 1 {
		t.Fatalf("dispatch missing")
	}

	// A second immediate trigger hits the duplicate guard.
	if _, err := sched.TriggerNow(context.Background(), strat.ID, "0xabc"); err == nil {
		t.Fatalf("expected duplicate guard rejection")
	}
}

func TestTriggerNow_InactiveStrategy(t *testing.T) {
	repo := newStubRepo()
	strat := seedStrategy(t, repo, func(s *models.Strategy) {
		s.Status = models.StrategyStatusDraft
	})
	sched := newScheduler(repo, nil, &stubEngine{})
	if _, err := sched.TriggerNow(context.Background(), strat.ID, "0xabc"); err == nil {
		t.Fatalf("expected rejection for draft strategy")
	}
}

func listExecsParams(strategyID uint64) repository.ListExecutionsParams {
	return repository.ListExecutionsParams{StrategyID: &strategyID}
}

package models

import (
	"testing"

	"gorm.io/datatypes"
)

func TestApprovalSummary_RecurringBuy(t *testing.T) {
	s := &Strategy{
		Kind:   StrategyKindRecurringBuy,
		Name:   "weekly eth",
		Config: datatypes.JSON([]byte(`{"chain_id":8453,"token_in":"USDC","token_out":"WETH","amount_usd":"10","schedule":{}}`)),
	}
	if got := s.ApprovalSummary(); got != "Buy WETH with 10 USDC" {
		t.Fatalf("summary=%q", got)
	}
}

func TestApprovalSummary_RebalanceSortedTokens(t *testing.T) {
	s := &Strategy{
		Kind:   StrategyKindRebalance,
		Name:   "monthly rebalance",
		Config: datatypes.JSON([]byte(`{"chain_id":8453,"target_pcts":{"WETH":0.5,"USDC":0.3,"CBBTC":0.2},"drift_pct":5,"schedule":{}}`)),
	}
	if got := s.ApprovalSummary(); got != "Rebalance portfolio across CBBTC, USDC, WETH" {
		t.Fatalf("summary=%q", got)
	}
}

func TestApprovalSummary_FallbackOnBadConfig(t *testing.T) {
	s := &Strategy{
		Kind:   StrategyKindStopLoss,
		Name:   "protect eth",
		Config: datatypes.JSON([]byte(`not json`)),
	}
	if got := s.ApprovalSummary(); got != `Execute stop_loss strategy "protect eth"` {
		t.Fatalf("summary=%q", got)
	}
}

func TestConfigAccessors_KindMismatch(t *testing.T) {
	s := &Strategy{
		Kind:   StrategyKindRecurringBuy,
		Config: datatypes.JSON([]byte(`{}`)),
	}
	if _, err := s.Rebalance(); err == nil {
		t.Fatalf("expected kind mismatch error")
	}
}

func TestScheduleOptionsExtraction(t *testing.T) {
	s := &Strategy{
		Kind:   StrategyKindRecurringBuy,
		Config: datatypes.JSON([]byte(`{"chain_id":1,"schedule":{"execution_hour_utc":9,"day_of_week":1}}`)),
	}
	opts := s.ScheduleOptions()
	if opts.ExecutionHourUTC == nil || *opts.ExecutionHourUTC != 9 {
		t.Fatalf("hour=%v", opts.ExecutionHourUTC)
	}
	if opts.DayOfWeek == nil || *opts.DayOfWeek != 1 {
		t.Fatalf("dow=%v", opts.DayOfWeek)
	}
	if s.ChainID() != 1 {
		t.Fatalf("chain=%d", s.ChainID())
	}
}

func TestAppendTransition_AppendOnly(t *testing.T) {
	h := AppendTransition(nil, StateTransition{FromState: StateIdle, ToState: StateAwaitingApproval, Trigger: TriggerScheduledExecution})
	h2 := AppendTransition(h, StateTransition{FromState: StateAwaitingApproval, ToState: StateExecuting, Trigger: TriggerUserApproved})

	e := &Execution{History: h2}
	trs := e.Transitions()
	if len(trs) != 2 {
		t.Fatalf("len=%d want 2", len(trs))
	}
	if trs[0].ToState != StateAwaitingApproval || trs[1].ToState != StateExecuting {
		t.Fatalf("order wrong: %+v", trs)
	}

	// Original slice is untouched.
	e1 := &Execution{History: h}
	if len(e1.Transitions()) != 1 {
		t.Fatalf("first history mutated")
	}
}

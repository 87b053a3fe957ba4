package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ScheduleOptions are advisory inputs carried inside every kind config.
// The next-run calculator honors the cadence fields; the spend/slippage
// ceilings are passed through to the external executor's own guardrails.
type ScheduleOptions struct {
	ExecutionHourUTC *int    `json:"execution_hour_utc,omitempty"`
	DayOfWeek        *int    `json:"day_of_week,omitempty"`
	DayOfMonth       *int    `json:"day_of_month,omitempty"`
	MaxSpendUSD      *string `json:"max_spend_usd,omitempty"`
	MaxExecutions    *int    `json:"max_executions,omitempty"`
	EndDate          *string `json:"end_date,omitempty"`
	SlippageBps      *int    `json:"slippage_bps,omitempty"`
	MaxGasGwei       *int    `json:"max_gas_gwei,omitempty"`
}

// RecurringBuyConfig buys a fixed USD amount of TokenOut with TokenIn
// on every run.
type RecurringBuyConfig struct {
	ChainID   int             `json:"chain_id"`
	TokenIn   string          `json:"token_in"`
	TokenOut  string          `json:"token_out"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	Schedule  ScheduleOptions `json:"schedule"`
}

// RebalanceConfig restores a target allocation across tokens.
type RebalanceConfig struct {
	ChainID    int                `json:"chain_id"`
	TargetPcts map[string]float64 `json:"target_pcts"`
	DriftPct   float64            `json:"drift_pct"`
	Schedule   ScheduleOptions    `json:"schedule"`
}

// StopLossConfig sells Token when its price drops below TriggerPriceUSD.
type StopLossConfig struct {
	ChainID         int             `json:"chain_id"`
	Token           string          `json:"token"`
	TriggerPriceUSD decimal.Decimal `json:"trigger_price_usd"`
	SellPct         float64         `json:"sell_pct"`
	Schedule        ScheduleOptions `json:"schedule"`
}

// RecurringBuy decodes the config blob for a recurring-buy strategy.
func (s *Strategy) RecurringBuy() (*RecurringBuyConfig, error) {
	if err := s.requireKind(StrategyKindRecurringBuy); err != nil {
		return nil, err
	}
	var cfg RecurringBuyConfig
	if err := json.Unmarshal(s.Config, &cfg); err != nil {
		return nil, fmt.Errorf("decode recurring_buy config: %w", err)
	}
	return &cfg, nil
}

// Rebalance decodes the config blob for a rebalance strategy.
func (s *Strategy) Rebalance() (*RebalanceConfig, error) {
	if err := s.requireKind(StrategyKindRebalance); err != nil {
		return nil, err
	}
	var cfg RebalanceConfig
	if err := json.Unmarshal(s.Config, &cfg); err != nil {
		return nil, fmt.Errorf("decode rebalance config: %w", err)
	}
	return &cfg, nil
}

// StopLoss decodes the config blob for a stop-loss strategy.
func (s *Strategy) StopLoss() (*StopLossConfig, error) {
	if err := s.requireKind(StrategyKindStopLoss); err != nil {
		return nil, err
	}
	var cfg StopLossConfig
	if err := json.Unmarshal(s.Config, &cfg); err != nil {
		return nil, fmt.Errorf("decode stop_loss config: %w", err)
	}
	return &cfg, nil
}

func (s *Strategy) requireKind(kind string) error {
	if s == nil {
		return fmt.Errorf("nil strategy")
	}
	if s.Kind != kind {
		return fmt.Errorf("strategy kind is %q, not %q", s.Kind, kind)
	}
	if len(s.Config) == 0 {
		return fmt.Errorf("strategy %d has empty config", s.ID)
	}
	return nil
}

// ScheduleOptions extracts the advisory schedule options from the config
// blob without caring about the kind. Missing or corrupt options yield
// the zero value.
func (s *Strategy) ScheduleOptions() ScheduleOptions {
	if s == nil || len(s.Config) == 0 {
		return ScheduleOptions{}
	}
	var wrapper struct {
		Schedule ScheduleOptions `json:"schedule"`
	}
	_ = json.Unmarshal(s.Config, &wrapper)
	return wrapper.Schedule
}

// ChainID extracts the chain the strategy acts on, zero when unset.
func (s *Strategy) ChainID() int {
	if s == nil || len(s.Config) == 0 {
		return 0
	}
	var wrapper struct {
		ChainID int `json:"chain_id"`
	}
	_ = json.Unmarshal(s.Config, &wrapper)
	return wrapper.ChainID
}

// ApprovalSummary renders a human-readable one-liner describing what a
// single run of this strategy would do, for manual-approval prompts.
func (s *Strategy) ApprovalSummary() string {
	switch s.Kind {
	case StrategyKindRecurringBuy:
		if cfg, err := s.RecurringBuy(); err == nil {
			return fmt.Sprintf("Buy %s with %s %s", cfg.TokenOut, cfg.AmountUSD.String(), cfg.TokenIn)
		}
	case StrategyKindRebalance:
		if cfg, err := s.Rebalance(); err == nil {
			tokens := make([]string, 0, len(cfg.TargetPcts))
			for tok := range cfg.TargetPcts {
				tokens = append(tokens, tok)
			}
			sort.Strings(tokens)
			return fmt.Sprintf("Rebalance portfolio across %s", strings.Join(tokens, ", "))
		}
	case StrategyKindStopLoss:
		if cfg, err := s.StopLoss(); err == nil {
			return fmt.Sprintf("Sell %.0f%% of %s below $%s", cfg.SellPct, cfg.Token, cfg.TriggerPriceUSD.String())
		}
	}
	return fmt.Sprintf("Execute %s strategy %q", s.Kind, s.Name)
}

// RunValueUSD extracts the per-run USD value of the strategy's action,
// used for the policy pre-check. Zero when the kind has no fixed per-run
// amount.
func (s *Strategy) RunValueUSD() decimal.Decimal {
	if cfg, err := s.RecurringBuy(); err == nil {
		return cfg.AmountUSD
	}
	return decimal.Zero
}

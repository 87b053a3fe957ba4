package models

import (
	"time"

	"gorm.io/datatypes"
)

// Strategy statuses.
const (
	StrategyStatusDraft          = "draft"
	StrategyStatusActive         = "active"
	StrategyStatusPaused         = "paused"
	StrategyStatusArchived       = "archived"
	StrategyStatusPendingSession = "pending_session"
)

// Strategy kinds.
const (
	StrategyKindRecurringBuy = "recurring_buy"
	StrategyKindRebalance    = "rebalance"
	StrategyKindStopLoss     = "stop_loss"
)

// Strategy is a user-owned automation definition: what to do, on what
// schedule, and whether executions need per-run approval.
//
// NextExecutionAt is set only while the strategy is active; pausing or
// archiving clears it.
type Strategy struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	WalletAddress string `gorm:"type:varchar(64);not null;index" json:"wallet_address"`
	Kind          string `gorm:"type:varchar(30);not null;index" json:"kind"`
	Name          string `gorm:"type:varchar(100);not null" json:"name"`
	Status        string `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`

	// Kind-specific configuration blob; read through the typed accessors
	// in strategy_config.go rather than raw field access.
	Config datatypes.JSON `gorm:"type:jsonb;not null" json:"config"`

	ScheduleExpr           *string `gorm:"type:varchar(60)" json:"schedule_expr,omitempty"`
	RequiresManualApproval bool    `gorm:"not null;default:true" json:"requires_manual_approval"`
	SmartSessionID         *string `gorm:"type:varchar(80);index" json:"smart_session_id,omitempty"`

	LastExecutedAt  *time.Time `gorm:"type:timestamptz" json:"last_executed_at,omitempty"`
	NextExecutionAt *time.Time `gorm:"type:timestamptz;index" json:"next_execution_at,omitempty"`

	ExecutionCount int `gorm:"not null;default:0" json:"execution_count"`
	SuccessCount   int `gorm:"not null;default:0" json:"success_count"`
	FailureCount   int `gorm:"not null;default:0" json:"failure_count"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Strategy) TableName() string {
	return "strategies"
}

// Due reports whether the strategy should be picked up by the trigger
// scheduler at the given instant.
func (s *Strategy) Due(now time.Time) bool {
	if s == nil || s.Status != StrategyStatusActive {
		return false
	}
	if s.NextExecutionAt == nil {
		return false
	}
	return !s.NextExecutionAt.After(now)
}

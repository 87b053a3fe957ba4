package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"autopilot/internal/models"
)

// Repository is the unified persistence interface shared by the trigger
// scheduler, the execution lifecycle, and the HTTP handlers.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Strategies
	InsertStrategy(ctx context.Context, item *models.Strategy) error
	GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error)
	ListStrategies(ctx context.Context, params ListStrategiesParams) ([]models.Strategy, error)
	CountStrategies(ctx context.Context, params ListStrategiesParams) (int64, error)
	// ListDueStrategies returns active strategies whose next_execution_at
	// is set and not after now, oldest due first.
	ListDueStrategies(ctx context.Context, now time.Time, limit int) ([]models.Strategy, error)
	UpdateStrategyStatus(ctx context.Context, id uint64, status string, nextExecutionAt *time.Time) error
	UpdateStrategyConfig(ctx context.Context, id uint64, config []byte, scheduleExpr *string) error
	UpdateStrategySession(ctx context.Context, id uint64, sessionID *string, requiresManualApproval bool) error
	// AdvanceStrategySchedule moves next_execution_at forward without
	// touching counters.
	AdvanceStrategySchedule(ctx context.Context, id uint64, next time.Time) error
	// MarkStrategyExecuted stamps last_executed_at and bumps the success
	// or failure counter.
	MarkStrategyExecuted(ctx context.Context, id uint64, at time.Time, success bool) error
	DeleteStrategy(ctx context.Context, id uint64) error

	// Executions
	GetExecutionByID(ctx context.Context, id uint64) (*models.Execution, error)
	ListExecutions(ctx context.Context, params ListExecutionsParams) ([]models.Execution, error)
	CountExecutions(ctx context.Context, params ListExecutionsParams) (int64, error)
	// CountActiveExecutionsByStrategy counts executions in a non-terminal
	// state for the strategy (the duplicate-execution guard query).
	CountActiveExecutionsByStrategy(ctx context.Context, strategyID uint64) (int64, error)
	// CreateExecutionIfIdle inserts the execution only if the strategy
	// currently has no non-terminal execution. The check and the insert
	// run in one transaction holding the strategy row lock, so concurrent
	// ticks cannot both pass the guard. Returns false when the guard
	// rejected the insert.
	CreateExecutionIfIdle(ctx context.Context, item *models.Execution) (bool, error)
	UpdateExecution(ctx context.Context, id uint64, updates map[string]any) error

	// Smart sessions
	UpsertSmartSession(ctx context.Context, item *models.SmartSession) error
	GetSmartSessionBySessionID(ctx context.Context, sessionID string) (*models.SmartSession, error)
	ListSmartSessions(ctx context.Context, params ListSmartSessionsParams) ([]models.SmartSession, error)
	UpdateSmartSessionStatus(ctx context.Context, sessionID string, status string, revokedAt *time.Time) error
	// ExpireDueSmartSessions flips active sessions past their valid_until
	// to expired; returns the number of rows touched.
	ExpireDueSmartSessions(ctx context.Context, before time.Time) (int64, error)
	AddSmartSessionSpend(ctx context.Context, sessionID string, delta decimal.Decimal) error

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, prefix string) ([]models.SystemSetting, error)
}

type ListStrategiesParams struct {
	Limit   int
	Offset  int
	Wallet  *string
	Status  *string
	Kind    *string
	OrderBy string
	Asc     *bool
}

type ListExecutionsParams struct {
	Limit      int
	Offset     int
	StrategyID *uint64
	Wallet     *string
	State      *string
	States     []string
	Since      *time.Time
	OrderBy    string
	Asc        *bool
}

type ListSmartSessionsParams struct {
	Limit  int
	Offset int
	Wallet *string
	Status *string
}

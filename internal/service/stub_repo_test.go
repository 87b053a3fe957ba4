package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"autopilot/internal/models"
	"autopilot/internal/repository"
)

// stubRepo is an in-memory Repository for service tests. The mutex makes
// CreateExecutionIfIdle atomic, so concurrent-tick tests are meaningful.
type stubRepo struct {
	mu sync.Mutex

	nextStrategyID  uint64
	nextExecutionID uint64

	strategies map[uint64]*models.Strategy
	executions map[uint64]*models.Execution
	sessions   map[string]*models.SmartSession
	settings   map[string]*models.SystemSetting
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		strategies: map[uint64]*models.Strategy{},
		executions: map[uint64]*models.Execution{},
		sessions:   map[string]*models.SmartSession{},
		settings:   map[string]*models.SystemSetting{},
	}
}

var _ repository.Repository = (*stubRepo)(nil)

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (r *stubRepo) InsertStrategy(ctx context.Context, item *models.Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextStrategyID++
	item.ID = r.nextStrategyID
	cp := *item
	r.strategies[item.ID] = &cp
	return nil
}

func (r *stubRepo) GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.strategies[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *stubRepo) ListStrategies(ctx context.Context, params repository.ListStrategiesParams) ([]models.Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Strategy
	for _, item := range r.strategies {
		if params.Wallet != nil && item.WalletAddress != *params.Wallet {
			continue
		}
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		if params.Kind != nil && item.Kind != *params.Kind {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRepo) CountStrategies(ctx context.Context, params repository.ListStrategiesParams) (int64, error) {
	items, _ := r.ListStrategies(ctx, params)
	return int64(len(items)), nil
}

func (r *stubRepo) ListDueStrategies(ctx context.Context, now time.Time, limit int) ([]models.Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Strategy
	for _, item := range r.strategies {
		if item.Status != models.StrategyStatusActive || item.NextExecutionAt == nil {
			continue
		}
		if item.NextExecutionAt.After(now) {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextExecutionAt.Before(*out[j].NextExecutionAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubRepo) UpdateStrategyStatus(ctx context.Context, id uint64, status string, nextExecutionAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.strategies[id]; ok {
		item.Status = status
		item.NextExecutionAt = nextExecutionAt
	}
	return nil
}

func (r *stubRepo) UpdateStrategyConfig(ctx context.Context, id uint64, config []byte, scheduleExpr *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.strategies[id]; ok {
		item.Config = datatypes.JSON(config)
		if scheduleExpr != nil {
			item.ScheduleExpr = scheduleExpr
		}
	}
	return nil
}

func (r *stubRepo) UpdateStrategySession(ctx context.Context, id uint64, sessionID *string, requiresManualApproval bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.strategies[id]; ok {
		item.SmartSessionID = sessionID
		item.RequiresManualApproval = requiresManualApproval
	}
	return nil
}

func (r *stubRepo) AdvanceStrategySchedule(ctx context.Context, id uint64, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.strategies[id]; ok && item.Status == models.StrategyStatusActive {
		n := next
		item.NextExecutionAt = &n
	}
	return nil
}

func (r *stubRepo) MarkStrategyExecuted(ctx context.Context, id uint64, at time.Time, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.strategies[id]; ok {
		if success {
			t := at
			item.LastExecutedAt = &t
			item.SuccessCount++
		} else {
			item.FailureCount++
		}
	}
	return nil
}

func (r *stubRepo) DeleteStrategy(ctx context.Context, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.strategies, id)
	for eid, e := range r.executions {
		if e.StrategyID == id {
			delete(r.executions, eid)
		}
	}
	return nil
}

func (r *stubRepo) GetExecutionByID(ctx context.Context, id uint64) (*models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.executions[id]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *stubRepo) ListExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Execution
	for _, item := range r.executions {
		if params.StrategyID != nil && item.StrategyID != *params.StrategyID {
			continue
		}
		if params.Wallet != nil && item.WalletAddress != *params.Wallet {
			continue
		}
		if params.State != nil && item.State != *params.State {
			continue
		}
		if len(params.States) > 0 {
			found := false
			for _, s := range params.States {
				if item.State == s {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		if params.Since != nil && item.CreatedAt.Before(*params.Since) {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *stubRepo) CountExecutions(ctx context.Context, params repository.ListExecutionsParams) (int64, error) {
	items, _ := r.ListExecutions(ctx, params)
	return int64(len(items)), nil
}

func (r *stubRepo) CountActiveExecutionsByStrategy(ctx context.Context, strategyID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countActiveLocked(strategyID), nil
}

func (r *stubRepo) countActiveLocked(strategyID uint64) int64 {
	var n int64
	for _, item := range r.executions {
		if item.StrategyID == strategyID && models.IsActiveState(item.State) {
			n++
		}
	}
	return n
}

func (r *stubRepo) CreateExecutionIfIdle(ctx context.Context, item *models.Execution) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[item.StrategyID]; !ok {
		return false, nil
	}
	if r.countActiveLocked(item.StrategyID) > 0 {
		return false, nil
	}
	r.nextExecutionID++
	item.ID = r.nextExecutionID
	cp := *item
	r.executions[item.ID] = &cp
	r.strategies[item.StrategyID].ExecutionCount++
	return true, nil
}

func (r *stubRepo) UpdateExecution(ctx context.Context, id uint64, updates map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.executions[id]
	if !ok {
		return nil
	}
	for key, val := range updates {
		switch key {
		case "state":
			item.State = val.(string)
		case "state_entered_at":
			item.StateEnteredAt = val.(time.Time)
		case "history":
			item.History = val.(datatypes.JSON)
		case "updated_at":
			item.UpdatedAt = val.(time.Time)
		case "approved_by":
			v := val.(string)
			item.ApprovedBy = &v
		case "approved_at":
			v := val.(time.Time)
			item.ApprovedAt = &v
		case "started_at":
			v := val.(time.Time)
			item.StartedAt = &v
		case "completed_at":
			v := val.(time.Time)
			item.CompletedAt = &v
		case "tx_hash":
			v := val.(string)
			item.TxHash = &v
		case "output_data":
			item.OutputData = val.(datatypes.JSON)
		case "error_message":
			if val == nil {
				item.ErrorMessage = nil
			} else {
				v := val.(string)
				item.ErrorMessage = &v
			}
		case "error_code":
			if val == nil {
				item.ErrorCode = nil
			} else {
				v := val.(string)
				item.ErrorCode = &v
			}
		case "recoverable":
			if val == nil {
				item.Recoverable = nil
			} else {
				v := val.(bool)
				item.Recoverable = &v
			}
		}
	}
	return nil
}

func (r *stubRepo) UpsertSmartSession(ctx context.Context, item *models.SmartSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.sessions[item.SessionID] = &cp
	return nil
}

func (r *stubRepo) GetSmartSessionBySessionID(ctx context.Context, sessionID string) (*models.SmartSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *stubRepo) ListSmartSessions(ctx context.Context, params repository.ListSmartSessionsParams) ([]models.SmartSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SmartSession
	for _, item := range r.sessions {
		if params.Wallet != nil && item.WalletAddress != *params.Wallet {
			continue
		}
		if params.Status != nil && item.Status != *params.Status {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func (r *stubRepo) UpdateSmartSessionStatus(ctx context.Context, sessionID string, status string, revokedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.sessions[sessionID]; ok {
		item.Status = status
		item.RevokedAt = revokedAt
	}
	return nil
}

func (r *stubRepo) ExpireDueSmartSessions(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, item := range r.sessions {
		if item.Status == models.SessionStatusActive && item.ValidUntil.Before(before) {
			item.Status = models.SessionStatusExpired
			n++
		}
	}
	return n, nil
}

func (r *stubRepo) AddSmartSessionSpend(ctx context.Context, sessionID string, delta decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item, ok := r.sessions[sessionID]; ok {
		item.SpentUSD = item.SpentUSD.Add(delta)
	}
	return nil
}

func (r *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.settings[item.Key] = &cp
	return nil
}

func (r *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.settings[key]
	if !ok {
		return nil, nil
	}
	cp := *item
	return &cp, nil
}

func (r *stubRepo) ListSystemSettings(ctx context.Context, prefix string) ([]models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SystemSetting
	for _, item := range r.settings {
		if prefix != "" && !strings.HasPrefix(item.Key, prefix) {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

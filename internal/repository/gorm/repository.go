package gormrepository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"autopilot/internal/models"
	"autopilot/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Strategies -------------------------------------------------------------

func (s *Store) InsertStrategy(ctx context.Context, item *models.Strategy) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetStrategyByID(ctx context.Context, id uint64) (*models.Strategy, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Strategy
	err := s.db.WithContext(ctx).Model(&models.Strategy{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListStrategies(ctx context.Context, params repository.ListStrategiesParams) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.strategyQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.Strategy
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountStrategies(ctx context.Context, params repository.ListStrategiesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.strategyQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) strategyQuery(ctx context.Context, params repository.ListStrategiesParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Strategy{})
	if params.Wallet != nil && strings.TrimSpace(*params.Wallet) != "" {
		query = query.Where("wallet_address = ?", strings.TrimSpace(*params.Wallet))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	return query
}

func (s *Store) ListDueStrategies(ctx context.Context, now time.Time, limit int) ([]models.Strategy, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Strategy
	err := s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("status = ?", models.StrategyStatusActive).
		Where("next_execution_at IS NOT NULL").
		Where("next_execution_at <= ?", now).
		Order("next_execution_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateStrategyStatus(ctx context.Context, id uint64, status string, nextExecutionAt *time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	updates := map[string]any{
		"status":            status,
		"next_execution_at": nextExecutionAt,
		"updated_at":        time.Now().UTC(),
	}
	return s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ?", id).
		Updates(updates).
		Error
}

func (s *Store) UpdateStrategyConfig(ctx context.Context, id uint64, config []byte, scheduleExpr *string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if len(config) > 0 {
		updates["config"] = config
	}
	if scheduleExpr != nil {
		updates["schedule_expr"] = strings.TrimSpace(*scheduleExpr)
	}
	return s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ?", id).
		Updates(updates).
		Error
}

func (s *Store) UpdateStrategySession(ctx context.Context, id uint64, sessionID *string, requiresManualApproval bool) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"smart_session_id":         sessionID,
			"requires_manual_approval": requiresManualApproval,
			"updated_at":               time.Now().UTC(),
		}).
		Error
}

func (s *Store) AdvanceStrategySchedule(ctx context.Context, id uint64, next time.Time) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ?", id).
		Where("status = ?", models.StrategyStatusActive).
		Updates(map[string]any{
			"next_execution_at": next,
			"updated_at":        time.Now().UTC(),
		}).
		Error
}

func (s *Store) MarkStrategyExecuted(ctx context.Context, id uint64, at time.Time, success bool) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	counter := "failure_count"
	if success {
		counter = "success_count"
	}
	updates := map[string]any{
		counter:      gorm.Expr(counter+" + ?", 1),
		"updated_at": time.Now().UTC(),
	}
	if success {
		updates["last_executed_at"] = at
	}
	return s.db.WithContext(ctx).
		Model(&models.Strategy{}).
		Where("id = ?", id).
		Updates(updates).
		Error
}

func (s *Store) DeleteStrategy(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("strategy_id = ?", id).Delete(&models.Execution{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.Strategy{}).Error
	})
}

// --- Executions -------------------------------------------------------------

func (s *Store) GetExecutionByID(ctx context.Context, id uint64) (*models.Execution, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Execution
	err := s.db.WithContext(ctx).Model(&models.Execution{}).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListExecutions(ctx context.Context, params repository.ListExecutionsParams) ([]models.Execution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.executionQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.Execution
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountExecutions(ctx context.Context, params repository.ListExecutionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.executionQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) executionQuery(ctx context.Context, params repository.ListExecutionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Execution{})
	if params.StrategyID != nil && *params.StrategyID > 0 {
		query = query.Where("strategy_id = ?", *params.StrategyID)
	}
	if params.Wallet != nil && strings.TrimSpace(*params.Wallet) != "" {
		query = query.Where("wallet_address = ?", strings.TrimSpace(*params.Wallet))
	}
	if params.State != nil && strings.TrimSpace(*params.State) != "" {
		query = query.Where("state = ?", strings.TrimSpace(*params.State))
	}
	if len(params.States) > 0 {
		query = query.Where("state IN ?", params.States)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) CountActiveExecutionsByStrategy(ctx context.Context, strategyID uint64) (int64, error) {
	if s == nil || s.db == nil || strategyID == 0 {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("strategy_id = ?", strategyID).
		Where("state IN ?", models.ActiveStates).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// CreateExecutionIfIdle serializes the guard check and the insert by
// locking the owning strategy row for the duration of the transaction.
// Two overlapping ticks therefore cannot both observe zero active
// executions.
func (s *Store) CreateExecutionIfIdle(ctx context.Context, item *models.Execution) (bool, error) {
	if s == nil || s.db == nil || item == nil || item.StrategyID == 0 {
		return false, nil
	}
	created := false
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		var strat models.Strategy
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", item.StrategyID).
			First(&strat).Error
		if err != nil {
			return err
		}
		var active int64
		err = tx.Model(&models.Execution{}).
			Where("strategy_id = ?", item.StrategyID).
			Where("state IN ?", models.ActiveStates).
			Count(&active).Error
		if err != nil {
			return err
		}
		if active > 0 {
			return nil
		}
		if err := tx.Create(item).Error; err != nil {
			return err
		}
		created = true
		return tx.Model(&models.Strategy{}).
			Where("id = ?", item.StrategyID).
			Update("execution_count", gorm.Expr("execution_count + ?", 1)).
			Error
	})
	return created, err
}

func (s *Store) UpdateExecution(ctx context.Context, id uint64, updates map[string]any) error {
	if s == nil || s.db == nil || id == 0 || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return s.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", id).
		Updates(updates).
		Error
}

// --- Smart sessions ---------------------------------------------------------

func (s *Store) UpsertSmartSession(ctx context.Context, item *models.SmartSession) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.SessionID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"wallet_address",
			"status",
			"chain_id",
			"spending_limit_usd",
			"spent_usd",
			"allowed_actions",
			"allowed_tokens",
			"valid_until",
			"grant_tx_hash",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSmartSessionBySessionID(ctx context.Context, sessionID string) (*models.SmartSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, nil
	}
	var item models.SmartSession
	err := s.db.WithContext(ctx).
		Model(&models.SmartSession{}).
		Where("session_id = ?", sessionID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSmartSessions(ctx context.Context, params repository.ListSmartSessionsParams) ([]models.SmartSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SmartSession{})
	if params.Wallet != nil && strings.TrimSpace(*params.Wallet) != "" {
		query = query.Where("wallet_address = ?", strings.TrimSpace(*params.Wallet))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.SmartSession
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateSmartSessionStatus(ctx context.Context, sessionID string, status string, revokedAt *time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil
	}
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if revokedAt != nil {
		updates["revoked_at"] = revokedAt
	}
	return s.db.WithContext(ctx).
		Model(&models.SmartSession{}).
		Where("session_id = ?", sessionID).
		Updates(updates).
		Error
}

func (s *Store) ExpireDueSmartSessions(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		before = time.Now().UTC()
	}
	res := s.db.WithContext(ctx).
		Model(&models.SmartSession{}).
		Where("status = ?", models.SessionStatusActive).
		Where("valid_until < ?", before).
		Updates(map[string]any{
			"status":     models.SessionStatusExpired,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (s *Store) AddSmartSessionSpend(ctx context.Context, sessionID string, delta decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || delta.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.SmartSession{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"spent_usd":  gorm.Expr("spent_usd + ?", delta),
			"updated_at": time.Now().UTC(),
		}).
		Error
}

// --- System settings --------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).
		Model(&models.SystemSetting{}).
		Where("key = ?", key).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, prefix string) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if strings.TrimSpace(prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(prefix)+"%")
	}
	var items []models.SystemSetting
	if err := query.Order("key asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"

	"autopilot/internal/models"
	"autopilot/internal/repository"
)

const (
	FeatureTriggerScheduler = "feature.trigger_scheduler"
	FeatureSessionCleanup   = "feature.session_cleanup"
	FeaturePolicyCheck      = "feature.policy_check"
	FeatureAuditMirror      = "feature.audit_mirror"
)

func DefaultFeatureSwitches() map[string]bool {
	return map[string]bool{
		FeatureTriggerScheduler: true,
		FeatureSessionCleanup:   true,
		FeaturePolicyCheck:      true,
		FeatureAuditMirror:      true,
	}
}

type SystemSettingsService struct {
	Repo repository.Repository
}

func (s *SystemSettingsService) EnsureDefaultSwitches(ctx context.Context) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	now := time.Now().UTC()
	for key, enabled := range DefaultFeatureSwitches() {
		existing, err := s.Repo.GetSystemSettingByKey(ctx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		raw, _ := json.Marshal(enabled)
		item := &models.SystemSetting{
			Key:         key,
			Value:       datatypes.JSON(raw),
			Description: "feature switch",
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *SystemSettingsService) IsEnabled(ctx context.Context, key string, fallback bool) bool {
	if s == nil || s.Repo == nil {
		return fallback
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fallback
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, key)
	if err != nil || item == nil || len(item.Value) == 0 {
		return fallback
	}
	var enabled bool
	if err := json.Unmarshal(item.Value, &enabled); err != nil {
		return fallback
	}
	return enabled
}

// SetValue stores an arbitrary setting. Sensitive keys are sealed
// before they reach the table.
func (s *SystemSettingsService) SetValue(ctx context.Context, key string, value any, description string) (*models.SystemSetting, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	raw = SealSettingValue(key, raw)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: strings.TrimSpace(description),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.Repo.UpsertSystemSetting(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// GetValue loads a setting and unseals sensitive values.
func (s *SystemSettingsService) GetValue(ctx context.Context, key string) (json.RawMessage, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	item, err := s.Repo.GetSystemSettingByKey(ctx, strings.TrimSpace(key))
	if err != nil || item == nil {
		return nil, err
	}
	return json.RawMessage(OpenSettingValue(item.Key, item.Value)), nil
}

func (s *SystemSettingsService) SetEnabled(ctx context.Context, key string, enabled bool) error {
	if s == nil || s.Repo == nil {
		return nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	raw, _ := json.Marshal(enabled)
	item := &models.SystemSetting{
		Key:         key,
		Value:       datatypes.JSON(raw),
		Description: "feature switch",
		UpdatedAt:   time.Now().UTC(),
	}
	return s.Repo.UpsertSystemSetting(ctx, item)
}

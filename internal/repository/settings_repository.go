package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"content-refinery/internal/entity"
	"content-refinery/pkg/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingsRepository defines the interface for durable key/value
// state.
type SettingsRepository interface {
	GetInt64(ctx context.Context, key string, fallback int64) (int64, error)
	SetInt64(ctx context.Context, key string, value int64) error
}

// NewSettingsRepository creates a new instance of SettingsRepository.
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

type settingsRepository struct {
	db *gorm.DB
}

func (r *settingsRepository) GetInt64(ctx context.Context, key string, fallback int64) (int64, error) {
	var row entity.Setting
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to read setting %s: %w", key, err)
	}

	var value int64
	if err := json.Unmarshal(row.Value, &value); err != nil {
		return fallback, fmt.Errorf("failed to decode setting %s: %w", key, err)
	}
	return value, nil
}

func (r *settingsRepository) SetInt64(ctx context.Context, key string, value int64) error {
	raw, _ := json.Marshal(value)
	row := entity.Setting{
		Key:       key,
		Value:     raw,
		UpdatedAt: utils.NowMillis(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

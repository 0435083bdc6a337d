package repository

import (
	"context"
	"encoding/json"

	"content-refinery/internal/entity"
	"content-refinery/pkg/utils"

	"gorm.io/gorm"
)

// InternalLogRepository defines the interface for the persisted
// operational log.
type InternalLogRepository interface {
	Write(ctx context.Context, module, message string, fields map[string]interface{}) error
	PruneOlderThan(ctx context.Context, ts int64) (int64, error)
}

// NewInternalLogRepository creates a new instance of
// InternalLogRepository.
func NewInternalLogRepository(db *gorm.DB) InternalLogRepository {
	return &internalLogRepository{db: db}
}

type internalLogRepository struct {
	db *gorm.DB
}

func (r *internalLogRepository) Write(ctx context.Context, module, message string, fields map[string]interface{}) error {
	row := entity.InternalLog{
		Module:    module,
		Message:   message,
		CreatedAt: utils.NowMillis(),
	}
	if len(fields) > 0 {
		raw, err := json.Marshal(fields)
		if err == nil {
			row.Context = raw
		}
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *internalLogRepository) PruneOlderThan(ctx context.Context, ts int64) (int64, error) {
	tx := r.db.WithContext(ctx).Where("created_at < ?", ts).Delete(&entity.InternalLog{})
	return tx.RowsAffected, tx.Error
}

package repository

import (
	"context"
	"fmt"

	"content-refinery/internal/entity"
	"content-refinery/pkg/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContentItemRepository defines the interface for interacting with
// content item data.
type ContentItemRepository interface {
	UpsertByHash(ctx context.Context, item *entity.ContentItem) (string, bool, error)
	FindByID(ctx context.Context, id string) (*entity.ContentItem, error)
	FindByHash(ctx context.Context, hash string) (*entity.ContentItem, error)
	RecentAnalysisByHash(ctx context.Context, hash string, withinMs int64) (datatypes.JSON, []string, error)
	TakePendingBatch(ctx context.Context, limit, maxRetries int) ([]entity.ContentItem, error)
	CountPending(ctx context.Context, maxRetries int) (int64, error)
	WriteAnalysis(ctx context.Context, itemID string, processed datatypes.JSON, isSignal int, analyzedAt int64) error
	MarkSignal(ctx context.Context, itemID string, isSignal int) error
	BumpRetry(ctx context.Context, itemID string, errMsg string, maxRetries int) error
	ClearAnalysis(ctx context.Context, itemIDs []string) error
	FindUnanalyzedSince(ctx context.Context, sinceMs int64, limit int) ([]entity.ContentItem, error)
	FindUnsyncedSignals(ctx context.Context, limit int) ([]entity.ContentItem, error)
	MarkKnowledgeSynced(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int64, error)
}

// NewContentItemRepository creates a new instance of
// ContentItemRepository.
func NewContentItemRepository(db *gorm.DB) ContentItemRepository {
	return &contentItemRepository{db: db}
}

type contentItemRepository struct {
	db *gorm.DB
}

// UpsertByHash inserts the item, deduping on content_hash. On
// conflict the existing row's id is returned and nothing is written.
func (r *contentItemRepository) UpsertByHash(ctx context.Context, item *entity.ContentItem) (string, bool, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.CreatedAt == 0 {
		item.CreatedAt = utils.NowMillis()
	}

	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_hash"}},
		DoNothing: true,
	}).Create(item)
	if tx.Error != nil {
		return "", false, fmt.Errorf("failed to insert content item: %w", tx.Error)
	}

	if tx.RowsAffected > 0 {
		return item.ID, true, nil
	}

	var existing entity.ContentItem
	if err := r.db.WithContext(ctx).Select("id").Where("content_hash = ?", item.ContentHash).First(&existing).Error; err != nil {
		return "", false, fmt.Errorf("failed to fetch deduped content item: %w", err)
	}
	return existing.ID, false, nil
}

func (r *contentItemRepository) FindByID(ctx context.Context, id string) (*entity.ContentItem, error) {
	var item entity.ContentItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *contentItemRepository) FindByHash(ctx context.Context, hash string) (*entity.ContentItem, error) {
	var item entity.ContentItem
	if err := r.db.WithContext(ctx).Where("content_hash = ?", hash).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// RecentAnalysisByHash returns the freshest processed_json for the
// hash whose last_analyzed_at is within the window, along with the
// ids of the rows it was written to.
func (r *contentItemRepository) RecentAnalysisByHash(ctx context.Context, hash string, withinMs int64) (datatypes.JSON, []string, error) {
	cutoff := utils.NowMillis() - withinMs

	var item entity.ContentItem
	err := r.db.WithContext(ctx).
		Where("content_hash = ? AND processed_json IS NOT NULL AND last_analyzed_at >= ?", hash, cutoff).
		Order("last_analyzed_at DESC").
		First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to query recent analysis: %w", err)
	}
	return item.ProcessedJSON, []string{item.ID}, nil
}

// TakePendingBatch returns up to limit unanalyzed items under the
// retry cap, oldest first. Non-destructive.
func (r *contentItemRepository) TakePendingBatch(ctx context.Context, limit, maxRetries int) ([]entity.ContentItem, error) {
	var items []entity.ContentItem
	err := r.db.WithContext(ctx).
		Where("processed_json IS NULL AND retry_count < ?", maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to take pending batch: %w", err)
	}
	return items, nil
}

func (r *contentItemRepository) CountPending(ctx context.Context, maxRetries int) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.ContentItem{}).
		Where("processed_json IS NULL AND retry_count < ?", maxRetries).
		Count(&n).Error
	return n, err
}

func (r *contentItemRepository) WriteAnalysis(ctx context.Context, itemID string, processed datatypes.JSON, isSignal int, analyzedAt int64) error {
	return r.db.WithContext(ctx).Model(&entity.ContentItem{}).
		Where("id = ?", itemID).
		Updates(map[string]interface{}{
			"processed_json":   processed,
			"is_signal":        isSignal,
			"last_analyzed_at": analyzedAt,
		}).Error
}

func (r *contentItemRepository) MarkSignal(ctx context.Context, itemID string, isSignal int) error {
	return r.db.WithContext(ctx).Model(&entity.ContentItem{}).
		Where("id = ?", itemID).
		Update("is_signal", isSignal).Error
}

// BumpRetry increments retry_count and records the error; once the
// cap is reached the item is marked permanently failed.
func (r *contentItemRepository) BumpRetry(ctx context.Context, itemID string, errMsg string, maxRetries int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&entity.ContentItem{}).
			Where("id = ?", itemID).
			Updates(map[string]interface{}{
				"retry_count": gorm.Expr("retry_count + 1"),
				"last_error":  errMsg,
			}).Error; err != nil {
			return err
		}

		return tx.Model(&entity.ContentItem{}).
			Where("id = ? AND retry_count >= ?", itemID, maxRetries).
			Update("is_signal", entity.ItemFailed).Error
	})
}

// ClearAnalysis wipes prior analysis so the items are re-picked by
// the next pending batch. Used by forced re-analysis.
func (r *contentItemRepository) ClearAnalysis(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.ContentItem{}).
		Where("id IN ?", itemIDs).
		Updates(map[string]interface{}{
			"processed_json":   nil,
			"is_signal":        entity.ItemPending,
			"retry_count":      0,
			"last_error":       "",
			"last_analyzed_at": nil,
		}).Error
}

// FindUnanalyzedSince returns items created after sinceMs that never
// became signals. Digest synthesis input.
func (r *contentItemRepository) FindUnanalyzedSince(ctx context.Context, sinceMs int64, limit int) ([]entity.ContentItem, error) {
	var items []entity.ContentItem
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND is_signal = ?", sinceMs, entity.ItemPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *contentItemRepository) FindUnsyncedSignals(ctx context.Context, limit int) ([]entity.ContentItem, error) {
	var items []entity.ContentItem
	err := r.db.WithContext(ctx).
		Where("is_signal = ? AND knowledge_synced = ?", entity.ItemSignal, false).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *contentItemRepository) MarkKnowledgeSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.ContentItem{}).
		Where("id IN ?", ids).
		Update("knowledge_synced", true).Error
}

func (r *contentItemRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.ContentItem{}).Count(&n).Error
	return n, err
}

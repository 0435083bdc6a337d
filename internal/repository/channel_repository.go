package repository

import (
	"context"
	"fmt"

	"content-refinery/internal/entity"
	"content-refinery/pkg/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelRepository defines the interface for interacting with
// channel data.
type ChannelRepository interface {
	Upsert(ctx context.Context, channel *entity.Channel) (string, bool, error)
	FindByID(ctx context.Context, id string) (*entity.Channel, error)
	ListByType(ctx context.Context, channelType string) ([]entity.Channel, error)
	Touch(ctx context.Context, id string, successDelta, failureDelta int64, lastPolledAt *int64) error
	SetStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// NewChannelRepository creates a new instance of ChannelRepository.
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepository{db: db}
}

type channelRepository struct {
	db *gorm.DB
}

// Upsert registers a channel, deduping feed channels on feed_url and
// other channels on (name, type).
func (r *channelRepository) Upsert(ctx context.Context, channel *entity.Channel) (string, bool, error) {
	if channel.ID == "" {
		channel.ID = uuid.NewString()
	}
	if channel.CreatedAt == 0 {
		channel.CreatedAt = utils.NowMillis()
	}
	if channel.Status == "" {
		channel.Status = "active"
	}

	var existing entity.Channel
	q := r.db.WithContext(ctx)
	if channel.FeedURL != "" {
		q = q.Where("feed_url = ?", channel.FeedURL)
	} else {
		q = q.Where("name = ? AND type = ?", channel.Name, channel.Type)
	}
	err := q.First(&existing).Error
	if err == nil {
		return existing.ID, false, nil
	}
	if err != gorm.ErrRecordNotFound {
		return "", false, fmt.Errorf("failed to query channel: %w", err)
	}

	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(channel)
	if tx.Error != nil {
		return "", false, fmt.Errorf("failed to insert channel: %w", tx.Error)
	}
	return channel.ID, true, nil
}

func (r *channelRepository) FindByID(ctx context.Context, id string) (*entity.Channel, error) {
	var channel entity.Channel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		return nil, err
	}
	return &channel, nil
}

func (r *channelRepository) ListByType(ctx context.Context, channelType string) ([]entity.Channel, error) {
	var channels []entity.Channel
	q := r.db.WithContext(ctx)
	if channelType != "" {
		q = q.Where("type = ?", channelType)
	}
	err := q.Order("created_at ASC").Find(&channels).Error
	return channels, err
}

func (r *channelRepository) Touch(ctx context.Context, id string, successDelta, failureDelta int64, lastPolledAt *int64) error {
	updates := map[string]interface{}{}
	if successDelta != 0 {
		updates["success_count"] = gorm.Expr("success_count + ?", successDelta)
	}
	if failureDelta != 0 {
		updates["failure_count"] = gorm.Expr("failure_count + ?", failureDelta)
	}
	if lastPolledAt != nil {
		updates["last_polled_at"] = *lastPolledAt
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.Channel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *channelRepository) SetStatus(ctx context.Context, id, status string) error {
	tx := r.db.WithContext(ctx).Model(&entity.Channel{}).
		Where("id = ?", id).
		Update("status", status)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *channelRepository) Delete(ctx context.Context, id string) (bool, error) {
	tx := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Channel{})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *channelRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Channel{}).Count(&n).Error
	return n, err
}

package repository

import (
	"context"
	"fmt"

	"content-refinery/internal/dto"
	"content-refinery/internal/entity"
	"content-refinery/pkg/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SignalRepository defines the interface for interacting with signal
// data.
type SignalRepository interface {
	Create(ctx context.Context, signal *entity.Signal) error
	RecentByFingerprint(ctx context.Context, fingerprint string, withinMs int64) (*entity.Signal, error)
	List(ctx context.Context, filter dto.SignalFilter) ([]entity.Signal, int64, error)
	DistinctSources(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

// NewSignalRepository creates a new instance of SignalRepository.
func NewSignalRepository(db *gorm.DB) SignalRepository {
	return &signalRepository{db: db}
}

type signalRepository struct {
	db *gorm.DB
}

func (r *signalRepository) Create(ctx context.Context, signal *entity.Signal) error {
	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	if signal.CreatedAt == 0 {
		signal.CreatedAt = utils.NowMillis()
	}
	return r.db.WithContext(ctx).Create(signal).Error
}

// RecentByFingerprint returns the newest signal with this fingerprint
// inside the suppression window, or nil.
func (r *signalRepository) RecentByFingerprint(ctx context.Context, fingerprint string, withinMs int64) (*entity.Signal, error) {
	cutoff := utils.NowMillis() - withinMs

	var signal entity.Signal
	err := r.db.WithContext(ctx).
		Where("fingerprint = ? AND created_at >= ?", fingerprint, cutoff).
		Order("created_at DESC").
		First(&signal).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query signal fingerprint: %w", err)
	}
	return &signal, nil
}

func (r *signalRepository) List(ctx context.Context, filter dto.SignalFilter) ([]entity.Signal, int64, error) {
	q := r.db.WithContext(ctx).Model(&entity.Signal{})

	if filter.Source != "" {
		q = q.Where("source_name = ?", filter.Source)
	}
	if filter.Sentiment != "" {
		q = q.Where("sentiment = ?", filter.Sentiment)
	}
	if filter.Urgent != nil {
		q = q.Where("urgent = ?", *filter.Urgent)
	}
	if filter.FromMs > 0 {
		q = q.Where("created_at >= ?", filter.FromMs)
	}
	if filter.ToMs > 0 {
		q = q.Where("created_at <= ?", filter.ToMs)
	}
	if filter.Query != "" {
		like := "%" + filter.Query + "%"
		q = q.Where("summary LIKE ? OR analysis LIKE ?", like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count signals: %w", err)
	}

	var signals []entity.Signal
	err := q.Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&signals).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list signals: %w", err)
	}
	return signals, total, nil
}

func (r *signalRepository) DistinctSources(ctx context.Context) ([]string, error) {
	var sources []string
	err := r.db.WithContext(ctx).Model(&entity.Signal{}).
		Distinct("source_name").
		Where("source_name <> ''").
		Order("source_name ASC").
		Pluck("source_name", &sources).Error
	return sources, err
}

func (r *signalRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.Signal{}).Count(&n).Error
	return n, err
}

package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"content-refinery/internal/dto"
	"content-refinery/internal/entity"
	"content-refinery/internal/repository"
	"content-refinery/pkg/logger"

	"github.com/patrickmn/go-cache"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store is the facade over the durable state. It is the only
// component that touches the repositories; the coordinator owns the
// single handle and serializes writes through it.
type Store struct {
	Items    repository.ContentItemRepository
	Signals  repository.SignalRepository
	Channels repository.ChannelRepository
	Logs     repository.InternalLogRepository
	Settings repository.SettingsRepository

	logger *logger.Logger

	countersOnce sync.Once
	countersErr  error
	itemCount    atomic.Int64
	signalCount  atomic.Int64
	channelCount atomic.Int64

	pageCache *cache.Cache
}

// New wires the repositories over the gorm handle.
func New(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{
		Items:     repository.NewContentItemRepository(db),
		Signals:   repository.NewSignalRepository(db),
		Channels:  repository.NewChannelRepository(db),
		Logs:      repository.NewInternalLogRepository(db),
		Settings:  repository.NewSettingsRepository(db),
		logger:    log,
		pageCache: cache.New(30*time.Second, time.Minute),
	}
}

// initCounters materializes the counters from the durable tables,
// once.
func (s *Store) initCounters(ctx context.Context) error {
	s.countersOnce.Do(func() {
		items, err := s.Items.Count(ctx)
		if err != nil {
			s.countersErr = fmt.Errorf("failed to count items: %w", err)
			return
		}
		signals, err := s.Signals.Count(ctx)
		if err != nil {
			s.countersErr = fmt.Errorf("failed to count signals: %w", err)
			return
		}
		channels, err := s.Channels.Count(ctx)
		if err != nil {
			s.countersErr = fmt.Errorf("failed to count channels: %w", err)
			return
		}
		s.itemCount.Store(items)
		s.signalCount.Store(signals)
		s.channelCount.Store(channels)
	})
	return s.countersErr
}

// Stats reports the cached counters, initializing them lazily.
func (s *Store) Stats(ctx context.Context) (dto.StatsResponse, error) {
	if err := s.initCounters(ctx); err != nil {
		return dto.StatsResponse{}, err
	}
	return dto.StatsResponse{
		Items:    s.itemCount.Load(),
		Signals:  s.signalCount.Load(),
		Channels: s.channelCount.Load(),
	}, nil
}

// UpsertContentItem dedupes on content hash and keeps the item
// counter in step with the table.
func (s *Store) UpsertContentItem(ctx context.Context, item *entity.ContentItem) (string, bool, error) {
	if err := s.initCounters(ctx); err != nil {
		return "", false, err
	}
	id, inserted, err := s.Items.UpsertByHash(ctx, item)
	if err != nil {
		return "", false, err
	}
	if inserted {
		s.itemCount.Add(1)
	}
	return id, inserted, nil
}

// SaveSignal persists a signal, bumps the counter and drops the page
// cache.
func (s *Store) SaveSignal(ctx context.Context, signal *entity.Signal) error {
	if err := s.initCounters(ctx); err != nil {
		return err
	}
	if err := s.Signals.Create(ctx, signal); err != nil {
		return err
	}
	s.signalCount.Add(1)
	s.pageCache.Flush()
	return nil
}

// UpsertChannel registers a channel and keeps the counter current.
func (s *Store) UpsertChannel(ctx context.Context, channel *entity.Channel) (string, bool, error) {
	if err := s.initCounters(ctx); err != nil {
		return "", false, err
	}
	id, inserted, err := s.Channels.Upsert(ctx, channel)
	if err != nil {
		return "", false, err
	}
	if inserted {
		s.channelCount.Add(1)
	}
	return id, inserted, nil
}

// DeleteChannel removes a channel and decrements the counter when a
// row was actually deleted.
func (s *Store) DeleteChannel(ctx context.Context, id string) (bool, error) {
	if err := s.initCounters(ctx); err != nil {
		return false, err
	}
	deleted, err := s.Channels.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		s.channelCount.Add(-1)
	}
	return deleted, nil
}

// ListSignals serves a signal page, caching the unfiltered first page
// for 30 seconds.
func (s *Store) ListSignals(ctx context.Context, filter dto.SignalFilter) ([]entity.Signal, int64, error) {
	cacheable := filter.Offset == 0 && filter.Source == "" && filter.Sentiment == "" &&
		filter.Urgent == nil && filter.FromMs == 0 && filter.ToMs == 0 && filter.Query == ""

	key := fmt.Sprintf("signals:first:%d", filter.Limit)
	if cacheable {
		if hit, ok := s.pageCache.Get(key); ok {
			page := hit.(cachedSignalPage)
			return page.rows, page.total, nil
		}
	}

	rows, total, err := s.Signals.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	if cacheable {
		s.pageCache.Set(key, cachedSignalPage{rows: rows, total: total}, cache.DefaultExpiration)
	}
	return rows, total, nil
}

type cachedSignalPage struct {
	rows  []entity.Signal
	total int64
}

// RecentAnalysisByHash proxies the reuse-window query.
func (s *Store) RecentAnalysisByHash(ctx context.Context, hash string, withinMs int64) (datatypes.JSON, []string, error) {
	return s.Items.RecentAnalysisByHash(ctx, hash, withinMs)
}

// LogState writes a persisted operational log line; failures are
// reported to the process log only.
func (s *Store) LogState(ctx context.Context, module, message string, fields map[string]interface{}) {
	if err := s.Logs.Write(ctx, module, message, fields); err != nil {
		s.logger.Error("Failed to persist internal log", logger.ErrorField(err), logger.StringField("module", module))
	}
}

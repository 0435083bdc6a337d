package heartbeat

import (
	"context"
	"sync"
	"time"

	"content-refinery/internal/repository"
	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"
)

// TickResult is what one tick reports back to the scheduler.
type TickResult struct {
	// Active means new work happened: poll items ingested, signals
	// emitted or a digest generated. Resets the backoff.
	Active bool
	// Backlog means pending items remain; the next tick is pulled to
	// the soon interval.
	Backlog bool
}

// TickFunc runs one heartbeat tick.
type TickFunc func(ctx context.Context) TickResult

const soonInterval = 2 * time.Second

// Heartbeat drives periodic work with an activity-adaptive interval.
// Idle periods double the interval up to the cap; any activity or an
// ingest tickle snaps it back to base.
type Heartbeat struct {
	settings repository.SettingsRepository
	logger   *logger.Logger
	tick     TickFunc

	baseMs int64
	minMs  int64
	maxMs  int64

	mu        sync.Mutex
	currentMs int64

	tickleCh chan struct{}
	doneCh   chan struct{}
}

// New creates the heartbeat.
func New(settings repository.SettingsRepository, log *logger.Logger, tick TickFunc, baseMs, minMs, maxMs int64) *Heartbeat {
	return &Heartbeat{
		settings: settings,
		logger:   log,
		tick:     tick,
		baseMs:   baseMs,
		minMs:    minMs,
		maxMs:    maxMs,
		tickleCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the scheduling loop until the context is cancelled. The
// persisted interval survives restarts.
func (h *Heartbeat) Start(ctx context.Context) {
	defer close(h.doneCh)

	interval, err := h.settings.GetInt64(ctx, common.SettingNextIntervalMs, h.baseMs)
	if err != nil {
		h.logger.Error("Failed to load heartbeat interval, using base", logger.ErrorField(err))
		interval = h.baseMs
	}
	h.setCurrent(interval)

	timer := time.NewTimer(time.Duration(interval) * time.Millisecond)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Heartbeat stopping")
			return

		case <-h.tickleCh:
			// Ingest preempts the backoff: next tick within the
			// minimum interval, stored interval reset to base.
			h.setCurrent(h.baseMs)
			h.persist(ctx, h.baseMs)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(time.Duration(h.minMs) * time.Millisecond)

		case <-timer.C:
			result := h.tick(ctx)

			next := h.nextInterval(result.Active)
			h.setCurrent(next)
			h.persist(ctx, next)

			wait := time.Duration(next) * time.Millisecond
			if result.Backlog {
				wait = soonInterval
			}
			timer.Reset(wait)
		}
	}
}

// Tickle requests an early tick. Safe from any goroutine; coalesces.
func (h *Heartbeat) Tickle() {
	select {
	case h.tickleCh <- struct{}{}:
	default:
	}
}

// CurrentInterval reports the stored interval in milliseconds.
func (h *Heartbeat) CurrentInterval() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentMs
}

// Done is closed when the loop has exited.
func (h *Heartbeat) Done() <-chan struct{} {
	return h.doneCh
}

func (h *Heartbeat) nextInterval(active bool) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if active {
		return h.baseMs
	}
	next := h.currentMs * 2
	if next > h.maxMs {
		next = h.maxMs
	}
	if next < h.minMs {
		next = h.minMs
	}
	return next
}

func (h *Heartbeat) setCurrent(ms int64) {
	h.mu.Lock()
	h.currentMs = ms
	h.mu.Unlock()
}

func (h *Heartbeat) persist(ctx context.Context, ms int64) {
	if err := h.settings.SetInt64(ctx, common.SettingNextIntervalMs, ms); err != nil {
		h.logger.Error("Failed to persist heartbeat interval", logger.ErrorField(err))
	}
}

package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSettings is an in-memory SettingsRepository.
type memSettings struct {
	mu     sync.Mutex
	values map[string]int64
}

func newMemSettings() *memSettings {
	return &memSettings{values: map[string]int64{}}
}

func (m *memSettings) GetInt64(ctx context.Context, key string, fallback int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return fallback, nil
}

func (m *memSettings) SetInt64(ctx context.Context, key string, value int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memSettings) stored(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

func TestIdleBackoffDoublesUpToMax(t *testing.T) {
	settings := newMemSettings()

	var mu sync.Mutex
	var intervals []int64

	var h *Heartbeat
	tick := func(ctx context.Context) TickResult {
		return TickResult{}
	}
	h = New(settings, logger.NewNop(), tick, 40, 10, 160)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Start(ctx)

	// Sample the stored interval after each tick for a while.
	deadline := time.After(1200 * time.Millisecond)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

sample:
	for {
		select {
		case <-deadline:
			break sample
		case <-ticker.C:
			mu.Lock()
			cur := h.CurrentInterval()
			if len(intervals) == 0 || intervals[len(intervals)-1] != cur {
				intervals = append(intervals, cur)
			}
			mu.Unlock()
		}
	}
	cancel()
	<-h.Done()

	// The observed sequence climbs 40 → 80 → 160 and stays capped.
	require.NotEmpty(t, intervals)
	for i := 1; i < len(intervals); i++ {
		assert.GreaterOrEqual(t, intervals[i], intervals[i-1], "intervals only grow while idle")
		assert.LessOrEqual(t, intervals[i], int64(160))
	}
	assert.Equal(t, int64(160), intervals[len(intervals)-1], "reaches the cap")
}

func TestActiveTickResetsToBase(t *testing.T) {
	settings := newMemSettings()
	settings.values[common.SettingNextIntervalMs] = 160

	var calls int
	tick := func(ctx context.Context) TickResult {
		calls++
		return TickResult{Active: true}
	}
	h := New(settings, logger.NewNop(), tick, 40, 10, 160)

	ctx, cancel := context.WithCancel(context.Background())
	go h.Start(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		return h.CurrentInterval() == 40
	}, 2*time.Second, 10*time.Millisecond, "activity snaps the interval back to base")
	assert.Equal(t, int64(40), settings.stored(common.SettingNextIntervalMs))
}

func TestTicklePreemptsBackoff(t *testing.T) {
	settings := newMemSettings()
	// Long stored interval: without the tickle no tick would fire
	// during the test.
	settings.values[common.SettingNextIntervalMs] = int64(time.Hour / time.Millisecond)

	tickCh := make(chan struct{}, 16)
	tick := func(ctx context.Context) TickResult {
		tickCh <- struct{}{}
		return TickResult{}
	}
	h := New(settings, logger.NewNop(), tick, int64(time.Hour/time.Millisecond), 10, int64(time.Hour/time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go h.Start(ctx)
	defer cancel()

	time.Sleep(20 * time.Millisecond)
	h.Tickle()

	select {
	case <-tickCh:
	case <-time.After(2 * time.Second):
		t.Fatal("tickle did not preempt the backoff")
	}

	// The stored interval was reset to base by the tickle.
	assert.Equal(t, int64(time.Hour/time.Millisecond), settings.stored(common.SettingNextIntervalMs))
}

func TestBacklogSchedulesSoon(t *testing.T) {
	settings := newMemSettings()

	var mu sync.Mutex
	times := []time.Time{}
	tick := func(ctx context.Context) TickResult {
		mu.Lock()
		times = append(times, time.Now())
		n := len(times)
		mu.Unlock()
		// First tick reports backlog; later ones do not.
		return TickResult{Backlog: n == 1}
	}
	// Base far in the future so only the soon path can produce a
	// second tick quickly.
	h := New(settings, logger.NewNop(), tick, int64(time.Hour/time.Millisecond), 10, int64(time.Hour/time.Millisecond))

	// First fire happens after the stored interval; shrink it.
	settings.values[common.SettingNextIntervalMs] = 10

	ctx, cancel := context.WithCancel(context.Background())
	go h.Start(ctx)
	defer cancel()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(times) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	gap := times[1].Sub(times[0])
	mu.Unlock()
	assert.Less(t, gap, 3*time.Second, "backlog pulls the next tick to the soon interval")
}

package heartbeat

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Cadence wraps a cron expression used to decide whether a periodic
// task (digest, janitor) is due relative to its last run.
type Cadence struct {
	schedule cron.Schedule
}

// NewCadence parses a standard five-field cron expression.
func NewCadence(expr string) (Cadence, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return Cadence{}, fmt.Errorf("invalid cadence expression %q: %w", expr, err)
	}
	return Cadence{schedule: schedule}, nil
}

// Due reports whether the next scheduled run after lastRunMs has
// already passed. A zero lastRunMs means the task never ran and is
// due immediately.
func (c Cadence) Due(lastRunMs, nowMs int64) bool {
	if lastRunMs == 0 {
		return true
	}
	next := c.schedule.Next(time.UnixMilli(lastRunMs))
	return !next.After(time.UnixMilli(nowMs))
}

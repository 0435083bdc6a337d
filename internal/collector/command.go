package collector

import (
	"context"
	"fmt"
	"strings"

	"content-refinery/internal/entity"
	"content-refinery/internal/store"
	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"

	"gorm.io/gorm"
)

const helpText = `Commands:
/status - store counters
/add <name> <url> - register a feed channel
/ignore <id> - stop polling a channel
/help - this listing`

// Commander executes operator text commands. Replies are plain text
// returned to the caller for delivery.
type Commander struct {
	store  *store.Store
	logger *logger.Logger
}

// NewCommander creates the command router.
func NewCommander(st *store.Store, log *logger.Logger) *Commander {
	return &Commander{store: st, logger: log}
}

// IsCommand reports whether the text routes to the command
// dispatcher.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Execute runs one command and returns the user-visible reply. Bad
// arguments yield a human-readable message, never an error.
func (c *Commander) Execute(ctx context.Context, text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "unknown command"
	}

	switch strings.ToLower(fields[0]) {
	case "/status":
		stats, err := c.store.Stats(ctx)
		if err != nil {
			c.logger.Error("Failed to read stats", logger.ErrorField(err))
			return "stats unavailable"
		}
		return fmt.Sprintf("items=%d signals=%d channels=%d", stats.Items, stats.Signals, stats.Channels)

	case "/add":
		if len(fields) < 3 {
			return "usage: /add <name> <url>"
		}
		name := fields[1]
		url := fields[2]
		id, inserted, err := c.store.UpsertChannel(ctx, &entity.Channel{
			Name:    name,
			Type:    common.ChannelTypeFeed,
			FeedURL: url,
		})
		if err != nil {
			c.logger.Error("Failed to register feed channel", logger.ErrorField(err))
			return "failed to register feed"
		}
		if !inserted {
			return fmt.Sprintf("feed already registered (id=%s)", id)
		}
		return fmt.Sprintf("feed %q registered (id=%s)", name, id)

	case "/ignore":
		if len(fields) < 2 {
			return "usage: /ignore <id>"
		}
		if err := c.store.Channels.SetStatus(ctx, fields[1], common.ChannelStatusIgnored); err != nil {
			if err == gorm.ErrRecordNotFound {
				return "channel not found"
			}
			c.logger.Error("Failed to ignore channel", logger.ErrorField(err))
			return "failed to update channel"
		}
		return fmt.Sprintf("channel %s ignored", fields[1])

	case "/help":
		return helpText

	default:
		return "unknown command"
	}
}

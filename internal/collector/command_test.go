package collector

import (
	"context"
	"fmt"
	"testing"

	"content-refinery/internal/entity"
	"content-refinery/internal/store"
	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newCollectorTestStore(t *testing.T) (*store.Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:collector_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	return store.New(db, logger.NewNop()), db
}

func TestIsCommand(t *testing.T) {
	assert.True(t, IsCommand("/status"))
	assert.True(t, IsCommand("  /help"))
	assert.False(t, IsCommand("hello /status"))
	assert.False(t, IsCommand("CALLBACK:chk:x"))
}

func TestCommandStatus(t *testing.T) {
	st, db := newCollectorTestStore(t)
	cmd := NewCommander(st, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, db.Create(&entity.ContentItem{
		ID: "i1", RawText: "t", ContentHash: "h1", CreatedAt: 1,
	}).Error)

	reply := cmd.Execute(ctx, "/status")
	assert.Equal(t, "items=1 signals=0 channels=0", reply)
}

func TestCommandAddRegistersFeed(t *testing.T) {
	st, _ := newCollectorTestStore(t)
	cmd := NewCommander(st, logger.NewNop())
	ctx := context.Background()

	reply := cmd.Execute(ctx, "/add reuters https://feeds.example.com/rss")
	assert.Contains(t, reply, "registered")

	feeds, err := st.Channels.ListByType(ctx, common.ChannelTypeFeed)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "reuters", feeds[0].Name)
	assert.Equal(t, "https://feeds.example.com/rss", feeds[0].FeedURL)

	// Re-adding the same URL does not duplicate.
	reply = cmd.Execute(ctx, "/add reuters2 https://feeds.example.com/rss")
	assert.Contains(t, reply, "already registered")
}

func TestCommandIgnore(t *testing.T) {
	st, _ := newCollectorTestStore(t)
	cmd := NewCommander(st, logger.NewNop())
	ctx := context.Background()

	id, _, err := st.UpsertChannel(ctx, &entity.Channel{
		Name: "noisy", Type: common.ChannelTypeFeed, FeedURL: "https://noisy/rss",
	})
	require.NoError(t, err)

	reply := cmd.Execute(ctx, "/ignore "+id)
	assert.Contains(t, reply, "ignored")

	channel, err := st.Channels.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, common.ChannelStatusIgnored, channel.Status)

	assert.Equal(t, "channel not found", cmd.Execute(ctx, "/ignore nope"))
}

func TestCommandHelpAndUnknown(t *testing.T) {
	st, _ := newCollectorTestStore(t)
	cmd := NewCommander(st, logger.NewNop())
	ctx := context.Background()

	assert.Contains(t, cmd.Execute(ctx, "/help"), "/status")
	assert.Equal(t, "unknown command", cmd.Execute(ctx, "/frobnicate"))
	assert.Equal(t, "usage: /add <name> <url>", cmd.Execute(ctx, "/add onlyname"))
}

package repository

import (
	"context"
	"fmt"
	"testing"

	"content-refinery/internal/entity"
	"content-refinery/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&entity.ContentItem{},
		&entity.Signal{},
		&entity.Channel{},
		&entity.InternalLog{},
		&entity.Setting{},
	))
	return db
}

func TestTakePendingBatchOrderAndFilter(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentItemRepository(db)
	ctx := context.Background()

	now := utils.NowMillis()
	seed := []entity.ContentItem{
		{ID: "b", RawText: "b", ContentHash: "hb", CreatedAt: now - 100},
		{ID: "a", RawText: "a", ContentHash: "ha", CreatedAt: now - 200},
		{ID: "maxed", RawText: "m", ContentHash: "hm", CreatedAt: now - 300, RetryCount: 5},
		{ID: "done", RawText: "d", ContentHash: "hd", CreatedAt: now - 400, ProcessedJSON: []byte(`{}`)},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	items, err := repo.TakePendingBatch(ctx, 20, 5)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID, "oldest first")
	assert.Equal(t, "b", items[1].ID)
}

func TestBumpRetryMarksTerminalAtCap(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentItemRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&entity.ContentItem{
		ID: "x", RawText: "x", ContentHash: "hx", CreatedAt: 1,
	}).Error)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.BumpRetry(ctx, "x", "llm 500", 5))
	}

	item, err := repo.FindByID(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 5, item.RetryCount)
	assert.Equal(t, entity.ItemFailed, item.IsSignal)

	// Terminal items never reappear in the pending batch.
	items, err := repo.TakePendingBatch(ctx, 20, 5)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRecentAnalysisByHashWindow(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentItemRepository(db)
	ctx := context.Background()

	now := utils.NowMillis()
	fresh := now - 1000
	stale := now - 2*86_400_000

	require.NoError(t, db.Create(&entity.ContentItem{
		ID: "fresh", RawText: "t", ContentHash: "h1", CreatedAt: fresh,
		ProcessedJSON: []byte(`{"analysis":[]}`), LastAnalyzedAt: &fresh,
	}).Error)
	require.NoError(t, db.Create(&entity.ContentItem{
		ID: "stale", RawText: "t2", ContentHash: "h2", CreatedAt: stale,
		ProcessedJSON: []byte(`{"analysis":[]}`), LastAnalyzedAt: &stale,
	}).Error)

	got, ids, err := repo.RecentAnalysisByHash(ctx, "h1", 86_400_000)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Equal(t, []string{"fresh"}, ids)

	got, _, err = repo.RecentAnalysisByHash(ctx, "h2", 86_400_000)
	require.NoError(t, err)
	assert.Nil(t, got, "stale analysis is not reusable")
}

func TestClearAnalysisRequeues(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentItemRepository(db)
	ctx := context.Background()

	now := utils.NowMillis()
	require.NoError(t, db.Create(&entity.ContentItem{
		ID: "pdf", RawText: "[PDF DOCUMENT]", ContentHash: "hp", CreatedAt: now,
		ProcessedJSON: []byte(`{}`), IsSignal: entity.ItemSignal, RetryCount: 2, LastAnalyzedAt: &now,
	}).Error)

	require.NoError(t, repo.ClearAnalysis(ctx, []string{"pdf"}))

	items, err := repo.TakePendingBatch(ctx, 20, 5)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "pdf", items[0].ID)
	assert.Equal(t, 0, items[0].RetryCount)
	assert.Equal(t, entity.ItemPending, items[0].IsSignal)
}

func TestKnowledgeSyncFlow(t *testing.T) {
	db := newTestDB(t)
	repo := NewContentItemRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&entity.ContentItem{
		ID: "s1", RawText: "t", ContentHash: "h1", CreatedAt: 1, IsSignal: entity.ItemSignal,
	}).Error)
	require.NoError(t, db.Create(&entity.ContentItem{
		ID: "p1", RawText: "t2", ContentHash: "h2", CreatedAt: 2,
	}).Error)

	items, err := repo.FindUnsyncedSignals(ctx, 50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "s1", items[0].ID)

	require.NoError(t, repo.MarkKnowledgeSynced(ctx, []string{"s1"}))

	items, err = repo.FindUnsyncedSignals(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, items)
}

package analyzer

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"content-refinery/internal/config"
	"content-refinery/internal/dto"
	"content-refinery/internal/entity"
	"content-refinery/internal/store"
	"content-refinery/pkg/logger"
	"content-refinery/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// fakeLLM scripts the model's behaviour per call.
type fakeLLM struct {
	entries    []dto.AnalysisEntry
	err        error
	calls      atomic.Int64
	batches    []string
	lastBatch  string
	lastPrompt string
}

func (f *fakeLLM) AnalyzeBatch(ctx context.Context, batchText, systemPrompt string) ([]dto.AnalysisEntry, error) {
	f.calls.Add(1)
	f.batches = append(f.batches, batchText)
	f.lastBatch = batchText
	f.lastPrompt = systemPrompt
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func (f *fakeLLM) DeepDive(ctx context.Context, text, systemPrompt string) (string, error) {
	f.calls.Add(1)
	return "deep dive", f.err
}

func (f *fakeLLM) ExtractMediaText(ctx context.Context, mimeType string, data []byte) (string, error) {
	return "", nil
}

func (f *fakeLLM) CallCount() int64 { return f.calls.Load() }

// captureSink records routed signals.
type captureSink struct {
	signals []*entity.Signal
}

func (c *captureSink) Route(ctx context.Context, signal *entity.Signal) {
	c.signals = append(c.signals, signal)
}

func testConfig() config.Analyzer {
	return config.Analyzer{
		BatchMax:             20,
		MaxRetries:           5,
		ReuseWindowMs:        86_400_000,
		PromoteThreshold:     40,
		SignalDedupeWindowMs: 6 * 3_600_000,
	}
}

func newTestStore(t *testing.T) (*store.Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:analyzer_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	return store.New(db, logger.NewNop()), db
}

func seedItem(t *testing.T, db *gorm.DB, id, sourceID, text string, createdAt int64) {
	t.Helper()
	require.NoError(t, db.Create(&entity.ContentItem{
		ID: id, SourceID: sourceID, SourceName: "src-" + sourceID,
		RawText: text, ContentHash: "hash-" + id, CreatedAt: createdAt,
	}).Error)
}

func TestRunOncePromotesQualifyingEntries(t *testing.T) {
	st, db := newTestStore(t)
	llm := &fakeLLM{entries: []dto.AnalysisEntry{{
		Summary:        "Rate hike 25bp",
		Analysis:       "hawkish surprise",
		RelevanceScore: 85,
		Sentiment:      "bearish",
		Tickers:        []string{"spy"},
		Tags:           []string{"macro"},
		SourceIDs:      []string{"item-1"},
	}}}
	sink := &captureSink{}
	a := New(st, llm, logger.NewNop(), testConfig(), sink)

	seedItem(t, db, "item-1", "chat-1", "Central bank hikes rates 25bp.", 100)

	emitted, backlog, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, emitted)
	assert.False(t, backlog)

	// The batch text carries the id tag.
	assert.Contains(t, llm.lastBatch, "[ID: item-1]")

	// The item is analyzed and promoted.
	item, err := st.Items.FindByID(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ItemSignal, item.IsSignal)
	assert.NotNil(t, item.ProcessedJSON)
	require.NotNil(t, item.LastAnalyzedAt)

	// One persisted signal, routed to the sink after persistence,
	// tickers canonicalized.
	require.Len(t, sink.signals, 1)
	assert.Equal(t, 85, sink.signals[0].RelevanceScore)
	assert.Contains(t, string(sink.signals[0].Tickers), "SPY")

	var count int64
	require.NoError(t, db.Model(&entity.Signal{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunOnceEmptyArrayMarksAnalyzedWithoutSignal(t *testing.T) {
	st, db := newTestStore(t)
	llm := &fakeLLM{entries: []dto.AnalysisEntry{}}
	a := New(st, llm, logger.NewNop(), testConfig())

	seedItem(t, db, "item-1", "chat-1", "nothing much", 100)

	emitted, backlog, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, emitted)
	assert.False(t, backlog)

	item, err := st.Items.FindByID(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ItemPending, item.IsSignal)
	assert.NotNil(t, item.ProcessedJSON, "empty result still counts as analyzed")
	assert.Zero(t, item.RetryCount)
}

func TestRunOnceFailureBumpsRetries(t *testing.T) {
	st, db := newTestStore(t)
	llm := &fakeLLM{err: fmt.Errorf("received non-OK response from LLM endpoint: 500")}
	a := New(st, llm, logger.NewNop(), testConfig())

	seedItem(t, db, "item-1", "chat-1", "text", 100)

	for i := 0; i < 5; i++ {
		_, _, err := a.RunOnce(context.Background())
		require.NoError(t, err)
	}

	item, err := st.Items.FindByID(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, 5, item.RetryCount)
	assert.Equal(t, entity.ItemFailed, item.IsSignal)

	// Terminal item is never re-batched.
	before := llm.CallCount()
	_, backlog, err := a.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, backlog)
	assert.Equal(t, before, llm.CallCount())
}

func TestRunOnceGroupsBySourceInOrder(t *testing.T) {
	st, db := newTestStore(t)
	llm := &fakeLLM{entries: []dto.AnalysisEntry{}}
	a := New(st, llm, logger.NewNop(), testConfig())

	seedItem(t, db, "a1", "chat-a", "first", 100)
	seedItem(t, db, "b1", "chat-b", "other", 150)
	seedItem(t, db, "a2", "chat-a", "second", 200)

	_, _, err := a.RunOnce(context.Background())
	require.NoError(t, err)

	// Two groups, two calls; a-group items in created_at order within
	// one batch text.
	assert.Equal(t, int64(2), llm.CallCount())
	var aBatch string
	for _, b := range llm.batches {
		if strings.Contains(b, "[ID: a1]") {
			aBatch = b
		}
	}
	require.NotEmpty(t, aBatch)
	assert.Less(t, strings.Index(aBatch, "[ID: a1]"), strings.Index(aBatch, "[ID: a2]"))
}

func TestPromoteEntriesSuppressesDuplicates(t *testing.T) {
	st, _ := newTestStore(t)
	llm := &fakeLLM{}
	sink := &captureSink{}
	a := New(st, llm, logger.NewNop(), testConfig(), sink)

	entry := dto.AnalysisEntry{
		Summary:        "same event",
		RelevanceScore: 90,
		Sentiment:      "bullish",
	}

	n, err := a.PromoteEntries(context.Background(), []dto.AnalysisEntry{entry}, []string{"item-1"}, "src")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = a.PromoteEntries(context.Background(), []dto.AnalysisEntry{entry}, []string{"item-1"}, "src")
	require.NoError(t, err)
	assert.Zero(t, n, "second promotion inside the window is suppressed")
	assert.Len(t, sink.signals, 1)
}

func TestPromoteCachedBypassesDedupeWindow(t *testing.T) {
	st, _ := newTestStore(t)
	sink := &captureSink{}
	a := New(st, &fakeLLM{}, logger.NewNop(), testConfig(), sink)

	entry := dto.AnalysisEntry{Summary: "reused event", RelevanceScore: 85, Sentiment: "bullish"}

	n, err := a.PromoteEntries(context.Background(), []dto.AnalysisEntry{entry}, []string{"item-1"}, "src")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A re-ingest inside the window still mints its own signal row.
	n, err = a.PromoteCached(context.Background(), []dto.AnalysisEntry{entry}, []string{"item-1"}, "src")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sink.signals, 2)
}

func TestPromoteEntriesThreshold(t *testing.T) {
	st, _ := newTestStore(t)
	a := New(st, &fakeLLM{}, logger.NewNop(), testConfig())

	n, err := a.PromoteEntries(context.Background(), []dto.AnalysisEntry{
		{Summary: "noise", RelevanceScore: 40},
		{Summary: "barely", RelevanceScore: 41},
	}, []string{"item-1"}, "src")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only scores above the threshold promote")
}

func TestRunDigestUsesDigestPrompt(t *testing.T) {
	st, db := newTestStore(t)
	llm := &fakeLLM{entries: []dto.AnalysisEntry{}}
	a := New(st, llm, logger.NewNop(), testConfig())

	seedItem(t, db, "old-1", "chat-1", "leftover", utils.NowMillis()-3_600_000)

	_, err := a.RunDigest(context.Background())
	require.NoError(t, err)
	assert.Contains(t, llm.lastPrompt, "digest")
}

package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"content-refinery/internal/config"
	"content-refinery/internal/dto"
	"content-refinery/internal/entity"
	"content-refinery/internal/repository"
	"content-refinery/internal/store"
	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"
	"content-refinery/pkg/utils"
)

// SignalSink receives a signal after it is persisted. The mirror is
// the mandatory sink; the broadcast stream is an optional second one.
type SignalSink interface {
	Route(ctx context.Context, signal *entity.Signal)
}

// Analyzer converts pending content items into signals via batched
// LLM calls.
type Analyzer struct {
	store  *store.Store
	llm    repository.LLMRepository
	sinks  []SignalSink
	logger *logger.Logger
	cfg    config.Analyzer
}

// New creates the analyzer.
func New(st *store.Store, llm repository.LLMRepository, log *logger.Logger, cfg config.Analyzer, sinks ...SignalSink) *Analyzer {
	return &Analyzer{
		store:  st,
		llm:    llm,
		sinks:  sinks,
		logger: log,
		cfg:    cfg,
	}
}

// RunOnce performs one analysis pass: one batch, grouped by source,
// one LLM call per group. It returns the number of signals emitted
// and whether pending work remains.
func (a *Analyzer) RunOnce(ctx context.Context) (int, bool, error) {
	items, err := a.store.Items.TakePendingBatch(ctx, a.cfg.BatchMax, a.cfg.MaxRetries)
	if err != nil {
		return 0, false, fmt.Errorf("failed to take pending batch: %w", err)
	}
	if len(items) == 0 {
		return 0, false, nil
	}

	emitted := 0
	for _, group := range groupBySource(items) {
		if !utils.ShouldContinue(ctx, a.logger) {
			break
		}
		n := a.analyzeGroup(ctx, group)
		emitted += n
	}

	pending, err := a.store.Items.CountPending(ctx, a.cfg.MaxRetries)
	if err != nil {
		a.logger.Error("Failed to count pending items", logger.ErrorField(err))
		pending = 0
	}

	return emitted, pending > 0, nil
}

// analyzeGroup calls the model for one source group and writes the
// results back. Failures bump every group item's retry count and
// never propagate to the ingester.
func (a *Analyzer) analyzeGroup(ctx context.Context, group []entity.ContentItem) int {
	batchText := repository.BuildBatchText(group)

	entries, err := a.llm.AnalyzeBatch(ctx, batchText, repository.AnalysisSystemPrompt)
	if err != nil {
		a.logger.Error("Batch analysis failed", logger.ErrorField(err), logger.IntField("batch_size", len(group)))
		a.store.LogState(ctx, "analyzer", "batch analysis failed", map[string]interface{}{
			"batch_size": len(group),
			"error":      err.Error(),
		})
		for _, item := range group {
			if err := a.store.Items.BumpRetry(ctx, item.ID, err.Error(), a.cfg.MaxRetries); err != nil {
				a.logger.Error("Failed to bump retry", logger.ErrorField(err), logger.StringField("item_id", item.ID))
			}
		}
		return 0
	}

	now := utils.NowMillis()
	processed, marshalErr := json.Marshal(dto.ProcessedAnalysis{
		Analysis:   entries,
		Batch:      group[0].SourceID,
		AnalyzedAt: now,
	})
	if marshalErr != nil {
		a.logger.Error("Failed to marshal processed analysis", logger.ErrorField(marshalErr))
		return 0
	}

	groupIDs := make([]string, 0, len(group))
	for _, item := range group {
		groupIDs = append(groupIDs, item.ID)
		if err := a.store.Items.WriteAnalysis(ctx, item.ID, processed, entity.ItemPending, now); err != nil {
			a.logger.Error("Failed to write analysis", logger.ErrorField(err), logger.StringField("item_id", item.ID))
		}
	}

	emitted, err := a.PromoteEntries(ctx, entries, groupIDs, group[0].SourceName)
	if err != nil {
		a.logger.Error("Failed to promote entries", logger.ErrorField(err))
	}
	return emitted
}

// PromoteEntries turns qualifying analysis entries into persisted
// signals, suppressing duplicates inside the dedupe window, marking
// the referenced items and fanning the signal out to the sinks.
func (a *Analyzer) PromoteEntries(ctx context.Context, entries []dto.AnalysisEntry, fallbackIDs []string, sourceName string) (int, error) {
	return a.promote(ctx, entries, fallbackIDs, sourceName, false)
}

// PromoteCached re-promotes a cached analysis for a re-ingested item.
// Each reuse mints its own signal row, so the duplicate window does
// not apply.
func (a *Analyzer) PromoteCached(ctx context.Context, entries []dto.AnalysisEntry, fallbackIDs []string, sourceName string) (int, error) {
	return a.promote(ctx, entries, fallbackIDs, sourceName, true)
}

func (a *Analyzer) promote(ctx context.Context, entries []dto.AnalysisEntry, fallbackIDs []string, sourceName string, skipDedupe bool) (int, error) {
	emitted := 0

	for _, entry := range entries {
		if entry.RelevanceScore <= a.cfg.PromoteThreshold {
			continue
		}
		if entry.Summary == "" {
			continue
		}

		sourceIDs := entry.SourceIDs
		if len(sourceIDs) == 0 {
			sourceIDs = fallbackIDs
		}
		if len(sourceIDs) == 0 {
			continue
		}

		fingerprint := SignalFingerprint(sourceIDs, entry.Summary)
		if !skipDedupe {
			prior, err := a.store.Signals.RecentByFingerprint(ctx, fingerprint, a.cfg.SignalDedupeWindowMs)
			if err != nil {
				return emitted, fmt.Errorf("failed to check signal fingerprint: %w", err)
			}
			if prior != nil {
				a.logger.Debug("Suppressing duplicate signal", logger.StringField("fingerprint", fingerprint))
				continue
			}
		}

		signal, err := buildSignal(entry, sourceIDs, sourceName, fingerprint)
		if err != nil {
			a.logger.Error("Failed to build signal", logger.ErrorField(err))
			continue
		}

		if err := a.store.SaveSignal(ctx, signal); err != nil {
			return emitted, fmt.Errorf("failed to save signal: %w", err)
		}

		for _, id := range sourceIDs {
			if err := a.store.Items.MarkSignal(ctx, id, entity.ItemSignal); err != nil {
				a.logger.Error("Failed to mark item as signal", logger.ErrorField(err), logger.StringField("item_id", id))
			}
		}

		// Sinks run only after the row is durably persisted.
		for _, sink := range a.sinks {
			sink.Route(ctx, signal)
		}
		emitted++
	}

	return emitted, nil
}

// RunDigest batches the last day's non-signal items under the digest
// prompt variant. Returns the number of digest signals emitted.
func (a *Analyzer) RunDigest(ctx context.Context) (int, error) {
	since := utils.NowMillis() - 24*3_600_000
	items, err := a.store.Items.FindUnanalyzedSince(ctx, since, a.cfg.BatchMax)
	if err != nil {
		return 0, fmt.Errorf("failed to select digest items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	batchText := repository.BuildBatchText(items)
	entries, err := a.llm.AnalyzeBatch(ctx, batchText, repository.DigestSystemPrompt)
	if err != nil {
		a.store.LogState(ctx, "digest", "digest synthesis failed", map[string]interface{}{"error": err.Error()})
		return 0, fmt.Errorf("digest synthesis failed: %w", err)
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	return a.PromoteEntries(ctx, entries, ids, "digest")
}

// SignalFingerprint is the idempotence key of a promoted entry.
func SignalFingerprint(sourceIDs []string, summary string) string {
	sorted := append([]string(nil), sourceIDs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ",") + "|" + summary))
	return hex.EncodeToString(sum[:])
}

func buildSignal(entry dto.AnalysisEntry, sourceIDs []string, sourceName, fingerprint string) (*entity.Signal, error) {
	idsJSON, err := json.Marshal(sourceIDs)
	if err != nil {
		return nil, err
	}

	tickers := make([]string, 0, len(entry.Tickers))
	for _, t := range entry.Tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			tickers = append(tickers, t)
		}
	}
	tickersJSON, _ := json.Marshal(tickers)
	tagsJSON, _ := json.Marshal(entry.Tags)

	sentiment := strings.ToLower(entry.Sentiment)
	switch sentiment {
	case common.SentimentBullish, common.SentimentBearish:
	default:
		sentiment = common.SentimentNeutral
	}

	return &entity.Signal{
		SourceItemIDs:  idsJSON,
		SourceName:     sourceName,
		Summary:        entry.Summary,
		Analysis:       entry.Analysis,
		FactCheck:      entry.FactCheck,
		Sentiment:      sentiment,
		RelevanceScore: entry.RelevanceScore,
		Urgent:         entry.IsUrgent,
		Tickers:        tickersJSON,
		Tags:           tagsJSON,
		Fingerprint:    fingerprint,
	}, nil
}

// groupBySource splits the batch into per-source groups, preserving
// created_at order inside each group.
func groupBySource(items []entity.ContentItem) [][]entity.ContentItem {
	index := map[string]int{}
	var groups [][]entity.ContentItem
	for _, item := range items {
		i, ok := index[item.SourceID]
		if !ok {
			i = len(groups)
			index[item.SourceID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}

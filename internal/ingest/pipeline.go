package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"content-refinery/internal/dto"
	"content-refinery/internal/entity"
	"content-refinery/internal/repository"
	"content-refinery/internal/store"
	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"
	"content-refinery/pkg/utils"
)

// Tickler preempts the heartbeat backoff so fresh work is analyzed
// promptly.
type Tickler interface {
	Tickle()
}

// EntryPromoter turns a cached analysis into persisted, mirrored
// signals on re-ingest. Implemented by the analyzer.
type EntryPromoter interface {
	PromoteCached(ctx context.Context, entries []dto.AnalysisEntry, fallbackIDs []string, sourceName string) (int, error)
}

// Pipeline normalizes, scrubs, fingerprints and dedupes inbound text.
type Pipeline struct {
	store          *store.Store
	llm            repository.LLMRepository
	promoter       EntryPromoter
	tickler        Tickler
	logger         *logger.Logger
	client         *http.Client
	outboundLabels []string
	reuseWindowMs  int64
}

// NewPipeline creates the ingest pipeline. outboundLabels are the
// mirror's own channel labels; matching titles are dropped to break
// output loops.
func NewPipeline(st *store.Store, llm repository.LLMRepository, promoter EntryPromoter, tickler Tickler, log *logger.Logger, outboundLabels []string, reuseWindowMs int64) *Pipeline {
	return &Pipeline{
		store:          st,
		llm:            llm,
		promoter:       promoter,
		tickler:        tickler,
		logger:         log,
		client:         &http.Client{Timeout: 15 * time.Second},
		outboundLabels: outboundLabels,
		reuseWindowMs:  reuseWindowMs,
	}
}

// Ingest runs one record through the pipeline.
func (p *Pipeline) Ingest(ctx context.Context, rec dto.IngestRecord) (dto.IngestResult, error) {
	// Output-loop guard: the mirror's own messages come back with the
	// outbound channel label as title.
	if utils.ContainsFold(p.outboundLabels, strings.TrimSpace(rec.Title)) {
		p.logger.Debug("Dropping own outbound message", logger.StringField("title", rec.Title))
		return dto.IngestResult{Status: dto.IngestStatusDropped}, nil
	}

	text, ok := Scrub(rec.Text)
	if !ok {
		return dto.IngestResult{Status: dto.IngestStatusDropped}, nil
	}

	if rec.Media != nil {
		enriched, err := p.enrichMedia(ctx, rec.Media)
		if err != nil {
			p.logger.Error("Media enrichment failed", logger.ErrorField(err), logger.StringField("url", rec.Media.URL))
			p.store.LogState(ctx, "ingest", "media enrichment failed", map[string]interface{}{"url": rec.Media.URL, "error": err.Error()})
		} else if enriched != "" {
			scrubbed, _ := Scrub(enriched)
			if text == "" {
				text = scrubbed
			} else {
				text = text + "\n" + scrubbed
			}
		}
	}

	if text == "" {
		return dto.IngestResult{Status: dto.IngestStatusNoContent}, nil
	}

	hash := Fingerprint(text)

	// Reuse a fresh analysis for this hash instead of spending another
	// model call.
	cached, itemIDs, err := p.store.RecentAnalysisByHash(ctx, hash, p.reuseWindowMs)
	if err != nil {
		return dto.IngestResult{}, fmt.Errorf("failed to check analysis reuse: %w", err)
	}
	if cached != nil {
		var processed dto.ProcessedAnalysis
		if err := json.Unmarshal(cached, &processed); err != nil {
			p.logger.Warn("Unparseable cached analysis, ignoring", logger.ErrorField(err))
		} else if len(processed.Analysis) > 0 {
			if _, err := p.promoter.PromoteCached(ctx, processed.Analysis, itemIDs, rec.Title); err != nil {
				p.logger.Error("Failed to promote reused analysis", logger.ErrorField(err))
			}
			id := ""
			if len(itemIDs) > 0 {
				id = itemIDs[0]
			}
			return dto.IngestResult{Status: dto.IngestStatusReused, ItemID: id}, nil
		}
	}

	item := &entity.ContentItem{
		SourceID:    rec.ChatID,
		SourceName:  rec.Title,
		RawText:     text,
		ContentHash: hash,
	}
	id, inserted, err := p.store.UpsertContentItem(ctx, item)
	if err != nil {
		return dto.IngestResult{}, fmt.Errorf("failed to upsert content item: %w", err)
	}
	if !inserted {
		return dto.IngestResult{Status: dto.IngestStatusDuplicate, ItemID: id}, nil
	}

	// Fresh work: pull the analyzer forward and reset the backoff.
	p.tickler.Tickle()

	return dto.IngestResult{Status: dto.IngestStatusIngested, ItemID: id}, nil
}

// Fingerprint is the deduplication key: SHA-256 of the scrubbed text
// in lowercase hex.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// enrichMedia downloads the referenced blob and recovers text from
// it. PDFs are deferred with a sentinel for forced re-analysis;
// images and audio go through the model's extraction call.
func (p *Pipeline) enrichMedia(ctx context.Context, media *dto.Media) (string, error) {
	data, mimeType, err := p.download(ctx, media.URL)
	if err != nil {
		return "", err
	}
	if media.MimeType != "" {
		mimeType = media.MimeType
	}

	if strings.Contains(mimeType, "pdf") {
		return common.PDFSentinel, nil
	}

	if strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "audio/") {
		text, err := p.llm.ExtractMediaText(ctx, mimeType, data)
		if err != nil {
			return "", fmt.Errorf("failed to extract media text: %w", err)
		}
		return utils.CleanToValidUTF8(text), nil
	}

	p.logger.Debug("Unsupported media type, skipping", logger.StringField("mime_type", mimeType))
	return "", nil
}

func (p *Pipeline) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create media request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

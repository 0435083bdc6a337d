package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"content-refinery/internal/dto"
	"content-refinery/internal/entity"
	"content-refinery/internal/ingest"
	"content-refinery/internal/store"
	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"
	"content-refinery/pkg/utils"

	"github.com/PuerkitoBio/goquery"
	"github.com/mauidude/go-readability"
	"github.com/mmcdole/gofeed"
)

// Poller fetches registered syndication feeds and pushes new entries
// through the ingest pipeline.
type Poller struct {
	store        *store.Store
	pipeline     *ingest.Pipeline
	logger       *logger.Logger
	client       *http.Client
	fetchTimeout time.Duration
	stalenessMs  int64
}

// NewPoller creates the feed poller.
func NewPoller(st *store.Store, pipeline *ingest.Pipeline, log *logger.Logger, fetchTimeout time.Duration, stalenessMs int64) *Poller {
	return &Poller{
		store:        st,
		pipeline:     pipeline,
		logger:       log,
		client:       &http.Client{Timeout: fetchTimeout},
		fetchTimeout: fetchTimeout,
		stalenessMs:  stalenessMs,
	}
}

// PollDue fetches every active feed channel whose last poll is older
// than the staleness window. Returns the number of newly ingested
// items.
func (p *Poller) PollDue(ctx context.Context) int {
	channels, err := p.store.Channels.ListByType(ctx, common.ChannelTypeFeed)
	if err != nil {
		p.logger.Error("Failed to list feed channels", logger.ErrorField(err))
		return 0
	}

	now := utils.NowMillis()
	newItems := 0

	for _, channel := range channels {
		if !utils.ShouldContinue(ctx, p.logger) {
			break
		}
		if channel.Status != common.ChannelStatusActive {
			continue
		}
		if channel.LastPolledAt != nil && now-*channel.LastPolledAt < p.stalenessMs {
			continue
		}
		newItems += p.pollOne(ctx, channel)
	}
	return newItems
}

// pollOne fetches and ingests a single feed, updating the channel's
// counters either way.
func (p *Poller) pollOne(ctx context.Context, channel entity.Channel) int {
	p.logger.Info("Polling feed", logger.StringField("name", channel.Name), logger.StringField("url", channel.FeedURL))

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	fp := gofeed.NewParser()
	feed, err := fp.ParseURLWithContext(channel.FeedURL, fetchCtx)
	polledAt := utils.NowMillis()
	if err != nil {
		p.logger.Error("Failed to parse feed", logger.ErrorField(err), logger.StringField("url", channel.FeedURL))
		p.store.LogState(ctx, "poller", "feed fetch failed", map[string]interface{}{"channel": channel.Name, "error": err.Error()})
		if touchErr := p.store.Channels.Touch(ctx, channel.ID, 0, 1, &polledAt); touchErr != nil {
			p.logger.Error("Failed to touch channel", logger.ErrorField(touchErr))
		}
		return 0
	}

	// Newest first, matching how the entries should reach the batch.
	sort.Slice(feed.Items, func(i, j int) bool {
		if feed.Items[i].PublishedParsed == nil || feed.Items[j].PublishedParsed == nil {
			return false
		}
		return feed.Items[i].PublishedParsed.After(*feed.Items[j].PublishedParsed)
	})

	newItems := 0
	for _, item := range feed.Items {
		if !utils.ShouldContinue(ctx, p.logger) {
			break
		}

		text := p.buildItemText(ctx, channel, item)
		if text == "" {
			continue
		}

		result, err := p.pipeline.Ingest(ctx, dto.IngestRecord{
			ChatID:    channel.ID,
			MessageID: item.GUID,
			Title:     channel.Name,
			Text:      text,
		})
		if err != nil {
			p.logger.Error("Failed to ingest feed item", logger.ErrorField(err), logger.StringField("link", item.Link))
			continue
		}
		if result.Status == dto.IngestStatusIngested {
			newItems++
		}
	}

	if err := p.store.Channels.Touch(ctx, channel.ID, 1, 0, &polledAt); err != nil {
		p.logger.Error("Failed to touch channel", logger.ErrorField(err))
	}

	p.logger.Info("Feed polled",
		logger.StringField("name", channel.Name),
		logger.IntField("total_items", len(feed.Items)),
		logger.IntField("new_items", newItems),
	)
	return newItems
}

// buildItemText renders one feed entry as raw text, optionally
// replacing the description with the readable article body.
func (p *Poller) buildItemText(ctx context.Context, channel entity.Channel, item *gofeed.Item) string {
	description := item.Description
	if description == "" {
		description = item.Content
	}

	if channel.FetchFullContent && item.Link != "" {
		if full, err := p.extractArticle(ctx, item.Link); err != nil {
			p.logger.Warn("Full-content extraction failed, using description",
				logger.ErrorField(err), logger.StringField("link", item.Link))
		} else if full != "" {
			description = full
		}
	}

	text := strings.TrimSpace(fmt.Sprintf("%s\n\n%s\n\n%s", item.Title, description, item.Link))
	return utils.CleanToValidUTF8(text)
}

// extractArticle fetches the linked page and reduces it to readable
// text.
func (p *Poller) extractArticle(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create article request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch article: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("article fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read article body: %w", err)
	}

	doc, err := readability.NewDocument(string(body))
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %w", err)
	}

	content := doc.Content()
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(content)))
	if err != nil {
		return "", fmt.Errorf("failed to strip article markup: %w", err)
	}

	text := strings.TrimSpace(parsed.Text())
	text = strings.ReplaceAll(text, "\t", " ")
	text = strings.ReplaceAll(text, "\r", "")
	return utils.CleanToValidUTF8(text), nil
}

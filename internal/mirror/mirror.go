package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"content-refinery/internal/entity"
	"content-refinery/pkg/chat"
	"content-refinery/pkg/logger"
	"content-refinery/pkg/utils"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const maxMessageLen = 4000

// Mirror routes persisted signals to outbound channels by relevance
// tier.
type Mirror struct {
	sender             chat.Sender
	logger             *logger.Logger
	primaryChannelID   string
	secondaryChannelID string
	primaryThreshold   int
	secondaryThreshold int
	sleep              func(time.Duration)
}

// New creates the mirror. secondaryChannelID may be empty, in which
// case mid-tier signals are dropped.
func New(sender chat.Sender, log *logger.Logger, primaryChannelID, secondaryChannelID string, primaryThreshold, secondaryThreshold int) *Mirror {
	return &Mirror{
		sender:             sender,
		logger:             log,
		primaryChannelID:   primaryChannelID,
		secondaryChannelID: secondaryChannelID,
		primaryThreshold:   primaryThreshold,
		secondaryThreshold: secondaryThreshold,
		sleep:              time.Sleep,
	}
}

// Route delivers the signal to the channel its score earns, if any.
// The signal row is already persisted; delivery failure is logged and
// dropped.
func (m *Mirror) Route(ctx context.Context, signal *entity.Signal) {
	var channelID string
	switch {
	case signal.RelevanceScore >= m.primaryThreshold:
		channelID = m.primaryChannelID
	case signal.RelevanceScore >= m.secondaryThreshold:
		channelID = m.secondaryChannelID
	}
	if channelID == "" {
		return
	}

	text := FormatSignalCard(signal)
	markup := deepDiveKeyboard(signal)

	if err := m.sendWithRetry(ctx, channelID, text, markup); err != nil {
		m.logger.Error("Failed to mirror signal, dropping",
			logger.ErrorField(err),
			logger.StringField("signal_id", signal.ID),
			logger.StringField("channel_id", channelID),
		)
	}
}

// sendWithRetry makes up to three attempts with exponential backoff,
// retrying only network errors and retryable statuses.
func (m *Mirror) sendWithRetry(ctx context.Context, channelID, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	backoff := time.Second
	var lastErr error

	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			m.sleep(backoff)
			backoff *= 2
		}

		lastErr = m.sender.Send(ctx, channelID, text, markup)
		if lastErr == nil {
			return nil
		}

		if statusErr, ok := lastErr.(*chat.StatusError); ok && !statusErr.Retryable() {
			return lastErr
		}
	}
	return lastErr
}

// FormatSignalCard renders the full HTML signal card, truncated to
// the platform limit at a word boundary.
func FormatSignalCard(signal *entity.Signal) string {
	var b strings.Builder

	icon := "📊"
	switch signal.Sentiment {
	case "bullish":
		icon = "🟢"
	case "bearish":
		icon = "🔴"
	}
	if signal.Urgent {
		icon = "🚨"
	}

	b.WriteString(fmt.Sprintf("%s <b>%s</b>\n\n", icon, html.EscapeString(signal.Summary)))

	if signal.Analysis != "" {
		b.WriteString(fmt.Sprintf("%s\n\n", html.EscapeString(signal.Analysis)))
	}
	if signal.FactCheck != "" {
		b.WriteString(fmt.Sprintf("🔍 <i>%s</i>\n\n", html.EscapeString(signal.FactCheck)))
	}

	if tickers := decodeStrings(signal.Tickers); len(tickers) > 0 {
		b.WriteString(fmt.Sprintf("📈 %s\n", html.EscapeString(strings.Join(tickers, " "))))
	}
	if tags := decodeStrings(signal.Tags); len(tags) > 0 {
		b.WriteString(fmt.Sprintf("🏷 %s\n", html.EscapeString(strings.Join(tags, ", "))))
	}

	b.WriteString(fmt.Sprintf("🎯 Relevance: %d/100 | Sentiment: %s", signal.RelevanceScore, signal.Sentiment))

	return utils.TruncateAtWord(b.String(), maxMessageLen)
}

// deepDiveKeyboard attaches the callback buttons targeting the first
// source item.
func deepDiveKeyboard(signal *entity.Signal) *tgbotapi.InlineKeyboardMarkup {
	ids := decodeStrings(signal.SourceItemIDs)
	if len(ids) == 0 {
		return nil
	}
	itemID := ids[0]

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Fact Check", fmt.Sprintf("CALLBACK:chk:%s", itemID)),
			tgbotapi.NewInlineKeyboardButtonData("🧠 Synthesis", fmt.Sprintf("CALLBACK:syn:%s", itemID)),
			tgbotapi.NewInlineKeyboardButtonData("🔬 Deep Dive", fmt.Sprintf("CALLBACK:div:%s", itemID)),
		),
	)
	return &markup
}

func decodeStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

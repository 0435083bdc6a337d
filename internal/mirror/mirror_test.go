package mirror

import (
	"context"
	"strings"
	"testing"
	"time"

	"content-refinery/internal/entity"
	"content-refinery/pkg/chat"
	"content-refinery/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender records sends and can fail the first n attempts.
type fakeSender struct {
	sent      []sentMessage
	failFirst int
	failWith  error
}

type sentMessage struct {
	chatID string
	text   string
	markup *tgbotapi.InlineKeyboardMarkup
}

func (f *fakeSender) Send(ctx context.Context, chatID, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	if f.failFirst > 0 {
		f.failFirst--
		return f.failWith
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, markup: markup})
	return nil
}

func newTestMirror(sender chat.Sender, secondary string) *Mirror {
	m := New(sender, logger.NewNop(), "primary-chan", secondary, 80, 60)
	m.sleep = func(time.Duration) {}
	return m
}

func signalWithScore(score int) *entity.Signal {
	return &entity.Signal{
		ID:             "sig-1",
		SourceItemIDs:  []byte(`["item-1"]`),
		Summary:        "headline",
		Analysis:       "body",
		Sentiment:      "bullish",
		RelevanceScore: score,
	}
}

func TestTieredRouting(t *testing.T) {
	cases := []struct {
		score     int
		secondary string
		wantChat  string
	}{
		{80, "secondary-chan", "primary-chan"},
		{95, "secondary-chan", "primary-chan"},
		{79, "secondary-chan", "secondary-chan"},
		{60, "secondary-chan", "secondary-chan"},
		{59, "secondary-chan", ""},
		{79, "", ""}, // no secondary configured: dropped
	}

	for _, tc := range cases {
		sender := &fakeSender{}
		m := newTestMirror(sender, tc.secondary)
		m.Route(context.Background(), signalWithScore(tc.score))

		if tc.wantChat == "" {
			assert.Empty(t, sender.sent, "score %d", tc.score)
			continue
		}
		require.Len(t, sender.sent, 1, "score %d", tc.score)
		assert.Equal(t, tc.wantChat, sender.sent[0].chatID, "score %d", tc.score)
	}
}

func TestRouteRetriesOnRetryableStatus(t *testing.T) {
	sender := &fakeSender{failFirst: 2, failWith: &chat.StatusError{Code: 500}}
	m := newTestMirror(sender, "")

	m.Route(context.Background(), signalWithScore(90))
	require.Len(t, sender.sent, 1, "third attempt succeeds")
}

func TestRouteGivesUpAfterThreeAttempts(t *testing.T) {
	sender := &fakeSender{failFirst: 3, failWith: &chat.StatusError{Code: 429}}
	m := newTestMirror(sender, "")

	m.Route(context.Background(), signalWithScore(90))
	assert.Empty(t, sender.sent, "dropped after final failure")
}

func TestRouteDoesNotRetryClientErrors(t *testing.T) {
	sender := &fakeSender{failFirst: 3, failWith: &chat.StatusError{Code: 400}}
	m := newTestMirror(sender, "")

	m.Route(context.Background(), signalWithScore(90))
	assert.Equal(t, 2, sender.failFirst, "only one attempt made")
}

func TestFormatSignalCardEscapesAndTruncates(t *testing.T) {
	s := signalWithScore(90)
	s.Summary = "<b>raw</b>"
	s.Analysis = strings.Repeat("long analysis segment ", 400)

	card := FormatSignalCard(s)
	assert.Contains(t, card, "&lt;b&gt;raw&lt;/b&gt;")
	assert.LessOrEqual(t, len([]rune(card)), 4001)
	assert.True(t, strings.HasSuffix(card, "…"))
}

func TestCardCarriesDeepDiveButtons(t *testing.T) {
	sender := &fakeSender{}
	m := newTestMirror(sender, "")

	m.Route(context.Background(), signalWithScore(90))
	require.Len(t, sender.sent, 1)
	markup := sender.sent[0].markup
	require.NotNil(t, markup)
	require.Len(t, markup.InlineKeyboard, 1)
	require.Len(t, markup.InlineKeyboard[0], 3)
	assert.Equal(t, "CALLBACK:chk:item-1", *markup.InlineKeyboard[0][0].CallbackData)
}

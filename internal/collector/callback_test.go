package collector

import (
	"context"
	"fmt"
	"testing"

	"content-refinery/internal/dto"
	"content-refinery/internal/entity"
	"content-refinery/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender collects outbound messages.
type recordingSender struct {
	messages []string
	chatIDs  []string
}

func (r *recordingSender) Send(ctx context.Context, chatID, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	r.chatIDs = append(r.chatIDs, chatID)
	r.messages = append(r.messages, text)
	return nil
}

// deepDiveLLM answers deep dives with a canned string or error.
type deepDiveLLM struct {
	answer    string
	err       error
	deepDives int
}

func (s *deepDiveLLM) AnalyzeBatch(ctx context.Context, batchText, systemPrompt string) ([]dto.AnalysisEntry, error) {
	return nil, nil
}

func (s *deepDiveLLM) DeepDive(ctx context.Context, text, systemPrompt string) (string, error) {
	s.deepDives++
	return s.answer, s.err
}

func (s *deepDiveLLM) ExtractMediaText(ctx context.Context, mimeType string, data []byte) (string, error) {
	return "", nil
}

func (s *deepDiveLLM) CallCount() int64 { return int64(s.deepDives) }

func TestIsCallback(t *testing.T) {
	assert.True(t, IsCallback("CALLBACK:chk:item-1"))
	assert.False(t, IsCallback("/status"))
	assert.False(t, IsCallback("just text"))
}

func TestCallbackHappyPath(t *testing.T) {
	st, db := newCollectorTestStore(t)
	require.NoError(t, db.Create(&entity.ContentItem{
		ID: "item-1", RawText: "central bank text", ContentHash: "h1", CreatedAt: 1,
	}).Error)

	sender := &recordingSender{}
	llm := &deepDiveLLM{answer: "fact check result"}
	d := NewCallbackDispatcher(st, llm, sender, logger.NewNop())

	d.Handle(context.Background(), "chat-9", "CALLBACK:chk:item-1")

	require.Len(t, sender.messages, 2, "holding message then result")
	assert.Equal(t, []string{"chat-9", "chat-9"}, sender.chatIDs)
	assert.Contains(t, sender.messages[1], "fact check result")
	assert.Equal(t, 1, llm.deepDives)
}

func TestCallbackUnknownKind(t *testing.T) {
	st, _ := newCollectorTestStore(t)
	sender := &recordingSender{}
	d := NewCallbackDispatcher(st, &deepDiveLLM{}, sender, logger.NewNop())

	d.Handle(context.Background(), "chat-9", "CALLBACK:zzz:item-1")

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "unknown callback kind")
}

func TestCallbackMissingItem(t *testing.T) {
	st, _ := newCollectorTestStore(t)
	sender := &recordingSender{}
	d := NewCallbackDispatcher(st, &deepDiveLLM{}, sender, logger.NewNop())

	d.Handle(context.Background(), "chat-9", "CALLBACK:chk:ghost")

	require.Len(t, sender.messages, 1)
	assert.Equal(t, "signal not found or expired", sender.messages[0])
}

func TestCallbackLLMFailureIsUserVisible(t *testing.T) {
	st, db := newCollectorTestStore(t)
	require.NoError(t, db.Create(&entity.ContentItem{
		ID: "item-1", RawText: "t", ContentHash: "h1", CreatedAt: 1,
	}).Error)

	sender := &recordingSender{}
	d := NewCallbackDispatcher(st, &deepDiveLLM{err: fmt.Errorf("boom")}, sender, logger.NewNop())

	d.Handle(context.Background(), "chat-9", "CALLBACK:div:item-1")

	require.Len(t, sender.messages, 2)
	assert.Contains(t, sender.messages[1], "try again later")
}

func TestCallbackMalformed(t *testing.T) {
	st, _ := newCollectorTestStore(t)
	sender := &recordingSender{}
	d := NewCallbackDispatcher(st, &deepDiveLLM{}, sender, logger.NewNop())

	d.Handle(context.Background(), "chat-9", "CALLBACK:chk")

	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], "malformed")
}

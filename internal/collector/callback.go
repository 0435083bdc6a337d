package collector

import (
	"context"
	"html"
	"strings"

	"content-refinery/internal/repository"
	"content-refinery/internal/store"
	"content-refinery/pkg/chat"
	"content-refinery/pkg/logger"
	"content-refinery/pkg/utils"
)

const callbackPrefix = "CALLBACK:"

// CallbackDispatcher serves deep-dive requests from signal card
// buttons.
type CallbackDispatcher struct {
	store  *store.Store
	llm    repository.LLMRepository
	sender chat.Sender
	logger *logger.Logger
}

// NewCallbackDispatcher creates the callback dispatcher.
func NewCallbackDispatcher(st *store.Store, llm repository.LLMRepository, sender chat.Sender, log *logger.Logger) *CallbackDispatcher {
	return &CallbackDispatcher{store: st, llm: llm, sender: sender, logger: log}
}

// IsCallback reports whether the text routes to the callback
// dispatcher.
func IsCallback(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), callbackPrefix)
}

// Handle runs one CALLBACK:<kind>:<item_id> request, replying to the
// originating chat. Failures the user caused get a readable reply;
// internal failures get a generic one and a log entry.
func (d *CallbackDispatcher) Handle(ctx context.Context, chatID, text string) {
	parts := strings.SplitN(strings.TrimSpace(text), ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		d.reply(ctx, chatID, "malformed callback request")
		return
	}
	kind, itemID := parts[1], parts[2]

	prompt, ok := repository.CallbackPrompt(kind)
	if !ok {
		d.reply(ctx, chatID, "unknown callback kind: "+kind)
		return
	}

	item, err := d.store.Items.FindByID(ctx, itemID)
	if err != nil {
		d.reply(ctx, chatID, "signal not found or expired")
		return
	}

	d.reply(ctx, chatID, "Working on it…")

	result, err := d.llm.DeepDive(ctx, item.RawText, prompt)
	if err != nil {
		d.logger.Error("Callback analysis failed", logger.ErrorField(err), logger.StringField("item_id", itemID))
		d.store.LogState(ctx, "callback", "deep dive failed", map[string]interface{}{"item_id": itemID, "kind": kind, "error": err.Error()})
		d.reply(ctx, chatID, "analysis failed, please try again later")
		return
	}

	d.reply(ctx, chatID, utils.TruncateAtWord(html.EscapeString(result), 4000))
}

func (d *CallbackDispatcher) reply(ctx context.Context, chatID, text string) {
	if err := d.sender.Send(ctx, chatID, text, nil); err != nil {
		d.logger.Error("Failed to send callback reply", logger.ErrorField(err), logger.StringField("chat_id", chatID))
	}
}

package collector

import (
	"encoding/json"
	"fmt"
	"strconv"

	"content-refinery/internal/dto"
)

// chatUpdate is the inbound chat platform update shape (Telegram bot
// API compatible).
type chatUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID    int64  `json:"id"`
			Title string `json:"title"`
		} `json:"chat"`
		Text     string `json:"text"`
		Caption  string `json:"caption"`
		Document *struct {
			FileID   string `json:"file_id"`
			MimeType string `json:"mime_type"`
			FileURL  string `json:"file_url"`
		} `json:"document"`
		Voice *struct {
			FileID   string `json:"file_id"`
			MimeType string `json:"mime_type"`
			FileURL  string `json:"file_url"`
		} `json:"voice"`
	} `json:"message"`
	CallbackQuery *struct {
		Data    string `json:"data"`
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

// NormalizeChatUpdate converts a chat platform update into an
// IngestRecord. The bool is false when the update carries nothing to
// process.
func NormalizeChatUpdate(body []byte) (dto.IngestRecord, bool, error) {
	var update chatUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return dto.IngestRecord{}, false, fmt.Errorf("failed to decode chat update: %w", err)
	}

	// Button presses arrive as callback queries with the routing
	// payload in data.
	if update.CallbackQuery != nil && update.CallbackQuery.Data != "" {
		rec := dto.IngestRecord{Text: update.CallbackQuery.Data}
		if update.CallbackQuery.Message != nil {
			rec.ChatID = strconv.FormatInt(update.CallbackQuery.Message.Chat.ID, 10)
		}
		return rec, true, nil
	}

	if update.Message == nil {
		return dto.IngestRecord{}, false, nil
	}

	msg := update.Message
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	rec := dto.IngestRecord{
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.FormatInt(msg.MessageID, 10),
		Title:     msg.Chat.Title,
		Text:      text,
	}

	if msg.Document != nil {
		rec.Media = &dto.Media{URL: msg.Document.FileURL, MimeType: msg.Document.MimeType, Kind: "document"}
	} else if msg.Voice != nil {
		rec.Media = &dto.Media{URL: msg.Voice.FileURL, MimeType: msg.Voice.MimeType, Kind: "audio"}
	}

	if rec.Text == "" && rec.Media == nil {
		return dto.IngestRecord{}, false, nil
	}
	return rec, true, nil
}

// genericWebhook is the direct ingest / generic webhook body. Both
// snake_case and the original camelCase field names are accepted.
type genericWebhook struct {
	ChatID    string     `json:"chat_id"`
	ChatIDAlt string     `json:"chatId"`
	Title     string     `json:"title"`
	Text      string     `json:"text"`
	Media     *dto.Media `json:"media"`
}

// NormalizeGeneric converts a generic webhook body.
func NormalizeGeneric(body []byte) (dto.IngestRecord, bool, error) {
	var payload genericWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return dto.IngestRecord{}, false, fmt.Errorf("failed to decode webhook body: %w", err)
	}

	chatID := payload.ChatID
	if chatID == "" {
		chatID = payload.ChatIDAlt
	}

	rec := dto.IngestRecord{
		ChatID: chatID,
		Title:  payload.Title,
		Text:   payload.Text,
		Media:  payload.Media,
	}
	if rec.Text == "" && rec.Media == nil {
		return dto.IngestRecord{}, false, nil
	}
	return rec, true, nil
}

// NormalizeDiscord converts a Discord-style webhook body.
func NormalizeDiscord(body []byte) (dto.IngestRecord, bool, error) {
	var payload struct {
		Content   string `json:"content"`
		ChannelID string `json:"channel_id"`
		Author    struct {
			Username string `json:"username"`
		} `json:"author"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return dto.IngestRecord{}, false, fmt.Errorf("failed to decode discord body: %w", err)
	}
	if payload.Content == "" {
		return dto.IngestRecord{}, false, nil
	}
	return dto.IngestRecord{
		ChatID: payload.ChannelID,
		Title:  payload.Author.Username,
		Text:   payload.Content,
	}, true, nil
}

// NormalizeSlack converts a Slack events-API body. A url_verification
// request returns the challenge to echo instead of a record.
func NormalizeSlack(body []byte) (dto.IngestRecord, bool, string, error) {
	var payload struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Event     struct {
			Type    string `json:"type"`
			Text    string `json:"text"`
			Channel string `json:"channel"`
			User    string `json:"user"`
		} `json:"event"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return dto.IngestRecord{}, false, "", fmt.Errorf("failed to decode slack body: %w", err)
	}

	if payload.Type == "url_verification" {
		return dto.IngestRecord{}, false, payload.Challenge, nil
	}

	if payload.Event.Type != "message" || payload.Event.Text == "" {
		return dto.IngestRecord{}, false, "", nil
	}
	return dto.IngestRecord{
		ChatID: payload.Event.Channel,
		Title:  payload.Event.User,
		Text:   payload.Event.Text,
	}, true, "", nil
}

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender delivers a message to an outbound chat channel.
type Sender interface {
	Send(ctx context.Context, chatID, text string, markup *tgbotapi.InlineKeyboardMarkup) error
}

// sendMessageRequest is the wire body of the platform's send endpoint.
type sendMessageRequest struct {
	ChatID      string                         `json:"chat_id"`
	Text        string                         `json:"text"`
	ParseMode   string                         `json:"parse_mode"`
	ReplyMarkup *tgbotapi.InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// client posts messages to a bot-API-compatible send endpoint.
type client struct {
	httpClient *http.Client
	endpoint   string
	token      string
}

// NewClient creates a Sender against the given endpoint (e.g.
// "https://api.telegram.org") authenticated with the bot token.
func NewClient(endpoint, token string) (Sender, error) {
	if endpoint == "" || token == "" {
		return nil, fmt.Errorf("chat endpoint and token are required")
	}
	return &client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   endpoint,
		token:      token,
	}, nil
}

// Send posts one HTML-formatted message. Any status other than 200 is returned
// as a StatusError so callers can decide whether to retry.
func (c *client) Send(ctx context.Context, chatID, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	payload := sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   tgbotapi.ModeHTML,
		ReplyMarkup: markup,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal send payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.endpoint, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var parsed sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("failed to decode send response: %w", err)
	}
	if !parsed.OK {
		return fmt.Errorf("chat platform rejected message: %s", parsed.Description)
	}
	return nil
}

// StatusError is a non-200 response from the send endpoint.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat send returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status warrants another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

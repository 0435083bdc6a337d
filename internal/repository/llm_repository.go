package repository

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"content-refinery/internal/config"
	"content-refinery/internal/dto"
	"content-refinery/pkg/logger"
	"content-refinery/pkg/ratelimit"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// LLMRepository defines the interface for the external LLM endpoint.
type LLMRepository interface {
	AnalyzeBatch(ctx context.Context, batchText, systemPrompt string) ([]dto.AnalysisEntry, error)
	DeepDive(ctx context.Context, text, systemPrompt string) (string, error)
	ExtractMediaText(ctx context.Context, mimeType string, data []byte) (string, error)
	CallCount() int64
}

// llmRepository calls a Gemini-shaped JSON-over-HTTPS endpoint.
type llmRepository struct {
	client         *http.Client
	cfg            *config.Config
	logger         *logger.Logger
	tokenLimiter   *ratelimit.TokenLimiter
	requestLimiter *rate.Limiter
	genAiClient    *genai.Client
	calls          atomic.Int64
}

// NewLLMRepository creates a new instance of llmRepository. The genai
// client is used for token counting and may be nil, in which case the
// budget is estimated from the prompt length.
func NewLLMRepository(cfg *config.Config, log *logger.Logger, genAiClient *genai.Client) (LLMRepository, error) {
	secondsPerRequest := time.Minute / time.Duration(cfg.LLM.MaxRequestPerMinute)
	requestLimiter := rate.NewLimiter(rate.Every(secondsPerRequest), 1)
	tokenLimiter := ratelimit.NewTokenLimiter(cfg.LLM.MaxTokenPerMinute)

	return &llmRepository{
		client: &http.Client{
			Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		},
		cfg:            cfg,
		logger:         log,
		tokenLimiter:   tokenLimiter,
		requestLimiter: requestLimiter,
		genAiClient:    genAiClient,
	}, nil
}

// AnalyzeBatch posts the concatenated batch under the analysis system
// prompt and parses the JSON array reply. A single-object reply is
// tolerated and wrapped.
func (r *llmRepository) AnalyzeBatch(ctx context.Context, batchText, systemPrompt string) ([]dto.AnalysisEntry, error) {
	resp, err := r.execute(ctx, dto.LLMAPIRequest{
		Contents: []dto.Content{{Role: "user", Parts: []dto.Part{{Text: batchText}}}},
		SystemInstruction: &dto.Content{
			Parts: []dto.Part{{Text: systemPrompt}},
		},
		GenerationConfig: &dto.GenerationConfig{
			Temperature:      r.cfg.LLM.Temperature,
			ResponseMimeType: "application/json",
		},
	}, batchText)
	if err != nil {
		return nil, err
	}

	raw, err := firstCandidateText(resp)
	if err != nil {
		return nil, err
	}
	return parseAnalysisEntries(raw)
}

// DeepDive posts a single item's text and returns the model's free
// text reply. Used by callback handlers.
func (r *llmRepository) DeepDive(ctx context.Context, text, systemPrompt string) (string, error) {
	resp, err := r.execute(ctx, dto.LLMAPIRequest{
		Contents: []dto.Content{{Role: "user", Parts: []dto.Part{{Text: text}}}},
		SystemInstruction: &dto.Content{
			Parts: []dto.Part{{Text: systemPrompt}},
		},
		GenerationConfig: &dto.GenerationConfig{
			Temperature: r.cfg.LLM.Temperature,
		},
	}, text)
	if err != nil {
		return "", err
	}
	return firstCandidateText(resp)
}

// ExtractMediaText runs a multimodal extraction call (OCR for images,
// transcription for audio) and returns the recovered plain text.
func (r *llmRepository) ExtractMediaText(ctx context.Context, mimeType string, data []byte) (string, error) {
	resp, err := r.execute(ctx, dto.LLMAPIRequest{
		Contents: []dto.Content{{
			Role: "user",
			Parts: []dto.Part{
				{Text: BuildMediaExtractionPrompt(mimeType)},
				{InlineData: &dto.InlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(data),
				}},
			},
		}},
	}, "")
	if err != nil {
		return "", err
	}
	return firstCandidateText(resp)
}

// CallCount reports the number of LLM HTTP calls made so far.
func (r *llmRepository) CallCount() int64 {
	return r.calls.Load()
}

func (r *llmRepository) execute(ctx context.Context, payload dto.LLMAPIRequest, promptForBudget string) (*dto.LLMAPIResponse, error) {
	if r.genAiClient != nil && promptForBudget != "" {
		contents := []*genai.Content{genai.NewContentFromText(promptForBudget, "user")}
		tokenResp, err := r.genAiClient.Models.CountTokens(ctx, r.cfg.LLM.Model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to count tokens: %w", err)
		}

		r.logger.Debug("LLM token count",
			logger.IntField("total_tokens", int(tokenResp.TotalTokens)),
			logger.IntField("remaining", r.tokenLimiter.GetRemaining()),
		)

		if err := r.tokenLimiter.Wait(ctx, int(tokenResp.TotalTokens)); err != nil {
			return nil, fmt.Errorf("failed to wait for token limit: %w", err)
		}
	} else if promptForBudget != "" {
		// Rough byte-based estimate when no counting client is wired.
		if err := r.tokenLimiter.Wait(ctx, len(promptForBudget)/4+1); err != nil {
			return nil, fmt.Errorf("failed to wait for token limit: %w", err)
		}
	}

	if err := r.requestLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for request limit: %w", err)
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	apiURL := fmt.Sprintf("%s/%s:generateContent?key=%s", r.cfg.LLM.BaseURL, r.cfg.LLM.Model, r.cfg.LLM.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create llm request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	r.calls.Add(1)
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error("Failed to send request to LLM endpoint", logger.ErrorField(err))
		return nil, fmt.Errorf("failed to send request to LLM endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		r.logger.Error("Received non-OK response from LLM endpoint", logger.IntField("status_code", resp.StatusCode))
		return nil, fmt.Errorf("received non-OK response from LLM endpoint: %d - %s", resp.StatusCode, string(body))
	}

	var parsed dto.LLMAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode llm response body: %w", err)
	}
	return &parsed, nil
}

func firstCandidateText(resp *dto.LLMAPIResponse) (string, error) {
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("invalid response from LLM endpoint: no content found")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// parseAnalysisEntries decodes the model's reply into entries,
// tolerating markdown fences and a bare object instead of an array.
func parseAnalysisEntries(raw string) ([]dto.AnalysisEntry, error) {
	jsonString := strings.TrimSpace(raw)
	jsonString = strings.Trim(jsonString, "`json\n`")
	jsonString = strings.TrimSpace(jsonString)

	var entries []dto.AnalysisEntry
	if err := json.Unmarshal([]byte(jsonString), &entries); err == nil {
		return entries, nil
	}

	var single dto.AnalysisEntry
	if err := json.Unmarshal([]byte(jsonString), &single); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis entries from LLM response: %w", err)
	}
	return []dto.AnalysisEntry{single}, nil
}

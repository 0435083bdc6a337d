package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"content-refinery/internal/config"
	"content-refinery/internal/dto"
	"content-refinery/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLLM(t *testing.T, handler http.HandlerFunc) (LLMRepository, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.Config{}
	cfg.LLM.BaseURL = server.URL
	cfg.LLM.Model = "test-model"
	cfg.LLM.APIKey = "test-key"
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxRequestPerMinute = 6000
	cfg.LLM.MaxTokenPerMinute = 10_000_000
	cfg.LLM.TimeoutSeconds = 5

	repo, err := NewLLMRepository(cfg, logger.NewNop(), nil)
	require.NoError(t, err)
	return repo, server
}

func candidateResponse(text string) []byte {
	body, _ := json.Marshal(dto.LLMAPIResponse{
		Candidates: []dto.Candidate{{Content: dto.Content{Parts: []dto.Part{{Text: text}}}}},
	})
	return body
}

func TestAnalyzeBatchParsesArray(t *testing.T) {
	repo, _ := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		var req dto.LLMAPIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotNil(t, req.SystemInstruction)
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		assert.LessOrEqual(t, req.GenerationConfig.Temperature, 0.3)

		w.Write(candidateResponse(`[{"summary":"Rate hike 25bp","relevance_score":85,"sentiment":"bearish","tickers":["SPY"],"tags":["macro"],"source_ids":["id-1"]}]`))
	})

	entries, err := repo.AnalyzeBatch(context.Background(), "[ID: id-1] text", AnalysisSystemPrompt)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Rate hike 25bp", entries[0].Summary)
	assert.Equal(t, 85, entries[0].RelevanceScore)
	assert.Equal(t, int64(1), repo.CallCount())
}

func TestAnalyzeBatchWrapsSingleObject(t *testing.T) {
	repo, _ := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(candidateResponse(`{"summary":"solo","relevance_score":50,"sentiment":"neutral"}`))
	})

	entries, err := repo.AnalyzeBatch(context.Background(), "batch", AnalysisSystemPrompt)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "solo", entries[0].Summary)
}

func TestAnalyzeBatchTrimsMarkdownFences(t *testing.T) {
	repo, _ := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(candidateResponse("```json\n[{\"summary\":\"fenced\",\"relevance_score\":42}]\n```"))
	})

	entries, err := repo.AnalyzeBatch(context.Background(), "batch", AnalysisSystemPrompt)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fenced", entries[0].Summary)
}

func TestAnalyzeBatchEmptyArray(t *testing.T) {
	repo, _ := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(candidateResponse(`[]`))
	})

	entries, err := repo.AnalyzeBatch(context.Background(), "batch", AnalysisSystemPrompt)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAnalyzeBatchSurfacesServerErrors(t *testing.T) {
	repo, _ := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	})

	_, err := repo.AnalyzeBatch(context.Background(), "batch", AnalysisSystemPrompt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestDeepDiveReturnsPlainText(t *testing.T) {
	repo, _ := newTestLLM(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(candidateResponse("a considered answer"))
	})

	out, err := repo.DeepDive(context.Background(), "text", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "a considered answer", out)
}

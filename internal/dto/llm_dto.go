package dto

// LLMAPIRequest is the request payload for the LLM endpoint.
type LLMAPIRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content represents the content of a request or response.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a part of the content. Exactly one of Text or InlineData is
// set.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// InlineData carries base64-encoded media for multimodal extraction.
type InlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

// GenerationConfig tunes the model call.
type GenerationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"response_mime_type,omitempty"`
}

// LLMAPIResponse is the response from the LLM endpoint.
type LLMAPIResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Candidate is a candidate response from the LLM endpoint.
type Candidate struct {
	Content Content `json:"content"`
}

// AnalysisEntry is one element of the JSON array the analysis prompt
// instructs the model to return.
type AnalysisEntry struct {
	Summary        string     `json:"summary"`
	Analysis       string     `json:"analysis"`
	FactCheck      string     `json:"fact_check,omitempty"`
	RelevanceScore int        `json:"relevance_score"`
	Sentiment      string     `json:"sentiment"`
	Tickers        []string   `json:"tickers"`
	Tags           []string   `json:"tags"`
	SourceIDs      []string   `json:"source_ids"`
	IsUrgent       bool       `json:"is_urgent,omitempty"`
	Triples        [][]string `json:"triples,omitempty"`
}

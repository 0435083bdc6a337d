package dto

// ProcessedAnalysis is the wrapper stored in content_items.
// processed_json: the full entry array the model returned for the
// batch the item was part of, plus debug tags.
type ProcessedAnalysis struct {
	Analysis   []AnalysisEntry `json:"analysis"`
	Batch      string          `json:"batch,omitempty"`
	AnalyzedAt int64           `json:"analyzed_at"`
}

package repository

import (
	"fmt"
	"strings"

	"content-refinery/internal/entity"
)

// BuildBatchText concatenates a batch of items into the model input,
// each tagged with its id so the reply can reference source rows.
func BuildBatchText(items []entity.ContentItem) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(fmt.Sprintf("[ID: %s] %s", item.ID, item.RawText))
	}
	return b.String()
}

// AnalysisSystemPrompt instructs the model to return the signal entry
// array the analyzer expects.
const AnalysisSystemPrompt = `You are a market intelligence analyst. You receive a batch of raw text items, each tagged with [ID: <uuid>] and separated by "---".

Identify the distinct, material signals in the batch. Ignore chatter, pleasantries and duplicated phrasing of the same event.

Return ONLY a JSON array. Each element has this exact structure:
[
  {
    "summary": "<one-sentence headline, required>",
    "analysis": "<2-4 sentences of interpretation>",
    "fact_check": "<known corroboration or caveats, may be empty>",
    "relevance_score": <integer 0-100>,
    "sentiment": "bullish | bearish | neutral",
    "tickers": ["<UPPERCASE symbols>"],
    "tags": ["<short topical tags>"],
    "source_ids": ["<the [ID: ...] uuids this entry is derived from>"],
    "is_urgent": <true if time-critical>
  }
]

Scoring guidance:
- 80-100: actionable, market-moving, well-sourced.
- 60-79: notable, worth a second channel.
- 41-59: background context.
- 0-40: noise.

Return an empty array [] when the batch contains no signal.`

// DigestSystemPrompt is the variant used for the periodic synthesis
// of leftover low-signal items.
const DigestSystemPrompt = `You are a market intelligence analyst writing a periodic digest. You receive a batch of raw text items, each tagged with [ID: <uuid>] and separated by "---". None of them qualified as a standalone signal.

Synthesize the batch into at most three digest entries capturing themes that only emerge in aggregate. Use the same JSON array schema as the signal analysis: summary, analysis, fact_check, relevance_score, sentiment, tickers, tags, source_ids, is_urgent. Tag every entry with "digest" in tags. Return [] when there is no coherent theme.`

// Callback prompt variants, keyed by the CALLBACK kind.
var callbackPrompts = map[string]string{
	"chk": `You are a fact checker. For the given text, list each checkable claim, what is known to corroborate or contradict it, and an overall reliability verdict. Reply in plain text, at most 2000 characters.`,
	"syn": `You are a market intelligence analyst. Synthesize the given text into its investment-relevant essence: what happened, who is affected, what to watch next. Reply in plain text, at most 2000 characters.`,
	"div": `You are a market intelligence analyst performing a deep dive. For the given text, cover background, mechanism, second-order effects and historical precedent. Reply in plain text, at most 3000 characters.`,
}

// CallbackPrompt returns the system prompt bound to a callback kind,
// or false when the kind is unknown.
func CallbackPrompt(kind string) (string, bool) {
	p, ok := callbackPrompts[kind]
	return p, ok
}

// BuildMediaExtractionPrompt asks the model to recover plain text
// from an attached blob.
func BuildMediaExtractionPrompt(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return "Transcribe the attached audio verbatim. Reply with the transcript only."
	default:
		return "Extract all legible text from the attached media. Reply with the extracted text only."
	}
}

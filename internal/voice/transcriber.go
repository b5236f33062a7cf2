package voice

import (
	"context"
)

// TranscriptWord is one recognized word with timing and probability.
type TranscriptWord struct {
	Word        string  `json:"word"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Probability float64 `json:"probability"`
}

// TranscriptSpan is a word-grouped span emitted by the transcriber, in
// ascending start order.
type TranscriptSpan struct {
	Text  string           `json:"text"`
	Start float64          `json:"start"`
	End   float64          `json:"end"`
	Words []TranscriptWord `json:"words"`
}

// Transcriber abstracts word-aligned transcription backends.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]TranscriptSpan, error)
}

// meanWordProbability is the per-span confidence: the mean probability of
// the span's words, zero when the backend reports no word detail.
func meanWordProbability(words []TranscriptWord) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Probability
	}
	return sum / float64(len(words))
}

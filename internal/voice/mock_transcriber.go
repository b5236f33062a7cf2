package voice

import (
	"context"
	"fmt"

	"github.com/timbrelabs/timbre/internal/audio"
)

type mockTranscriber struct{}

// NewMockTranscriber fabricates word-aligned spans without a model: the clip
// is chopped into fixed windows with synthetic text. Useful for development
// and wiring tests.
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, audioPath string) ([]TranscriptSpan, error) {
	clip, err := audio.LoadClip(audioPath)
	if err != nil {
		return nil, err
	}

	const window = 8.0
	dur := clip.Seconds()
	var spans []TranscriptSpan
	for start := 0.0; start < dur; start += window {
		end := start + window
		if end > dur {
			end = dur
		}
		spans = append(spans, TranscriptSpan{
			Text:  fmt.Sprintf("mock transcript span %d", len(spans)),
			Start: start,
			End:   end,
			Words: []TranscriptWord{
				{Word: "mock", Start: start, End: end, Probability: 1.0},
			},
		})
	}
	return spans, nil
}

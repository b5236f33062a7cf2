package voice

import (
	"context"
)

// Extractor produces a single speaker embedding summarizing voice identity
// across all segments of a corpus.
type Extractor interface {
	Extract(ctx context.Context, corpus *Corpus) ([]float32, error)
}

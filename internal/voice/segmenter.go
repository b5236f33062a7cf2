package voice

import (
	"context"

	"github.com/timbrelabs/timbre/internal/audio"
)

// Segmenter cuts a reference clip into speech segments written under a
// working directory. Implementations return ErrNoSpeech (possibly wrapped)
// when nothing usable survives.
type Segmenter interface {
	Segment(ctx context.Context, clip *audio.Clip, workDir string) (*Corpus, error)
}

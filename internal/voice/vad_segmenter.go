package voice

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/timbrelabs/timbre/internal/audio"
	"github.com/timbrelabs/timbre/internal/config"
	"github.com/timbrelabs/timbre/internal/vad"
)

type vadSegmenter struct {
	detector vad.Detector
	target   float64
	minTotal float64
	log      *slog.Logger
}

// NewVADSegmenter builds the voice-activity strategy: detected speech is
// concatenated into one silence-free track and split into roughly equal
// pieces near the target length.
func NewVADSegmenter(cfg config.VoiceConfig, detector vad.Detector, log *slog.Logger) Segmenter {
	target := cfg.TargetSegmentSeconds
	if target <= 0 {
		target = 10
	}
	minTotal := float64(cfg.MinTotalSpeechMS) / 1000.0
	if minTotal <= 0 {
		minTotal = 1
	}
	return &vadSegmenter{
		detector: detector,
		target:   target,
		minTotal: minTotal,
		log:      log.With(slog.String("component", "vad-segmenter")),
	}
}

func (s *vadSegmenter) Segment(ctx context.Context, clip *audio.Clip, workDir string) (*Corpus, error) {
	spans, err := s.detector.Detect(clip)
	if err != nil {
		return nil, &ModelError{Backend: "vad", Err: err}
	}
	total := vad.TotalSpeech(spans)
	if len(spans) == 0 || total < s.minTotal {
		return nil, fmt.Errorf("%w: %.2fs of detected speech", ErrNoSpeech, total)
	}

	// Concatenate the speech-only samples into one continuous track.
	speech := make([]float64, 0, int(total*float64(clip.SampleRate))+1)
	for _, span := range spans {
		speech = append(speech, clip.Slice(span.Start, span.End)...)
	}

	rate := clip.SampleRate
	num := int(math.Round(float64(len(speech)) / (s.target * float64(rate))))
	if num < 1 {
		num = 1
	}
	per := len(speech) / num

	s.log.Debug("splitting concatenated speech",
		slog.Float64("total_seconds", total),
		slog.Int("segments", num))

	base := clipBase(clip.Path)
	segments := make([]Segment, 0, num)
	for i := 0; i < num; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lo := i * per
		hi := lo + per
		if i == num-1 {
			// The last piece absorbs the division remainder.
			hi = len(speech)
		}
		path, err := writeSegmentWAV(workDir, base, i, speech[lo:hi], rate)
		if err != nil {
			return nil, err
		}
		segments = append(segments, Segment{
			Index: i,
			Path:  path,
			Start: float64(lo) / float64(rate),
			End:   float64(hi) / float64(rate),
		})
	}
	return &Corpus{WorkDir: workDir, Segments: segments}, nil
}

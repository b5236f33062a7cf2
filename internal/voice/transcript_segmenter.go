package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/timbrelabs/timbre/internal/audio"
	"github.com/timbrelabs/timbre/internal/config"
)

// interSegmentGuard is the lookback applied to a span's start and the pad
// applied to its end so word onsets and trailing consonants survive the cut.
const interSegmentGuard = 0.08

type transcriptSegmenter struct {
	transcriber Transcriber
	minDur      float64
	maxDur      float64
	minConf     float64
	log         *slog.Logger
}

// NewTranscriptSegmenter builds the transcription-alignment strategy: the
// clip is transcribed and each word-grouped span becomes a candidate
// segment, filtered by duration and text length.
func NewTranscriptSegmenter(cfg config.VoiceConfig, transcriber Transcriber, log *slog.Logger) Segmenter {
	minDur := cfg.MinSegmentSeconds
	if minDur <= 0 {
		minDur = 1.5
	}
	maxDur := cfg.MaxSegmentSeconds
	if maxDur <= 0 {
		maxDur = 20
	}
	return &transcriptSegmenter{
		transcriber: transcriber,
		minDur:      minDur,
		maxDur:      maxDur,
		minConf:     cfg.MinConfidence,
		log:         log.With(slog.String("component", "transcript-segmenter")),
	}
}

func (s *transcriptSegmenter) Segment(ctx context.Context, clip *audio.Clip, workDir string) (*Corpus, error) {
	spans, err := s.transcriber.Transcribe(ctx, clip.Path)
	if err != nil {
		return nil, &ModelError{Backend: "transcriber", Err: err}
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("%w: transcriber returned no spans", ErrNoSpeech)
	}

	clipDur := clip.Seconds()
	base := clipBase(clip.Path)
	var segments []Segment
	for i, span := range spans {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Anchor each span's start at the previous raw end minus the
		// guard so onsets are not clipped; pad the end by the guard so
		// trailing consonants are not truncated.
		start := span.Start
		if i > 0 {
			start = spans[i-1].End - interSegmentGuard
		}
		if start < 0 {
			start = 0
		}
		end := span.End + interSegmentGuard
		if end > clipDur {
			end = clipDur
		}

		text := strings.ReplaceAll(span.Text, "...", "")
		conf := meanWordProbability(span.Words)

		dur := end - start
		if dur <= s.minDur || dur >= s.maxDur {
			continue
		}
		if n := utf8.RuneCountInString(text); n < 2 || n >= 200 {
			continue
		}
		if s.minConf > 0 && conf < s.minConf {
			continue
		}

		path, err := writeSegmentWAV(workDir, base, i, clip.Slice(start, end), clip.SampleRate)
		if err != nil {
			return nil, err
		}
		segments = append(segments, Segment{
			Index:      i,
			Path:       path,
			Start:      start,
			End:        end,
			Text:       text,
			Confidence: conf,
		})
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no transcribed spans survived filtering", ErrNoSpeech)
	}
	return &Corpus{WorkDir: workDir, Segments: segments}, nil
}

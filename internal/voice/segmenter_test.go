package voice

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/timbrelabs/timbre/internal/audio"
	"github.com/timbrelabs/timbre/internal/config"
	"github.com/timbrelabs/timbre/internal/vad"
)

func vadTestConfig() config.VoiceConfig {
	return config.VoiceConfig{
		TargetSegmentSeconds: 10,
		MinTotalSpeechMS:     1000,
		VAD: config.VADConfig{
			EnergyThreshold: 0.01,
			WindowSamples:   512,
			MinSpeechMS:     100,
			MinSilenceMS:    1000,
		},
	}
}

func newVADSegmenterForTest() Segmenter {
	cfg := vadTestConfig()
	return NewVADSegmenter(cfg, vad.NewEnergyDetector(cfg.VAD), newTestLogger())
}

func toneClip(seconds float64) *audio.Clip {
	return &audio.Clip{Path: "ref.wav", SampleRate: testRate, Samples: toneSamples(seconds, 220)}
}

func TestVADSegmenterSplitsNearTarget(t *testing.T) {
	// 18 seconds of continuous speech, 10s target: round(1.8) = 2 pieces
	// of 9 seconds each.
	corpus, err := newVADSegmenterForTest().Segment(context.Background(), toneClip(18), t.TempDir())
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(corpus.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(corpus.Segments))
	}
	for i, seg := range corpus.Segments {
		if math.Abs(seg.Duration()-9.0) > 0.05 {
			t.Errorf("segment %d: expected ~9s, got %f", i, seg.Duration())
		}
		if _, err := os.Stat(seg.Path); err != nil {
			t.Errorf("segment %d file missing: %v", i, err)
		}
	}
	if corpus.Segments[0].End != corpus.Segments[1].Start {
		t.Errorf("segments must tile the speech track: %f vs %f",
			corpus.Segments[0].End, corpus.Segments[1].Start)
	}
	if !strings.HasSuffix(corpus.Segments[0].Path, filepath.Join("wavs", "ref_seg0.wav")) {
		t.Errorf("unexpected segment path %q", corpus.Segments[0].Path)
	}
}

func TestVADSegmenterLastPieceAbsorbsRemainder(t *testing.T) {
	// 25 seconds at a 10s target: round(2.5) = 3 pieces, total coverage
	// exact.
	corpus, err := newVADSegmenterForTest().Segment(context.Background(), toneClip(25), t.TempDir())
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(corpus.Segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(corpus.Segments))
	}
	var covered float64
	for i, seg := range corpus.Segments {
		covered += seg.Duration()
		if i > 0 && corpus.Segments[i-1].End != seg.Start {
			t.Errorf("gap between segment %d and %d", i-1, i)
		}
	}
	if math.Abs(covered-25.0) > 0.01 {
		t.Fatalf("expected exact coverage of 25s, got %f", covered)
	}
}

func TestVADSegmenterDropsSilence(t *testing.T) {
	// 3s tone, 2s silence, 3s tone: the silence is cut out and the
	// remaining ~6s of speech becomes one segment.
	samples := toneSamples(3, 220)
	samples = append(samples, make([]float64, 2*testRate)...)
	samples = append(samples, toneSamples(3, 220)...)
	clip := &audio.Clip{Path: "gapped.wav", SampleRate: testRate, Samples: samples}

	corpus, err := newVADSegmenterForTest().Segment(context.Background(), clip, t.TempDir())
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(corpus.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(corpus.Segments))
	}
	if d := corpus.Segments[0].Duration(); math.Abs(d-6.0) > 0.1 {
		t.Fatalf("expected ~6s of silence-free speech, got %f", d)
	}
}

func TestVADSegmenterRejectsSilence(t *testing.T) {
	clip := &audio.Clip{Path: "silent.wav", SampleRate: testRate, Samples: make([]float64, 5*testRate)}
	_, err := newVADSegmenterForTest().Segment(context.Background(), clip, t.TempDir())
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestVADSegmenterRejectsTinySpeech(t *testing.T) {
	_, err := newVADSegmenterForTest().Segment(context.Background(), toneClip(0.5), t.TempDir())
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech for sub-second speech, got %v", err)
	}
}

type failingDetector struct{ err error }

func (d *failingDetector) Detect(*audio.Clip) ([]vad.Span, error) { return nil, d.err }

func TestVADSegmenterWrapsDetectorFailure(t *testing.T) {
	seg := NewVADSegmenter(vadTestConfig(), &failingDetector{err: errors.New("detector broke")}, newTestLogger())
	_, err := seg.Segment(context.Background(), toneClip(5), t.TempDir())
	var modelErr *ModelError
	if !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError, got %v", err)
	}
}

type fakeTranscriber struct {
	spans []TranscriptSpan
	err   error
}

func (f *fakeTranscriber) Transcribe(context.Context, string) ([]TranscriptSpan, error) {
	return f.spans, f.err
}

func newTranscriptSegmenterForTest(tr Transcriber, minConf float64) Segmenter {
	cfg := config.VoiceConfig{
		MinSegmentSeconds: 1.5,
		MaxSegmentSeconds: 20,
		MinConfidence:     minConf,
	}
	return NewTranscriptSegmenter(cfg, tr, newTestLogger())
}

func TestTranscriptSegmenterTrimsAndKeeps(t *testing.T) {
	tr := &fakeTranscriber{spans: []TranscriptSpan{
		{Text: " hello there", Start: 2.0, End: 8.0, Words: []TranscriptWord{
			{Word: "hello", Probability: 0.9},
			{Word: "there", Probability: 0.8},
		}},
		{Text: " and another good span", Start: 8.0, End: 14.0, Words: []TranscriptWord{
			{Word: "and", Probability: 0.6},
		}},
	}}

	corpus, err := newTranscriptSegmenterForTest(tr, 0).Segment(context.Background(), toneClip(30), t.TempDir())
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(corpus.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(corpus.Segments))
	}

	first, second := corpus.Segments[0], corpus.Segments[1]
	if math.Abs(first.Start-2.0) > 1e-9 || math.Abs(first.End-8.08) > 1e-9 {
		t.Errorf("first span trim wrong: [%f, %f)", first.Start, first.End)
	}
	// Later spans anchor at the previous raw end minus the guard.
	if math.Abs(second.Start-7.92) > 1e-9 || math.Abs(second.End-14.08) > 1e-9 {
		t.Errorf("second span trim wrong: [%f, %f)", second.Start, second.End)
	}
	if math.Abs(first.Confidence-0.85) > 1e-9 {
		t.Errorf("expected mean word probability 0.85, got %f", first.Confidence)
	}
	if first.Text != " hello there" {
		t.Errorf("unexpected text %q", first.Text)
	}
	if first.Start >= second.Start {
		t.Error("segments must stay in ascending start order")
	}
	for _, seg := range corpus.Segments {
		if _, err := os.Stat(seg.Path); err != nil {
			t.Errorf("segment file missing: %v", err)
		}
	}
}

func TestTranscriptSegmenterFilters(t *testing.T) {
	cases := []struct {
		name string
		span TranscriptSpan
	}{
		{"duration too short", TranscriptSpan{Text: " fine words here", Start: 1.0, End: 2.2}},
		{"duration too long", TranscriptSpan{Text: " lots of talking", Start: 1.0, End: 26.0}},
		{"text too short after ellipsis strip", TranscriptSpan{Text: "x...", Start: 2.0, End: 8.0}},
		{"text too long", TranscriptSpan{Text: strings.Repeat("y", 200), Start: 2.0, End: 8.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &fakeTranscriber{spans: []TranscriptSpan{tc.span}}
			_, err := newTranscriptSegmenterForTest(tr, 0).Segment(context.Background(), toneClip(30), t.TempDir())
			if !errors.Is(err, ErrNoSpeech) {
				t.Fatalf("expected ErrNoSpeech, got %v", err)
			}
		})
	}
}

func TestTranscriptSegmenterConfidenceGate(t *testing.T) {
	span := TranscriptSpan{Text: " solid words", Start: 2.0, End: 9.0, Words: []TranscriptWord{
		{Word: "solid", Probability: 0.5},
	}}
	tr := &fakeTranscriber{spans: []TranscriptSpan{span}}

	if _, err := newTranscriptSegmenterForTest(tr, 0.9).Segment(context.Background(), toneClip(30), t.TempDir()); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected low-confidence span to be dropped, got %v", err)
	}

	span.Words[0].Probability = 0.95
	corpus, err := newTranscriptSegmenterForTest(tr, 0.9).Segment(context.Background(), toneClip(30), t.TempDir())
	if err != nil {
		t.Fatalf("expected confident span to survive: %v", err)
	}
	if len(corpus.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(corpus.Segments))
	}
}

func TestTranscriptSegmenterKeepsRawIndices(t *testing.T) {
	tr := &fakeTranscriber{spans: []TranscriptSpan{
		{Text: " blip", Start: 1.0, End: 1.5},
		{Text: " the span that survives", Start: 5.0, End: 12.0},
	}}
	corpus, err := newTranscriptSegmenterForTest(tr, 0).Segment(context.Background(), toneClip(30), t.TempDir())
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(corpus.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(corpus.Segments))
	}
	seg := corpus.Segments[0]
	if seg.Index != 1 {
		t.Fatalf("expected raw span ordinal 1, got %d", seg.Index)
	}
	if !strings.HasSuffix(seg.Path, "ref_seg1.wav") {
		t.Fatalf("expected file named by raw ordinal, got %q", seg.Path)
	}
}

func TestTranscriptSegmenterClampsToClipEnd(t *testing.T) {
	tr := &fakeTranscriber{spans: []TranscriptSpan{
		{Text: " ending near the edge", Start: 2.0, End: 9.97},
	}}
	corpus, err := newTranscriptSegmenterForTest(tr, 0).Segment(context.Background(), toneClip(10), t.TempDir())
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if got := corpus.Segments[0].End; got != 10.0 {
		t.Fatalf("expected end clamped to clip length, got %f", got)
	}
}

func TestTranscriptSegmenterEmptyTranscript(t *testing.T) {
	tr := &fakeTranscriber{}
	_, err := newTranscriptSegmenterForTest(tr, 0).Segment(context.Background(), toneClip(10), t.TempDir())
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("expected ErrNoSpeech, got %v", err)
	}
}

func TestTranscriptSegmenterWrapsBackendFailure(t *testing.T) {
	tr := &fakeTranscriber{err: errors.New("whisper fell over")}
	_, err := newTranscriptSegmenterForTest(tr, 0).Segment(context.Background(), toneClip(10), t.TempDir())
	var modelErr *ModelError
	if !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError, got %v", err)
	}
}

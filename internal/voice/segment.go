package voice

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/timbrelabs/timbre/internal/audio"
)

// Segment is one speech excerpt cut from a reference clip. Start and End are
// seconds in the segmenter's output timeline: the source clip for
// transcription alignment, the concatenated speech track for VAD. Index is
// the ordinal of the span in the segmenter's raw output, so surviving
// segments may skip indices that were filtered out.
type Segment struct {
	Index      int
	Path       string
	Start      float64
	End        float64
	Text       string
	Confidence float64
}

// Duration reports the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Corpus is the set of segments surviving filtering for one clip.
type Corpus struct {
	WorkDir  string
	Segments []Segment
}

// Paths lists the segment audio files in index order.
func (c *Corpus) Paths() []string {
	paths := make([]string, len(c.Segments))
	for i, seg := range c.Segments {
		paths[i] = seg.Path
	}
	return paths
}

// writeSegmentWAV writes one segment's samples under workDir/wavs and
// returns the file path.
func writeSegmentWAV(workDir, base string, index int, samples []float64, rate int) (string, error) {
	wavDir := filepath.Join(workDir, "wavs")
	if err := os.MkdirAll(wavDir, 0o755); err != nil {
		return "", &CacheIOError{Op: "mkdir", Path: wavDir, Err: err}
	}
	path := filepath.Join(wavDir, fmt.Sprintf("%s_seg%d.wav", base, index))
	if err := audio.WriteWAV(path, samples, rate); err != nil {
		return "", &CacheIOError{Op: "write", Path: path, Err: err}
	}
	return path, nil
}

package voice

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/timbrelabs/timbre/internal/audio"
)

// Hasher computes content identities for reference clips. The digest covers
// the decoded samples resampled to a fixed analysis rate and quantized to
// 16-bit PCM, so the same recording hashes identically regardless of
// container format, file name, or source sample rate.
type Hasher struct {
	analysisRate int
}

// NewHasher returns a hasher pinned to the given analysis sample rate.
func NewHasher(analysisRate int) *Hasher {
	if analysisRate <= 0 {
		analysisRate = 16000
	}
	return &Hasher{analysisRate: analysisRate}
}

// Identity returns the 16-character identity of a clip: the leading base64
// characters of a SHA-256 digest with '/' substituted so the result is safe
// as a path component.
func (h *Hasher) Identity(clip *audio.Clip) (string, error) {
	if clip == nil {
		return "", &DecodeError{Err: errors.New("nil clip")}
	}
	if len(clip.Samples) == 0 {
		return "", &DecodeError{Path: clip.Path, Err: errors.New("clip has no samples")}
	}
	samples, err := audio.Resample(clip.Samples, clip.SampleRate, h.analysisRate)
	if err != nil {
		return "", &DecodeError{Path: clip.Path, Err: err}
	}
	sum := sha256.Sum256(audio.Int16Bytes(samples))
	encoded := base64.StdEncoding.EncodeToString(sum[:])
	return strings.ReplaceAll(encoded[:16], "/", "_"), nil
}

// WorkName labels the working set for a clip: base file name, model version,
// and identity joined with underscores.
func WorkName(path, modelVersion, identity string) string {
	return fmt.Sprintf("%s_%s_%s", clipBase(path), modelVersion, identity)
}

func clipBase(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

package voice

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"

	"github.com/timbrelabs/timbre/internal/config"
)

type mockExtractor struct {
	dim int
}

// NewMockExtractor derives a deterministic pseudo-embedding from the segment
// file contents, so development runs behave like the real model: the same
// corpus always yields the same vector.
func NewMockExtractor(cfg config.ExtractorConfig) Extractor {
	dim := cfg.Dim
	if dim <= 0 {
		dim = 256
	}
	return &mockExtractor{dim: dim}
}

func (m *mockExtractor) Extract(_ context.Context, corpus *Corpus) ([]float32, error) {
	h := sha256.New()
	for _, p := range corpus.Paths() {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read segment: %w", err)
		}
		h.Write(data)
	}
	seed := h.Sum(nil)

	vec := make([]float32, m.dim)
	block := seed
	for i := range vec {
		j := i % len(block)
		if j == 0 && i > 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		vec[i] = float32(int8(block[j])) / 128.0
	}
	return vec, nil
}

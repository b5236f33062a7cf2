package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/timbrelabs/timbre/internal/config"
)

type httpExtractor struct {
	endpoint string
	version  string
}

type httpExtractRequest struct {
	ModelVersion string   `json:"model_version"`
	Segments     []string `json:"segments"`
}

type httpExtractResponse struct {
	Embedding []float32 `json:"embedding"`
	Version   string    `json:"version,omitempty"`
}

// NewHTTPExtractor posts the corpus to an embedding sidecar and reads the
// vector back. The sidecar shares a filesystem with this process, so the
// request carries segment paths rather than audio payloads.
func NewHTTPExtractor(cfg config.ExtractorConfig, modelVersion string) Extractor {
	return &httpExtractor{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		version:  modelVersion,
	}
}

func (e *httpExtractor) Extract(ctx context.Context, corpus *Corpus) ([]float32, error) {
	payload := httpExtractRequest{
		ModelVersion: e.version,
		Segments:     corpus.Paths(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("extractor returned status %s", resp.Status)
	}

	var out httpExtractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode extractor response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("extractor returned an empty embedding")
	}
	if out.Version != "" && out.Version != e.version {
		return nil, fmt.Errorf("extractor reported model version %q, want %q", out.Version, e.version)
	}
	return out.Embedding, nil
}

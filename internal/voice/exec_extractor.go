package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/timbrelabs/timbre/internal/config"
)

type execExtractor struct {
	cmd     []string
	cfg     config.ExtractorConfig
	version string
	mu      sync.Mutex
}

type execEmbedding struct {
	Embedding []float32 `json:"embedding"`
	Version   string    `json:"version,omitempty"`
}

// NewExecExtractor shells out to an external embedding command. The command
// receives one --segment flag per corpus file and must print a JSON document
// with the embedding vector on stdout.
func NewExecExtractor(cfg config.ExtractorConfig, modelVersion string) (Extractor, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse extractor command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("extractor command is empty")
	}
	return &execExtractor{cmd: args, cfg: cfg, version: modelVersion}, nil
}

func (e *execExtractor) Extract(ctx context.Context, corpus *Corpus) ([]float32, error) {
	// One model process at a time; extraction holds the whole model in
	// memory.
	e.mu.Lock()
	defer e.mu.Unlock()

	args := append([]string{}, e.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	for _, p := range corpus.Paths() {
		cmdArgs = append(cmdArgs, "--segment", p)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("extractor command failed: %w: %s", err, stderr.String())
	}

	var resp execEmbedding
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode extractor response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("extractor returned an empty embedding")
	}
	if resp.Version != "" && resp.Version != e.version {
		return nil, fmt.Errorf("extractor reported model version %q, want %q", resp.Version, e.version)
	}
	return resp.Embedding, nil
}

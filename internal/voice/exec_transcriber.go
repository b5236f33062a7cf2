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

type execTranscriber struct {
	cmd []string
	cfg config.TranscriberConfig
	mu  sync.Mutex
}

type execTranscript struct {
	Segments []TranscriptSpan `json:"segments"`
}

// NewExecTranscriber shells out to an external transcription command. The
// command receives --audio, --model, and --language flags and must print a
// JSON document with word-aligned segments on stdout.
func NewExecTranscriber(cfg config.TranscriberConfig) (Transcriber, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse transcriber command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcriber command is empty")
	}
	return &execTranscriber{cmd: args, cfg: cfg}, nil
}

func (t *execTranscriber) Transcribe(ctx context.Context, audioPath string) ([]TranscriptSpan, error) {
	// One model process at a time; transcription holds the whole model in
	// memory.
	t.mu.Lock()
	defer t.mu.Unlock()

	args := append([]string{}, t.cmd...)
	base := args[0]
	cmdArgs := args[1:]
	cmdArgs = append(cmdArgs, "--audio", audioPath)
	if t.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", t.cfg.ModelPath)
	}
	if t.cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", t.cfg.Language)
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("transcriber command failed: %w: %s", err, stderr.String())
	}

	var resp execTranscript
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode transcriber response: %w", err)
	}
	return resp.Segments, nil
}

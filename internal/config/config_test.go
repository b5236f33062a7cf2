package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Voice.Strategy != "vad" {
		t.Fatalf("expected default strategy vad, got %q", cfg.Voice.Strategy)
	}
	if cfg.Voice.TargetSegmentSeconds != 10 {
		t.Fatalf("expected default target segment 10s, got %v", cfg.Voice.TargetSegmentSeconds)
	}
	if len(cfg.Voice.Personas) != 3 {
		t.Fatalf("expected 3 default personas, got %d", len(cfg.Voice.Personas))
	}
	if cfg.Voice.DefaultPersona != "Caspar" {
		t.Fatalf("expected default persona Caspar, got %q", cfg.Voice.DefaultPersona)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TIMBRE_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("TIMBRE_BUS_USERNAME", "alice")
	t.Setenv("TIMBRE_BUS_PASSWORD", "secret")
	t.Setenv("TIMBRE_BUS_TLS_INSECURE", "true")
	t.Setenv("TIMBRE_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("TIMBRE_TELEMETRY_TRACE_SAMPLE_RATIO", "0.25")
	t.Setenv("TIMBRE_VOICE_STRATEGY", "transcript")
	t.Setenv("TIMBRE_VOICE_MODEL_VERSION", "v3")
	t.Setenv("TIMBRE_VOICE_TARGET_SEGMENT_SECONDS", "12.5")
	t.Setenv("TIMBRE_VOICE_MAX_INFLIGHT", "4")
	t.Setenv("TIMBRE_VOICE_EXTRACTOR_DIM", "512")
	t.Setenv("TIMBRE_JOURNAL_PATH", "./tmp.db")
	t.Setenv("TIMBRE_JOURNAL_MODE", "ephemeral")
	t.Setenv("TIMBRE_JOURNAL_RETENTION_DAYS", "7")
	t.Setenv("TIMBRE_JOURNAL_MAX_REQUESTS", "123")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Telemetry.SampleRatio != 0.25 {
		t.Fatalf("expected sample ratio override, got %v", cfg.Telemetry.SampleRatio)
	}
	if cfg.Voice.Strategy != "transcript" {
		t.Fatalf("expected strategy override, got %q", cfg.Voice.Strategy)
	}
	if cfg.Voice.ModelVersion != "v3" {
		t.Fatalf("expected model version override, got %q", cfg.Voice.ModelVersion)
	}
	if cfg.Voice.TargetSegmentSeconds != 12.5 {
		t.Fatalf("expected target segment override, got %v", cfg.Voice.TargetSegmentSeconds)
	}
	if cfg.Voice.MaxInflight != 4 {
		t.Fatalf("expected max inflight override, got %d", cfg.Voice.MaxInflight)
	}
	if cfg.Voice.Extractor.Dim != 512 {
		t.Fatalf("expected extractor dim override, got %d", cfg.Voice.Extractor.Dim)
	}
	if cfg.Journal.Path != "./tmp.db" {
		t.Fatalf("expected journal path override")
	}
	if cfg.Journal.Mode != "ephemeral" {
		t.Fatalf("expected journal mode override")
	}
	if cfg.Journal.RetentionDays != 7 {
		t.Fatalf("expected journal retention days override")
	}
	if cfg.Journal.MaxRequests != 123 {
		t.Fatalf("expected journal max requests override")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "timbre.yaml")
	body := []byte(`
voice:
  strategy: transcript
  transcriber:
    mode: exec
    command: whisper-cli --json
  extractor:
    mode: http
    endpoint: http://localhost:9100
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Voice.Strategy != "transcript" {
		t.Fatalf("expected strategy from file, got %q", cfg.Voice.Strategy)
	}
	if cfg.Voice.Transcriber.Command != "whisper-cli --json" {
		t.Fatalf("expected transcriber command from file, got %q", cfg.Voice.Transcriber.Command)
	}
	if cfg.Voice.Extractor.Endpoint != "http://localhost:9100" {
		t.Fatalf("expected extractor endpoint from file, got %q", cfg.Voice.Extractor.Endpoint)
	}
	// untouched sections keep defaults
	if cfg.Voice.CacheRoot != "./data/voices" {
		t.Fatalf("expected default cache root, got %q", cfg.Voice.CacheRoot)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad strategy", func(c *Config) { c.Voice.Strategy = "hybrid" }},
		{"empty cache root", func(c *Config) { c.Voice.CacheRoot = "" }},
		{"empty model version", func(c *Config) { c.Voice.ModelVersion = "" }},
		{"zero target", func(c *Config) { c.Voice.TargetSegmentSeconds = 0 }},
		{"max below min", func(c *Config) { c.Voice.MaxSegmentSeconds = 1 }},
		{"bad confidence", func(c *Config) { c.Voice.MinConfidence = 1.5 }},
		{"zero inflight", func(c *Config) { c.Voice.MaxInflight = 0 }},
		{"exec extractor without command", func(c *Config) {
			c.Voice.Extractor.Mode = "exec"
			c.Voice.Extractor.Command = ""
		}},
		{"http extractor without endpoint", func(c *Config) {
			c.Voice.Extractor.Mode = "http"
			c.Voice.Extractor.Endpoint = ""
		}},
		{"exec transcriber without command", func(c *Config) {
			c.Voice.Strategy = "transcript"
			c.Voice.Transcriber.Mode = "exec"
			c.Voice.Transcriber.Command = ""
		}},
		{"duplicate persona", func(c *Config) {
			c.Voice.Personas = append(c.Voice.Personas, PersonaConfig{Name: "Caspar", Reference: "x.wav"})
		}},
		{"unknown default persona", func(c *Config) { c.Voice.DefaultPersona = "Oracle" }},
		{"bad journal mode", func(c *Config) { c.Journal.Mode = "archive" }},
		{"sample ratio above one", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }},
	}

	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string  `yaml:"log_level"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	OTLPInsecure   bool    `yaml:"otlp_insecure"`
	SampleRatio    float64 `yaml:"trace_sample_ratio"`
	PrometheusBind string  `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Journal     JournalConfig   `yaml:"journal"`
	Voice       VoiceConfig     `yaml:"voice"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	Mode          string `yaml:"mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// VoiceConfig drives the reference-voice pipeline: hashing, segmentation,
// embedding extraction, and the on-disk embedding cache.
type VoiceConfig struct {
	CacheRoot            string            `yaml:"cache_root"`
	ModelVersion         string            `yaml:"model_version"`
	Strategy             string            `yaml:"strategy"` // vad, transcript
	AnalysisSampleRate   int               `yaml:"analysis_sample_rate"`
	TargetSegmentSeconds float64           `yaml:"target_segment_seconds"`
	MinSegmentSeconds    float64           `yaml:"min_segment_seconds"`
	MaxSegmentSeconds    float64           `yaml:"max_segment_seconds"`
	MinConfidence        float64           `yaml:"min_confidence"`
	MinTotalSpeechMS     int               `yaml:"min_total_speech_ms"`
	MaxInflight          int               `yaml:"max_inflight"`
	WarmEmbeddings       bool              `yaml:"warm_embeddings"`
	RetentionDays        int               `yaml:"retention_days"`
	JanitorIntervalMS    int               `yaml:"janitor_interval_ms"`
	DefaultPersona       string            `yaml:"default_persona"`
	VAD                  VADConfig         `yaml:"vad"`
	Transcriber          TranscriberConfig `yaml:"transcriber"`
	Extractor            ExtractorConfig   `yaml:"extractor"`
	Personas             []PersonaConfig   `yaml:"personas"`
}

type VADConfig struct {
	EnergyThreshold float64 `yaml:"energy_threshold"`
	WindowSamples   int     `yaml:"window_samples"`
	MinSpeechMS     int     `yaml:"min_speech_ms"`
	MinSilenceMS    int     `yaml:"min_silence_ms"`
}

type TranscriberConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
}

type ExtractorConfig struct {
	Mode     string `yaml:"mode"` // mock, exec, http
	Command  string `yaml:"command"`
	Endpoint string `yaml:"endpoint"`
	Dim      int    `yaml:"dim"`
}

type PersonaConfig struct {
	Name        string `yaml:"name"`
	Reference   string `yaml:"reference"`
	Description string `yaml:"description"`
}

func Default() Config {
	return Config{
		RuntimeName: "timbre-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			SampleRatio:    1,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Journal: JournalConfig{
			Path:          "./data/timbre-journal.db",
			Mode:          "persistent",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
		Voice: VoiceConfig{
			CacheRoot:            "./data/voices",
			ModelVersion:         "v2",
			Strategy:             "vad",
			AnalysisSampleRate:   16000,
			TargetSegmentSeconds: 10,
			MinSegmentSeconds:    1.5,
			MaxSegmentSeconds:    20,
			MinConfidence:        0,
			MinTotalSpeechMS:     1000,
			MaxInflight:          2,
			RetentionDays:        30,
			JanitorIntervalMS:    3600000,
			DefaultPersona:       "Caspar",
			VAD: VADConfig{
				EnergyThreshold: 0.01,
				WindowSamples:   512,
				MinSpeechMS:     100,
				MinSilenceMS:    1000,
			},
			Transcriber: TranscriberConfig{
				Mode: "mock",
			},
			Extractor: ExtractorConfig{
				Mode: "mock",
				Dim:  256,
			},
			Personas: []PersonaConfig{
				{Name: "Balthazar", Reference: "./voices/balthazar.wav", Description: "Male voice - wise and authoritative"},
				{Name: "Melchior", Reference: "./voices/melchior.wav", Description: "Female voice - warm and nurturing"},
				{Name: "Caspar", Reference: "./voices/caspar.wav", Description: "Unisex voice - balanced and neutral"},
			},
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "TIMBRE_RUNTIME_NAME")
	overrideString(&cfg.Environment, "TIMBRE_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "TIMBRE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "TIMBRE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "TIMBRE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "TIMBRE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "TIMBRE_TELEMETRY_OTLP_INSECURE")
	overrideFloat(&cfg.Telemetry.SampleRatio, "TIMBRE_TELEMETRY_TRACE_SAMPLE_RATIO")
	overrideString(&cfg.Telemetry.PrometheusBind, "TIMBRE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "TIMBRE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "TIMBRE_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "TIMBRE_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "TIMBRE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "TIMBRE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "TIMBRE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "TIMBRE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "TIMBRE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "TIMBRE_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Journal.Path, "TIMBRE_JOURNAL_PATH")
	overrideString(&cfg.Journal.Mode, "TIMBRE_JOURNAL_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "TIMBRE_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxRequests, "TIMBRE_JOURNAL_MAX_REQUESTS")
	overrideBool(&cfg.Journal.VacuumOnStart, "TIMBRE_JOURNAL_VACUUM_ON_START")
	overrideString(&cfg.Voice.CacheRoot, "TIMBRE_VOICE_CACHE_ROOT")
	overrideString(&cfg.Voice.ModelVersion, "TIMBRE_VOICE_MODEL_VERSION")
	overrideString(&cfg.Voice.Strategy, "TIMBRE_VOICE_STRATEGY")
	overrideInt(&cfg.Voice.AnalysisSampleRate, "TIMBRE_VOICE_ANALYSIS_SAMPLE_RATE")
	overrideFloat(&cfg.Voice.TargetSegmentSeconds, "TIMBRE_VOICE_TARGET_SEGMENT_SECONDS")
	overrideFloat(&cfg.Voice.MinSegmentSeconds, "TIMBRE_VOICE_MIN_SEGMENT_SECONDS")
	overrideFloat(&cfg.Voice.MaxSegmentSeconds, "TIMBRE_VOICE_MAX_SEGMENT_SECONDS")
	overrideFloat(&cfg.Voice.MinConfidence, "TIMBRE_VOICE_MIN_CONFIDENCE")
	overrideInt(&cfg.Voice.MinTotalSpeechMS, "TIMBRE_VOICE_MIN_TOTAL_SPEECH_MS")
	overrideInt(&cfg.Voice.MaxInflight, "TIMBRE_VOICE_MAX_INFLIGHT")
	overrideBool(&cfg.Voice.WarmEmbeddings, "TIMBRE_VOICE_WARM_EMBEDDINGS")
	overrideInt(&cfg.Voice.RetentionDays, "TIMBRE_VOICE_RETENTION_DAYS")
	overrideInt(&cfg.Voice.JanitorIntervalMS, "TIMBRE_VOICE_JANITOR_INTERVAL_MS")
	overrideString(&cfg.Voice.DefaultPersona, "TIMBRE_VOICE_DEFAULT_PERSONA")
	overrideFloat(&cfg.Voice.VAD.EnergyThreshold, "TIMBRE_VOICE_VAD_ENERGY_THRESHOLD")
	overrideInt(&cfg.Voice.VAD.WindowSamples, "TIMBRE_VOICE_VAD_WINDOW_SAMPLES")
	overrideInt(&cfg.Voice.VAD.MinSpeechMS, "TIMBRE_VOICE_VAD_MIN_SPEECH_MS")
	overrideInt(&cfg.Voice.VAD.MinSilenceMS, "TIMBRE_VOICE_VAD_MIN_SILENCE_MS")
	overrideString(&cfg.Voice.Transcriber.Mode, "TIMBRE_VOICE_TRANSCRIBER_MODE")
	overrideString(&cfg.Voice.Transcriber.Command, "TIMBRE_VOICE_TRANSCRIBER_COMMAND")
	overrideString(&cfg.Voice.Transcriber.ModelPath, "TIMBRE_VOICE_TRANSCRIBER_MODEL_PATH")
	overrideString(&cfg.Voice.Transcriber.Language, "TIMBRE_VOICE_TRANSCRIBER_LANGUAGE")
	overrideString(&cfg.Voice.Extractor.Mode, "TIMBRE_VOICE_EXTRACTOR_MODE")
	overrideString(&cfg.Voice.Extractor.Command, "TIMBRE_VOICE_EXTRACTOR_COMMAND")
	overrideString(&cfg.Voice.Extractor.Endpoint, "TIMBRE_VOICE_EXTRACTOR_ENDPOINT")
	overrideInt(&cfg.Voice.Extractor.Dim, "TIMBRE_VOICE_EXTRACTOR_DIM")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.trace_sample_ratio must be between 0 and 1")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Journal.Mode {
	case "ephemeral", "persistent":
		// ok
	default:
		return errors.New("journal.mode must be one of ephemeral|persistent")
	}
	if cfg.Journal.Mode == "persistent" && cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty when mode=persistent")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Journal.MaxRequests < 0 {
		return errors.New("journal.max_requests must be >= 0")
	}
	return validateVoice(cfg.Voice)
}

func validateVoice(cfg VoiceConfig) error {
	if cfg.CacheRoot == "" {
		return errors.New("voice.cache_root must not be empty")
	}
	if cfg.ModelVersion == "" {
		return errors.New("voice.model_version must not be empty")
	}
	switch cfg.Strategy {
	case "vad", "transcript":
	default:
		return errors.New("voice.strategy must be one of vad|transcript")
	}
	if cfg.AnalysisSampleRate <= 0 {
		return errors.New("voice.analysis_sample_rate must be positive")
	}
	if cfg.TargetSegmentSeconds <= 0 {
		return errors.New("voice.target_segment_seconds must be positive")
	}
	if cfg.MinSegmentSeconds < 0 {
		return errors.New("voice.min_segment_seconds must be >= 0")
	}
	if cfg.MaxSegmentSeconds <= cfg.MinSegmentSeconds {
		return errors.New("voice.max_segment_seconds must be greater than min_segment_seconds")
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return errors.New("voice.min_confidence must be between 0 and 1")
	}
	if cfg.MaxInflight <= 0 {
		return errors.New("voice.max_inflight must be >= 1")
	}
	if cfg.RetentionDays < 0 {
		return errors.New("voice.retention_days must be >= 0")
	}
	if cfg.VAD.EnergyThreshold <= 0 {
		return errors.New("voice.vad.energy_threshold must be positive")
	}
	if cfg.VAD.WindowSamples <= 0 {
		return errors.New("voice.vad.window_samples must be positive")
	}
	switch cfg.Transcriber.Mode {
	case "mock", "exec":
	default:
		return errors.New("voice.transcriber.mode must be one of mock|exec")
	}
	if cfg.Strategy == "transcript" && cfg.Transcriber.Mode == "exec" && cfg.Transcriber.Command == "" {
		return errors.New("voice.transcriber.command must be set when mode=exec")
	}
	switch cfg.Extractor.Mode {
	case "mock", "exec", "http":
	default:
		return errors.New("voice.extractor.mode must be one of mock|exec|http")
	}
	if cfg.Extractor.Mode == "exec" && cfg.Extractor.Command == "" {
		return errors.New("voice.extractor.command must be set when mode=exec")
	}
	if cfg.Extractor.Mode == "http" && cfg.Extractor.Endpoint == "" {
		return errors.New("voice.extractor.endpoint must be set when mode=http")
	}
	if cfg.Extractor.Dim <= 0 {
		return errors.New("voice.extractor.dim must be positive")
	}
	seen := make(map[string]struct{}, len(cfg.Personas))
	for _, p := range cfg.Personas {
		if p.Name == "" {
			return errors.New("voice.personas entries must have a name")
		}
		if p.Reference == "" {
			return fmt.Errorf("voice.personas %q must have a reference path", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("voice.personas contains duplicate name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if cfg.DefaultPersona != "" && len(cfg.Personas) > 0 {
		if _, ok := seen[cfg.DefaultPersona]; !ok {
			return fmt.Errorf("voice.default_persona %q is not a configured persona", cfg.DefaultPersona)
		}
	}
	return nil
}

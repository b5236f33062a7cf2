package protocol

import "time"

// PrepareRequest asks the voice service for the embedding of a reference
// voice, either by persona name or by an explicit audio path.
type PrepareRequest struct {
	RequestID string    `json:"request_id,omitempty"`
	Persona   string    `json:"persona,omitempty"`
	AudioPath string    `json:"audio_path,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// PrepareResult carries the embedding (or the failure) back to the caller.
type PrepareResult struct {
	RequestID    string    `json:"request_id"`
	Persona      string    `json:"persona,omitempty"`
	Identity     string    `json:"identity,omitempty"`
	ModelVersion string    `json:"model_version,omitempty"`
	WorkName     string    `json:"work_name,omitempty"`
	Dim          int       `json:"dim,omitempty"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CacheHit     bool      `json:"cache_hit"`
	ElapsedMS    int64     `json:"elapsed_ms"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ModelAnnounce is broadcast once at service start so TTS peers can discover
// the active embedding model version and the configured personas.
type ModelAnnounce struct {
	Runtime      string    `json:"runtime"`
	ModelVersion string    `json:"model_version"`
	Strategy     string    `json:"strategy"`
	Personas     []string  `json:"personas,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

const (
	SubjectVoicePrepare  = "voice.prepare"
	SubjectVoiceReady    = "voice.embedding.ready"
	SubjectVoiceAnnounce = "voice.model.announce"
)

package voice

import (
	"errors"
	"fmt"
)

// Sentinel errors callers can branch on with errors.Is.
var (
	// ErrNoSpeech marks a reference clip with no usable speech: the
	// detector found nothing, or every transcribed span was filtered out.
	ErrNoSpeech = errors.New("no usable speech in reference audio")

	// ErrEmptyCorpus marks an extraction attempt over zero segments.
	ErrEmptyCorpus = errors.New("segmented corpus is empty")

	// ErrArtifactCorrupt marks a cached artifact that failed validation
	// and is treated as a miss.
	ErrArtifactCorrupt = errors.New("cached embedding artifact is corrupt")
)

// DecodeError reports reference audio that could not be decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ModelError reports a transcription or embedding backend failure.
type ModelError struct {
	Backend string
	Err     error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// CacheIOError reports a cache read or write that failed at the filesystem
// level.
type CacheIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() error { return e.Err }

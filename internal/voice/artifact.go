package voice

import (
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Artifact is the persisted embedding for one cache key.
type Artifact struct {
	ModelVersion string    `msgpack:"model_version"`
	Dim          int       `msgpack:"dim"`
	Vector       []float32 `msgpack:"vector"`
	SegmentCount int       `msgpack:"segment_count"`
	CreatedAt    time.Time `msgpack:"created_at"`
}

// artifactCodec serializes artifacts as zstd-compressed msgpack. Encoder and
// decoder are safe for concurrent EncodeAll/DecodeAll use.
type artifactCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newArtifactCodec() (*artifactCodec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &artifactCodec{enc: enc, dec: dec}, nil
}

func (c *artifactCodec) encode(a *Artifact) ([]byte, error) {
	raw, err := msgpack.Marshal(a)
	if err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(raw, nil), nil
}

// decode restores an artifact. Any failure, including a structurally valid
// document with a mismatched vector shape, is reported as ErrArtifactCorrupt
// so callers treat the entry as a cache miss.
func (c *artifactCodec) decode(data []byte) (*Artifact, error) {
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	var a Artifact
	if err := msgpack.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if len(a.Vector) == 0 || a.Dim != len(a.Vector) {
		return nil, fmt.Errorf("%w: vector shape mismatch", ErrArtifactCorrupt)
	}
	return &a, nil
}

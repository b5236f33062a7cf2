package audio

import (
	"encoding/binary"
	"time"
)

// Clip is a decoded, immutable view of a reference audio file: mono samples
// normalized to [-1, 1] at the file's native sample rate.
type Clip struct {
	Path       string
	SampleRate int
	Samples    []float64
}

// Duration reports the clip length.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / float64(c.SampleRate) * float64(time.Second))
}

// Seconds reports the clip length in seconds.
func (c *Clip) Seconds() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Slice returns the samples between start and end seconds, clamped to the
// clip bounds. The returned slice aliases the clip's buffer.
func (c *Clip) Slice(start, end float64) []float64 {
	if c.SampleRate <= 0 || end <= start {
		return nil
	}
	lo := int(start * float64(c.SampleRate))
	hi := int(end * float64(c.SampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(c.Samples) {
		hi = len(c.Samples)
	}
	if lo >= hi {
		return nil
	}
	return c.Samples[lo:hi]
}

// Int16Bytes quantizes samples to 16-bit little-endian PCM bytes.
func Int16Bytes(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampInt16(s)))
	}
	return out
}

func clampInt16(s float64) int16 {
	switch {
	case s >= 1.0:
		return 32767
	case s <= -1.0:
		return -32768
	}
	return int16(s * 32767.0)
}

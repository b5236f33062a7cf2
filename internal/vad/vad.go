// Package vad finds speech regions in decoded audio using windowed RMS
// energy. It is deliberately simple: reference clips for voice cloning are
// recorded close to the microphone, so an energy gate with silence merging
// is enough to find the usable material.
package vad

import (
	"fmt"
	"math"

	"github.com/timbrelabs/timbre/internal/audio"
	"github.com/timbrelabs/timbre/internal/config"
)

// Span is a half-open speech region [Start, End) in seconds.
type Span struct {
	Start float64
	End   float64
}

// Duration reports the span length in seconds.
func (s Span) Duration() float64 {
	return s.End - s.Start
}

// TotalSpeech sums the durations of all spans.
func TotalSpeech(spans []Span) float64 {
	var total float64
	for _, s := range spans {
		total += s.Duration()
	}
	return total
}

// Detector locates speech spans in a clip.
type Detector interface {
	Detect(clip *audio.Clip) ([]Span, error)
}

// EnergyDetector flags windows whose RMS energy clears a threshold, merges
// speech runs separated by short silences, and drops runs too short to be
// real speech.
type EnergyDetector struct {
	threshold     float64
	windowSamples int
	minSpeech     float64
	minSilence    float64
}

// NewEnergyDetector builds a detector from config, substituting defaults for
// unset threshold and window values.
func NewEnergyDetector(cfg config.VADConfig) *EnergyDetector {
	d := &EnergyDetector{
		threshold:     cfg.EnergyThreshold,
		windowSamples: cfg.WindowSamples,
		minSpeech:     float64(cfg.MinSpeechMS) / 1000.0,
		minSilence:    float64(cfg.MinSilenceMS) / 1000.0,
	}
	if d.threshold <= 0 {
		d.threshold = 0.01
	}
	if d.windowSamples <= 0 {
		d.windowSamples = 512
	}
	return d
}

// Detect returns the speech spans of the clip in ascending order.
func (d *EnergyDetector) Detect(clip *audio.Clip) ([]Span, error) {
	if clip == nil || clip.SampleRate <= 0 {
		return nil, fmt.Errorf("vad: clip has no sample rate")
	}
	rate := float64(clip.SampleRate)

	type run struct{ start, end int }

	// Window pass: contiguous loud windows form raw runs.
	var raw []run
	open := false
	for off := 0; off < len(clip.Samples); off += d.windowSamples {
		end := off + d.windowSamples
		if end > len(clip.Samples) {
			end = len(clip.Samples)
		}
		if rms(clip.Samples[off:end]) >= d.threshold {
			if open {
				raw[len(raw)-1].end = end
			} else {
				raw = append(raw, run{start: off, end: end})
				open = true
			}
		} else {
			open = false
		}
	}

	// Merge runs separated by less than the minimum silence.
	minGap := int(d.minSilence * rate)
	var merged []run
	for _, r := range raw {
		if n := len(merged); n > 0 && r.start-merged[n-1].end < minGap {
			merged[n-1].end = r.end
			continue
		}
		merged = append(merged, r)
	}

	// Drop runs shorter than the minimum speech length.
	minLen := int(d.minSpeech * rate)
	spans := make([]Span, 0, len(merged))
	for _, r := range merged {
		if r.end-r.start < minLen {
			continue
		}
		spans = append(spans, Span{
			Start: float64(r.start) / rate,
			End:   float64(r.end) / rate,
		})
	}
	return spans, nil
}

func rms(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	var acc float64
	for _, s := range window {
		acc += s * s
	}
	return math.Sqrt(acc / float64(len(window)))
}

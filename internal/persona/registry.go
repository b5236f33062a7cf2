// Package persona maps named voice personas to their reference audio files.
package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/timbrelabs/timbre/internal/config"
)

// ErrUnknown is returned when a request names a persona that is not
// configured.
var ErrUnknown = errors.New("unknown persona")

// Persona pairs a stable name with the reference clip its voice is cloned
// from.
type Persona struct {
	Name        string `json:"name"`
	Reference   string `json:"reference"`
	Description string `json:"description,omitempty"`
}

// Registry holds the configured personas. It is immutable after
// construction, so reads need no locking.
type Registry struct {
	log      *slog.Logger
	personas map[string]Persona
	fallback string
	meter    metric.Meter
	gauge    metric.Int64ObservableGauge
}

// NewRegistry builds a registry from the voice configuration.
func NewRegistry(cfg config.VoiceConfig, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		log:      log.With(slog.String("component", "persona-registry")),
		personas: make(map[string]Persona, len(cfg.Personas)),
		fallback: cfg.DefaultPersona,
		meter:    otel.Meter("github.com/timbrelabs/timbre/runtime"),
	}

	for _, p := range cfg.Personas {
		if p.Name == "" {
			return nil, fmt.Errorf("persona with empty name")
		}
		if _, dup := r.personas[p.Name]; dup {
			return nil, fmt.Errorf("duplicate persona %q", p.Name)
		}
		r.personas[p.Name] = Persona{
			Name:        p.Name,
			Reference:   p.Reference,
			Description: p.Description,
		}
	}
	if r.fallback != "" {
		if _, ok := r.personas[r.fallback]; !ok {
			return nil, fmt.Errorf("default persona %q is not defined", r.fallback)
		}
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	return r, nil
}

// Resolve returns the persona for name. An empty name resolves to the
// configured default.
func (r *Registry) Resolve(name string) (Persona, error) {
	if name == "" {
		name = r.fallback
	}
	if name == "" {
		return Persona{}, fmt.Errorf("%w: no persona requested and no default configured", ErrUnknown)
	}
	p, ok := r.personas[name]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return p, nil
}

// Default returns the configured default persona, if any.
func (r *Registry) Default() (Persona, bool) {
	if r.fallback == "" {
		return Persona{}, false
	}
	p, ok := r.personas[r.fallback]
	return p, ok
}

// Names lists the configured persona names in ascending order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the personas sorted by name.
func (r *Registry) All() []Persona {
	out := make([]Persona, 0, len(r.personas))
	for _, name := range r.Names() {
		out = append(out, r.personas[name])
	}
	return out
}

// Count reports the number of configured personas.
func (r *Registry) Count() int {
	return len(r.personas)
}

func (r *Registry) initMetrics() error {
	if r.meter == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge("timbre.personas.registered",
		metric.WithDescription("Number of configured voice personas"))
	if err != nil {
		return err
	}
	r.gauge = gauge
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(len(r.personas)))
		return nil
	}, gauge)
	return err
}

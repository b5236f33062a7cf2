package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/timbrelabs/timbre/internal/bus"
	"github.com/timbrelabs/timbre/internal/config"
	"github.com/timbrelabs/timbre/internal/journal"
	"github.com/timbrelabs/timbre/internal/persona"
	"github.com/timbrelabs/timbre/internal/protocol"
)

// Service answers voice.prepare requests over the bus: it resolves the
// requested persona or explicit path, runs the pipeline, replies to the
// caller, and broadcasts ready embeddings.
type Service struct {
	runtimeName string
	cfg         config.VoiceConfig
	bus         *bus.Client
	pipeline    *Pipeline
	registry    *persona.Registry
	journal     *journal.Store
	sub         *nats.Subscription
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger

	requests metric.Int64Counter
	duration metric.Float64Histogram
}

func NewService(parent context.Context, runtimeName string, cfg config.VoiceConfig, busClient *bus.Client, pipe *Pipeline, registry *persona.Registry, journalStore *journal.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		runtimeName: runtimeName,
		cfg:         cfg,
		bus:         busClient,
		pipeline:    pipe,
		registry:    registry,
		journal:     journalStore,
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.With(slog.String("component", "voice-service")),
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

func (s *Service) Start() error {
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectVoicePrepare, s.handlePrepare)
	if err != nil {
		return err
	}
	s.sub = sub

	if err := s.announce(); err != nil {
		s.logger.Warn("failed to announce voice model", slogError(err))
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.sub != nil }

func (s *Service) handlePrepare(msg *nats.Msg) {
	var req protocol.PrepareRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode prepare request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, 45*time.Second)
		defer cancel()

		result := s.prepare(ctx, req)

		if msg.Reply != "" {
			s.publish(msg.Reply, result)
		}
		if result.Error == "" {
			s.publish(protocol.SubjectVoiceReady, result)
		}
	}()
}

func (s *Service) prepare(ctx context.Context, req protocol.PrepareRequest) protocol.PrepareResult {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	path := req.AudioPath
	personaName := req.Persona
	if path == "" {
		per, err := s.registry.Resolve(req.Persona)
		if err != nil {
			return s.finish(ctx, req, personaName, start, nil, err)
		}
		path = per.Reference
		personaName = per.Name
	}

	res, err := s.pipeline.Prepare(ctx, path)
	return s.finish(ctx, req, personaName, start, res, err)
}

// finish assembles the reply, journals the request, and records metrics for
// both outcomes.
func (s *Service) finish(ctx context.Context, req protocol.PrepareRequest, personaName string, start time.Time, res *Result, err error) protocol.PrepareResult {
	elapsed := time.Since(start)
	out := protocol.PrepareResult{
		RequestID: req.RequestID,
		Persona:   personaName,
		ElapsedMS: elapsed.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	rec := journal.Record{
		RequestID:    req.RequestID,
		Persona:      personaName,
		ModelVersion: s.cfg.ModelVersion,
		Strategy:     s.cfg.Strategy,
		DurationMS:   elapsed.Milliseconds(),
		Status:       "ok",
	}

	if err != nil {
		kind := errorKind(err)
		out.Error = err.Error()
		out.ErrorKind = kind
		rec.Status = "error"
		rec.Error = err.Error()
		s.logger.Warn("voice preparation failed",
			slog.String("request_id", req.RequestID),
			slog.String("kind", kind),
			slogError(err))
	} else {
		out.Identity = res.Identity
		out.ModelVersion = res.Artifact.ModelVersion
		out.WorkName = res.WorkName
		out.Dim = res.Artifact.Dim
		out.Embedding = res.Artifact.Vector
		out.CacheHit = res.CacheHit
		rec.Identity = res.Identity
		rec.CacheHit = res.CacheHit
		rec.SegmentCount = res.Artifact.SegmentCount
		s.logger.Info("voice prepared",
			slog.String("request_id", req.RequestID),
			slog.String("identity", res.Identity),
			slog.Bool("cache_hit", res.CacheHit),
			slog.Duration("elapsed", elapsed))
	}

	s.journalAppend(rec)
	s.recordMetrics(ctx, personaName, out)
	return out
}

// journalAppend writes on the service context so records survive request
// timeouts.
func (s *Service) journalAppend(rec journal.Record) {
	if s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), 5*time.Second)
	defer cancel()
	if err := s.journal.Append(ctx, rec); err != nil {
		s.logger.Warn("failed to journal request", slogError(err))
	}
}

func (s *Service) recordMetrics(ctx context.Context, personaName string, out protocol.PrepareResult) {
	if s.requests == nil || s.duration == nil {
		return
	}
	status := "ok"
	if out.Error != "" {
		status = out.ErrorKind
	}
	attrs := metric.WithAttributes(
		attribute.String("persona", personaName),
		attribute.Bool("cache_hit", out.CacheHit),
		attribute.String("status", status),
	)
	s.requests.Add(ctx, 1, attrs)
	s.duration.Record(ctx, float64(out.ElapsedMS), attrs)
}

func (s *Service) publish(subject string, result protocol.PrepareResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("failed to marshal prepare result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish prepare result",
			slog.String("subject", subject),
			slogError(err))
	}
}

func (s *Service) announce() error {
	msg := protocol.ModelAnnounce{
		Runtime:      s.runtimeName,
		ModelVersion: s.cfg.ModelVersion,
		Strategy:     s.cfg.Strategy,
		Personas:     s.registry.Names(),
		Timestamp:    time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.bus.Conn().Publish(protocol.SubjectVoiceAnnounce, payload)
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/timbrelabs/timbre/runtime")
	requests, err := meter.Int64Counter("timbre.voice.requests",
		metric.WithDescription("Voice preparation requests handled"))
	if err != nil {
		return err
	}
	duration, err := meter.Float64Histogram("timbre.voice.prepare_ms",
		metric.WithDescription("Voice preparation latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	s.requests = requests
	s.duration = duration
	return nil
}

// errorKind maps pipeline failures onto the wire taxonomy so callers can
// distinguish bad input from backend trouble.
func errorKind(err error) string {
	var decodeErr *DecodeError
	var modelErr *ModelError
	var cacheErr *CacheIOError
	switch {
	case errors.Is(err, ErrNoSpeech), errors.Is(err, ErrEmptyCorpus):
		return "no_speech"
	case errors.Is(err, persona.ErrUnknown):
		return "unknown_persona"
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.As(err, &modelErr):
		return "model"
	case errors.As(err, &cacheErr):
		return "cache_io"
	default:
		return "internal"
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

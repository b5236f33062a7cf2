package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/timbrelabs/timbre/internal/bus"
	"github.com/timbrelabs/timbre/internal/config"
	"github.com/timbrelabs/timbre/internal/journal"
	"github.com/timbrelabs/timbre/internal/natsserver"
	"github.com/timbrelabs/timbre/internal/persona"
	"github.com/timbrelabs/timbre/internal/vad"
	"github.com/timbrelabs/timbre/internal/voice"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	natsServer *natsserver.EmbeddedServer
	busClient  *bus.Client
	journal    *journal.Store
	voiceSvc   *voice.Service
	janitor    *voice.Janitor
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is cancelled: telemetry,
// the message bus, the request journal, the voice pipeline and its service,
// then the health endpoints. Shutdown walks the same chain in reverse.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	if metricsHandler != nil {
		r.serveMetrics(metricsHandler)
	}

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		natsServer, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS server: %w", err)
		}
		r.natsServer = natsServer
		busCfg.Servers = []string{natsServer.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to message bus: %w", err)
	}
	r.busClient = busClient

	journalStore, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open request journal: %w", err)
	}
	r.journal = journalStore

	registry, err := persona.NewRegistry(r.cfg.Voice, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build persona registry: %w", err)
	}

	segmenter, err := buildSegmenter(r.cfg.Voice, r.logger)
	if err != nil {
		return fmt.Errorf("failed to build segmenter: %w", err)
	}
	extractor, err := buildExtractor(r.cfg.Voice)
	if err != nil {
		return fmt.Errorf("failed to build embedding extractor: %w", err)
	}
	cache, err := voice.NewCache(r.cfg.Voice.CacheRoot, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open embedding cache: %w", err)
	}
	pipeline := voice.NewPipeline(r.cfg.Voice, registry, segmenter, extractor, cache, r.logger)

	if err := pipeline.WarmIdentities(ctx); err != nil {
		r.logger.Warn("persona identity warm-up incomplete", slog.String("error", err.Error()))
	}
	if r.cfg.Voice.WarmEmbeddings {
		if err := pipeline.WarmUp(ctx); err != nil {
			r.logger.Warn("voice warm-up incomplete", slog.String("error", err.Error()))
		}
	}

	voiceSvc := voice.NewService(ctx, r.cfg.RuntimeName, r.cfg.Voice, busClient, pipeline, registry, journalStore, r.logger)
	if err := voiceSvc.Start(); err != nil {
		return fmt.Errorf("failed to start voice service: %w", err)
	}
	r.voiceSvc = voiceSvc

	if r.cfg.Voice.RetentionDays > 0 {
		r.janitor = voice.NewJanitor(ctx, r.cfg.Voice, cache, r.logger)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("strategy", r.cfg.Voice.Strategy),
		slog.String("model_version", r.cfg.Voice.ModelVersion),
		slog.Int("personas", registry.Count()))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}

	if r.janitor != nil {
		r.janitor.Close()
	}
	r.voiceSvc.Close()
	r.busClient.Close()
	if err := r.journal.Close(); err != nil {
		r.logger.Error("journal close error", slog.String("error", err.Error()))
	}
	r.natsServer.Shutdown()
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// serveMetrics exposes the Prometheus scrape endpoint on its own listener so
// operational traffic stays off the API port.
func (r *Runtime) serveMetrics(handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	r.metricsServer = &http.Server{
		Addr:              r.cfg.Telemetry.PrometheusBind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

func buildSegmenter(cfg config.VoiceConfig, log *slog.Logger) (voice.Segmenter, error) {
	switch cfg.Strategy {
	case "transcript":
		transcriber, err := buildTranscriber(cfg.Transcriber)
		if err != nil {
			return nil, err
		}
		return voice.NewTranscriptSegmenter(cfg, transcriber, log), nil
	default:
		return voice.NewVADSegmenter(cfg, vad.NewEnergyDetector(cfg.VAD), log), nil
	}
}

func buildTranscriber(cfg config.TranscriberConfig) (voice.Transcriber, error) {
	switch cfg.Mode {
	case "exec":
		return voice.NewExecTranscriber(cfg)
	default:
		return voice.NewMockTranscriber(), nil
	}
}

func buildExtractor(cfg config.VoiceConfig) (voice.Extractor, error) {
	switch cfg.Extractor.Mode {
	case "exec":
		return voice.NewExecExtractor(cfg.Extractor, cfg.ModelVersion)
	case "http":
		return voice.NewHTTPExtractor(cfg.Extractor, cfg.ModelVersion), nil
	default:
		return voice.NewMockExtractor(cfg.Extractor), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.voiceSvc.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// Package runtime wires the daemon together: telemetry, bus, voice store,
// TTS backend, detector and the synthesis pipeline, plus the health
// endpoints operators poll.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/bus"
	"github.com/voicepages/voicepages-core/internal/character"
	"github.com/voicepages/voicepages-core/internal/config"
	"github.com/voicepages/voicepages-core/internal/pipeline"
	"github.com/voicepages/voicepages-core/internal/tts"
	"github.com/voicepages/voicepages-core/internal/voicestore"
)

type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	promServer *http.Server
	telemetry  *telemetry
	ready      atomic.Bool
	wg         sync.WaitGroup

	embedded  *bus.EmbeddedServer
	busClient *bus.Client
	store     *voicestore.Store
	service   *pipeline.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the daemon up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := newTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	r.telemetry = tel

	embedded, err := bus.StartEmbedded(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.embedded = embedded

	busClient, err := bus.Connect(r.cfg.Bus, r.logger)
	if err != nil {
		r.shutdownComponents()
		return err
	}
	r.busClient = busClient

	store, err := voicestore.Open(ctx, r.cfg.VoiceStore, r.logger)
	if err != nil {
		r.shutdownComponents()
		return fmt.Errorf("open voice store: %w", err)
	}
	r.store = store

	backend, err := tts.New(r.cfg.TTS, r.logger)
	if err != nil {
		r.shutdownComponents()
		return fmt.Errorf("create tts backend: %w", err)
	}

	detector := character.NewTiered(r.llmDetector(), r.logger)
	pipe := pipeline.New(r.cfg, backend, detector, store, nil, r.logger)

	service, err := pipeline.NewService(pipe, busClient, r.logger)
	if err != nil {
		r.shutdownComponents()
		return fmt.Errorf("start synthesis service: %w", err)
	}
	r.service = service
	pipe.SetNotifier(service.PublishStatus)

	r.startHTTP(tel.scrape)

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("backend", backend.Name()),
		slog.String("addr", r.httpServer.Addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.promServer != nil {
		if err := r.promServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.shutdownComponents()

	if r.telemetry != nil {
		if err := r.telemetry.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
	return nil
}

// llmDetector builds the optional LLM tier from config. Detection always
// keeps its heuristic tier, so a disabled LLM just narrows the roster.
func (r *Runtime) llmDetector() character.Detector {
	if !r.cfg.Detector.Enabled {
		return nil
	}
	switch r.cfg.Detector.Mode {
	case "ollama":
		return character.NewOllamaDetector(r.cfg.Detector)
	default:
		return character.NewMockDetector([]book.Character{})
	}
}

func (r *Runtime) startHTTP(metricHandler http.Handler) {
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

	if metricHandler != nil {
		promMux := http.NewServeMux()
		promMux.Handle("/metrics", metricHandler)
		r.promServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           promMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.promServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}
}

func (r *Runtime) shutdownComponents() {
	if r.service != nil {
		r.service.Close()
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.embedded != nil {
		r.embedded.Shutdown()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("voice store close error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

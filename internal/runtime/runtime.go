// Package runtime wires the service together: telemetry, storage,
// scratch space, the message bus, the synthesizer and the HTTP API,
// with ordered shutdown.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/quillcast/quillcast/internal/assemble"
	"github.com/quillcast/quillcast/internal/bus"
	"github.com/quillcast/quillcast/internal/codec"
	"github.com/quillcast/quillcast/internal/config"
	"github.com/quillcast/quillcast/internal/episode"
	"github.com/quillcast/quillcast/internal/natsserver"
	"github.com/quillcast/quillcast/internal/scratch"
	"github.com/quillcast/quillcast/internal/server"
	"github.com/quillcast/quillcast/internal/store"
	"github.com/quillcast/quillcast/internal/synth"
	"github.com/quillcast/quillcast/internal/voice"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves until ctx is canceled, then
// shuts down in reverse order. The scratch area is purged on exit so
// derived voice assets never outlive the process.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	st, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sc, err := scratch.Init(r.cfg.Scratch.Dir, r.logger)
	if err != nil {
		return fmt.Errorf("failed to init scratch dir: %w", err)
	}
	defer sc.Purge()

	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		if embedded != nil {
			defer embedded.Shutdown()
		}
		busClient, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer busClient.Close()
	}

	synthesizer, err := r.buildSynthesizer()
	if err != nil {
		return err
	}

	var transcoder *codec.Transcoder
	if cmd := r.cfg.Audio.TranscodeCommand; cmd != "" {
		transcoder, err = codec.NewTranscoder(cmd)
		if err != nil {
			return fmt.Errorf("failed to configure transcoder: %w", err)
		}
	}

	resolver := voice.NewResolver(r.cfg.TTS.VoicesDir, sc, r.logger)
	merger := assemble.NewMerger(r.cfg.Audio.Dir, transcoder, r.logger)
	proc := episode.NewProcessor(ctx, st, resolver, synthesizer, merger, busClient,
		r.cfg.Audio.Dir, r.cfg.Audio.TargetSampleRate, r.logger)
	defer proc.Close()

	api := server.New(r.cfg, r.logger, st, resolver, synthesizer, proc, sc, transcoder, busClient, metricHandler)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildSynthesizer() (synth.Synthesizer, error) {
	switch r.cfg.TTS.Mode {
	case "exec":
		s, err := synth.NewExecSynth(r.cfg.TTS.Command, r.cfg.TTS.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to configure exec synthesizer: %w", err)
		}
		return s, nil
	default:
		r.logger.Warn("using mock synthesizer, audio will be a test tone")
		return synth.NewMockSynth(r.cfg.TTS.SampleRate), nil
	}
}

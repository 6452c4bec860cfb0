// Package server exposes the HTTP API: the speech endpoint, the voice
// catalog, episode management and operational probes.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/quillcast/quillcast/internal/bus"
	"github.com/quillcast/quillcast/internal/codec"
	"github.com/quillcast/quillcast/internal/config"
	"github.com/quillcast/quillcast/internal/episode"
	"github.com/quillcast/quillcast/internal/scratch"
	"github.com/quillcast/quillcast/internal/store"
	"github.com/quillcast/quillcast/internal/synth"
	"github.com/quillcast/quillcast/internal/voice"
)

// Server holds the handler dependencies. All fields are set once at
// startup and safe for concurrent request handling.
type Server struct {
	cfg        config.Config
	log        *slog.Logger
	store      *store.Store
	resolver   *voice.Resolver
	synth      synth.Synthesizer
	proc       *episode.Processor
	scratch    *scratch.Dir
	transcoder *codec.Transcoder
	bus        *bus.Client
	metrics    http.Handler
}

func New(cfg config.Config, log *slog.Logger, st *store.Store, resolver *voice.Resolver,
	synthesizer synth.Synthesizer, proc *episode.Processor, sc *scratch.Dir,
	transcoder *codec.Transcoder, busClient *bus.Client, metrics http.Handler) *Server {
	return &Server{
		cfg:        cfg,
		log:        log.With(slog.String("component", "server")),
		store:      st,
		resolver:   resolver,
		synth:      synthesizer,
		proc:       proc,
		scratch:    sc,
		transcoder: transcoder,
		bus:        busClient,
		metrics:    metrics,
	}
}

// Router builds the full route table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/audio/speech", s.handleSpeech).Methods(http.MethodPost)
	v1.HandleFunc("/voices", s.handleListVoices).Methods(http.MethodGet)
	v1.HandleFunc("/scratch/purge", s.handleScratchPurge).Methods(http.MethodPost)

	v1.HandleFunc("/episodes", s.handleCreateEpisode).Methods(http.MethodPost)
	v1.HandleFunc("/episodes", s.handleListEpisodes).Methods(http.MethodGet)
	v1.HandleFunc("/episodes/{id}", s.handleGetEpisode).Methods(http.MethodGet)
	v1.HandleFunc("/episodes/{id}", s.handleDeleteEpisode).Methods(http.MethodDelete)
	v1.HandleFunc("/episodes/{id}/chunks", s.handleListChunks).Methods(http.MethodGet)
	v1.HandleFunc("/episodes/{id}/cancel", s.handleCancelEpisode).Methods(http.MethodPost)
	v1.HandleFunc("/episodes/{id}/retry", s.handleRetryEpisode).Methods(http.MethodPost)
	v1.HandleFunc("/episodes/{id}/audio", s.handleEpisodeAudio).Methods(http.MethodGet)
	v1.HandleFunc("/episodes/{id}/playback", s.handleGetPlayback).Methods(http.MethodGet)
	v1.HandleFunc("/episodes/{id}/playback", s.handleUpdatePlayback).Methods(http.MethodPut)

	v1.HandleFunc("/folders", s.handleCreateFolder).Methods(http.MethodPost)
	v1.HandleFunc("/folders", s.handleListFolders).Methods(http.MethodGet)

	return r
}

// handleHealth reports whether the service can actually speak: the
// synthesizer is configured and the default voice resolves.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.resolver.ResolvePath(s.cfg.TTS.DefaultVoice); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "unhealthy",
			"service": s.cfg.ServiceName,
			"error":   "default voice unavailable: " + s.cfg.TTS.DefaultVoice,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     s.cfg.ServiceName,
		"synthesizer": s.cfg.TTS.Mode,
		"sample_rate": s.synth.SampleRate(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "store unavailable",
		})
		return
	}
	if s.cfg.Bus.Enabled && !s.bus.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "bus unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleScratchPurge(w http.ResponseWriter, _ *http.Request) {
	s.scratch.Purge()
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/quillcast/quillcast/internal/codec"
	"github.com/quillcast/quillcast/internal/synth"
	"github.com/quillcast/quillcast/internal/voice"
)

type speechRequest struct {
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed"`
	ResponseFormat string  `json:"response_format"`
	Stream         bool    `json:"stream"`
}

// handleSpeech synthesizes one piece of text. With stream=true the
// response body carries raw PCM frames (optionally after one WAV
// header); otherwise a complete file in the requested container.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var req speechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}
	if req.Voice == "" {
		req.Voice = s.cfg.TTS.DefaultVoice
	}
	if req.Speed == 0 {
		req.Speed = 1.0
	}
	if req.ResponseFormat == "" {
		if req.Stream {
			req.ResponseFormat = s.cfg.Audio.StreamFormat
		} else {
			req.ResponseFormat = s.cfg.Audio.FileFormat
		}
	}

	format, err := codec.Validate(req.ResponseFormat)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Resolve once and reuse the same voice state for the whole call.
	path, err := s.resolver.ResolvePath(req.Voice)
	if err != nil {
		if errors.Is(err, voice.ErrVoiceNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "voice resolution failed")
		return
	}
	path, cleanup := s.resolver.WithSpeed(path, req.Speed)
	defer cleanup()
	v := synth.Voice{ID: req.Voice, Path: path}

	if req.Stream {
		s.streamSpeech(w, r, v, req.Input, format)
		return
	}
	s.fileSpeech(w, r, v, req.Input, format)
}

// streamSpeech forwards synthesized PCM frames to the socket as they
// arrive. Client disconnect cancels the request context, which stops
// the synthesizer.
func (s *Server) streamSpeech(w http.ResponseWriter, r *http.Request, v synth.Voice, text string, format codec.Format) {
	if !codec.Streamable(format) {
		s.log.Warn("streaming format coerced to pcm", slog.String("requested", string(format)))
		format = codec.FormatPCM
	}
	mime, _ := codec.MIMEType(format)

	ctx := r.Context()
	chunks, errs := s.synth.GenerateStream(ctx, v, text)

	flusher, _ := w.(http.Flusher)
	headerSent := false
	sendHeader := func() {
		w.Header().Set("Content-Type", mime)
		w.WriteHeader(http.StatusOK)
		if format == codec.FormatWAV {
			_, _ = w.Write(codec.StreamingWAVHeader(s.synth.SampleRate(), 1, 16))
		}
		headerSent = true
	}

	for chunks != nil || errs != nil {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if !headerSent {
				sendHeader()
			}
			if _, err := w.Write(c.PCM); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err == nil {
				continue
			}
			if headerSent {
				// Bytes are already on the wire; all we can do is
				// stop and log.
				s.log.Error("stream aborted mid-synthesis", slog.String("error", err.Error()))
				return
			}
			s.writeSynthError(w, err)
			return
		}
	}
	if !headerSent {
		sendHeader()
	}
}

// fileSpeech produces the full clip, encodes it into the requested
// container and serves it as a download.
func (s *Server) fileSpeech(w http.ResponseWriter, r *http.Request, v synth.Voice, text string, format codec.Format) {
	pcm, err := synth.Generate(r.Context(), s.synth, v, text)
	if err != nil {
		s.writeSynthError(w, err)
		return
	}
	mime, _ := codec.MIMEType(format)
	disposition := "attachment; filename=speech." + string(format)

	if format == codec.FormatPCM {
		w.Header().Set("Content-Type", mime)
		w.Header().Set("Content-Disposition", disposition)
		_, _ = w.Write(pcm)
		return
	}

	wavPath := s.scratch.NewFilePath("speech.wav")
	defer s.scratch.Remove(wavPath)
	if err := codec.WriteWAVFile(wavPath, codec.IntSamplesFromPCM(pcm), s.synth.SampleRate(), 1); err != nil {
		s.log.Error("write wav failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "encoding failed")
		return
	}

	outPath := wavPath
	if format != codec.FormatWAV {
		if s.transcoder == nil {
			writeError(w, http.StatusBadRequest, "no transcoder configured for "+string(format))
			return
		}
		outPath = s.scratch.NewFilePath("speech." + string(format))
		defer s.scratch.Remove(outPath)
		if err := s.transcoder.Transcode(r.Context(), wavPath, outPath); err != nil {
			s.log.Error("transcode failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "encoding failed")
			return
		}
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding failed")
		return
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Disposition", disposition)
	_, _ = w.Write(data)
}

func (s *Server) writeSynthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, synth.ErrVoiceLoad):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("synthesis failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "synthesis failed")
	}
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	voices, err := s.resolver.Catalog()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "voice catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

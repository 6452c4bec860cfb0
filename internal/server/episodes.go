package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/quillcast/quillcast/internal/codec"
	"github.com/quillcast/quillcast/internal/store"
	"github.com/quillcast/quillcast/internal/textnorm"
)

type createEpisodeRequest struct {
	Title          string   `json:"title"`
	SourceTitle    string   `json:"source_title"`
	SourceType     string   `json:"source_type"`
	RawText        string   `json:"raw_text"`
	Voice          string   `json:"voice"`
	OutputFormat   string   `json:"output_format"`
	ChunkStrategy  string   `json:"chunk_strategy"`
	ChunkMaxLength int      `json:"chunk_max_length"`
	CodeBlockRule  string   `json:"code_block_rule"`
	FolderID       string   `json:"folder_id"`
	Chunks         []string `json:"chunks"`
}

type episodeResponse struct {
	ID                string    `json:"id"`
	SourceID          string    `json:"source_id"`
	Title             string    `json:"title"`
	VoiceID           string    `json:"voice_id"`
	OutputFormat      string    `json:"output_format"`
	ChunkStrategy     string    `json:"chunk_strategy"`
	ChunkMaxLength    int       `json:"chunk_max_length,omitempty"`
	CodeBlockRule     string    `json:"code_block_rule"`
	Status            string    `json:"status"`
	TotalDurationSecs float64   `json:"total_duration_secs"`
	FolderID          string    `json:"folder_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type chunkResponse struct {
	ID           string  `json:"id"`
	ChunkIndex   int     `json:"chunk_index"`
	Status       string  `json:"status"`
	DurationSecs float64 `json:"duration_secs"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

func episodeJSON(ep store.Episode) episodeResponse {
	return episodeResponse{
		ID:                ep.ID,
		SourceID:          ep.SourceID,
		Title:             ep.Title,
		VoiceID:           ep.VoiceID,
		OutputFormat:      ep.OutputFormat,
		ChunkStrategy:     ep.ChunkStrategy,
		ChunkMaxLength:    ep.ChunkMaxLength,
		CodeBlockRule:     ep.CodeBlockRule,
		Status:            string(ep.Status),
		TotalDurationSecs: ep.TotalDurationSecs,
		FolderID:          ep.FolderID,
		CreatedAt:         ep.CreatedAt,
		UpdatedAt:         ep.UpdatedAt,
	}
}

// handleCreateEpisode persists the episode with its pre-chunked texts
// and starts background synthesis.
func (s *Server) handleCreateEpisode(w http.ResponseWriter, r *http.Request) {
	var req createEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if len(req.Chunks) == 0 {
		writeError(w, http.StatusBadRequest, "at least one chunk is required")
		return
	}
	if req.Voice == "" {
		req.Voice = s.cfg.TTS.DefaultVoice
	}
	if req.OutputFormat == "" {
		req.OutputFormat = s.cfg.Audio.FileFormat
	}
	if _, err := codec.Validate(req.OutputFormat); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CodeBlockRule == "" {
		req.CodeBlockRule = string(textnorm.CodeBlockSkip)
	}
	if !textnorm.ValidCodeBlockRule(textnorm.CodeBlockRule(req.CodeBlockRule)) {
		writeError(w, http.StatusBadRequest, "unknown code block rule: "+req.CodeBlockRule)
		return
	}
	if req.SourceTitle == "" {
		req.SourceTitle = req.Title
	}
	if req.SourceType == "" {
		req.SourceType = "text"
	}
	if req.ChunkStrategy == "" {
		req.ChunkStrategy = "paragraph"
	}

	ep, err := s.store.CreateEpisode(r.Context(), store.NewEpisode{
		SourceTitle:    req.SourceTitle,
		SourceType:     req.SourceType,
		RawText:        req.RawText,
		Title:          req.Title,
		VoiceID:        req.Voice,
		OutputFormat:   req.OutputFormat,
		ChunkStrategy:  req.ChunkStrategy,
		ChunkMaxLength: req.ChunkMaxLength,
		CodeBlockRule:  req.CodeBlockRule,
		FolderID:       req.FolderID,
		ChunkTexts:     req.Chunks,
	})
	if err != nil {
		s.log.Error("create episode failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "create episode failed")
		return
	}
	if err := s.proc.Start(ep.ID); err != nil {
		s.log.Error("start episode failed",
			slog.String("episode_id", ep.ID), slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusCreated, episodeJSON(ep))
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	eps, err := s.store.ListEpisodes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list episodes failed")
		return
	}
	out := make([]episodeResponse, 0, len(eps))
	for _, ep := range eps {
		out = append(out, episodeJSON(ep))
	}
	writeJSON(w, http.StatusOK, map[string]any{"episodes": out})
}

func (s *Server) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	ep, err := s.store.GetEpisode(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, episodeJSON(ep))
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetEpisode(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	chunks, err := s.store.ListChunks(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list chunks failed")
		return
	}
	out := make([]chunkResponse, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, chunkResponse{
			ID:           c.ID,
			ChunkIndex:   c.Index,
			Status:       string(c.Status),
			DurationSecs: c.DurationSecs,
			ErrorMessage: c.ErrorMessage,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": out})
}

func (s *Server) handleCancelEpisode(w http.ResponseWriter, r *http.Request) {
	if err := s.proc.Cancel(mux.Vars(r)["id"]); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(store.EpisodeCanceled)})
}

func (s *Server) handleRetryEpisode(w http.ResponseWriter, r *http.Request) {
	if err := s.proc.RetryErrors(mux.Vars(r)["id"]); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(store.EpisodeProcessing)})
}

// handleDeleteEpisode removes the rows and the episode's audio
// directory. Cascades take the source's other episodes' rows only via
// their own deletes; chunk rows go with the episode.
func (s *Server) handleDeleteEpisode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteEpisode(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := os.RemoveAll(filepath.Join(s.cfg.Audio.Dir, id)); err != nil {
		s.log.Warn("failed to remove episode audio",
			slog.String("episode_id", id), slog.String("error", err.Error()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEpisodeAudio serves the merged episode file.
func (s *Server) handleEpisodeAudio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ep, err := s.store.GetEpisode(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	matches, _ := filepath.Glob(filepath.Join(s.cfg.Audio.Dir, id, "full.*"))
	if len(matches) == 0 {
		writeError(w, http.StatusNotFound, "no merged audio for episode "+ep.ID)
		return
	}
	http.ServeFile(w, r, matches[0])
}

type playbackRequest struct {
	CurrentChunkIndex int     `json:"current_chunk_index"`
	PositionSecs      float64 `json:"position_secs"`
	PercentListened   float64 `json:"percent_listened"`
}

type playbackResponse struct {
	EpisodeID         string    `json:"episode_id"`
	CurrentChunkIndex int       `json:"current_chunk_index"`
	PositionSecs      float64   `json:"position_secs"`
	PercentListened   float64   `json:"percent_listened"`
	LastPlayedAt      time.Time `json:"last_played_at"`
}

func (s *Server) handleGetPlayback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetEpisode(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	ps, err := s.store.GetPlayback(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "playback lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, playbackResponse{
		EpisodeID:         id,
		CurrentChunkIndex: ps.CurrentChunkIndex,
		PositionSecs:      ps.PositionSecs,
		PercentListened:   ps.PercentListened,
		LastPlayedAt:      ps.LastPlayedAt,
	})
}

func (s *Server) handleUpdatePlayback(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.store.GetEpisode(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	var req playbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.store.UpdatePlayback(r.Context(), store.PlaybackState{
		EpisodeID:         id,
		CurrentChunkIndex: req.CurrentChunkIndex,
		PositionSecs:      req.PositionSecs,
		PercentListened:   req.PercentListened,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "playback update failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type folderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

type folderResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	f, err := s.store.CreateFolder(r.Context(), req.Name, req.ParentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create folder failed")
		return
	}
	writeJSON(w, http.StatusCreated, folderResponse{
		ID: f.ID, Name: f.Name, ParentID: f.ParentID, CreatedAt: f.CreatedAt,
	})
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.store.ListFolders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list folders failed")
		return
	}
	out := make([]folderResponse, 0, len(folders))
	for _, f := range folders {
		out = append(out, folderResponse{
			ID: f.ID, Name: f.Name, ParentID: f.ParentID, CreatedAt: f.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": out})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "episode not found")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("store error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

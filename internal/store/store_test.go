package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/quillcast/quillcast/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "quillcast.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEpisode(t *testing.T, s *Store, texts ...string) Episode {
	t.Helper()
	if len(texts) == 0 {
		texts = []string{"first chunk", "second chunk"}
	}
	ep, err := s.CreateEpisode(context.Background(), NewEpisode{
		SourceTitle:   "Doc",
		SourceType:    "markdown",
		RawText:       "# Doc",
		Title:         "Doc",
		VoiceID:       "alba",
		OutputFormat:  "wav",
		ChunkStrategy: "paragraph",
		CodeBlockRule: "skip",
		ChunkTexts:    texts,
	})
	if err != nil {
		t.Fatalf("create episode: %v", err)
	}
	return ep
}

func TestCreateEpisodeWithChunks(t *testing.T) {
	s := newStore(t)
	ep := newEpisode(t, s, "a", "b", "c")

	got, err := s.GetEpisode(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("get episode: %v", err)
	}
	if got.Status != EpisodePending {
		t.Fatalf("expected pending, got %s", got.Status)
	}

	chunks, err := s.ListChunks(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("expected dense indices, got %d at position %d", c.Index, i)
		}
		if c.Status != ChunkPending {
			t.Fatalf("expected pending chunk, got %s", c.Status)
		}
	}
}

func TestCreateEpisodeRejectsNoChunks(t *testing.T) {
	s := newStore(t)
	_, err := s.CreateEpisode(context.Background(), NewEpisode{Title: "empty"})
	if err == nil {
		t.Fatal("expected error for chunkless episode")
	}
}

func TestEpisodeTransitions(t *testing.T) {
	s := newStore(t)
	ep := newEpisode(t, s)
	ctx := context.Background()

	if err := s.TransitionEpisode(ctx, ep.ID, EpisodeProcessing); err != nil {
		t.Fatalf("pending->processing: %v", err)
	}
	if err := s.TransitionEpisode(ctx, ep.ID, EpisodeFailed); err != nil {
		t.Fatalf("processing->failed: %v", err)
	}
	if err := s.TransitionEpisode(ctx, ep.ID, EpisodeProcessing); err != nil {
		t.Fatalf("failed->processing (retry): %v", err)
	}
	if err := s.TransitionEpisode(ctx, ep.ID, EpisodeCanceled); err != nil {
		t.Fatalf("processing->canceled: %v", err)
	}
	// Canceled is terminal.
	if err := s.TransitionEpisode(ctx, ep.ID, EpisodeProcessing); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestEpisodeIllegalTransitionRejected(t *testing.T) {
	s := newStore(t)
	ep := newEpisode(t, s)
	err := s.TransitionEpisode(context.Background(), ep.ID, EpisodeCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for pending->completed, got %v", err)
	}
}

func TestChunkLifecycle(t *testing.T) {
	s := newStore(t)
	ep := newEpisode(t, s, "only chunk")
	ctx := context.Background()

	chunks, err := s.ListChunks(ctx, ep.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	chunk := chunks[0]

	if err := s.MarkChunkDone(ctx, chunk.ID, "x.wav", 1.5); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected done-from-pending rejected, got %v", err)
	}
	if err := s.TransitionChunk(ctx, chunk.ID, ChunkProcessing); err != nil {
		t.Fatalf("pending->processing: %v", err)
	}
	if err := s.MarkChunkDone(ctx, chunk.ID, ep.ID+"/chunk_0.wav", 1.5); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	chunks, err = s.ListChunks(ctx, ep.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if chunks[0].Status != ChunkDone || chunks[0].AudioPath == "" || chunks[0].DurationSecs != 1.5 {
		t.Fatalf("unexpected chunk after done: %+v", chunks[0])
	}
}

func TestChunkErrorAndReset(t *testing.T) {
	s := newStore(t)
	ep := newEpisode(t, s, "a", "b")
	ctx := context.Background()

	chunks, _ := s.ListChunks(ctx, ep.ID)
	if err := s.TransitionChunk(ctx, chunks[0].ID, ChunkProcessing); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := s.MarkChunkError(ctx, chunks[0].ID, "model exploded"); err != nil {
		t.Fatalf("mark error: %v", err)
	}

	chunks, _ = s.ListChunks(ctx, ep.ID)
	if chunks[0].Status != ChunkError || chunks[0].ErrorMessage == "" {
		t.Fatalf("unexpected chunk after error: %+v", chunks[0])
	}

	n, err := s.ResetErrorChunks(ctx, ep.ID)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reset chunk, got %d", n)
	}
	chunks, _ = s.ListChunks(ctx, ep.ID)
	if chunks[0].Status != ChunkPending || chunks[0].ErrorMessage != "" {
		t.Fatalf("unexpected chunk after reset: %+v", chunks[0])
	}
}

func TestDeleteEpisodeCascades(t *testing.T) {
	s := newStore(t)
	ep := newEpisode(t, s)
	ctx := context.Background()

	if err := s.UpdatePlayback(ctx, PlaybackState{EpisodeID: ep.ID, CurrentChunkIndex: 1}); err != nil {
		t.Fatalf("update playback: %v", err)
	}
	if err := s.DeleteEpisode(ctx, ep.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetEpisode(ctx, ep.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	chunks, err := s.ListChunks(ctx, ep.ID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected chunks cascaded, found %d", len(chunks))
	}
}

func TestPlaybackUpsert(t *testing.T) {
	s := newStore(t)
	ep := newEpisode(t, s)
	ctx := context.Background()

	ps, err := s.GetPlayback(ctx, ep.ID)
	if err != nil {
		t.Fatalf("get playback: %v", err)
	}
	if ps.CurrentChunkIndex != 0 || ps.PositionSecs != 0 {
		t.Fatalf("expected zero state, got %+v", ps)
	}

	s.clock = func() time.Time { return time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC) }
	if err := s.UpdatePlayback(ctx, PlaybackState{
		EpisodeID: ep.ID, CurrentChunkIndex: 2, PositionSecs: 12.5, PercentListened: 40,
	}); err != nil {
		t.Fatalf("update playback: %v", err)
	}
	ps, err = s.GetPlayback(ctx, ep.ID)
	if err != nil {
		t.Fatalf("get playback: %v", err)
	}
	if ps.CurrentChunkIndex != 2 || ps.PositionSecs != 12.5 || ps.PercentListened != 40 {
		t.Fatalf("unexpected playback: %+v", ps)
	}
	if ps.LastPlayedAt.IsZero() {
		t.Fatal("expected last_played_at set")
	}
}

func TestSetEpisodeDuration(t *testing.T) {
	s := newStore(t)
	ep := newEpisode(t, s)
	if err := s.SetEpisodeDuration(context.Background(), ep.ID, 42.25); err != nil {
		t.Fatalf("set duration: %v", err)
	}
	got, err := s.GetEpisode(context.Background(), ep.ID)
	if err != nil {
		t.Fatalf("get episode: %v", err)
	}
	if got.TotalDurationSecs != 42.25 {
		t.Fatalf("expected duration 42.25, got %v", got.TotalDurationSecs)
	}
}

func TestFolders(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	f, err := s.CreateFolder(ctx, "Reading List", "")
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	folders, err := s.ListFolders(ctx)
	if err != nil {
		t.Fatalf("list folders: %v", err)
	}
	if len(folders) != 1 || folders[0].ID != f.ID {
		t.Fatalf("unexpected folders: %+v", folders)
	}
}

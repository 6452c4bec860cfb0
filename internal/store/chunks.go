package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Chunk is one ordered unit of episode text and its audio artifact.
type Chunk struct {
	ID           string
	EpisodeID    string
	Index        int
	Text         string
	AudioPath    string
	DurationSecs float64
	Status       ChunkStatus
	ErrorMessage string
	CreatedAt    time.Time
}

// ListChunks returns an episode's chunks strictly by index.
func (s *Store) ListChunks(ctx context.Context, episodeID string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, episode_id, chunk_index, text, audio_path, duration_secs, status, error_message, created_at
		 FROM chunks WHERE episode_id = ? ORDER BY chunk_index ASC`, episodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var (
			c        Chunk
			audio    sql.NullString
			duration sql.NullFloat64
			status   string
			errMsg   sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.EpisodeID, &c.Index, &c.Text, &audio, &duration,
			&status, &errMsg, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.AudioPath = audio.String
		c.DurationSecs = duration.Float64
		c.Status = ChunkStatus(status)
		c.ErrorMessage = errMsg.String
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// TransitionChunk moves a chunk to a new status under the transition
// table, guarded the same way as episodes.
func (s *Store) TransitionChunk(ctx context.Context, id string, to ChunkStatus) error {
	for {
		var current string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM chunks WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		from := ChunkStatus(current)
		if !from.CanTransition(to) {
			return fmt.Errorf("%w: chunk %s -> %s", ErrInvalidTransition, from, to)
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE chunks SET status = ? WHERE id = ? AND status = ?`,
			string(to), id, current)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
	}
}

// MarkChunkDone records the audio artifact and duration of a
// successfully synthesized chunk. The chunk must be processing.
func (s *Store) MarkChunkDone(ctx context.Context, id, audioPath string, durationSecs float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET status = ?, audio_path = ?, duration_secs = ?, error_message = NULL
		 WHERE id = ? AND status = ?`,
		string(ChunkDone), audioPath, durationSecs, id, string(ChunkProcessing))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: chunk not processing", ErrInvalidTransition)
	}
	return nil
}

// MarkChunkError records a per-chunk synthesis failure. The chunk must
// be processing.
func (s *Store) MarkChunkError(ctx context.Context, id, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET status = ?, error_message = ? WHERE id = ? AND status = ?`,
		string(ChunkError), message, id, string(ChunkProcessing))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: chunk not processing", ErrInvalidTransition)
	}
	return nil
}

// ResetErrorChunks flips every error chunk of an episode back to
// pending, for retry-errors. Returns how many chunks were reset.
func (s *Store) ResetErrorChunks(ctx context.Context, episodeID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET status = ?, error_message = NULL WHERE episode_id = ? AND status = ?`,
		string(ChunkPending), episodeID, string(ChunkError))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

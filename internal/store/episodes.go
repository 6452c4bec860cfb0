package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound reports a missing row.
var ErrNotFound = errors.New("not found")

// Episode is one synthesis job for a source document.
type Episode struct {
	ID                string
	SourceID          string
	Title             string
	VoiceID           string
	OutputFormat      string
	ChunkStrategy     string
	ChunkMaxLength    int
	CodeBlockRule     string
	Status            EpisodeStatus
	TotalDurationSecs float64
	FolderID          string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewEpisode carries everything needed to create an episode and its
// chunk rows in one transaction. Chunking has already happened: texts
// arrive in index order.
type NewEpisode struct {
	SourceTitle    string
	SourceType     string
	RawText        string
	Title          string
	VoiceID        string
	OutputFormat   string
	ChunkStrategy  string
	ChunkMaxLength int
	CodeBlockRule  string
	FolderID       string
	ChunkTexts     []string
}

// CreateEpisode inserts the source row, the episode (pending) and its
// chunks (pending, dense 0..n-1 indices) atomically.
func (s *Store) CreateEpisode(ctx context.Context, req NewEpisode) (Episode, error) {
	if len(req.ChunkTexts) == 0 {
		return Episode{}, errors.New("episode needs at least one chunk")
	}

	now := s.clock().UTC()
	ep := Episode{
		ID:             uuid.NewString(),
		SourceID:       uuid.NewString(),
		Title:          req.Title,
		VoiceID:        req.VoiceID,
		OutputFormat:   req.OutputFormat,
		ChunkStrategy:  req.ChunkStrategy,
		ChunkMaxLength: req.ChunkMaxLength,
		CodeBlockRule:  req.CodeBlockRule,
		Status:         EpisodePending,
		FolderID:       req.FolderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Episode{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sources(id, title, source_type, raw_text, cleaned_text, folder_id, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.SourceID, req.SourceTitle, req.SourceType, req.RawText, req.RawText,
		nullString(req.FolderID), now, now)
	if err != nil {
		return Episode{}, fmt.Errorf("insert source: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO episodes(id, source_id, title, voice_id, output_format, chunk_strategy,
		                      chunk_max_length, code_block_rule, status, folder_id, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.ID, ep.SourceID, ep.Title, ep.VoiceID, ep.OutputFormat, ep.ChunkStrategy,
		ep.ChunkMaxLength, ep.CodeBlockRule, string(ep.Status), nullString(ep.FolderID), now, now)
	if err != nil {
		return Episode{}, fmt.Errorf("insert episode: %w", err)
	}

	for i, text := range req.ChunkTexts {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks(id, episode_id, chunk_index, text, status, created_at)
			 VALUES(?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), ep.ID, i, text, string(ChunkPending), now)
		if err != nil {
			return Episode{}, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Episode{}, err
	}
	return ep, nil
}

// GetEpisode fetches one episode by id.
func (s *Store) GetEpisode(ctx context.Context, id string) (Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_id, title, voice_id, output_format, chunk_strategy, chunk_max_length,
		        code_block_rule, status, total_duration_secs, folder_id, created_at, updated_at
		 FROM episodes WHERE id = ?`, id)
	return scanEpisode(row)
}

// ListEpisodes returns all episodes, newest first.
func (s *Store) ListEpisodes(ctx context.Context) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, title, voice_id, output_format, chunk_strategy, chunk_max_length,
		        code_block_rule, status, total_duration_secs, folder_id, created_at, updated_at
		 FROM episodes ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (Episode, error) {
	var (
		ep       Episode
		status   string
		maxLen   sql.NullInt64
		duration sql.NullFloat64
		folder   sql.NullString
	)
	err := row.Scan(&ep.ID, &ep.SourceID, &ep.Title, &ep.VoiceID, &ep.OutputFormat,
		&ep.ChunkStrategy, &maxLen, &ep.CodeBlockRule, &status, &duration, &folder,
		&ep.CreatedAt, &ep.UpdatedAt)
	if err == sql.ErrNoRows {
		return Episode{}, ErrNotFound
	}
	if err != nil {
		return Episode{}, err
	}
	ep.Status = EpisodeStatus(status)
	ep.ChunkMaxLength = int(maxLen.Int64)
	ep.TotalDurationSecs = duration.Float64
	ep.FolderID = folder.String
	return ep, nil
}

// TransitionEpisode moves an episode to a new status, enforcing the
// transition table atomically: the row update is guarded on the status
// it was validated against, so concurrent writers cannot interleave
// into an illegal state.
func (s *Store) TransitionEpisode(ctx context.Context, id string, to EpisodeStatus) error {
	for {
		ep, err := s.GetEpisode(ctx, id)
		if err != nil {
			return err
		}
		if !ep.Status.CanTransition(to) {
			return fmt.Errorf("%w: episode %s -> %s", ErrInvalidTransition, ep.Status, to)
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE episodes SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(to), s.clock().UTC(), id, string(ep.Status))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
		// Lost a race with another writer; re-validate against the new
		// status.
	}
}

// SetEpisodeDuration records the merged episode duration on completion.
func (s *Store) SetEpisodeDuration(ctx context.Context, id string, secs float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET total_duration_secs = ?, updated_at = ? WHERE id = ?`,
		secs, s.clock().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEpisode removes the episode row; chunks and playback state
// cascade. On-disk audio cleanup is the caller's job.
func (s *Store) DeleteEpisode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

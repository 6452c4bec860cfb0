package store

import (
	"context"
	"database/sql"
	"time"
)

// PlaybackState tracks listening progress for one episode. It is
// mutated only by playback reporting, never by the pipeline.
type PlaybackState struct {
	EpisodeID         string
	CurrentChunkIndex int
	PositionSecs      float64
	PercentListened   float64
	LastPlayedAt      time.Time
}

// GetPlayback returns the playback state for an episode, or a zero
// state when nothing has been reported yet.
func (s *Store) GetPlayback(ctx context.Context, episodeID string) (PlaybackState, error) {
	var (
		ps     PlaybackState
		played sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT episode_id, current_chunk_index, position_secs, percent_listened, last_played_at
		 FROM playback_state WHERE episode_id = ?`, episodeID).
		Scan(&ps.EpisodeID, &ps.CurrentChunkIndex, &ps.PositionSecs, &ps.PercentListened, &played)
	if err == sql.ErrNoRows {
		return PlaybackState{EpisodeID: episodeID}, nil
	}
	if err != nil {
		return PlaybackState{}, err
	}
	ps.LastPlayedAt = played.Time
	return ps, nil
}

// UpdatePlayback upserts playback progress for an episode.
func (s *Store) UpdatePlayback(ctx context.Context, ps PlaybackState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO playback_state(episode_id, current_chunk_index, position_secs, percent_listened, last_played_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(episode_id) DO UPDATE SET
		     current_chunk_index = excluded.current_chunk_index,
		     position_secs = excluded.position_secs,
		     percent_listened = excluded.percent_listened,
		     last_played_at = excluded.last_played_at`,
		ps.EpisodeID, ps.CurrentChunkIndex, ps.PositionSecs, ps.PercentListened, s.clock().UTC())
	return err
}

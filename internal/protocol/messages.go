package protocol

import "time"

// EpisodeStatusEvent announces an episode lifecycle transition.
type EpisodeStatusEvent struct {
	EpisodeID    string    `json:"episode_id"`
	Status       string    `json:"status"`
	DurationSecs float64   `json:"duration_secs,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ChunkStatusEvent announces a chunk lifecycle transition, so a
// listening UI can render per-chunk progress while an episode renders.
type ChunkStatusEvent struct {
	EpisodeID  string    `json:"episode_id"`
	ChunkID    string    `json:"chunk_id"`
	ChunkIndex int       `json:"chunk_index"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

const (
	SubjectEpisodeStatus = "episode.status"
	SubjectChunkStatus   = "episode.chunk"
)

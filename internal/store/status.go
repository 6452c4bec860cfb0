package store

import "errors"

// ErrInvalidTransition reports a status change outside the lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// EpisodeStatus is the episode lifecycle state.
type EpisodeStatus string

const (
	EpisodePending    EpisodeStatus = "pending"
	EpisodeProcessing EpisodeStatus = "processing"
	EpisodeCompleted  EpisodeStatus = "completed"
	EpisodeFailed     EpisodeStatus = "failed"
	EpisodeCanceled   EpisodeStatus = "canceled"
)

// Transitions are forward-only. failed and completed re-enter
// processing on retry-errors; canceled is terminal once set.
var episodeTransitions = map[EpisodeStatus][]EpisodeStatus{
	EpisodePending:    {EpisodeProcessing, EpisodeCanceled},
	EpisodeProcessing: {EpisodeCompleted, EpisodeFailed, EpisodeCanceled},
	EpisodeFailed:     {EpisodeProcessing},
	EpisodeCompleted:  {EpisodeProcessing},
	EpisodeCanceled:   {},
}

func (s EpisodeStatus) CanTransition(to EpisodeStatus) bool {
	for _, t := range episodeTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s EpisodeStatus) Terminal() bool {
	return s == EpisodeCompleted || s == EpisodeFailed || s == EpisodeCanceled
}

// ChunkStatus is the per-chunk lifecycle state, independent of sibling
// chunks.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkDone       ChunkStatus = "done"
	ChunkError      ChunkStatus = "error"
)

// processing may fall back to pending when an episode is canceled
// while a chunk synthesis is in flight; the chunk keeps no partial
// result.
var chunkTransitions = map[ChunkStatus][]ChunkStatus{
	ChunkPending:    {ChunkProcessing},
	ChunkProcessing: {ChunkDone, ChunkError, ChunkPending},
	ChunkDone:       {},
	ChunkError:      {ChunkPending},
}

func (s ChunkStatus) CanTransition(to ChunkStatus) bool {
	for _, t := range chunkTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

func (s ChunkStatus) Terminal() bool {
	return s == ChunkDone || s == ChunkError
}

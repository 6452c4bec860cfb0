package episode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/quillcast/quillcast/internal/bus"
	"github.com/quillcast/quillcast/internal/codec"
	"github.com/quillcast/quillcast/internal/protocol"
	"github.com/quillcast/quillcast/internal/store"
	"github.com/quillcast/quillcast/internal/synth"
	"github.com/quillcast/quillcast/internal/textnorm"
	"github.com/quillcast/quillcast/internal/voice"
)

// merger is what finalization needs from the assembler.
type merger interface {
	Merge(ctx context.Context, episodeID string, chunkPaths []string, targetRate int) (string, float64, error)
}

// Processor drives episodes through normalization, synthesis and
// assembly. Chunks of one episode run strictly sequentially; distinct
// episodes run concurrently, each under its own cancelable context.
type Processor struct {
	store    *store.Store
	resolver *voice.Resolver
	synth    synth.Synthesizer
	merger   merger
	pub          *bus.Client
	audioDir     string
	targetRate   int
	log          *slog.Logger
	synthSeconds metric.Float64Histogram

	ctx       context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewProcessor(parent context.Context, st *store.Store, resolver *voice.Resolver,
	synthesizer synth.Synthesizer, m merger, pub *bus.Client,
	audioDir string, targetRate int, log *slog.Logger) *Processor {
	ctx, cancel := context.WithCancel(parent)
	if targetRate <= 0 {
		targetRate = synthesizer.SampleRate()
	}
	synthSeconds, err := otel.Meter("quillcast/episode").Float64Histogram(
		"chunk_synthesis_duration_seconds",
		metric.WithDescription("Wall time spent synthesizing one chunk of episode audio"),
		metric.WithUnit("s"))
	if err != nil {
		log.Warn("failed to create synthesis duration histogram", slog.String("error", err.Error()))
	}
	return &Processor{
		store:        st,
		resolver:     resolver,
		synth:        synthesizer,
		merger:       m,
		pub:          pub,
		audioDir:     audioDir,
		targetRate:   targetRate,
		log:          log.With(slog.String("component", "episode-processor")),
		synthSeconds: synthSeconds,
		ctx:          ctx,
		cancelAll:    cancel,
		cancels:      map[string]context.CancelFunc{},
	}
}

// Close stops all in-flight episodes and waits for their workers.
func (p *Processor) Close() {
	p.cancelAll()
	p.wg.Wait()
}

// Start moves a pending episode into processing and synthesizes it in
// the background.
func (p *Processor) Start(episodeID string) error {
	if err := p.store.TransitionEpisode(p.ctx, episodeID, store.EpisodeProcessing); err != nil {
		return err
	}
	p.publishEpisode(episodeID, store.EpisodeProcessing, 0)
	p.spawn(episodeID)
	return nil
}

// RetryErrors resets every error chunk of a failed or
// completed-with-errors episode and re-enters processing. Chunks that
// are already done keep their audio.
func (p *Processor) RetryErrors(episodeID string) error {
	if err := p.store.TransitionEpisode(p.ctx, episodeID, store.EpisodeProcessing); err != nil {
		return err
	}
	n, err := p.store.ResetErrorChunks(p.ctx, episodeID)
	if err != nil {
		return err
	}
	p.log.Info("retrying error chunks",
		slog.String("episode_id", episodeID), slog.Int("reset", n))
	p.publishEpisode(episodeID, store.EpisodeProcessing, 0)
	p.spawn(episodeID)
	return nil
}

// Cancel marks the episode canceled and stops its worker before the
// next not-yet-started chunk. Finished chunks keep their audio; no
// assembly runs.
func (p *Processor) Cancel(episodeID string) error {
	if err := p.store.TransitionEpisode(p.ctx, episodeID, store.EpisodeCanceled); err != nil {
		return err
	}
	p.mu.Lock()
	cancel := p.cancels[episodeID]
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.publishEpisode(episodeID, store.EpisodeCanceled, 0)
	return nil
}

func (p *Processor) spawn(episodeID string) {
	ctx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.cancels[episodeID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			cancel()
			p.mu.Lock()
			delete(p.cancels, episodeID)
			p.mu.Unlock()
		}()
		p.run(ctx, episodeID)
	}()
}

func (p *Processor) run(ctx context.Context, episodeID string) {
	ep, err := p.store.GetEpisode(ctx, episodeID)
	if err != nil {
		p.log.Error("episode vanished", slog.String("episode_id", episodeID), slog.String("error", err.Error()))
		return
	}

	voicePath, err := p.resolver.ResolvePath(ep.VoiceID)
	if err != nil {
		p.log.Warn("voice resolution failed",
			slog.String("episode_id", ep.ID), slog.String("voice", ep.VoiceID), slog.String("error", err.Error()))
		p.failEpisode(ep.ID)
		return
	}
	v := synth.Voice{ID: ep.VoiceID, Path: voicePath}

	rule := textnorm.CodeBlockRule(ep.CodeBlockRule)
	if !textnorm.ValidCodeBlockRule(rule) {
		rule = textnorm.CodeBlockSkip
	}

	chunks, err := p.store.ListChunks(ctx, ep.ID)
	if err != nil {
		p.log.Error("list chunks failed", slog.String("episode_id", ep.ID), slog.String("error", err.Error()))
		p.failEpisode(ep.ID)
		return
	}

	for _, chunk := range chunks {
		if ctx.Err() != nil {
			// Canceled; status already set by Cancel.
			return
		}
		if chunk.Status != store.ChunkPending {
			continue
		}
		p.processChunk(ctx, ep, v, rule, chunk)
	}

	if ctx.Err() != nil {
		return
	}
	p.finalize(ctx, ep)
}

func (p *Processor) processChunk(ctx context.Context, ep store.Episode, v synth.Voice,
	rule textnorm.CodeBlockRule, chunk store.Chunk) {
	if err := p.store.TransitionChunk(ctx, chunk.ID, store.ChunkProcessing); err != nil {
		p.log.Warn("chunk transition failed", slog.String("chunk_id", chunk.ID), slog.String("error", err.Error()))
		return
	}
	p.publishChunk(ep.ID, chunk, store.ChunkProcessing, "")

	text := textnorm.Normalize(chunk.Text, rule)
	started := time.Now()
	pcm, err := synth.Generate(ctx, p.synth, v, text)
	if err == nil && p.synthSeconds != nil {
		p.synthSeconds.Record(ctx, time.Since(started).Seconds())
	}
	if err != nil {
		if ctx.Err() != nil {
			// Canceled mid-synthesis: the chunk stays untouched.
			_ = p.store.TransitionChunk(context.WithoutCancel(ctx), chunk.ID, store.ChunkPending)
			return
		}
		p.log.Warn("chunk synthesis failed",
			slog.String("episode_id", ep.ID), slog.Int("index", chunk.Index), slog.String("error", err.Error()))
		if serr := p.store.MarkChunkError(ctx, chunk.ID, err.Error()); serr != nil {
			p.log.Error("mark chunk error failed", slog.String("chunk_id", chunk.ID), slog.String("error", serr.Error()))
		}
		p.publishChunk(ep.ID, chunk, store.ChunkError, err.Error())
		return
	}

	rel := filepath.Join(ep.ID, fmt.Sprintf("chunk_%d.wav", chunk.Index))
	full := filepath.Join(p.audioDir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err == nil {
		err = codec.WriteWAVFile(full, codec.IntSamplesFromPCM(pcm), p.synth.SampleRate(), 1)
	}
	if err != nil {
		p.log.Warn("chunk audio write failed",
			slog.String("episode_id", ep.ID), slog.Int("index", chunk.Index), slog.String("error", err.Error()))
		if serr := p.store.MarkChunkError(ctx, chunk.ID, err.Error()); serr != nil {
			p.log.Error("mark chunk error failed", slog.String("chunk_id", chunk.ID), slog.String("error", serr.Error()))
		}
		p.publishChunk(ep.ID, chunk, store.ChunkError, err.Error())
		return
	}

	duration := float64(len(pcm)/2) / float64(p.synth.SampleRate())
	if err := p.store.MarkChunkDone(ctx, chunk.ID, rel, duration); err != nil {
		p.log.Error("mark chunk done failed", slog.String("chunk_id", chunk.ID), slog.String("error", err.Error()))
		return
	}
	p.publishChunk(ep.ID, chunk, store.ChunkDone, "")
}

// finalize runs once every chunk is terminal: failed chunks are a
// recorded per-chunk outcome, not an episode abort, but an episode
// with zero usable chunks fails outright.
func (p *Processor) finalize(ctx context.Context, ep store.Episode) {
	chunks, err := p.store.ListChunks(ctx, ep.ID)
	if err != nil {
		p.log.Error("list chunks failed", slog.String("episode_id", ep.ID), slog.String("error", err.Error()))
		p.failEpisode(ep.ID)
		return
	}

	var paths []string
	errored := 0
	for _, chunk := range chunks {
		if chunk.Status == store.ChunkDone && chunk.AudioPath != "" {
			paths = append(paths, chunk.AudioPath)
		} else if chunk.Status == store.ChunkError {
			errored++
		}
	}

	if len(paths) == 0 {
		p.log.Warn("no usable chunks, failing episode", slog.String("episode_id", ep.ID))
		p.failEpisode(ep.ID)
		return
	}

	rel, duration, err := p.merger.Merge(ctx, ep.ID, paths, p.targetRate)
	if err != nil {
		p.log.Error("assembly failed", slog.String("episode_id", ep.ID), slog.String("error", err.Error()))
		p.failEpisode(ep.ID)
		return
	}
	if ctx.Err() != nil {
		// Canceled during the merge itself; the episode is already
		// canceled, so the merged artifact must not survive.
		if rmErr := os.Remove(filepath.Join(p.audioDir, rel)); rmErr != nil && !os.IsNotExist(rmErr) {
			p.log.Warn("failed to remove merged output after cancel",
				slog.String("episode_id", ep.ID), slog.String("error", rmErr.Error()))
		}
		return
	}
	if err := p.store.SetEpisodeDuration(ctx, ep.ID, duration); err != nil {
		p.log.Error("set duration failed", slog.String("episode_id", ep.ID), slog.String("error", err.Error()))
	}
	if err := p.store.TransitionEpisode(ctx, ep.ID, store.EpisodeCompleted); err != nil {
		p.log.Warn("episode completion transition failed",
			slog.String("episode_id", ep.ID), slog.String("error", err.Error()))
		return
	}
	p.publishEpisode(ep.ID, store.EpisodeCompleted, duration)
	p.log.Info("episode completed",
		slog.String("episode_id", ep.ID),
		slog.String("output", rel),
		slog.Int("chunks", len(paths)),
		slog.Int("errors", errored),
		slog.Float64("duration_secs", duration))
}

func (p *Processor) failEpisode(episodeID string) {
	if err := p.store.TransitionEpisode(context.WithoutCancel(p.ctx), episodeID, store.EpisodeFailed); err != nil {
		p.log.Warn("episode failure transition failed",
			slog.String("episode_id", episodeID), slog.String("error", err.Error()))
		return
	}
	p.publishEpisode(episodeID, store.EpisodeFailed, 0)
}

func (p *Processor) publishEpisode(episodeID string, status store.EpisodeStatus, duration float64) {
	p.pub.PublishEpisodeStatus(protocol.EpisodeStatusEvent{
		EpisodeID:    episodeID,
		Status:       string(status),
		DurationSecs: duration,
		Timestamp:    time.Now().UTC(),
	})
}

func (p *Processor) publishChunk(episodeID string, chunk store.Chunk, status store.ChunkStatus, errMsg string) {
	p.pub.PublishChunkStatus(protocol.ChunkStatusEvent{
		EpisodeID:  episodeID,
		ChunkID:    chunk.ID,
		ChunkIndex: chunk.Index,
		Status:     string(status),
		Error:      errMsg,
		Timestamp:  time.Now().UTC(),
	})
}

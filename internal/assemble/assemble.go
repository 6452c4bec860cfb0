package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/quillcast/quillcast/internal/codec"
)

// ErrNoAudioToMerge reports a merge where no chunk file was usable.
var ErrNoAudioToMerge = errors.New("no audio chunks to merge")

const silenceDurationSecs = 0.5

// Merger concatenates per-chunk audio artifacts into one episode file.
type Merger struct {
	audioDir   string
	transcoder *codec.Transcoder
	log        *slog.Logger
}

func NewMerger(audioDir string, transcoder *codec.Transcoder, log *slog.Logger) *Merger {
	return &Merger{
		audioDir:   audioDir,
		transcoder: transcoder,
		log:        log.With(slog.String("component", "assembler")),
	}
}

// Merge loads the chunk files (paths relative to the audio dir) in
// index order, resamples each to targetRate, downmixes to mono and
// concatenates them with a 0.5s silence gap between kept segments.
// Missing or unreadable chunks are skipped with a warning; when
// nothing is usable the merge fails with ErrNoAudioToMerge and writes
// no output. The result lands at <episodeID>/full.<ext> where ext
// comes from the first chunk path, and is returned with the merged
// duration in seconds.
func (m *Merger) Merge(ctx context.Context, episodeID string, chunkPaths []string, targetRate int) (string, float64, error) {
	if len(chunkPaths) == 0 {
		return "", 0, ErrNoAudioToMerge
	}

	silence := make([]int, int(silenceDurationSecs*float64(targetRate)))
	var merged []int
	kept := 0

	for _, rel := range chunkPaths {
		fullPath := filepath.Join(m.audioDir, rel)
		samples, rate, channels, err := codec.ReadWAVFile(fullPath)
		if err != nil {
			m.log.Warn("chunk audio unusable, skipping",
				slog.String("path", fullPath), slog.String("error", err.Error()))
			continue
		}
		samples = downmixMono(samples, channels)
		samples = resampleLinear(samples, rate, targetRate)

		if kept > 0 {
			merged = append(merged, silence...)
		}
		merged = append(merged, samples...)
		kept++
	}

	if kept == 0 {
		return "", 0, fmt.Errorf("%w: episode %s", ErrNoAudioToMerge, episodeID)
	}

	ext := filepath.Ext(chunkPaths[0])
	if ext == "" {
		ext = ".wav"
	}
	outputRel := filepath.Join(episodeID, "full"+ext)
	outputFull := filepath.Join(m.audioDir, outputRel)
	if err := os.MkdirAll(filepath.Dir(outputFull), 0o755); err != nil {
		return "", 0, fmt.Errorf("create episode dir: %w", err)
	}

	if err := m.writeOutput(ctx, outputFull, ext, merged, targetRate); err != nil {
		return "", 0, err
	}

	duration := float64(len(merged)) / float64(targetRate)
	m.log.Info("chunks merged",
		slog.String("episode_id", episodeID),
		slog.Int("kept", kept),
		slog.Int("total", len(chunkPaths)),
		slog.String("output", outputRel),
		slog.Float64("duration_secs", duration))
	return outputRel, duration, nil
}

func (m *Merger) writeOutput(ctx context.Context, outputFull, ext string, merged []int, rate int) error {
	if strings.EqualFold(ext, ".wav") {
		return codec.WriteWAVFile(outputFull, merged, rate, 1)
	}

	// Compressed containers go through the external transcoder from a
	// WAV intermediate.
	intermediate := strings.TrimSuffix(outputFull, ext) + ".merge.wav"
	if err := codec.WriteWAVFile(intermediate, merged, rate, 1); err != nil {
		return err
	}
	defer os.Remove(intermediate)

	if m.transcoder == nil {
		return fmt.Errorf("no transcoder configured for %s output", ext)
	}
	if err := m.transcoder.Transcode(ctx, intermediate, outputFull); err != nil {
		return err
	}
	return nil
}

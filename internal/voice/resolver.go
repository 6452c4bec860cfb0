package voice

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quillcast/quillcast/internal/codec"
	"github.com/quillcast/quillcast/internal/scratch"
)

// ErrVoiceNotFound reports a voice id or path that resolves to nothing.
var ErrVoiceNotFound = errors.New("voice not found")

// Info is one catalog entry.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Resolver maps voice ids to bundled assets and produces derived,
// tempo-modified variants in the scratch area.
type Resolver struct {
	voicesDir string
	scratch   *scratch.Dir
	log       *slog.Logger
}

func NewResolver(voicesDir string, scratchDir *scratch.Dir, log *slog.Logger) *Resolver {
	return &Resolver{
		voicesDir: voicesDir,
		scratch:   scratchDir,
		log:       log.With(slog.String("component", "voice-resolver")),
	}
}

// ResolvePath maps a voice id to its bundled asset, or validates a
// caller-supplied path to a custom voice file.
func (r *Resolver) ResolvePath(idOrPath string) (string, error) {
	if strings.ContainsRune(idOrPath, os.PathSeparator) || strings.HasSuffix(idOrPath, ".wav") {
		if _, err := os.Stat(idOrPath); err == nil {
			return idOrPath, nil
		}
		return "", fmt.Errorf("%w: %q", ErrVoiceNotFound, idOrPath)
	}
	bundled := filepath.Join(r.voicesDir, idOrPath+".wav")
	if _, err := os.Stat(bundled); err == nil {
		return bundled, nil
	}
	return "", fmt.Errorf("%w: %q", ErrVoiceNotFound, idOrPath)
}

// Catalog lists every resolvable built-in voice.
func (r *Resolver) Catalog() ([]Info, error) {
	entries, err := os.ReadDir(r.voicesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read voices dir: %w", err)
	}
	var voices []Info
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".wav")
		voices = append(voices, Info{ID: id, Name: strings.ReplaceAll(id, "_", " ")})
	}
	sort.Slice(voices, func(i, j int) bool { return voices[i].ID < voices[j].ID })
	return voices, nil
}

// WithSpeed derives a time-stretched variant of the voice at speed
// factor (>1 shortens, <1 lengthens, pitch preserved) in the scratch
// area. Failure here is recoverable: the original path is returned, any
// partial scratch file is discarded, and nothing surfaces to the
// caller beyond a warning. The returned cleanup removes the derived
// file and is safe to call when nothing was derived.
func (r *Resolver) WithSpeed(path string, speed float64) (string, func()) {
	noop := func() {}
	if speed == 1.0 {
		return path, noop
	}

	samples, rate, channels, err := codec.ReadWAVFile(path)
	if err != nil {
		r.log.Warn("speed modifier failed, using original voice",
			slog.Float64("speed", speed), slog.String("error", err.Error()))
		return path, noop
	}
	if channels > 1 {
		samples = downmix(samples, channels)
	}

	stretched := timeStretch(samples, rate, speed)

	derived := r.scratch.NewFilePath(filepath.Base(path))
	if !strings.HasSuffix(derived, ".wav") {
		derived += ".wav"
	}
	if err := codec.WriteWAVFile(derived, stretched, rate, 1); err != nil {
		r.log.Warn("speed modifier failed, using original voice",
			slog.Float64("speed", speed), slog.String("error", err.Error()))
		r.scratch.Remove(derived)
		return path, noop
	}
	return derived, func() { r.scratch.Remove(derived) }
}

func downmix(samples []int, channels int) []int {
	frames := len(samples) / channels
	mono := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		mono[i] = sum / channels
	}
	return mono
}

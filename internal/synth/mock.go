package synth

import (
	"context"
	"fmt"
	"math"

	"github.com/quillcast/quillcast/internal/codec"
)

type mockSynth struct {
	sampleRate int
}

// NewMockSynth produces a deterministic tone whose duration scales with
// the input text, for development and tests without a model process.
func NewMockSynth(sampleRate int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) SampleRate() int { return m.sampleRate }

func (m *mockSynth) GenerateStream(ctx context.Context, voice Voice, text string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		if text == "" {
			errs <- fmt.Errorf("%w: empty input", ErrSynthesis)
			return
		}

		// 50ms of audio per rune, emitted in 200ms chunks.
		total := len([]rune(text)) * m.sampleRate / 20
		chunkSamples := m.sampleRate / 5
		sequence := 0
		for offset := 0; offset < total; offset += chunkSamples {
			n := chunkSamples
			if offset+n > total {
				n = total - offset
			}
			samples := make([]float32, n)
			for i := range samples {
				samples[i] = 0.3 * float32(math.Sin(2*math.Pi*220*float64(offset+i)/float64(m.sampleRate)))
			}
			pcm := codec.PCMBytes(samples)
			select {
			case chunks <- Chunk{
				Sequence:   sequence,
				SampleRate: m.sampleRate,
				Channels:   1,
				PCM:        pcm,
				Final:      offset+n >= total,
			}:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			sequence++
		}
	}()
	return chunks, errs
}

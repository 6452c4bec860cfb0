package synth

import (
	"context"
	"errors"
)

// Voice is a resolved, loadable voice reference. It is resolved once
// per request and reused for every chunk of a streaming call.
type Voice struct {
	ID   string
	Path string
}

// Chunk is one bounded unit of synthesized audio.
type Chunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

var (
	// ErrVoiceLoad reports an invalid or unloadable voice (client error).
	ErrVoiceLoad = errors.New("voice load failed")
	// ErrSynthesis reports any other synthesis fault (server error).
	ErrSynthesis = errors.New("synthesis failed")
)

// Synthesizer is the contract for the external voice-synthesis model.
type Synthesizer interface {
	SampleRate() int
	// GenerateStream produces a finite, single-pass sequence of audio
	// chunks. Cancelling ctx stops production promptly; the chunk
	// channel is closed when the sequence ends either way.
	GenerateStream(ctx context.Context, voice Voice, text string) (<-chan Chunk, <-chan error)
}

// Generate drains a full streaming synthesis into one PCM buffer, for
// non-streaming delivery.
func Generate(ctx context.Context, s Synthesizer, voice Voice, text string) ([]byte, error) {
	chunks, errs := s.GenerateStream(ctx, voice, text)
	var pcm []byte
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			pcm = append(pcm, chunk.PCM...)
		case err, ok := <-errs:
			if ok && err != nil {
				return nil, err
			}
			errs = nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if chunks == nil && errs == nil {
			return pcm, nil
		}
	}
}

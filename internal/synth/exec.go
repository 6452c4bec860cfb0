package synth

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

type execSynth struct {
	cmd        []string
	sampleRate int
}

type execRequest struct {
	Text       string `json:"text"`
	VoicePath  string `json:"voice_path"`
	SampleRate int    `json:"sample_rate"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecSynth wraps an external model process. The process receives
// one JSON request on stdin and emits JSON-lines responses carrying
// base64 PCM on stdout, one line per audio chunk.
func NewExecSynth(command string, sampleRate int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, sampleRate: sampleRate}, nil
}

func (e *execSynth) SampleRate() int { return e.sampleRate }

func (e *execSynth) GenerateStream(ctx context.Context, voice Voice, text string) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		if _, err := os.Stat(voice.Path); err != nil {
			errs <- fmt.Errorf("%w: %s: %v", ErrVoiceLoad, voice.Path, err)
			return
		}

		payload, err := json.Marshal(execRequest{
			Text:       text,
			VoicePath:  voice.Path,
			SampleRate: e.sampleRate,
		})
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrSynthesis, err)
			return
		}

		base := e.cmd[0]
		args := append([]string{}, e.cmd[1:]...)
		cmd := exec.CommandContext(ctx, base, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrSynthesis, err)
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrSynthesis, err)
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- fmt.Errorf("%w: %v", ErrSynthesis, err)
			return
		}

		if _, err := stdin.Write(payload); err != nil {
			errs <- fmt.Errorf("%w: %v", ErrSynthesis, err)
			cmd.Wait()
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		sequence := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- fmt.Errorf("%w: decode response: %v", ErrSynthesis, err)
				cmd.Wait()
				return
			}
			pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
			if err != nil {
				errs <- fmt.Errorf("%w: decode pcm: %v", ErrSynthesis, err)
				cmd.Wait()
				return
			}
			select {
			case chunks <- Chunk{
				Sequence:   sequence,
				SampleRate: e.sampleRate,
				Channels:   1,
				PCM:        pcm,
				Final:      resp.Final,
			}:
			case <-ctx.Done():
				cmd.Wait()
				return
			}
			sequence++
		}
		if err := cmd.Wait(); err != nil {
			errs <- fmt.Errorf("%w: %v", ErrSynthesis, err)
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			errs <- fmt.Errorf("%w: %v", ErrSynthesis, scanErr)
		}
	}()
	return chunks, errs
}

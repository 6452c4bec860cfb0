package codec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/mattn/go-shellwords"
)

// Transcoder converts WAV files into compressed containers by shelling
// out to an external encoder (ffmpeg by default). pcm and wav never go
// through it.
type Transcoder struct {
	cmd []string
}

func NewTranscoder(command string) (*Transcoder, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse transcode command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transcode command empty")
	}
	return &Transcoder{cmd: args}, nil
}

// Transcode encodes inPath (a WAV file) into outPath, whose extension
// selects the target container.
func (t *Transcoder) Transcode(ctx context.Context, inPath, outPath string) error {
	base := t.cmd[0]
	args := append([]string{}, t.cmd[1:]...)
	args = append(args, "-y", "-loglevel", "error", "-i", inPath, outPath)

	command := exec.CommandContext(ctx, base, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return fmt.Errorf("transcode %s -> %s: %w: %s", inPath, outPath, err, stderr.String())
	}
	return nil
}

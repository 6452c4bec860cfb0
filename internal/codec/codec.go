package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Format is a canonical audio container/encoding token.
type Format string

const (
	FormatPCM  Format = "pcm"
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatFLAC Format = "flac"
)

// ErrUnsupportedFormat reports a format token outside the canonical set.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

var mimeTypes = map[Format]string{
	FormatPCM:  "audio/pcm",
	FormatWAV:  "audio/wav",
	FormatMP3:  "audio/mpeg",
	FormatOpus: "audio/opus",
	FormatFLAC: "audio/flac",
}

// Validate maps a caller-supplied format name onto the canonical set.
func Validate(name string) (Format, error) {
	f := Format(name)
	if _, ok := mimeTypes[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
	return f, nil
}

// MIMEType returns the content type for a canonical format.
func MIMEType(f Format) (string, error) {
	mt, ok := mimeTypes[f]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
	}
	return mt, nil
}

// Streamable reports whether a format can be framed incrementally.
// Compressed containers need whole-file encoding and are coerced to pcm
// by streaming callers.
func Streamable(f Format) bool {
	return f == FormatPCM || f == FormatWAV
}

// PCMBytes converts float samples in [-1, 1] to little-endian signed
// 16-bit PCM. Out-of-range samples clip; rounding is half away from zero
// so identical input always produces identical bytes.
func PCMBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		n := int(math.Round(v * 32767))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(n)))
	}
	return out
}

// IntSamplesFromPCM decodes little-endian int16 bytes into the integer
// sample form WriteWAVFile takes.
func IntSamplesFromPCM(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}

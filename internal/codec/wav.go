package codec

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// streamDataLen is the placeholder RIFF data length used when the true
// length is unknown at header-write time. Most players tolerate it and
// read until the stream ends; this is an accepted limitation of
// streaming WAV, not something we try to correct after the fact.
const streamDataLen = 0xFFFFFFFF

// WAVHeader builds a 44-byte RIFF/WAVE header for 16-bit PCM with the
// given data length.
func WAVHeader(sampleRate, channels, bitsPerSample int, dataLen uint32) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 44)
	copy(buf[0:4], "RIFF")
	riffLen := uint32(36)
	if dataLen < streamDataLen-36 {
		riffLen = 36 + dataLen
	} else {
		riffLen = streamDataLen
	}
	binary.LittleEndian.PutUint32(buf[4:8], riffLen)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataLen)
	return buf
}

// StreamingWAVHeader is WAVHeader with the placeholder data length.
func StreamingWAVHeader(sampleRate, channels, bitsPerSample int) []byte {
	return WAVHeader(sampleRate, channels, bitsPerSample, streamDataLen)
}

// WriteWAVFile encodes int16-range samples as a 16-bit PCM WAV file.
func WriteWAVFile(path string, samples []int, sampleRate, channels int) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer file.Close()

	buffer := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   samples,
	}
	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ReadWAVFile decodes a WAV file into interleaved int samples plus its
// sample rate and channel count.
func ReadWAVFile(path string) ([]int, int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("open wav file: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil {
		return nil, 0, 0, fmt.Errorf("decode wav: missing format in %s", path)
	}
	return buf.Data, buf.Format.SampleRate, buf.Format.NumChannels, nil
}

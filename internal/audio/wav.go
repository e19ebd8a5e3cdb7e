package audio

import (
	"bytes"
	"fmt"
	"io"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// DecodeWAV parses WAV bytes into a Clip, keeping the source bit depth and
// channel layout. The go-audio decoder skips non-canonical RIFF chunks, so
// engine output with extra metadata chunks decodes cleanly.
func DecodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("decode wav: no audio data")
	}

	format := Format{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		BitDepth:   int(dec.BitDepth),
	}
	if reason := format.validate(); reason != "" {
		return nil, fmt.Errorf("decode wav: %s", reason)
	}

	pcm := make([]byte, 0, len(buf.Data)*format.BitDepth/8)
	for _, sample := range buf.Data {
		pcm = appendSample(pcm, sample, format.BitDepth)
	}
	return &Clip{Format: format, PCM: pcm}, nil
}

// EncodeWAV writes a clip as a canonical PCM WAV stream. The destination
// must be seekable because the RIFF header is finalized on close.
func EncodeWAV(clip *Clip, w io.WriteSeeker) error {
	if err := clip.Check(0); err != nil {
		return err
	}

	samples := make([]int, 0, clip.Frames()*clip.Format.Channels)
	pcm := clip.PCM
	step := clip.Format.BitDepth / 8
	for i := 0; i+step <= len(pcm); i += step {
		samples = append(samples, readSample(pcm[i:i+step], clip.Format.BitDepth))
	}

	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: clip.Format.Channels,
			SampleRate:  clip.Format.SampleRate,
		},
		Data:           samples,
		SourceBitDepth: clip.Format.BitDepth,
	}

	enc := wav.NewEncoder(w, clip.Format.SampleRate, clip.Format.BitDepth, clip.Format.Channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// appendSample packs one sample in little-endian order at the given depth.
// 8-bit WAV audio is unsigned; deeper formats are signed.
func appendSample(dst []byte, sample, bitDepth int) []byte {
	switch bitDepth {
	case 8:
		return append(dst, byte(sample))
	case 16:
		return append(dst, byte(sample), byte(sample>>8))
	case 24:
		return append(dst, byte(sample), byte(sample>>8), byte(sample>>16))
	default:
		return append(dst, byte(sample), byte(sample>>8), byte(sample>>16), byte(sample>>24))
	}
}

func readSample(b []byte, bitDepth int) int {
	switch bitDepth {
	case 8:
		return int(b[0])
	case 16:
		return int(int16(uint16(b[0]) | uint16(b[1])<<8))
	case 24:
		v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return int(v)
	default:
		return int(int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24))
	}
}

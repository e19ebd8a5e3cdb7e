// Package audio carries PCM between the TTS backends and the concatenator.
// Every clip declares its format explicitly; nothing in this package ever
// assumes 16-bit mono.
package audio

import (
	"fmt"
	"time"
)

// Format describes the PCM layout of a clip.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Clip is one rendered segment of speech.
type Clip struct {
	Format Format
	PCM    []byte
}

// ChapterAudio is the merged artifact for one chapter, replaced wholesale on
// re-generation.
type ChapterAudio struct {
	Format   Format
	PCM      []byte
	Duration time.Duration
}

// FormatError reports a malformed or incompatible clip. Index identifies the
// offending segment within the chapter.
type FormatError struct {
	Index  int
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("audio clip %d: %s", e.Index, e.Reason)
}

// BytesPerFrame returns the byte size of one frame (one sample across all
// channels).
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

func (f Format) validate() string {
	if f.SampleRate <= 0 {
		return "sample rate not declared"
	}
	if f.Channels <= 0 {
		return "channel count not declared"
	}
	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Sprintf("unsupported bit depth %d", f.BitDepth)
	}
	return ""
}

// Frames returns the number of frames in the clip.
func (c Clip) Frames() int {
	bpf := c.Format.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return len(c.PCM) / bpf
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration {
	if c.Format.SampleRate == 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}

// Check validates header fields against the payload length, returning a
// FormatError tagged with the given segment index on mismatch.
func (c Clip) Check(index int) error {
	if reason := c.Format.validate(); reason != "" {
		return &FormatError{Index: index, Reason: reason}
	}
	if len(c.PCM) == 0 {
		return &FormatError{Index: index, Reason: "empty payload"}
	}
	if len(c.PCM)%c.Format.BytesPerFrame() != 0 {
		return &FormatError{Index: index, Reason: fmt.Sprintf(
			"payload length %d not aligned to %d-byte frames", len(c.PCM), c.Format.BytesPerFrame())}
	}
	return nil
}

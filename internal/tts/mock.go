package tts

import (
	"context"
	"math"
	"time"

	"github.com/voicepages/voicepages-core/internal/audio"
	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/config"
)

type mockBackend struct {
	sampleRate   int
	channels     int
	maxChunkSize int
}

// NewMock returns a backend producing a faded sine tone sized from the text
// length. Used in tests and for development without any engine installed.
func NewMock(cfg config.TTSConfig) Backend {
	return &mockBackend{
		sampleRate:   cfg.SampleRate,
		channels:     cfg.Channels,
		maxChunkSize: cfg.MaxChunkSize,
	}
}

func (m *mockBackend) Name() string { return "mock" }

func (m *mockBackend) Voices() []Voice { return poolFromIDs(kokoroVoiceIDs) }

func (m *mockBackend) Ready() error { return nil }

func (m *mockBackend) Render(ctx context.Context, text string, profile book.VoiceProfile) (*audio.Clip, error) {
	text = Clean(text, m.maxChunkSize)
	if text == "" {
		return nil, synthErr(m.Name(), "empty text after cleaning", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, synthErr(m.Name(), "cancelled", err)
	}

	// ~50ms of audio per character, capped at 30s, mirroring typical
	// narration pace closely enough for duration assertions.
	duration := time.Duration(len(text)) * 50 * time.Millisecond
	if duration > 30*time.Second {
		duration = 30 * time.Second
	}
	frames := int(time.Duration(m.sampleRate) * duration / time.Second)
	if frames == 0 {
		frames = m.sampleRate
	}

	fade := m.sampleRate / 10
	pcm := make([]byte, 0, frames*m.channels*2)
	for i := 0; i < frames; i++ {
		v := 0.3 * math.Sin(2*math.Pi*200*float64(i)/float64(m.sampleRate))
		if fade > 0 && frames > 2*fade {
			if i < fade {
				v *= float64(i) / float64(fade)
			} else if i >= frames-fade {
				v *= float64(frames-1-i) / float64(fade)
			}
		}
		s := int(v * 32767)
		for ch := 0; ch < m.channels; ch++ {
			pcm = append(pcm, byte(s), byte(s>>8))
		}
	}

	return &audio.Clip{
		Format: audio.Format{SampleRate: m.sampleRate, Channels: m.channels, BitDepth: 16},
		PCM:    pcm,
	}, nil
}

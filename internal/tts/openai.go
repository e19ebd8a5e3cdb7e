package tts

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/voicepages/voicepages-core/internal/audio"
	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/config"
)

// openaiBackend renders speech through an OpenAI-compatible audio API. It
// covers both hosted engines and local servers exposing the same surface
// (an MLX-Audio Kokoro server, for instance).
type openaiBackend struct {
	client       *openai.Client
	model        string
	speed        float64
	maxChunkSize int
	timeout      time.Duration
	logger       *slog.Logger
}

// openaiVoicePool maps pool IDs onto the API's fixed voice set.
var openaiVoicePool = map[string]openai.SpeechVoice{
	"af_nova":    openai.VoiceNova,
	"af_shimmer": openai.VoiceShimmer,
	"am_alloy":   openai.VoiceAlloy,
	"am_echo":    openai.VoiceEcho,
	"am_onyx":    openai.VoiceOnyx,
	"bm_fable":   openai.VoiceFable,
}

func NewOpenAI(cfg config.TTSConfig, logger *slog.Logger) Backend {
	clientCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAI.BaseURL
	}
	return &openaiBackend{
		client:       openai.NewClientWithConfig(clientCfg),
		model:        cfg.OpenAI.Model,
		speed:        cfg.Speed,
		maxChunkSize: cfg.MaxChunkSize,
		timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:       logger.With(slog.String("component", "tts-openai")),
	}
}

func (b *openaiBackend) Name() string { return "openai" }

func (b *openaiBackend) Voices() []Voice {
	var pool []Voice
	for id := range openaiVoicePool {
		pool = append(pool, voiceFromID(id))
	}
	// map order is random; assignment needs a stable pool
	sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	return pool
}

func (b *openaiBackend) Ready() error {
	if b.model == "" {
		return &ConfigurationError{Backend: b.Name(), Missing: []string{"model"}}
	}
	return nil
}

func (b *openaiBackend) Render(ctx context.Context, text string, profile book.VoiceProfile) (*audio.Clip, error) {
	text = Clean(text, b.maxChunkSize)
	if text == "" {
		return nil, synthErr(b.Name(), "empty text after cleaning", nil)
	}

	voice, ok := openaiVoicePool[NormalizeVoiceID(profile.BackendVoice)]
	if !ok {
		voice = openai.VoiceNova
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	resp, err := b.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(b.model),
		Input:          text,
		Voice:          voice,
		Speed:          b.speed,
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, synthErr(b.Name(), "speech request failed", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, synthErr(b.Name(), "read speech response", err)
	}
	if len(data) == 0 {
		return nil, synthErr(b.Name(), "engine produced no audio", nil)
	}

	clip, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, synthErr(b.Name(), "engine produced unreadable audio", err)
	}
	return clip, nil
}

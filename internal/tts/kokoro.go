package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/voicepages/voicepages-core/internal/audio"
	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/config"
)

// kokoroBackend drives the neural engine CLI. Higher fidelity than system
// speech, but the model and voices assets must be downloaded to fixed
// storage paths before the backend can be selected.
type kokoroBackend struct {
	cmd          []string
	modelPath    string
	voicesPath   string
	speed        float64
	maxChunkSize int
	timeout      time.Duration
	logger       *slog.Logger
}

func NewKokoro(cfg config.TTSConfig, logger *slog.Logger) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Kokoro.Command)
	if err != nil {
		return nil, fmt.Errorf("parse kokoro command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("kokoro command empty")
	}
	return &kokoroBackend{
		cmd:          args,
		modelPath:    cfg.Kokoro.ModelPath,
		voicesPath:   cfg.Kokoro.VoicesPath,
		speed:        cfg.Speed,
		maxChunkSize: cfg.MaxChunkSize,
		timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:       logger.With(slog.String("component", "tts-kokoro")),
	}, nil
}

func (b *kokoroBackend) Name() string { return "kokoro" }

func (b *kokoroBackend) Voices() []Voice { return poolFromIDs(kokoroVoiceIDs) }

func (b *kokoroBackend) Ready() error {
	var missing []string
	if _, err := os.Stat(b.modelPath); err != nil {
		missing = append(missing, b.modelPath)
	}
	if _, err := os.Stat(b.voicesPath); err != nil {
		missing = append(missing, b.voicesPath)
	}
	if len(missing) > 0 {
		return &ConfigurationError{Backend: b.Name(), Missing: missing}
	}
	return nil
}

func (b *kokoroBackend) Render(ctx context.Context, text string, profile book.VoiceProfile) (*audio.Clip, error) {
	if err := b.Ready(); err != nil {
		return nil, err
	}

	text = Clean(text, b.maxChunkSize)
	if text == "" {
		return nil, synthErr(b.Name(), "empty text after cleaning", nil)
	}

	voice := NormalizeVoiceID(profile.BackendVoice)
	if voice == "" {
		voice = "af_sarah"
	}

	inPath, cleanIn, err := stageText(text)
	if err != nil {
		return nil, synthErr(b.Name(), "staging failed", err)
	}
	defer cleanIn()

	outPath, cleanOut, err := stageOutput(".wav")
	if err != nil {
		return nil, synthErr(b.Name(), "staging failed", err)
	}
	defer cleanOut()

	b.logger.Debug("rendering segment",
		slog.String("voice", voice),
		slog.Int("text_len", len(text)))

	argv := append(append([]string{}, b.cmd...),
		inPath, outPath,
		"--voice", voice,
		"--speed", strconv.FormatFloat(b.speed, 'f', -1, 64),
		"--model", b.modelPath,
		"--voices", b.voicesPath)
	if err := runEngine(ctx, b.Name(), b.timeout, argv); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, synthErr(b.Name(), "read engine output", err)
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

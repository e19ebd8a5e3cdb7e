package tts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/voicepages/voicepages-core/internal/audio"
	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/config"
)

// sayBackend drives the macOS system speech engine. Negligible setup, lower
// fidelity than the neural backend. The engine emits AIFF, which is
// converted to PCM WAV at the configured rate before decoding.
type sayBackend struct {
	sayCmd       []string
	convertCmd   []string
	rate         int
	speed        float64
	sampleRate   int
	maxChunkSize int
	timeout      time.Duration
	logger       *slog.Logger
}

func NewSay(cfg config.TTSConfig, logger *slog.Logger) (Backend, error) {
	parser := shellwords.NewParser()
	sayArgs, err := parser.Parse(cfg.Say.Command)
	if err != nil {
		return nil, fmt.Errorf("parse say command: %w", err)
	}
	if len(sayArgs) == 0 {
		return nil, fmt.Errorf("say command empty")
	}
	convertArgs, err := parser.Parse(cfg.Say.ConvertCommand)
	if err != nil {
		return nil, fmt.Errorf("parse convert command: %w", err)
	}
	if len(convertArgs) == 0 {
		return nil, fmt.Errorf("convert command empty")
	}
	return &sayBackend{
		sayCmd:       sayArgs,
		convertCmd:   convertArgs,
		rate:         cfg.Say.Rate,
		speed:        cfg.Speed,
		sampleRate:   cfg.SampleRate,
		maxChunkSize: cfg.MaxChunkSize,
		timeout:      time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:       logger.With(slog.String("component", "tts-say")),
	}, nil
}

func (b *sayBackend) Name() string { return "say" }

func (b *sayBackend) Voices() []Voice {
	seen := make(map[string]bool)
	var pool []Voice
	for _, id := range kokoroVoiceIDs {
		if name, ok := macVoiceNames[id]; ok && !seen[name] {
			seen[name] = true
			v := voiceFromID(id)
			v.Name = name
			pool = append(pool, v)
		}
	}
	return pool
}

func (b *sayBackend) Ready() error {
	if _, err := exec.LookPath(b.sayCmd[0]); err != nil {
		return &ConfigurationError{Backend: b.Name(), Missing: []string{b.sayCmd[0]}}
	}
	if _, err := exec.LookPath(b.convertCmd[0]); err != nil {
		return &ConfigurationError{Backend: b.Name(), Missing: []string{b.convertCmd[0]}}
	}
	return nil
}

func (b *sayBackend) Render(ctx context.Context, text string, profile book.VoiceProfile) (*audio.Clip, error) {
	text = Clean(text, b.maxChunkSize)
	if text == "" {
		return nil, synthErr(b.Name(), "empty text after cleaning", nil)
	}

	voiceName := macVoiceNames[NormalizeVoiceID(profile.BackendVoice)]
	if voiceName == "" {
		voiceName = "Samantha"
	}
	rate := int(float64(b.rate) * b.speed)

	inPath, cleanIn, err := stageText(text)
	if err != nil {
		return nil, synthErr(b.Name(), "staging failed", err)
	}
	defer cleanIn()

	aiffPath, cleanAIFF, err := stageOutput(".aiff")
	if err != nil {
		return nil, synthErr(b.Name(), "staging failed", err)
	}
	defer cleanAIFF()

	wavPath, cleanWAV, err := stageOutput(".wav")
	if err != nil {
		return nil, synthErr(b.Name(), "staging failed", err)
	}
	defer cleanWAV()

	b.logger.Debug("rendering segment",
		slog.String("voice", voiceName),
		slog.Int("rate_wpm", rate),
		slog.Int("text_len", len(text)))

	sayArgv := append(append([]string{}, b.sayCmd...),
		"-v", voiceName, "-r", strconv.Itoa(rate), "-f", inPath, "-o", aiffPath)
	if err := runEngine(ctx, b.Name(), b.timeout, sayArgv); err != nil {
		return nil, err
	}

	convertArgv := append(append([]string{}, b.convertCmd...),
		"-f", "WAVE", "-d", fmt.Sprintf("LEI16@%d", b.sampleRate), aiffPath, wavPath)
	if err := runEngine(ctx, b.Name(), b.timeout, convertArgv); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(wavPath)
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

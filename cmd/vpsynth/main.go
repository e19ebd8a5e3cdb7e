// vpsynth renders a single chapter from a plain-text file to a WAV file
// without the daemon or the bus. Useful for casting experiments and for
// smoke-testing an engine install.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/voicepages/voicepages-core/internal/audio"
	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/character"
	"github.com/voicepages/voicepages-core/internal/config"
	"github.com/voicepages/voicepages-core/internal/pipeline"
	"github.com/voicepages/voicepages-core/internal/tts"
	"github.com/voicepages/voicepages-core/internal/voicestore"
)

func main() {
	var (
		configPath string
		inPath     string
		outPath    string
		bookID     string
		chapterID  string
		noStore    bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	flag.StringVar(&inPath, "in", "", "Plain-text chapter file to synthesize")
	flag.StringVar(&outPath, "out", "chapter.wav", "Output WAV path")
	flag.StringVar(&bookID, "book", "", "Book identifier, keeps voices stable across chapters")
	flag.StringVar(&chapterID, "chapter", "", "Chapter identifier")
	flag.BoolVar(&noStore, "no-store", false, "Skip the voice store, assignments last for this invocation only")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if inPath == "" {
		logger.Error("missing required -in flag")
		os.Exit(2)
	}
	if bookID == "" {
		bookID = uuid.NewString()
	}
	if chapterID == "" {
		chapterID = uuid.NewString()
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			logger.Error("failed to load config", slog.String("error", err.Error()))
			os.Exit(1)
		}
		cfg = loaded
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Telemetry.SlogLevel(),
	}))

	if err := run(cfg, logger, inPath, outPath, bookID, chapterID, noStore); err != nil {
		logger.Error("synthesis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger, inPath, outPath, bookID, chapterID string, noStore bool) error {
	text, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read chapter text: %w", err)
	}

	backend, err := tts.New(cfg.TTS, logger)
	if err != nil {
		return err
	}

	var store *voicestore.Store
	if !noStore {
		store, err = voicestore.Open(context.Background(), cfg.VoiceStore, logger)
		if err != nil {
			return fmt.Errorf("open voice store: %w", err)
		}
		defer store.Close()
	}

	var llm character.Detector
	if cfg.Detector.Enabled && cfg.Detector.Mode == "ollama" {
		llm = character.NewOllamaDetector(cfg.Detector)
	}
	detector := character.NewTiered(llm, logger)

	notify := func(status pipeline.Status) {
		if status.State == pipeline.StateSynthesizing && status.SegmentsTotal > 0 {
			fmt.Fprintf(os.Stderr, "\rsynthesizing %d/%d", status.SegmentsDone, status.SegmentsTotal)
			return
		}
		fmt.Fprintf(os.Stderr, "\r%s\n", status.State)
	}

	pipe := pipeline.New(cfg, backend, detector, store, notify, logger)
	job, _ := pipe.Generate(book.Chapter{
		BookID: bookID,
		ID:     chapterID,
		Text:   string(text),
	})

	result, err := job.Wait(context.Background())
	if err != nil {
		return err
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	clip := &audio.Clip{Format: result.Audio.Format, PCM: result.Audio.PCM}
	if err := audio.EncodeWAV(clip, f); err != nil {
		f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("%s  %s  %d voices\n", outPath, result.Audio.Duration.Round(100*time.Millisecond), len(result.Mapping))
	return nil
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.TTS.Backend != "mock" {
		t.Fatalf("expected mock backend default, got %q", cfg.TTS.Backend)
	}
	if cfg.Synthesis.PauseMS != 300 {
		t.Fatalf("expected 300ms pause default, got %d", cfg.Synthesis.PauseMS)
	}
	if cfg.Synthesis.NarratorVoice != "af_samantha" {
		t.Fatalf("expected narrator voice default, got %q", cfg.Synthesis.NarratorVoice)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicepages.yaml")
	data := []byte(`
tts:
  backend: kokoro
  sample_rate: 22050
synthesis:
  fan_out: 8
  narrator_voice: bf_emma
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TTS.Backend != "kokoro" {
		t.Fatalf("expected kokoro backend, got %q", cfg.TTS.Backend)
	}
	if cfg.TTS.SampleRate != 22050 {
		t.Fatalf("expected sample rate 22050, got %d", cfg.TTS.SampleRate)
	}
	if cfg.Synthesis.FanOut != 8 {
		t.Fatalf("expected fan out 8, got %d", cfg.Synthesis.FanOut)
	}
	if cfg.Synthesis.NarratorVoice != "bf_emma" {
		t.Fatalf("expected narrator voice override, got %q", cfg.Synthesis.NarratorVoice)
	}
	// untouched sections keep defaults
	if cfg.TTS.MaxChunkSize != 5000 {
		t.Fatalf("expected default max chunk size, got %d", cfg.TTS.MaxChunkSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICEPAGES_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICEPAGES_BUS_EMBEDDED", "false")
	t.Setenv("VOICEPAGES_TTS_BACKEND", "say")
	t.Setenv("VOICEPAGES_TTS_SPEED", "1.25")
	t.Setenv("VOICEPAGES_DETECTOR_ENABLED", "true")
	t.Setenv("VOICEPAGES_DETECTOR_MODE", "ollama")
	t.Setenv("VOICEPAGES_DETECTOR_TIMEOUT_MS", "9000")
	t.Setenv("VOICEPAGES_SYNTHESIS_FAN_OUT", "2")
	t.Setenv("VOICEPAGES_SYNTHESIS_ARTIFACT_DIR", "/tmp/audio")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Embedded {
		t.Fatal("expected embedded override false")
	}
	if cfg.TTS.Backend != "say" {
		t.Fatalf("expected say backend, got %q", cfg.TTS.Backend)
	}
	if cfg.TTS.Speed != 1.25 {
		t.Fatalf("expected speed 1.25, got %v", cfg.TTS.Speed)
	}
	if !cfg.Detector.Enabled || cfg.Detector.Mode != "ollama" {
		t.Fatalf("expected detector overrides, got %+v", cfg.Detector)
	}
	if cfg.Detector.TimeoutMS != 9000 {
		t.Fatalf("expected detector timeout 9000, got %d", cfg.Detector.TimeoutMS)
	}
	if cfg.Synthesis.FanOut != 2 {
		t.Fatalf("expected fan out 2, got %d", cfg.Synthesis.FanOut)
	}
	if cfg.Synthesis.ArtifactDir != "/tmp/audio" {
		t.Fatalf("expected artifact dir override, got %q", cfg.Synthesis.ArtifactDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.TTS.Backend = "espeak" }},
		{"zero sample rate", func(c *Config) { c.TTS.SampleRate = 0 }},
		{"zero fan out", func(c *Config) { c.Synthesis.FanOut = 0 }},
		{"negative pause", func(c *Config) { c.Synthesis.PauseMS = -1 }},
		{"empty artifact dir", func(c *Config) { c.Synthesis.ArtifactDir = "" }},
		{"empty store path", func(c *Config) { c.VoiceStore.Path = "" }},
		{"bad detector mode", func(c *Config) { c.Detector.Enabled = true; c.Detector.Mode = "gpt" }},
		{"no servers external bus", func(c *Config) { c.Bus.Embedded = false; c.Bus.Servers = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"  Debug ", slog.LevelDebug},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		tel := TelemetryConfig{LogLevel: tc.in}
		if got := tel.SlogLevel(); got != tc.want {
			t.Fatalf("SlogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

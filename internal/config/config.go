package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

// SlogLevel maps the configured log level onto a slog level. Unrecognized
// values fall back to info rather than failing startup.
func (t TelemetryConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(t.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type VoiceStoreConfig struct {
	Path string `yaml:"path"`
}

// DetectorConfig controls the LLM tier of character detection. The heuristic
// tier always runs; the LLM tier only runs when enabled and reachable.
type DetectorConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Mode         string `yaml:"mode"` // mock, ollama
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	TimeoutMS    int    `yaml:"timeout_ms"`
	ExcerptChars int    `yaml:"excerpt_chars"`
}

type SayConfig struct {
	Command        string `yaml:"command"`
	ConvertCommand string `yaml:"convert_command"`
	Rate           int    `yaml:"rate_wpm"`
}

type KokoroConfig struct {
	Command    string `yaml:"command"`
	ModelPath  string `yaml:"model_path"`
	VoicesPath string `yaml:"voices_path"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type TTSConfig struct {
	Backend      string       `yaml:"backend"` // mock, say, kokoro, openai
	SampleRate   int          `yaml:"sample_rate"`
	Channels     int          `yaml:"channels"`
	Speed        float64      `yaml:"speed"`
	MaxChunkSize int          `yaml:"max_chunk_size"`
	TimeoutMS    int          `yaml:"timeout_ms"`
	Say          SayConfig    `yaml:"say"`
	Kokoro       KokoroConfig `yaml:"kokoro"`
	OpenAI       OpenAIConfig `yaml:"openai"`
}

type SynthesisConfig struct {
	FanOut        int    `yaml:"fan_out"`
	PauseMS       int    `yaml:"pause_ms"`
	NarratorVoice string `yaml:"narrator_voice"`
	ArtifactDir   string `yaml:"artifact_dir"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	VoiceStore  VoiceStoreConfig `yaml:"voice_store"`
	Detector    DetectorConfig   `yaml:"detector"`
	TTS         TTSConfig        `yaml:"tts"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
}

func Default() Config {
	return Config{
		RuntimeName: "voicepages-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 9000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		VoiceStore: VoiceStoreConfig{
			Path: "./data/voicepages.db",
		},
		Detector: DetectorConfig{
			Enabled:      false,
			Mode:         "mock",
			Endpoint:     "http://localhost:11434",
			Model:        "llama3.2:latest",
			TimeoutMS:    15000,
			ExcerptChars: 8000,
		},
		TTS: TTSConfig{
			Backend:      "mock",
			SampleRate:   24000,
			Channels:     1,
			Speed:        1.0,
			MaxChunkSize: 5000,
			TimeoutMS:    120000,
			Say: SayConfig{
				Command:        "say",
				ConvertCommand: "afconvert",
				Rate:           180,
			},
			Kokoro: KokoroConfig{
				Command:    "python3 -m kokoro_tts",
				ModelPath:  "./storage/kokoro-v1.0.onnx",
				VoicesPath: "./storage/voices-v1.0.bin",
			},
			OpenAI: OpenAIConfig{
				BaseURL: "http://localhost:8000/v1",
				Model:   "mlx-community/Kokoro-82M-bf16",
			},
		},
		Synthesis: SynthesisConfig{
			FanOut:        4,
			PauseMS:       300,
			NarratorVoice: "af_samantha",
			ArtifactDir:   "./data/audio",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOICEPAGES_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICEPAGES_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICEPAGES_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEPAGES_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEPAGES_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEPAGES_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEPAGES_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICEPAGES_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "VOICEPAGES_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEPAGES_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOICEPAGES_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEPAGES_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICEPAGES_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICEPAGES_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICEPAGES_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICEPAGES_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEPAGES_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.VoiceStore.Path, "VOICEPAGES_VOICE_STORE_PATH")
	overrideBool(&cfg.Detector.Enabled, "VOICEPAGES_DETECTOR_ENABLED")
	overrideString(&cfg.Detector.Mode, "VOICEPAGES_DETECTOR_MODE")
	overrideString(&cfg.Detector.Endpoint, "VOICEPAGES_DETECTOR_ENDPOINT")
	overrideString(&cfg.Detector.Model, "VOICEPAGES_DETECTOR_MODEL")
	overrideInt(&cfg.Detector.TimeoutMS, "VOICEPAGES_DETECTOR_TIMEOUT_MS")
	overrideInt(&cfg.Detector.ExcerptChars, "VOICEPAGES_DETECTOR_EXCERPT_CHARS")
	overrideString(&cfg.TTS.Backend, "VOICEPAGES_TTS_BACKEND")
	overrideInt(&cfg.TTS.SampleRate, "VOICEPAGES_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "VOICEPAGES_TTS_CHANNELS")
	overrideFloat(&cfg.TTS.Speed, "VOICEPAGES_TTS_SPEED")
	overrideInt(&cfg.TTS.MaxChunkSize, "VOICEPAGES_TTS_MAX_CHUNK_SIZE")
	overrideInt(&cfg.TTS.TimeoutMS, "VOICEPAGES_TTS_TIMEOUT_MS")
	overrideString(&cfg.TTS.Say.Command, "VOICEPAGES_TTS_SAY_COMMAND")
	overrideString(&cfg.TTS.Say.ConvertCommand, "VOICEPAGES_TTS_SAY_CONVERT_COMMAND")
	overrideInt(&cfg.TTS.Say.Rate, "VOICEPAGES_TTS_SAY_RATE_WPM")
	overrideString(&cfg.TTS.Kokoro.Command, "VOICEPAGES_TTS_KOKORO_COMMAND")
	overrideString(&cfg.TTS.Kokoro.ModelPath, "VOICEPAGES_TTS_KOKORO_MODEL_PATH")
	overrideString(&cfg.TTS.Kokoro.VoicesPath, "VOICEPAGES_TTS_KOKORO_VOICES_PATH")
	overrideString(&cfg.TTS.OpenAI.BaseURL, "VOICEPAGES_TTS_OPENAI_BASE_URL")
	overrideString(&cfg.TTS.OpenAI.APIKey, "VOICEPAGES_TTS_OPENAI_API_KEY")
	overrideString(&cfg.TTS.OpenAI.Model, "VOICEPAGES_TTS_OPENAI_MODEL")
	overrideInt(&cfg.Synthesis.FanOut, "VOICEPAGES_SYNTHESIS_FAN_OUT")
	overrideInt(&cfg.Synthesis.PauseMS, "VOICEPAGES_SYNTHESIS_PAUSE_MS")
	overrideString(&cfg.Synthesis.NarratorVoice, "VOICEPAGES_SYNTHESIS_NARRATOR_VOICE")
	overrideString(&cfg.Synthesis.ArtifactDir, "VOICEPAGES_SYNTHESIS_ARTIFACT_DIR")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.VoiceStore.Path == "" {
		return errors.New("voice_store.path must not be empty")
	}
	if cfg.Detector.Enabled {
		switch cfg.Detector.Mode {
		case "mock", "ollama":
		default:
			return errors.New("detector.mode must be one of mock|ollama")
		}
		if cfg.Detector.Mode == "ollama" && cfg.Detector.Endpoint == "" {
			return errors.New("detector.endpoint must be set when mode=ollama")
		}
		if cfg.Detector.TimeoutMS <= 0 {
			return errors.New("detector.timeout_ms must be positive")
		}
		if cfg.Detector.ExcerptChars <= 0 {
			return errors.New("detector.excerpt_chars must be positive")
		}
	}
	switch cfg.TTS.Backend {
	case "mock", "say", "kokoro", "openai":
	default:
		return errors.New("tts.backend must be one of mock|say|kokoro|openai")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.Speed <= 0 {
		return errors.New("tts.speed must be positive")
	}
	if cfg.TTS.MaxChunkSize <= 0 {
		return errors.New("tts.max_chunk_size must be positive")
	}
	if cfg.TTS.TimeoutMS <= 0 {
		return errors.New("tts.timeout_ms must be positive")
	}
	if cfg.TTS.Backend == "say" && cfg.TTS.Say.Command == "" {
		return errors.New("tts.say.command must be set when backend=say")
	}
	if cfg.TTS.Backend == "kokoro" && cfg.TTS.Kokoro.Command == "" {
		return errors.New("tts.kokoro.command must be set when backend=kokoro")
	}
	if cfg.TTS.Backend == "openai" && cfg.TTS.OpenAI.BaseURL == "" && cfg.TTS.OpenAI.APIKey == "" {
		return errors.New("tts.openai.base_url or tts.openai.api_key must be set when backend=openai")
	}
	if cfg.Synthesis.FanOut <= 0 {
		return errors.New("synthesis.fan_out must be >= 1")
	}
	if cfg.Synthesis.PauseMS < 0 {
		return errors.New("synthesis.pause_ms must be >= 0")
	}
	if cfg.Synthesis.ArtifactDir == "" {
		return errors.New("synthesis.artifact_dir must not be empty")
	}
	return nil
}

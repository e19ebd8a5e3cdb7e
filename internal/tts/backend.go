package tts

import (
	"fmt"
	"log/slog"

	"github.com/voicepages/voicepages-core/internal/config"
)

// New selects the configured engine variant. The set is closed; adding an
// engine means adding a variant here, never branching on strings elsewhere.
func New(cfg config.TTSConfig, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "mock":
		return NewMock(cfg), nil
	case "say":
		return NewSay(cfg, logger)
	case "kokoro":
		return NewKokoro(cfg, logger)
	case "openai":
		return NewOpenAI(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown tts backend %q", cfg.Backend)
	}
}

package character

import (
	"context"
	"time"

	"github.com/voicepages/voicepages-core/internal/book"
)

type mockDetector struct {
	characters []book.Character
}

// NewMockDetector returns an LLM-tier stand-in producing a fixed roster.
func NewMockDetector(characters []book.Character) Detector {
	return &mockDetector{characters: characters}
}

func (m *mockDetector) Detect(ctx context.Context, text string) ([]book.Character, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	out := make([]book.Character, len(m.characters))
	copy(out, m.characters)
	return out, nil
}

package tts

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/voicepages/voicepages-core/internal/audio"
	"github.com/voicepages/voicepages-core/internal/book"
)

// Voice is one synthesizer voice with casting metadata.
type Voice struct {
	ID     string
	Name   string
	Gender string
	Accent string
	Style  string
}

// Backend is the uniform contract over the text-to-speech engines. The set
// of variants is closed and one is selected at configuration time.
type Backend interface {
	// Name identifies the engine variant.
	Name() string
	// Voices lists the pool available for assignment.
	Voices() []Voice
	// Ready reports whether required engine assets are present. A failure
	// here is a configuration problem, not a per-request one.
	Ready() error
	// Render synthesizes one non-empty text segment with the given voice.
	// It returns a clip with a declared format, or a SynthesisError.
	Render(ctx context.Context, text string, profile book.VoiceProfile) (*audio.Clip, error)
}

// Clean sanitizes text for engine hand-off: control garbage dropped,
// whitespace runs collapsed, length capped. Engines choke on NUL bytes and
// replacement runes in scanned book text.
func Clean(text string, maxChunk int) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "�", "")
	text = strings.Join(strings.Fields(text), " ")
	if maxChunk > 0 && len(text) > maxChunk {
		cut := text[:runeFloor(text, maxChunk)]
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		text = cut
	}
	return text
}

// runeFloor moves a byte offset back to the nearest rune boundary.
func runeFloor(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

package book

import (
	"strings"
	"time"
)

// NarratorKey is the reserved canonical key for the narrator. Detection and
// assignment always collapse narrator spellings to this key, so a book never
// carries more than one narrator entry.
const NarratorKey = "narrator"

// Chapter is one unit of plain chapter text handed over by the ingestion
// collaborator. Immutable once created.
type Chapter struct {
	BookID string
	ID     string
	Title  string
	Text   string
}

// Character is one speaking identity within a book, keyed by its canonical
// form. DisplayName keeps the casing seen in the text for presentation.
type Character struct {
	Key         string
	DisplayName string
	Gender      string // male, female, unknown
	Role        string // main, supporting, minor, system
	VoiceID     string
	Narrator    bool
}

// VoiceProfile binds a character to a synthesizer-specific voice. Profiles
// are created on first assignment and reused for the life of the book.
type VoiceProfile struct {
	ID           string
	Backend      string
	BackendVoice string
	Language     string
	Gender       string
	Style        string
}

// Roster is the detected character set for a chapter or book.
type Roster struct {
	Characters []Character
	DetectedAt time.Time
}

// Canonicalize lowercases a display name and collapses internal whitespace,
// producing the identity key used for deduplication.
func Canonicalize(name string) string {
	fields := strings.Fields(strings.ToLower(name))
	return strings.Join(fields, " ")
}

// IsNarratorName reports whether a display name refers to the narrator.
func IsNarratorName(name string) bool {
	return Canonicalize(name) == NarratorKey
}

// Narrator returns the reserved narrator character.
func Narrator() Character {
	return Character{
		Key:         NarratorKey,
		DisplayName: "Narrator",
		Gender:      "unknown",
		Role:        "system",
		Narrator:    true,
	}
}

// Find returns the character with the given canonical key, if present.
func (r Roster) Find(key string) (Character, bool) {
	for _, c := range r.Characters {
		if c.Key == key {
			return c, true
		}
	}
	return Character{}, false
}

// Keys returns the canonical keys in roster order.
func (r Roster) Keys() []string {
	keys := make([]string, 0, len(r.Characters))
	for _, c := range r.Characters {
		keys = append(keys, c.Key)
	}
	return keys
}

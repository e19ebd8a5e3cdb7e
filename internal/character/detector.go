// Package character identifies the speaking characters of a chapter. A
// heuristic tier derives candidates from the segmenter's attribution
// matches; an optional LLM tier widens the roster and contributes
// gender/role hints. Heuristic names stay authoritative for segment-level
// attribution since they are traceable to text offsets.
package character

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/segment"
)

// Detector extracts a character roster from chapter text.
type Detector interface {
	Detect(ctx context.Context, text string) ([]book.Character, error)
}

// Tiered combines the LLM tier with the always-on heuristic tier. A nil or
// failing LLM detector degrades to heuristic-only detection; LLM errors are
// absorbed here and never reach the caller.
type Tiered struct {
	llm    Detector
	logger *slog.Logger
}

func NewTiered(llm Detector, logger *slog.Logger) *Tiered {
	return &Tiered{llm: llm, logger: logger.With(slog.String("component", "character-detector"))}
}

// Detect returns the merged roster. The narrator is always present exactly
// once under the reserved key, whichever tier produced it.
func (t *Tiered) Detect(ctx context.Context, text string) (book.Roster, error) {
	merged := map[string]book.Character{
		book.NarratorKey: book.Narrator(),
	}

	for key, name := range segment.Speakers(segment.All(text)) {
		if key == book.NarratorKey {
			continue
		}
		merged[key] = book.Character{
			Key:         key,
			DisplayName: name,
			Gender:      "unknown",
			Role:        "main",
		}
	}

	if t.llm != nil {
		start := time.Now()
		hints, err := t.llm.Detect(ctx, text)
		if err != nil {
			t.logger.Warn("llm character detection failed, using heuristic tier only",
				slog.String("error", err.Error()),
				slog.Duration("elapsed", time.Since(start)))
		} else {
			mergeHints(merged, hints)
		}
	}

	roster := book.Roster{DetectedAt: time.Now().UTC()}
	for _, c := range merged {
		roster.Characters = append(roster.Characters, c)
	}
	sort.Slice(roster.Characters, func(i, j int) bool {
		return roster.Characters[i].Key < roster.Characters[j].Key
	})
	return roster, nil
}

// mergeHints folds LLM output into the heuristic roster. Existing entries
// keep their heuristic identity and only pick up gender/role hints; names
// the heuristic never saw join the roster. Narrator spellings collapse into
// the single reserved entry.
func mergeHints(merged map[string]book.Character, hints []book.Character) {
	for _, h := range hints {
		key := book.Canonicalize(h.DisplayName)
		if key == "" {
			continue
		}
		if key == book.NarratorKey || h.Narrator {
			continue
		}
		if existing, ok := merged[key]; ok {
			if existing.Gender == "unknown" && h.Gender != "" {
				existing.Gender = h.Gender
			}
			if h.Role != "" {
				existing.Role = h.Role
			}
			merged[key] = existing
			continue
		}
		merged[key] = book.Character{
			Key:         key,
			DisplayName: h.DisplayName,
			Gender:      orUnknown(h.Gender),
			Role:        orDefault(h.Role, "supporting"),
		}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

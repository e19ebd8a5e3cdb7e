// Package voice maintains the book-scoped character → voice binding. The
// table is the only mutable state shared between chapter generations of one
// book, so every mutation happens under the table's lock.
package voice

import (
	"fmt"
	"sync"

	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/tts"
)

// Table holds one book's characters and their voice profiles. Loaded from
// the store when a pipeline starts and persisted when it ends.
type Table struct {
	mu         sync.Mutex
	BookID     string
	Characters map[string]book.Character
	Profiles   map[string]book.VoiceProfile
}

func NewTable(bookID string) *Table {
	return &Table{
		BookID:     bookID,
		Characters: make(map[string]book.Character),
		Profiles:   make(map[string]book.VoiceProfile),
	}
}

// Snapshot returns copies of the table maps for persistence.
func (t *Table) Snapshot() (map[string]book.Character, map[string]book.VoiceProfile) {
	t.mu.Lock()
	defer t.mu.Unlock()
	chars := make(map[string]book.Character, len(t.Characters))
	for k, v := range t.Characters {
		chars[k] = v
	}
	profiles := make(map[string]book.VoiceProfile, len(t.Profiles))
	for k, v := range t.Profiles {
		profiles[k] = v
	}
	return chars, profiles
}

// Assigner maps detected characters onto a backend's voice pool.
type Assigner struct {
	backendName   string
	pool          []tts.Voice
	narratorVoice string
	language      string
}

func NewAssigner(backend tts.Backend, narratorVoice, language string) *Assigner {
	return &Assigner{
		backendName:   backend.Name(),
		pool:          backend.Voices(),
		narratorVoice: narratorVoice,
		language:      language,
	}
}

// Assign returns a complete canonical-key → profile mapping covering the
// narrator and every roster character. Previously assigned characters keep
// their voice; new ones get a deterministic gender-preferred pick that
// avoids the narrator's voice and any voice already bound in this book.
// When the pool runs out, voices repeat in pool order.
func (a *Assigner) Assign(table *Table, roster book.Roster) (map[string]book.VoiceProfile, error) {
	if len(a.pool) == 0 {
		return nil, fmt.Errorf("backend %s exposes no voices", a.backendName)
	}

	table.mu.Lock()
	defer table.mu.Unlock()

	used := make(map[string]bool)
	for _, c := range table.Characters {
		if c.VoiceID != "" {
			used[c.VoiceID] = true
		}
	}

	narratorVoice := a.ensureNarrator(table, used)

	mapping := map[string]book.VoiceProfile{
		book.NarratorKey: table.Profiles[table.Characters[book.NarratorKey].VoiceID],
	}

	// roster arrives sorted by canonical key, keeping picks deterministic
	for _, c := range roster.Characters {
		if c.Key == book.NarratorKey {
			continue
		}
		if existing, ok := table.Characters[c.Key]; ok && existing.VoiceID != "" {
			mapping[c.Key] = table.Profiles[existing.VoiceID]
			continue
		}
		voice := a.pick(c, used, narratorVoice, len(table.Characters))
		profile := a.profileFor(voice)
		table.Profiles[profile.ID] = profile
		c.VoiceID = profile.ID
		table.Characters[c.Key] = c
		used[profile.ID] = true
		mapping[c.Key] = profile
	}
	return mapping, nil
}

// ensureNarrator installs the reserved narrator entry on first use and
// returns its voice ID.
func (a *Assigner) ensureNarrator(table *Table, used map[string]bool) string {
	if existing, ok := table.Characters[book.NarratorKey]; ok && existing.VoiceID != "" {
		return existing.VoiceID
	}
	voice := a.voiceByID(a.narratorVoice)
	if voice == nil {
		voice = &a.pool[0]
	}
	profile := a.profileFor(*voice)
	table.Profiles[profile.ID] = profile
	narrator := book.Narrator()
	narrator.VoiceID = profile.ID
	table.Characters[book.NarratorKey] = narrator
	used[profile.ID] = true
	return profile.ID
}

func (a *Assigner) pick(c book.Character, used map[string]bool, narratorVoice string, assigned int) tts.Voice {
	candidates := a.candidates(c.Gender, used, narratorVoice)
	if len(candidates) > 0 {
		return candidates[0]
	}
	// pool exhausted: minor characters reuse voices in pool order,
	// still avoiding the narrator's
	reusable := a.candidates(c.Gender, nil, narratorVoice)
	if len(reusable) == 0 {
		reusable = a.pool
	}
	return reusable[assigned%len(reusable)]
}

func (a *Assigner) candidates(gender string, used map[string]bool, narratorVoice string) []tts.Voice {
	var matched, rest []tts.Voice
	for _, v := range a.pool {
		id := a.profileID(v)
		if id == narratorVoice || used[id] {
			continue
		}
		if gender != "" && gender != "unknown" && v.Gender == gender {
			matched = append(matched, v)
		} else {
			rest = append(rest, v)
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return rest
}

func (a *Assigner) voiceByID(id string) *tts.Voice {
	id = tts.NormalizeVoiceID(id)
	for i := range a.pool {
		if a.pool[i].ID == id {
			return &a.pool[i]
		}
	}
	return nil
}

func (a *Assigner) profileID(v tts.Voice) string {
	return a.backendName + "/" + v.ID
}

func (a *Assigner) profileFor(v tts.Voice) book.VoiceProfile {
	return book.VoiceProfile{
		ID:           a.profileID(v),
		Backend:      a.backendName,
		BackendVoice: v.ID,
		Language:     a.language,
		Gender:       v.Gender,
		Style:        v.Style,
	}
}

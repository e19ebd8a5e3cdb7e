package tts

import "strings"

// kokoroVoiceIDs is the neural engine's voice inventory. The two-letter
// prefix encodes accent and gender (af = american female, bm = british
// male, and so on).
var kokoroVoiceIDs = []string{
	"af_alloy", "af_aoede", "af_bella", "af_heart", "af_jessica",
	"af_kore", "af_nicole", "af_nova", "af_river", "af_sarah", "af_sky",
	"am_adam", "am_echo", "am_eric", "am_fenrir", "am_liam",
	"am_michael", "am_onyx", "am_puck",
	"bf_alice", "bf_emma", "bf_isabella", "bf_lily",
	"bm_daniel", "bm_fable", "bm_george", "bm_lewis",
}

// macVoiceNames maps pool voice IDs to macOS system voices for the say
// backend.
var macVoiceNames = map[string]string{
	"af_sky": "Samantha", "af_heart": "Victoria", "af_bella": "Zoey",
	"af_nova": "Samantha", "af_sarah": "Allison", "af_nicole": "Samantha",
	"af_samantha": "Samantha", "af_victoria": "Victoria", "af_allison": "Allison",
	"af_zoey": "Zoey", "af_ava": "Ava",
	"am_adam": "Daniel", "am_echo": "Alex", "am_michael": "Daniel",
	"am_liam": "Alex", "am_alex": "Alex", "am_daniel": "Daniel", "am_fred": "Fred",
	"bm_daniel": "Daniel", "bm_george": "Oliver", "bm_lewis": "Oliver",
	"bm_fable": "Oliver", "bm_oliver": "Oliver",
	"bf_alice": "Samantha", "bf_emma": "Samantha", "bf_lily": "Samantha",
	"bf_isabella": "Samantha", "bf_amelie": "Amelie",
}

// legacyVoiceAliases folds voice IDs from earlier releases into the current
// pool so stored profiles keep resolving.
var legacyVoiceAliases = map[string]string{
	"af_samantha": "af_sky",
	"af_shimmer":  "af_nova",
	"am_ralph":    "am_fred",
	"bm_felix":    "bm_george",
	"bf_daniel":   "bm_daniel",
}

// NormalizeVoiceID resolves legacy aliases to current pool IDs.
func NormalizeVoiceID(id string) string {
	if current, ok := legacyVoiceAliases[id]; ok {
		return current
	}
	return id
}

// voiceFromID derives casting metadata from a pool voice ID.
func voiceFromID(id string) Voice {
	v := Voice{ID: id, Name: id, Gender: "unknown", Accent: "american", Style: "standard"}
	parts := strings.SplitN(id, "_", 2)
	if len(parts) == 2 && parts[1] != "" {
		v.Name = strings.ToUpper(parts[1][:1]) + parts[1][1:]
	}
	if len(parts[0]) == 2 {
		switch parts[0][0] {
		case 'a':
			v.Accent = "american"
		case 'b':
			v.Accent = "british"
		}
		switch parts[0][1] {
		case 'f':
			v.Gender = "female"
		case 'm':
			v.Gender = "male"
		}
	}
	return v
}

func poolFromIDs(ids []string) []Voice {
	pool := make([]Voice, 0, len(ids))
	for _, id := range ids {
		pool = append(pool, voiceFromID(id))
	}
	return pool
}

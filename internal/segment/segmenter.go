package segment

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Kind classifies a segment as narration or attributed dialogue.
type Kind string

const (
	Narration Kind = "narration"
	Dialogue  Kind = "dialogue"
)

// Segment is one contiguous run of chapter text. Start and End are byte
// offsets into the source text; together the segments of a chapter cover it
// in strictly increasing offset order with nothing beyond whitespace between
// them. Speaker is the canonical character key and stays empty until
// attribution resolves it; unresolved segments default to the narrator at
// voice lookup time.
type Segment struct {
	Index       int
	Start       int
	End         int
	Text        string
	Kind        Kind
	Speaker     string
	SpeakerName string
}

// speechVerbs is the attribution vocabulary. A quoted span only becomes
// dialogue when one of these verbs pairs with a name in the adjacent clause.
var speechVerbs = []string{
	"said", "replied", "asked", "whispered", "shouted", "called", "murmured",
	"yelled", "answered", "sighed", "breathed", "hissed", "growled",
	"declared", "demanded", "insisted", "suggested", "continued", "added",
	"agreed", "warned", "pleaded", "begged", "barked", "ordered", "screamed",
	"announced", "laughed", "smiled", "grinned", "chuckled", "groaned",
	"stammered", "stuttered", "sobbed", "wailed", "roared", "sneered",
	"scoffed", "retorted", "interrupted", "protested", "conceded",
	"acknowledged", "remarked", "observed", "noted", "commented", "explained",
	"offered", "urged", "prompted", "wondered", "mused", "pondered",
	"repeated", "finished", "began", "started", "managed", "attempted",
	"tried", "stated", "spoke",
}

const (
	// namePat accepts one or two capitalized words. The optional contraction
	// suffix keeps "She'd said" and "John's reply" style boundaries from
	// breaking the name match on the apostrophe.
	namePat        = `([A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)?)`
	contractionPat = `(?:['\x{2019}](?:d|s|ll))?`

	// windowBytes bounds how far around a quote attribution is searched
	// before the sentence limit is applied.
	windowBytes = 400
	// windowSentences limits the attribution window to the clauses directly
	// adjacent to the quote.
	windowSentences = 2
)

var (
	quoteRe = regexp.MustCompile(`["\x{201C}\x{201D}]([^"\x{201C}\x{201D}]+)["\x{201C}\x{201D}]`)

	verbAlt = strings.Join(speechVerbs, "|")

	// John said, / She'd whispered:  (anchored at the end of the text
	// preceding the quote)
	beforeNameVerbRe = regexp.MustCompile(namePat + contractionPat + `\s(?:` + verbAlt + `)\s?[,.:]?\s?$`)
	// said John:  (verb-first form preceding the quote)
	beforeVerbNameRe = regexp.MustCompile(`(?:` + verbAlt + `)\s` + namePat + `\s?[,.:]?\s?$`)

	// , said John.  (anchored at the start of the text following the quote)
	afterVerbNameRe = regexp.MustCompile(`^[,.;]?\s?(?:` + verbAlt + `)\s` + namePat)
	// , John whispered.
	afterNameVerbRe = regexp.MustCompile(`^[,.;]?\s?` + namePat + contractionPat + `\s(?:` + verbAlt + `)\b`)
)

// Scanner yields the ordered segments of one chapter text. It is cheap to
// construct; restart by constructing a new one over the same text.
type Scanner struct {
	text    string
	quotes  [][]int
	qi      int
	lastEnd int
	index   int
	queue   []Segment
	cur     Segment
}

// NewScanner prepares a scan over chapter text.
func NewScanner(text string) *Scanner {
	return &Scanner{
		text:   text,
		quotes: quoteRe.FindAllStringSubmatchIndex(text, -1),
	}
}

// Next advances to the next segment, returning false once the text is
// exhausted.
func (s *Scanner) Next() bool {
	for len(s.queue) == 0 {
		if !s.fill() {
			return false
		}
	}
	s.cur = s.queue[0]
	s.cur.Index = s.index
	s.index++
	s.queue = s.queue[1:]
	return true
}

// Segment returns the segment produced by the last call to Next.
func (s *Scanner) Segment() Segment { return s.cur }

// fill produces the next batch of segments (the narration run before a
// quote, then the quote itself) or the trailing narration.
func (s *Scanner) fill() bool {
	if s.qi >= len(s.quotes) {
		if s.lastEnd >= len(s.text) {
			return false
		}
		s.pushNarration(s.lastEnd, len(s.text))
		s.lastEnd = len(s.text)
		return len(s.queue) > 0
	}

	m := s.quotes[s.qi]
	s.qi++
	start, end := m[0], m[1]
	inner := s.text[m[2]:m[3]]

	if start > s.lastEnd {
		s.pushNarration(s.lastEnd, start)
	}

	name := s.attribute(start, end)
	seg := Segment{
		Start: start,
		End:   end,
		Text:  strings.TrimSpace(inner),
		Kind:  Narration,
	}
	if name != "" {
		seg.Kind = Dialogue
		seg.SpeakerName = name
		seg.Speaker = canonical(name)
	}
	if seg.Text != "" {
		s.queue = append(s.queue, seg)
	}
	s.lastEnd = end
	return len(s.queue) > 0
}

func (s *Scanner) pushNarration(start, end int) {
	text := strings.TrimSpace(s.text[start:end])
	if text == "" {
		return
	}
	s.queue = append(s.queue, Segment{
		Start: start,
		End:   end,
		Text:  text,
		Kind:  Narration,
	})
}

// attribute searches the clauses adjacent to a quote span for a
// name/speech-verb pairing and returns the display name, or "".
func (s *Scanner) attribute(start, end int) string {
	before := windowBefore(s.text, start, s.lastEnd)
	after := windowAfter(s.text, end, s.nextQuoteStart())

	if m := beforeNameVerbRe.FindStringSubmatch(before); m != nil {
		return m[1]
	}
	if m := beforeVerbNameRe.FindStringSubmatch(before); m != nil {
		return m[1]
	}
	if m := afterVerbNameRe.FindStringSubmatch(after); m != nil {
		return m[1]
	}
	if m := afterNameVerbRe.FindStringSubmatch(after); m != nil {
		return m[1]
	}
	return ""
}

func (s *Scanner) nextQuoteStart() int {
	if s.qi < len(s.quotes) {
		return s.quotes[s.qi][0]
	}
	return len(s.text)
}

// windowBefore returns the normalized clause window preceding a quote,
// never crossing the previous segment boundary.
func windowBefore(text string, quoteStart, floor int) string {
	lo := floor
	if quoteStart-lo > windowBytes {
		lo = runeFloor(text, quoteStart-windowBytes)
	}
	w := normalize(text[lo:quoteStart])
	return tailSentences(w, windowSentences)
}

// windowAfter returns the normalized clause window following a quote,
// never crossing into the next quote.
func windowAfter(text string, quoteEnd, ceil int) string {
	hi := ceil
	if hi-quoteEnd > windowBytes {
		hi = runeFloor(text, quoteEnd+windowBytes)
	}
	w := normalize(text[quoteEnd:hi])
	return headSentences(w, windowSentences)
}

// normalize collapses every run of whitespace to a single space so the
// attribution patterns match regardless of the source formatting.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func tailSentences(s string, n int) string {
	count := 0
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			if i == len(s)-1 {
				continue
			}
			count++
			if count >= n {
				return strings.TrimSpace(s[i+1:])
			}
		}
	}
	return s
}

func headSentences(s string, n int) string {
	count := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			count++
			if count >= n {
				return s[:i+1]
			}
		}
	}
	return s
}

// runeFloor moves a byte offset back to the nearest rune boundary.
func runeFloor(s string, i int) int {
	if i < 0 {
		return 0
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func canonical(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// All runs a full scan and returns every segment in offset order.
func All(text string) []Segment {
	var segs []Segment
	sc := NewScanner(text)
	for sc.Next() {
		segs = append(segs, sc.Segment())
	}
	return segs
}

// Speakers returns the distinct attributed speaker names in order of first
// appearance, keyed by canonical form. This feeds the heuristic tier of
// character detection.
func Speakers(segs []Segment) map[string]string {
	speakers := make(map[string]string)
	for _, seg := range segs {
		if seg.Kind != Dialogue || seg.Speaker == "" {
			continue
		}
		if _, ok := speakers[seg.Speaker]; !ok {
			speakers[seg.Speaker] = seg.SpeakerName
		}
	}
	return speakers
}

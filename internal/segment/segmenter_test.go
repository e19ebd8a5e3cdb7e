package segment

import (
	"strings"
	"testing"
)

func TestAllAlternatingDialogue(t *testing.T) {
	text := `Alice said, "Hello there." Bob whispered, "Don't wake the baby."`
	segs := All(text)

	if len(segs) != 4 {
		t.Fatalf("expected 4 segments, got %d: %+v", len(segs), segs)
	}

	want := []struct {
		kind    Kind
		speaker string
		text    string
	}{
		{Narration, "", "Alice said,"},
		{Dialogue, "alice", "Hello there."},
		{Narration, "", "Bob whispered,"},
		{Dialogue, "bob", "Don't wake the baby."},
	}
	for i, w := range want {
		if segs[i].Kind != w.kind {
			t.Fatalf("segment %d: expected kind %s, got %s", i, w.kind, segs[i].Kind)
		}
		if segs[i].Speaker != w.speaker {
			t.Fatalf("segment %d: expected speaker %q, got %q", i, w.speaker, segs[i].Speaker)
		}
		if segs[i].Text != w.text {
			t.Fatalf("segment %d: expected text %q, got %q", i, w.text, segs[i].Text)
		}
	}
}

func TestAllOffsetsOrderedAndCovering(t *testing.T) {
	text := "The wind howled. \"Close the door,\" said Martha. Nobody moved.\nShe sighed. \"Fine.\""
	segs := All(text)
	if len(segs) == 0 {
		t.Fatal("expected segments")
	}

	last := 0
	for i, seg := range segs {
		if seg.Index != i {
			t.Fatalf("expected index %d, got %d", i, seg.Index)
		}
		if seg.Start < last {
			t.Fatalf("segment %d starts at %d before previous end %d", i, seg.Start, last)
		}
		if seg.End <= seg.Start {
			t.Fatalf("segment %d has empty span [%d,%d)", i, seg.Start, seg.End)
		}
		// nothing beyond whitespace and quote punctuation between segments
		gap := strings.Trim(text[last:seg.Start], " \t\n\"“”")
		if gap != "" {
			t.Fatalf("uncovered text %q before segment %d", gap, i)
		}
		last = seg.End
	}
	if tail := strings.Trim(text[last:], " \t\n\"“”"); tail != "" {
		t.Fatalf("uncovered trailing text %q", tail)
	}
}

func TestAttributionAfterQuote(t *testing.T) {
	text := `"Hello," said Tom. He left without another word.`
	segs := All(text)

	if segs[0].Kind != Dialogue || segs[0].Speaker != "tom" {
		t.Fatalf("expected dialogue attributed to tom, got %+v", segs[0])
	}
	if segs[1].Kind != Narration {
		t.Fatalf("expected trailing narration, got %+v", segs[1])
	}
}

func TestAttributionWhitespaceInsensitive(t *testing.T) {
	single := All(`John said, "We leave at dawn."`)
	double := All("John  said, \"We leave at dawn.\"")
	wrapped := All("John\nsaid, \"We leave at dawn.\"")

	for name, segs := range map[string][]Segment{"single": single, "double": double, "newline": wrapped} {
		found := false
		for _, seg := range segs {
			if seg.Kind == Dialogue && seg.Speaker == "john" {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s spacing: expected dialogue attributed to john, got %+v", name, segs)
		}
	}
}

func TestAttributionContraction(t *testing.T) {
	text := `Marianne'd whispered, "They know."`
	segs := All(text)
	found := false
	for _, seg := range segs {
		if seg.Kind == Dialogue && seg.Speaker == "marianne" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected contraction form to attribute to marianne, got %+v", segs)
	}
}

func TestAttributionTwoWordName(t *testing.T) {
	text := `"This way," Mary Jane called.`
	segs := All(text)
	if segs[0].Speaker != "mary jane" || segs[0].SpeakerName != "Mary Jane" {
		t.Fatalf("expected two-word name attribution, got %+v", segs[0])
	}
}

func TestUnattributedQuoteStaysNarration(t *testing.T) {
	text := `The sign read "No Entry" in fading red paint.`
	segs := All(text)

	for _, seg := range segs {
		if seg.Kind == Dialogue {
			t.Fatalf("expected no dialogue without a speech verb pairing, got %+v", seg)
		}
		if seg.Speaker != "" {
			t.Fatalf("expected empty speaker, got %q", seg.Speaker)
		}
	}
}

func TestCurlyQuotes(t *testing.T) {
	text := "Elena replied, “Not today.”"
	segs := All(text)
	found := false
	for _, seg := range segs {
		if seg.Kind == Dialogue && seg.Speaker == "elena" && seg.Text == "Not today." {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected curly-quoted dialogue attributed to elena, got %+v", segs)
	}
}

func TestAttributionWindowDoesNotCrossQuotes(t *testing.T) {
	// the clause after the first quote belongs to the second quote's
	// narration, not to the first quote's attribution window
	text := `"Wait." The door slammed. Hours later Victor said, "Too late."`
	segs := All(text)

	if segs[0].Kind != Narration {
		t.Fatalf("expected first quote unattributed, got %+v", segs[0])
	}
	var last Segment
	for _, seg := range segs {
		last = seg
	}
	if last.Kind != Dialogue || last.Speaker != "victor" {
		t.Fatalf("expected final quote attributed to victor, got %+v", last)
	}
}

func TestAllEmptyText(t *testing.T) {
	if segs := All(""); len(segs) != 0 {
		t.Fatalf("expected no segments for empty text, got %+v", segs)
	}
	if segs := All("   \n\t "); len(segs) != 0 {
		t.Fatalf("expected no segments for blank text, got %+v", segs)
	}
}

func TestSpeakersFirstAppearance(t *testing.T) {
	text := `Anna said, "One." Ben said, "Two." Anna said, "Three."`
	speakers := Speakers(All(text))

	if len(speakers) != 2 {
		t.Fatalf("expected 2 speakers, got %v", speakers)
	}
	if speakers["anna"] != "Anna" || speakers["ben"] != "Ben" {
		t.Fatalf("unexpected speaker map: %v", speakers)
	}
}

func TestScannerRestart(t *testing.T) {
	text := `Nora said, "Go."`
	first := All(text)
	second := All(text)
	if len(first) != len(second) {
		t.Fatalf("scan not repeatable: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("segment %d differs between scans", i)
		}
	}
}

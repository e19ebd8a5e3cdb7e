// Package protocol defines the bus messages exchanged with the ingestion
// and API collaborators.
package protocol

import "time"

// SynthesisRequest asks for one chapter to be rendered. Text arrives as
// plain UTF-8, already stripped of markup by the ingestion side.
type SynthesisRequest struct {
	BookID    string `json:"book_id"`
	ChapterID string `json:"chapter_id"`
	Title     string `json:"title,omitempty"`
	Text      string `json:"text"`
	TraceID   string `json:"trace_id,omitempty"`
}

// SynthesisProgress reports a pipeline state transition.
type SynthesisProgress struct {
	BookID        string    `json:"book_id"`
	ChapterID     string    `json:"chapter_id"`
	State         string    `json:"state"`
	SegmentsDone  int       `json:"segments_done"`
	SegmentsTotal int       `json:"segments_total"`
	Timestamp     time.Time `json:"timestamp"`
}

// CharacterVoice is one roster entry in a completion message.
type CharacterVoice struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	VoiceID     string `json:"voice_id"`
}

// SynthesisDone carries the outcome of a chapter generation: either a
// complete artifact with its voice table, or an explicit failure reason.
// Partial artifacts are never announced.
type SynthesisDone struct {
	BookID       string           `json:"book_id"`
	ChapterID    string           `json:"chapter_id"`
	ArtifactPath string           `json:"artifact_path,omitempty"`
	SampleRate   int              `json:"sample_rate,omitempty"`
	Channels     int              `json:"channels,omitempty"`
	BitDepth     int              `json:"bit_depth,omitempty"`
	DurationMS   int64            `json:"duration_ms,omitempty"`
	Characters   []CharacterVoice `json:"characters,omitempty"`
	Failed       bool             `json:"failed"`
	Reason       string           `json:"reason,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

const (
	SubjectSynthesisRequest  = "synthesis.chapter.request"
	SubjectSynthesisProgress = "synthesis.chapter.progress"
	SubjectSynthesisDone     = "synthesis.chapter.done"
)

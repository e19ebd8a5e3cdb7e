package pipeline

import (
	"context"
	"sync"

	"github.com/voicepages/voicepages-core/internal/audio"
	"github.com/voicepages/voicepages-core/internal/book"
)

// State names the stage a chapter run is in. Transitions only move forward;
// any stage may jump to StateFailed.
type State string

const (
	StatePending       State = "pending"
	StateSegmenting    State = "segmenting"
	StateDetecting     State = "detecting"
	StateAssigning     State = "assigning"
	StateSynthesizing  State = "synthesizing"
	StateConcatenating State = "concatenating"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// Failure reason codes reported to callers and on the bus.
const (
	ReasonConfiguration = "configuration_error"
	ReasonSynthesis     = "synthesis_error"
	ReasonFormat        = "format_error"
	ReasonCancelled     = "cancelled"
	ReasonInternal      = "internal_error"
)

// Status is an observable snapshot of a run.
type Status struct {
	BookID        string
	ChapterID     string
	State         State
	SegmentsDone  int
	SegmentsTotal int
	Reason        string
}

// Result is the outcome of a successful run.
type Result struct {
	Audio        *audio.ChapterAudio
	ArtifactPath string
	Roster       book.Roster
	Mapping      map[string]book.VoiceProfile
}

// Run is one in-flight chapter generation. Duplicate requests for the same
// chapter join the existing run instead of starting another.
type Run struct {
	bookID    string
	chapterID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	status Status
	result *Result
	err    error
}

func newRun(bookID, chapterID string, cancel context.CancelFunc) *Run {
	return &Run{
		bookID:    bookID,
		chapterID: chapterID,
		cancel:    cancel,
		done:      make(chan struct{}),
		status: Status{
			BookID:    bookID,
			ChapterID: chapterID,
			State:     StatePending,
		},
	}
}

// Status returns the current snapshot.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Cancel aborts the run. The run settles as failed with reason "cancelled".
func (r *Run) Cancel() {
	r.cancel()
}

// Wait blocks until the run settles or ctx expires. On failure the returned
// error wraps the underlying stage error.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

func (r *Run) setState(s State) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = s
	return r.status
}

func (r *Run) setProgress(done, total int) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.SegmentsDone = done
	r.status.SegmentsTotal = total
	return r.status
}

func (r *Run) settle(result *Result, reason string, err error) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.status.State = StateFailed
		r.status.Reason = reason
		r.err = err
	} else {
		r.status.State = StateReady
		r.result = result
	}
	close(r.done)
	return r.status
}

package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voicepages/voicepages-core/internal/audio"
	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/character"
	"github.com/voicepages/voicepages-core/internal/config"
	"github.com/voicepages/voicepages-core/internal/tts"
	"github.com/voicepages/voicepages-core/internal/voicestore"
)

// fakeBackend renders tiny clips instantly and records call counts. failures
// primes per-call errors; block makes renders wait until released, with each
// dispatch announced on started; badText marks one segment's clip with a
// mismatched sample rate.
type fakeBackend struct {
	mu       sync.Mutex
	renders  int
	failures int
	readyErr error
	block    chan struct{}
	started  chan struct{}
	badText  string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Voices() []tts.Voice {
	return []tts.Voice{
		{ID: "af_sky", Name: "Sky", Gender: "female", Accent: "american", Style: "standard"},
		{ID: "af_bella", Name: "Bella", Gender: "female", Accent: "american", Style: "standard"},
		{ID: "am_adam", Name: "Adam", Gender: "male", Accent: "american", Style: "standard"},
		{ID: "bm_george", Name: "George", Gender: "male", Accent: "british", Style: "standard"},
	}
}

func (f *fakeBackend) Ready() error { return f.readyErr }

func (f *fakeBackend) Render(ctx context.Context, text string, profile book.VoiceProfile) (*audio.Clip, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &tts.SynthesisError{Backend: f.Name(), Reason: "cancelled", Err: ctx.Err()}
		}
	}
	f.mu.Lock()
	f.renders++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return nil, &tts.SynthesisError{Backend: f.Name(), Reason: "engine crashed"}
	}
	rate := 1000
	if f.badText != "" && strings.Contains(text, f.badText) {
		rate = 2000
	}
	return &audio.Clip{
		Format: audio.Format{SampleRate: rate, Channels: 1, BitDepth: 16},
		PCM:    make([]byte, 200),
	}, nil
}

func (f *fakeBackend) renderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.renders
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) notify(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, s := range r.statuses {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func testPipeline(t *testing.T, backend tts.Backend, rec *statusRecorder) *Pipeline {
	t.Helper()
	cfg := config.Default()
	cfg.Synthesis.ArtifactDir = t.TempDir()
	cfg.Synthesis.PauseMS = 100
	cfg.Synthesis.FanOut = 2
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	detector := character.NewTiered(nil, logger)
	var notify Notifier
	if rec != nil {
		notify = rec.notify
	}
	return New(cfg, backend, detector, nil, notify, logger)
}

const chapterText = `Alice said, "Hello there." Bob whispered, "Don't wake the baby."`

func TestGenerateChapter(t *testing.T) {
	backend := &fakeBackend{}
	rec := &statusRecorder{}
	p := testPipeline(t, backend, rec)

	run, joined := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText})
	if joined {
		t.Fatal("fresh chapter must not join")
	}

	result, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if backend.renderCount() != 4 {
		t.Fatalf("expected 4 rendered segments, got %d", backend.renderCount())
	}
	if _, err := os.Stat(result.ArtifactPath); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	// 4 clips of 100 frames at 1000Hz plus 3 pauses of 100ms
	if result.Audio.Duration != 700*time.Millisecond {
		t.Fatalf("expected 700ms chapter, got %v", result.Audio.Duration)
	}

	for _, key := range []string{book.NarratorKey, "alice", "bob"} {
		if _, ok := result.Mapping[key]; !ok {
			t.Fatalf("expected voice for %q, got %v", key, result.Mapping)
		}
	}
	if result.Mapping["alice"].ID == result.Mapping["bob"].ID {
		t.Fatal("speakers must get distinct voices")
	}

	want := []State{StateSegmenting, StateDetecting, StateAssigning, StateSynthesizing, StateConcatenating, StateReady}
	got := rec.states()
	if len(got) != len(want) {
		t.Fatalf("expected states %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected states %v, got %v", want, got)
		}
	}
}

func TestGenerateProgressMonotonic(t *testing.T) {
	backend := &fakeBackend{}
	rec := &statusRecorder{}
	p := testPipeline(t, backend, rec)

	run, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText})
	if _, err := run.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := 0
	final := 0
	for _, s := range rec.statuses {
		if s.State != StateSynthesizing {
			continue
		}
		if s.SegmentsTotal != 4 {
			t.Fatalf("expected total 4, got %d", s.SegmentsTotal)
		}
		if s.SegmentsDone < last {
			t.Fatalf("progress went backwards: %d after %d", s.SegmentsDone, last)
		}
		last = s.SegmentsDone
		final = s.SegmentsDone
	}
	if final != 4 {
		t.Fatalf("expected final progress 4, got %d", final)
	}
}

func TestGenerateJoinsInflightRun(t *testing.T) {
	backend := &fakeBackend{block: make(chan struct{})}
	p := testPipeline(t, backend, nil)
	chapter := book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText}

	first, joined := p.Generate(chapter)
	if joined {
		t.Fatal("first request must not join")
	}
	second, joined := p.Generate(chapter)
	if !joined {
		t.Fatal("duplicate request must join")
	}
	if first != second {
		t.Fatal("joined request must share the run")
	}

	close(backend.block)
	if _, err := second.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.renderCount() != 4 {
		t.Fatalf("joining must not re-render, got %d renders", backend.renderCount())
	}

	// a settled run no longer joins
	third, joined := p.Generate(chapter)
	if joined {
		t.Fatal("settled run must be replaced, not joined")
	}
	if _, err := third.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerateBackendNotConfigured(t *testing.T) {
	backend := &fakeBackend{readyErr: &tts.ConfigurationError{Backend: "fake", Missing: []string{"model.onnx"}}}
	p := testPipeline(t, backend, nil)

	run, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText})
	if _, err := run.Wait(context.Background()); err == nil {
		t.Fatal("expected failure")
	}

	status := run.Status()
	if status.State != StateFailed || status.Reason != ReasonConfiguration {
		t.Fatalf("expected configuration failure, got %+v", status)
	}
	if backend.renderCount() != 0 {
		t.Fatalf("no segment may render with a misconfigured backend, got %d", backend.renderCount())
	}
}

func TestGenerateRetriesTransientFailure(t *testing.T) {
	backend := &fakeBackend{failures: 1}
	p := testPipeline(t, backend, nil)

	run, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText})
	if _, err := run.Wait(context.Background()); err != nil {
		t.Fatalf("expected retry to recover: %v", err)
	}
	if backend.renderCount() != 5 {
		t.Fatalf("expected 4 renders plus 1 retry, got %d", backend.renderCount())
	}
}

func TestGeneratePersistentFailure(t *testing.T) {
	backend := &fakeBackend{failures: 100}
	p := testPipeline(t, backend, nil)

	run, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText})
	_, err := run.Wait(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}
	var se *tts.SynthesisError
	if !errors.As(err, &se) {
		t.Fatalf("expected SynthesisError in chain, got %v", err)
	}
	if status := run.Status(); status.Reason != ReasonSynthesis {
		t.Fatalf("expected synthesis_error, got %q", status.Reason)
	}
}

func TestGenerateCancelled(t *testing.T) {
	backend := &fakeBackend{block: make(chan struct{}), started: make(chan struct{}, 8)}
	p := testPipeline(t, backend, nil)

	run, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText})
	<-backend.started
	run.Cancel()
	close(backend.block)

	if _, err := run.Wait(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	if status := run.Status(); status.Reason != ReasonCancelled {
		t.Fatalf("expected cancelled, got %q", status.Reason)
	}
}

func TestCancelLetsDispatchedRendersFinish(t *testing.T) {
	backend := &fakeBackend{block: make(chan struct{}), started: make(chan struct{}, 8)}
	p := testPipeline(t, backend, nil)

	run, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText})
	dispatched := 2 // fan-out limit in testPipeline
	for i := 0; i < dispatched; i++ {
		<-backend.started
	}
	run.Cancel()
	close(backend.block)

	result, err := run.Wait(context.Background())
	if err == nil || result != nil {
		t.Fatalf("expected discarded result, got %v, %v", result, err)
	}
	if status := run.Status(); status.Reason != ReasonCancelled {
		t.Fatalf("expected cancelled, got %q", status.Reason)
	}

	// Every render handed to the backend before the cancel ran to
	// completion instead of being killed mid-flight.
	close(backend.started)
	for range backend.started {
		dispatched++
	}
	if got := backend.renderCount(); got != dispatched {
		t.Fatalf("%d of %d dispatched renders completed", got, dispatched)
	}
}

func TestFormatErrorNamesChapterSegment(t *testing.T) {
	backend := &fakeBackend{badText: "We are late"}
	p := testPipeline(t, backend, nil)

	text := `The train left. "�" Bob said, "We are late."`
	run, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: text})
	_, err := run.Wait(context.Background())
	if err == nil {
		t.Fatal("expected failure")
	}

	var formatErr *audio.FormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("expected FormatError, got %v", err)
	}
	// The second segment cleans to nothing and yields no clip, yet the
	// error names the offending clip by its place in the chapter.
	if formatErr.Index != 3 {
		t.Fatalf("expected segment index 3, got %d", formatErr.Index)
	}
	if status := run.Status(); status.Reason != ReasonFormat {
		t.Fatalf("expected format_error, got %q", status.Reason)
	}
}

func TestGenerateEmptyChapter(t *testing.T) {
	backend := &fakeBackend{}
	p := testPipeline(t, backend, nil)

	run, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: "   "})
	if _, err := run.Wait(context.Background()); err == nil {
		t.Fatal("expected failure for empty chapter")
	}
	if status := run.Status(); status.Reason != ReasonInternal {
		t.Fatalf("expected internal_error, got %q", status.Reason)
	}
}

func TestVoicesStableAcrossChapters(t *testing.T) {
	backend := &fakeBackend{}
	p := testPipeline(t, backend, nil)

	first, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText})
	r1, err := first.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, _ := p.Generate(book.Chapter{BookID: "book-1", ID: "ch-2", Text: `Alice said, "Again."`})
	r2, err := second.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r1.Mapping["alice"].ID != r2.Mapping["alice"].ID {
		t.Fatalf("alice's voice changed between chapters: %s vs %s",
			r1.Mapping["alice"].ID, r2.Mapping["alice"].ID)
	}
}

type countingDetector struct {
	mu    sync.Mutex
	calls int
	inner *character.Tiered
}

func (c *countingDetector) Detect(ctx context.Context, text string) (book.Roster, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Detect(ctx, text)
}

func (c *countingDetector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestDetectionCacheShortCircuit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := voicestore.Open(context.Background(),
		config.VoiceStoreConfig{Path: filepath.Join(t.TempDir(), "voicepages.db")}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	detector := &countingDetector{inner: character.NewTiered(nil, logger)}
	cfg := config.Default()
	cfg.Synthesis.ArtifactDir = t.TempDir()
	cfg.Synthesis.PauseMS = 0
	p := New(cfg, &fakeBackend{}, detector, store, nil, logger)

	chapter := book.Chapter{BookID: "book-1", ID: "ch-1", Text: chapterText}
	first, _ := p.Generate(chapter)
	r1, err := first.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detector.count() != 1 {
		t.Fatalf("expected one detection, got %d", detector.count())
	}

	// unchanged text re-generates from the cached roster
	second, _ := p.Generate(chapter)
	r2, err := second.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detector.count() != 1 {
		t.Fatalf("expected cached detection, got %d calls", detector.count())
	}
	if r1.Mapping["alice"].ID != r2.Mapping["alice"].ID {
		t.Fatal("cached re-generation changed alice's voice")
	}

	// edited text invalidates the cache
	chapter.Text = chapterText + ` Carol added, "Me too."`
	third, _ := p.Generate(chapter)
	r3, err := third.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detector.count() != 2 {
		t.Fatalf("expected re-detection after edit, got %d calls", detector.count())
	}
	if _, ok := r3.Mapping["carol"]; !ok {
		t.Fatalf("expected carol after edit, got %v", r3.Mapping)
	}
	if r3.Mapping["alice"].ID != r1.Mapping["alice"].ID {
		t.Fatal("edit must not rebind existing voices")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&tts.ConfigurationError{Backend: "kokoro", Missing: []string{"m"}}, ReasonConfiguration},
		{&tts.SynthesisError{Backend: "say", Reason: "crash"}, ReasonSynthesis},
		{&tts.SynthesisError{Backend: "say", Reason: "timeout", Err: context.DeadlineExceeded}, ReasonSynthesis},
		{&audio.FormatError{Index: 2, Reason: "bad"}, ReasonFormat},
		{context.Canceled, ReasonCancelled},
		{errors.New("boom"), ReasonInternal},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Fatalf("classify(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

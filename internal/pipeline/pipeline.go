// Package pipeline drives a chapter from plain text to a single voiced
// artifact: segmentation, character detection, voice assignment, per-segment
// synthesis and concatenation.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/voicepages/voicepages-core/internal/audio"
	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/config"
	"github.com/voicepages/voicepages-core/internal/segment"
	"github.com/voicepages/voicepages-core/internal/tts"
	"github.com/voicepages/voicepages-core/internal/voice"
	"github.com/voicepages/voicepages-core/internal/voicestore"
)

// RosterDetector resolves the speaking characters of a chapter.
type RosterDetector interface {
	Detect(ctx context.Context, text string) (book.Roster, error)
}

// Notifier receives run snapshots on every state or progress change.
type Notifier func(Status)

// Pipeline owns the chapter generation machinery. One Pipeline serves all
// books; per-book state lives in the voice store and is mutated under a
// per-book lock.
type Pipeline struct {
	cfg      config.Config
	backend  tts.Backend
	detector RosterDetector
	store    *voicestore.Store
	notify   Notifier
	log      *slog.Logger
	metrics  *metrics
	tracer   trace.Tracer

	mu       sync.Mutex
	runs     map[string]*Run
	bookLock map[string]*sync.Mutex
	tables   map[string]*voice.Table
}

// New builds a pipeline. store and notify may be nil; without a store the
// voice table and detection cache live only for the process lifetime.
func New(cfg config.Config, backend tts.Backend, detector RosterDetector, store *voicestore.Store, notify Notifier, logger *slog.Logger) *Pipeline {
	log := logger.With(slog.String("component", "pipeline"))
	return &Pipeline{
		cfg:      cfg,
		backend:  backend,
		detector: detector,
		store:    store,
		notify:   notify,
		log:      log,
		metrics:  newMetrics(log),
		tracer:   otel.Tracer("github.com/voicepages/voicepages-core/pipeline"),
		runs:     make(map[string]*Run),
		bookLock: make(map[string]*sync.Mutex),
		tables:   make(map[string]*voice.Table),
	}
}

// SetNotifier installs the status sink. Call before the first Generate.
func (p *Pipeline) SetNotifier(notify Notifier) {
	p.notify = notify
}

// Generate starts a run for the chapter, or joins the in-flight one. The
// returned bool reports whether an existing run was joined. The run outlives
// the caller's context; cancel it through Run.Cancel.
func (p *Pipeline) Generate(chapter book.Chapter) (*Run, bool) {
	key := chapter.BookID + "/" + chapter.ID

	p.mu.Lock()
	if existing, ok := p.runs[key]; ok {
		select {
		case <-existing.done:
			// settled, start fresh below
		default:
			p.mu.Unlock()
			return existing, true
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	run := newRun(chapter.BookID, chapter.ID, cancel)
	p.runs[key] = run
	p.mu.Unlock()

	go p.execute(ctx, run, chapter)
	return run, false
}

// Lookup returns the run for a chapter, settled or not.
func (p *Pipeline) Lookup(bookID, chapterID string) (*Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	run, ok := p.runs[bookID+"/"+chapterID]
	return run, ok
}

func (p *Pipeline) execute(ctx context.Context, run *Run, chapter book.Chapter) {
	started := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.chapter",
		trace.WithAttributes(
			attribute.String("book.id", chapter.BookID),
			attribute.String("chapter.id", chapter.ID),
		))
	defer span.End()

	p.metrics.recordRun(ctx, p.backend.Name())
	result, err := p.runStages(ctx, run, chapter)

	reason := ""
	if err != nil {
		// A cancelled run wins over whatever stage error surfaced first.
		if ctx.Err() != nil {
			reason = ReasonCancelled
		} else {
			reason = classify(err)
		}
		p.metrics.recordFailure(context.Background(), reason)
		p.log.Error("chapter generation failed",
			slog.String("book_id", chapter.BookID),
			slog.String("chapter_id", chapter.ID),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		span.RecordError(err)
	} else {
		p.log.Info("chapter ready",
			slog.String("book_id", chapter.BookID),
			slog.String("chapter_id", chapter.ID),
			slog.String("artifact", result.ArtifactPath),
			slog.Duration("duration", result.Audio.Duration))
	}

	status := run.settle(result, reason, err)
	p.metrics.recordDuration(context.Background(), time.Since(started).Seconds(), status.State)
	p.emit(status)
}

func (p *Pipeline) runStages(ctx context.Context, run *Run, chapter book.Chapter) (*Result, error) {
	// A misconfigured backend fails the run before any segment is attempted.
	if err := p.backend.Ready(); err != nil {
		return nil, err
	}

	p.emit(run.setState(StateSegmenting))
	segs := segment.All(chapter.Text)
	if len(segs) == 0 {
		return nil, errors.New("chapter has no synthesizable text")
	}

	p.emit(run.setState(StateDetecting))
	roster, err := p.resolveRoster(ctx, chapter)
	if err != nil {
		return nil, err
	}

	p.emit(run.setState(StateAssigning))
	mapping, err := p.assignVoices(ctx, chapter.BookID, roster)
	if err != nil {
		return nil, err
	}

	p.emit(run.setProgress(0, len(segs)))
	p.emit(run.setState(StateSynthesizing))
	clips, origin, err := p.renderSegments(ctx, run, segs, mapping)
	if err != nil {
		return nil, err
	}

	p.emit(run.setState(StateConcatenating))
	merged, err := audio.Concatenate(clips, time.Duration(p.cfg.Synthesis.PauseMS)*time.Millisecond)
	if err != nil {
		var formatErr *audio.FormatError
		if errors.As(err, &formatErr) && formatErr.Index >= 0 && formatErr.Index < len(origin) {
			// Report the chapter's segment index, not the position after
			// empty-cleaned segments were dropped.
			return nil, &audio.FormatError{Index: origin[formatErr.Index], Reason: formatErr.Reason}
		}
		return nil, err
	}

	path, err := p.writeArtifact(chapter, merged)
	if err != nil {
		return nil, err
	}

	return &Result{
		Audio:        merged,
		ArtifactPath: path,
		Roster:       roster,
		Mapping:      mapping,
	}, nil
}

// resolveRoster serves detection from the cache when the chapter text is
// unchanged, and runs the detector otherwise.
func (p *Pipeline) resolveRoster(ctx context.Context, chapter book.Chapter) (book.Roster, error) {
	sum := sha256.Sum256([]byte(chapter.Text))
	hash := hex.EncodeToString(sum[:])

	if p.store != nil {
		if roster, ok, err := p.store.CachedRoster(ctx, chapter.BookID, chapter.ID, hash); err != nil {
			p.log.Warn("detection cache lookup failed", slog.String("error", err.Error()))
		} else if ok {
			p.log.Debug("detection cache hit", slog.String("chapter_id", chapter.ID))
			return roster, nil
		}
	}

	roster, err := p.detector.Detect(ctx, chapter.Text)
	if err != nil {
		return book.Roster{}, fmt.Errorf("detect characters: %w", err)
	}

	if p.store != nil {
		if err := p.store.SaveRoster(ctx, chapter.BookID, chapter.ID, hash, roster); err != nil {
			p.log.Warn("failed to cache detection", slog.String("error", err.Error()))
		}
	}
	return roster, nil
}

// assignVoices loads the book's voice table, extends it for any newly
// detected characters and persists it back, all under the book lock so
// concurrent chapters of one book observe a consistent table.
func (p *Pipeline) assignVoices(ctx context.Context, bookID string, roster book.Roster) (map[string]book.VoiceProfile, error) {
	lock := p.lockFor(bookID)
	lock.Lock()
	defer lock.Unlock()

	table := p.tableFor(bookID)
	if p.store != nil && len(table.Characters) == 0 {
		chars, profiles, err := p.store.LoadTable(ctx, bookID)
		if err != nil {
			return nil, fmt.Errorf("load voice table: %w", err)
		}
		table.Characters = chars
		table.Profiles = profiles
	}

	assigner := voice.NewAssigner(p.backend, p.cfg.Synthesis.NarratorVoice, "en-us")
	mapping, err := assigner.Assign(table, roster)
	if err != nil {
		return nil, err
	}

	if p.store != nil {
		chars, profiles := table.Snapshot()
		if err := p.store.SaveTable(ctx, bookID, chars, profiles); err != nil {
			return nil, fmt.Errorf("persist voice table: %w", err)
		}
	}
	return mapping, nil
}

// renderSegments synthesizes every segment with a bounded worker pool.
// Clips land at their segment's index so chapter order survives the fan-out.
// The second return value maps each clip back to its segment index in the
// chapter.
func (p *Pipeline) renderSegments(ctx context.Context, run *Run, segs []segment.Segment, mapping map[string]book.VoiceProfile) ([]*audio.Clip, []int, error) {
	clips := make([]*audio.Clip, len(segs))
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Synthesis.FanOut)

	for i, seg := range segs {
		g.Go(func() error {
			text := tts.Clean(seg.Text, p.cfg.TTS.MaxChunkSize)
			if text == "" {
				done.Add(1)
				return nil
			}

			profile, ok := mapping[seg.Speaker]
			if !ok {
				profile = mapping[book.NarratorKey]
			}

			clip, err := p.renderOne(gctx, text, profile)
			if err != nil {
				return fmt.Errorf("segment %d: %w", seg.Index, err)
			}
			clips[i] = clip

			p.metrics.recordSegments(gctx, 1)
			p.emit(run.setProgress(int(done.Add(1)), len(segs)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	// The run context, not the group's: the group context is always
	// cancelled once Wait returns.
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	// Segments that cleaned to nothing leave gaps; close them up but
	// remember where each surviving clip came from.
	out := clips[:0]
	origin := make([]int, 0, len(clips))
	for i, c := range clips {
		if c != nil {
			out = append(out, c)
			origin = append(origin, segs[i].Index)
		}
	}
	if len(out) == 0 {
		return nil, nil, errors.New("no segments produced audio")
	}
	return out, origin, nil
}

// renderOne retries a failed render once. Cancellation never interrupts a
// render already handed to the backend; the render finishes on its own
// timeout and the clip is discarded afterwards. Configuration problems are
// terminal on the first attempt.
func (p *Pipeline) renderOne(ctx context.Context, text string, profile book.VoiceProfile) (*audio.Clip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	renderCtx := context.WithoutCancel(ctx)

	clip, err := p.backend.Render(renderCtx, text, profile)
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	if err == nil {
		return clip, nil
	}
	if tts.IsConfiguration(err) {
		return nil, err
	}
	p.log.Warn("segment render failed, retrying",
		slog.String("voice", profile.BackendVoice),
		slog.String("error", err.Error()))
	clip, err = p.backend.Render(renderCtx, text, profile)
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}
	return clip, err
}

func (p *Pipeline) writeArtifact(chapter book.Chapter, merged *audio.ChapterAudio) (string, error) {
	dir := filepath.Join(p.cfg.Synthesis.ArtifactDir, chapter.BookID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	path := filepath.Join(dir, chapter.ID+".wav")

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact: %w", err)
	}
	clip := &audio.Clip{Format: merged.Format, PCM: merged.PCM}
	if err := audio.EncodeWAV(clip, f); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("encode artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close artifact: %w", err)
	}
	return path, nil
}

func (p *Pipeline) lockFor(bookID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.bookLock[bookID]
	if !ok {
		lock = &sync.Mutex{}
		p.bookLock[bookID] = lock
	}
	return lock
}

// tableFor returns the book's resident voice table, creating it on first
// use. The caller holds the book lock.
func (p *Pipeline) tableFor(bookID string) *voice.Table {
	p.mu.Lock()
	defer p.mu.Unlock()
	table, ok := p.tables[bookID]
	if !ok {
		table = voice.NewTable(bookID)
		p.tables[bookID] = table
	}
	return table
}

func (p *Pipeline) emit(status Status) {
	if p.notify != nil {
		p.notify(status)
	}
}

// classify maps a stage error onto the reason code reported to callers.
func classify(err error) string {
	var confErr *tts.ConfigurationError
	var synthErr *tts.SynthesisError
	var formatErr *audio.FormatError
	switch {
	case errors.As(err, &confErr):
		return ReasonConfiguration
	case errors.As(err, &synthErr):
		return ReasonSynthesis
	case errors.As(err, &formatErr):
		return ReasonFormat
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	default:
		return ReasonInternal
	}
}

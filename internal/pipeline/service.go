package pipeline

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/voicepages/voicepages-core/internal/book"
	"github.com/voicepages/voicepages-core/internal/bus"
	"github.com/voicepages/voicepages-core/internal/protocol"
)

// Service exposes the pipeline over the bus: it consumes chapter requests
// and publishes progress and completion messages.
type Service struct {
	pipeline *Pipeline
	bus      *bus.Client
	log      *slog.Logger
	sub      *nats.Subscription
	wg       sync.WaitGroup
}

func NewService(p *Pipeline, busClient *bus.Client, logger *slog.Logger) (*Service, error) {
	s := &Service{
		pipeline: p,
		bus:      busClient,
		log:      logger.With(slog.String("component", "synthesis-service")),
	}

	sub, err := busClient.Subscribe(protocol.SubjectSynthesisRequest, s.handleRequest)
	if err != nil {
		return nil, err
	}
	s.sub = sub

	s.log.Info("listening for synthesis requests", slog.String("subject", protocol.SubjectSynthesisRequest))
	return s, nil
}

// PublishStatus is the pipeline notifier wired at construction time in the
// runtime; every state or progress change becomes a progress message.
func (s *Service) PublishStatus(status Status) {
	msg := protocol.SynthesisProgress{
		BookID:        status.BookID,
		ChapterID:     status.ChapterID,
		State:         string(status.State),
		SegmentsDone:  status.SegmentsDone,
		SegmentsTotal: status.SegmentsTotal,
		Timestamp:     time.Now(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectSynthesisProgress, msg); err != nil {
		s.log.Warn("failed to publish progress", slog.String("error", err.Error()))
	}
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthesisRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.log.Warn("dropping malformed synthesis request", slog.String("error", err.Error()))
		return
	}
	if req.BookID == "" || req.ChapterID == "" {
		s.log.Warn("dropping synthesis request without book or chapter id")
		return
	}

	chapter := book.Chapter{
		BookID: req.BookID,
		ID:     req.ChapterID,
		Title:  req.Title,
		Text:   req.Text,
	}

	run, joined := s.pipeline.Generate(chapter)
	if joined {
		s.log.Info("joined in-flight run",
			slog.String("book_id", req.BookID),
			slog.String("chapter_id", req.ChapterID))
		return
	}

	s.log.Info("accepted synthesis request",
		slog.String("book_id", req.BookID),
		slog.String("chapter_id", req.ChapterID),
		slog.Int("text_bytes", len(req.Text)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.announceDone(run)
	}()
}

func (s *Service) announceDone(run *Run) {
	<-run.done

	status := run.Status()
	msg := protocol.SynthesisDone{
		BookID:    status.BookID,
		ChapterID: status.ChapterID,
		Timestamp: time.Now(),
	}

	run.mu.Lock()
	result := run.result
	run.mu.Unlock()

	if result != nil {
		msg.ArtifactPath = result.ArtifactPath
		msg.SampleRate = result.Audio.Format.SampleRate
		msg.Channels = result.Audio.Format.Channels
		msg.BitDepth = result.Audio.Format.BitDepth
		msg.DurationMS = result.Audio.Duration.Milliseconds()
		for _, key := range result.Roster.Keys() {
			c, _ := result.Roster.Find(key)
			entry := protocol.CharacterVoice{
				Key:         c.Key,
				DisplayName: c.DisplayName,
			}
			if profile, ok := result.Mapping[c.Key]; ok {
				entry.VoiceID = profile.ID
			}
			msg.Characters = append(msg.Characters, entry)
		}
	} else {
		msg.Failed = true
		msg.Reason = status.Reason
	}

	if err := s.bus.PublishJSON(protocol.SubjectSynthesisDone, msg); err != nil {
		s.log.Warn("failed to publish completion", slog.String("error", err.Error()))
	}
}

func (s *Service) Close() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.log.Warn("failed to unsubscribe", slog.String("error", err.Error()))
		}
	}
	s.wg.Wait()
	s.log.Info("synthesis service stopped")
}

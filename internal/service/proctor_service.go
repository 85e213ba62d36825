package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/websocket"
)

// Monitor event types.
const (
	MonitorJoined      = "joined"
	MonitorAnswerSaved = "answer_saved"
	MonitorFinished    = "finished"
	MonitorCheat       = "cheat"
	MonitorProctor     = "proctor"
)

// MonitorEvent is one line of an exam's live monitor feed.
type MonitorEvent struct {
	Type       string    `json:"type"`
	StudentID  int       `json:"student_id"`
	QuestionID int64     `json:"question_id,omitempty"`
	Kind       string    `json:"kind,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Score      *float64  `json:"score,omitempty"`
	At         time.Time `json:"at"`
}

// ProctorService routes monitor events to proctors and proctor commands
// to student streams.
type ProctorService struct {
	bus EventBus
	log zerolog.Logger
}

// NewProctorService creates a ProctorService.
func NewProctorService(bus EventBus, log zerolog.Logger) *ProctorService {
	return &ProctorService{
		bus: bus,
		log: log.With().Str("component", "proctor_service").Logger(),
	}
}

// PublishMonitor publishes ev on the exam's monitor channel. Failures are
// logged only; the monitor feed is best effort.
func (s *ProctorService) PublishMonitor(ctx context.Context, examID uuid.UUID, ev MonitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode monitor event")
		return
	}
	if err := s.bus.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), data); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Failed to publish monitor event")
	}
}

// Command sends a force_submit or logout to one student's stream.
func (s *ProctorService) Command(ctx context.Context, examID uuid.UUID, studentID int, event websocket.Event, reason string) error {
	if !event.IsProctor() {
		return fmt.Errorf("not a proctor command: %s", event)
	}
	data, err := json.Marshal(websocket.ProctorCommand{Event: event, Reason: reason})
	if err != nil {
		return err
	}
	if err := s.bus.Publish(ctx, config.CacheKey.StudentProctorChannel(examID.String(), studentID), data); err != nil {
		return fmt.Errorf("publish proctor command: %w", err)
	}

	s.log.Info().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Str("command", string(event)).
		Msg("Proctor command sent")

	s.PublishMonitor(ctx, examID, MonitorEvent{
		Type:      MonitorProctor,
		StudentID: studentID,
		Kind:      string(event),
		Detail:    reason,
		At:        time.Now().UTC(),
	})
	return nil
}

// SubscribeStudent streams proctor commands for one student.
func (s *ProctorService) SubscribeStudent(ctx context.Context, examID uuid.UUID, studentID int) (<-chan []byte, func(), error) {
	return s.bus.Subscribe(ctx, config.CacheKey.StudentProctorChannel(examID.String(), studentID))
}

// SubscribeExam streams an exam's monitor events.
func (s *ProctorService) SubscribeExam(ctx context.Context, examID uuid.UUID) (<-chan []byte, func(), error) {
	return s.bus.Subscribe(ctx, config.CacheKey.ExamMonitorChannel(examID.String()))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// Exam errors.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrQuestionNotFound = errors.New("question not found")
	ErrExamFinished     = errors.New("exam already finished")
	ErrExamTimeUp       = errors.New("exam time is up")
	ErrResultNotFound   = errors.New("result not found")
)

// SaveGrace is how long after the end time answer writes are still
// accepted, so the final flush of a timed-out session lands.
const SaveGrace = time.Minute

type examEntry struct {
	fx        FixtureExam
	questions []model.Question
	options   []model.AnswerOption
	byID      map[int64]FixtureQuestion
	sets      map[int64]*model.OptionSet
}

type attemptID struct {
	exam    uuid.UUID
	student int
}

type attempt struct {
	startedAt time.Time
	endTime   time.Time
	resultID  int64
}

// ExamService runs student attempts against fixture exams.
type ExamService struct {
	exams   map[uuid.UUID]*examEntry
	answers repository.AnswerRepository
	proctor *ProctorService
	clock   clockwork.Clock
	log     zerolog.Logger

	mu           sync.Mutex
	attempts     map[attemptID]*attempt
	results      map[int64]*model.ResultSummary
	nextResultID int64
}

// NewExamService indexes the fixture's exams.
func NewExamService(fx *Fixture, answers repository.AnswerRepository, proctor *ProctorService, clock clockwork.Clock, log zerolog.Logger) *ExamService {
	s := &ExamService{
		exams:    make(map[uuid.UUID]*examEntry, len(fx.Exams)),
		answers:  answers,
		proctor:  proctor,
		clock:    clock,
		log:      log.With().Str("component", "exam_service").Logger(),
		attempts: make(map[attemptID]*attempt),
		results:  make(map[int64]*model.ResultSummary),
	}
	for _, e := range fx.Exams {
		entry := &examEntry{
			fx:   e,
			byID: make(map[int64]FixtureQuestion, len(e.Questions)),
			sets: make(map[int64]*model.OptionSet, len(e.Questions)),
		}
		for i, q := range e.Questions {
			opts := q.answerOptions()
			entry.questions = append(entry.questions, q.model(i+1))
			entry.options = append(entry.options, opts...)
			entry.byID[q.ID] = q
			entry.sets[q.ID] = model.NewOptionSet(opts)
		}
		s.exams[e.UUID()] = entry
	}
	return s
}

// Now is the authoritative server time.
func (s *ExamService) Now() time.Time {
	return s.clock.Now()
}

// Exists reports whether examID is a known exam.
func (s *ExamService) Exists(examID uuid.UUID) bool {
	_, ok := s.exams[examID]
	return ok
}

// GetSessionPayload starts (or resumes) a student's attempt. The attempt's
// end time is fixed at the first call.
func (s *ExamService) GetSessionPayload(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamPayload, error) {
	e, ok := s.exams[examID]
	if !ok {
		return nil, ErrExamNotFound
	}

	s.mu.Lock()
	a, started := s.attempts[attemptID{examID, studentID}]
	if !started {
		a = s.startLocked(e, examID, studentID)
	}
	finished := a.resultID != 0
	endTime := a.endTime
	s.mu.Unlock()

	if finished {
		return nil, ErrExamFinished
	}
	if !started {
		s.log.Info().Str("exam_id", examID.String()).Int("student_id", studentID).Time("end_time", endTime).Msg("Attempt started")
		s.proctor.PublishMonitor(ctx, examID, MonitorEvent{Type: MonitorJoined, StudentID: studentID, At: s.clock.Now().UTC()})
	}

	prior, err := s.answers.List(ctx, examID, studentID)
	if err != nil {
		return nil, fmt.Errorf("load prior answers: %w", err)
	}

	return &model.ExamPayload{
		ExamInfo: model.ExamInfo{
			ExamID:          examID,
			Title:           e.fx.Title,
			EndTime:         endTime,
			DurationMinutes: e.fx.DurationMinutes,
		},
		Questions:     e.questions,
		AnswerOptions: e.options,
		PriorAnswers:  prior,
	}, nil
}

func (s *ExamService) startLocked(e *examEntry, examID uuid.UUID, studentID int) *attempt {
	now := s.clock.Now().UTC()
	a := &attempt{
		startedAt: now,
		endTime:   now.Add(time.Duration(e.fx.DurationMinutes) * time.Minute),
	}
	s.attempts[attemptID{examID, studentID}] = a
	return a
}

// SaveAnswer validates and stores one answer.
func (s *ExamService) SaveAnswer(ctx context.Context, req model.SaveAnswerRequest) error {
	e, ok := s.exams[req.ExamID]
	if !ok {
		return ErrExamNotFound
	}
	q, ok := e.byID[req.QuestionID]
	if !ok {
		return ErrQuestionNotFound
	}
	if q.Type != req.QuestionType {
		return fmt.Errorf("%w: question %d is %s", model.ErrTypeMismatch, q.ID, q.Type)
	}
	v, err := model.DecodeAnswer(req.QuestionType, req.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidAnswer, err)
	}
	if err := model.CheckAnswer(q.Type, v, e.sets[q.ID]); err != nil {
		return err
	}

	s.mu.Lock()
	a, started := s.attempts[attemptID{req.ExamID, req.UserID}]
	if !started {
		a = s.startLocked(e, req.ExamID, req.UserID)
	}
	finished := a.resultID != 0
	late := s.clock.Now().After(a.endTime.Add(SaveGrace))
	s.mu.Unlock()

	if finished {
		return ErrExamFinished
	}
	if late {
		return ErrExamTimeUp
	}

	// Store the canonical encoding so prior answers round-trip cleanly.
	raw, err := model.EncodeAnswer(v)
	if err != nil {
		return err
	}
	if err := s.answers.Save(ctx, req.ExamID, req.UserID, model.AnswerRecord{
		QuestionID:   q.ID,
		QuestionType: q.Type,
		Value:        raw,
	}); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}

	s.proctor.PublishMonitor(ctx, req.ExamID, MonitorEvent{
		Type:       MonitorAnswerSaved,
		StudentID:  req.UserID,
		QuestionID: q.ID,
		At:         s.clock.Now().UTC(),
	})
	return nil
}

// FinishExam grades the attempt. Finishing twice returns the first result.
func (s *ExamService) FinishExam(ctx context.Context, req model.FinishExamRequest) (*model.FinishResult, error) {
	e, ok := s.exams[req.ExamID]
	if !ok {
		return nil, ErrExamNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := attemptID{req.ExamID, req.UserID}
	a, ok := s.attempts[key]
	if !ok {
		a = s.startLocked(e, req.ExamID, req.UserID)
	}
	if a.resultID != 0 {
		id := a.resultID
		return &model.FinishResult{Success: true, ResultID: &id, Message: "Ujian sudah diselesaikan sebelumnya."}, nil
	}

	recs, err := s.answers.List(ctx, req.ExamID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	summary := s.grade(e, recs)

	s.nextResultID++
	summary.ResultID = s.nextResultID
	summary.ExamID = req.ExamID
	summary.UserID = req.UserID
	summary.FinishedAt = s.clock.Now().UTC()
	s.results[summary.ResultID] = summary
	a.resultID = summary.ResultID

	s.log.Info().
		Str("exam_id", req.ExamID.String()).
		Int("student_id", req.UserID).
		Float64("score", summary.Score).
		Msg("Attempt finished")

	score := summary.Score
	s.proctor.PublishMonitor(ctx, req.ExamID, MonitorEvent{
		Type:      MonitorFinished,
		StudentID: req.UserID,
		Score:     &score,
		At:        summary.FinishedAt,
	})

	id := summary.ResultID
	return &model.FinishResult{Success: true, ResultID: &id, Message: "Ujian berhasil diselesaikan."}, nil
}

func (s *ExamService) grade(e *examEntry, recs []model.AnswerRecord) *model.ResultSummary {
	saved := make(map[int64]model.AnswerRecord, len(recs))
	for _, r := range recs {
		saved[r.QuestionID] = r
	}

	sum := &model.ResultSummary{Total: len(e.fx.Questions)}
	for _, q := range e.fx.Questions {
		rec, ok := saved[q.ID]
		if !ok {
			sum.Unanswered++
			continue
		}
		v, err := model.DecodeAnswer(q.Type, rec.Value)
		switch {
		case err != nil || !v.Answered():
			sum.Unanswered++
		case Grade(q, v):
			sum.Correct++
		default:
			sum.Wrong++
		}
	}
	if sum.Total > 0 {
		sum.Score = math.Round(float64(sum.Correct)*10000/float64(sum.Total)) / 100
	}
	return sum
}

// GetResult returns a result owned by studentID.
func (s *ExamService) GetResult(_ context.Context, resultID int64, studentID int) (*model.ResultSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[resultID]
	if !ok || r.UserID != studentID {
		return nil, ErrResultNotFound
	}
	out := *r
	return &out, nil
}

// RecordEvent forwards a student's proctoring event to the monitor feed.
func (s *ExamService) RecordEvent(ctx context.Context, examID uuid.UUID, studentID int, kind, detail string) error {
	if !s.Exists(examID) {
		return ErrExamNotFound
	}
	s.log.Warn().
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Str("kind", kind).
		Msg("Proctoring event")
	s.proctor.PublishMonitor(ctx, examID, MonitorEvent{
		Type:      MonitorCheat,
		StudentID: studentID,
		Kind:      kind,
		Detail:    detail,
		At:        s.clock.Now().UTC(),
	})
	return nil
}

package answer

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
)

// Store errors.
var (
	ErrUnknownQuestion = errors.New("unknown question")
	ErrLocked          = errors.New("answers are locked for submission")
)

// Entry is one question's current answer.
type Entry struct {
	Question model.Question
	Value    model.AnswerValue
}

// Observer is notified after every successful Set.
type Observer func(questionID int64, value model.AnswerValue, qt model.QuestionType)

// Store holds one answer per question. Reads and writes are synchronous:
// a Set is visible to Entries immediately.
type Store struct {
	log zerolog.Logger

	mu        sync.RWMutex
	questions map[int64]model.Question
	options   map[int64]*model.OptionSet
	values    map[int64]model.AnswerValue
	order     []int64
	locked    bool
	observers []Observer
}

// NewStore creates a store for the given questions with every entry
// initialised to the empty answer of its type.
func NewStore(questions []model.Question, options map[int64]*model.OptionSet, log zerolog.Logger) (*Store, error) {
	s := &Store{
		log:       log.With().Str("component", "answer_store").Logger(),
		questions: make(map[int64]model.Question, len(questions)),
		options:   options,
		values:    make(map[int64]model.AnswerValue, len(questions)),
		order:     make([]int64, 0, len(questions)),
	}

	sorted := slices.Clone(questions)
	slices.SortStableFunc(sorted, func(a, b model.Question) int { return a.OrderIndex - b.OrderIndex })

	for _, q := range sorted {
		if _, dup := s.questions[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %d", q.ID)
		}
		empty, err := model.EmptyAnswer(q.Type)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", q.ID, err)
		}
		s.questions[q.ID] = q
		s.values[q.ID] = empty
		s.order = append(s.order, q.ID)
	}
	return s, nil
}

// Observe registers fn to be called after every Set.
func (s *Store) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Seed installs an initial value without notifying observers.
func (s *Store) Seed(questionID int64, v model.AnswerValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(questionID, v); err != nil {
		return err
	}
	s.values[questionID] = v.Clone()
	return nil
}

// Set replaces the answer for questionID and notifies observers.
func (s *Store) Set(questionID int64, v model.AnswerValue) error {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return ErrLocked
	}
	if err := s.check(questionID, v); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Int64("question_id", questionID).Msg("Rejected answer")
		return err
	}
	stored := v.Clone()
	s.values[questionID] = stored
	qt := s.questions[questionID].Type
	observers := s.observers
	s.mu.Unlock()

	for _, fn := range observers {
		fn(questionID, stored.Clone(), qt)
	}
	return nil
}

func (s *Store) check(questionID int64, v model.AnswerValue) error {
	q, ok := s.questions[questionID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, questionID)
	}
	return model.CheckAnswer(q.Type, v, s.options[questionID])
}

// Get returns a copy of the current answer.
func (s *Store) Get(questionID int64) (model.AnswerValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[questionID]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Question returns the question with the given id.
func (s *Store) Question(questionID int64) (model.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[questionID]
	return q, ok
}

// Entries returns all answers in question order.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		v, ok := s.values[id]
		if !ok {
			continue
		}
		out = append(out, Entry{Question: s.questions[id], Value: v.Clone()})
	}
	return out
}

// AnsweredCount returns how many questions are answered and the total.
func (s *Store) AnsweredCount() (answered, total int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if v, ok := s.values[id]; ok && v.Answered() {
			answered++
		}
	}
	return answered, len(s.order)
}

// Unanswered returns the ids of unanswered questions in order.
func (s *Store) Unanswered() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []int64
	for _, id := range s.order {
		if v, ok := s.values[id]; !ok || !v.Answered() {
			out = append(out, id)
		}
	}
	return out
}

// Lock rejects further Sets until Unlock.
func (s *Store) Lock() {
	s.mu.Lock()
	s.locked = true
	s.mu.Unlock()
}

// Unlock re-enables Sets after a failed submission.
func (s *Store) Unlock() {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

// Locked reports whether Sets are rejected.
func (s *Store) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locked
}

// Clear erases every entry and leaves the store locked.
func (s *Store) Clear() {
	s.mu.Lock()
	s.values = make(map[int64]model.AnswerValue)
	s.locked = true
	s.mu.Unlock()
}

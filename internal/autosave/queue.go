package autosave

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/exstem-session/internal/answer"
	"github.com/stemsi/exstem-session/internal/model"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("autosave queue closed")

// Saver persists a single answer on the server.
type Saver interface {
	SaveAnswer(ctx context.Context, req model.SaveAnswerRequest) error
}

// TaskState is the lifecycle of a question's pending write.
type TaskState string

const (
	TaskPending  TaskState = "PENDING"
	TaskInFlight TaskState = "IN_FLIGHT"
	TaskSettled  TaskState = "SETTLED"
	TaskFailed   TaskState = "FAILED"
)

// Windows are the debounce delays per interaction style.
type Windows struct {
	Discrete time.Duration
	Text     time.Duration
	Drag     time.Duration
}

// DefaultWindows are used for zero fields.
var DefaultWindows = Windows{
	Discrete: 500 * time.Millisecond,
	Text:     1500 * time.Millisecond,
	Drag:     3 * time.Second,
}

// For returns the debounce window for a question type.
func (w Windows) For(qt model.QuestionType) time.Duration {
	switch qt {
	case model.QuestionTypeSingleSelect, model.QuestionTypeMultiSelect:
		return orDefault(w.Discrete, DefaultWindows.Discrete)
	case model.QuestionTypeReorder, model.QuestionTypeMatching:
		return orDefault(w.Drag, DefaultWindows.Drag)
	default:
		return orDefault(w.Text, DefaultWindows.Text)
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Options configures a Queue.
type Options struct {
	UserID  int
	ExamID  uuid.UUID
	Windows Windows
	// MaxRetries is how many times a failed debounced write is retried
	// before it is reported and spooled.
	MaxRetries int
	// RetryBase is the first backoff delay; each retry doubles it.
	RetryBase time.Duration
	// Spool keeps failed writes across reloads. Optional.
	Spool Spool
	// OnFailure is called once the newest write of a question has finally
	// failed. Failures of superseded writes are only logged.
	OnFailure func(questionID int64, err error)
	// OnSaved is called after a successful write.
	OnSaved func(questionID int64)
}

type task struct {
	qt      model.QuestionType
	value   model.AnswerValue
	state   TaskState
	gen     uint64
	attempt int
	timer   clockwork.Timer
}

// Queue debounces answer writes per question. Each Schedule call for a
// question replaces that question's pending write, so a burst of edits
// results in one write carrying the last value.
type Queue struct {
	saver Saver
	clock clockwork.Clock
	opts  Options
	log   zerolog.Logger
	ctx   context.Context

	mu       sync.Mutex
	tasks    map[int64]*task
	dirty    map[int64]struct{}
	closed   bool
	inflight int
	idle     []chan struct{}
}

// NewQueue creates a queue. ctx bounds every network write.
func NewQueue(ctx context.Context, saver Saver, clock clockwork.Clock, opts Options, log zerolog.Logger) *Queue {
	if opts.RetryBase <= 0 {
		opts.RetryBase = time.Second
	}
	return &Queue{
		saver: saver,
		clock: clock,
		opts:  opts,
		log:   log.With().Str("component", "autosave").Logger(),
		ctx:   ctx,
		tasks: make(map[int64]*task),
		dirty: make(map[int64]struct{}),
	}
}

// Schedule arms (or re-arms) the debounce timer for a question.
func (q *Queue) Schedule(questionID int64, value model.AnswerValue, qt model.QuestionType) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	t, ok := q.tasks[questionID]
	if !ok {
		t = &task{}
		q.tasks[questionID] = t
	}
	if t.timer != nil {
		t.timer.Stop()
	}

	t.gen++
	t.qt = qt
	t.value = value.Clone()
	t.state = TaskPending
	t.attempt = 0
	gen := t.gen
	t.timer = q.clock.AfterFunc(q.opts.Windows.For(qt), func() { q.fire(questionID, gen) })

	q.dirty[questionID] = struct{}{}
}

// Observer adapts the queue to answer.Store notifications.
func (q *Queue) Observer() answer.Observer {
	return func(questionID int64, value model.AnswerValue, qt model.QuestionType) {
		q.Schedule(questionID, value, qt)
	}
}

func (q *Queue) fire(questionID int64, gen uint64) {
	q.mu.Lock()
	t, ok := q.tasks[questionID]
	if !ok || t.gen != gen || q.closed {
		q.mu.Unlock()
		return
	}
	t.state = TaskInFlight
	t.timer = nil
	qt, value := t.qt, t.value
	q.inflight++
	q.mu.Unlock()

	go func() {
		defer q.writeDone()
		err := q.write(q.ctx, questionID, qt, value)
		q.settle(questionID, gen, qt, value, err, true)
	}()
}

func (q *Queue) writeDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	if q.inflight > 0 {
		return
	}
	for _, ch := range q.idle {
		close(ch)
	}
	q.idle = nil
}

// settle records the outcome of a write. Only the write for the newest
// generation may change the task's state.
func (q *Queue) settle(questionID int64, gen uint64, qt model.QuestionType, value model.AnswerValue, err error, retry bool) {
	q.mu.Lock()
	t, ok := q.tasks[questionID]
	current := ok && t.gen == gen

	if err == nil {
		if current {
			t.state = TaskSettled
		}
		q.mu.Unlock()

		if current && q.opts.Spool != nil {
			if serr := q.opts.Spool.Remove(q.ctx, questionID); serr != nil {
				q.log.Warn().Err(serr).Int64("question_id", questionID).Msg("Spool remove failed")
			}
		}
		if q.opts.OnSaved != nil {
			q.opts.OnSaved(questionID)
		}
		return
	}

	if current && retry && !q.closed && t.attempt < q.opts.MaxRetries {
		t.attempt++
		backoff := q.opts.RetryBase << (t.attempt - 1)
		t.state = TaskPending
		t.timer = q.clock.AfterFunc(backoff, func() { q.fire(questionID, gen) })
		attempt := t.attempt
		q.mu.Unlock()

		q.log.Warn().Err(err).
			Int64("question_id", questionID).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Autosave failed, retrying")
		return
	}

	if current {
		t.state = TaskFailed
	}
	q.mu.Unlock()

	q.log.Error().Err(err).Int64("question_id", questionID).Msg("Autosave failed")

	if current && q.opts.Spool != nil {
		raw, encErr := model.EncodeAnswer(value)
		if encErr == nil {
			encErr = q.opts.Spool.Put(q.ctx, SpooledAnswer{
				QuestionID:   questionID,
				QuestionType: qt,
				Value:        raw,
				FailedAt:     q.clock.Now(),
			})
		}
		if encErr != nil {
			q.log.Error().Err(encErr).Int64("question_id", questionID).Msg("Spool put failed")
		}
	}
	if current && q.opts.OnFailure != nil {
		q.opts.OnFailure(questionID, err)
	}
}

func (q *Queue) write(ctx context.Context, questionID int64, qt model.QuestionType, value model.AnswerValue) error {
	raw, err := model.EncodeAnswer(value)
	if err != nil {
		return err
	}
	return q.saver.SaveAnswer(ctx, model.SaveAnswerRequest{
		UserID:       q.opts.UserID,
		ExamID:       q.opts.ExamID,
		QuestionID:   questionID,
		QuestionType: qt,
		Value:        raw,
	})
}

// flushConcurrency bounds the writes a Flush keeps in flight.
const flushConcurrency = 4

// flushMaxRetries is how often a Flush retries a write the server asked us
// to repeat later. Backoff doubles from RetryBase up to maxBackoff.
const (
	flushMaxRetries = 8
	maxBackoff      = 2 * time.Second
)

// Retryable reports whether err is a transient rejection, such as a rate
// limit, that is worth repeating after a pause.
func Retryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

// Flush cancels pending debounce timers and writes, once each, the current
// value of every answered or edited question. Questions whose last write
// already settled with that value are skipped. It returns after those writes
// and any writes already in flight have settled.
func (q *Queue) Flush(ctx context.Context, entries []answer.Entry) error {
	type job struct {
		id    int64
		gen   uint64
		qt    model.QuestionType
		value model.AnswerValue
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	jobs := make([]job, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		id := e.Question.ID
		_, edited := q.dirty[id]
		if !edited && !e.Value.Answered() {
			continue
		}

		t, ok := q.tasks[id]
		if ok && t.state == TaskSettled && sameValue(t.value, e.Value) {
			skipped++
			continue
		}
		if !ok {
			t = &task{}
			q.tasks[id] = t
		}
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.gen++
		t.qt = e.Question.Type
		t.value = e.Value.Clone()
		t.state = TaskInFlight
		jobs = append(jobs, job{id: id, gen: t.gen, qt: t.qt, value: t.value})
	}
	q.mu.Unlock()

	q.log.Info().Int("count", len(jobs)).Int("skipped", skipped).Msg("Flushing answers")

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(flushConcurrency)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, j := range jobs {
			g.Go(func() error {
				err := q.writeWithBackoff(ctx, j.id, j.qt, j.value)
				q.settle(j.id, j.gen, j.qt, j.value, err, false)
				if err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("question %d: %w", j.id, err))
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := q.waitIdle(ctx); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// writeWithBackoff writes once and repeats retryable failures.
func (q *Queue) writeWithBackoff(ctx context.Context, questionID int64, qt model.QuestionType, value model.AnswerValue) error {
	backoff := q.opts.RetryBase
	for attempt := 0; ; attempt++ {
		err := q.write(ctx, questionID, qt, value)
		if err == nil || !Retryable(err) || attempt >= flushMaxRetries {
			return err
		}

		q.log.Warn().Err(err).
			Int64("question_id", questionID).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Flush write rejected, retrying")

		select {
		case <-q.clock.After(backoff):
		case <-ctx.Done():
			return err
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func sameValue(a, b model.AnswerValue) bool {
	if a == nil || b == nil {
		return false
	}
	ra, err := model.EncodeAnswer(a)
	if err != nil {
		return false
	}
	rb, err := model.EncodeAnswer(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}

// waitIdle blocks until no debounced write is in flight.
func (q *Queue) waitIdle(ctx context.Context) error {
	q.mu.Lock()
	if q.inflight == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.idle = append(q.idle, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the task state of a question, if it has ever been scheduled.
func (q *Queue) State(questionID int64) (TaskState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[questionID]
	if !ok {
		return "", false
	}
	return t.state, true
}

// Pending returns how many questions have a write not yet settled.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.state == TaskPending || t.state == TaskInFlight {
			n++
		}
	}
	return n
}

// Close cancels every pending debounce and retry timer. Writes already in
// flight are left to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, t := range q.tasks {
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
	q.log.Debug().Msg("Autosave queue closed")
}

package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/answer"
	"github.com/stemsi/exstem-session/internal/autosave"
	"github.com/stemsi/exstem-session/internal/clock"
	"github.com/stemsi/exstem-session/internal/matching"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/timer"
)

// Controller errors.
var (
	ErrLoadFailed       = errors.New("failed to load exam")
	ErrNotReady         = errors.New("session is not ready")
	ErrSubmitDeclined   = errors.New("submission cancelled")
	ErrSubmitInFlight   = errors.New("submission already in progress")
	ErrAlreadySubmitted = errors.New("exam already submitted")
	ErrFinishRejected   = errors.New("server rejected submission")
	ErrUnsavedAnswers   = errors.New("some answers could not be saved")
	ErrNotMatching      = errors.New("question is not a matching question")
)

// State is the controller lifecycle.
type State string

const (
	StateLoading    State = "LOADING"
	StateReady      State = "READY"
	StateSubmitting State = "SUBMITTING"
	StateSettled    State = "SETTLED"
)

// Trigger says who asked for the submission.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerTimer   Trigger = "timer"
	TriggerProctor Trigger = "proctor"
)

// ExamFetcher loads the exam payload.
type ExamFetcher interface {
	FetchExam(ctx context.Context, examID uuid.UUID, userID int) (*model.ExamPayload, error)
}

// Finisher finishes the exam on the server.
type Finisher interface {
	FinishExam(ctx context.Context, req model.FinishExamRequest) (*model.FinishResult, error)
}

// ResultFetcher loads the score summary of a finished exam.
type ResultFetcher interface {
	FetchResult(ctx context.Context, resultID int64) (*model.ResultSummary, error)
}

// Backend is every server call the session makes.
type Backend interface {
	ExamFetcher
	clock.TimeSource
	autosave.Saver
	Finisher
	ResultFetcher
}

// Confirmer asks the student to confirm a manual submission.
type Confirmer interface {
	// ConfirmIncomplete is asked when unanswered questions remain.
	ConfirmIncomplete(ctx context.Context, unanswered int) bool
	// ConfirmSubmit is always asked before a manual submission.
	ConfirmSubmit(ctx context.Context) bool
}

// Hooks are front-end callbacks. All are optional and run outside the
// controller's lock.
type Hooks struct {
	OnTick    func(remaining int64)
	OnSettled func(result *model.ResultSummary, err error)
	OnLogout  func()
}

// Config identifies the session and tunes its components.
type Config struct {
	ExamID            uuid.UUID
	UserID            int
	ClockSyncInterval time.Duration
	Windows           autosave.Windows
	SaveMaxRetries    int
	SaveRetryBase     time.Duration
}

// Deps are the controller's collaborators. Backend is required.
type Deps struct {
	Backend Backend
	// Saver overrides Backend for answer writes, e.g. a websocket stream.
	Saver     autosave.Saver
	Confirmer Confirmer
	Notifier  Notifier
	Clock     clockwork.Clock
	Spool     autosave.Spool
	Hooks     Hooks
}

// Progress summarises the student's answers.
type Progress struct {
	Answered   int `json:"answered"`
	Unanswered int `json:"unanswered"`
	Bookmarked int `json:"bookmarked"`
	Total      int `json:"total"`
}

// Controller runs one exam session from load to submission.
type Controller struct {
	cfg  Config
	deps Deps
	base zerolog.Logger
	log  zerolog.Logger

	mu         sync.Mutex
	state      State
	info       model.ExamInfo
	questions  []model.Question
	options    map[int64]*model.OptionSet
	store      *answer.Store
	queue      *autosave.Queue
	clock      *clock.ServerClock
	countdown  *timer.Countdown
	graphs     map[int64]*matching.Graph
	bookmarks  map[int64]struct{}
	confirming bool
	submitting bool
	logout     bool
	logoutOnce sync.Once
	result     *model.ResultSummary
	cancel     context.CancelFunc
	closed     bool
}

// New creates a controller in the Loading state.
func New(cfg Config, deps Deps, log zerolog.Logger) *Controller {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Saver == nil {
		deps.Saver = deps.Backend
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Confirmer == nil {
		deps.Confirmer = AutoConfirm{}
	}
	if cfg.ClockSyncInterval <= 0 {
		cfg.ClockSyncInterval = 30 * time.Second
	}
	return &Controller{
		cfg:   cfg,
		deps:  deps,
		base:  log,
		log:   log.With().Str("component", "session").Str("exam_id", cfg.ExamID.String()).Int("user_id", cfg.UserID).Logger(),
		state: StateLoading,
	}
}

// Load fetches the exam, seeds every component and starts the countdown.
// On failure the controller stays Loading and Load may be retried.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateLoading || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%w: already loaded", ErrNotReady)
	}
	c.mu.Unlock()

	payload, err := c.deps.Backend.FetchExam(ctx, c.cfg.ExamID, c.cfg.UserID)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to fetch exam")
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	options := make(map[int64]*model.OptionSet, len(payload.Questions))
	grouped := model.GroupOptions(payload.AnswerOptions)
	for _, q := range payload.Questions {
		set := model.NewOptionSet(grouped[q.ID])
		if err := q.Validate(set); err != nil {
			return fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
		options[q.ID] = set
	}

	store, err := answer.NewStore(payload.Questions, options, c.base)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	c.seedPrior(store, payload.PriorAnswers)
	respooled := c.replaySpool(ctx, store)

	loopCtx, cancel := context.WithCancel(context.Background())

	queue := autosave.NewQueue(loopCtx, c.deps.Saver, c.deps.Clock, autosave.Options{
		UserID:     c.cfg.UserID,
		ExamID:     c.cfg.ExamID,
		Windows:    c.cfg.Windows,
		MaxRetries: c.cfg.SaveMaxRetries,
		RetryBase:  c.cfg.SaveRetryBase,
		Spool:      c.deps.Spool,
		OnFailure:  c.onSaveFailed,
	}, c.base)
	store.Observe(queue.Observer())

	graphs := make(map[int64]*matching.Graph)
	for _, q := range payload.Questions {
		if q.Type != model.QuestionTypeMatching {
			continue
		}
		g := c.newGraph(q.ID, options[q.ID], store)
		if cur, ok := store.Get(q.ID); ok {
			if err := g.Seed(cur.(model.MatchingAnswer).Pairs); err != nil {
				c.log.Warn().Err(err).Int64("question_id", q.ID).Msg("Dropping invalid matching answer")
			}
		}
		graphs[q.ID] = g
	}

	sc := clock.NewServerClock(c.deps.Clock, c.base)
	cd := timer.New(sc, c.deps.Clock, timer.Options{
		OnTick:   c.deps.Hooks.OnTick,
		OnExpire: c.onExpire,
		Offset:   sc.Offset,
	}, c.base)
	if !payload.ExamInfo.EndTime.IsZero() {
		cd.SetEndTime(payload.ExamInfo.EndTime)
	}
	duration := time.Duration(payload.ExamInfo.DurationMinutes) * time.Minute
	sc.OnSync(func() {
		// Without an end time the exam runs for its duration from the first sync.
		if payload.ExamInfo.EndTime.IsZero() && duration > 0 {
			if now, err := sc.Now(); err == nil {
				cd.SetEndTime(now.Add(duration))
			}
		}
		cd.Tick()
	})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrNotReady
	}
	c.info = payload.ExamInfo
	c.questions = slices.Clone(payload.Questions)
	c.options = options
	c.store = store
	c.queue = queue
	c.clock = sc
	c.countdown = cd
	c.graphs = graphs
	c.bookmarks = make(map[int64]struct{})
	c.cancel = cancel
	c.state = StateReady
	c.mu.Unlock()

	for _, rec := range respooled {
		queue.Schedule(rec.id, rec.value, rec.qt)
	}

	if err := sc.SyncFrom(ctx, c.deps.Backend); err != nil {
		c.log.Warn().Err(err).Msg("Initial clock sync failed")
		c.deps.Notifier.Notify(LevelWarning, "Could not reach the server clock; the timer will start once it does.")
	}
	cd.Start()
	go sc.RunSync(loopCtx, c.deps.Backend, c.cfg.ClockSyncInterval)

	c.log.Info().
		Int("questions", len(payload.Questions)).
		Int("prior_answers", len(payload.PriorAnswers)).
		Int("respooled", len(respooled)).
		Msg("Exam session loaded")
	return nil
}

func (c *Controller) seedPrior(store *answer.Store, prior []model.AnswerRecord) {
	for _, rec := range prior {
		q, ok := store.Question(rec.QuestionID)
		if !ok {
			c.log.Warn().Int64("question_id", rec.QuestionID).Msg("Prior answer for unknown question")
			continue
		}
		v, err := model.DecodeAnswer(q.Type, rec.Value)
		if err == nil {
			err = store.Seed(q.ID, v)
		}
		if err != nil {
			c.log.Warn().Err(err).Int64("question_id", q.ID).Msg("Dropping invalid prior answer")
		}
	}
}

type pendingWrite struct {
	id    int64
	qt    model.QuestionType
	value model.AnswerValue
}

// replaySpool restores answers that never reached the server. They win
// over prior answers and are written again once the session is ready.
func (c *Controller) replaySpool(ctx context.Context, store *answer.Store) []pendingWrite {
	if c.deps.Spool == nil {
		return nil
	}
	recs, err := c.deps.Spool.Load(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to read answer spool")
		return nil
	}

	var out []pendingWrite
	for _, rec := range recs {
		q, ok := store.Question(rec.QuestionID)
		if !ok {
			continue
		}
		v, err := model.DecodeAnswer(q.Type, rec.Value)
		if err == nil {
			err = store.Seed(q.ID, v)
		}
		if err != nil {
			c.log.Warn().Err(err).Int64("question_id", q.ID).Msg("Dropping invalid spooled answer")
			continue
		}
		out = append(out, pendingWrite{id: q.ID, qt: q.Type, value: v})
	}
	return out
}

func (c *Controller) newGraph(questionID int64, set *model.OptionSet, store *answer.Store) *matching.Graph {
	return matching.New(set.IDs(model.MatchRolePrompt), set.IDs(model.MatchRoleTarget), func(m map[int64]int64) error {
		if err := store.Set(questionID, model.MatchingAnswer{Pairs: m}); err != nil {
			c.log.Warn().Err(err).Int64("question_id", questionID).Msg("Matching change not stored")
			return err
		}
		return nil
	})
}

func (c *Controller) onSaveFailed(questionID int64, err error) {
	c.deps.Notifier.Notify(LevelWarning, fmt.Sprintf("Question %d could not be saved; it will be sent again on submit.", questionID))
}

func (c *Controller) onExpire() {
	c.log.Info().Msg("Time is up, submitting")
	c.deps.Notifier.Notify(LevelWarning, "Time is up. Your answers are being submitted.")

	if _, err := c.Submit(context.Background(), TriggerTimer); err != nil && !errors.Is(err, ErrSubmitInFlight) && !errors.Is(err, ErrAlreadySubmitted) {
		c.log.Error().Err(err).Msg("Timed submission failed")
	}
}

// Submit runs the submission protocol. Manual submissions ask for
// confirmation first, unless time has already run out. At most one finish
// call is made per session.
func (c *Controller) Submit(ctx context.Context, trigger Trigger) (*model.ResultSummary, error) {
	c.mu.Lock()
	if err := c.submitGuard(trigger == TriggerManual); err != nil {
		c.mu.Unlock()
		return nil, err
	}

	if trigger == TriggerManual && c.countdown.Phase() != timer.PhaseExpired {
		c.confirming = true
		store := c.store
		c.mu.Unlock()

		ok := c.confirm(ctx, store)

		c.mu.Lock()
		c.confirming = false
		if !ok {
			c.mu.Unlock()
			c.log.Info().Msg("Submission declined")
			return nil, ErrSubmitDeclined
		}
		// The timer may have submitted while the student was confirming.
		if err := c.submitGuard(false); err != nil {
			c.mu.Unlock()
			return nil, err
		}
	}

	c.submitting = true
	c.state = StateSubmitting
	store, queue, cd := c.store, c.queue, c.countdown
	c.mu.Unlock()

	c.log.Info().Str("trigger", string(trigger)).Msg("Submitting exam")
	store.Lock()

	if err := queue.Flush(ctx, store.Entries()); err != nil {
		if trigger == TriggerManual && cd.Phase() != timer.PhaseExpired {
			return nil, c.failSubmit(fmt.Errorf("%w: %w", ErrUnsavedAnswers, err))
		}
		c.log.Warn().Err(err).Msg("Finishing with unsaved answers")
	}

	res, err := c.deps.Backend.FinishExam(ctx, model.FinishExamRequest{
		UserID: c.cfg.UserID,
		ExamID: c.cfg.ExamID,
	})
	if err == nil && (res == nil || !res.Success) {
		msg := "no result"
		if res != nil {
			msg = res.Message
		}
		err = fmt.Errorf("%w: %s", ErrFinishRejected, msg)
	}
	if err != nil {
		return nil, c.failSubmit(err)
	}

	cd.Stop()
	queue.Close()
	store.Clear()
	if c.deps.Spool != nil {
		if err := c.deps.Spool.Clear(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Failed to clear answer spool")
		}
	}

	var summary *model.ResultSummary
	if res.ResultID != nil {
		summary, err = c.deps.Backend.FetchResult(ctx, *res.ResultID)
		if err != nil {
			c.log.Warn().Err(err).Int64("result_id", *res.ResultID).Msg("Failed to fetch result")
			c.deps.Notifier.Notify(LevelWarning, "Exam submitted, but the result is not available yet.")
		}
	}

	c.mu.Lock()
	c.state = StateSettled
	c.submitting = false
	c.result = summary
	logout := c.logout
	c.mu.Unlock()

	c.log.Info().Str("trigger", string(trigger)).Msg("Exam submitted")
	c.deps.Notifier.Notify(LevelInfo, "Exam submitted.")
	if fn := c.deps.Hooks.OnSettled; fn != nil {
		fn(summary, nil)
	}
	if logout {
		c.doLogout()
	}
	return summary, nil
}

// submitGuard must be called with c.mu held. A manual submission is also
// refused while another manual one is waiting for confirmation.
func (c *Controller) submitGuard(checkConfirming bool) error {
	switch {
	case c.state == StateSettled:
		return ErrAlreadySubmitted
	case c.state == StateLoading || c.closed:
		return ErrNotReady
	case c.submitting:
		return ErrSubmitInFlight
	case checkConfirming && c.confirming:
		return ErrSubmitInFlight
	}
	return nil
}

func (c *Controller) confirm(ctx context.Context, store *answer.Store) bool {
	if n := len(store.Unanswered()); n > 0 {
		if !c.deps.Confirmer.ConfirmIncomplete(ctx, n) {
			return false
		}
	}
	return c.deps.Confirmer.ConfirmSubmit(ctx)
}

func (c *Controller) failSubmit(err error) error {
	c.log.Error().Err(err).Msg("Submission failed")

	c.mu.Lock()
	c.submitting = false
	c.state = StateReady
	store := c.store
	c.mu.Unlock()

	store.Unlock()
	c.deps.Notifier.Notify(LevelError, "Submission failed: "+err.Error())
	if fn := c.deps.Hooks.OnSettled; fn != nil {
		fn(nil, err)
	}
	return err
}

// RequestLogout asks for the student to be logged out. It takes effect
// immediately after a successful submission, or once one happens. Repeated
// requests log out only once.
func (c *Controller) RequestLogout() {
	c.mu.Lock()
	if c.state == StateSettled {
		c.mu.Unlock()
		c.doLogout()
		return
	}
	c.logout = true
	c.mu.Unlock()

	c.log.Info().Msg("Logout requested, waiting for submission")
	c.deps.Notifier.Notify(LevelInfo, "You will be logged out after the exam is submitted.")
}

// doLogout runs the logout hook at most once per session.
func (c *Controller) doLogout() {
	c.logoutOnce.Do(func() {
		c.log.Info().Msg("Logging out")
		if fn := c.deps.Hooks.OnLogout; fn != nil {
			fn()
		}
	})
}

// SaveAll writes every answered or edited question now.
func (c *Controller) SaveAll(ctx context.Context) error {
	store, queue, err := c.ready()
	if err != nil {
		return err
	}
	if err := queue.Flush(ctx, store.Entries()); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsavedAnswers, err)
	}
	return nil
}

// Close stops the countdown, clock sync and every pending save.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel, cd, queue := c.cancel, c.countdown, c.queue
	c.mu.Unlock()

	if cd != nil {
		cd.Stop()
	}
	if queue != nil {
		queue.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.log.Debug().Msg("Session closed")
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Result returns the score summary after a successful submission.
func (c *Controller) Result() (*model.ResultSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.result != nil
}

// Info returns the exam's scheduling info.
func (c *Controller) Info() model.ExamInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Timer returns the countdown state.
func (c *Controller) Timer() timer.State {
	c.mu.Lock()
	cd := c.countdown
	c.mu.Unlock()
	if cd == nil {
		return timer.State{Phase: timer.PhaseUninitialized}
	}
	return cd.Snapshot()
}

func (c *Controller) ready() (*answer.Store, *autosave.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil || c.closed {
		return nil, nil, ErrNotReady
	}
	return c.store, c.queue, nil
}

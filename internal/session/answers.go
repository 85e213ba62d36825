package session

import (
	"fmt"
	"slices"

	"github.com/stemsi/exstem-session/internal/answer"
	"github.com/stemsi/exstem-session/internal/matching"
	"github.com/stemsi/exstem-session/internal/model"
)

// Questions returns the questions in display order.
func (c *Controller) Questions() []model.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := slices.Clone(c.questions)
	slices.SortStableFunc(out, func(a, b model.Question) int { return a.OrderIndex - b.OrderIndex })
	return out
}

// Options returns the options of a question.
func (c *Controller) Options(questionID int64) (*model.OptionSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.options[questionID]
	return set, ok
}

// Answer returns the current answer of a question.
func (c *Controller) Answer(questionID int64) (model.AnswerValue, bool) {
	store, _, err := c.ready()
	if err != nil {
		return nil, false
	}
	return store.Get(questionID)
}

// Entries returns every question with its current answer.
func (c *Controller) Entries() []answer.Entry {
	store, _, err := c.ready()
	if err != nil {
		return nil
	}
	return store.Entries()
}

// SelectOption answers a single-select question.
func (c *Controller) SelectOption(questionID, optionID int64) error {
	store, _, err := c.ready()
	if err != nil {
		return err
	}
	return store.Set(questionID, model.SingleSelectAnswer{OptionID: &optionID})
}

// ToggleOption adds or removes an option of a multi-select question.
func (c *Controller) ToggleOption(questionID, optionID int64) error {
	store, _, err := c.ready()
	if err != nil {
		return err
	}
	cur, err := current[model.MultiSelectAnswer](store, questionID)
	if err != nil {
		return err
	}
	return store.Set(questionID, cur.Toggle(optionID))
}

// SetText answers a fill-in-the-blank question.
func (c *Controller) SetText(questionID int64, text string) error {
	store, _, err := c.ready()
	if err != nil {
		return err
	}
	return store.Set(questionID, model.FillBlankAnswer{Text: text})
}

// SetOrder replaces the arrangement of a reorder question.
func (c *Controller) SetOrder(questionID int64, order []int64) error {
	store, _, err := c.ready()
	if err != nil {
		return err
	}
	return store.Set(questionID, model.ReorderAnswer{Order: slices.Clone(order)})
}

// MoveOption moves one item of a reorder question. An unanswered question
// starts from the options' load order.
func (c *Controller) MoveOption(questionID int64, from, to int) error {
	store, _, err := c.ready()
	if err != nil {
		return err
	}
	cur, err := current[model.ReorderAnswer](store, questionID)
	if err != nil {
		return err
	}
	if len(cur.Order) == 0 {
		if set, ok := c.Options(questionID); ok {
			cur.Order = set.IDs(model.MatchRoleNone)
		}
	}
	next, err := cur.Move(from, to)
	if err != nil {
		return err
	}
	return store.Set(questionID, next)
}

// ClearAnswer resets a question to unanswered.
func (c *Controller) ClearAnswer(questionID int64) error {
	store, _, err := c.ready()
	if err != nil {
		return err
	}
	q, ok := store.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %d", answer.ErrUnknownQuestion, questionID)
	}
	empty, err := model.EmptyAnswer(q.Type)
	if err != nil {
		return err
	}
	if store.Locked() {
		return answer.ErrLocked
	}
	if q.Type == model.QuestionTypeMatching {
		if g, err := c.graph(questionID); err == nil {
			_ = g.Seed(nil)
		}
	}
	return store.Set(questionID, empty)
}

// ClickMatchPrompt forwards a prompt click to the question's matching graph.
func (c *Controller) ClickMatchPrompt(questionID, optionID int64) (matching.Outcome, error) {
	return c.clickMatch(questionID, matching.SidePrompt, optionID)
}

// ClickMatchTarget forwards a target click to the question's matching graph.
func (c *Controller) ClickMatchTarget(questionID, optionID int64) (matching.Outcome, error) {
	return c.clickMatch(questionID, matching.SideTarget, optionID)
}

func (c *Controller) clickMatch(questionID int64, side matching.Side, optionID int64) (matching.Outcome, error) {
	store, _, err := c.ready()
	if err != nil {
		return matching.OutcomeIgnored, err
	}
	if store.Locked() {
		return matching.OutcomeIgnored, answer.ErrLocked
	}
	g, err := c.graph(questionID)
	if err != nil {
		return matching.OutcomeIgnored, err
	}
	return g.Click(side, optionID)
}

// ArmedPrompt returns the armed prompt of a matching question, if any.
func (c *Controller) ArmedPrompt(questionID int64) (int64, bool) {
	g, err := c.graph(questionID)
	if err != nil {
		return 0, false
	}
	return g.Armed()
}

// MatchPartner returns the node paired with optionID on the other side of a
// matching question, if any.
func (c *Controller) MatchPartner(questionID int64, side matching.Side, optionID int64) (int64, bool) {
	g, err := c.graph(questionID)
	if err != nil {
		return 0, false
	}
	return g.PartnerOf(side, optionID)
}

func (c *Controller) graph(questionID int64) (*matching.Graph, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.graphs[questionID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotMatching, questionID)
	}
	return g, nil
}

// ToggleBookmark flips the bookmark of a question and reports whether it
// is now bookmarked.
func (c *Controller) ToggleBookmark(questionID int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.options[questionID]; !ok {
		return false, fmt.Errorf("%w: %d", answer.ErrUnknownQuestion, questionID)
	}
	if _, ok := c.bookmarks[questionID]; ok {
		delete(c.bookmarks, questionID)
		return false, nil
	}
	c.bookmarks[questionID] = struct{}{}
	return true, nil
}

// Bookmarked reports whether a question is bookmarked.
func (c *Controller) Bookmarked(questionID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.bookmarks[questionID]
	return ok
}

// Bookmarks returns the bookmarked question ids in ascending order.
func (c *Controller) Bookmarks() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.bookmarks))
	for id := range c.bookmarks {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Progress counts answered, unanswered and bookmarked questions.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	store := c.store
	bookmarked := len(c.bookmarks)
	c.mu.Unlock()

	if store == nil {
		return Progress{}
	}
	answered, total := store.AnsweredCount()
	return Progress{
		Answered:   answered,
		Unanswered: total - answered,
		Bookmarked: bookmarked,
		Total:      total,
	}
}

func current[T model.AnswerValue](store *answer.Store, questionID int64) (T, error) {
	var zero T
	v, ok := store.Get(questionID)
	if !ok {
		return zero, fmt.Errorf("%w: %d", answer.ErrUnknownQuestion, questionID)
	}
	cur, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: question %d is %s", model.ErrTypeMismatch, questionID, v.Type())
	}
	return cur, nil
}

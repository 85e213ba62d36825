package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/timer"
)

// terminal is the line-based exam screen. It is the session's Notifier and
// Confirmer; confirmations read from the same line channel as commands.
type terminal struct {
	mu    sync.Mutex
	w     io.Writer
	lines <-chan string
}

func newTerminal(w io.Writer, lines <-chan string) *terminal {
	return &terminal{w: w, lines: lines}
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, format, args...)
}

func (t *terminal) prompt() { t.printf("> ") }

func (t *terminal) Notify(level session.Level, msg string) {
	t.printf("\n[%s] %s\n", strings.ToUpper(string(level)), msg)
}

func (t *terminal) ConfirmIncomplete(ctx context.Context, unanswered int) bool {
	return t.ask(ctx, fmt.Sprintf("%d question(s) unanswered. Submit anyway?", unanswered))
}

func (t *terminal) ConfirmSubmit(ctx context.Context) bool {
	return t.ask(ctx, "Submit the exam? Answers cannot be changed afterwards.")
}

func (t *terminal) ask(ctx context.Context, question string) bool {
	t.printf("%s [y/N] ", question)
	select {
	case <-ctx.Done():
		return false
	case line, ok := <-t.lines:
		if !ok {
			return false
		}
		answer := strings.ToLower(line)
		return answer == "y" || answer == "yes"
	}
}

// tick prints the remaining time once a minute and every second of the
// last ten.
func (t *terminal) tick(remaining int64) {
	if remaining%60 == 0 || remaining <= 10 {
		t.printf("\n[TIME] %s remaining\n", timer.Format(remaining))
	}
}

func (t *terminal) settled(res *model.ResultSummary, err error) {
	if err != nil {
		t.printf("\nSubmission failed: %v\n", err)
		return
	}
	if res == nil {
		t.printf("\nExam submitted.\n")
		return
	}
	t.printf("\n=== Result ===\nScore: %.2f\nCorrect: %d  Wrong: %d  Unanswered: %d  (of %d)\n",
		res.Score, res.Correct, res.Wrong, res.Unanswered, res.Total)
}

func (t *terminal) header(ctrl *session.Controller) {
	info := ctrl.Info()
	t.printf("\n=== %s ===\n%d questions, %s remaining. Type 'help' for commands.\n",
		info.Title, len(ctrl.Questions()), timer.Format(ctrl.Timer().RemainingSeconds))
}

const helpText = `Commands:
  list                       list questions
  show <q>                   show a question and its answer
  pick <q> <option>          single select
  toggle <q> <option>        multi select
  text <q> <answer...>       fill in the blank
  order <q> <option...>      set the full order
  move <q> <from> <to>       move one item (0-based)
  match <q> <prompt> <target>
  prompt <q> <id> | target <q> <id>   raw matching clicks
  clear <q>                  clear an answer
  mark <q>                   toggle bookmark
  save                       save every answer now
  time                       show remaining time
  report <kind> [detail]     report a proctoring event
  submit                     submit the exam
  quit                       save and exit
`

func (t *terminal) list(ctrl *session.Controller) {
	for _, q := range ctrl.Questions() {
		status := " "
		if v, ok := ctrl.Answer(q.ID); ok && v.Answered() {
			status = "x"
		}
		mark := ""
		if ctrl.Bookmarked(q.ID) {
			mark = " *"
		}
		t.printf("[%s] %2d. (q%d, %s) %s%s\n", status, q.OrderIndex, q.ID, q.Type, short(q.Prompt), mark)
	}
	p := ctrl.Progress()
	t.printf("answered %d/%d, bookmarked %d\n", p.Answered, p.Total, p.Bookmarked)
}

func (t *terminal) show(ctrl *session.Controller, q model.Question) {
	set, _ := ctrl.Options(q.ID)
	v, _ := ctrl.Answer(q.ID)

	t.printf("\nq%d (%s)\n%s\n", q.ID, q.Type, q.Prompt)
	switch a := v.(type) {
	case model.SingleSelectAnswer:
		for _, o := range set.Options {
			sel := " "
			if a.OptionID != nil && *a.OptionID == o.ID {
				sel = "o"
			}
			t.printf("  (%s) %d  %s\n", sel, o.ID, o.Content)
		}
	case model.MultiSelectAnswer:
		for _, o := range set.Options {
			sel := " "
			if _, ok := a.OptionIDs[o.ID]; ok {
				sel = "x"
			}
			t.printf("  [%s] %d  %s\n", sel, o.ID, o.Content)
		}
	case model.FillBlankAnswer:
		t.printf("  answer: %q\n", a.Text)
	case model.ReorderAnswer:
		order := a.Order
		if len(order) == 0 {
			order = set.IDs(model.MatchRoleNone)
			t.printf("  (not arranged yet)\n")
		}
		content := contentByID(set)
		for i, id := range order {
			t.printf("  %d. %d  %s\n", i, id, content[id])
		}
	case model.MatchingAnswer:
		content := contentByID(set)
		armed, isArmed := ctrl.ArmedPrompt(q.ID)
		t.printf("  prompts:\n")
		for _, id := range set.IDs(model.MatchRolePrompt) {
			pair := ""
			if tgt, ok := a.Pairs[id]; ok {
				pair = fmt.Sprintf(" -> %d", tgt)
			}
			if isArmed && armed == id {
				pair += " (armed)"
			}
			t.printf("    %d  %s%s\n", id, content[id], pair)
		}
		t.printf("  targets:\n")
		for _, id := range set.IDs(model.MatchRoleTarget) {
			t.printf("    %d  %s\n", id, content[id])
		}
	}
}

func contentByID(set *model.OptionSet) map[int64]string {
	out := make(map[int64]string, len(set.Options))
	for _, o := range set.Options {
		out[o.ID] = o.Content
	}
	return out
}

func short(s string) string {
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}

func findQuestion(ctrl *session.Controller, id int64) (model.Question, bool) {
	qs := ctrl.Questions()
	i := slices.IndexFunc(qs, func(q model.Question) bool { return q.ID == id })
	if i < 0 {
		return model.Question{}, false
	}
	return qs[i], true
}

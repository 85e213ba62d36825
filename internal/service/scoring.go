package service

import (
	"slices"
	"strings"

	"github.com/stemsi/exstem-session/internal/model"
)

// Grade reports whether v is a fully correct answer to q. Partial credit
// is not given.
func Grade(q FixtureQuestion, v model.AnswerValue) bool {
	if v == nil || !v.Answered() {
		return false
	}

	switch a := v.(type) {
	case model.SingleSelectAnswer:
		for _, o := range q.Options {
			if o.ID == *a.OptionID {
				return o.Correct
			}
		}
		return false

	case model.MultiSelectAnswer:
		want := 0
		for _, o := range q.Options {
			_, picked := a.OptionIDs[o.ID]
			if o.Correct {
				want++
			}
			if picked != o.Correct {
				return false
			}
		}
		return want > 0 && len(a.OptionIDs) == want

	case model.FillBlankAnswer:
		got := normalizeText(a.Text)
		for _, acc := range q.Accepted {
			if normalizeText(acc) == got {
				return true
			}
		}
		return false

	case model.ReorderAnswer:
		key := slices.Clone(q.Options)
		slices.SortStableFunc(key, func(x, y FixtureOption) int { return x.Position - y.Position })
		if len(key) != len(a.Order) {
			return false
		}
		for i, o := range key {
			if a.Order[i] != o.ID {
				return false
			}
		}
		return true

	case model.MatchingAnswer:
		groups := make(map[int64]*int64, len(q.Options))
		prompts := 0
		for _, o := range q.Options {
			groups[o.ID] = o.MatchGroupID
			if o.MatchRole == model.MatchRolePrompt {
				prompts++
			}
		}
		if len(a.Pairs) != prompts {
			return false
		}
		for p, t := range a.Pairs {
			pg, tg := groups[p], groups[t]
			if pg == nil || tg == nil || *pg != *tg {
				return false
			}
		}
		return true
	}
	return false
}

// normalizeText folds case and collapses whitespace.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

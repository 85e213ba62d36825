package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Answer shape errors.
var (
	ErrTypeMismatch  = errors.New("answer type does not match question type")
	ErrInvalidAnswer = errors.New("invalid answer value")
)

// AnswerValue is the per-question answer. It is a closed set: the only
// implementations are the five *Answer types in this file.
type AnswerValue interface {
	// Type is the question type this value belongs to.
	Type() QuestionType
	// Answered reports whether the value counts as an answer.
	Answered() bool
	// Clone returns a deep copy.
	Clone() AnswerValue

	sealed()
}

// SingleSelectAnswer holds at most one selected option.
type SingleSelectAnswer struct {
	OptionID *int64
}

// MultiSelectAnswer holds a set of selected options.
type MultiSelectAnswer struct {
	OptionIDs map[int64]struct{}
}

// FillBlankAnswer holds free text.
type FillBlankAnswer struct {
	Text string
}

// ReorderAnswer holds options in the order the student arranged them.
type ReorderAnswer struct {
	Order []int64
}

// MatchingAnswer maps prompt option ids to target option ids, 1:1.
type MatchingAnswer struct {
	Pairs map[int64]int64
}

func (SingleSelectAnswer) Type() QuestionType { return QuestionTypeSingleSelect }
func (MultiSelectAnswer) Type() QuestionType  { return QuestionTypeMultiSelect }
func (FillBlankAnswer) Type() QuestionType    { return QuestionTypeFillBlank }
func (ReorderAnswer) Type() QuestionType      { return QuestionTypeReorder }
func (MatchingAnswer) Type() QuestionType     { return QuestionTypeMatching }

func (SingleSelectAnswer) sealed() {}
func (MultiSelectAnswer) sealed()  {}
func (FillBlankAnswer) sealed()    {}
func (ReorderAnswer) sealed()      {}
func (MatchingAnswer) sealed()     {}

func (a SingleSelectAnswer) Answered() bool { return a.OptionID != nil }
func (a MultiSelectAnswer) Answered() bool  { return len(a.OptionIDs) > 0 }
func (a FillBlankAnswer) Answered() bool    { return strings.TrimSpace(a.Text) != "" }
func (a ReorderAnswer) Answered() bool      { return len(a.Order) > 0 }
func (a MatchingAnswer) Answered() bool     { return len(a.Pairs) > 0 }

func (a SingleSelectAnswer) Clone() AnswerValue {
	if a.OptionID == nil {
		return SingleSelectAnswer{}
	}
	id := *a.OptionID
	return SingleSelectAnswer{OptionID: &id}
}

func (a MultiSelectAnswer) Clone() AnswerValue {
	ids := make(map[int64]struct{}, len(a.OptionIDs))
	for id := range a.OptionIDs {
		ids[id] = struct{}{}
	}
	return MultiSelectAnswer{OptionIDs: ids}
}

func (a FillBlankAnswer) Clone() AnswerValue { return a }

func (a ReorderAnswer) Clone() AnswerValue {
	return ReorderAnswer{Order: slices.Clone(a.Order)}
}

func (a MatchingAnswer) Clone() AnswerValue {
	pairs := make(map[int64]int64, len(a.Pairs))
	for p, t := range a.Pairs {
		pairs[p] = t
	}
	return MatchingAnswer{Pairs: pairs}
}

// Selected returns the selected ids in ascending order.
func (a MultiSelectAnswer) Selected() []int64 {
	out := make([]int64, 0, len(a.OptionIDs))
	for id := range a.OptionIDs {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Toggle returns a copy with id added if absent or removed if present.
func (a MultiSelectAnswer) Toggle(id int64) MultiSelectAnswer {
	next := a.Clone().(MultiSelectAnswer)
	if _, ok := next.OptionIDs[id]; ok {
		delete(next.OptionIDs, id)
	} else {
		next.OptionIDs[id] = struct{}{}
	}
	return next
}

// Move returns a copy with the item at index from moved to index to.
func (a ReorderAnswer) Move(from, to int) (ReorderAnswer, error) {
	n := len(a.Order)
	if from < 0 || from >= n || to < 0 || to >= n {
		return a, fmt.Errorf("%w: move %d -> %d out of range [0,%d)", ErrInvalidAnswer, from, to, n)
	}
	next := slices.Clone(a.Order)
	id := next[from]
	next = slices.Delete(next, from, from+1)
	next = slices.Insert(next, to, id)
	return ReorderAnswer{Order: next}, nil
}

// EmptyAnswer returns the unanswered value for a question type.
func EmptyAnswer(t QuestionType) (AnswerValue, error) {
	switch t {
	case QuestionTypeSingleSelect:
		return SingleSelectAnswer{}, nil
	case QuestionTypeMultiSelect:
		return MultiSelectAnswer{OptionIDs: map[int64]struct{}{}}, nil
	case QuestionTypeFillBlank:
		return FillBlankAnswer{}, nil
	case QuestionTypeReorder:
		return ReorderAnswer{}, nil
	case QuestionTypeMatching:
		return MatchingAnswer{Pairs: map[int64]int64{}}, nil
	}
	return nil, fmt.Errorf("%w: unknown question type %q", ErrTypeMismatch, t)
}

// CheckAnswer validates v against the question type and, when opts is not
// nil, against the question's options.
func CheckAnswer(t QuestionType, v AnswerValue, opts *OptionSet) error {
	if v == nil {
		return fmt.Errorf("%w: nil value", ErrInvalidAnswer)
	}
	if v.Type() != t {
		return fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, v.Type(), t)
	}

	switch a := v.(type) {
	case SingleSelectAnswer:
		if a.OptionID != nil && opts != nil && !opts.Has(*a.OptionID) {
			return fmt.Errorf("%w: unknown option %d", ErrInvalidAnswer, *a.OptionID)
		}
	case MultiSelectAnswer:
		if opts != nil {
			for id := range a.OptionIDs {
				if !opts.Has(id) {
					return fmt.Errorf("%w: unknown option %d", ErrInvalidAnswer, id)
				}
			}
		}
	case FillBlankAnswer:
	case ReorderAnswer:
		seen := make(map[int64]struct{}, len(a.Order))
		for _, id := range a.Order {
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: option %d appears twice", ErrInvalidAnswer, id)
			}
			seen[id] = struct{}{}
			if opts != nil && !opts.Has(id) {
				return fmt.Errorf("%w: unknown option %d", ErrInvalidAnswer, id)
			}
		}
	case MatchingAnswer:
		targets := make(map[int64]int64, len(a.Pairs))
		for p, tgt := range a.Pairs {
			if other, dup := targets[tgt]; dup {
				return fmt.Errorf("%w: target %d matched by %d and %d", ErrInvalidAnswer, tgt, other, p)
			}
			targets[tgt] = p
			if opts != nil {
				if r, ok := opts.RoleOf(p); !ok || r != MatchRolePrompt {
					return fmt.Errorf("%w: %d is not a prompt option", ErrInvalidAnswer, p)
				}
				if r, ok := opts.RoleOf(tgt); !ok || r != MatchRoleTarget {
					return fmt.Errorf("%w: %d is not a target option", ErrInvalidAnswer, tgt)
				}
			}
		}
	default:
		return fmt.Errorf("%w: unsupported value %T", ErrTypeMismatch, v)
	}
	return nil
}

// MatchPair is the wire form of one matching edge.
type MatchPair struct {
	PromptID int64 `json:"prompt_id"`
	TargetID int64 `json:"target_id"`
}

// EncodeAnswer renders v in its wire form.
func EncodeAnswer(v AnswerValue) (json.RawMessage, error) {
	switch a := v.(type) {
	case SingleSelectAnswer:
		return json.Marshal(a.OptionID)
	case MultiSelectAnswer:
		return json.Marshal(a.Selected())
	case FillBlankAnswer:
		return json.Marshal(a.Text)
	case ReorderAnswer:
		order := a.Order
		if order == nil {
			order = []int64{}
		}
		return json.Marshal(order)
	case MatchingAnswer:
		pairs := make([]MatchPair, 0, len(a.Pairs))
		for p, t := range a.Pairs {
			pairs = append(pairs, MatchPair{PromptID: p, TargetID: t})
		}
		slices.SortFunc(pairs, func(x, y MatchPair) int {
			switch {
			case x.PromptID < y.PromptID:
				return -1
			case x.PromptID > y.PromptID:
				return 1
			}
			return 0
		})
		return json.Marshal(pairs)
	}
	return nil, fmt.Errorf("%w: cannot encode %T", ErrTypeMismatch, v)
}

// DecodeAnswer parses a wire value for a question of type t. An empty or
// null payload decodes to the empty answer.
func DecodeAnswer(t QuestionType, raw json.RawMessage) (AnswerValue, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return EmptyAnswer(t)
	}

	switch t {
	case QuestionTypeSingleSelect:
		var id int64
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, fmt.Errorf("decode single select: %w", err)
		}
		return SingleSelectAnswer{OptionID: &id}, nil
	case QuestionTypeMultiSelect:
		var ids []int64
		if err := json.Unmarshal(raw, &ids); err != nil {
			return nil, fmt.Errorf("decode multi select: %w", err)
		}
		set := make(map[int64]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		return MultiSelectAnswer{OptionIDs: set}, nil
	case QuestionTypeFillBlank:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode fill blank: %w", err)
		}
		return FillBlankAnswer{Text: s}, nil
	case QuestionTypeReorder:
		var order []int64
		if err := json.Unmarshal(raw, &order); err != nil {
			return nil, fmt.Errorf("decode reorder: %w", err)
		}
		return ReorderAnswer{Order: order}, nil
	case QuestionTypeMatching:
		var pairs []MatchPair
		if err := json.Unmarshal(raw, &pairs); err != nil {
			return nil, fmt.Errorf("decode matching: %w", err)
		}
		m := make(map[int64]int64, len(pairs))
		for _, p := range pairs {
			m[p.PromptID] = p.TargetID
		}
		return MatchingAnswer{Pairs: m}, nil
	}
	return nil, fmt.Errorf("%w: unknown question type %q", ErrTypeMismatch, t)
}

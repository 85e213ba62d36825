package model

import "fmt"

// QuestionType enumerates the answer shapes a question can take.
type QuestionType string

const (
	QuestionTypeSingleSelect QuestionType = "SINGLE_SELECT"
	QuestionTypeMultiSelect  QuestionType = "MULTI_SELECT"
	QuestionTypeFillBlank    QuestionType = "FILL_BLANK"
	QuestionTypeReorder      QuestionType = "REORDER"
	QuestionTypeMatching     QuestionType = "MATCHING"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingleSelect, QuestionTypeMultiSelect, QuestionTypeFillBlank,
		QuestionTypeReorder, QuestionTypeMatching:
		return true
	}
	return false
}

// MatchRole marks which column of a matching question an option belongs to.
type MatchRole string

const (
	MatchRoleNone   MatchRole = "none"
	MatchRolePrompt MatchRole = "prompt"
	MatchRoleTarget MatchRole = "target"
)

// Question is a single exam question. Immutable once loaded.
type Question struct {
	ID         int64        `json:"id" yaml:"id"`
	Type       QuestionType `json:"type" yaml:"type"`
	Prompt     string       `json:"prompt" yaml:"prompt"`
	OrderIndex int          `json:"order_index" yaml:"order_index"`
}

// AnswerOption is one selectable row of a question. Matching questions store
// both columns as flat rows, distinguished by MatchRole.
type AnswerOption struct {
	ID           int64     `json:"id" yaml:"id"`
	QuestionID   int64     `json:"question_id" yaml:"question_id"`
	Content      string    `json:"content" yaml:"content"`
	ImageRef     *string   `json:"image_ref,omitempty" yaml:"image_ref,omitempty"`
	MatchGroupID *int64    `json:"match_group_id,omitempty" yaml:"match_group_id,omitempty"`
	MatchRole    MatchRole `json:"match_role,omitempty" yaml:"match_role,omitempty"`
}

// Role returns the option's match role, treating an empty value as none.
func (o AnswerOption) Role() MatchRole {
	if o.MatchRole == "" {
		return MatchRoleNone
	}
	return o.MatchRole
}

// OptionSet indexes the options of one question.
type OptionSet struct {
	Options []AnswerOption
	ids     map[int64]MatchRole
}

// NewOptionSet builds an OptionSet, preserving the given order.
func NewOptionSet(opts []AnswerOption) *OptionSet {
	s := &OptionSet{Options: opts, ids: make(map[int64]MatchRole, len(opts))}
	for _, o := range opts {
		s.ids[o.ID] = o.Role()
	}
	return s
}

// Has reports whether id belongs to the set.
func (s *OptionSet) Has(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

// RoleOf returns the match role of id.
func (s *OptionSet) RoleOf(id int64) (MatchRole, bool) {
	r, ok := s.ids[id]
	return r, ok
}

// IDs returns option ids with the given role, in load order.
func (s *OptionSet) IDs(role MatchRole) []int64 {
	out := make([]int64, 0, len(s.Options))
	for _, o := range s.Options {
		if o.Role() == role {
			out = append(out, o.ID)
		}
	}
	return out
}

// GroupOptions splits a flat option list by question id.
func GroupOptions(opts []AnswerOption) map[int64][]AnswerOption {
	out := make(map[int64][]AnswerOption)
	for _, o := range opts {
		out[o.QuestionID] = append(out[o.QuestionID], o)
	}
	return out
}

// Validate checks the static shape of a question against its options.
func (q Question) Validate(opts *OptionSet) error {
	if !q.Type.Valid() {
		return fmt.Errorf("question %d: unknown type %q", q.ID, q.Type)
	}
	if q.Type == QuestionTypeMatching {
		if len(opts.IDs(MatchRolePrompt)) == 0 || len(opts.IDs(MatchRoleTarget)) == 0 {
			return fmt.Errorf("question %d: matching question needs prompt and target options", q.ID)
		}
	}
	return nil
}

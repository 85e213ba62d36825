package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(id int64) *int64 { return &id }

func TestAnswered(t *testing.T) {
	cases := []struct {
		name string
		v    AnswerValue
		want bool
	}{
		{"single empty", SingleSelectAnswer{}, false},
		{"single set", SingleSelectAnswer{OptionID: ptr(3)}, true},
		{"multi empty", MultiSelectAnswer{OptionIDs: map[int64]struct{}{}}, false},
		{"multi set", MultiSelectAnswer{OptionIDs: map[int64]struct{}{1: {}}}, true},
		{"fill whitespace", FillBlankAnswer{Text: "  \t\n"}, false},
		{"fill text", FillBlankAnswer{Text: "photosynthesis"}, true},
		{"reorder empty", ReorderAnswer{}, false},
		{"reorder set", ReorderAnswer{Order: []int64{2, 1}}, true},
		{"matching empty", MatchingAnswer{}, false},
		{"matching partial", MatchingAnswer{Pairs: map[int64]int64{1: 5}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.v.Answered())
		})
	}
}

func TestMultiSelectToggle(t *testing.T) {
	v := MultiSelectAnswer{}
	v = v.Toggle(10)
	v = v.Toggle(11)
	v = v.Toggle(10)

	assert.Equal(t, []int64{11}, v.Selected())
}

func TestMultiSelectToggleDoesNotMutateOriginal(t *testing.T) {
	orig := MultiSelectAnswer{OptionIDs: map[int64]struct{}{1: {}}}
	_ = orig.Toggle(1)

	assert.Equal(t, []int64{1}, orig.Selected())
}

func TestReorderMove(t *testing.T) {
	v := ReorderAnswer{Order: []int64{1, 2, 3, 4}}

	moved, err := v.Move(0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1, 4}, moved.Order)
	assert.Equal(t, []int64{1, 2, 3, 4}, v.Order)

	_, err = v.Move(0, 4)
	assert.ErrorIs(t, err, ErrInvalidAnswer)
}

func TestCheckAnswer(t *testing.T) {
	opts := NewOptionSet([]AnswerOption{
		{ID: 1, QuestionID: 9, MatchRole: MatchRolePrompt},
		{ID: 2, QuestionID: 9, MatchRole: MatchRolePrompt},
		{ID: 5, QuestionID: 9, MatchRole: MatchRoleTarget},
		{ID: 6, QuestionID: 9, MatchRole: MatchRoleTarget},
	})

	assert.NoError(t, CheckAnswer(QuestionTypeMatching, MatchingAnswer{Pairs: map[int64]int64{1: 5, 2: 6}}, opts))
	assert.ErrorIs(t, CheckAnswer(QuestionTypeMatching, MatchingAnswer{Pairs: map[int64]int64{1: 5, 2: 5}}, opts), ErrInvalidAnswer)
	assert.ErrorIs(t, CheckAnswer(QuestionTypeMatching, MatchingAnswer{Pairs: map[int64]int64{5: 1}}, opts), ErrInvalidAnswer)
	assert.ErrorIs(t, CheckAnswer(QuestionTypeSingleSelect, FillBlankAnswer{Text: "x"}, nil), ErrTypeMismatch)
	assert.ErrorIs(t, CheckAnswer(QuestionTypeReorder, ReorderAnswer{Order: []int64{1, 1}}, nil), ErrInvalidAnswer)
	assert.ErrorIs(t, CheckAnswer(QuestionTypeSingleSelect, SingleSelectAnswer{OptionID: ptr(42)}, opts), ErrInvalidAnswer)
	assert.ErrorIs(t, CheckAnswer(QuestionTypeFillBlank, nil, nil), ErrInvalidAnswer)
}

func TestEncodeAnswer(t *testing.T) {
	cases := []struct {
		v    AnswerValue
		want string
	}{
		{SingleSelectAnswer{}, `null`},
		{SingleSelectAnswer{OptionID: ptr(7)}, `7`},
		{MultiSelectAnswer{OptionIDs: map[int64]struct{}{12: {}, 10: {}}}, `[10,12]`},
		{FillBlankAnswer{Text: "mitochondria"}, `"mitochondria"`},
		{ReorderAnswer{}, `[]`},
		{ReorderAnswer{Order: []int64{3, 1, 2}}, `[3,1,2]`},
		{MatchingAnswer{Pairs: map[int64]int64{2: 6, 1: 5}}, `[{"prompt_id":1,"target_id":5},{"prompt_id":2,"target_id":6}]`},
	}
	for _, tc := range cases {
		raw, err := EncodeAnswer(tc.v)
		require.NoError(t, err)
		assert.JSONEq(t, tc.want, string(raw))
	}
}

func TestDecodeAnswer(t *testing.T) {
	v, err := DecodeAnswer(QuestionTypeMatching, json.RawMessage(`[{"prompt_id":1,"target_id":5}]`))
	require.NoError(t, err)
	assert.Equal(t, MatchingAnswer{Pairs: map[int64]int64{1: 5}}, v)

	v, err = DecodeAnswer(QuestionTypeSingleSelect, nil)
	require.NoError(t, err)
	assert.False(t, v.Answered())

	v, err = DecodeAnswer(QuestionTypeMultiSelect, json.RawMessage(`[11,10]`))
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, v.(MultiSelectAnswer).Selected())

	_, err = DecodeAnswer(QuestionTypeFillBlank, json.RawMessage(`12`))
	assert.Error(t, err)

	_, err = DecodeAnswer(QuestionType("ESSAY"), json.RawMessage(`"x"`))
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

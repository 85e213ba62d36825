package answer

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/model"
)

func optID(id int64) *int64 { return &id }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	questions := []model.Question{
		{ID: 3, Type: model.QuestionTypeFillBlank, OrderIndex: 2},
		{ID: 1, Type: model.QuestionTypeSingleSelect, OrderIndex: 0},
		{ID: 2, Type: model.QuestionTypeMultiSelect, OrderIndex: 1},
	}
	opts := map[int64]*model.OptionSet{
		1: model.NewOptionSet([]model.AnswerOption{{ID: 100, QuestionID: 1}, {ID: 101, QuestionID: 1}}),
		2: model.NewOptionSet([]model.AnswerOption{{ID: 10, QuestionID: 2}, {ID: 11, QuestionID: 2}, {ID: 12, QuestionID: 2}}),
	}
	s, err := NewStore(questions, opts, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewStoreSeedsEmptyAnswers(t *testing.T) {
	s := newTestStore(t)

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{entries[0].Question.ID, entries[1].Question.ID, entries[2].Question.ID})
	for _, e := range entries {
		assert.Equal(t, e.Question.Type, e.Value.Type())
		assert.False(t, e.Value.Answered())
	}
}

func TestNewStoreRejectsDuplicates(t *testing.T) {
	_, err := NewStore([]model.Question{
		{ID: 1, Type: model.QuestionTypeFillBlank},
		{ID: 1, Type: model.QuestionTypeFillBlank},
	}, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestSetIsVisibleImmediately(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Set(3, model.FillBlankAnswer{Text: "osmosis"}))

	entries := s.Entries()
	assert.Equal(t, model.FillBlankAnswer{Text: "osmosis"}, entries[2].Value)
	answered, total := s.AnsweredCount()
	assert.Equal(t, 1, answered)
	assert.Equal(t, 3, total)
}

func TestSetNotifiesObserver(t *testing.T) {
	s := newTestStore(t)

	var got []model.QuestionType
	s.Observe(func(qid int64, v model.AnswerValue, qt model.QuestionType) {
		assert.Equal(t, int64(1), qid)
		got = append(got, qt)
	})

	require.NoError(t, s.Set(1, model.SingleSelectAnswer{OptionID: optID(101)}))
	assert.Equal(t, []model.QuestionType{model.QuestionTypeSingleSelect}, got)
}

func TestSetRejectsMismatchedShape(t *testing.T) {
	s := newTestStore(t)
	called := false
	s.Observe(func(int64, model.AnswerValue, model.QuestionType) { called = true })

	err := s.Set(1, model.FillBlankAnswer{Text: "B"})
	assert.ErrorIs(t, err, model.ErrTypeMismatch)

	err = s.Set(2, model.MultiSelectAnswer{OptionIDs: map[int64]struct{}{99: {}}})
	assert.ErrorIs(t, err, model.ErrInvalidAnswer)

	err = s.Set(42, model.FillBlankAnswer{Text: "x"})
	assert.ErrorIs(t, err, ErrUnknownQuestion)

	assert.False(t, called)
}

func TestMultiSelectToggleScenario(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []int64{10, 11, 10} {
		cur, ok := s.Get(2)
		require.True(t, ok)
		require.NoError(t, s.Set(2, cur.(model.MultiSelectAnswer).Toggle(id)))
	}

	v, _ := s.Get(2)
	assert.Equal(t, []int64{11}, v.(model.MultiSelectAnswer).Selected())
}

func TestGetReturnsCopy(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(2, model.MultiSelectAnswer{OptionIDs: map[int64]struct{}{10: {}}}))

	v, _ := s.Get(2)
	v.(model.MultiSelectAnswer).OptionIDs[12] = struct{}{}

	again, _ := s.Get(2)
	assert.Equal(t, []int64{10}, again.(model.MultiSelectAnswer).Selected())
}

func TestLockAndClear(t *testing.T) {
	s := newTestStore(t)
	s.Lock()

	assert.ErrorIs(t, s.Set(3, model.FillBlankAnswer{Text: "late"}), ErrLocked)

	s.Unlock()
	require.NoError(t, s.Set(3, model.FillBlankAnswer{Text: "retry"}))

	s.Clear()
	assert.Empty(t, s.Entries())
	assert.True(t, s.Locked())
	_, ok := s.Get(3)
	assert.False(t, ok)
}

func TestSeedDoesNotNotify(t *testing.T) {
	s := newTestStore(t)
	called := false
	s.Observe(func(int64, model.AnswerValue, model.QuestionType) { called = true })

	require.NoError(t, s.Seed(1, model.SingleSelectAnswer{OptionID: optID(100)}))
	assert.False(t, called)
	assert.Equal(t, []int64{2, 3}, s.Unanswered())
}

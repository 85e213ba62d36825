package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/model"
)

func fixtureQuestion(t *testing.T, id int64) FixtureQuestion {
	t.Helper()
	fx, err := DefaultFixture()
	require.NoError(t, err)
	for _, q := range fx.Exams[0].Questions {
		if q.ID == id {
			return q
		}
	}
	t.Fatalf("question %d not in fixture", id)
	return FixtureQuestion{}
}

func ptr(v int64) *int64 { return &v }

func set(ids ...int64) map[int64]struct{} {
	m := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

func TestGrade(t *testing.T) {
	tests := []struct {
		name string
		qid  int64
		v    model.AnswerValue
		want bool
	}{
		{"single correct", 1, model.SingleSelectAnswer{OptionID: ptr(102)}, true},
		{"single wrong", 1, model.SingleSelectAnswer{OptionID: ptr(101)}, false},
		{"single empty", 1, model.SingleSelectAnswer{}, false},
		{"multi exact", 2, model.MultiSelectAnswer{OptionIDs: set(201, 203, 204)}, true},
		{"multi missing one", 2, model.MultiSelectAnswer{OptionIDs: set(201, 203)}, false},
		{"multi extra", 2, model.MultiSelectAnswer{OptionIDs: set(201, 202, 203, 204)}, false},
		{"fill ignores case and spacing", 7, model.FillBlankAnswer{Text: "  Fotosintesis "}, true},
		{"fill wrong", 7, model.FillBlankAnswer{Text: "respirasi"}, false},
		{"reorder by position", 4, model.ReorderAnswer{Order: []int64{402, 404, 401, 403}}, true},
		{"reorder load order", 4, model.ReorderAnswer{Order: []int64{401, 402, 403, 404}}, false},
		{"reorder partial", 4, model.ReorderAnswer{Order: []int64{402, 404}}, false},
		{"matching all groups", 5, model.MatchingAnswer{Pairs: map[int64]int64{501: 513, 502: 511, 503: 512}}, true},
		{"matching swapped", 5, model.MatchingAnswer{Pairs: map[int64]int64{501: 511, 502: 513, 503: 512}}, false},
		{"matching incomplete", 5, model.MatchingAnswer{Pairs: map[int64]int64{501: 513}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Grade(fixtureQuestion(t, tc.qid), tc.v))
		})
	}
}

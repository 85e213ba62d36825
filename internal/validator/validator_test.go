package validator

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-session/internal/model"
)

func TestStructUsesQuestionTypeRule(t *testing.T) {
	Setup()

	ok := model.SaveAnswerRequest{
		UserID:       1,
		ExamID:       uuid.New(),
		QuestionID:   3,
		QuestionType: model.QuestionTypeFillBlank,
		Value:        json.RawMessage(`"x"`),
	}
	assert.Nil(t, Struct(&ok))

	bad := ok
	bad.QuestionType = "ESSAY"
	bad.QuestionID = 0
	fields := Struct(&bad)
	assert.Equal(t, "question_type must be a known question type", fields["question_type"])
	assert.Contains(t, fields, "question_id")
}

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ExamInfo carries the scheduling facts the session needs.
type ExamInfo struct {
	ExamID          uuid.UUID `json:"exam_id"`
	Title           string    `json:"title"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
}

// AnswerRecord is an answer previously stored on the server.
type AnswerRecord struct {
	QuestionID   int64           `json:"question_id"`
	QuestionType QuestionType    `json:"question_type"`
	Value        json.RawMessage `json:"value"`
}

// ExamPayload is everything needed to start a session.
type ExamPayload struct {
	ExamInfo      ExamInfo       `json:"exam_info"`
	Questions     []Question     `json:"questions"`
	AnswerOptions []AnswerOption `json:"answer_options"`
	PriorAnswers  []AnswerRecord `json:"prior_answers"`
}

// SaveAnswerRequest is the payload for persisting a single answer.
type SaveAnswerRequest struct {
	UserID       int             `json:"user_id" binding:"required,min=1"`
	ExamID       uuid.UUID       `json:"exam_id" binding:"required"`
	QuestionID   int64           `json:"question_id" binding:"required,min=1"`
	QuestionType QuestionType    `json:"question_type" binding:"required,questiontype"`
	Value        json.RawMessage `json:"value"`
}

// FinishExamRequest is the payload for finishing an exam.
type FinishExamRequest struct {
	UserID int       `json:"user_id" binding:"required,min=1"`
	ExamID uuid.UUID `json:"exam_id" binding:"required"`
}

// FinishResult is the server's answer to a finish request.
type FinishResult struct {
	Success  bool   `json:"success"`
	ResultID *int64 `json:"result_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ResultSummary is the score summary shown after submission.
type ResultSummary struct {
	ResultID   int64     `json:"result_id"`
	ExamID     uuid.UUID `json:"exam_id"`
	UserID     int       `json:"user_id"`
	Score      float64   `json:"score"`
	Correct    int       `json:"correct"`
	Wrong      int       `json:"wrong"`
	Unanswered int       `json:"unanswered"`
	Total      int       `json:"total"`
	FinishedAt time.Time `json:"finished_at"`
}

// ServerTime is the payload of the time endpoint.
type ServerTime struct {
	ServerTime string `json:"server_time"`
}

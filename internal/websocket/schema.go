package websocket

import (
	"encoding/json"

	"github.com/stemsi/exstem-session/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionPing     Action = "ping"
	ActionCheat    Action = "cheat"
)

// RequestEnvelope is used to peek at the action before full parsing.
// ReqID is echoed on the reply so the client can correlate it.
type RequestEnvelope struct {
	Action Action `json:"action"`
	ReqID  string `json:"req_id,omitempty"`
}

// AutosaveRequest is sent by the client to save a single answer.
type AutosaveRequest struct {
	Action       Action             `json:"action"`
	ReqID        string             `json:"req_id,omitempty"`
	QuestionID   int64              `json:"question_id"`
	QuestionType model.QuestionType `json:"question_type"`
	Value        json.RawMessage    `json:"value"`
}

// CheatRequest is sent by the client to report a proctoring event such as
// the exam window losing focus.
type CheatRequest struct {
	Action Action `json:"action"`
	ReqID  string `json:"req_id,omitempty"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// PingRequest keeps the stream alive.
type PingRequest struct {
	Action Action `json:"action"`
	ReqID  string `json:"req_id,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError       Event = "error"
	EventSuccess     Event = "success"
	EventPong        Event = "pong"
	EventForceSubmit Event = "force_submit"
	EventLogout      Event = "logout"
)

// IsProctor reports whether e is pushed by a proctor rather than sent in
// reply to a request.
func (e Event) IsProctor() bool {
	return e == EventForceSubmit || e == EventLogout
}

type AckResponse struct {
	Event  Event  `json:"event"`
	ReqID  string `json:"req_id,omitempty"`
	Status string `json:"status"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	ReqID string `json:"req_id,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event      Event  `json:"event"`
	ReqID      string `json:"req_id,omitempty"`
	ServerTime string `json:"server_time"`
}

// ProctorCommand is pushed unprompted when a proctor acts on a student.
type ProctorCommand struct {
	Event  Event  `json:"event"`
	Reason string `json:"reason,omitempty"`
}

// Incoming is the union of every server event, used by clients to decode a
// frame before dispatching on Event.
type Incoming struct {
	Event      Event  `json:"event"`
	ReqID      string `json:"req_id,omitempty"`
	Status     string `json:"status,omitempty"`
	Code       string `json:"code,omitempty"`
	Error      string `json:"error,omitempty"`
	ServerTime string `json:"server_time,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

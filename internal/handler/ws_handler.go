package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the student exam stream: autosave, ping and proctoring
// events in, replies and proctor commands out.
type WSHandler struct {
	examService    *service.ExamService
	proctorService *service.ProctorService
	limiter        *middleware.RateLimiter
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler. limiter may be nil.
func NewWSHandler(
	examService *service.ExamService,
	proctorService *service.ProctorService,
	limiter *middleware.RateLimiter,
	log zerolog.Logger,
	allowedOrigins []string,
) *WSHandler {
	return &WSHandler{
		examService:    examService,
		proctorService: proctorService,
		limiter:        limiter,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream?token=
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}
	if !h.examService.Exists(examID) {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	studentID := claims.UserID
	wsLog := h.log.With().
		Int("student_id", studentID).
		Str("exam_id", examID.String()).
		Logger()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	commands, unsubscribe, err := h.proctorService.SubscribeStudent(ctx, examID, studentID)
	if err != nil {
		wsLog.Error().Err(err).Msg("Proctor subscription failed")
		_ = conn.WriteError("", string(response.ErrInternal), response.GetMessage(response.ErrInternal))
		return
	}
	defer unsubscribe()
	go h.forwardCommands(ctx, conn, commands, wsLog)

	wsLog.Info().Msg("Student connected")

	for {
		data, err := conn.ReadRaw()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = conn.WriteError("", string(response.ErrInvalidPayload), response.GetMessage(response.ErrInvalidPayload))
			continue
		}

		switch env.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, studentID, examID, env.ReqID, data)
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{
				Event:      ws.EventPong,
				ReqID:      env.ReqID,
				ServerTime: h.examService.Now().UTC().Format(time.RFC3339Nano),
			})
		case ws.ActionCheat:
			h.handleCheat(ctx, conn, studentID, examID, env.ReqID, data)
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			_ = conn.WriteError(env.ReqID, string(response.ErrInvalidPayload), "unknown action: "+string(env.Action))
		}
	}
}

// handleAutosave validates and stores a single answer.
func (h *WSHandler) handleAutosave(ctx context.Context, conn *ws.Conn, studentID int, examID uuid.UUID, reqID string, data []byte) {
	if !h.limiter.Allow("student:" + strconv.Itoa(studentID)) {
		writeCode(conn, reqID, response.ErrRateLimitExceeded)
		return
	}

	var msg ws.AutosaveRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		writeCode(conn, reqID, response.ErrInvalidPayload)
		return
	}

	req := model.SaveAnswerRequest{
		UserID:       studentID,
		ExamID:       examID,
		QuestionID:   msg.QuestionID,
		QuestionType: msg.QuestionType,
		Value:        msg.Value,
	}
	if fields := validator.Struct(&req); fields != nil {
		writeCode(conn, reqID, response.ErrValidation)
		return
	}

	if err := h.examService.SaveAnswer(ctx, req); err != nil {
		_, code := examErrorCode(err)
		if code == response.ErrInternal {
			h.log.Error().Err(err).Int("student_id", studentID).Msg("Autosave failed")
		}
		writeCode(conn, reqID, code)
		return
	}

	_ = conn.WriteTyped(ws.AckResponse{Event: ws.EventSuccess, ReqID: reqID, Status: "saved"})
}

// handleCheat relays a proctoring event to the exam monitor.
func (h *WSHandler) handleCheat(ctx context.Context, conn *ws.Conn, studentID int, examID uuid.UUID, reqID string, data []byte) {
	var msg ws.CheatRequest
	if err := json.Unmarshal(data, &msg); err != nil || msg.Kind == "" {
		writeCode(conn, reqID, response.ErrInvalidPayload)
		return
	}
	if err := h.examService.RecordEvent(ctx, examID, studentID, msg.Kind, msg.Detail); err != nil {
		_, code := examErrorCode(err)
		writeCode(conn, reqID, code)
		return
	}
	_ = conn.WriteTyped(ws.AckResponse{Event: ws.EventSuccess, ReqID: reqID, Status: "recorded"})
}

// forwardCommands pushes proctor commands to the student until ctx ends.
func (h *WSHandler) forwardCommands(ctx context.Context, conn *ws.Conn, commands <-chan []byte, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-commands:
			if !ok {
				return
			}
			var cmd ws.ProctorCommand
			if err := json.Unmarshal(data, &cmd); err != nil || !cmd.Event.IsProctor() {
				log.Warn().Msg("Dropping malformed proctor command")
				continue
			}
			if err := conn.WriteTyped(cmd); err != nil {
				log.Warn().Err(err).Msg("Failed to push proctor command")
				return
			}
			log.Info().Str("command", string(cmd.Event)).Msg("Proctor command delivered")
		}
	}
}

func writeCode(conn *ws.Conn, reqID string, code response.ErrCode) {
	_ = conn.WriteError(reqID, string(code), response.GetMessage(code))
}

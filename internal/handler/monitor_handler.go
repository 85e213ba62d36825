package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

const keepAliveInterval = 30 * time.Second

// ProctorCommandRequest is the optional body of a proctor command.
type ProctorCommandRequest struct {
	Reason string `json:"reason" binding:"max=200"`
}

// MonitorHandler serves the proctor side: a live event feed per exam and
// commands aimed at a single student.
type MonitorHandler struct {
	examService    *service.ExamService
	proctorService *service.ProctorService
	log            zerolog.Logger
}

func NewMonitorHandler(examService *service.ExamService, proctorService *service.ProctorService, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		examService:    examService,
		proctorService: proctorService,
		log:            log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/admin/exams/:id/monitor
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	if !h.examService.Exists(examID) {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
		return
	}

	reqCtx := c.Request.Context()
	events, unsubscribe, err := h.proctorService.SubscribeExam(reqCtx, examID)
	if err != nil {
		h.log.Error().Err(err).Msg("Monitor subscription failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{"type": "connected", "exam_id": examID.String()})
	c.Writer.Flush()

	keepAliveTicker := time.NewTicker(keepAliveInterval)
	defer keepAliveTicker.Stop()

	h.log.Info().Str("exam_id", examID.String()).Msg("Proctor attached to live monitor SSE")

	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Proctor disconnected from live monitor SSE")
			return

		case msg, ok := <-events:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed
			writeSSEData(c, msg)

		case <-keepAliveTicker.C:
			writeSSEData(c, pingPayload)
		}
	}
}

// ForceSubmit godoc
// POST /api/v1/admin/exams/:id/students/:student_id/force-submit
func (h *MonitorHandler) ForceSubmit(c *gin.Context) {
	h.command(c, ws.EventForceSubmit)
}

// ForceLogout godoc
// POST /api/v1/admin/exams/:id/students/:student_id/logout
func (h *MonitorHandler) ForceLogout(c *gin.Context) {
	h.command(c, ws.EventLogout)
}

func (h *MonitorHandler) command(c *gin.Context, event ws.Event) {
	examID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	studentID, err := strconv.Atoi(c.Param("student_id"))
	if err != nil || studentID <= 0 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	if !h.examService.Exists(examID) {
		response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
		return
	}

	var req ProctorCommandRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	if err := h.proctorService.Command(c.Request.Context(), examID, studentID, event, req.Reason); err != nil {
		h.log.Error().Err(err).Msg("Proctor command failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"status": "sent", "command": event})
}

func writeSSEData(c *gin.Context, payload []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(payload)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}

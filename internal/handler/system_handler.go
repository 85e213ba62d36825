package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
)

// SystemHandler serves the authoritative clock and liveness.
type SystemHandler struct {
	examService *service.ExamService
	startTime   time.Time
	log         zerolog.Logger
}

func NewSystemHandler(examService *service.ExamService, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		examService: examService,
		startTime:   examService.Now(),
		log:         log.With().Str("component", "system_handler").Logger(),
	}
}

// ServerTime godoc
// GET /api/v1/public/time
// Clients derive their clock offset from this value.
func (h *SystemHandler) ServerTime(c *gin.Context) {
	response.Success(c, http.StatusOK, model.ServerTime{
		ServerTime: h.examService.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Health godoc
// GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"status": "ok",
		"uptime": h.examService.Now().Sub(h.startTime).Round(time.Second).String(),
	})
}

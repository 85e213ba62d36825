package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// StudentPortalHandler handles student-facing exam endpoints.
type StudentPortalHandler struct {
	examService *service.ExamService
}

// NewStudentPortalHandler creates a new StudentPortalHandler.
func NewStudentPortalHandler(examService *service.ExamService) *StudentPortalHandler {
	return &StudentPortalHandler{examService: examService}
}

// GetSession godoc
// GET /api/v1/student/exams/:exam_id/session?user_id=
// Starts or resumes the attempt and returns questions, options, the end time
// and previously saved answers.
func (h *StudentPortalHandler) GetSession(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}
	if q := c.Query("user_id"); q != "" && q != strconv.Itoa(claims.UserID) {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	payload, err := h.examService.GetSessionPayload(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// SaveAnswer godoc
// PUT /api/v1/student/exams/:exam_id/answers/:question_id
// Stores the latest value of one answer.
func (h *StudentPortalHandler) SaveAnswer(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}
	questionID, err := strconv.ParseInt(c.Param("question_id"), 10, 64)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SaveAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if req.ExamID != examID || req.QuestionID != questionID {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}
	if req.UserID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	if err := h.examService.SaveAnswer(c.Request.Context(), req); err != nil {
		failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// FinishExam godoc
// POST /api/v1/student/exams/:exam_id/finish
// Grades the attempt. Repeated calls return the first result id.
func (h *StudentPortalHandler) FinishExam(c *gin.Context) {
	claims, examID, ok := studentExam(c)
	if !ok {
		return
	}

	var req model.FinishExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if req.ExamID != examID {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}
	if req.UserID != claims.UserID {
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
		return
	}

	result, err := h.examService.FinishExam(c.Request.Context(), req)
	if err != nil {
		failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// GetResult godoc
// GET /api/v1/student/results/:result_id
func (h *StudentPortalHandler) GetResult(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	resultID, err := strconv.ParseInt(c.Param("result_id"), 10, 64)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	summary, err := h.examService.GetResult(c.Request.Context(), resultID, claims.UserID)
	if err != nil {
		failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, summary)
}

// studentExam reads the claims and the :exam_id param, writing the error
// response itself when either is missing.
func studentExam(c *gin.Context) (*service.Claims, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, false
	}
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, false
	}
	return claims, examID, true
}

// examErrorCode maps service errors to HTTP status and error code.
func examErrorCode(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotAvailable
	case errors.Is(err, service.ErrQuestionNotFound):
		return http.StatusNotFound, response.ErrQuestionNotFound
	case errors.Is(err, service.ErrExamFinished):
		return http.StatusConflict, response.ErrExamFinished
	case errors.Is(err, service.ErrExamTimeUp):
		return http.StatusForbidden, response.ErrExamTimeUp
	case errors.Is(err, service.ErrResultNotFound):
		return http.StatusNotFound, response.ErrResultNotFound
	case errors.Is(err, model.ErrTypeMismatch), errors.Is(err, model.ErrInvalidAnswer):
		return http.StatusUnprocessableEntity, response.ErrInvalidAnswer
	}
	return http.StatusInternalServerError, response.ErrInternal
}

func failExam(c *gin.Context, err error) {
	status, code := examErrorCode(err)
	response.Fail(c, status, code)
}

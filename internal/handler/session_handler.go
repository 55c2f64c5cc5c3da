package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/liveclass/internal/middleware"
	"github.com/stemsi/liveclass/internal/model"
	"github.com/stemsi/liveclass/internal/repository"
	"github.com/stemsi/liveclass/internal/response"
	"github.com/stemsi/liveclass/internal/service"
	"github.com/stemsi/liveclass/internal/validator"
)

// ResultReader reads archived results.
type ResultReader interface {
	GetResults(ctx context.Context, sessionID string) (*model.SessionResults, error)
}

// SessionHandler exposes the teacher's controls over live sessions.
type SessionHandler struct {
	classroom *service.ClassroomService
	results   ResultReader
	log       zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler. results may be nil when
// archiving is disabled.
func NewSessionHandler(classroom *service.ClassroomService, results ResultReader, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		classroom: classroom,
		results:   results,
		log:       log.With().Str("component", "session_handler").Logger(),
	}
}

func (h *SessionHandler) fail(c *gin.Context, err error) {
	writeSessionError(c, h.log, err)
}

// writeSessionError maps service and repository errors to API errors.
func writeSessionError(c *gin.Context, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, repository.ErrCodeNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrCodeNotFound)
	case errors.Is(err, repository.ErrNoResults):
		response.Fail(c, http.StatusNotFound, response.ErrNotArchived)
	case errors.Is(err, service.ErrNotSessionOwner):
		response.Fail(c, http.StatusForbidden, response.ErrNotSessionOwner)
	case errors.Is(err, service.ErrSessionEnded):
		response.Fail(c, http.StatusConflict, response.ErrSessionEnded)
	case errors.Is(err, service.ErrSlideOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrSlideOutOfRange)
	case errors.Is(err, service.ErrStudentNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrStudentNotFound)
	case errors.Is(err, service.ErrResponseNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrResponseNotFound)
	case errors.Is(err, service.ErrInvalidQuiz):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidQuiz, map[string]string{"quiz": err.Error()})
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Str("request_id", response.RequestID(c)).Msg("Session request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

func teacherID(c *gin.Context) (int, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, false
	}
	return claims.UserID, true
}

// CreateSession godoc
// POST /api/v1/teacher/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	tid, ok := teacherID(c)
	if !ok {
		return
	}
	var req model.CreateSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	rec, err := h.classroom.CreateSession(c.Request.Context(), tid, &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"session_id": rec.ID, "session": rec})
}

// GetSession godoc
// GET /api/v1/teacher/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	tid, ok := teacherID(c)
	if !ok {
		return
	}
	rec, err := h.classroom.GetSession(c.Request.Context(), tid, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session_id": rec.ID, "session": rec})
}

// SetSlide godoc
// POST /api/v1/teacher/sessions/:id/slide
func (h *SessionHandler) SetSlide(c *gin.Context) {
	tid, ok := teacherID(c)
	if !ok {
		return
	}
	var req model.SetSlideRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if err := h.classroom.SetSlide(c.Request.Context(), tid, c.Param("id"), *req.Index); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"current_slide_index": *req.Index})
}

// SetLocked godoc
// POST /api/v1/teacher/sessions/:id/lock
func (h *SessionHandler) SetLocked(c *gin.Context) {
	h.setFlag(c, h.classroom.SetLocked, "is_locked")
}

// SetPaused godoc
// POST /api/v1/teacher/sessions/:id/pause
func (h *SessionHandler) SetPaused(c *gin.Context) {
	h.setFlag(c, h.classroom.SetPaused, "is_paused")
}

type flagSetter func(ctx context.Context, teacherID int, sessionID string, v bool) error

func (h *SessionHandler) setFlag(c *gin.Context, set flagSetter, name string) {
	tid, ok := teacherID(c)
	if !ok {
		return
	}
	var req model.SetFlagRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if err := set(c.Request.Context(), tid, c.Param("id"), *req.Value); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{name: *req.Value})
}

// EndSession godoc
// POST /api/v1/teacher/sessions/:id/end
func (h *SessionHandler) EndSession(c *gin.Context) {
	tid, ok := teacherID(c)
	if !ok {
		return
	}
	if err := h.classroom.EndSession(c.Request.Context(), tid, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"is_active": false})
}

// EvaluateResponse godoc
// POST /api/v1/teacher/sessions/:id/students/:student_id/responses/:slide_id/evaluation
func (h *SessionHandler) EvaluateResponse(c *gin.Context) {
	tid, ok := teacherID(c)
	if !ok {
		return
	}
	var req model.EvaluateResponseRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	err := h.classroom.EvaluateResponse(c.Request.Context(), tid,
		c.Param("id"), c.Param("student_id"), c.Param("slide_id"), req.IsCorrect, req.Points)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"is_correct": req.IsCorrect, "points": req.Points})
}

// GetResults godoc
// GET /api/v1/teacher/sessions/:id/results
func (h *SessionHandler) GetResults(c *gin.Context) {
	tid, ok := teacherID(c)
	if !ok {
		return
	}
	if h.results == nil {
		response.Fail(c, http.StatusServiceUnavailable, response.ErrNotArchived)
		return
	}

	res, err := h.results.GetResults(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Archive.TeacherID != tid {
		h.fail(c, service.ErrNotSessionOwner)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// LookupCode godoc
// GET /api/v1/public/codes/:code
func (h *SessionHandler) LookupCode(c *gin.Context) {
	var req model.CodeLookupRequest
	if fields := validator.BindURI(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	lookup, err := h.classroom.LookupCode(c.Request.Context(), req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, lookup)
}

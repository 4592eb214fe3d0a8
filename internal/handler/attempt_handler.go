package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/simulator"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// AttemptHandler serves the attempt lifecycle endpoints.
type AttemptHandler struct {
	engine *simulator.Engine
	log    zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(engine *simulator.Engine, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		engine: engine,
		log:    log.With().Str("component", "attempt_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/attempts/start-session
// Opens a session for the test, or resumes the one in progress.
func (h *AttemptHandler) StartSession(c *gin.Context) {
	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.engine.Start(c.Request.Context(), middleware.GetStudentID(c), req.TestID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// FetchByNumber godoc
// POST /api/v1/attempts/fetch-by-number
// Returns the pair containing the requested question.
func (h *AttemptHandler) FetchByNumber(c *gin.Context) {
	var req model.FetchByNumberRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.engine.FetchByNumber(c.Request.Context(), middleware.GetStudentID(c), req.SessionID, req.QuestionNumber)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// SubmitAndNext godoc
// POST /api/v1/attempts/submit-and-next
func (h *AttemptHandler) SubmitAndNext(c *gin.Context) {
	var req model.SubmitAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.engine.SubmitAndNext(c.Request.Context(), middleware.GetStudentID(c), req.SessionID, req.Answers)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// SubmitAndPrevious godoc
// POST /api/v1/attempts/submit-and-previous
func (h *AttemptHandler) SubmitAndPrevious(c *gin.Context) {
	var req model.SubmitAnswersRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.engine.SubmitAndPrevious(c.Request.Context(), middleware.GetStudentID(c), req.SessionID, req.Answers)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// SubmitSession godoc
// POST /api/v1/attempts/submit-session
// Finishes the session. A second call answers 409 SESSION_ALREADY_FINISHED.
func (h *AttemptHandler) SubmitSession(c *gin.Context) {
	var req model.SubmitSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.engine.SubmitSession(c.Request.Context(), middleware.GetStudentID(c), req.SessionID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// GetResult godoc
// GET /api/v1/attempts/results/:session_id
func (h *AttemptHandler) GetResult(c *gin.Context) {
	result, err := h.engine.Result(c.Request.Context(), middleware.GetStudentID(c), model.ID(c.Param("session_id")))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

// ListTests godoc
// GET /api/v1/attempts/tests
func (h *AttemptHandler) ListTests(c *gin.Context) {
	tests, err := h.engine.ListTests(c.Request.Context(), middleware.GetStudentID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if tests == nil {
		tests = []model.TestSummary{}
	}
	response.Success(c, http.StatusOK, tests)
}

// fail maps simulator errors to status codes.
func (h *AttemptHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, simulator.ErrTestNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrTestNotFound)
	case errors.Is(err, simulator.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, simulator.ErrSessionForbidden):
		response.Fail(c, http.StatusForbidden, response.ErrSessionForbidden)
	case errors.Is(err, simulator.ErrAlreadyFinished):
		response.Fail(c, http.StatusConflict, response.ErrSessionFinished)
	case errors.Is(err, simulator.ErrOutOfRange):
		response.Fail(c, http.StatusBadRequest, response.ErrQuestionOutOfRange)
	case errors.Is(err, simulator.ErrUnknownQuestion):
		response.Fail(c, http.StatusBadRequest, response.ErrUnknownQuestion)
	case errors.Is(err, simulator.ErrNoQuestions):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNoQuestions)
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}

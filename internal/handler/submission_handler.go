package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// SubmissionHandler handles attempt submission and grading endpoints.
type SubmissionHandler struct {
	submissionService *service.SubmissionService
}

// NewSubmissionHandler creates a new SubmissionHandler.
func NewSubmissionHandler(submissionService *service.SubmissionService) *SubmissionHandler {
	return &SubmissionHandler{submissionService: submissionService}
}

// Submit godoc
// POST /api/v1/submissions
// Persists an assembled attempt and queues it for auto-grading.
func (h *SubmissionHandler) Submit(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var req model.SubmissionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	id, err := h.submissionService.Submit(c.Request.Context(), p, &req)
	if err != nil {
		failFromService(c, err)
		return
	}

	response.Success(c, http.StatusCreated, model.SubmitResult{SubmissionID: id})
}

// GetSubmission godoc
// GET /api/v1/submissions/:submission_id
// Returns a submission with question details. Students only see their own.
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "submission_id")
	if !ok {
		return
	}

	sub, err := h.submissionService.Get(c.Request.Context(), p, id)
	if err != nil {
		failFromService(c, err)
		return
	}

	response.Success(c, http.StatusOK, sub)
}

// UpdateMarks godoc
// PUT /api/v1/submissions/:submission_id/marks
// Applies the full marks map of a grading edit. Teacher only.
func (h *SubmissionHandler) UpdateMarks(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	id, ok := paramID(c, "submission_id")
	if !ok {
		return
	}

	var req model.UpdateMarksRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub, err := h.submissionService.UpdateMarks(c.Request.Context(), p, id, req.Marks)
	if err != nil {
		failFromService(c, err)
		return
	}

	response.Success(c, http.StatusOK, sub)
}

// ListSubmissions godoc
// GET /api/v1/submissions?quiz_id=&student_id=&page=&per_page=
// Lists submissions newest first. Students are narrowed to their own.
func (h *SubmissionHandler) ListSubmissions(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}

	var filter model.SubmissionFilter
	if raw := c.Query("quiz_id"); raw != "" {
		quizID, err := uuid.Parse(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		filter.QuizID = quizID
	}
	filter.StudentID = c.Query("student_id")

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	subs, pagination, err := h.submissionService.List(c.Request.Context(), p, filter, page, perPage)
	if err != nil {
		failFromService(c, err)
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"submissions": subs}, pagination)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// QuizHandler serves quiz payloads and quiz authoring.
type QuizHandler struct {
	quizService *service.QuizService
}

// NewQuizHandler creates a new QuizHandler.
func NewQuizHandler(quizService *service.QuizService) *QuizHandler {
	return &QuizHandler{quizService: quizService}
}

// GetQuiz godoc
// GET /api/v1/quizzes/:quiz_id
// Returns the quiz header and its questions with correct answers stripped.
// Inactive quizzes are returned as well; the attempt client refuses them.
func (h *QuizHandler) GetQuiz(c *gin.Context) {
	quizID, ok := paramID(c, "quiz_id")
	if !ok {
		return
	}

	payload, err := h.quizService.GetPayload(c.Request.Context(), quizID)
	if err != nil {
		failFromService(c, err)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// ListQuizzes godoc
// GET /api/v1/quizzes
// Lists active quizzes.
func (h *QuizHandler) ListQuizzes(c *gin.Context) {
	quizzes, err := h.quizService.ListActive(c.Request.Context())
	if err != nil {
		failFromService(c, err)
		return
	}
	if quizzes == nil {
		quizzes = []model.Quiz{}
	}

	response.Success(c, http.StatusOK, gin.H{"quizzes": quizzes})
}

// CreateQuiz godoc
// POST /api/v1/quizzes
// Creates a quiz with its questions. Teacher only.
func (h *QuizHandler) CreateQuiz(c *gin.Context) {
	var req model.CreateQuizRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	created, err := h.quizService.Create(c.Request.Context(), &req)
	if err != nil {
		failFromService(c, err)
		return
	}

	response.Success(c, http.StatusCreated, created)
}

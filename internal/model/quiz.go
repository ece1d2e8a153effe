package model

import (
	"github.com/google/uuid"
)

// Quiz is the immutable header of a quiz. It does not change for the
// duration of an attempt.
type Quiz struct {
	ID              uuid.UUID `json:"id" validate:"required"`
	Title           string    `json:"title" validate:"required,max=255"`
	DurationMinutes int       `json:"duration_minutes" validate:"gt=0"`
	TotalMarks      int       `json:"total_marks" validate:"gt=0"`
	IsActive        bool      `json:"is_active"`
}

// DurationSeconds returns the attempt budget in seconds.
func (q Quiz) DurationSeconds() int {
	return q.DurationMinutes * 60
}

// QuizPayload is the wire shape returned when fetching a quiz by id.
type QuizPayload struct {
	Quiz      Quiz          `json:"quiz"`
	Questions []QuestionDTO `json:"questions"`
}

// CreateQuizRequest is the teacher payload for authoring a quiz.
type CreateQuizRequest struct {
	Title           string        `json:"title" binding:"required,max=255"`
	DurationMinutes int           `json:"duration_minutes" binding:"required,gt=0"`
	IsActive        bool          `json:"is_active"`
	Questions       []QuestionDTO `json:"questions" binding:"required,min=1"`
}

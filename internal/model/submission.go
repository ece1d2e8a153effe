package model

import (
	"time"

	"github.com/google/uuid"
)

// GradingStatus is the server-determined grading progress of a submission.
type GradingStatus string

const (
	GradingStatusPending   GradingStatus = "pending"
	GradingStatusPartial   GradingStatus = "partial"
	GradingStatusEvaluated GradingStatus = "evaluated"
)

// SubmitReason records why an attempt was submitted.
type SubmitReason string

const (
	SubmitReasonManual  SubmitReason = "manual"
	SubmitReasonTimeout SubmitReason = "timeout"
)

// Submission is the persisted aggregate of one attempt.
type Submission struct {
	ID            uuid.UUID     `json:"id"`
	QuizID        uuid.UUID     `json:"quiz_id"`
	StudentID     string        `json:"student_id"`
	AttemptNumber int           `json:"attempt_number"`
	Answers       []Answer      `json:"answers"`
	TotalMarks    float64       `json:"total_marks"`
	ObtainedMarks float64       `json:"obtained_marks"`
	Percentage    int           `json:"percentage"`
	GradingStatus GradingStatus `json:"grading_status"`
	Reason        SubmitReason  `json:"submit_reason"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SubmissionRequest is the wire-ready payload built by the assembler.
type SubmissionRequest struct {
	QuizID      uuid.UUID    `json:"quiz_id" binding:"required"`
	StudentID   string       `json:"student_id" binding:"required,max=128"`
	Answers     []Answer     `json:"answers" binding:"required,min=1"`
	TotalMarks  float64      `json:"total_marks" binding:"gte=0"`
	Reason      SubmitReason `json:"submit_reason" binding:"required,oneof=manual timeout"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// SubmitResult is returned after a submission has been persisted.
type SubmitResult struct {
	SubmissionID uuid.UUID `json:"submission_id"`
}

// UpdateMarksRequest carries the full staged marks map of a grading edit.
type UpdateMarksRequest struct {
	Marks map[uuid.UUID]float64 `json:"marks" binding:"required"`
}

// SubmissionFilter narrows a submission listing. Empty fields do not filter.
type SubmissionFilter struct {
	QuizID    uuid.UUID
	StudentID string
}

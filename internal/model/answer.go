package model

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
)

// Unanswered is the value carried by an assembled answer the student left blank.
var Unanswered = json.RawMessage("null")

// IsUnanswered reports whether a raw answer value is empty or JSON null.
func IsUnanswered(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, Unanswered)
}

// Answer is one per-question entry of a submission. Value is opaque to the
// client: an option index, a string or a structured map depending on the variant.
//
// Upstream records per-answer marks inconsistently: `marks` is used both as the
// awarded mark and as the question maximum. Awarded and MaxValue resolve them.
type Answer struct {
	QuestionID    uuid.UUID       `json:"question_id"`
	Value         json.RawMessage `json:"answer"`
	Answered      bool            `json:"answered"`
	Marks         *float64        `json:"marks,omitempty"`
	MaxMarks      *float64        `json:"max_marks,omitempty"`
	MarksObtained *float64        `json:"marks_obtained,omitempty"`
	Question      *QuestionDTO    `json:"question,omitempty"`
}

// Awarded returns the awarded mark: marks_obtained, else marks, else 0.
func (a Answer) Awarded() float64 {
	switch {
	case a.MarksObtained != nil:
		return *a.MarksObtained
	case a.Marks != nil:
		return *a.Marks
	}
	return 0
}

// Graded reports whether a mark has been recorded by grading.
func (a Answer) Graded() bool {
	return a.MarksObtained != nil
}

// MaxValue returns the ceiling for the answer: max_marks, else marks, else 0.
func (a Answer) MaxValue() float64 {
	switch {
	case a.MaxMarks != nil:
		return *a.MaxMarks
	case a.Marks != nil:
		return *a.Marks
	}
	return 0
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

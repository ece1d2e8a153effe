// Package submission turns an attempt snapshot into a wire-ready payload.
package submission

import (
	"bytes"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Assemble builds one answer per question in the snapshot's canonical question
// order. Questions without a stored value get the Unanswered sentinel. Every
// answer starts with zero awarded marks pending server-side grading. Assemble
// is pure and never fails.
func Assemble(snap model.AttemptSnapshot) model.SubmissionRequest {
	answers := make([]model.Answer, 0, len(snap.Questions))
	var total float64

	for _, q := range snap.Questions {
		a := model.Answer{
			QuestionID: q.ID,
			Value:      model.Unanswered,
			Marks:      model.Float(0),
			MaxMarks:   model.Float(q.Marks),
		}
		if v, ok := snap.Answers[q.ID]; ok && !model.IsUnanswered(v) {
			a.Value = bytes.Clone(v)
			a.Answered = true
		}
		answers = append(answers, a)
		total += q.Marks
	}

	return model.SubmissionRequest{
		QuizID:      snap.Quiz.ID,
		StudentID:   snap.StudentID,
		Answers:     answers,
		TotalMarks:  total,
		Reason:      snap.Reason,
		SubmittedAt: snap.TakenAt,
	}
}

// Unanswered counts the questions of a snapshot that have no stored value or
// a null one.
func Unanswered(snap model.AttemptSnapshot) int {
	n := 0
	for _, q := range snap.Questions {
		if v, ok := snap.Answers[q.ID]; !ok || model.IsUnanswered(v) {
			n++
		}
	}
	return n
}

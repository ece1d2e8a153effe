package grading

import (
	"encoding/json"
	"strings"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// AutoMark marks an answer against the question's answer key. ok is false
// when the question needs a teacher: subjective variants or a missing key.
// An unanswered objective question scores zero.
func AutoMark(q model.Question, value json.RawMessage) (awarded float64, ok bool) {
	switch c := q.Content.(type) {
	case model.MultipleChoice:
		if c.CorrectIndex == nil {
			return 0, false
		}
		return award(q.Marks, choiceMatches(value, c.Options, *c.CorrectIndex)), true

	case model.AssertionReason:
		if c.CorrectIndex == nil {
			return 0, false
		}
		return award(q.Marks, choiceMatches(value, c.Options, *c.CorrectIndex)), true

	case model.TrueFalse:
		if c.Correct == nil {
			return 0, false
		}
		got, valid := boolAnswer(value)
		return award(q.Marks, valid && got == *c.Correct), true
	}
	return 0, false
}

// StatusOf derives the grading status from which answers carry awarded marks.
func StatusOf(answers []model.Answer) model.GradingStatus {
	graded := 0
	for _, a := range answers {
		if a.Graded() {
			graded++
		}
	}
	switch {
	case len(answers) > 0 && graded == len(answers):
		return model.GradingStatusEvaluated
	case graded > 0:
		return model.GradingStatusPartial
	default:
		return model.GradingStatusPending
	}
}

func award(marks float64, correct bool) float64 {
	if correct {
		return marks
	}
	return 0
}

// choiceMatches accepts the selected option as an index or as the option text.
func choiceMatches(value json.RawMessage, options []string, correct int) bool {
	if model.IsUnanswered(value) {
		return false
	}
	var idx int
	if err := json.Unmarshal(value, &idx); err == nil {
		return idx == correct
	}
	var text string
	if err := json.Unmarshal(value, &text); err == nil && correct < len(options) {
		return strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(options[correct]))
	}
	return false
}

func boolAnswer(value json.RawMessage) (bool, bool) {
	if model.IsUnanswered(value) {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(value, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

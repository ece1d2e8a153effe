// Package score derives display values from raw mark totals. The student
// result view and the teacher submission list both go through these
// functions so the two views never disagree on the same data.
package score

import (
	"math"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Band is the color-coded bucket a percentage falls into.
type Band string

const (
	BandGood    Band = "good"
	BandWarning Band = "warning"
	BandPoor    Band = "poor"
)

// Percentage returns obtained/max*100 rounded to the nearest integer.
// A non-positive max yields 0.
func Percentage(obtained, max float64) int {
	if max <= 0 || math.IsNaN(obtained) || math.IsNaN(max) {
		return 0
	}
	return int(math.Round(obtained / max * 100))
}

// GradeLetter maps a percentage to a letter grade.
func GradeLetter(percentage int) string {
	switch {
	case percentage >= 90:
		return "A+"
	case percentage >= 80:
		return "A"
	case percentage >= 70:
		return "B"
	case percentage >= 60:
		return "C"
	case percentage >= 50:
		return "D"
	default:
		return "F"
	}
}

// ColorBand maps a percentage to its display band.
func ColorBand(percentage int) Band {
	switch {
	case percentage >= 80:
		return BandGood
	case percentage >= 60:
		return BandWarning
	default:
		return BandPoor
	}
}

// Summary bundles every derived value of a mark total.
type Summary struct {
	Obtained   float64 `json:"obtained"`
	Max        float64 `json:"max"`
	Percentage int     `json:"percentage"`
	Grade      string  `json:"grade"`
	Band       Band    `json:"band"`
}

// Summarize computes the summary for a raw total.
func Summarize(obtained, max float64) Summary {
	pct := Percentage(obtained, max)
	return Summary{
		Obtained:   obtained,
		Max:        max,
		Percentage: pct,
		Grade:      GradeLetter(pct),
		Band:       ColorBand(pct),
	}
}

// ForSubmission summarizes a persisted submission.
func ForSubmission(s model.Submission) Summary {
	return Summarize(s.ObtainedMarks, s.TotalMarks)
}

// ForSubmissions summarizes a list in order, as used by the teacher list view.
func ForSubmissions(subs []model.Submission) []Summary {
	out := make([]Summary, len(subs))
	for i := range subs {
		out[i] = ForSubmission(subs[i])
	}
	return out
}

// Package grading reconciles teacher-entered marks against a persisted
// submission.
package grading

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/score"
)

var (
	// ErrGradingCommitFailed wraps a network or server rejection while saving
	// marks. Staged edits are retained.
	ErrGradingCommitFailed = errors.New("grading commit failed")
	ErrNotLoaded           = errors.New("no submission loaded")
	ErrNotEditing          = errors.New("submission is not being edited")
	ErrInvalidMark         = errors.New("mark is not a number")
	ErrUnknownQuestion     = errors.New("question is not part of this submission")
	ErrCommitInFlight      = errors.New("marks are being saved")
)

// Committer persists a full marks map and returns the updated submission.
type Committer interface {
	UpdateMarks(ctx context.Context, submissionID uuid.UUID, marks map[uuid.UUID]float64) (*model.Submission, error)
}

// Totals are the derived values shown next to the marks being edited.
type Totals struct {
	Obtained   float64
	Max        float64
	Percentage int
}

// Grade returns the letter grade for the totals.
func (t Totals) Grade() string {
	return score.GradeLetter(t.Percentage)
}

// Band returns the colour band for the totals.
func (t Totals) Band() score.Band {
	return score.ColorBand(t.Percentage)
}

// ComputeTotals sums the staged marks and the per-answer maximums. The
// denominator is floored at 1 so a submission without any max marks yields a
// number instead of a division by zero. Values are not clamped.
func ComputeTotals(marks map[uuid.UUID]float64, answers []model.Answer) Totals {
	var t Totals
	for _, a := range answers {
		t.Obtained += marks[a.QuestionID]
		t.Max += a.MaxValue()
	}
	t.Percentage = int(math.Round(t.Obtained / math.Max(t.Max, 1) * 100))
	return t
}

// Seed builds a marks map from the awarded marks already on the answers.
func Seed(answers []model.Answer) map[uuid.UUID]float64 {
	marks := make(map[uuid.UUID]float64, len(answers))
	for _, a := range answers {
		marks[a.QuestionID] = a.Awarded()
	}
	return marks
}

// ParseMark reads a teacher-typed mark. Blank input counts as zero.
func ParseMark(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMark, raw)
	}
	return v, nil
}

// Engine holds the editable marks of one submission. Editing is modal: Begin
// snapshots the marks, Cancel restores the snapshot and Commit saves them.
type Engine struct {
	committer Committer
	log       zerolog.Logger

	mu         sync.Mutex
	sub        *model.Submission
	marks      map[uuid.UUID]float64
	snapshot   map[uuid.UUID]float64
	editing    bool
	committing bool
}

// NewEngine creates a new Engine.
func NewEngine(committer Committer, log zerolog.Logger) *Engine {
	return &Engine{
		committer: committer,
		log:       log.With().Str("component", "grading").Logger(),
	}
}

// Load seeds the engine from a submission and leaves edit mode.
func (e *Engine) Load(sub *model.Submission) error {
	if sub == nil {
		return ErrNotLoaded
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.committing {
		return ErrCommitInFlight
	}
	e.sub = cloneSubmission(sub)
	e.marks = Seed(e.sub.Answers)
	e.snapshot = nil
	e.editing = false
	return nil
}

// Submission returns a copy of the loaded submission.
func (e *Engine) Submission() (*model.Submission, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub == nil {
		return nil, false
	}
	return cloneSubmission(e.sub), true
}

// Marks returns a copy of the current, possibly staged, marks.
func (e *Engine) Marks() map[uuid.UUID]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return maps.Clone(e.marks)
}

// Editing reports whether edit mode is open.
func (e *Engine) Editing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editing
}

// Totals recomputes the totals from whatever marks are currently staged.
func (e *Engine) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub == nil {
		return ComputeTotals(nil, nil)
	}
	return ComputeTotals(e.marks, e.sub.Answers)
}

// Begin opens edit mode. Calling it while already editing keeps the first
// snapshot.
func (e *Engine) Begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sub == nil {
		return ErrNotLoaded
	}
	if e.editing {
		return nil
	}
	e.snapshot = maps.Clone(e.marks)
	e.editing = true
	return nil
}

// SetMark stages a mark for one question.
func (e *Engine) SetMark(questionID uuid.UUID, raw string) error {
	v, err := ParseMark(raw)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.editing {
		return ErrNotEditing
	}
	if e.committing {
		return ErrCommitInFlight
	}
	if _, ok := e.marks[questionID]; !ok {
		return ErrUnknownQuestion
	}
	e.marks[questionID] = v
	return nil
}

// Cancel discards staged marks and restores the snapshot taken by Begin.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.editing {
		return ErrNotEditing
	}
	if e.committing {
		return ErrCommitInFlight
	}
	e.marks = e.snapshot
	e.snapshot = nil
	e.editing = false
	return nil
}

// Commit sends the full marks map. On success the returned submission
// replaces the loaded one and edit mode exits; on failure edit mode stays
// open with the staged marks intact.
func (e *Engine) Commit(ctx context.Context) (*model.Submission, error) {
	e.mu.Lock()
	if !e.editing {
		e.mu.Unlock()
		return nil, ErrNotEditing
	}
	if e.committing {
		e.mu.Unlock()
		return nil, ErrCommitInFlight
	}
	e.committing = true
	id := e.sub.ID
	marks := maps.Clone(e.marks)
	e.mu.Unlock()

	updated, err := e.committer.UpdateMarks(ctx, id, marks)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.committing = false

	if err != nil {
		e.log.Error().Err(err).Str("submission_id", id.String()).Msg("Failed to save marks")
		return nil, fmt.Errorf("%w: %w", ErrGradingCommitFailed, err)
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: empty response", ErrGradingCommitFailed)
	}

	e.sub = cloneSubmission(updated)
	e.marks = Seed(e.sub.Answers)
	e.snapshot = nil
	e.editing = false

	e.log.Info().
		Str("submission_id", id.String()).
		Str("grading_status", string(e.sub.GradingStatus)).
		Msg("Marks saved")
	return cloneSubmission(e.sub), nil
}

func cloneSubmission(s *model.Submission) *model.Submission {
	c := *s
	c.Answers = make([]model.Answer, len(s.Answers))
	copy(c.Answers, s.Answers)
	return &c
}

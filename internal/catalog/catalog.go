// Package catalog loads a quiz and its ordered question list and normalizes
// the questions into their canonical variants.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

var (
	// ErrQuizInactive is returned for a quiz that is not open for attempts.
	ErrQuizInactive = errors.New("quiz is not active")
	// ErrInvalidQuiz is returned when fetched quiz data breaks a data model rule.
	ErrInvalidQuiz = errors.New("invalid quiz data")
)

// Source fetches the raw quiz payload, typically over REST.
type Source interface {
	FetchQuiz(ctx context.Context, quizID uuid.UUID) (*model.QuizPayload, error)
}

// Catalog is a validated quiz with its questions in presentation order.
type Catalog struct {
	Quiz      model.Quiz
	Questions []model.Question
}

// Loader turns raw payloads from a Source into a Catalog.
type Loader struct {
	source Source
	log    zerolog.Logger
}

// NewLoader creates a new Loader.
func NewLoader(source Source, log zerolog.Logger) *Loader {
	return &Loader{
		source: source,
		log:    log.With().Str("component", "catalog").Logger(),
	}
}

// Load fetches and normalizes a quiz. An empty question list is not an error
// here; the session decides whether it can start.
func (l *Loader) Load(ctx context.Context, quizID uuid.UUID) (*Catalog, error) {
	payload, err := l.source.FetchQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("fetch quiz: %w", err)
	}
	return l.Normalize(payload)
}

// Normalize validates a payload and orders its questions by ordinal.
func (l *Loader) Normalize(payload *model.QuizPayload) (*Catalog, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidQuiz)
	}
	quiz := payload.Quiz
	if err := validator.Struct(quiz); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuiz, err)
	}
	if !quiz.IsActive {
		return nil, ErrQuizInactive
	}

	questions := make([]model.Question, 0, len(payload.Questions))
	seen := make(map[uuid.UUID]struct{}, len(payload.Questions))
	for _, dto := range payload.Questions {
		if _, dup := seen[dto.ID]; dup {
			return nil, fmt.Errorf("%w: question %s listed twice", ErrInvalidQuiz, dto.ID)
		}
		seen[dto.ID] = struct{}{}

		if dto.Marks <= 0 {
			return nil, fmt.Errorf("%w: question %s has non-positive marks", ErrInvalidQuiz, dto.ID)
		}
		q, err := dto.ToQuestion()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuiz, err)
		}
		questions = append(questions, q)
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].OrderNum < questions[j].OrderNum
	})
	for i := 1; i < len(questions); i++ {
		if questions[i].OrderNum == questions[i-1].OrderNum {
			l.log.Warn().
				Str("quiz_id", quiz.ID.String()).
				Int("order_num", questions[i].OrderNum).
				Msg("Duplicate question ordinal, keeping payload order")
		}
	}

	return &Catalog{Quiz: quiz, Questions: questions}, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"golang.org/x/sync/singleflight"
)

// QuizStore is the persistence the quiz service reads from.
type QuizStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Quiz, error)
	ListActive(ctx context.Context) ([]model.Quiz, error)
	ListQuestions(ctx context.Context, quizID uuid.UUID) ([]model.QuestionDTO, error)
	Create(ctx context.Context, quiz *model.Quiz, questions []model.QuestionDTO) error
}

// QuizService serves quiz payloads from a Redis cache backed by the store.
// The student payload and the answer key are cached separately so answer
// keys never leave the server.
type QuizService struct {
	store QuizStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
	sf    singleflight.Group
}

// NewQuizService creates a new QuizService.
func NewQuizService(store QuizStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *QuizService {
	return &QuizService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "quiz_service").Logger(),
	}
}

// GetPayload returns the student-facing quiz with correct answers stripped.
func (s *QuizService) GetPayload(ctx context.Context, quizID uuid.UUID) (*model.QuizPayload, error) {
	key := config.CacheKey.QuizPayloadKey(quizID.String())
	data, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var payload model.QuizPayload
		if err := json.Unmarshal(data, &payload); err == nil {
			return &payload, nil
		}
		s.log.Warn().Str("quiz_id", quizID.String()).Msg("Corrupt cached payload, reloading")
	case !errors.Is(err, redis.Nil):
		s.log.Warn().Err(err).Msg("Quiz cache read failed, falling back to store")
	}

	v, err, _ := s.sf.Do(quizID.String(), func() (any, error) {
		payload, _, err := s.load(ctx, quizID)
		return payload, err
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.QuizPayload), nil
}

// AnswerKey returns the full questions of a quiz, answer keys included,
// keyed by question id.
func (s *QuizService) AnswerKey(ctx context.Context, quizID uuid.UUID) (map[uuid.UUID]model.QuestionDTO, error) {
	key := config.CacheKey.QuizAnswerKey(quizID.String())
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		out, decodeErr := decodeAnswerKey(fields)
		if decodeErr == nil {
			return out, nil
		}
		s.log.Warn().Err(decodeErr).Str("quiz_id", quizID.String()).Msg("Corrupt cached answer key, reloading")
	} else if err != nil {
		s.log.Warn().Err(err).Msg("Answer key cache read failed, falling back to store")
	}

	v, err, _ := s.sf.Do("key:"+quizID.String(), func() (any, error) {
		_, questions, err := s.load(ctx, quizID)
		if err != nil {
			return nil, err
		}
		out := make(map[uuid.UUID]model.QuestionDTO, len(questions))
		for _, q := range questions {
			out[q.ID] = q
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[uuid.UUID]model.QuestionDTO), nil
}

// Quiz returns the quiz header, served from the payload cache.
func (s *QuizService) Quiz(ctx context.Context, quizID uuid.UUID) (*model.Quiz, error) {
	payload, err := s.GetPayload(ctx, quizID)
	if err != nil {
		return nil, err
	}
	q := payload.Quiz
	return &q, nil
}

// ListActive returns the quizzes students can currently attempt.
func (s *QuizService) ListActive(ctx context.Context) ([]model.Quiz, error) {
	quizzes, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active quizzes: %w", err)
	}
	return quizzes, nil
}

// Create stores a new quiz. Total marks are derived from the questions and
// every question must decode into a known variant. The returned payload keeps
// the answer keys.
func (s *QuizService) Create(ctx context.Context, req *model.CreateQuizRequest) (*model.QuizPayload, error) {
	questions := make([]model.QuestionDTO, len(req.Questions))
	seen := make(map[int]struct{}, len(req.Questions))
	var total float64

	for i, q := range req.Questions {
		if q.Marks <= 0 {
			return nil, fmt.Errorf("%w: question %d has no marks", ErrInvalidQuestion, i+1)
		}
		if q.OrderNum == 0 {
			q.OrderNum = i + 1
		}
		if _, dup := seen[q.OrderNum]; dup {
			return nil, fmt.Errorf("%w: order %d used twice", ErrInvalidQuestion, q.OrderNum)
		}
		seen[q.OrderNum] = struct{}{}
		if _, err := q.ToQuestion(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuestion, err)
		}
		q.ID = uuid.New()
		questions[i] = q
		total += q.Marks
	}

	quiz := &model.Quiz{
		ID:              uuid.New(),
		Title:           req.Title,
		DurationMinutes: req.DurationMinutes,
		TotalMarks:      int(math.Ceil(total)),
		IsActive:        req.IsActive,
	}
	if err := s.store.Create(ctx, quiz, questions); err != nil {
		return nil, fmt.Errorf("create quiz: %w", err)
	}

	if quiz.IsActive {
		if err := s.Warm(ctx, quiz.ID); err != nil {
			s.log.Warn().Err(err).Str("quiz_id", quiz.ID.String()).Msg("Failed to warm new quiz")
		}
	}

	s.log.Info().
		Str("quiz_id", quiz.ID.String()).
		Int("questions", len(questions)).
		Bool("active", quiz.IsActive).
		Msg("Quiz created")
	return &model.QuizPayload{Quiz: *quiz, Questions: questions}, nil
}

// Warm loads a quiz from the store into Redis.
func (s *QuizService) Warm(ctx context.Context, quizID uuid.UUID) error {
	_, _, err := s.load(ctx, quizID)
	return err
}

// PrewarmActive loads every active quiz into Redis before traffic arrives.
func (s *QuizService) PrewarmActive(ctx context.Context) error {
	quizzes, err := s.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active quizzes: %w", err)
	}
	if len(quizzes) == 0 {
		s.log.Info().Msg("No active quizzes to prewarm")
		return nil
	}

	warmed := 0
	for _, q := range quizzes {
		if err := s.Warm(ctx, q.ID); err != nil {
			s.log.Warn().Err(err).Str("quiz_id", q.ID.String()).Msg("Failed to warm quiz, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(quizzes)).
		Msg("Prewarming complete")
	return nil
}

// load reads a quiz from the store and caches both views. A cache write
// failure is logged, not returned.
func (s *QuizService) load(ctx context.Context, quizID uuid.UUID) (*model.QuizPayload, []model.QuestionDTO, error) {
	quiz, err := s.store.GetByID(ctx, quizID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrQuizNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get quiz: %w", err)
	}
	questions, err := s.store.ListQuestions(ctx, quizID)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil, ErrNoQuestions
	}

	student := make([]model.QuestionDTO, len(questions))
	answerKey := make(map[string]any, len(questions))
	for i, q := range questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal question: %w", err)
		}
		answerKey[q.ID.String()] = raw
		q.CorrectAnswer = nil
		student[i] = q
	}
	payload := &model.QuizPayload{Quiz: *quiz, Questions: student}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}

	keyKey := config.CacheKey.QuizAnswerKey(quizID.String())
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.QuizPayloadKey(quizID.String()), payloadJSON, s.ttl)
	pipe.Del(ctx, keyKey)
	pipe.HSet(ctx, keyKey, answerKey)
	if s.ttl > 0 {
		pipe.Expire(ctx, keyKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("quiz_id", quizID.String()).Msg("Failed to cache quiz")
	} else {
		s.log.Debug().
			Str("quiz_id", quizID.String()).
			Int("questions", len(questions)).
			Msg("Cache warmed")
	}

	return payload, questions, nil
}

func decodeAnswerKey(fields map[string]string) (map[uuid.UUID]model.QuestionDTO, error) {
	out := make(map[uuid.UUID]model.QuestionDTO, len(fields))
	for _, raw := range fields {
		var q model.QuestionDTO
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, err
		}
		out[q.ID] = q
	}
	return out, nil
}

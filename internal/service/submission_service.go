package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/grading"
	"github.com/stemsi/exstem-attempt/internal/identity"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/score"
)

// submitMarkerTTL bounds how long a crashed request can block a retry.
const submitMarkerTTL = 30 * time.Second

// SubmissionStore is the persistence the submission service writes to.
type SubmissionStore interface {
	Create(ctx context.Context, s *model.Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	List(ctx context.Context, f model.SubmissionFilter, limit, offset int) ([]model.Submission, int, error)
	Update(ctx context.Context, s *model.Submission) error
}

// GradeJob is the auto-grading queue payload.
type GradeJob struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	QuizID       uuid.UUID `json:"quiz_id"`
}

// SubmissionService persists submissions and applies teacher marks.
type SubmissionService struct {
	store   SubmissionStore
	quizzes *QuizService
	rdb     *redis.Client
	log     zerolog.Logger
	now     func() time.Time
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(store SubmissionStore, quizzes *QuizService, rdb *redis.Client, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		store:   store,
		quizzes: quizzes,
		rdb:     rdb,
		log:     log.With().Str("component", "submission_service").Logger(),
		now:     time.Now,
	}
}

// Submit validates and stores an assembled submission, then queues it for
// auto-grading. Maximum marks come from the answer key, not the client.
func (s *SubmissionService) Submit(ctx context.Context, p identity.Principal, req *model.SubmissionRequest) (uuid.UUID, error) {
	if !p.IsTeacher() && req.StudentID != p.Subject {
		return uuid.Nil, ErrForbidden
	}

	quiz, err := s.quizzes.Quiz(ctx, req.QuizID)
	if err != nil {
		return uuid.Nil, err
	}
	if !quiz.IsActive {
		return uuid.Nil, ErrQuizInactive
	}
	key, err := s.quizzes.AnswerKey(ctx, req.QuizID)
	if err != nil {
		return uuid.Nil, err
	}
	answers, total, err := reconcileAnswers(req.Answers, key)
	if err != nil {
		return uuid.Nil, err
	}

	marker := config.CacheKey.ActiveAttemptKey(req.QuizID.String(), req.StudentID)
	ok, err := s.rdb.SetNX(ctx, marker, 1, submitMarkerTTL).Result()
	if err != nil {
		s.log.Warn().Err(err).Msg("Submit marker unavailable, continuing without it")
	} else if !ok {
		return uuid.Nil, ErrSubmissionInProgress
	} else {
		defer s.rdb.Del(context.WithoutCancel(ctx), marker)
	}

	submittedAt := req.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}
	sub := &model.Submission{
		QuizID:        req.QuizID,
		StudentID:     req.StudentID,
		Answers:       answers,
		TotalMarks:    total,
		GradingStatus: model.GradingStatusPending,
		Reason:        req.Reason,
		SubmittedAt:   submittedAt.UTC(),
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return uuid.Nil, fmt.Errorf("create submission: %w", err)
	}

	s.enqueue(ctx, GradeJob{SubmissionID: sub.ID, QuizID: sub.QuizID})

	s.log.Info().
		Str("submission_id", sub.ID.String()).
		Str("quiz_id", sub.QuizID.String()).
		Str("student_id", sub.StudentID).
		Int("attempt", sub.AttemptNumber).
		Str("reason", string(sub.Reason)).
		Msg("Submission stored")
	return sub.ID, nil
}

// reconcileAnswers checks that there is exactly one answer per question and
// returns them in question order with server-side maximums.
func reconcileAnswers(in []model.Answer, key map[uuid.UUID]model.QuestionDTO) ([]model.Answer, float64, error) {
	if len(in) != len(key) {
		return nil, 0, ErrAnswersMismatch
	}
	seen := make(map[uuid.UUID]struct{}, len(in))
	out := make([]model.Answer, 0, len(in))
	var total float64

	for _, a := range in {
		q, ok := key[a.QuestionID]
		if !ok {
			return nil, 0, ErrAnswersMismatch
		}
		if _, dup := seen[a.QuestionID]; dup {
			return nil, 0, ErrAnswersMismatch
		}
		seen[a.QuestionID] = struct{}{}

		value := a.Value
		if model.IsUnanswered(value) {
			value = model.Unanswered
		}
		out = append(out, model.Answer{
			QuestionID: a.QuestionID,
			Value:      value,
			Answered:   !model.IsUnanswered(value),
			Marks:      model.Float(0),
			MaxMarks:   model.Float(q.Marks),
		})
		total += q.Marks
	}

	sort.SliceStable(out, func(i, j int) bool {
		return key[out[i].QuestionID].OrderNum < key[out[j].QuestionID].OrderNum
	})
	return out, total, nil
}

func (s *SubmissionService) enqueue(ctx context.Context, job GradeJob) {
	raw, _ := json.Marshal(job)
	if err := s.rdb.RPush(ctx, config.WorkerKey.AutoGradeQueue, raw).Err(); err != nil {
		s.log.Warn().Err(err).Str("submission_id", job.SubmissionID.String()).Msg("Failed to queue auto-grading")
	}
}

// Get returns a submission with question details populated. Students only
// see their own submissions and never see answer keys.
func (s *SubmissionService) Get(ctx context.Context, p identity.Principal, id uuid.UUID) (*model.Submission, error) {
	sub, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if !p.IsTeacher() && sub.StudentID != p.Subject {
		return nil, ErrForbidden
	}

	key, err := s.quizzes.AnswerKey(ctx, sub.QuizID)
	if err != nil {
		s.log.Warn().Err(err).Str("quiz_id", sub.QuizID.String()).Msg("Question details unavailable")
		return sub, nil
	}
	for i := range sub.Answers {
		q, ok := key[sub.Answers[i].QuestionID]
		if !ok {
			continue
		}
		if !p.IsTeacher() {
			q.CorrectAnswer = nil
		}
		sub.Answers[i].Question = &q
	}
	return sub, nil
}

// List returns a page of submissions. Students are always narrowed to their own.
func (s *SubmissionService) List(ctx context.Context, p identity.Principal, f model.SubmissionFilter, page, perPage int) ([]model.Submission, *response.Pagination, error) {
	if !p.IsTeacher() {
		if f.StudentID != "" && f.StudentID != p.Subject {
			return nil, nil, ErrForbidden
		}
		f.StudentID = p.Subject
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	subs, total, err := s.store.List(ctx, f, perPage, (page-1)*perPage)
	if err != nil {
		return nil, nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, response.NewPagination(page, perPage, total), nil
}

// UpdateMarks applies a teacher's marks map. Question ids outside the
// submission are rejected; marks are not clamped to the maximum.
func (s *SubmissionService) UpdateMarks(ctx context.Context, p identity.Principal, id uuid.UUID, marks map[uuid.UUID]float64) (*model.Submission, error) {
	if !p.IsTeacher() {
		return nil, ErrForbidden
	}
	sub, err := s.store.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}

	index := make(map[uuid.UUID]int, len(sub.Answers))
	for i, a := range sub.Answers {
		index[a.QuestionID] = i
	}
	for qid := range marks {
		if _, ok := index[qid]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, qid)
		}
	}
	for qid, v := range marks {
		sub.Answers[index[qid]].MarksObtained = model.Float(v)
	}
	Recompute(sub)

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, fmt.Errorf("update submission: %w", err)
	}

	s.log.Info().
		Str("submission_id", id.String()).
		Str("teacher_id", p.Subject).
		Str("grading_status", string(sub.GradingStatus)).
		Msg("Marks updated")
	return s.Get(ctx, p, id)
}

// AutoGrade marks the ungraded objective answers of a submission against the
// answer key. It reports whether any answer changed.
func (s *SubmissionService) AutoGrade(ctx context.Context, sub *model.Submission) (bool, error) {
	key, err := s.quizzes.AnswerKey(ctx, sub.QuizID)
	if err != nil {
		return false, fmt.Errorf("answer key: %w", err)
	}

	changed := false
	for i := range sub.Answers {
		a := &sub.Answers[i]
		if a.Graded() {
			continue
		}
		dto, ok := key[a.QuestionID]
		if !ok {
			continue
		}
		q, err := dto.ToQuestion()
		if err != nil {
			s.log.Warn().Err(err).Msg("Skipping question with unreadable answer key")
			continue
		}
		if awarded, ok := grading.AutoMark(q, a.Value); ok {
			a.MarksObtained = model.Float(awarded)
			changed = true
		}
	}
	if changed {
		Recompute(sub)
	}
	return changed, nil
}

// Recompute derives obtained marks, percentage and grading status from the
// answers. A zero total yields 0%.
func Recompute(sub *model.Submission) {
	var obtained float64
	for _, a := range sub.Answers {
		obtained += a.Awarded()
	}
	sub.ObtainedMarks = obtained
	sub.Percentage = score.Percentage(obtained, sub.TotalMarks)
	sub.GradingStatus = grading.StatusOf(sub.Answers)
}

package repository

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// MemoryStore keeps quizzes and submissions in process memory. It backs the
// server when STORAGE_DRIVER=memory and the handler and client tests.
type MemoryStore struct {
	mu          sync.RWMutex
	quizzes     map[uuid.UUID]model.Quiz
	questions   map[uuid.UUID][]model.QuestionDTO
	submissions map[uuid.UUID]*model.Submission
	now         func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quizzes:     make(map[uuid.UUID]model.Quiz),
		questions:   make(map[uuid.UUID][]model.QuestionDTO),
		submissions: make(map[uuid.UUID]*model.Submission),
		now:         time.Now,
	}
}

// Create stores a quiz with its questions, replacing any earlier copy.
func (m *MemoryStore) Create(_ context.Context, quiz *model.Quiz, questions []model.QuestionDTO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if quiz.ID == uuid.Nil {
		quiz.ID = uuid.New()
	}
	qs := make([]model.QuestionDTO, len(questions))
	for i, q := range questions {
		if q.ID == uuid.Nil {
			q.ID = uuid.New()
			questions[i].ID = q.ID
		}
		qs[i] = q
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].OrderNum < qs[j].OrderNum })
	m.quizzes[quiz.ID] = *quiz
	m.questions[quiz.ID] = qs
	return nil
}

// GetByID retrieves a quiz header.
func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*model.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.quizzes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &q, nil
}

// ListActive returns every active quiz.
func (m *MemoryStore) ListActive(_ context.Context) ([]model.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Quiz
	for _, q := range m.quizzes {
		if q.IsActive {
			out = append(out, q)
		}
	}
	return out, nil
}

// ListQuestions returns a quiz's questions by ordinal.
func (m *MemoryStore) ListQuestions(_ context.Context, quizID uuid.UUID) ([]model.QuestionDTO, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.questions[quizID]), nil
}

// Submissions returns a view of the store that satisfies the submission
// repository methods; quiz and submission methods share names.
func (m *MemoryStore) Submissions() *MemorySubmissions {
	return &MemorySubmissions{m: m}
}

// MemorySubmissions is the submission side of a MemoryStore.
type MemorySubmissions struct {
	m *MemoryStore
}

// Create stores a submission and assigns id and attempt number.
func (s *MemorySubmissions) Create(_ context.Context, sub *model.Submission) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	attempt := 1
	for _, other := range s.m.submissions {
		if other.QuizID == sub.QuizID && other.StudentID == sub.StudentID && other.AttemptNumber >= attempt {
			attempt = other.AttemptNumber + 1
		}
	}
	sub.ID = uuid.New()
	sub.AttemptNumber = attempt
	sub.UpdatedAt = s.m.now().UTC().Truncate(time.Microsecond)
	s.m.submissions[sub.ID] = cloneSubmission(sub)
	return nil
}

// GetByID retrieves a submission.
func (s *MemorySubmissions) GetByID(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	sub, ok := s.m.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSubmission(sub), nil
}

// List returns submissions matching the filter, newest first.
func (s *MemorySubmissions) List(_ context.Context, f model.SubmissionFilter, limit, offset int) ([]model.Submission, int, error) {
	s.m.mu.RLock()
	var matched []model.Submission
	for _, sub := range s.m.submissions {
		if f.QuizID != uuid.Nil && sub.QuizID != f.QuizID {
			continue
		}
		if f.StudentID != "" && sub.StudentID != f.StudentID {
			continue
		}
		matched = append(matched, *cloneSubmission(sub))
	}
	s.m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})
	total := len(matched)
	if offset >= total {
		return []model.Submission{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

// Update persists the marks fields of a submission.
func (s *MemorySubmissions) Update(_ context.Context, sub *model.Submission) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	return s.updateLocked(sub)
}

// ApplyGrades updates the submissions whose stored copy has not changed since
// they were read. The ids of the others are returned as stale.
func (s *MemorySubmissions) ApplyGrades(_ context.Context, subs []*model.Submission) ([]uuid.UUID, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var stale []uuid.UUID
	for _, sub := range subs {
		stored, ok := s.m.submissions[sub.ID]
		if !ok || !stored.UpdatedAt.Equal(sub.UpdatedAt) {
			stale = append(stale, sub.ID)
			continue
		}
		if err := s.updateLocked(sub); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

func (s *MemorySubmissions) updateLocked(sub *model.Submission) error {
	stored, ok := s.m.submissions[sub.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Answers = cloneAnswers(sub.Answers)
	stored.ObtainedMarks = sub.ObtainedMarks
	stored.Percentage = sub.Percentage
	stored.GradingStatus = sub.GradingStatus

	// Every write moves updated_at forward so readers can detect it.
	next := s.m.now().UTC().Truncate(time.Microsecond)
	if !next.After(stored.UpdatedAt) {
		next = stored.UpdatedAt.Add(time.Microsecond)
	}
	stored.UpdatedAt = next
	sub.UpdatedAt = next
	return nil
}

func cloneSubmission(s *model.Submission) *model.Submission {
	c := *s
	c.Answers = cloneAnswers(s.Answers)
	return &c
}

// cloneAnswers deep-copies answers so callers never share mark pointers with
// the store.
func cloneAnswers(in []model.Answer) []model.Answer {
	out := make([]model.Answer, len(in))
	for i, a := range in {
		a.Value = json.RawMessage(slices.Clone([]byte(a.Value)))
		a.Marks = clonePtr(a.Marks)
		a.MaxMarks = clonePtr(a.MaxMarks)
		a.MarksObtained = clonePtr(a.MarksObtained)
		if a.Question != nil {
			q := *a.Question
			a.Question = &q
		}
		out[i] = a
	}
	return out
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

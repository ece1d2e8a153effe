package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/identity"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

type fixture struct {
	mr          *miniredis.Miniredis
	rdb         *redis.Client
	store       *repository.MemoryStore
	quizzes     *QuizService
	submissions *SubmissionService
	quiz        model.Quiz
	mcq         model.QuestionDTO
	essay       model.QuestionDTO
}

var (
	student = identity.Principal{Subject: "student-1", Role: identity.RoleStudent}
	other   = identity.Principal{Subject: "student-2", Role: identity.RoleStudent}
	teacher = identity.Principal{Subject: "teacher-1", Role: identity.RoleTeacher}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &fixture{
		mr:    mr,
		rdb:   rdb,
		store: repository.NewMemoryStore(),
		quiz: model.Quiz{
			ID:              uuid.New(),
			Title:           "Vectors",
			DurationMinutes: 20,
			TotalMarks:      14,
			IsActive:        true,
		},
		essay: model.QuestionDTO{
			ID:       uuid.New(),
			OrderNum: 2,
			Type:     "essay",
			Text:     "Explain vector addition.",
			Marks:    10,
		},
		mcq: model.QuestionDTO{
			ID:            uuid.New(),
			OrderNum:      1,
			Type:          "mcq",
			Text:          "Magnitude of (3, 4)?",
			Marks:         4,
			Options:       json.RawMessage(`["3","5","7"]`),
			CorrectAnswer: json.RawMessage(`1`),
		},
	}
	if err := f.store.Create(context.Background(), &f.quiz, []model.QuestionDTO{f.essay, f.mcq}); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	f.quizzes = NewQuizService(f.store, rdb, time.Minute, zerolog.Nop())
	f.submissions = NewSubmissionService(f.store.Submissions(), f.quizzes, rdb, zerolog.Nop())
	return f
}

// request answers the essay first so the service has to reorder.
func (f *fixture) request(studentID string) *model.SubmissionRequest {
	return &model.SubmissionRequest{
		QuizID:    f.quiz.ID,
		StudentID: studentID,
		Answers: []model.Answer{
			{QuestionID: f.essay.ID, Value: json.RawMessage(`"head to tail"`)},
			{QuestionID: f.mcq.ID, Value: json.RawMessage(`1`)},
		},
		TotalMarks: 999,
		Reason:     model.SubmitReasonManual,
	}
}

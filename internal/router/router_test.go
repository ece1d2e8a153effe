package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/handler"
	"github.com/stemsi/exstem-attempt/internal/identity"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

const testSecret = "router-test-secret"

type testServer struct {
	engine *gin.Engine
	quiz   model.Quiz
	essay  model.QuestionDTO
}

func newTestServer(t *testing.T, submitLimit int) *testServer {
	t.Helper()
	validator.Setup()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := repository.NewMemoryStore()
	quiz := model.Quiz{ID: uuid.New(), Title: "Forces", DurationMinutes: 10, TotalMarks: 5, IsActive: true}
	essay := model.QuestionDTO{ID: uuid.New(), OrderNum: 1, Type: "essay", Text: "Define inertia.", Marks: 5}
	if err := store.Create(context.Background(), &quiz, []model.QuestionDTO{essay}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	quizzes := service.NewQuizService(store, rdb, time.Minute, zerolog.Nop())
	submissions := service.NewSubmissionService(store.Submissions(), quizzes, rdb, zerolog.Nop())

	cfg := &config.Config{GinMode: gin.TestMode, JWTSecret: testSecret, SubmitRateLimit: submitLimit}
	engine := SetupRouter(&Handlers{
		Quiz:       handler.NewQuizHandler(quizzes),
		Submission: handler.NewSubmissionHandler(submissions),
	}, rdb, cfg, zerolog.Nop())

	return &testServer{engine: engine, quiz: quiz, essay: essay}
}

func token(t *testing.T, subject string, role identity.Role) string {
	t.Helper()
	tok, err := identity.Issue(testSecret, identity.Principal{Subject: subject, Role: role}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any, headers ...string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	var env response.Response
	if rec.Header().Get("Content-Encoding") == "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func (s *testServer) submission(studentID string) model.SubmissionRequest {
	return model.SubmissionRequest{
		QuizID:    s.quiz.ID,
		StudentID: studentID,
		Answers:   []model.Answer{{QuestionID: s.essay.ID, Value: json.RawMessage(`"an object at rest stays at rest"`)}},
		Reason:    model.SubmitReasonManual,
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 0)
	rec, env := s.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if env.Metadata.RequestID == "" || rec.Header().Get("X-Request-ID") != env.Metadata.RequestID {
		t.Fatal("request id missing from envelope or header")
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, 0)

	rec, env := s.do(t, http.MethodGet, "/api/v1/quizzes/"+s.quiz.ID.String(), "", nil)
	if rec.Code != http.StatusUnauthorized || env.Error == nil || env.Error.Code != response.ErrTokenRequired {
		t.Fatalf("no token: %d %+v", rec.Code, env.Error)
	}

	rec, env = s.do(t, http.MethodGet, "/api/v1/quizzes/"+s.quiz.ID.String(), "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized || env.Error.Code != response.ErrTokenInvalid {
		t.Fatalf("bad token: %d %+v", rec.Code, env.Error)
	}
}

func TestGetQuiz(t *testing.T) {
	s := newTestServer(t, 0)
	tok := token(t, "s-1", identity.RoleStudent)

	rec, _ := s.do(t, http.MethodGet, "/api/v1/quizzes/"+s.quiz.ID.String(), tok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}

	rec, env := s.do(t, http.MethodGet, "/api/v1/quizzes/not-a-uuid", tok, nil)
	if rec.Code != http.StatusBadRequest || env.Error.Code != response.ErrInvalidID {
		t.Fatalf("invalid id: %d %+v", rec.Code, env.Error)
	}

	rec, env = s.do(t, http.MethodGet, "/api/v1/quizzes/"+uuid.NewString(), tok, nil)
	if rec.Code != http.StatusNotFound || env.Error.Code != response.ErrNotFound {
		t.Fatalf("unknown quiz: %d %+v", rec.Code, env.Error)
	}
}

func TestGetQuizCompressesLargePayloads(t *testing.T) {
	s := newTestServer(t, 0)
	tok := token(t, "s-1", identity.RoleStudent)

	// Two kilobytes of question text pushes the payload over the threshold.
	questions := make([]model.QuestionDTO, 4)
	for i := range questions {
		questions[i] = model.QuestionDTO{Type: "essay", Text: string(bytes.Repeat([]byte("x"), 512)), Marks: 1}
	}
	rec, env := s.do(t, http.MethodPost, "/api/v1/quizzes", token(t, "t-1", identity.RoleTeacher), model.CreateQuizRequest{
		Title: "Long", DurationMinutes: 5, IsActive: true, Questions: questions,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %+v", rec.Code, env.Error)
	}
	created, _ := json.Marshal(env.Data)
	var payload model.QuizPayload
	_ = json.Unmarshal(created, &payload)

	rec, _ = s.do(t, http.MethodGet, "/api/v1/quizzes/"+payload.Quiz.ID.String(), tok, nil, "Accept-Encoding", "br")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "br" {
		t.Fatal("large payload not compressed")
	}

	rec, _ = s.do(t, http.MethodGet, "/api/v1/quizzes/"+s.quiz.ID.String(), tok, nil, "Accept-Encoding", "br")
	if rec.Header().Get("Content-Encoding") != "" {
		t.Fatal("small payload compressed")
	}
}

func TestTeacherOnlyRoutes(t *testing.T) {
	s := newTestServer(t, 0)
	tok := token(t, "s-1", identity.RoleStudent)

	rec, env := s.do(t, http.MethodPost, "/api/v1/quizzes", tok, model.CreateQuizRequest{Title: "x"})
	if rec.Code != http.StatusForbidden || env.Error.Code != response.ErrTeacherAccessOnly {
		t.Fatalf("create as student: %d %+v", rec.Code, env.Error)
	}

	path := "/api/v1/submissions/" + uuid.NewString() + "/marks"
	rec, env = s.do(t, http.MethodPut, path, tok, model.UpdateMarksRequest{Marks: map[uuid.UUID]float64{}})
	if rec.Code != http.StatusForbidden || env.Error.Code != response.ErrTeacherAccessOnly {
		t.Fatalf("marks as student: %d %+v", rec.Code, env.Error)
	}
}

func TestSubmitErrors(t *testing.T) {
	s := newTestServer(t, 0)
	tok := token(t, "s-1", identity.RoleStudent)

	rec, env := s.do(t, http.MethodPost, "/api/v1/submissions", tok, map[string]any{"quiz_id": s.quiz.ID})
	if rec.Code != http.StatusBadRequest || env.Error.Code != response.ErrValidation || len(env.Error.Fields) == 0 {
		t.Fatalf("invalid body: %d %+v", rec.Code, env.Error)
	}

	req := s.submission("s-1")
	req.Answers = append(req.Answers, model.Answer{QuestionID: uuid.New(), Value: json.RawMessage(`1`)})
	rec, env = s.do(t, http.MethodPost, "/api/v1/submissions", tok, req)
	if rec.Code != http.StatusUnprocessableEntity || env.Error.Code != response.ErrAnswersMismatch {
		t.Fatalf("mismatch: %d %+v", rec.Code, env.Error)
	}

	rec, env = s.do(t, http.MethodPost, "/api/v1/submissions", tok, s.submission("s-2"))
	if rec.Code != http.StatusForbidden || env.Error.Code != response.ErrForbidden {
		t.Fatalf("other student: %d %+v", rec.Code, env.Error)
	}
}

func TestSubmitRateLimited(t *testing.T) {
	s := newTestServer(t, 2)
	tok := token(t, "s-1", identity.RoleStudent)

	for i := 0; i < 2; i++ {
		if rec, env := s.do(t, http.MethodPost, "/api/v1/submissions", tok, s.submission("s-1")); rec.Code != http.StatusCreated {
			t.Fatalf("submit %d: %d %+v", i, rec.Code, env.Error)
		}
	}
	rec, env := s.do(t, http.MethodPost, "/api/v1/submissions", tok, s.submission("s-1"))
	if rec.Code != http.StatusTooManyRequests || env.Error.Code != response.ErrRateLimitExceeded {
		t.Fatalf("third submit: %d %+v", rec.Code, env.Error)
	}

	other := token(t, "s-2", identity.RoleStudent)
	if rec, _ := s.do(t, http.MethodPost, "/api/v1/submissions", other, s.submission("s-2")); rec.Code != http.StatusCreated {
		t.Fatalf("limit leaked across principals: %d", rec.Code)
	}
}

// Package client talks to the quiz backend REST API. It is the quiz source
// for the catalog loader, the submitter for attempt sessions and the
// committer for the grading engine.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

var (
	// ErrNotFound matches any APIError with status 404.
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized matches any APIError with status 401 or 403.
	ErrUnauthorized = errors.New("not authorized")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status    int
	Code      response.ErrCode
	Message   string
	Fields    map[string]string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("api error %d %s: %s", e.Status, e.Code, e.Message)
}

// Is lets callers match status classes with errors.Is.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	}
	return false
}

// Client is a REST client bound to one bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// New creates a Client. baseURL is the server root, without /api/v1.
func New(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// NewFromConfig creates a Client from API_BASE_URL, API_TOKEN and
// API_TIMEOUT_SECONDS.
func NewFromConfig(cfg *config.Config, log zerolog.Logger) *Client {
	return New(cfg.APIBaseURL, cfg.APIToken, cfg.APITimeout, log)
}

// WithToken returns a copy of the client using another bearer token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// FetchQuiz returns the student-facing payload of a quiz.
func (c *Client) FetchQuiz(ctx context.Context, quizID uuid.UUID) (*model.QuizPayload, error) {
	var payload model.QuizPayload
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/quizzes/"+quizID.String(), nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch quiz: %w", err)
	}
	return &payload, nil
}

// ListQuizzes returns the active quizzes.
func (c *Client) ListQuizzes(ctx context.Context) ([]model.Quiz, error) {
	var out struct {
		Quizzes []model.Quiz `json:"quizzes"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/quizzes", nil, &out); err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return out.Quizzes, nil
}

// CreateQuiz authors a quiz. The token must belong to a teacher.
func (c *Client) CreateQuiz(ctx context.Context, req model.CreateQuizRequest) (*model.QuizPayload, error) {
	var payload model.QuizPayload
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/quizzes", req, &payload); err != nil {
		return nil, fmt.Errorf("create quiz: %w", err)
	}
	return &payload, nil
}

// Submit persists an assembled attempt and returns the submission id.
func (c *Client) Submit(ctx context.Context, req model.SubmissionRequest) (uuid.UUID, error) {
	var out model.SubmitResult
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/submissions", req, &out); err != nil {
		return uuid.Nil, fmt.Errorf("submit: %w", err)
	}
	return out.SubmissionID, nil
}

// GetSubmission returns a submission with question details.
func (c *Client) GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	var sub model.Submission
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/submissions/"+id.String(), nil, &sub); err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return &sub, nil
}

// UpdateMarks sends the full marks map of a grading edit.
func (c *Client) UpdateMarks(ctx context.Context, id uuid.UUID, marks map[uuid.UUID]float64) (*model.Submission, error) {
	var sub model.Submission
	body := model.UpdateMarksRequest{Marks: marks}
	if _, err := c.do(ctx, http.MethodPut, "/api/v1/submissions/"+id.String()+"/marks", body, &sub); err != nil {
		return nil, fmt.Errorf("update marks: %w", err)
	}
	return &sub, nil
}

// ListSubmissions returns one page of submissions.
func (c *Client) ListSubmissions(ctx context.Context, f model.SubmissionFilter, page, perPage int) ([]model.Submission, *response.Pagination, error) {
	q := url.Values{}
	if f.QuizID != uuid.Nil {
		q.Set("quiz_id", f.QuizID.String())
	}
	if f.StudentID != "" {
		q.Set("student_id", f.StudentID)
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
	path := "/api/v1/submissions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Submissions []model.Submission `json:"submissions"`
	}
	pagination, err := c.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, nil, fmt.Errorf("list submissions: %w", err)
	}
	return out.Submissions, pagination, nil
}

// do sends one request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (*response.Pagination, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env response.Envelope[json.RawMessage]
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", env.Metadata.RequestID).
		Dur("latency", time.Since(start)).
		Msg("API call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: response.ErrInternal, RequestID: env.Metadata.RequestID}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return nil, apiErr
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	return env.Pagination, nil
}

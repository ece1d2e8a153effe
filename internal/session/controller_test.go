package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/countdown"
	"github.com/stemsi/exstem-attempt/internal/identity"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop() { f.stopped.Store(true) }

type fakeClock struct {
	ticker *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticker: &fakeTicker{ch: make(chan time.Time)}}
}

func (c *fakeClock) NewTicker(time.Duration) countdown.Ticker { return c.ticker }

func (c *fakeClock) advance(t *testing.T, seconds int) {
	t.Helper()
	for i := 0; i < seconds; i++ {
		select {
		case c.ticker.ch <- time.Now():
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d was not consumed", i+1)
		}
	}
}

// recordingSubmitter records every request. When gate is set each call blocks
// until the gate is closed or the context is cancelled.
type recordingSubmitter struct {
	gate    chan struct{}
	started chan struct{}
	fail    atomic.Bool

	mu    sync.Mutex
	calls []model.SubmissionRequest
}

func newRecordingSubmitter(blocking bool) *recordingSubmitter {
	s := &recordingSubmitter{started: make(chan struct{}, 16)}
	if blocking {
		s.gate = make(chan struct{})
	}
	return s
}

func (s *recordingSubmitter) Submit(ctx context.Context, req model.SubmissionRequest) (uuid.UUID, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	s.started <- struct{}{}

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return uuid.Nil, ctx.Err()
		}
	}
	if s.fail.Load() {
		return uuid.Nil, errors.New("503 service unavailable")
	}
	return uuid.New(), nil
}

func (s *recordingSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *recordingSubmitter) last() model.SubmissionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[len(s.calls)-1]
}

func waitStarted(t *testing.T, s *recordingSubmitter) {
	t.Helper()
	select {
	case <-s.started:
	case <-time.After(2 * time.Second):
		t.Fatal("submit was never called")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ─── Fixtures ───────────────────────────────────────────────────────

func testQuiz(minutes int) model.Quiz {
	return model.Quiz{
		ID:              uuid.New(),
		Title:           "Vectors",
		DurationMinutes: minutes,
		TotalMarks:      10,
		IsActive:        true,
	}
}

func testQuestions(n int) []model.Question {
	qs := make([]model.Question, n)
	for i := range qs {
		qs[i] = model.Question{
			ID:       uuid.New(),
			OrderNum: i + 1,
			Text:     "question",
			Marks:    5,
			Content:  model.MultipleChoice{Options: []string{"a", "b", "c"}},
		}
	}
	return qs
}

func newTestController(t *testing.T, sub Submitter, clock countdown.Clock) *Controller {
	t.Helper()
	c := New(Config{
		Principal: identity.Principal{Subject: "student-7", Role: identity.RoleStudent},
		Clock:     clock,
	}, sub)
	t.Cleanup(c.Close)
	return c
}

// ─── Start ──────────────────────────────────────────────────────────

func TestStartEmptyQuiz(t *testing.T) {
	c := newTestController(t, newRecordingSubmitter(false), newFakeClock())

	err := c.Start(testQuiz(10), nil)
	if !errors.Is(err, ErrEmptyQuiz) {
		t.Fatalf("expected ErrEmptyQuiz, got %v", err)
	}
	st := c.State()
	if st.Status != StatusFailed {
		t.Errorf("status = %s, want failed", st.Status)
	}
	if !errors.Is(st.Err, ErrEmptyQuiz) {
		t.Errorf("state error = %v", st.Err)
	}
}

func TestStartInitializesSession(t *testing.T) {
	c := newTestController(t, newRecordingSubmitter(false), newFakeClock())

	if err := c.Start(testQuiz(30), testQuestions(3)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := c.State()
	if st.Status != StatusInProgress {
		t.Errorf("status = %s", st.Status)
	}
	if st.Index != 0 || st.QuestionCount != 3 || st.Answered != 0 {
		t.Errorf("unexpected state %+v", st)
	}
	if st.RemainingSeconds != 1800 {
		t.Errorf("remaining = %d, want 1800", st.RemainingSeconds)
	}
	if st.LowTime {
		t.Error("low time flagged at start")
	}

	if err := c.Start(testQuiz(30), testQuestions(3)); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: got %v", err)
	}
}

// ─── Navigation and answers ─────────────────────────────────────────

func TestNavigationClamps(t *testing.T) {
	c := newTestController(t, newRecordingSubmitter(false), newFakeClock())
	qs := testQuestions(3)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.GoPrevious()
	if got := c.State().Index; got != 0 {
		t.Fatalf("previous on first: index %d", got)
	}
	c.GoNext()
	c.GoNext()
	c.GoNext()
	if got := c.State().Index; got != 2 {
		t.Fatalf("next past last: index %d", got)
	}
	c.GoTo(-4)
	if got := c.State().Index; got != 0 {
		t.Fatalf("GoTo(-4): index %d", got)
	}
	c.GoTo(99)
	if got := c.State().Index; got != 2 {
		t.Fatalf("GoTo(99): index %d", got)
	}
	q, ok := c.Current()
	if !ok || q.ID != qs[2].ID {
		t.Fatalf("Current does not follow index")
	}
}

func TestSetAnswerOverwritesAndClears(t *testing.T) {
	c := newTestController(t, newRecordingSubmitter(false), newFakeClock())
	qs := testQuestions(2)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.SetAnswer(qs[0].ID, 1); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}
	if err := c.SetAnswer(qs[0].ID, 2); err != nil {
		t.Fatalf("SetAnswer again: %v", err)
	}
	got, ok := c.Answer(qs[0].ID)
	if !ok || string(got) != "2" {
		t.Fatalf("answer = %s, %v", got, ok)
	}
	if n := c.State().Answered; n != 1 {
		t.Fatalf("answered = %d", n)
	}

	if err := c.SetAnswer(qs[1].ID, json.RawMessage(`{"x":"y"}`)); err != nil {
		t.Fatalf("SetAnswer raw: %v", err)
	}
	if err := c.SetAnswer(qs[1].ID, json.RawMessage(`{broken`)); err == nil {
		t.Fatal("expected invalid JSON to be refused")
	}
	if err := c.SetAnswer(qs[1].ID, nil); err != nil {
		t.Fatalf("SetAnswer nil: %v", err)
	}
	if _, ok := c.Answer(qs[1].ID); ok {
		t.Fatal("nil value should clear the answer")
	}

	if err := c.SetAnswer(uuid.New(), "x"); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("unknown question: got %v", err)
	}
}

func TestSetAnswerNullClears(t *testing.T) {
	c := newTestController(t, newRecordingSubmitter(false), newFakeClock())
	qs := testQuestions(3)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, q := range qs {
		_ = c.SetAnswer(q.ID, 1)
	}

	var none *string
	if err := c.SetAnswer(qs[0].ID, json.RawMessage(" null ")); err != nil {
		t.Fatalf("SetAnswer raw null: %v", err)
	}
	if err := c.SetAnswer(qs[1].ID, none); err != nil {
		t.Fatalf("SetAnswer typed nil: %v", err)
	}

	for _, q := range qs[:2] {
		if _, ok := c.Answer(q.ID); ok {
			t.Fatal("null value should clear the answer")
		}
	}
	want := SubmitSummary{Total: 3, Answered: 1, Unanswered: 2}
	if got := c.PrepareSubmit(); got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if n := c.State().Answered; n != 1 {
		t.Fatalf("answered = %d", n)
	}
}

func TestSetAnswerRequiresInProgress(t *testing.T) {
	c := newTestController(t, newRecordingSubmitter(false), newFakeClock())
	qs := testQuestions(1)

	if err := c.SetAnswer(qs[0].ID, 0); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("before start: got %v", err)
	}
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.RequestSubmit(context.Background(), model.SubmitReasonManual); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if err := c.SetAnswer(qs[0].ID, 0); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("after submit: got %v", err)
	}
}

func TestPrepareSubmitCountsUnanswered(t *testing.T) {
	c := newTestController(t, newRecordingSubmitter(false), newFakeClock())
	qs := testQuestions(4)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = c.SetAnswer(qs[1].ID, 0)
	_ = c.SetAnswer(qs[3].ID, 2)

	got := c.PrepareSubmit()
	want := SubmitSummary{Total: 4, Answered: 2, Unanswered: 2}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if c.State().Status != StatusInProgress {
		t.Fatal("PrepareSubmit must not change status")
	}
}

// ─── Submit ─────────────────────────────────────────────────────────

func TestManualSubmitCompletes(t *testing.T) {
	sub := newRecordingSubmitter(false)
	c := newTestController(t, sub, newFakeClock())
	qs := testQuestions(3)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = c.SetAnswer(qs[2].ID, 1)
	_ = c.SetAnswer(qs[0].ID, 0)

	if err := c.RequestSubmit(context.Background(), model.SubmitReasonManual); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	st := c.State()
	if st.Status != StatusCompleted || st.SubmissionID == uuid.Nil {
		t.Fatalf("unexpected state %+v", st)
	}

	req := sub.last()
	if req.StudentID != "student-7" || req.Reason != model.SubmitReasonManual {
		t.Fatalf("unexpected request header %+v", req)
	}
	if len(req.Answers) != 3 {
		t.Fatalf("got %d answers, want 3", len(req.Answers))
	}
	for i, a := range req.Answers {
		if a.QuestionID != qs[i].ID {
			t.Errorf("answer %d is for %s, want canonical order", i, a.QuestionID)
		}
	}
	if string(req.Answers[1].Value) != "null" || req.Answers[1].Answered {
		t.Errorf("skipped question not marked unanswered: %+v", req.Answers[1])
	}

	if err := c.RequestSubmit(context.Background(), model.SubmitReasonManual); err != nil {
		t.Fatalf("submit after completion: %v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("completed session submitted again")
	}
}

func TestRequestSubmitIsIdempotentWhileInFlight(t *testing.T) {
	sub := newRecordingSubmitter(true)
	c := newTestController(t, sub, newFakeClock())
	if err := c.Start(testQuiz(5), testQuestions(2)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- c.RequestSubmit(context.Background(), model.SubmitReasonManual) }()
	waitStarted(t, sub)

	if st := c.State(); st.Status != StatusSubmitting || !st.InFlight {
		t.Fatalf("unexpected state while in flight %+v", st)
	}
	if err := c.RequestSubmit(context.Background(), model.SubmitReasonManual); err != nil {
		t.Fatalf("second manual request: %v", err)
	}
	if err := c.RequestSubmit(context.Background(), model.SubmitReasonTimeout); err != nil {
		t.Fatalf("timeout request while in flight: %v", err)
	}

	close(sub.gate)
	if err := <-errc; err != nil {
		t.Fatalf("first request: %v", err)
	}
	if n := sub.count(); n != 1 {
		t.Fatalf("got %d network submissions, want 1", n)
	}
	if c.State().Status != StatusCompleted {
		t.Fatalf("status = %s", c.State().Status)
	}
}

func TestExpiryDuringManualSubmitDoesNotResubmit(t *testing.T) {
	sub := newRecordingSubmitter(true)
	clock := newFakeClock()
	c := newTestController(t, sub, clock)
	if err := c.Start(testQuiz(1), testQuestions(2)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- c.RequestSubmit(context.Background(), model.SubmitReasonManual) }()
	waitStarted(t, sub)

	clock.advance(t, 60)
	eventually(t, func() bool { return c.State().RemainingSeconds == 0 }, "countdown never reached zero")

	close(sub.gate)
	if err := <-errc; err != nil {
		t.Fatalf("manual request: %v", err)
	}
	eventually(t, func() bool { return c.State().Status == StatusCompleted }, "session never completed")
	if n := sub.count(); n != 1 {
		t.Fatalf("got %d network submissions, want 1", n)
	}
}

func TestTimeoutAutoSubmitsEveryQuestion(t *testing.T) {
	sub := newRecordingSubmitter(false)
	clock := newFakeClock()
	c := newTestController(t, sub, clock)
	qs := testQuestions(2)
	if err := c.Start(testQuiz(1), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.SetAnswer(qs[0].ID, 0); err != nil {
		t.Fatalf("SetAnswer: %v", err)
	}

	clock.advance(t, 59)
	st := c.State()
	if sub.count() != 0 {
		t.Fatal("submitted before expiry")
	}
	if !st.LowTime {
		t.Errorf("expected low time with %d seconds left", st.RemainingSeconds)
	}

	clock.advance(t, 1)
	waitStarted(t, sub)
	eventually(t, func() bool { return c.State().Status == StatusCompleted }, "auto-submit never completed")

	req := sub.last()
	if req.Reason != model.SubmitReasonTimeout {
		t.Errorf("reason = %s", req.Reason)
	}
	if len(req.Answers) != 2 {
		t.Fatalf("got %d answers, want 2", len(req.Answers))
	}
	if req.Answers[0].QuestionID != qs[0].ID || string(req.Answers[0].Value) != "0" {
		t.Errorf("first answer %+v", req.Answers[0])
	}
	if req.Answers[1].QuestionID != qs[1].ID || string(req.Answers[1].Value) != "null" {
		t.Errorf("second answer %+v", req.Answers[1])
	}
	eventually(t, clock.ticker.stopped.Load, "countdown still running after completion")
}

func TestManualSubmitFailureIsRetryable(t *testing.T) {
	sub := newRecordingSubmitter(false)
	sub.fail.Store(true)
	c := newTestController(t, sub, newFakeClock())
	qs := testQuestions(2)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = c.SetAnswer(qs[0].ID, 2)

	err := c.RequestSubmit(context.Background(), model.SubmitReasonManual)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	st := c.State()
	if st.Status != StatusFailed || st.InFlight {
		t.Fatalf("unexpected state %+v", st)
	}
	if v, ok := c.Answer(qs[0].ID); !ok || string(v) != "2" {
		t.Fatal("answers lost after failed submit")
	}

	sub.fail.Store(false)
	if err := c.RequestSubmit(context.Background(), model.SubmitReasonManual); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.State().Status != StatusCompleted {
		t.Fatalf("retry did not complete")
	}
	if string(sub.last().Answers[0].Value) != "2" {
		t.Fatal("retry lost the stored answer")
	}
}

func TestTimeoutSubmitFailureStaysSubmitting(t *testing.T) {
	sub := newRecordingSubmitter(false)
	sub.fail.Store(true)
	c := newTestController(t, sub, newFakeClock())
	qs := testQuestions(1)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := c.RequestSubmit(context.Background(), model.SubmitReasonTimeout)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	st := c.State()
	if st.Status != StatusSubmitting || st.Err == nil {
		t.Fatalf("unexpected state %+v", st)
	}
	if err := c.SetAnswer(qs[0].ID, 1); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("answering after expiry: got %v", err)
	}

	sub.fail.Store(false)
	if err := c.RequestSubmit(context.Background(), model.SubmitReasonTimeout); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c.State().Status != StatusCompleted {
		t.Fatal("retry did not complete")
	}
}

// ─── Leave and teardown ─────────────────────────────────────────────

func TestLeaveRejectedResumes(t *testing.T) {
	sub := newRecordingSubmitter(false)
	c := newTestController(t, sub, newFakeClock())
	qs := testQuestions(2)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = c.SetAnswer(qs[0].ID, 1)
	c.GoNext()

	if !c.RequestLeave() {
		t.Fatal("leaving an in-progress attempt must ask for confirmation")
	}
	if !c.State().LeavePending {
		t.Fatal("leave not pending")
	}
	if err := c.ResolveLeave(false); err != nil {
		t.Fatalf("ResolveLeave: %v", err)
	}

	st := c.State()
	if st.Status != StatusInProgress || st.Index != 1 || st.Answered != 1 || st.LeavePending {
		t.Fatalf("session not resumed untouched: %+v", st)
	}
	if sub.count() != 0 {
		t.Fatal("staying must not submit")
	}
	if err := c.ResolveLeave(true); !errors.Is(err, ErrNoLeavePending) {
		t.Fatalf("resolve without request: got %v", err)
	}
}

func TestLeaveConfirmedDiscardsWithoutSubmitting(t *testing.T) {
	sub := newRecordingSubmitter(false)
	clock := newFakeClock()
	c := newTestController(t, sub, clock)
	qs := testQuestions(2)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = c.SetAnswer(qs[0].ID, 1)

	c.RequestLeave()
	if err := c.ResolveLeave(true); err != nil {
		t.Fatalf("ResolveLeave: %v", err)
	}
	if !c.Closed() {
		t.Fatal("session not torn down")
	}
	if sub.count() != 0 {
		t.Fatal("abandoning must not submit")
	}
	if !clock.ticker.stopped.Load() {
		t.Fatal("countdown still running after teardown")
	}
	if err := c.SetAnswer(qs[1].ID, 0); !errors.Is(err, ErrStaleSession) {
		t.Fatalf("answer after teardown: got %v", err)
	}
	if err := c.RequestSubmit(context.Background(), model.SubmitReasonTimeout); !errors.Is(err, ErrStaleSession) {
		t.Fatalf("submit after teardown: got %v", err)
	}
}

func TestLeaveOutsideAttemptTearsDown(t *testing.T) {
	c := newTestController(t, newRecordingSubmitter(false), newFakeClock())
	if err := c.Start(testQuiz(5), testQuestions(1)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.RequestSubmit(context.Background(), model.SubmitReasonManual); err != nil {
		t.Fatalf("RequestSubmit: %v", err)
	}
	if c.RequestLeave() {
		t.Fatal("completed session must not ask for confirmation")
	}
	if !c.Closed() {
		t.Fatal("completed session not torn down")
	}
}

func TestStaleSubmitResponseIsDiscarded(t *testing.T) {
	sub := newRecordingSubmitter(true)
	var changes atomic.Int32
	c := New(Config{
		Clock:    newFakeClock(),
		OnChange: func(State) { changes.Add(1) },
	}, sub)
	if err := c.Start(testQuiz(5), testQuestions(1)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	errc := make(chan error, 1)
	go func() { errc <- c.RequestSubmit(context.Background(), model.SubmitReasonManual) }()
	waitStarted(t, sub)

	c.Close()
	before := changes.Load()

	if err := <-errc; !errors.Is(err, ErrStaleSession) {
		t.Fatalf("expected ErrStaleSession, got %v", err)
	}
	st := c.State()
	if st.Status == StatusCompleted || st.SubmissionID != uuid.Nil {
		t.Fatalf("stale response applied: %+v", st)
	}
	if changes.Load() != before {
		t.Fatal("torn-down session notified a change")
	}
}

// ─── Notifications ──────────────────────────────────────────────────

func TestChangeNotificationsAreOrdered(t *testing.T) {
	clock := newFakeClock()
	qs := testQuestions(3)

	var (
		c          *Controller
		mu         sync.Mutex
		lastSeq    uint64
		lastState  State
		outOfOrder bool
		active     atomic.Int32
		overlapped atomic.Bool
		reentered  atomic.Bool
	)
	c = New(Config{
		Clock: clock,
		OnChange: func(st State) {
			if active.Add(1) > 1 {
				overlapped.Store(true)
			}
			defer active.Add(-1)

			mu.Lock()
			if st.Seq <= lastSeq {
				outOfOrder = true
			}
			lastSeq = st.Seq
			lastState = st
			mu.Unlock()

			if st.RemainingSeconds < 300 && !reentered.Swap(true) {
				// Listeners may call back into the controller.
				_ = c.SetAnswer(qs[2].ID, 2)
			}
			time.Sleep(time.Millisecond)
		},
	}, newRecordingSubmitter(false))
	t.Cleanup(c.Close)
	if err := c.Start(testQuiz(5), qs); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		clock.advance(t, 20)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_ = c.SetAnswer(qs[i%2].ID, i)
		}
	}()
	wg.Wait()

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return lastState.RemainingSeconds == 280 && lastState.Answered == 3
	}, "newest state was never delivered")

	mu.Lock()
	defer mu.Unlock()
	if outOfOrder {
		t.Fatal("listener received an older state after a newer one")
	}
	if overlapped.Load() {
		t.Fatal("listener calls overlapped")
	}
	if !reentered.Load() {
		t.Fatal("listener never re-entered the controller")
	}
}

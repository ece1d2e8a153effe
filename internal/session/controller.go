package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/countdown"
	"github.com/stemsi/exstem-attempt/internal/identity"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/submission"
)

// Status is the lifecycle state of an attempt session.
type Status string

const (
	StatusLoading    Status = "loading"
	StatusInProgress Status = "in_progress"
	StatusSubmitting Status = "submitting"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Submitter sends an assembled submission to the persistence endpoint.
type Submitter interface {
	Submit(ctx context.Context, req model.SubmissionRequest) (uuid.UUID, error)
}

// Config is the explicit configuration handed to a controller.
type Config struct {
	Principal identity.Principal
	// Clock drives the countdown; nil means the system clock.
	Clock countdown.Clock
	// Logger defaults to a disabled logger.
	Logger zerolog.Logger
	// OnChange, when set, receives a copy of the state after every change.
	// Calls never overlap and Seq strictly increases across them; a state
	// superseded before delivery is dropped. It is called without any lock
	// held and may call back into the controller.
	OnChange func(State)
	// Now defaults to time.Now.
	Now func() time.Time
}

// State is a read-only view of a session for the presentation layer.
type State struct {
	Seq              uint64 // orders states taken from the same session
	SessionID        uuid.UUID
	Status           Status
	Quiz             model.Quiz
	Index            int
	QuestionCount    int
	Answered         int
	RemainingSeconds int
	LowTime          bool
	LeavePending     bool
	InFlight         bool
	SubmissionID     uuid.UUID
	Err              error
}

// Unanswered returns the number of questions without a stored answer.
func (s State) Unanswered() int {
	return s.QuestionCount - s.Answered
}

// SubmitSummary is shown to the student before a manual submit is confirmed.
// It is informational and never blocks the submit.
type SubmitSummary struct {
	Total      int
	Answered   int
	Unanswered int
}

// Controller drives one student through one timed attempt.
type Controller struct {
	cfg       Config
	submitter Submitter
	log       zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	id        uuid.UUID

	releaseOnce sync.Once
	onRelease   func()

	mu           sync.Mutex
	status       Status
	quiz         model.Quiz
	questions    []model.Question
	positions    map[uuid.UUID]int
	index        int
	answers      map[uuid.UUID]json.RawMessage
	remaining    int
	timer        *countdown.Countdown
	inFlight     bool
	leavePending bool
	closed       bool
	submissionID uuid.UUID
	lastErr      error
	seq          uint64

	notifyMu   sync.Mutex
	pending    *State
	queuedSeq  uint64
	delivering bool
}

// New creates a controller in the loading state.
func New(cfg Config, submitter Submitter) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:       cfg,
		submitter: submitter,
		log: cfg.Logger.With().
			Str("component", "attempt_session").
			Str("session_id", id.String()).
			Logger(),
		ctx:     ctx,
		cancel:  cancel,
		id:      id,
		status:  StatusLoading,
		answers: make(map[uuid.UUID]json.RawMessage),
	}
}

// ID returns the session identity.
func (c *Controller) ID() uuid.UUID {
	return c.id
}

// Start moves a loading session to in_progress and starts its countdown.
// An empty question list fails the session with ErrEmptyQuiz.
func (c *Controller) Start(quiz model.Quiz, questions []model.Question) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrStaleSession
	}
	if c.status != StatusLoading {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(questions) == 0 {
		c.status = StatusFailed
		c.lastErr = ErrEmptyQuiz
		st := c.stateLocked()
		c.mu.Unlock()

		c.log.Warn().Str("quiz_id", quiz.ID.String()).Msg("Quiz has no questions")
		c.notify(st)
		return ErrEmptyQuiz
	}

	c.quiz = quiz
	c.questions = make([]model.Question, len(questions))
	copy(c.questions, questions)
	c.positions = make(map[uuid.UUID]int, len(questions))
	for i, q := range c.questions {
		c.positions[q.ID] = i
	}
	c.index = 0
	c.remaining = quiz.DurationSeconds()
	c.status = StatusInProgress
	timer := countdown.New(c.remaining, c.cfg.Clock)
	c.timer = timer
	st := c.stateLocked()
	c.mu.Unlock()

	timer.Start()
	go c.watch(timer)

	c.log.Info().
		Str("quiz_id", quiz.ID.String()).
		Int("questions", len(questions)).
		Int("seconds", st.RemainingSeconds).
		Msg("Attempt started")
	c.notify(st)
	return nil
}

// fail marks a loading session as failed, used when the catalog cannot be loaded.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.status == StatusLoading {
		c.status = StatusFailed
		c.lastErr = err
	}
	st := c.stateLocked()
	c.mu.Unlock()
	c.notify(st)
}

// SetAnswer stores the answer for a question, replacing any earlier value.
// The value is not validated against the question variant. A value that
// encodes to JSON null clears the answer.
func (c *Controller) SetAnswer(questionID uuid.UUID, value any) error {
	if value == nil {
		return c.ClearAnswer(questionID)
	}
	raw, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("encode answer: %w", err)
	}
	if model.IsUnanswered(raw) {
		return c.ClearAnswer(questionID)
	}

	c.mu.Lock()
	if err := c.editableLocked(questionID); err != nil {
		c.mu.Unlock()
		return err
	}
	c.answers[questionID] = raw
	st := c.stateLocked()
	c.mu.Unlock()

	c.notify(st)
	return nil
}

// ClearAnswer returns a question to the unanswered state.
func (c *Controller) ClearAnswer(questionID uuid.UUID) error {
	c.mu.Lock()
	if err := c.editableLocked(questionID); err != nil {
		c.mu.Unlock()
		return err
	}
	delete(c.answers, questionID)
	st := c.stateLocked()
	c.mu.Unlock()

	c.notify(st)
	return nil
}

func (c *Controller) editableLocked(questionID uuid.UUID) error {
	if c.closed {
		return ErrStaleSession
	}
	if c.status != StatusInProgress {
		return ErrNotInProgress
	}
	if _, ok := c.positions[questionID]; !ok {
		return ErrUnknownQuestion
	}
	return nil
}

func encodeValue(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errors.New("answer is not valid JSON")
		}
		return bytes.Clone(v), nil
	default:
		return json.Marshal(v)
	}
}

// Answer returns the stored answer for a question.
func (c *Controller) Answer(questionID uuid.UUID) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.answers[questionID]
	if !ok {
		return nil, false
	}
	return bytes.Clone(v), true
}

// GoNext moves to the next question; it is a no-op on the last one.
func (c *Controller) GoNext() {
	c.move(func(i int) int { return i + 1 })
}

// GoPrevious moves to the previous question; it is a no-op on the first one.
func (c *Controller) GoPrevious() {
	c.move(func(i int) int { return i - 1 })
}

// GoTo jumps to a question index, clamped to the valid range.
func (c *Controller) GoTo(index int) {
	c.move(func(int) int { return index })
}

func (c *Controller) move(next func(int) int) {
	c.mu.Lock()
	if c.closed || len(c.questions) == 0 {
		c.mu.Unlock()
		return
	}
	idx := next(c.index)
	if idx < 0 {
		idx = 0
	}
	if idx > len(c.questions)-1 {
		idx = len(c.questions) - 1
	}
	if idx == c.index {
		c.mu.Unlock()
		return
	}
	c.index = idx
	st := c.stateLocked()
	c.mu.Unlock()

	c.notify(st)
}

// Current returns the question at the current index.
func (c *Controller) Current() (model.Question, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.questions) == 0 {
		return model.Question{}, false
	}
	return c.questions[c.index], true
}

// PrepareSubmit returns the counts shown in the manual submit confirmation.
func (c *Controller) PrepareSubmit() SubmitSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	unanswered := submission.Unanswered(c.snapshotLocked(model.SubmitReasonManual))
	return SubmitSummary{
		Total:      len(c.questions),
		Answered:   len(c.questions) - unanswered,
		Unanswered: unanswered,
	}
}

// RequestSubmit assembles and sends the submission. While a submit is in
// flight further calls are no-ops, so a timer expiry during a manual submit
// never produces a second network call.
//
// A failed manual submit moves the session to failed; a failed timeout
// submit leaves it in submitting. Answers are kept either way and the caller
// retries by calling RequestSubmit again.
func (c *Controller) RequestSubmit(ctx context.Context, reason model.SubmitReason) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrStaleSession
	}
	if c.inFlight {
		c.mu.Unlock()
		return nil
	}
	switch c.status {
	case StatusInProgress, StatusSubmitting, StatusFailed:
	case StatusLoading:
		c.mu.Unlock()
		return ErrNotInProgress
	default:
		c.mu.Unlock()
		return nil
	}

	c.status = StatusSubmitting
	c.inFlight = true
	c.leavePending = false
	c.lastErr = nil
	snap := c.snapshotLocked(reason)
	st := c.stateLocked()
	c.mu.Unlock()

	payload := submission.Assemble(snap)
	c.log.Info().
		Str("reason", string(reason)).
		Int("unanswered", submission.Unanswered(snap)).
		Msg("Submitting attempt")
	c.notify(st)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	submissionID, err := c.submitter.Submit(ctx, payload)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.log.Debug().Err(err).Msg("Discarding submit response for torn-down session")
		return ErrStaleSession
	}
	c.inFlight = false

	if err != nil {
		c.lastErr = fmt.Errorf("%w: %w", ErrSubmissionFailed, err)
		if reason == model.SubmitReasonManual {
			c.status = StatusFailed
		}
		st = c.stateLocked()
		c.mu.Unlock()

		c.log.Error().Err(err).Str("reason", string(reason)).Msg("Submit failed")
		c.notify(st)
		return st.Err
	}

	c.status = StatusCompleted
	c.submissionID = submissionID
	timer := c.timer
	st = c.stateLocked()
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	c.release()
	c.log.Info().Str("submission_id", submissionID.String()).Msg("Attempt submitted")
	c.notify(st)
	return nil
}

// RequestLeave intercepts navigation away from the attempt. For an
// in-progress session it only marks a confirmation as pending and returns
// true; nothing is torn down until ResolveLeave(true). Any other session is
// torn down immediately and false is returned.
func (c *Controller) RequestLeave() bool {
	c.mu.Lock()
	if !c.closed && c.status == StatusInProgress {
		c.leavePending = true
		st := c.stateLocked()
		c.mu.Unlock()
		c.notify(st)
		return true
	}
	c.mu.Unlock()

	c.Close()
	return false
}

// ResolveLeave answers a pending leave confirmation. exit discards the
// session without submitting; otherwise the attempt resumes untouched.
func (c *Controller) ResolveLeave(exit bool) error {
	c.mu.Lock()
	if !c.leavePending {
		c.mu.Unlock()
		return ErrNoLeavePending
	}
	c.leavePending = false
	st := c.stateLocked()
	c.mu.Unlock()

	if exit {
		c.log.Info().Msg("Attempt abandoned")
		c.Close()
		return nil
	}
	c.notify(st)
	return nil
}

// Close tears the session down: the countdown is stopped, an in-flight submit
// is cancelled and its response discarded. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.leavePending = false
	timer := c.timer
	c.mu.Unlock()

	c.cancel()
	if timer != nil {
		timer.Stop()
	}
	c.release()
	c.log.Debug().Msg("Session torn down")
}

// Closed reports whether the session has been torn down.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Snapshot returns a point-in-time copy of the session for assembling.
func (c *Controller) Snapshot(reason model.SubmitReason) model.AttemptSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(reason)
}

func (c *Controller) snapshotLocked(reason model.SubmitReason) model.AttemptSnapshot {
	questions := make([]model.Question, len(c.questions))
	copy(questions, c.questions)
	answers := make(map[uuid.UUID]json.RawMessage, len(c.answers))
	for id, v := range c.answers {
		answers[id] = bytes.Clone(v)
	}
	return model.AttemptSnapshot{
		SessionID: c.id,
		Quiz:      c.quiz,
		StudentID: c.cfg.Principal.Subject,
		Questions: questions,
		Answers:   answers,
		Reason:    reason,
		TakenAt:   c.cfg.Now().UTC(),
	}
}

func (c *Controller) stateLocked() State {
	c.seq++
	return State{
		Seq:              c.seq,
		SessionID:        c.id,
		Status:           c.status,
		Quiz:             c.quiz,
		Index:            c.index,
		QuestionCount:    len(c.questions),
		Answered:         len(c.answers),
		RemainingSeconds: c.remaining,
		LowTime:          c.status == StatusInProgress && countdown.IsLowTime(c.remaining),
		LeavePending:     c.leavePending,
		InFlight:         c.inFlight,
		SubmissionID:     c.submissionID,
		Err:              c.lastErr,
	}
}

// notify hands st to the listener. The first caller to find no delivery
// running drains the newest queued state until none is left; concurrent
// callers only queue theirs.
func (c *Controller) notify(st State) {
	if c.cfg.OnChange == nil {
		return
	}

	c.notifyMu.Lock()
	if st.Seq <= c.queuedSeq {
		c.notifyMu.Unlock()
		return
	}
	c.queuedSeq = st.Seq
	c.pending = &st
	if c.delivering {
		c.notifyMu.Unlock()
		return
	}
	c.delivering = true
	c.notifyMu.Unlock()

	for {
		c.notifyMu.Lock()
		next := c.pending
		c.pending = nil
		if next == nil {
			c.delivering = false
			c.notifyMu.Unlock()
			return
		}
		c.notifyMu.Unlock()

		c.cfg.OnChange(*next)
	}
}

func (c *Controller) release() {
	c.releaseOnce.Do(func() {
		if c.onRelease != nil {
			c.onRelease()
		}
	})
}

// watch feeds countdown signals into the session. The controller, not the
// countdown, owns the remaining time.
func (c *Controller) watch(timer *countdown.Countdown) {
	for sig := range timer.Signals() {
		switch sig.Kind {
		case countdown.KindTick:
			c.tick()
		case countdown.KindExpired:
			c.expire()
		}
	}
}

func (c *Controller) tick() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.remaining > 0 {
		c.remaining--
	}
	st := c.stateLocked()
	c.mu.Unlock()

	c.notify(st)
}

func (c *Controller) expire() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.remaining = 0
	st := c.stateLocked()
	c.mu.Unlock()

	c.log.Info().Msg("Time expired, auto-submitting")
	c.notify(st)
	if err := c.RequestSubmit(c.ctx, model.SubmitReasonTimeout); err != nil && !errors.Is(err, ErrStaleSession) {
		c.log.Warn().Err(err).Msg("Auto-submit failed")
	}
}

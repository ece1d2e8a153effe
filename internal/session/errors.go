package session

import "errors"

// Session errors.
var (
	// ErrEmptyQuiz is fatal to starting a session: the quiz has no questions.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrSubmissionFailed wraps a network or server rejection while submitting.
	// Answers are retained and the caller may retry.
	ErrSubmissionFailed = errors.New("submission failed")
	// ErrStaleSession is returned when a response arrives for a session that
	// has already been torn down. It is never shown to the user.
	ErrStaleSession = errors.New("session is no longer active")
	// ErrNotInProgress is returned when answers are edited outside in_progress.
	ErrNotInProgress = errors.New("session is not in progress")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrUnknownQuestion is returned for a question id not in the session.
	ErrUnknownQuestion = errors.New("question does not belong to this quiz")
	// ErrNoLeavePending is returned when resolving a leave that was never requested.
	ErrNoLeavePending = errors.New("no leave confirmation pending")
	// ErrAttemptActive is returned when a second session is opened for a quiz
	// that already has one open in this process.
	ErrAttemptActive = errors.New("an attempt for this quiz is already open")
)

package service

import "errors"

var (
	ErrQuizNotFound         = errors.New("quiz not found")
	ErrQuizInactive         = errors.New("quiz is not active")
	ErrNoQuestions          = errors.New("quiz has no questions")
	ErrSubmissionNotFound   = errors.New("submission not found")
	ErrAnswersMismatch      = errors.New("submission must carry exactly one answer per question")
	ErrSubmissionInProgress = errors.New("a submission for this attempt is already being written")
	ErrUnknownQuestion      = errors.New("question is not part of this submission")
	ErrForbidden            = errors.New("principal may not access this resource")
	ErrInvalidQuestion      = errors.New("invalid question")
)

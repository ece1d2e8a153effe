package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// QuizPayloadKey returns the cache key for a quiz payload with answer keys stripped
func (r *CacheKeyStruct) QuizPayloadKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:payload", quizID)
}

// QuizAnswerKey returns the cache key for a quiz's answer key, used by auto-grading
func (r *CacheKeyStruct) QuizAnswerKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:key", quizID)
}

// ActiveAttemptKey returns the marker set while a submission for a student and
// quiz is being written
func (r *CacheKeyStruct) ActiveAttemptKey(quizID, studentID string) string {
	return fmt.Sprintf("student:%s:quiz:%s:submitting", studentID, quizID)
}

var CacheKey = NewCacheKeyStruct()

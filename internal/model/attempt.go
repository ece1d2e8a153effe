package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AttemptSnapshot is a point-in-time copy of an attempt session, taken before
// assembling a submission so the assembler never sees a half-applied edit.
type AttemptSnapshot struct {
	SessionID uuid.UUID
	Quiz      Quiz
	StudentID string
	Questions []Question
	Answers   map[uuid.UUID]json.RawMessage
	Reason    SubmitReason
	TakenAt   time.Time
}

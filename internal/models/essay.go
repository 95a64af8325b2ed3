package models

import (
	"encoding/json"
	"time"
)

// Essay is the lifecycle record of one submitted text. The (AssignmentID,
// EssayID) pair is the record identity; StudentID is empty until the
// resolver assigns one.
type Essay struct {
	AssignmentID string          `json:"assignment_id" db:"assignment_id"`
	EssayID      string          `json:"essay_id" db:"essay_id"`
	TeacherID    string          `json:"teacher_id" db:"teacher_id"`
	StudentID    string          `json:"student_id" db:"student_id"`
	RawTextRef   string          `json:"raw_text_ref" db:"raw_text_ref"`
	Status       EssayStatus     `json:"status" db:"status"`
	Result       json.RawMessage `json:"result,omitempty" db:"result"`
	Attempts     int             `json:"attempts" db:"attempts"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

type EssayStatus string

const (
	EssayStatusPending    EssayStatus = "pending"
	EssayStatusProcessing EssayStatus = "processing"
	EssayStatusProcessed  EssayStatus = "processed"
	EssayStatusFailed     EssayStatus = "failed"
)

func (s EssayStatus) String() string {
	return string(s)
}

func (s EssayStatus) Valid() bool {
	switch s {
	case EssayStatusPending, EssayStatusProcessing, EssayStatusProcessed, EssayStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s EssayStatus) Terminal() bool {
	return s == EssayStatusProcessed || s == EssayStatusFailed
}

// CanTransition enforces the forward-only lifecycle:
// pending -> processing -> {processed, failed}.
func (s EssayStatus) CanTransition(to EssayStatus) bool {
	switch s {
	case EssayStatusPending:
		return to == EssayStatusProcessing
	case EssayStatusProcessing:
		return to == EssayStatusProcessed || to == EssayStatusFailed
	default:
		return false
	}
}

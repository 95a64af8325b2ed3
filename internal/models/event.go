package models

// WorkItem is the queue payload that triggers processing of one essay. It
// deliberately carries identifiers only; the essay text stays in the blob
// store so duplicate deliveries never haul sensitive content around.
type WorkItem struct {
	TeacherID    string `json:"teacher_id" validate:"required"`
	AssignmentID string `json:"assignment_id" validate:"required"`
	StudentID    string `json:"student_id"` // empty means unassigned
	EssayID      string `json:"essay_id" validate:"required"`
}

// CompletionEvent signals that one essay finished processing. Override marks
// re-triggers caused by a manual feedback correction rather than first-time
// processing; aggregation treats both the same way.
type CompletionEvent struct {
	TeacherID    string `json:"teacher_id" validate:"required"`
	AssignmentID string `json:"assignment_id" validate:"required"`
	StudentID    string `json:"student_id"`
	EssayID      string `json:"essay_id" validate:"required"`
	Override     bool   `json:"override,omitempty"`
}

// ObjectCreatedEvent is the upload-trigger notification from the blob store.
type ObjectCreatedEvent struct {
	Bucket string `json:"bucket" validate:"required"`
	Key    string `json:"key" validate:"required"`
}

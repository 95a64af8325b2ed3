package models

import (
	"time"
)

// Student is scoped to a single teacher; the same display name under two
// teachers is two distinct students.
type Student struct {
	TeacherID   string    `json:"teacher_id" db:"teacher_id"`
	StudentID   string    `json:"student_id" db:"student_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

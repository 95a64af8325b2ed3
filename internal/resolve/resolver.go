// Package resolve maps extracted author names onto student records by fuzzy
// matching within a teacher's roster.
package resolve

import (
	"context"
	"fmt"
	"time"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"essaypipe/internal/extract"
	"essaypipe/internal/models"
)

// StudentStore is the slice of the student repository the resolver needs.
type StudentStore interface {
	Create(ctx context.Context, student *models.Student) error
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Student, error)
}

type Resolver interface {
	Resolve(ctx context.Context, teacherID, candidateName string) (*models.Student, error)
}

type resolver struct {
	students  StudentStore
	threshold int
	logger    zerolog.Logger
}

func NewResolver(students StudentStore, threshold int, logger zerolog.Logger) Resolver {
	return &resolver{
		students:  students,
		threshold: threshold,
		logger:    logger,
	}
}

// Resolve returns the best-matching existing student for candidateName, or
// creates a new one when no roster entry scores at or above the threshold.
// Ties at the maximum score break toward the lexicographically smallest
// student id so repeated runs pick the same record.
func (r *resolver) Resolve(ctx context.Context, teacherID, candidateName string) (*models.Student, error) {
	if candidateName == "" {
		return nil, fmt.Errorf("candidate name is empty")
	}

	roster, err := r.students.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}

	normalized := extract.Normalize(candidateName)

	var best *models.Student
	bestScore := 0
	for i := range roster {
		student := &roster[i]
		score := similarity(normalized, extract.Normalize(student.DisplayName))
		if score < r.threshold {
			continue
		}
		if score > bestScore || (score == bestScore && best != nil && student.StudentID < best.StudentID) {
			bestScore = score
			best = student
		}
	}

	if best != nil {
		r.logger.Info().
			Str("teacher_id", teacherID).
			Str("candidate_name", candidateName).
			Str("matched_name", best.DisplayName).
			Str("student_id", best.StudentID).
			Int("score", bestScore).
			Msg("Student matched")
		return best, nil
	}

	now := time.Now().UTC()
	student := &models.Student{
		TeacherID:   teacherID,
		StudentID:   uuid.New().String(),
		DisplayName: candidateName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Concurrent resolution of the same unmatched name can create duplicate
	// records; accepted, duplicates are rare and correctable.
	if err := r.students.Create(ctx, student); err != nil {
		return nil, fmt.Errorf("failed to create student: %w", err)
	}

	r.logger.Info().
		Str("teacher_id", teacherID).
		Str("student_id", student.StudentID).
		Str("name", candidateName).
		Msg("New student created")

	return student, nil
}

// similarity scores two normalized names 0-100 by edit-distance ratio.
func similarity(a, b string) int {
	if a == "" && b == "" {
		return 100
	}
	return int(levenshtein.Similarity(a, b, nil) * 100)
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"essaypipe/internal/models"
)

type MetricsRepository interface {
	UpsertClass(ctx context.Context, record *models.ClassMetricsRecord) error
	UpsertStudent(ctx context.Context, record *models.StudentMetricsRecord) error
	GetClass(ctx context.Context, teacherID, assignmentID string) (*models.ClassMetricsRecord, error)
	GetStudent(ctx context.Context, teacherID, studentID string) (*models.StudentMetricsRecord, error)
}

type metricsRepository struct {
	*PostgresRepository
}

func NewMetricsRepository(db *sql.DB, logger zerolog.Logger) MetricsRepository {
	return &metricsRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

// UpsertClass replaces the stored stats wholesale; aggregates are recomputed
// from scratch, never merged.
func (r *metricsRepository) UpsertClass(ctx context.Context, record *models.ClassMetricsRecord) error {
	stats, err := json.Marshal(record.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal class stats: %w", err)
	}

	query := `
		INSERT INTO class_metrics (teacher_id, assignment_id, stats, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (teacher_id, assignment_id)
		DO UPDATE SET stats = EXCLUDED.stats, updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		record.TeacherID,
		record.AssignmentID,
		stats,
		record.UpdatedAt,
	)

	return err
}

func (r *metricsRepository) UpsertStudent(ctx context.Context, record *models.StudentMetricsRecord) error {
	stats, err := json.Marshal(record.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal student stats: %w", err)
	}

	query := `
		INSERT INTO student_metrics (teacher_id, student_id, stats, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (teacher_id, student_id)
		DO UPDATE SET stats = EXCLUDED.stats, updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		record.TeacherID,
		record.StudentID,
		stats,
		record.UpdatedAt,
	)

	return err
}

func (r *metricsRepository) GetClass(ctx context.Context, teacherID, assignmentID string) (*models.ClassMetricsRecord, error) {
	query := `
		SELECT teacher_id, assignment_id, stats, updated_at
		FROM class_metrics
		WHERE teacher_id = $1 AND assignment_id = $2
	`

	record := &models.ClassMetricsRecord{}
	var stats []byte
	var updatedAt time.Time

	err := r.db.QueryRowContext(ctx, query, teacherID, assignmentID).Scan(
		&record.TeacherID,
		&record.AssignmentID,
		&stats,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stats, &record.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal class stats: %w", err)
	}
	record.UpdatedAt = updatedAt

	return record, nil
}

func (r *metricsRepository) GetStudent(ctx context.Context, teacherID, studentID string) (*models.StudentMetricsRecord, error) {
	query := `
		SELECT teacher_id, student_id, stats, updated_at
		FROM student_metrics
		WHERE teacher_id = $1 AND student_id = $2
	`

	record := &models.StudentMetricsRecord{}
	var stats []byte
	var updatedAt time.Time

	err := r.db.QueryRowContext(ctx, query, teacherID, studentID).Scan(
		&record.TeacherID,
		&record.StudentID,
		&stats,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(stats, &record.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal student stats: %w", err)
	}
	record.UpdatedAt = updatedAt

	return record, nil
}

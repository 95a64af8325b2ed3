package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"essaypipe/internal/models"
)

type EssayRepository interface {
	Create(ctx context.Context, essay *models.Essay) error
	Get(ctx context.Context, assignmentID, essayID string) (*models.Essay, error)
	GetByEssayID(ctx context.Context, essayID string) (*models.Essay, error)
	MarkProcessing(ctx context.Context, assignmentID, essayID string) (bool, error)
	MarkProcessed(ctx context.Context, assignmentID, essayID string, result json.RawMessage, processedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, assignmentID, essayID string) (bool, error)
	ResetForRetry(ctx context.Context, assignmentID, essayID string) (bool, error)
	ListProcessedByAssignment(ctx context.Context, teacherID, assignmentID string) ([]models.Essay, error)
	ListProcessedByStudent(ctx context.Context, teacherID, studentID string) ([]models.Essay, error)
	ListStalePending(ctx context.Context, olderThan time.Time) ([]models.Essay, error)
	CountByStatus(ctx context.Context) (map[models.EssayStatus]int, error)
	ResetStuck(ctx context.Context, olderThan time.Time, maxResets int) (requeued, failed []models.Essay, err error)
}

type essayRepository struct {
	*PostgresRepository
}

func NewEssayRepository(db *sql.DB, logger zerolog.Logger) EssayRepository {
	return &essayRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

const essayColumns = `assignment_id, essay_id, teacher_id, student_id, raw_text_ref, status, result, attempts, created_at, processed_at, updated_at`

func (r *essayRepository) Create(ctx context.Context, essay *models.Essay) error {
	query := `
		INSERT INTO essays (assignment_id, essay_id, teacher_id, student_id, raw_text_ref, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		essay.AssignmentID,
		essay.EssayID,
		essay.TeacherID,
		essay.StudentID,
		essay.RawTextRef,
		essay.Status.String(),
		essay.Attempts,
		essay.CreatedAt,
		essay.UpdatedAt,
	)

	return err
}

func (r *essayRepository) Get(ctx context.Context, assignmentID, essayID string) (*models.Essay, error) {
	query := `SELECT ` + essayColumns + ` FROM essays WHERE assignment_id = $1 AND essay_id = $2`

	return r.scanOne(r.db.QueryRowContext(ctx, query, assignmentID, essayID))
}

func (r *essayRepository) GetByEssayID(ctx context.Context, essayID string) (*models.Essay, error) {
	query := `SELECT ` + essayColumns + ` FROM essays WHERE essay_id = $1`

	return r.scanOne(r.db.QueryRowContext(ctx, query, essayID))
}

// MarkProcessing performs the pending->processing transition as a conditional
// write. A false return with no error means the guard lost: the record is no
// longer pending and the caller holds a duplicate delivery.
func (r *essayRepository) MarkProcessing(ctx context.Context, assignmentID, essayID string) (bool, error) {
	query := `
		UPDATE essays
		SET status = $1, updated_at = now()
		WHERE assignment_id = $2 AND essay_id = $3 AND status = $4
	`

	res, err := r.db.ExecContext(ctx, query,
		models.EssayStatusProcessing.String(),
		assignmentID,
		essayID,
		models.EssayStatusPending.String(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *essayRepository) MarkProcessed(ctx context.Context, assignmentID, essayID string, result json.RawMessage, processedAt time.Time) (bool, error) {
	query := `
		UPDATE essays
		SET status = $1, result = $2, processed_at = $3, updated_at = now()
		WHERE assignment_id = $4 AND essay_id = $5 AND status = $6
	`

	res, err := r.db.ExecContext(ctx, query,
		models.EssayStatusProcessed.String(),
		[]byte(result),
		processedAt,
		assignmentID,
		essayID,
		models.EssayStatusProcessing.String(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *essayRepository) MarkFailed(ctx context.Context, assignmentID, essayID string) (bool, error) {
	query := `
		UPDATE essays
		SET status = $1, updated_at = now()
		WHERE assignment_id = $2 AND essay_id = $3 AND status = $4
	`

	res, err := r.db.ExecContext(ctx, query,
		models.EssayStatusFailed.String(),
		assignmentID,
		essayID,
		models.EssayStatusProcessing.String(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n == 1, err
}

// ResetForRetry returns a processing record to pending with its attempt
// counter bumped, so a redelivered work item can claim it again.
func (r *essayRepository) ResetForRetry(ctx context.Context, assignmentID, essayID string) (bool, error) {
	query := `
		UPDATE essays
		SET status = $1, attempts = attempts + 1, updated_at = now()
		WHERE assignment_id = $2 AND essay_id = $3 AND status = $4
	`

	res, err := r.db.ExecContext(ctx, query,
		models.EssayStatusPending.String(),
		assignmentID,
		essayID,
		models.EssayStatusProcessing.String(),
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *essayRepository) ListProcessedByAssignment(ctx context.Context, teacherID, assignmentID string) ([]models.Essay, error) {
	query := `
		SELECT ` + essayColumns + `
		FROM essays
		WHERE teacher_id = $1 AND assignment_id = $2 AND status = $3
		ORDER BY created_at ASC
	`

	return r.scanMany(ctx, query, teacherID, assignmentID, models.EssayStatusProcessed.String())
}

func (r *essayRepository) ListProcessedByStudent(ctx context.Context, teacherID, studentID string) ([]models.Essay, error) {
	query := `
		SELECT ` + essayColumns + `
		FROM essays
		WHERE teacher_id = $1 AND student_id = $2 AND status = $3
		ORDER BY created_at ASC
	`

	return r.scanMany(ctx, query, teacherID, studentID, models.EssayStatusProcessed.String())
}

func (r *essayRepository) CountByStatus(ctx context.Context) (map[models.EssayStatus]int, error) {
	query := `SELECT status, count(*) FROM essays GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.EssayStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[models.EssayStatus(status)] = count
	}

	return counts, rows.Err()
}

// ListStalePending finds pending records that have sat untouched past the
// cutoff, which means their work item was never published or got lost.
func (r *essayRepository) ListStalePending(ctx context.Context, olderThan time.Time) ([]models.Essay, error) {
	query := `
		SELECT ` + essayColumns + `
		FROM essays
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
	`

	return r.scanMany(ctx, query, models.EssayStatusPending.String(), olderThan)
}

// ResetStuck is the reconciliation path for essays abandoned mid-processing.
// Records stuck past their reset budget become failed; the rest return to
// pending with attempts incremented so the caller can re-enqueue them.
func (r *essayRepository) ResetStuck(ctx context.Context, olderThan time.Time, maxResets int) (requeued, failed []models.Essay, err error) {
	failQuery := `
		UPDATE essays
		SET status = $1, updated_at = now()
		WHERE status = $2 AND updated_at < $3 AND attempts >= $4
		RETURNING ` + essayColumns

	failed, err = r.scanMany(ctx, failQuery,
		models.EssayStatusFailed.String(),
		models.EssayStatusProcessing.String(),
		olderThan,
		maxResets,
	)
	if err != nil {
		return nil, nil, err
	}

	resetQuery := `
		UPDATE essays
		SET status = $1, attempts = attempts + 1, updated_at = now()
		WHERE status = $2 AND updated_at < $3 AND attempts < $4
		RETURNING ` + essayColumns

	requeued, err = r.scanMany(ctx, resetQuery,
		models.EssayStatusPending.String(),
		models.EssayStatusProcessing.String(),
		olderThan,
		maxResets,
	)
	if err != nil {
		return nil, nil, err
	}

	return requeued, failed, nil
}

func (r *essayRepository) scanOne(row *sql.Row) (*models.Essay, error) {
	essay := &models.Essay{}
	var status string
	var result []byte

	err := row.Scan(
		&essay.AssignmentID,
		&essay.EssayID,
		&essay.TeacherID,
		&essay.StudentID,
		&essay.RawTextRef,
		&status,
		&result,
		&essay.Attempts,
		&essay.CreatedAt,
		&essay.ProcessedAt,
		&essay.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	essay.Status = models.EssayStatus(status)
	essay.Result = result
	return essay, nil
}

func (r *essayRepository) scanMany(ctx context.Context, query string, args ...interface{}) ([]models.Essay, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var essays []models.Essay
	for rows.Next() {
		var essay models.Essay
		var status string
		var result []byte

		err := rows.Scan(
			&essay.AssignmentID,
			&essay.EssayID,
			&essay.TeacherID,
			&essay.StudentID,
			&essay.RawTextRef,
			&status,
			&result,
			&essay.Attempts,
			&essay.CreatedAt,
			&essay.ProcessedAt,
			&essay.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		essay.Status = models.EssayStatus(status)
		essay.Result = result
		essays = append(essays, essay)
	}

	return essays, rows.Err()
}

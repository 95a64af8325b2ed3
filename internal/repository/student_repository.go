package repository

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog"

	"essaypipe/internal/models"
)

type StudentRepository interface {
	Create(ctx context.Context, student *models.Student) error
	Get(ctx context.Context, teacherID, studentID string) (*models.Student, error)
	ListByTeacher(ctx context.Context, teacherID string) ([]models.Student, error)
}

type studentRepository struct {
	*PostgresRepository
}

func NewStudentRepository(db *sql.DB, logger zerolog.Logger) StudentRepository {
	return &studentRepository{
		PostgresRepository: NewPostgresRepository(db, logger),
	}
}

func (r *studentRepository) Create(ctx context.Context, student *models.Student) error {
	query := `
		INSERT INTO students (teacher_id, student_id, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query,
		student.TeacherID,
		student.StudentID,
		student.DisplayName,
		student.CreatedAt,
		student.UpdatedAt,
	)

	return err
}

func (r *studentRepository) Get(ctx context.Context, teacherID, studentID string) (*models.Student, error) {
	query := `
		SELECT teacher_id, student_id, display_name, created_at, updated_at
		FROM students
		WHERE teacher_id = $1 AND student_id = $2
	`

	student := &models.Student{}
	err := r.db.QueryRowContext(ctx, query, teacherID, studentID).Scan(
		&student.TeacherID,
		&student.StudentID,
		&student.DisplayName,
		&student.CreatedAt,
		&student.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return student, err
}

func (r *studentRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.Student, error) {
	query := `
		SELECT teacher_id, student_id, display_name, created_at, updated_at
		FROM students
		WHERE teacher_id = $1
		ORDER BY student_id
	`

	rows, err := r.db.QueryContext(ctx, query, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []models.Student
	for rows.Next() {
		var student models.Student
		err := rows.Scan(
			&student.TeacherID,
			&student.StudentID,
			&student.DisplayName,
			&student.CreatedAt,
			&student.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		students = append(students, student)
	}

	return students, rows.Err()
}

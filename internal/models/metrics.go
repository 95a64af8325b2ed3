package models

import (
	"time"
)

// ClassStats is the assignment-level aggregate, recomputed from scratch on
// every aggregation run.
type ClassStats struct {
	AvgTTR      float64          `json:"avg_ttr"`
	AvgFreqRank float64          `json:"avg_freq_rank"`
	Correctness CorrectnessRatio `json:"correctness"`
	EssayCount  int              `json:"essay_count"`
}

type CorrectnessRatio struct {
	Correct   float64 `json:"correct"`
	Incorrect float64 `json:"incorrect"`
}

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// StudentStats is the per-student rolling aggregate. LastEssayDate is the
// created-at of the newest processed essay, nil when the student has none.
type StudentStats struct {
	AvgTTR         float64    `json:"avg_ttr"`
	AvgWordCount   float64    `json:"avg_word_count"`
	AvgUniqueWords float64    `json:"avg_unique_words"`
	AvgFreqRank    float64    `json:"avg_freq_rank"`
	TotalEssays    int        `json:"total_essays"`
	Trend          Trend      `json:"trend"`
	LastEssayDate  *time.Time `json:"last_essay_date"`
}

type ClassMetricsRecord struct {
	TeacherID    string     `json:"teacher_id" db:"teacher_id"`
	AssignmentID string     `json:"assignment_id" db:"assignment_id"`
	Stats        ClassStats `json:"stats" db:"stats"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

type StudentMetricsRecord struct {
	TeacherID string       `json:"teacher_id" db:"teacher_id"`
	StudentID string       `json:"student_id" db:"student_id"`
	Stats     StudentStats `json:"stats" db:"stats"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

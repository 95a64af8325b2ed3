package aggregate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"essaypipe/internal/models"
	"essaypipe/internal/queue"
)

type studentKey struct {
	teacherID string
	studentID string
}

// StudentAggregator mirrors ClassAggregator for per-student stats. Events for
// essays that never got a student assigned are acknowledged and skipped; they
// still count in class stats but have no student to roll up under.
type StudentAggregator struct {
	essays   EssayLister
	metrics  MetricsStore
	window   time.Duration
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewStudentAggregator(essays EssayLister, metrics MetricsStore, window time.Duration, logger zerolog.Logger) *StudentAggregator {
	if window <= 0 {
		window = time.Second
	}
	return &StudentAggregator{
		essays:   essays,
		metrics:  metrics,
		window:   window,
		validate: validator.New(),
		logger:   logger,
	}
}

func (a *StudentAggregator) Run(ctx context.Context, messages <-chan queue.Message) {
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()

	pending := make(map[studentKey][]queue.Message)

	for {
		select {
		case <-ctx.Done():
			a.flush(ctx, pending)
			return
		case msg, ok := <-messages:
			if !ok {
				a.flush(ctx, pending)
				return
			}
			a.collect(pending, msg)
		case <-ticker.C:
			a.flush(ctx, pending)
		}
	}
}

func (a *StudentAggregator) collect(pending map[studentKey][]queue.Message, msg queue.Message) {
	var event models.CompletionEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		a.logger.Error().Err(err).Msg("Malformed completion event; dropping")
		nack(msg, false, a.logger)
		return
	}
	if err := a.validate.Struct(&event); err != nil {
		a.logger.Error().Err(err).Msg("Invalid completion event; dropping")
		nack(msg, false, a.logger)
		return
	}

	if event.StudentID == "" {
		a.logger.Debug().Str("essay_id", event.EssayID).Msg("Unassigned essay; no student stats to update")
		ack(msg, a.logger)
		return
	}

	key := studentKey{teacherID: event.TeacherID, studentID: event.StudentID}
	pending[key] = append(pending[key], msg)
}

func (a *StudentAggregator) flush(ctx context.Context, pending map[studentKey][]queue.Message) {
	for key, msgs := range pending {
		delete(pending, key)

		if err := a.recompute(ctx, key); err != nil {
			a.logger.Error().Err(err).
				Str("teacher_id", key.teacherID).
				Str("student_id", key.studentID).
				Msg("Student stats recompute failed; requeueing")
			for _, msg := range msgs {
				nack(msg, true, a.logger)
			}
			continue
		}

		for _, msg := range msgs {
			ack(msg, a.logger)
		}
	}
}

func (a *StudentAggregator) recompute(ctx context.Context, key studentKey) error {
	essays, err := a.essays.ListProcessedByStudent(ctx, key.teacherID, key.studentID)
	if err != nil {
		return err
	}

	stats := ComputeStudentStats(essays)

	record := &models.StudentMetricsRecord{
		TeacherID: key.teacherID,
		StudentID: key.studentID,
		Stats:     stats,
		UpdatedAt: time.Now().UTC(),
	}
	if err := a.metrics.UpsertStudent(ctx, record); err != nil {
		return err
	}

	a.logger.Info().
		Str("teacher_id", key.teacherID).
		Str("student_id", key.studentID).
		Int("total_essays", stats.TotalEssays).
		Str("trend", string(stats.Trend)).
		Msg("Student stats updated")

	return nil
}

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

// EssayLister is the read slice of the essay repository aggregation uses.
type EssayLister interface {
	ListProcessedByAssignment(ctx context.Context, teacherID, assignmentID string) ([]models.Essay, error)
	ListProcessedByStudent(ctx context.Context, teacherID, studentID string) ([]models.Essay, error)
}

// MetricsStore is the write slice of the metrics repository.
type MetricsStore interface {
	UpsertClass(ctx context.Context, record *models.ClassMetricsRecord) error
	UpsertStudent(ctx context.Context, record *models.StudentMetricsRecord) error
}

type classKey struct {
	teacherID    string
	assignmentID string
}

// ClassAggregator consumes completion events and recomputes assignment-level
// stats. Events are collected for a short window and deduplicated by
// (teacher, assignment), so a burst of completions for one class costs a
// single recompute.
type ClassAggregator struct {
	essays   EssayLister
	metrics  MetricsStore
	window   time.Duration
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewClassAggregator(essays EssayLister, metrics MetricsStore, window time.Duration, logger zerolog.Logger) *ClassAggregator {
	if window <= 0 {
		window = time.Second
	}
	return &ClassAggregator{
		essays:   essays,
		metrics:  metrics,
		window:   window,
		validate: validator.New(),
		logger:   logger,
	}
}

// Run consumes until the context is cancelled or the channel closes, flushing
// whatever is batched on the way out.
func (a *ClassAggregator) Run(ctx context.Context, messages <-chan queue.Message) {
	ticker := time.NewTicker(a.window)
	defer ticker.Stop()

	pending := make(map[classKey][]queue.Message)

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

func (a *ClassAggregator) collect(pending map[classKey][]queue.Message, msg queue.Message) {
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

	key := classKey{teacherID: event.TeacherID, assignmentID: event.AssignmentID}
	pending[key] = append(pending[key], msg)
}

func (a *ClassAggregator) flush(ctx context.Context, pending map[classKey][]queue.Message) {
	for key, msgs := range pending {
		delete(pending, key)

		if err := a.recompute(ctx, key); err != nil {
			a.logger.Error().Err(err).
				Str("teacher_id", key.teacherID).
				Str("assignment_id", key.assignmentID).
				Msg("Class stats recompute failed; requeueing")
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

func (a *ClassAggregator) recompute(ctx context.Context, key classKey) error {
	essays, err := a.essays.ListProcessedByAssignment(ctx, key.teacherID, key.assignmentID)
	if err != nil {
		return err
	}

	stats := ComputeClassStats(essays)

	record := &models.ClassMetricsRecord{
		TeacherID:    key.teacherID,
		AssignmentID: key.assignmentID,
		Stats:        stats,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := a.metrics.UpsertClass(ctx, record); err != nil {
		return err
	}

	a.logger.Info().
		Str("teacher_id", key.teacherID).
		Str("assignment_id", key.assignmentID).
		Int("essay_count", stats.EssayCount).
		Msg("Class stats updated")

	return nil
}

func ack(msg queue.Message, logger zerolog.Logger) {
	if err := msg.Ack(false); err != nil {
		logger.Error().Err(err).Msg("Failed to ack completion event")
	}
}

func nack(msg queue.Message, requeue bool, logger zerolog.Logger) {
	if err := msg.Nack(false, requeue); err != nil {
		logger.Error().Err(err).Msg("Failed to nack completion event")
	}
}

// Package worker runs the queue-driven stages of the pipeline: the essay
// processing state machine, the consumer pool that feeds it, and the janitor
// that recovers abandoned work.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"essaypipe/internal/analysis"
	"essaypipe/internal/dispatch"
	"essaypipe/internal/models"
	"essaypipe/internal/queue"
	"essaypipe/internal/repository"
	"essaypipe/internal/storage"
)

// ProcessingWorker drives one essay through
// pending -> processing -> {processed, failed}. Every transition is a
// conditional write, so duplicate deliveries and concurrent workers settle on
// exactly one winner per essay.
type ProcessingWorker struct {
	essays      repository.EssayRepository
	blobs       storage.BlobStore
	analyzer    analysis.Client
	dispatcher  dispatch.Dispatcher
	validate    *validator.Validate
	maxAttempts int
	logger      zerolog.Logger
}

func NewProcessingWorker(
	essays repository.EssayRepository,
	blobs storage.BlobStore,
	analyzer analysis.Client,
	dispatcher dispatch.Dispatcher,
	maxAttempts int,
	logger zerolog.Logger,
) *ProcessingWorker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ProcessingWorker{
		essays:      essays,
		blobs:       blobs,
		analyzer:    analyzer,
		dispatcher:  dispatcher,
		validate:    validator.New(),
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Handle consumes one work-queue delivery end to end, including its ack.
func (w *ProcessingWorker) Handle(ctx context.Context, msg queue.Message) {
	var item models.WorkItem
	if err := json.Unmarshal(msg.Body, &item); err != nil {
		w.logger.Error().Err(err).Msg("Malformed work item; dead-lettering")
		w.deadLetter(msg)
		return
	}
	if err := w.validate.Struct(&item); err != nil {
		w.logger.Error().Err(err).Msg("Invalid work item; dead-lettering")
		w.deadLetter(msg)
		return
	}

	log := w.logger.With().
		Str("assignment_id", item.AssignmentID).
		Str("essay_id", item.EssayID).
		Logger()

	claimed, err := w.essays.MarkProcessing(ctx, item.AssignmentID, item.EssayID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to claim essay; requeueing")
		w.requeue(msg)
		return
	}
	if !claimed {
		w.handleUnclaimed(ctx, msg, &item, log)
		return
	}

	essay, err := w.essays.Get(ctx, item.AssignmentID, item.EssayID)
	if err != nil || essay == nil {
		log.Error().Err(err).Msg("Claimed essay vanished; retrying")
		w.retry(ctx, msg, &item, log)
		return
	}

	text, err := w.blobs.Get(ctx, essay.RawTextRef)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			log.Error().Str("raw_text_ref", essay.RawTextRef).Msg("Essay text missing from storage; failing")
			w.fail(ctx, msg, &item, log)
			return
		}
		log.Error().Err(err).Msg("Failed to download essay text; retrying")
		w.retry(ctx, msg, &item, log)
		return
	}

	result, err := w.analyzer.Analyze(ctx, string(text))
	if err != nil {
		if errors.Is(err, analysis.ErrRejected) {
			log.Error().Err(err).Msg("Analysis rejected essay; failing")
			w.fail(ctx, msg, &item, log)
			return
		}
		log.Warn().Err(err).Msg("Analysis unavailable; retrying")
		w.retry(ctx, msg, &item, log)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal analysis result; failing")
		w.fail(ctx, msg, &item, log)
		return
	}

	done, err := w.essays.MarkProcessed(ctx, item.AssignmentID, item.EssayID, payload, time.Now().UTC())
	if err != nil {
		log.Error().Err(err).Msg("Failed to persist result; retrying")
		w.retry(ctx, msg, &item, log)
		return
	}
	if !done {
		// The janitor reclaimed the record mid-flight; its redelivery will
		// redo the work.
		log.Warn().Msg("Lost processing claim before persisting result")
		w.ack(msg)
		return
	}

	// Result persisted first; the completion event is downstream of the
	// durable record, never ahead of it.
	event := &models.CompletionEvent{
		TeacherID:    item.TeacherID,
		AssignmentID: item.AssignmentID,
		StudentID:    item.StudentID,
		EssayID:      item.EssayID,
	}
	if err := w.dispatcher.DispatchCompletion(ctx, event); err != nil {
		// Aggregates stay stale until the next completion for this class;
		// the essay itself is safely processed.
		log.Error().Err(err).Msg("Failed to publish completion event")
	}

	log.Info().Msg("Essay processed")
	w.ack(msg)
}

// handleUnclaimed sorts out deliveries whose pending->processing guard lost:
// a missing record is dead-lettered, anything else is a duplicate to drop.
func (w *ProcessingWorker) handleUnclaimed(ctx context.Context, msg queue.Message, item *models.WorkItem, log zerolog.Logger) {
	essay, err := w.essays.Get(ctx, item.AssignmentID, item.EssayID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to inspect unclaimed essay; requeueing")
		w.requeue(msg)
		return
	}
	if essay == nil {
		log.Error().Msg("Work item references no essay record; dead-lettering")
		w.deadLetter(msg)
		return
	}

	log.Info().Str("status", essay.Status.String()).Msg("Duplicate delivery dropped")
	w.ack(msg)
}

// retry either republishes the item with a bumped attempt count or, once the
// budget is spent, fails the essay and dead-letters the message.
func (w *ProcessingWorker) retry(ctx context.Context, msg queue.Message, item *models.WorkItem, log zerolog.Logger) {
	attempt := attemptFrom(msg.Headers[dispatch.AttemptsHeader]) + 1
	if attempt >= w.maxAttempts {
		log.Error().Int("attempts", attempt).Msg("Retry budget exhausted; failing")
		w.fail(ctx, msg, item, log)
		return
	}

	// Release the claim so the redelivered item can take it again.
	if _, err := w.essays.ResetForRetry(ctx, item.AssignmentID, item.EssayID); err != nil {
		log.Error().Err(err).Msg("Failed to release essay for retry; requeueing")
		w.requeue(msg)
		return
	}

	if err := w.dispatcher.DispatchWorkRetry(ctx, item, attempt); err != nil {
		// Record is pending again; the janitor sweep will re-enqueue it.
		log.Error().Err(err).Msg("Failed to republish work item")
	}
	w.ack(msg)
}

func (w *ProcessingWorker) fail(ctx context.Context, msg queue.Message, item *models.WorkItem, log zerolog.Logger) {
	if _, err := w.essays.MarkFailed(ctx, item.AssignmentID, item.EssayID); err != nil {
		log.Error().Err(err).Msg("Failed to mark essay failed")
	}
	w.deadLetter(msg)
}

func (w *ProcessingWorker) ack(msg queue.Message) {
	if err := msg.Ack(false); err != nil {
		w.logger.Error().Err(err).Msg("Failed to ack message")
	}
}

func (w *ProcessingWorker) requeue(msg queue.Message) {
	if err := msg.Nack(false, true); err != nil {
		w.logger.Error().Err(err).Msg("Failed to nack message")
	}
}

// deadLetter rejects without requeue; the work queue's DLX routes the message
// to the dead-letter queue for inspection.
func (w *ProcessingWorker) deadLetter(msg queue.Message) {
	if err := msg.Nack(false, false); err != nil {
		w.logger.Error().Err(err).Msg("Failed to dead-letter message")
	}
}

// attemptFrom decodes the x-attempts header, whose numeric type depends on
// the publisher.
func attemptFrom(value interface{}) int {
	switch v := value.(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

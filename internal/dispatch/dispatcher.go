// Package dispatch turns pipeline records into durable queue messages.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"essaypipe/internal/models"
	"essaypipe/internal/queue"
)

// AttemptsHeader carries the delivery attempt count across retry republishes.
const AttemptsHeader = "x-attempts"

// Dispatcher publishes WorkItems for pending essays and completion events
// for processed ones. Ingestion must persist the essay record before calling
// DispatchWork so the worker's idempotency check never reads a missing row.
type Dispatcher interface {
	DispatchWork(ctx context.Context, item *models.WorkItem) error
	DispatchWorkRetry(ctx context.Context, item *models.WorkItem, attempt int) error
	DispatchCompletion(ctx context.Context, event *models.CompletionEvent) error
}

type dispatcher struct {
	publisher          queue.Publisher
	exchange           string
	workRoutingKey     string
	completionExchange string
	logger             zerolog.Logger
}

func NewDispatcher(publisher queue.Publisher, exchange, workRoutingKey, completionExchange string, logger zerolog.Logger) Dispatcher {
	return &dispatcher{
		publisher:          publisher,
		exchange:           exchange,
		workRoutingKey:     workRoutingKey,
		completionExchange: completionExchange,
		logger:             logger,
	}
}

func (d *dispatcher) DispatchWork(ctx context.Context, item *models.WorkItem) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	if err := d.publisher.Publish(ctx, d.exchange, d.workRoutingKey, body); err != nil {
		return fmt.Errorf("failed to publish work item: %w", err)
	}

	d.logger.Info().
		Str("essay_id", item.EssayID).
		Str("assignment_id", item.AssignmentID).
		Str("student_id", item.StudentID).
		Msg("Work item dispatched")

	return nil
}

// DispatchWorkRetry republishes a work item after a transient processing
// failure, stamping the attempt count so the consumer can stop retrying once
// the budget runs out.
func (d *dispatcher) DispatchWorkRetry(ctx context.Context, item *models.WorkItem, attempt int) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	headers := amqp.Table{AttemptsHeader: int32(attempt)}
	if err := d.publisher.PublishWithHeaders(ctx, d.exchange, d.workRoutingKey, body, headers); err != nil {
		return fmt.Errorf("failed to republish work item: %w", err)
	}

	d.logger.Warn().
		Str("essay_id", item.EssayID).
		Str("assignment_id", item.AssignmentID).
		Int("attempt", attempt).
		Msg("Work item requeued for retry")

	return nil
}

func (d *dispatcher) DispatchCompletion(ctx context.Context, event *models.CompletionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal completion event: %w", err)
	}

	if err := d.publisher.Publish(ctx, d.completionExchange, "", body); err != nil {
		return fmt.Errorf("failed to publish completion event: %w", err)
	}

	d.logger.Info().
		Str("essay_id", event.EssayID).
		Str("assignment_id", event.AssignmentID).
		Bool("override", event.Override).
		Msg("Completion event dispatched")

	return nil
}

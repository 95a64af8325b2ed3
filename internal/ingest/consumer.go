package ingest

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"essaypipe/internal/models"
	"essaypipe/internal/queue"
)

// UploadHandler adapts upload-queue deliveries to the unpacker. Permanent
// failures are rejected without requeue; transient ones go back on the queue.
type UploadHandler struct {
	unpacker Unpacker
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewUploadHandler(unpacker Unpacker, logger zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		unpacker: unpacker,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *UploadHandler) Handle(ctx context.Context, msg queue.Message) {
	var event models.ObjectCreatedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		h.logger.Error().Err(err).Msg("Malformed upload event; dropping")
		h.reject(msg)
		return
	}
	if err := h.validate.Struct(&event); err != nil {
		h.logger.Error().Err(err).Msg("Invalid upload event; dropping")
		h.reject(msg)
		return
	}

	result, err := h.unpacker.HandleObjectCreated(ctx, event)
	if err != nil {
		if queue.IsPermanent(err) {
			h.logger.Error().Err(err).Str("key", event.Key).Msg("Unprocessable upload; dropping")
			h.reject(msg)
			return
		}
		h.logger.Warn().Err(err).Str("key", event.Key).Msg("Upload handling failed; requeueing")
		if err := msg.Nack(false, true); err != nil {
			h.logger.Error().Err(err).Msg("Failed to nack upload event")
		}
		return
	}

	h.logger.Info().
		Str("key", event.Key).
		Int("ingested", result.Ingested).
		Int("skipped", result.Skipped).
		Msg("Upload handled")

	if err := msg.Ack(false); err != nil {
		h.logger.Error().Err(err).Msg("Failed to ack upload event")
	}
}

func (h *UploadHandler) reject(msg queue.Message) {
	if err := msg.Nack(false, false); err != nil {
		h.logger.Error().Err(err).Msg("Failed to reject upload event")
	}
}

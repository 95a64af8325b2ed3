package queue

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	PublishWithHeaders(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error
	Close() error
}

type publisher struct {
	channel *amqp.Channel
	logger  zerolog.Logger
}

func NewPublisher(channel *amqp.Channel, logger zerolog.Logger) Publisher {
	return &publisher{
		channel: channel,
		logger:  logger,
	}
}

func (p *publisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	return p.PublishWithHeaders(ctx, exchange, routingKey, body, nil)
}

func (p *publisher) PublishWithHeaders(ctx context.Context, exchange, routingKey string, body []byte, headers amqp.Table) error {
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.channel.PublishWithContext(
		publishCtx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Headers:      headers,
		},
	)
}

func (p *publisher) Close() error {
	// Channel is closed by its owner.
	p.logger.Info().Msg("Publisher closed")
	return nil
}

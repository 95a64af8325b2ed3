package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"essaypipe/internal/config"
	"essaypipe/pkg/rabbitmq"
)

// Broker owns the AMQP connection and declares the pipeline topology: the
// work exchange with its dead-lettered processing queue, the upload queue,
// and the completion fanout feeding both aggregation queues.
type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	cfg     config.RabbitMQConfig
	logger  zerolog.Logger
}

func NewBroker(cfg config.RabbitMQConfig, logger zerolog.Logger) (*Broker, error) {
	conn, err := rabbitmq.NewConnection(cfg.URL)
	if err != nil {
		return nil, err
	}

	channel, err := rabbitmq.NewChannel(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	broker := &Broker{
		conn:    conn,
		channel: channel,
		cfg:     cfg,
		logger:  logger,
	}

	if err := broker.setup(); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	logger.Info().
		Str("exchange", cfg.Exchange).
		Str("work_queue", cfg.WorkQueue).
		Str("dead_letter_queue", cfg.DeadLetterQueue).
		Msg("Connected to RabbitMQ")

	return broker, nil
}

func (b *Broker) setup() error {
	if err := b.channel.ExchangeDeclare(
		b.cfg.Exchange, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := b.channel.ExchangeDeclare(
		b.cfg.DeadLetterExchange, "direct", true, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
	}

	if err := b.channel.ExchangeDeclare(
		b.cfg.CompletionExchange, "fanout", true, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("failed to declare completion exchange: %w", err)
	}

	// Every consumer queue dead-letters rejected messages to the DLX: a
	// malformed payload nacked without requeue must land in the dead-letter
	// queue, not evaporate.
	if _, err := b.channel.QueueDeclare(
		b.cfg.WorkQueue, // name
		true,            // durable
		false,           // delete when unused
		false,           // exclusive
		false,           // no-wait
		deadLetterArgs(b.cfg),
	); err != nil {
		return fmt.Errorf("failed to declare work queue: %w", err)
	}

	if err := b.channel.QueueBind(b.cfg.WorkQueue, b.cfg.WorkRoutingKey, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind work queue: %w", err)
	}

	if _, err := b.channel.QueueDeclare(b.cfg.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}

	if err := b.channel.QueueBind(b.cfg.DeadLetterQueue, b.cfg.WorkRoutingKey, b.cfg.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue: %w", err)
	}

	if _, err := b.channel.QueueDeclare(b.cfg.UploadQueue, true, false, false, false, deadLetterArgs(b.cfg)); err != nil {
		return fmt.Errorf("failed to declare upload queue: %w", err)
	}

	if err := b.channel.QueueBind(b.cfg.UploadQueue, b.cfg.UploadRoutingKey, b.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind upload queue: %w", err)
	}

	for _, queue := range []string{b.cfg.ClassMetricsQueue, b.cfg.StudentMetricsQueue} {
		if _, err := b.channel.QueueDeclare(queue, true, false, false, false, deadLetterArgs(b.cfg)); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		if err := b.channel.QueueBind(queue, "", b.cfg.CompletionExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", queue, err)
		}
	}

	return nil
}

// deadLetterArgs routes a queue's rejected messages to the dead-letter queue
// via the DLX. The routing key is pinned so every queue shares the one DLQ
// binding.
func deadLetterArgs(cfg config.RabbitMQConfig) amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    cfg.DeadLetterExchange,
		"x-dead-letter-routing-key": cfg.WorkRoutingKey,
	}
}

// Channel returns the shared channel used to build publishers and consumers.
func (b *Broker) Channel() *amqp.Channel {
	return b.channel
}

// NewChannel opens a dedicated channel, one per consumer so each gets its own
// Qos window.
func (b *Broker) NewChannel() (*amqp.Channel, error) {
	return rabbitmq.NewChannel(b.conn)
}

func (b *Broker) Close() error {
	if b.channel != nil {
		if err := b.channel.Close(); err != nil {
			b.logger.Error().Err(err).Msg("Failed to close RabbitMQ channel")
		}
	}

	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			b.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	return nil
}

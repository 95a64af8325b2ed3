package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"essaypipe/internal/config"
)

// Rejected messages on any consumer queue must reach the dead-letter queue,
// so every declaration carries the DLX arguments with the routing key the DLQ
// is bound under.
func TestDeadLetterArgs(t *testing.T) {
	cfg := config.RabbitMQConfig{
		DeadLetterExchange: "essay_dlx",
		WorkRoutingKey:     "essay.created",
	}

	args := deadLetterArgs(cfg)

	assert.Equal(t, "essay_dlx", args["x-dead-letter-exchange"])
	assert.Equal(t, "essay.created", args["x-dead-letter-routing-key"])
}

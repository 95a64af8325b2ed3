package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// No config file in the test directory, so Load returns the defaults.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8084", cfg.Server.Address)
	assert.Equal(t, 4, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 85, cfg.Pipeline.MatchThreshold)
	assert.Equal(t, []string{".txt", ".text", ".md"}, cfg.Pipeline.TextExtensions)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.AggregateWindow)
	assert.Equal(t, "essay_processing_queue", cfg.RabbitMQ.WorkQueue)
	assert.Equal(t, "essay_dlx", cfg.RabbitMQ.DeadLetterExchange)
}

// The aggregation consumers hold a whole debounce window's deliveries unacked,
// so their prefetch must default well past one.
func TestLoad_AggregatePrefetchDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Pipeline.AggregatePrefetch)
	assert.Greater(t, cfg.Pipeline.AggregatePrefetch, 1)
}

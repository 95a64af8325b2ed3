package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"essaypipe/internal/queue"
)

// Handler processes one delivery, including its ack or nack.
type Handler func(ctx context.Context, msg queue.Message)

// Pool fans a consumer's message channel out to a fixed set of goroutines.
// A panicking handler loses only its own delivery.
type Pool struct {
	name    string
	workers int
	handler Handler
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

func NewPool(name string, workers int, handler Handler, logger zerolog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		name:    name,
		workers: workers,
		handler: handler,
		logger:  logger,
	}
}

// Run starts the workers; they exit when messages is closed. Call Wait to
// block until in-flight handlers finish.
func (p *Pool) Run(ctx context.Context, messages <-chan queue.Message) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i, messages)
	}

	p.logger.Info().
		Str("pool", p.name).
		Int("workers", p.workers).
		Msg("Worker pool started")
}

func (p *Pool) work(ctx context.Context, id int, messages <-chan queue.Message) {
	defer p.wg.Done()

	for msg := range messages {
		p.safeHandle(ctx, id, msg)
	}

	p.logger.Debug().Str("pool", p.name).Int("worker", id).Msg("Worker stopped")
}

func (p *Pool) safeHandle(ctx context.Context, id int, msg queue.Message) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("pool", p.name).
				Int("worker", id).
				Interface("panic", r).
				Msg("Handler panicked; dead-lettering message")
			if err := msg.Nack(false, false); err != nil {
				p.logger.Error().Err(err).Msg("Failed to nack after panic")
			}
		}
	}()

	p.handler(ctx, msg)
}

func (p *Pool) Wait() {
	p.wg.Wait()
	p.logger.Info().Str("pool", p.name).Msg("Worker pool drained")
}

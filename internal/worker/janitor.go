package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"essaypipe/internal/dispatch"
	"essaypipe/internal/models"
	"essaypipe/internal/repository"
)

// Janitor periodically reclaims essays abandoned in processing, typically by
// a worker crash between the claim and the terminal write. Reclaimed records
// go back to pending and get a fresh work item; records past their reset
// budget are failed instead. This sweep is the only path that moves a record
// backwards.
type Janitor struct {
	essays       repository.EssayRepository
	dispatcher   dispatch.Dispatcher
	stuckTimeout time.Duration
	sweepEvery   time.Duration
	maxResets    int
	logger       zerolog.Logger
}

func NewJanitor(
	essays repository.EssayRepository,
	dispatcher dispatch.Dispatcher,
	stuckTimeout, sweepEvery time.Duration,
	maxResets int,
	logger zerolog.Logger,
) *Janitor {
	return &Janitor{
		essays:       essays,
		dispatcher:   dispatcher,
		stuckTimeout: stuckTimeout,
		sweepEvery:   sweepEvery,
		maxResets:    maxResets,
		logger:       logger,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.sweepEvery)
	defer ticker.Stop()

	j.logger.Info().
		Dur("stuck_timeout", j.stuckTimeout).
		Dur("sweep_every", j.sweepEvery).
		Msg("Janitor started")

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("Janitor stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep performs one reclamation pass.
func (j *Janitor) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.stuckTimeout)

	requeued, failed, err := j.essays.ResetStuck(ctx, cutoff, j.maxResets)
	if err != nil {
		j.logger.Error().Err(err).Msg("Stuck-essay sweep failed")
		return
	}

	for i := range failed {
		j.logger.Error().
			Str("assignment_id", failed[i].AssignmentID).
			Str("essay_id", failed[i].EssayID).
			Int("attempts", failed[i].Attempts).
			Msg("Stuck essay failed after exhausting resets")
	}

	for i := range requeued {
		essay := &requeued[i]
		item := &models.WorkItem{
			TeacherID:    essay.TeacherID,
			AssignmentID: essay.AssignmentID,
			StudentID:    essay.StudentID,
			EssayID:      essay.EssayID,
		}
		// Stamp the attempt count so the consumer's budget still applies.
		if err := j.dispatcher.DispatchWorkRetry(ctx, item, essay.Attempts); err != nil {
			// Still pending; the next sweep finds it again once it ages past
			// the cutoff.
			j.logger.Error().Err(err).
				Str("essay_id", essay.EssayID).
				Msg("Failed to re-enqueue reclaimed essay")
		}
	}

	// Pending records older than the cutoff lost their work item somewhere;
	// publish a fresh one. Extra deliveries collapse at the processing claim.
	stale, err := j.essays.ListStalePending(ctx, cutoff)
	if err != nil {
		j.logger.Error().Err(err).Msg("Stale-pending scan failed")
		stale = nil
	}
	for i := range stale {
		essay := &stale[i]
		item := &models.WorkItem{
			TeacherID:    essay.TeacherID,
			AssignmentID: essay.AssignmentID,
			StudentID:    essay.StudentID,
			EssayID:      essay.EssayID,
		}
		if err := j.dispatcher.DispatchWorkRetry(ctx, item, essay.Attempts); err != nil {
			j.logger.Error().Err(err).
				Str("essay_id", essay.EssayID).
				Msg("Failed to re-enqueue stale pending essay")
		}
	}

	if len(requeued) > 0 || len(failed) > 0 || len(stale) > 0 {
		j.logger.Info().
			Int("requeued", len(requeued)).
			Int("failed", len(failed)).
			Int("stale_pending", len(stale)).
			Msg("Stuck-essay sweep completed")
	}
}

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"property-analysis/internal/domain"
	"property-analysis/internal/eventbus"
	"property-analysis/internal/jobstore"
	"property-analysis/internal/telemetry"
)

// Canceller stops a job on behalf of its owner: terminate the process
// if one is running here, record the cancelled state, tell viewers.
type Canceller struct {
	store   *jobstore.Store
	bus     *eventbus.Bus
	handles *HandleRegistry
	logger  *slog.Logger
}

func NewCanceller(store *jobstore.Store, bus *eventbus.Bus, handles *HandleRegistry, logger *slog.Logger) *Canceller {
	return &Canceller{
		store:   store,
		bus:     bus,
		handles: handles,
		logger:  logger,
	}
}

// Cancel is idempotent: cancelling a job that already reached a
// terminal state succeeds without changing anything.
func (c *Canceller) Cancel(ctx context.Context, jobID string, requester domain.Identity) error {
	job, err := c.store.Get(ctx, jobID, requester)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	// Record the terminal state first so the supervisor sees it when
	// the process exits; only then signal the process.
	if err := c.store.Cancel(ctx, jobID); err != nil {
		// Lost the race against process completion; the job is done
		// either way.
		if errors.Is(err, domain.ErrInvalidTransition) {
			return nil
		}
		return err
	}

	if c.handles.Terminate(jobID) {
		c.logger.Info("Sent termination signal to analyzer", slog.String("job_id", jobID))
	}

	telemetry.JobsCancelled.Inc()
	c.bus.Publish(domain.ProgressEvent{
		JobID:     jobID,
		UserID:    job.UserID,
		Kind:      domain.EventComplete,
		Status:    domain.JobStatusCancelled,
		Message:   "Analysis cancelled",
		Timestamp: time.Now().UTC(),
	})
	c.logger.Info("Job cancelled", slog.String("job_id", jobID))
	return nil
}

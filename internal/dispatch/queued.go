package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"property-analysis/internal/domain"
	"property-analysis/internal/eventbus"
	"property-analysis/internal/jobstore"
	"property-analysis/shared/rabbitmq"
)

// Queued publishes analysis commands to RabbitMQ for the worker service
// to execute. With a fallback configured, a broker outage degrades to
// in-process execution instead of failing the submission.
type Queued struct {
	rabbit   *rabbitmq.Client
	fallback *Direct
	store    *jobstore.Store
	bus      *eventbus.Bus
	logger   *slog.Logger
}

func NewQueued(rabbit *rabbitmq.Client, fallback *Direct, store *jobstore.Store, bus *eventbus.Bus, logger *slog.Logger) *Queued {
	return &Queued{
		rabbit:   rabbit,
		fallback: fallback,
		store:    store,
		bus:      bus,
		logger:   logger,
	}
}

func (q *Queued) Dispatch(ctx context.Context, job *domain.Job, cmd domain.AnalysisCommand) error {
	body, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	if err := q.rabbit.PublishWithRetry(ctx, body, "application/json"); err != nil {
		if q.fallback != nil {
			q.logger.Warn("Queue publish failed, running analysis directly",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
			return q.fallback.Dispatch(ctx, job, cmd)
		}
		q.logger.Error("Queue publish failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		if ferr := q.store.Fail(ctx, job.ID, "failed to enqueue analysis"); ferr != nil {
			q.logger.Error("Failed to mark job failed",
				slog.String("job_id", job.ID),
				slog.String("error", ferr.Error()))
		}
		return err
	}

	q.logger.Info("Analysis command enqueued", slog.String("job_id", job.ID))
	return nil
}

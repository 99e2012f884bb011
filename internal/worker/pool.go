package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"property-analysis/internal/domain"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine. The
// message is acknowledged only after the job reached a terminal state,
// so a worker crash mid-analysis requeues the command.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.logger.Info("Worker received job",
				slog.String("worker_name", workerName),
				slog.String("job_id", msg.Command.JobID),
				slog.Uint64("delivery_tag", msg.DeliveryTag),
			)

			err := w.runJob(ctx, msg)

			channel := w.rabbitClient.GetChannel()
			if channel == nil {
				w.logger.Error("Failed to get RabbitMQ channel for ACK/NACK",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Command.JobID),
				)
				continue
			}

			if err != nil {
				w.logger.Error("Job processing failed",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Command.JobID),
					slog.String("error", err.Error()),
				)

				// Process failures are terminal in the job record; a
				// requeue would rerun an analysis already marked
				// failed. Only a job that never loaded gets retried
				// elsewhere.
				requeue := errors.Is(err, domain.ErrJobNotFound)

				if nackErr := channel.Nack(msg.DeliveryTag, false, requeue); nackErr != nil {
					w.logger.Error("Failed to NACK message",
						slog.String("worker_name", workerName),
						slog.String("job_id", msg.Command.JobID),
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if ackErr := channel.Ack(msg.DeliveryTag, false); ackErr != nil {
				w.logger.Error("Failed to ACK message",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Command.JobID),
					slog.String("error", ackErr.Error()),
				)
			} else {
				w.logger.Info("Job finished",
					slog.String("worker_name", workerName),
					slog.String("job_id", msg.Command.JobID),
				)
			}
		}
	}
}

// runJob rehydrates the job record from the shared data directory and
// supervises the analyzer to completion.
func (w *Worker) runJob(ctx context.Context, msg *jobMessage) error {
	job, err := w.store.Get(ctx, msg.Command.JobID, domain.Identity{Admin: true})
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	if job.Status.Terminal() {
		// Cancelled or already finished while queued; nothing to run.
		w.logger.Info("Skipping job in terminal state",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return nil
	}

	return w.runner.Run(ctx, job, msg.Command)
}

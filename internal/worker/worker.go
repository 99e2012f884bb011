package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"property-analysis/internal/dispatch"
	"property-analysis/internal/jobstore"
	"property-analysis/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Store         *jobstore.Store
	Runner        *dispatch.Direct
	RabbitClient  *rabbitmq.Client
	Concurrency   int
	PrefetchCount int
}

// Worker consumes analysis commands from the queue and supervises the
// analyzer processes on this host.
type Worker struct {
	logger        *slog.Logger
	store         *jobstore.Store
	runner        *dispatch.Direct
	rabbitClient  *rabbitmq.Client
	concurrency   int
	prefetchCount int
	workerID      string
	jobsChan      chan *jobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:        cfg.Logger,
		store:         cfg.Store,
		runner:        cfg.Runner,
		rabbitClient:  cfg.RabbitClient,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		workerID:      "worker-" + uuid.New().String()[:8],
		jobsChan:      make(chan *jobMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and blocks until ctx is canceled or the
// delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

package dispatch

import (
	"context"
	"log/slog"

	"property-analysis/internal/config"
	"property-analysis/internal/domain"
	"property-analysis/internal/eventbus"
	"property-analysis/internal/jobstore"
	"property-analysis/shared/rabbitmq"
)

// Dispatcher hands a staged job to the analyzer. The two
// implementations share this contract and are selected once at startup
// from configuration: Direct supervises the process in this service,
// Queued defers to the worker service through RabbitMQ.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *domain.Job, cmd domain.AnalysisCommand) error
}

// NewDispatcher builds the dispatcher for the configured mode. rabbit
// may be nil in direct mode.
func NewDispatcher(
	cfg *config.Config,
	store *jobstore.Store,
	bus *eventbus.Bus,
	handles *HandleRegistry,
	rabbit *rabbitmq.Client,
	logger *slog.Logger,
) Dispatcher {
	direct := NewDirect(cfg.Analysis, store, bus, handles, logger)

	if cfg.Dispatch.Mode == config.DispatchQueued {
		var fallback *Direct
		if cfg.Dispatch.FallbackToDirect {
			fallback = direct
		}
		return NewQueued(rabbit, fallback, store, bus, logger)
	}

	return direct
}

package handler

import (
	"log/slog"

	"property-analysis/internal/config"
	"property-analysis/internal/dispatch"
	"property-analysis/internal/eventbus"
	"property-analysis/internal/jobstore"
	"property-analysis/internal/stager"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Config     *config.Config
	Store      *jobstore.Store
	Stager     *stager.Stager
	Dispatcher dispatch.Dispatcher
	Canceller  *dispatch.Canceller
	Bus        *eventbus.Bus
}

// JobHandler handles analysis job HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	cfg        *config.Config
	store      *jobstore.Store
	stager     *stager.Stager
	dispatcher dispatch.Dispatcher
	canceller  *dispatch.Canceller
	bus        *eventbus.Bus
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		cfg:        deps.Config,
		store:      deps.Store,
		stager:     deps.Stager,
		dispatcher: deps.Dispatcher,
		canceller:  deps.Canceller,
		bus:        deps.Bus,
	}
}

package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"property-analysis/internal/config"
	"property-analysis/internal/domain"
	"property-analysis/internal/eventbus"
	"property-analysis/internal/jobstore"
	"property-analysis/internal/telemetry"
)

// maxOutputLine caps one stdout line from the analyzer; anything
// longer is opaque log output, not a progress marker.
const maxOutputLine = 1 << 20

// Direct runs the analyzer as a child process of this service and
// supervises it to completion: progress markers on stdout become viewer
// events, exit status decides the terminal job state.
type Direct struct {
	analysis config.AnalysisConfig
	store    *jobstore.Store
	bus      *eventbus.Bus
	handles  *HandleRegistry
	logger   *slog.Logger
}

func NewDirect(analysis config.AnalysisConfig, store *jobstore.Store, bus *eventbus.Bus, handles *HandleRegistry, logger *slog.Logger) *Direct {
	return &Direct{
		analysis: analysis,
		store:    store,
		bus:      bus,
		handles:  handles,
		logger:   logger,
	}
}

// Dispatch starts supervision in the background and returns immediately
// so the submit request can respond. Supervision deliberately detaches
// from the request context; an aborted upload response must not kill a
// running analysis.
func (d *Direct) Dispatch(_ context.Context, job *domain.Job, cmd domain.AnalysisCommand) error {
	go func() {
		if err := d.Run(context.Background(), job, cmd); err != nil {
			d.logger.Error("Analysis run ended with error",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Run supervises one analyzer process synchronously. Queue consumers
// call it directly so the message is only acknowledged once the job
// reached a terminal state.
func (d *Direct) Run(ctx context.Context, job *domain.Job, cmd domain.AnalysisCommand) error {
	// A cancel may have landed between submission and this point.
	current, err := d.store.Get(ctx, job.ID, domain.Identity{Admin: true})
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return nil
	}

	if err := d.store.MarkProcessing(ctx, job.ID); err != nil {
		return err
	}
	d.bus.Publish(domain.ProgressEvent{
		JobID:     job.ID,
		UserID:    job.UserID,
		Kind:      domain.EventStatus,
		Status:    domain.JobStatusProcessing,
		Timestamp: time.Now().UTC(),
	})

	runCtx := ctx
	if d.analysis.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d.analysis.Timeout)
		defer cancel()
	}

	args := append([]string{d.analysis.Script}, cmd.Args()...)
	proc := exec.CommandContext(runCtx, d.analysis.Interpreter, args...)

	var stderr bytes.Buffer
	proc.Stderr = &stderr
	stdout, err := proc.StdoutPipe()
	if err != nil {
		d.fail(ctx, job, "failed to start analysis process")
		return err
	}

	if err := proc.Start(); err != nil {
		d.logger.Error("Failed to spawn analyzer",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		d.fail(ctx, job, "failed to start analysis process")
		return err
	}

	d.handles.Put(job.ID, proc.Process)
	telemetry.ProcessesRunning.Inc()
	defer func() {
		d.handles.Remove(job.ID)
		telemetry.ProcessesRunning.Dec()
	}()

	guard := &progressGuard{}
	stopMilestones := make(chan struct{})
	go d.emitMilestones(job, guard, stopMilestones)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxOutputLine)
	for scanner.Scan() {
		percent, message, ok := ParseProgressLine(scanner.Text())
		if !ok {
			continue
		}
		d.advance(job, guard, percent, message)
	}
	if serr := scanner.Err(); serr != nil {
		// Scanning stopped early (an over-long log line, usually).
		// Keep draining stdout so the process never blocks on a full
		// pipe; later markers are lost but the exit status still
		// decides the outcome.
		d.logger.Warn("Stopped scanning analyzer output",
			slog.String("job_id", job.ID),
			slog.String("error", serr.Error()))
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := proc.Wait()
	close(stopMilestones)

	// A cancel may have terminated the process while we were scanning.
	// The store already holds the terminal state in that case; nothing
	// further to report.
	if current, err := d.store.Get(ctx, job.ID, domain.Identity{Admin: true}); err == nil && current.Status.Terminal() {
		return nil
	}

	if waitErr != nil {
		d.logger.Error("Analysis process failed",
			slog.String("job_id", job.ID),
			slog.String("error", waitErr.Error()),
			slog.String("stderr", truncate(stderr.String(), 4096)))
		d.fail(ctx, job, "analysis process failed")
		return waitErr
	}

	outputs := BuildManifest(job.ID, cmd.OutputDir)
	if err := d.store.Complete(ctx, job.ID, outputs); err != nil {
		return err
	}
	telemetry.JobsCompleted.Inc()
	d.bus.Publish(domain.ProgressEvent{
		JobID:     job.ID,
		UserID:    job.UserID,
		Kind:      domain.EventComplete,
		Status:    domain.JobStatusCompleted,
		Progress:  100,
		Message:   "Analysis complete",
		Outputs:   outputs,
		Timestamp: time.Now().UTC(),
	})
	d.logger.Info("Analysis completed",
		slog.String("job_id", job.ID),
		slog.Int("outputs", len(outputs)))
	return nil
}

// emitMilestones pushes the synthetic progress sequence on a fixed
// cadence. Real markers from the process win: the shared guard skips
// any milestone the job has already passed.
func (d *Direct) emitMilestones(job *domain.Job, guard *progressGuard, stop <-chan struct{}) {
	interval := d.analysis.MilestoneInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for _, m := range syntheticMilestones {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.advance(job, guard, m.Percent, m.Message)
		}
	}
}

func (d *Direct) advance(job *domain.Job, guard *progressGuard, percent int, message string) {
	if !guard.advance(percent) {
		return
	}
	applied, err := d.store.UpdateProgress(context.Background(), job.ID, percent)
	if err != nil {
		d.logger.Warn("Failed to record progress",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}
	// The store refuses writes once the job is terminal; a late marker
	// from a cancelled process must not reach viewers either.
	if !applied {
		return
	}
	d.bus.Publish(domain.ProgressEvent{
		JobID:     job.ID,
		UserID:    job.UserID,
		Kind:      domain.EventProgress,
		Status:    domain.JobStatusProcessing,
		Progress:  percent,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// fail records the terminal state with a sanitized message. Process
// internals stay in the server log, never in the job record or events.
func (d *Direct) fail(ctx context.Context, job *domain.Job, message string) {
	if err := d.store.Fail(ctx, job.ID, message); err != nil {
		d.logger.Error("Failed to mark job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()))
		return
	}
	telemetry.JobsFailed.Inc()
	d.bus.Publish(domain.ProgressEvent{
		JobID:     job.ID,
		UserID:    job.UserID,
		Kind:      domain.EventError,
		Status:    domain.JobStatusFailed,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

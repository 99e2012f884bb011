package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-analysis/internal/config"
	"property-analysis/internal/domain"
	"property-analysis/internal/eventbus"
	"property-analysis/internal/jobstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *jobstore.Store {
	t.Helper()
	store, err := jobstore.NewStore(t.TempDir(), nil, testLogger())
	require.NoError(t, err)
	return store
}

func testJob(id, owner string) *domain.Job {
	return &domain.Job{
		ID:        id,
		UserID:    owner,
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now(),
		Files: []domain.JobFile{
			{ID: "f1", JobID: id, Role: domain.RoleRentRoll, OriginalName: "rentroll.xlsx"},
		},
	}
}

// writeScript saves a shell script the supervisor runs in place of the
// analyzer. The interpreter is /bin/sh and the script path takes the
// analyzer script's slot, so Args() flags arrive as ignored positionals.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analyzer.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newDirect(t *testing.T, store *jobstore.Store, bus *eventbus.Bus, script string) *Direct {
	t.Helper()
	cfg := config.AnalysisConfig{
		Interpreter: "/bin/sh",
		Script:      script,
		// Long enough that no synthetic milestone fires during a test.
		MilestoneInterval: time.Minute,
	}
	return NewDirect(cfg, store, bus, NewHandleRegistry(), testLogger())
}

func TestDirect_RunSuccess(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	bus := eventbus.New(16, testLogger())

	job := testJob("job-ok", "alice")
	require.NoError(t, store.Create(ctx, job))
	outDir := store.OutputDir(job.ID)
	require.NoError(t, os.MkdirAll(outDir, 0o755))

	script := writeScript(t, fmt.Sprintf(
		"echo 'PROGRESS: 30 Extracting document data'\n"+
			"echo 'PROGRESS: 80 Generating reports'\n"+
			"echo not a marker\n"+
			"touch %s/integratedData.json %s/analysisReport.pdf\n", outDir, outDir))

	_, events := bus.Subscribe("alice")

	cmd := domain.AnalysisCommand{JobID: job.ID, UserID: job.UserID, OutputDir: outDir}
	require.NoError(t, newDirect(t, store, bus, script).Run(ctx, job, cmd))

	got, err := store.Get(ctx, job.ID, domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, fmt.Sprintf("/api/v1/analysis/%s/files/integratedData.json", job.ID), got.Outputs["integrated_data"])
	assert.Equal(t, fmt.Sprintf("/api/v1/analysis/%s/files/analysisReport.pdf", job.ID), got.Outputs["analysis_report"])
	assert.NotContains(t, got.Outputs, "pitch_deck")

	var kinds []domain.EventKind
	var percents []int
	for len(events) > 0 {
		ev := <-events
		kinds = append(kinds, ev.Kind)
		if ev.Kind == domain.EventProgress {
			percents = append(percents, ev.Progress)
		}
	}
	assert.Equal(t, []domain.EventKind{domain.EventStatus, domain.EventProgress, domain.EventProgress, domain.EventComplete}, kinds)
	assert.Equal(t, []int{30, 80}, percents)
}

func TestDirect_RunFailureSanitizesError(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	bus := eventbus.New(16, testLogger())

	job := testJob("job-boom", "alice")
	require.NoError(t, store.Create(ctx, job))

	script := writeScript(t, "echo 'KeyError: unit_mix at analyzer.py:214' >&2\nexit 3\n")

	_, events := bus.Subscribe("alice")

	cmd := domain.AnalysisCommand{JobID: job.ID, UserID: job.UserID, OutputDir: store.OutputDir(job.ID)}
	err := newDirect(t, store, bus, script).Run(ctx, job, cmd)
	require.Error(t, err)

	got, gerr := store.Get(ctx, job.ID, domain.Identity{ID: "alice"})
	require.NoError(t, gerr)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "analysis process failed", got.Error)
	assert.NotContains(t, got.Error, "KeyError")

	<-events // status
	ev := <-events
	assert.Equal(t, domain.EventError, ev.Kind)
	assert.Equal(t, "analysis process failed", ev.Message)
}

func TestDirect_RunSpawnFailure(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	bus := eventbus.New(16, testLogger())

	job := testJob("job-nospawn", "alice")
	require.NoError(t, store.Create(ctx, job))

	cfg := config.AnalysisConfig{
		Interpreter:       filepath.Join(t.TempDir(), "missing-interpreter"),
		Script:            "analyzer.py",
		MilestoneInterval: time.Minute,
	}
	direct := NewDirect(cfg, store, bus, NewHandleRegistry(), testLogger())

	cmd := domain.AnalysisCommand{JobID: job.ID, UserID: job.UserID, OutputDir: store.OutputDir(job.ID)}
	require.Error(t, direct.Run(ctx, job, cmd))

	got, err := store.Get(ctx, job.ID, domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "failed to start analysis process", got.Error)
}

func TestDirect_CancelSuppressesLateMarkers(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	bus := eventbus.New(16, testLogger())
	handles := NewHandleRegistry()

	job := testJob("job-late", "alice")
	require.NoError(t, store.Create(ctx, job))
	outDir := store.OutputDir(job.ID)
	require.NoError(t, os.MkdirAll(outDir, 0o755))

	// The analyzer shrugs off SIGTERM, outlives the cancel and emits
	// one more marker before exiting on its own.
	started := filepath.Join(outDir, "started")
	script := writeScript(t,
		"trap '' TERM\n"+
			"touch "+started+"\n"+
			"sleep 1\n"+
			"echo 'PROGRESS: 90 Generating reports'\n")

	cfg := config.AnalysisConfig{Interpreter: "/bin/sh", Script: script, MilestoneInterval: time.Minute}
	direct := NewDirect(cfg, store, bus, handles, testLogger())
	canceller := NewCanceller(store, bus, handles, testLogger())

	_, events := bus.Subscribe("alice")

	cmd := domain.AnalysisCommand{JobID: job.ID, UserID: job.UserID, OutputDir: outDir}
	done := make(chan error, 1)
	go func() { done <- direct.Run(ctx, job, cmd) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(started)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "analyzer never started")

	require.NoError(t, canceller.Cancel(ctx, job.ID, domain.Identity{ID: "alice"}))
	require.NoError(t, <-done)

	got, err := store.Get(ctx, job.ID, domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.Equal(t, 0, got.Progress)

	sawCancelled := false
	for len(events) > 0 {
		ev := <-events
		assert.NotEqual(t, domain.EventProgress, ev.Kind, "no progress may reach viewers once cancelled")
		if ev.Kind == domain.EventComplete && ev.Status == domain.JobStatusCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled, "viewers must see the cancelled event")
}

func TestDirect_OversizedOutputLineDoesNotStall(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	bus := eventbus.New(16, testLogger())

	job := testJob("job-chatty", "alice")
	require.NoError(t, store.Create(ctx, job))
	outDir := store.OutputDir(job.ID)
	require.NoError(t, os.MkdirAll(outDir, 0o755))

	// A 2 MiB line overflows the scanner; the run must still drain
	// stdout and finish on the process exit status.
	script := writeScript(t,
		"head -c 2097152 /dev/zero | tr '\\0' 'x'\n"+
			"echo\n"+
			"touch "+outDir+"/processing_results.json\n")

	cmd := domain.AnalysisCommand{JobID: job.ID, UserID: job.UserID, OutputDir: outDir}
	require.NoError(t, newDirect(t, store, bus, script).Run(ctx, job, cmd))

	got, err := store.Get(ctx, job.ID, domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Contains(t, got.Outputs, "processing_results")
}

func TestDirect_StaleMarkerDoesNotRegress(t *testing.T) {
	ctx := context.Background()
	store := testStore(t)
	bus := eventbus.New(16, testLogger())

	job := testJob("job-mono", "alice")
	require.NoError(t, store.Create(ctx, job))
	outDir := store.OutputDir(job.ID)
	require.NoError(t, os.MkdirAll(outDir, 0o755))

	script := writeScript(t,
		"echo 'PROGRESS: 60 Building financial models'\n"+
			"echo 'PROGRESS: 40 Extracting document data'\n"+
			"touch "+outDir+"/processing_results.json\n")

	_, events := bus.Subscribe("alice")

	cmd := domain.AnalysisCommand{JobID: job.ID, UserID: job.UserID, OutputDir: outDir}
	require.NoError(t, newDirect(t, store, bus, script).Run(ctx, job, cmd))

	var percents []int
	for len(events) > 0 {
		if ev := <-events; ev.Kind == domain.EventProgress {
			percents = append(percents, ev.Progress)
		}
	}
	assert.Equal(t, []int{60}, percents, "the stale 40 marker must be swallowed")
}

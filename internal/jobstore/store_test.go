package jobstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-analysis/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, sink Sink) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), sink, testLogger())
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

func TestStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	job := testJob("job-1", "alice")
	require.NoError(t, store.Create(ctx, job))

	t.Run("owner can read", func(t *testing.T) {
		got, err := store.Get(ctx, "job-1", domain.Identity{ID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, "job-1", got.ID)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.Len(t, got.Files, 1)
	})

	t.Run("other identity denied", func(t *testing.T) {
		_, err := store.Get(ctx, "job-1", domain.Identity{ID: "bob"})
		assert.ErrorIs(t, err, domain.ErrAccessDenied)
	})

	t.Run("admin bypasses ownership", func(t *testing.T) {
		got, err := store.Get(ctx, "job-1", domain.Identity{ID: "ops", Admin: true})
		require.NoError(t, err)
		assert.Equal(t, "alice", got.UserID)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := store.Get(ctx, "missing", domain.Identity{ID: "alice"})
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("duplicate create rejected", func(t *testing.T) {
		err := store.Create(ctx, testJob("job-1", "alice"))
		assert.ErrorIs(t, err, domain.ErrJobExists)
	})
}

func TestStore_CreateRollsBackOnPersistFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	// A regular file where the job dir belongs makes the initial
	// persist fail.
	blocker := store.JobDir("job-1")
	require.NoError(t, os.WriteFile(blocker, []byte("in the way"), 0o644))

	err := store.Create(ctx, testJob("job-1", "alice"))
	require.Error(t, err)

	_, err = store.Get(ctx, "job-1", domain.Identity{ID: "alice"})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	// Once the obstruction is gone the same id is usable again.
	require.NoError(t, os.Remove(blocker))
	require.NoError(t, store.Create(ctx, testJob("job-1", "alice")))

	got, err := store.Get(ctx, "job-1", domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
}

func TestStore_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewStore(dir, nil, testLogger())
	require.NoError(t, err)

	require.NoError(t, store.Create(ctx, testJob("job-1", "alice")))
	require.NoError(t, store.MarkProcessing(ctx, "job-1"))
	_, err = store.UpdateProgress(ctx, "job-1", 42)
	require.NoError(t, err)

	// A fresh store over the same data dir simulates a process restart.
	reloaded, err := NewStore(dir, nil, testLogger())
	require.NoError(t, err)

	got, err := reloaded.Get(ctx, "job-1", domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, got.Status)
	assert.Equal(t, 42, got.Progress)
}

func TestStore_ProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	require.NoError(t, store.Create(ctx, testJob("job-1", "alice")))
	require.NoError(t, store.MarkProcessing(ctx, "job-1"))

	applied, err := store.UpdateProgress(ctx, "job-1", 42)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.UpdateProgress(ctx, "job-1", 25)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := store.Get(ctx, "job-1", domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)
}

func TestStore_TerminalStateFreezesWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	require.NoError(t, store.Create(ctx, testJob("job-1", "alice")))
	require.NoError(t, store.MarkProcessing(ctx, "job-1"))

	outputs := map[string]string{"analysis_report": "/files/analysisReport.pdf"}
	require.NoError(t, store.Complete(ctx, "job-1", outputs))

	// Further writes are refused once terminal.
	applied, err := store.UpdateProgress(ctx, "job-1", 10)
	require.NoError(t, err)
	assert.False(t, applied)
	require.NoError(t, store.Fail(ctx, "job-1", "late failure"))

	got, err := store.Get(ctx, "job-1", domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Empty(t, got.Error)
	assert.Equal(t, outputs, got.Outputs)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.Files[0].Processed)
}

func TestStore_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("from processing", func(t *testing.T) {
		store := newTestStore(t, nil)
		require.NoError(t, store.Create(ctx, testJob("job-1", "alice")))
		require.NoError(t, store.MarkProcessing(ctx, "job-1"))

		require.NoError(t, store.Cancel(ctx, "job-1"))

		got, err := store.Get(ctx, "job-1", domain.Identity{ID: "alice"})
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCancelled, got.Status)
		assert.NotNil(t, got.CancelledAt)
		assert.Nil(t, got.FailedAt)
	})

	t.Run("second cancel reports invalid transition", func(t *testing.T) {
		store := newTestStore(t, nil)
		require.NoError(t, store.Create(ctx, testJob("job-1", "alice")))
		require.NoError(t, store.Cancel(ctx, "job-1"))

		err := store.Cancel(ctx, "job-1")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("cancel after completion is rejected", func(t *testing.T) {
		store := newTestStore(t, nil)
		require.NoError(t, store.Create(ctx, testJob("job-1", "alice")))
		require.NoError(t, store.Complete(ctx, "job-1", nil))

		err := store.Cancel(ctx, "job-1")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		got, gerr := store.Get(ctx, "job-1", domain.Identity{ID: "alice"})
		require.NoError(t, gerr)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
	})
}

// failingSink always errors; the store must swallow it.
type failingSink struct{}

func (failingSink) RecordStart(context.Context, *domain.Job) error    { return errors.New("sink down") }
func (failingSink) RecordProgress(context.Context, string, int) error { return errors.New("sink down") }
func (failingSink) RecordComplete(context.Context, string, map[string]string) error {
	return errors.New("sink down")
}
func (failingSink) RecordFailed(context.Context, string, string) error { return errors.New("sink down") }

func TestStore_SinkFailureNeverBlocksPrimaryPath(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, failingSink{})

	require.NoError(t, store.Create(ctx, testJob("job-1", "alice")))
	require.NoError(t, store.MarkProcessing(ctx, "job-1"))
	applied, err := store.UpdateProgress(ctx, "job-1", 50)
	require.NoError(t, err)
	assert.True(t, applied)
	require.NoError(t, store.Complete(ctx, "job-1", nil))

	got, err := store.Get(ctx, "job-1", domain.Identity{ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
}

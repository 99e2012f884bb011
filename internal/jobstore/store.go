package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"property-analysis/internal/domain"
)

const jobRecordName = "job.json"

// Store is the durable job state store. The authoritative record for
// each job is a job.json file colocated with the job's upload and
// output directories; an in-memory index fronts it so reads after a
// restart rehydrate lazily from disk.
type Store struct {
	dataDir string
	logger  *slog.Logger
	sink    Sink

	mu   sync.RWMutex
	jobs map[string]*entry
}

// entry serializes mutations per job id. Contention is per job, not
// across the store.
type entry struct {
	mu  sync.Mutex
	job *domain.Job
}

// NewStore creates the store rooted at dataDir, creating it if absent.
// sink may be nil; a NopSink is substituted.
func NewStore(dataDir string, sink Sink, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	if sink == nil {
		sink = NopSink{}
	}
	return &Store{
		dataDir: dataDir,
		logger:  logger,
		sink:    sink,
		jobs:    make(map[string]*entry),
	}, nil
}

// JobDir returns the per-job root directory.
func (s *Store) JobDir(jobID string) string {
	return filepath.Join(s.dataDir, jobID)
}

// UploadsDir returns the staged-input directory for a job.
func (s *Store) UploadsDir(jobID string) string {
	return filepath.Join(s.dataDir, jobID, "uploads")
}

// OutputDir returns the analyzer output directory for a job.
func (s *Store) OutputDir(jobID string) string {
	return filepath.Join(s.dataDir, jobID, "output")
}

// Create registers a new job. It fails if a job with the same id
// already exists in memory or on disk.
func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	s.mu.Lock()
	if _, ok := s.jobs[job.ID]; ok {
		s.mu.Unlock()
		return domain.ErrJobExists
	}
	if _, err := os.Stat(filepath.Join(s.JobDir(job.ID), jobRecordName)); err == nil {
		s.mu.Unlock()
		return domain.ErrJobExists
	}
	e := &entry{job: cloneJob(job)}
	s.jobs[job.ID] = e
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := s.persist(e.job); err != nil {
		// No durable record exists; drop the index entry so the id can
		// be resubmitted.
		s.mu.Lock()
		delete(s.jobs, job.ID)
		s.mu.Unlock()
		return err
	}

	s.record(func() error { return s.sink.RecordStart(ctx, e.job) })
	return nil
}

// Get returns the job for id, enforcing ownership. Administrative
// identities bypass the ownership check.
func (s *Store) Get(ctx context.Context, jobID string, requester domain.Identity) (*domain.Job, error) {
	e, err := s.lookup(jobID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !requester.CanAccess(e.job.UserID) {
		return nil, domain.ErrAccessDenied
	}
	return cloneJob(e.job), nil
}

// MarkProcessing moves a pending job into processing. A job already
// terminal is left untouched.
func (s *Store) MarkProcessing(ctx context.Context, jobID string) error {
	return s.mutate(ctx, jobID, func(job *domain.Job) error {
		if job.Status.Terminal() {
			return nil
		}
		job.Status = domain.JobStatusProcessing
		return nil
	})
}

// UpdateProgress raises the job's progress percentage and reports
// whether the write was applied. Writes against a terminal job, and
// values below the current progress, are no-ops — callers must not
// announce progress the store refused.
func (s *Store) UpdateProgress(ctx context.Context, jobID string, percent int) (bool, error) {
	updated := false
	err := s.mutate(ctx, jobID, func(job *domain.Job) error {
		if job.Status.Terminal() {
			return nil
		}
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		if percent <= job.Progress {
			return nil
		}
		job.Progress = percent
		updated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if updated {
		s.record(func() error { return s.sink.RecordProgress(ctx, jobID, percent) })
	}
	return updated, nil
}

// Complete transitions the job to completed, freezing progress at 100
// and recording the output manifest.
func (s *Store) Complete(ctx context.Context, jobID string, outputs map[string]string) error {
	finalized := false
	err := s.mutate(ctx, jobID, func(job *domain.Job) error {
		if job.Status.Terminal() {
			return nil
		}
		now := time.Now()
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
		job.Outputs = outputs
		job.CompletedAt = &now
		for i := range job.Files {
			job.Files[i].Processed = true
		}
		finalized = true
		return nil
	})
	if err != nil {
		return err
	}
	if finalized {
		s.record(func() error { return s.sink.RecordComplete(ctx, jobID, outputs) })
	}
	return nil
}

// Fail transitions the job to failed with a sanitized message.
func (s *Store) Fail(ctx context.Context, jobID, message string) error {
	finalized := false
	err := s.mutate(ctx, jobID, func(job *domain.Job) error {
		if job.Status.Terminal() {
			return nil
		}
		now := time.Now()
		job.Status = domain.JobStatusFailed
		job.Error = message
		job.FailedAt = &now
		finalized = true
		return nil
	})
	if err != nil {
		return err
	}
	if finalized {
		s.record(func() error { return s.sink.RecordFailed(ctx, jobID, message) })
	}
	return nil
}

// Cancel transitions the job to cancelled. Only pending and processing
// jobs can be cancelled; a terminal job yields ErrInvalidTransition so
// the caller can decide whether that matters.
func (s *Store) Cancel(ctx context.Context, jobID string) error {
	return s.mutate(ctx, jobID, func(job *domain.Job) error {
		if job.Status.Terminal() {
			return domain.ErrInvalidTransition
		}
		now := time.Now()
		job.Status = domain.JobStatusCancelled
		job.CancelledAt = &now
		return nil
	})
}

// mutate applies fn to the job under its entry lock and persists the
// result when fn succeeds.
func (s *Store) mutate(ctx context.Context, jobID string, fn func(*domain.Job) error) error {
	e, err := s.lookup(jobID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e.job); err != nil {
		return err
	}
	return s.persist(e.job)
}

// lookup finds the job entry, rehydrating from job.json when the
// in-memory index has no record (fresh process after a restart).
func (s *Store) lookup(jobID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}

	job, err := s.readRecord(jobID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[jobID]; ok {
		return existing, nil
	}
	e = &entry{job: job}
	s.jobs[jobID] = e
	return e, nil
}

func (s *Store) readRecord(jobID string) (*domain.Job, error) {
	data, err := os.ReadFile(filepath.Join(s.JobDir(jobID), jobRecordName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to read job record: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job record: %w", err)
	}
	return &job, nil
}

// persist writes job.json atomically via a temp file and rename so a
// crash mid-write never leaves a truncated record.
func (s *Store) persist(job *domain.Job) error {
	dir := s.JobDir(job.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create job dir: %w", err)
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job record: %w", err)
	}

	tmp := filepath.Join(dir, jobRecordName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write job record: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, jobRecordName)); err != nil {
		return fmt.Errorf("failed to finalize job record: %w", err)
	}
	return nil
}

// record runs a sink write, logging and swallowing any failure. Sink
// unavailability never reaches the primary write path.
func (s *Store) record(fn func() error) {
	if err := fn(); err != nil {
		s.logger.Warn("Analytics sink write failed",
			slog.Any("error", err),
		)
	}
}

func cloneJob(job *domain.Job) *domain.Job {
	out := *job
	if job.Files != nil {
		out.Files = make([]domain.JobFile, len(job.Files))
		copy(out.Files, job.Files)
	}
	if job.Outputs != nil {
		out.Outputs = make(map[string]string, len(job.Outputs))
		for k, v := range job.Outputs {
			out.Outputs[k] = v
		}
	}
	return &out
}

package dispatch

import (
	"os"
	"sync"
	"syscall"
)

// HandleRegistry maps a job id to its running external process. Handles
// are process-local and ephemeral: they exist only while the job is
// processing in this supervisor, and a supervisor crash orphans them.
type HandleRegistry struct {
	mu    sync.Mutex
	procs map[string]*os.Process
}

// NewHandleRegistry creates an empty registry.
func NewHandleRegistry() *HandleRegistry {
	return &HandleRegistry{procs: make(map[string]*os.Process)}
}

// Put records the process supervising jobID.
func (r *HandleRegistry) Put(jobID string, proc *os.Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[jobID] = proc
}

// Remove drops the handle for jobID, if any.
func (r *HandleRegistry) Remove(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, jobID)
}

// Get returns the process for jobID, if one is registered.
func (r *HandleRegistry) Get(jobID string) (*os.Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	proc, ok := r.procs[jobID]
	return proc, ok
}

// Terminate sends SIGTERM to the job's process if a handle exists and
// removes the handle. Termination is best-effort: a process that has
// already exited is not an error. It reports whether a handle existed.
func (r *HandleRegistry) Terminate(jobID string) bool {
	r.mu.Lock()
	proc, ok := r.procs[jobID]
	delete(r.procs, jobID)
	r.mu.Unlock()

	if !ok {
		return false
	}

	// Signal errors mean the process is already gone.
	_ = proc.Signal(syscall.SIGTERM)
	return true
}

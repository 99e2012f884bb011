package dispatch

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRegistry_TerminateRunningProcess(t *testing.T) {
	proc := exec.Command("/bin/sh", "-c", "sleep 30")
	require.NoError(t, proc.Start())
	t.Cleanup(func() {
		_ = proc.Process.Kill()
		_, _ = proc.Process.Wait()
	})

	registry := NewHandleRegistry()
	registry.Put("job-1", proc.Process)

	assert.True(t, registry.Terminate("job-1"))

	err := proc.Wait()
	require.Error(t, err, "sleep should be interrupted by SIGTERM")
}

func TestHandleRegistry_TerminateUnknownJob(t *testing.T) {
	registry := NewHandleRegistry()
	assert.False(t, registry.Terminate("never-registered"))
}

func TestHandleRegistry_PutRemoveGet(t *testing.T) {
	proc := exec.Command("/bin/sh", "-c", "true")
	require.NoError(t, proc.Start())
	defer func() { _ = proc.Wait() }()

	registry := NewHandleRegistry()
	registry.Put("job-1", proc.Process)

	got, ok := registry.Get("job-1")
	require.True(t, ok)
	assert.Equal(t, proc.Process.Pid, got.Pid)

	registry.Remove("job-1")
	_, ok = registry.Get("job-1")
	assert.False(t, ok)
}

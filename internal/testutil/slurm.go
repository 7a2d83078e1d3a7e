package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// FakeSlurm holds paths to stub scheduler binaries written into a temp dir.
type FakeSlurm struct {
	Sbatch  string
	Squeue  string
	Sacct   string
	Scancel string
}

// NewFakeSlurm writes stub sbatch/squeue/sacct/scancel shell scripts that
// answer with the given job id and states. squeueState empty means the job
// has left the queue and sacct answers instead.
func NewFakeSlurm(t *testing.T, jobID, squeueState, sacctState string) *FakeSlurm {
	t.Helper()

	dir := t.TempDir()

	fake := &FakeSlurm{
		Sbatch:  filepath.Join(dir, "sbatch"),
		Squeue:  filepath.Join(dir, "squeue"),
		Sacct:   filepath.Join(dir, "sacct"),
		Scancel: filepath.Join(dir, "scancel"),
	}

	writeStub(t, fake.Sbatch, fmt.Sprintf("echo 'Submitted batch job %s'", jobID))
	writeStub(t, fake.Squeue, fmt.Sprintf("echo '%s'", squeueState))
	writeStub(t, fake.Sacct, fmt.Sprintf("echo '%s'", sacctState))
	writeStub(t, fake.Scancel, "exit 0")

	return fake
}

// NewFailingSbatch writes a stub sbatch that exits non-zero with a message.
func NewFailingSbatch(t *testing.T, message string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sbatch")
	writeStub(t, path, fmt.Sprintf("echo '%s' >&2; exit 1", message))
	return path
}

func writeStub(t *testing.T, path, body string) {
	t.Helper()

	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write stub %s: %v", path, err)
	}
}

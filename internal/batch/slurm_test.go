package batch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/climops/recipe-launcher/internal/testutil"
	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func newTestClient(t *testing.T, fake *testutil.FakeSlurm) *SlurmClient {
	t.Helper()
	logger := logrus.New()
	return NewSlurmClient(logger, fake.Sbatch, fake.Squeue, fake.Sacct, fake.Scancel, 10*time.Second)
}

func TestSlurmClientSubmit(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "4242", "PENDING", "")
	client := newTestClient(t, fake)

	scriptPath := filepath.Join(t.TempDir(), "job.sh")
	jobID, err := client.Submit(context.Background(), scriptPath, "#!/bin/bash\ntrue\n")
	assert.NoError(t, err)
	assert.Equal(t, "4242", jobID)

	// The script must exist on disk for the scheduler to pick up.
	assert.FileExists(t, scriptPath)
}

func TestSlurmClientSubmitFailure(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "1", "", "")
	fake.Sbatch = testutil.NewFailingSbatch(t, "sbatch: error: invalid partition")
	client := newTestClient(t, fake)

	scriptPath := filepath.Join(t.TempDir(), "job.sh")
	_, err := client.Submit(context.Background(), scriptPath, "#!/bin/bash\ntrue\n")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid partition")
}

func TestSlurmClientJobStateFromSqueue(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "4242", "RUNNING", "")
	client := newTestClient(t, fake)

	state, err := client.JobState(context.Background(), "4242")
	assert.NoError(t, err)
	assert.Equal(t, types.RunRunning, state)
}

func TestSlurmClientJobStateFallsBackToSacct(t *testing.T) {
	// Empty squeue output means the job left the queue.
	fake := testutil.NewFakeSlurm(t, "4242", "", "COMPLETED")
	client := newTestClient(t, fake)

	state, err := client.JobState(context.Background(), "4242")
	assert.NoError(t, err)
	assert.Equal(t, types.RunCompleted, state)
}

func TestSlurmClientCancel(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "4242", "PENDING", "")
	client := newTestClient(t, fake)

	err := client.Cancel(context.Background(), "4242")
	assert.NoError(t, err)
}

func TestMapSlurmState(t *testing.T) {
	tests := []struct {
		slurmState string
		expected   types.RunState
	}{
		{"PENDING", types.RunSubmitted},
		{"CONFIGURING", types.RunSubmitted},
		{"REQUEUED", types.RunSubmitted},
		{"SUSPENDED", types.RunSubmitted},
		{"RUNNING", types.RunRunning},
		{"COMPLETING", types.RunRunning},
		{"COMPLETED", types.RunCompleted},
		{"TIMEOUT", types.RunTimeout},
		{"CANCELLED", types.RunCancelled},
		{"CANCELLED by 1000", types.RunCancelled},
		{"FAILED", types.RunFailed},
		{"NODE_FAIL", types.RunFailed},
		{"OUT_OF_MEMORY", types.RunFailed},
		{"running", types.RunRunning},
	}

	for _, tt := range tests {
		t.Run(tt.slurmState, func(t *testing.T) {
			assert.Equal(t, tt.expected, mapSlurmState(tt.slurmState))
		})
	}
}

package batch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/sirupsen/logrus"
)

// SlurmClient drives the cluster scheduler through its command line tools.
type SlurmClient struct {
	logger        *logrus.Logger
	sbatchBin     string
	squeueBin     string
	sacctBin      string
	scancelBin    string
	submitTimeout time.Duration
}

var submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

func NewSlurmClient(logger *logrus.Logger, sbatchBin, squeueBin, sacctBin, scancelBin string, submitTimeout time.Duration) *SlurmClient {
	if submitTimeout <= 0 {
		submitTimeout = 30 * time.Second
	}

	return &SlurmClient{
		logger:        logger,
		sbatchBin:     sbatchBin,
		squeueBin:     squeueBin,
		sacctBin:      sacctBin,
		scancelBin:    scancelBin,
		submitTimeout: submitTimeout,
	}
}

// Submit writes the script to scriptPath and hands it to sbatch, returning
// the batch job id parsed from the scheduler's response.
func (c *SlurmClient) Submit(ctx context.Context, scriptPath, script string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(scriptPath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create script directory: %w", err)
	}

	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return "", fmt.Errorf("failed to write submission script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	out, err := c.run(ctx, c.sbatchBin, scriptPath)
	if err != nil {
		return "", fmt.Errorf("sbatch failed: %w", err)
	}

	match := submittedRe.FindStringSubmatch(out)
	if match == nil {
		return "", fmt.Errorf("unexpected sbatch output: %q", strings.TrimSpace(out))
	}

	c.logger.WithFields(logrus.Fields{
		"batch_job_id": match[1],
		"script":       scriptPath,
	}).Info("Batch job submitted")

	return match[1], nil
}

// JobState queries the scheduler for the state of a batch job. squeue is
// authoritative while the job is still in the queue; once it has left,
// sacct reports the final state.
func (c *SlurmClient) JobState(ctx context.Context, batchJobID string) (types.RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	out, err := c.run(ctx, c.squeueBin, "--noheader", "--format=%T", "--job", batchJobID)
	if err == nil {
		if state := strings.TrimSpace(out); state != "" {
			return mapSlurmState(state), nil
		}
	}

	out, err = c.run(ctx, c.sacctBin, "--noheader", "--parsable2", "--format=State", "--jobs", batchJobID)
	if err != nil {
		return "", fmt.Errorf("sacct failed for job %s: %w", batchJobID, err)
	}

	// sacct prints one line per job step; the first is the job itself.
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", fmt.Errorf("no accounting record for job %s", batchJobID)
	}

	return mapSlurmState(strings.TrimSpace(lines[0])), nil
}

// Cancel asks the scheduler to cancel a batch job.
func (c *SlurmClient) Cancel(ctx context.Context, batchJobID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	if _, err := c.run(ctx, c.scancelBin, batchJobID); err != nil {
		return fmt.Errorf("scancel failed for job %s: %w", batchJobID, err)
	}

	c.logger.WithField("batch_job_id", batchJobID).Info("Batch job cancelled")
	return nil
}

func (c *SlurmClient) run(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return "", err
		}
		return "", fmt.Errorf("%w: %s", err, msg)
	}

	return stdout.String(), nil
}

// mapSlurmState translates a scheduler state string into a run state.
// CANCELLED can come with a "by <uid>" suffix, so match on prefix.
func mapSlurmState(state string) types.RunState {
	state = strings.ToUpper(state)

	switch {
	case state == "PENDING" || state == "CONFIGURING" || state == "REQUEUED" || state == "SUSPENDED":
		return types.RunSubmitted
	case state == "RUNNING" || state == "COMPLETING":
		return types.RunRunning
	case state == "COMPLETED":
		return types.RunCompleted
	case state == "TIMEOUT":
		return types.RunTimeout
	case strings.HasPrefix(state, "CANCELLED"):
		return types.RunCancelled
	default:
		// FAILED, NODE_FAIL, OUT_OF_MEMORY, PREEMPTED, BOOT_FAIL, ...
		return types.RunFailed
	}
}

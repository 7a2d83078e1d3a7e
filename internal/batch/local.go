package batch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LocalRunner executes the diagnostics tool directly on the launcher host,
// without going through the batch scheduler. Used for small testing recipes
// and for hosts that have no scheduler at all.
type LocalRunner struct {
	logger *logrus.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func NewLocalRunner(logger *logrus.Logger) *LocalRunner {
	return &LocalRunner{
		logger: logger,
		active: make(map[string]context.CancelFunc),
	}
}

// Run executes the command line, streaming stdout and stderr to the given
// log files. It blocks until the process exits and returns the exit code.
func (r *LocalRunner) Run(ctx context.Context, runID, command, outputLog, errorLog string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(outputLog), 0o755); err != nil {
		return -1, fmt.Errorf("failed to create log directory: %w", err)
	}

	stdout, err := os.Create(outputLog)
	if err != nil {
		return -1, fmt.Errorf("failed to create output log: %w", err)
	}
	defer stdout.Close()

	stderr, err := os.Create(errorLog)
	if err != nil {
		return -1, fmt.Errorf("failed to create error log: %w", err)
	}
	defer stderr.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	r.active[runID] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.active, runID)
		r.mu.Unlock()
	}()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return -1, fmt.Errorf("empty command")
	}

	cmd := exec.CommandContext(runCtx, parts[0], parts[1:]...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	r.logger.WithFields(logrus.Fields{
		"run_id":  runID,
		"command": command,
	}).Info("Starting local run")

	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.Canceled {
			return -1, context.Canceled
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), fmt.Errorf("tool exited with code %d", exitErr.ExitCode())
		}
		return -1, fmt.Errorf("failed to run tool: %w", err)
	}

	return 0, nil
}

// Cancel stops a local run if it is still active.
func (r *LocalRunner) Cancel(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cancel, ok := r.active[runID]
	if !ok {
		return false
	}

	cancel()
	r.logger.WithField("run_id", runID).Info("Local run cancelled")
	return true
}

// ActiveCount returns the number of local runs currently executing.
func (r *LocalRunner) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

package types

import "time"

// RunState is the lifecycle state of a recipe run
type RunState string

const (
	RunPending   RunState = "pending"
	RunSubmitted RunState = "submitted"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
	RunTimeout   RunState = "timeout"
)

// Terminal reports whether the state is final and will not change again.
func (s RunState) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunTimeout:
		return true
	}
	return false
}

// RunMode selects how a run is executed
type RunMode string

const (
	ModeBatch RunMode = "batch"
	ModeLocal RunMode = "local"
)

// RunInfo describes one submission of a recipe
type RunInfo struct {
	ID               string    `json:"id"`
	Recipe           string    `json:"recipe"`
	Mode             RunMode   `json:"mode"`
	BatchJobID       string    `json:"batch_job_id,omitempty"`
	State            RunState  `json:"state"`
	MaxParallelTasks int       `json:"max_parallel_tasks"`
	Resources        Resources `json:"resources"`
	ScriptPath       string    `json:"script_path,omitempty"`
	OutputLog        string    `json:"output_log,omitempty"`
	ErrorLog         string    `json:"error_log,omitempty"`
	ExitCode         int       `json:"exit_code"`
	SubmittedAt      time.Time `json:"submitted_at"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	EndedAt          time.Time `json:"ended_at,omitempty"`
	LastChecked      time.Time `json:"last_checked,omitempty"`
}

// Duration returns the elapsed wall time of the run so far, or the
// final duration once the run has ended.
func (r *RunInfo) Duration() time.Duration {
	start := r.StartedAt
	if start.IsZero() {
		start = r.SubmittedAt
	}
	if !r.EndedAt.IsZero() {
		return r.EndedAt.Sub(start)
	}
	return time.Since(start)
}

package recipe

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/climops/recipe-launcher/internal/batch"
	"github.com/climops/recipe-launcher/internal/config"
	"github.com/climops/recipe-launcher/internal/store"
	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const jobStateCacheKey = "job_state:%s"

// Notifier receives run lifecycle events.
type Notifier interface {
	SendRunNotification(run *types.RunInfo) error
}

// Launcher owns the recipe catalog and the run lifecycle: submitting
// batch jobs for recipes, tracking their scheduler state and recording
// every run in the store.
type Launcher struct {
	cache    *cache.Cache
	logger   *logrus.Logger
	slurm    *batch.SlurmClient
	local    *batch.LocalRunner
	store    *store.RunStore
	notifier Notifier

	tool      config.ToolConfig
	defaults  types.Resources
	logDir    string
	scriptDir string

	mu               sync.RWMutex
	recipes          map[string]*types.RecipeConfig
	monitoredRecipes []string
}

func NewLauncher(logger *logrus.Logger, cfg *config.Config, runStore *store.RunStore, slurm *batch.SlurmClient, local *batch.LocalRunner) *Launcher {
	return &Launcher{
		cache:            cache.New(30*time.Second, 10*time.Second),
		logger:           logger,
		slurm:            slurm,
		local:            local,
		store:            runStore,
		tool:             cfg.Tool,
		defaults:         cfg.Scheduler.Defaults,
		logDir:           cfg.Scheduler.LogDir,
		scriptDir:        cfg.Scheduler.ScriptDir,
		recipes:          make(map[string]*types.RecipeConfig),
		monitoredRecipes: []string{},
	}
}

// SetNotifier wires the notification sink for terminal run states.
func (l *Launcher) SetNotifier(n Notifier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notifier = n
}

func (l *Launcher) SetRecipes(recipes []types.RecipeConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.recipes = make(map[string]*types.RecipeConfig, len(recipes))
	names := make([]string, 0, len(recipes))
	for i := range recipes {
		r := recipes[i]
		l.recipes[r.Name] = &r
		names = append(names, r.Name)
	}

	sort.Strings(names)
	l.monitoredRecipes = names
}

func (l *Launcher) GetMonitoredRecipes() ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.monitoredRecipes, nil
}

func (l *Launcher) RecipeExists(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.recipes[name]
	return ok
}

func (l *Launcher) GetRecipe(name string) (*types.RecipeConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	recipe, ok := l.recipes[name]
	if !ok {
		return nil, fmt.Errorf("recipe %q not found in catalog", name)
	}
	return recipe, nil
}

// SubmitOptions overrides catalog values for a single submission.
type SubmitOptions struct {
	Mode             types.RunMode
	MaxParallelTasks int
	Resources        types.Resources
}

// Submit creates a run for the named recipe. In batch mode the submission
// script is rendered and handed to the scheduler; in local mode the tool is
// started directly in a background goroutine.
func (l *Launcher) Submit(ctx context.Context, recipeName string, opts SubmitOptions) (*types.RunInfo, error) {
	recipe, err := l.GetRecipe(recipeName)
	if err != nil {
		return nil, err
	}

	mode := opts.Mode
	if mode == "" {
		mode = types.ModeBatch
	}

	maxTasks := opts.MaxParallelTasks
	if maxTasks == 0 {
		maxTasks = recipe.MaxParallelTasks
	}
	if maxTasks == 0 {
		maxTasks = l.tool.MaxParallelTasks
	}

	resources := opts.Resources.Merge(recipe.Resources).Merge(l.defaults)

	runID := uuid.New().String()
	jobName := jobName(recipeName)

	run := &types.RunInfo{
		ID:               runID,
		Recipe:           recipeName,
		Mode:             mode,
		State:            types.RunPending,
		MaxParallelTasks: maxTasks,
		Resources:        resources,
		OutputLog:        filepath.Join(l.logDir, fmt.Sprintf("%s-%s.out", jobName, runID[:8])),
		ErrorLog:         filepath.Join(l.logDir, fmt.Sprintf("%s-%s.err", jobName, runID[:8])),
		SubmittedAt:      time.Now(),
	}

	command := batch.ToolCommand(l.tool.Binary, l.tool.ConfigDir, recipeName, maxTasks)

	switch mode {
	case types.ModeBatch:
		script, err := batch.RenderScript(batch.ScriptSpec{
			JobName:   jobName,
			OutputLog: run.OutputLog,
			ErrorLog:  run.ErrorLog,
			Resources: resources,
			Command:   command,
		})
		if err != nil {
			return nil, err
		}

		run.ScriptPath = filepath.Join(l.scriptDir, fmt.Sprintf("%s-%s.sh", jobName, runID[:8]))

		batchJobID, err := l.slurm.Submit(ctx, run.ScriptPath, script)
		if err != nil {
			return nil, fmt.Errorf("failed to submit recipe %s: %w", recipeName, err)
		}

		run.BatchJobID = batchJobID
		run.State = types.RunSubmitted
	case types.ModeLocal:
		run.State = types.RunRunning
		run.StartedAt = time.Now()
	default:
		return nil, fmt.Errorf("unknown run mode %q", mode)
	}

	if err := l.store.InsertRun(run); err != nil {
		return nil, err
	}

	l.logger.WithFields(logrus.Fields{
		"run_id":       run.ID,
		"recipe":       recipeName,
		"mode":         string(mode),
		"batch_job_id": run.BatchJobID,
	}).Info("Run submitted")

	if mode == types.ModeLocal {
		// runLocal mutates its run as the process finishes, so it gets its
		// own copy and the returned RunInfo stays stable for the caller.
		background := *run
		go l.runLocal(&background, command)
	}

	return run, nil
}

// runLocal executes a local-mode run and records the terminal state.
func (l *Launcher) runLocal(run *types.RunInfo, command string) {
	exitCode, err := l.local.Run(context.Background(), run.ID, command, run.OutputLog, run.ErrorLog)

	run.ExitCode = exitCode
	run.EndedAt = time.Now()
	run.LastChecked = run.EndedAt

	switch {
	case err == nil:
		run.State = types.RunCompleted
	case err == context.Canceled:
		run.State = types.RunCancelled
	default:
		run.State = types.RunFailed
		l.logger.WithFields(logrus.Fields{
			"run_id": run.ID,
			"recipe": run.Recipe,
			"error":  err.Error(),
		}).Error("Local run failed")
	}

	if err := l.store.UpdateRun(run); err != nil {
		l.logger.Errorf("Failed to record local run %s: %v", run.ID, err)
	}

	l.notifyTerminal(run)
}

func (l *Launcher) GetRun(id string) (*types.RunInfo, error) {
	return l.store.GetRun(id)
}

func (l *Launcher) ListRuns(state types.RunState, limit int) ([]*types.RunInfo, error) {
	return l.store.ListRuns(state, limit)
}

func (l *Launcher) ActiveRuns() ([]*types.RunInfo, error) {
	return l.store.ActiveRuns()
}

func (l *Launcher) ActiveRunCount() (int, error) {
	runs, err := l.store.ActiveRuns()
	if err != nil {
		return 0, err
	}
	return len(runs), nil
}

// CancelRun cancels a run in the scheduler (batch mode) or kills the local
// process, then records the cancellation.
func (l *Launcher) CancelRun(ctx context.Context, id string) (*types.RunInfo, error) {
	run, err := l.store.GetRun(id)
	if err != nil {
		return nil, err
	}

	if run.State.Terminal() {
		return nil, fmt.Errorf("run %s already finished with state %s", id, run.State)
	}

	switch run.Mode {
	case types.ModeBatch:
		if err := l.slurm.Cancel(ctx, run.BatchJobID); err != nil {
			return nil, err
		}
	case types.ModeLocal:
		if !l.local.Cancel(run.ID) {
			l.logger.Warnf("Local run %s no longer active, marking cancelled", id)
		}
	}

	run.State = types.RunCancelled
	run.EndedAt = time.Now()
	run.LastChecked = run.EndedAt

	if err := l.store.UpdateRun(run); err != nil {
		return nil, err
	}

	return run, nil
}

// RefreshRun polls the scheduler for the current state of a batch run and
// persists any transition. Terminal transitions fire a notification.
// Local runs update themselves and are skipped here.
func (l *Launcher) RefreshRun(ctx context.Context, id string, forceRefresh bool) (*types.RunInfo, error) {
	run, err := l.store.GetRun(id)
	if err != nil {
		return nil, err
	}

	if run.Mode != types.ModeBatch || run.State.Terminal() {
		return run, nil
	}

	if !forceRefresh {
		if cached, found := l.cache.Get(fmt.Sprintf(jobStateCacheKey, run.BatchJobID)); found {
			l.logger.Debugf("Found cached scheduler state for job %s", run.BatchJobID)
			run.State = cached.(types.RunState)
			return run, nil
		}
	}

	state, err := l.slurm.JobState(ctx, run.BatchJobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query state of run %s: %w", id, err)
	}

	l.cache.Set(fmt.Sprintf(jobStateCacheKey, run.BatchJobID), state, 30*time.Second)

	previous := run.State
	run.LastChecked = time.Now()

	if state != previous {
		run.State = state
		if state == types.RunRunning && run.StartedAt.IsZero() {
			run.StartedAt = run.LastChecked
		}
		if state.Terminal() {
			run.EndedAt = run.LastChecked
		}

		l.logger.WithFields(logrus.Fields{
			"run_id":       run.ID,
			"recipe":       run.Recipe,
			"batch_job_id": run.BatchJobID,
			"from":         string(previous),
			"to":           string(state),
		}).Info("Run state changed")
	}

	if err := l.store.UpdateRun(run); err != nil {
		return nil, err
	}

	if state != previous && state.Terminal() {
		l.notifyTerminal(run)
	}

	return run, nil
}

func (l *Launcher) notifyTerminal(run *types.RunInfo) {
	l.mu.RLock()
	notifier := l.notifier
	l.mu.RUnlock()

	if notifier == nil {
		l.logger.WithField("run_id", run.ID).Debug("No notifier configured, skipping notification")
		return
	}

	if err := notifier.SendRunNotification(run); err != nil {
		l.logger.WithFields(logrus.Fields{
			"run_id": run.ID,
			"error":  err.Error(),
		}).Error("Failed to send run notification")
	}
}

// IsRunCached reports whether a fresh scheduler state is cached for the run.
func (l *Launcher) IsRunCached(batchJobID string) bool {
	_, found := l.cache.Get(fmt.Sprintf(jobStateCacheKey, batchJobID))
	return found
}

// jobName derives the scheduler job name from the recipe name, matching the
// convention the hand-written launcher scripts used.
func jobName(recipeName string) string {
	name := strings.TrimSuffix(filepath.Base(recipeName), ".yml")
	name = strings.TrimSuffix(name, ".yaml")
	return name
}

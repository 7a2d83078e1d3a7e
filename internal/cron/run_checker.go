package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/climops/recipe-launcher/internal/recipe"
	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/climops/recipe-launcher/pkg/utils"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// staleGrace is how far past its walltime a run may be before the checker
// gives up on the scheduler reporting a terminal state for it.
const staleGrace = 30 * time.Minute

// RunChecker sweeps the active runs: refreshes scheduler state and flags
// runs that outlived their walltime without the scheduler noticing.
type RunChecker struct {
	launcher   *recipe.Launcher
	logger     *logrus.Logger
	cron       *cron.Cron
	lastStates map[string]types.RunState
	mu         sync.RWMutex
}

func NewRunChecker(launcher *recipe.Launcher, logger *logrus.Logger) *RunChecker {
	return &RunChecker{
		launcher:   launcher,
		logger:     logger,
		cron:       cron.New(),
		lastStates: make(map[string]types.RunState),
	}
}

func (rc *RunChecker) Start() error {
	_, err := rc.cron.AddFunc("@hourly", rc.checkRuns)
	if err != nil {
		return fmt.Errorf("failed to schedule cron job: %w", err)
	}

	rc.cron.Start()
	rc.logger.Info("Run checker cron job started")

	go rc.checkRuns()

	return nil
}

func (rc *RunChecker) Stop() {
	ctx := rc.cron.Stop()
	<-ctx.Done()
	rc.logger.Info("Run checker cron job stopped")
}

func (rc *RunChecker) CheckRuns() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	runs, err := rc.launcher.ActiveRuns()
	if err != nil {
		rc.logger.WithError(err).Error("Failed to get active runs")
		return
	}

	rc.logger.WithField("run_count", len(runs)).Info("Found active runs")

	seen := make(map[string]bool, len(runs))

	for _, run := range runs {
		seen[run.ID] = true
		rc.logger.WithField("run", run.ID).Debug("Processing run")

		if run.Mode == types.ModeLocal {
			// Local runs record their own completion.
			rc.checkStale(run)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		refreshed, err := rc.launcher.RefreshRun(ctx, run.ID, true)
		cancel()
		if err != nil {
			rc.logger.WithFields(logrus.Fields{
				"run":   run.ID,
				"error": err,
			}).Warn("Failed to refresh run, checking staleness")
			rc.checkStale(run)
			continue
		}

		last, exists := rc.lastStates[run.ID]
		if !exists {
			rc.logger.WithField("run", run.ID).Debug("First check for run")
		}

		if !exists || last != refreshed.State {
			rc.logger.WithFields(logrus.Fields{
				"run":    refreshed.ID,
				"recipe": refreshed.Recipe,
				"state":  string(refreshed.State),
			}).Info("Run state recorded")
			rc.lastStates[run.ID] = refreshed.State
		}

		if refreshed.State.Terminal() {
			delete(rc.lastStates, run.ID)
		}
	}

	// Drop entries for runs that are no longer active.
	for id := range rc.lastStates {
		if !seen[id] {
			delete(rc.lastStates, id)
		}
	}

	rc.logger.Info("Completed checking all runs")
}

// checkStale flags a run whose walltime window expired long ago but that
// never reached a terminal state.
func (rc *RunChecker) checkStale(run *types.RunInfo) {
	walltime, err := utils.ParseWalltime(run.Resources.Walltime)
	if err != nil {
		rc.logger.WithFields(logrus.Fields{
			"run":   run.ID,
			"error": err,
		}).Debug("Run has no parseable walltime, skipping staleness check")
		return
	}

	deadline := run.SubmittedAt.Add(walltime + staleGrace)
	if time.Now().After(deadline) {
		rc.logger.WithFields(logrus.Fields{
			"run":      run.ID,
			"recipe":   run.Recipe,
			"walltime": run.Resources.Walltime,
			"deadline": deadline.Format(time.RFC3339),
		}).Warn("Run exceeded walltime window without a terminal state")
	}
}

func (rc *RunChecker) checkRuns() {
	rc.logger.Info("Starting run check cycle")
	rc.CheckRuns()
	rc.logger.Info("Completed run check cycle")
}

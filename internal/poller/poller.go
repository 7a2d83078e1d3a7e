package poller

import (
	"context"
	"sync"
	"time"

	"github.com/climops/recipe-launcher/internal/recipe"
	"github.com/sirupsen/logrus"
)

// Poller periodically refreshes the scheduler state of every active run.
type Poller struct {
	launcher *recipe.Launcher
	logger   *logrus.Logger
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

func New(launcher *recipe.Launcher, logger *logrus.Logger, interval time.Duration) *Poller {
	return &Poller{
		launcher: launcher,
		logger:   logger,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

func (p *Poller) Start() {
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.update()
		case <-p.stop:
			return
		}
	}
}

func (p *Poller) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *Poller) update() {
	p.logger.Debug("Starting poller update cycle")
	runs, err := p.launcher.ActiveRuns()
	if err != nil {
		p.logger.Errorf("Failed to get active runs: %v", err)
		return
	}

	p.logger.Debugf("Refreshing %d active runs", len(runs))
	for _, run := range runs {
		p.logger.Debugf("Refreshing run: %s", run.ID)
		if err := p.updateRun(run.ID); err != nil {
			p.logger.Errorf("Failed to refresh run %s: %v", run.ID, err)
		}
	}
	p.logger.Debug("Completed poller update cycle")
}

func (p *Poller) updateRun(runID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()

	run, err := p.launcher.RefreshRun(ctx, runID, true)
	if err != nil {
		return err
	}

	p.logger.Debugf("Run %s (%s): state=%s batch_job=%s",
		run.ID, run.Recipe, run.State, run.BatchJobID)
	return nil
}

package cron

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/climops/recipe-launcher/internal/batch"
	"github.com/climops/recipe-launcher/internal/config"
	"github.com/climops/recipe-launcher/internal/recipe"
	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/sirupsen/logrus"
)

// LoadRecipesJob reloads the recipe catalog, validates that every entry
// renders to a usable submission script and (re)schedules recurring runs
// for catalog entries that carry a schedule.
type LoadRecipesJob struct {
	launcher  *recipe.Launcher
	scheduler *Scheduler
	cfg       *config.Config
	logger    *logrus.Logger
}

func NewLoadRecipesJob(launcher *recipe.Launcher, scheduler *Scheduler, cfg *config.Config, logger *logrus.Logger) *LoadRecipesJob {
	return &LoadRecipesJob{
		launcher:  launcher,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger,
	}
}

func (j *LoadRecipesJob) Run() error {
	catalog, err := config.LoadCatalogConfig()
	if err != nil {
		j.logger.Errorf("Failed to load recipe catalog: %v", err)
		return err
	}

	var recipes []types.RecipeConfig

	j.logger.Infof("Loading recipes from catalog file...")

	if len(catalog.Production) > 0 {
		j.logger.Info("=== Production Recipes ===")
		var names []string
		for _, r := range catalog.Production {
			recipes = append(recipes, r)
			names = append(names, r.Name)
		}
		j.logger.Info("  " + strings.Join(names, ", "))
	}

	if len(catalog.Testing) > 0 {
		j.logger.Info("=== Testing Recipes ===")
		var names []string
		for _, r := range catalog.Testing {
			recipes = append(recipes, r)
			names = append(names, r.Name)
		}
		j.logger.Info("  " + strings.Join(names, ", "))
	}

	j.logger.Infof("Total recipes in catalog: %d (%d production, %d testing)",
		len(recipes),
		len(catalog.Production),
		len(catalog.Testing))

	type recipeError struct {
		name string
		err  error
	}

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		semaphore     = make(chan struct{}, 5)
		failedRecipes []recipeError
	)

	for _, r := range recipes {
		wg.Add(1)
		go func(rc types.RecipeConfig) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			j.logger.Debugf("Validating recipe %s", rc.Name)
			if err := j.validate(rc); err != nil {
				mu.Lock()
				failedRecipes = append(failedRecipes, recipeError{name: rc.Name, err: err})
				mu.Unlock()
			}
		}(r)
	}

	wg.Wait()

	// Failed entries stay out of the monitored set until the catalog is fixed.
	if len(failedRecipes) > 0 {
		bad := make(map[string]bool, len(failedRecipes))
		j.logger.Infof("=== Recipes failed validation (%d) ===", len(failedRecipes))
		for _, fr := range failedRecipes {
			j.logger.Infof("  %s: %v", fr.name, fr.err)
			bad[fr.name] = true
		}

		valid := recipes[:0]
		for _, r := range recipes {
			if !bad[r.Name] {
				valid = append(valid, r)
			}
		}
		recipes = valid
	}

	j.launcher.SetRecipes(recipes)

	if err := j.scheduleRecipes(recipes); err != nil {
		return err
	}

	j.logger.Infof("Finished loading recipes! %d recipes available for submission.",
		len(recipes))

	if len(failedRecipes) > 0 {
		j.logger.Infof("Rejected %d recipes (check the catalog's resource directives)", len(failedRecipes))
	}
	return nil
}

// scheduleRecipes rebuilds the cron job set: the predefined jobs from the
// main config plus one recurring submission per catalog entry that carries
// a schedule.
func (j *LoadRecipesJob) scheduleRecipes(recipes []types.RecipeConfig) error {
	if j.scheduler == nil {
		return nil
	}

	jobs := append([]types.Job{}, j.cfg.Jobs.Predefined...)

	for _, r := range recipes {
		if r.Schedule == "" {
			continue
		}

		taskName := "submit-" + r.Name
		j.scheduler.RegisterTask(taskName, j.submitTask(r.Name))

		jobs = append(jobs, types.Job{
			Name:        r.Name,
			Schedule:    r.Schedule,
			TaskName:    taskName,
			Recipe:      r.Name,
			Enabled:     true,
			Description: fmt.Sprintf("Recurring run of %s", r.Name),
		})
	}

	if err := j.scheduler.LoadPredefinedJobs(jobs); err != nil {
		return fmt.Errorf("failed to schedule recipe jobs: %w", err)
	}

	return nil
}

func (j *LoadRecipesJob) submitTask(recipeName string) func() error {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		run, err := j.launcher.Submit(ctx, recipeName, recipe.SubmitOptions{})
		if err != nil {
			return err
		}

		j.logger.WithFields(logrus.Fields{
			"recipe":       recipeName,
			"run_id":       run.ID,
			"batch_job_id": run.BatchJobID,
		}).Info("Scheduled recipe submitted")
		return nil
	}
}

// validate renders the submission script for a recipe without submitting it.
func (j *LoadRecipesJob) validate(rc types.RecipeConfig) error {
	resources := rc.Resources.Merge(j.cfg.Scheduler.Defaults)

	maxTasks := rc.MaxParallelTasks
	if maxTasks == 0 {
		maxTasks = j.cfg.Tool.MaxParallelTasks
	}

	_, err := batch.RenderScript(batch.ScriptSpec{
		JobName:   rc.Name,
		OutputLog: "validate.out",
		ErrorLog:  "validate.err",
		Resources: resources,
		Command:   batch.ToolCommand(j.cfg.Tool.Binary, j.cfg.Tool.ConfigDir, rc.Name, maxTasks),
	})
	return err
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/climops/recipe-launcher/internal/config"
	"github.com/climops/recipe-launcher/internal/cron"
	"github.com/climops/recipe-launcher/internal/notifications"
	"github.com/climops/recipe-launcher/internal/recipe"
	"github.com/climops/recipe-launcher/internal/store"
	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	launcher   *recipe.Launcher
	logger     *logrus.Logger
	config     *config.Config
	Scheduler  *cron.Scheduler
	runChecker *cron.RunChecker
}

type RunSummary struct {
	ID          string `json:"id"`
	Recipe      string `json:"recipe"`
	Mode        string `json:"mode"`
	State       string `json:"state"`
	BatchJobID  string `json:"batch_job_id,omitempty"`
	Partition   string `json:"partition,omitempty"`
	Walltime    string `json:"walltime,omitempty"`
	SubmittedAt string `json:"submitted_at,omitempty"`
	EndedAt     string `json:"ended_at,omitempty"`
	OutputLog   string `json:"output_log,omitempty"`
	ErrorLog    string `json:"error_log,omitempty"`
}

type ActiveRunsResponse struct {
	Runs        []RunSummary `json:"runs"`
	LastUpdated time.Time    `json:"last_updated"`
}

// SubmitRequest is the optional body of a run submission.
type SubmitRequest struct {
	Mode             string          `json:"mode,omitempty"`
	MaxParallelTasks int             `json:"max_parallel_tasks,omitempty"`
	Resources        types.Resources `json:"resources,omitempty"`
}

func NewHandler(launcher *recipe.Launcher, logger *logrus.Logger, cfg *config.Config) *Handler {
	scheduler := cron.NewScheduler(logger, types.JobConfig{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		Predefined:    cfg.Jobs.Predefined,
	})

	slack, err := notifications.NewSlackService(logger)
	if err != nil {
		logger.Warnf("Failed to initialize Slack service: %v", err)
	} else {
		launcher.SetNotifier(notifications.NewNotificationService(slack))
	}

	runChecker := cron.NewRunChecker(launcher, logger)

	scheduler.RegisterTask("check-runs", func() error {
		start := time.Now()
		logger.WithFields(logrus.Fields{
			"task":      "check-runs",
			"timestamp": start.Format(time.RFC3339),
		}).Info("Starting scheduled run check")

		runChecker.CheckRuns()

		duration := time.Since(start)
		logger.WithFields(logrus.Fields{
			"task":      "check-runs",
			"duration":  duration.String(),
			"timestamp": time.Now().Format(time.RFC3339),
		}).Info("Completed scheduled run check")

		return nil
	})

	loadRecipesJob := cron.NewLoadRecipesJob(launcher, scheduler, cfg, logger)
	scheduler.RegisterTask("load-recipes", loadRecipesJob.Run)

	for _, job := range cfg.Jobs.Predefined {
		if job.Recipe == "" {
			continue
		}

		recipeName := job.Recipe
		scheduler.RegisterTask(job.TaskName, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			run, err := launcher.Submit(ctx, recipeName, recipe.SubmitOptions{})
			if err != nil {
				return err
			}

			logger.WithFields(logrus.Fields{
				"recipe":       recipeName,
				"run_id":       run.ID,
				"batch_job_id": run.BatchJobID,
			}).Info("Scheduled recipe submitted")
			return nil
		})
	}

	if err := scheduler.LoadPredefinedJobs(cfg.Jobs.Predefined); err != nil {
		logger.Fatalf("Failed to load predefined jobs: %v", err)
	}

	return &Handler{
		launcher:   launcher,
		logger:     logger,
		config:     cfg,
		Scheduler:  scheduler,
		runChecker: runChecker,
	}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	names, err := h.launcher.GetMonitoredRecipes()
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	recipes := make([]*types.RecipeConfig, 0, len(names))
	for _, name := range names {
		rc, err := h.launcher.GetRecipe(name)
		if err != nil {
			continue
		}
		recipes = append(recipes, rc)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recipes": recipes,
		"count":   len(recipes),
	})
}

func (h *Handler) GetRecipeInfo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	recipeName := vars["recipeName"]

	recipeInfo, err := h.launcher.GetRecipe(recipeName)
	if err != nil {
		h.handleError(w, err, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recipeInfo)
}

func (h *Handler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	recipeName := vars["recipeName"]

	var req SubmitRequest
	if r.Body != nil {
		// An empty body means catalog defaults.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.handleError(w, fmt.Errorf("invalid request body: %w", err), http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	run, err := h.launcher.Submit(ctx, recipeName, recipe.SubmitOptions{
		Mode:             types.RunMode(req.Mode),
		MaxParallelTasks: req.MaxParallelTasks,
		Resources:        req.Resources,
	})
	if err != nil {
		if !h.launcher.RecipeExists(recipeName) {
			h.handleError(w, err, http.StatusNotFound)
			return
		}
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(run)
}

func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	state := types.RunState(r.URL.Query().Get("state"))

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	runs, err := h.launcher.ListRuns(state, limit)
	if err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	run, err := h.launcher.RefreshRun(ctx, runID, false)
	if err != nil {
		h.handleError(w, err, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	runID := vars["id"]

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	run, err := h.launcher.CancelRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.handleError(w, err, http.StatusNotFound)
			return
		}
		// Any other failure means the run exists but can no longer be
		// cancelled, a finished run for example.
		h.handleError(w, err, http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.Scheduler.ListJobs()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs":        jobs,
		"active_jobs": len(jobs),
	})
}

func (h *Handler) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	jobName := vars["name"]

	enabled, description, err := h.Scheduler.GetJobStatus(jobName)
	if err != nil {
		h.handleError(w, err, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"name":        jobName,
		"enabled":     enabled,
		"description": description,
	})
}

func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Start(); err != nil {
		h.handleError(w, err, http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "scheduler started successfully",
	})
}

func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	h.Scheduler.Stop()
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "scheduler stopped successfully",
	})
}

// GetActiveRuns refreshes every active run against the scheduler and
// returns the up-to-date set.
func (h *Handler) GetActiveRuns(w http.ResponseWriter, r *http.Request) {

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	active, err := h.launcher.ActiveRuns()
	if err != nil {
		h.logger.Errorf("Failed to get active runs: %v", err)
		http.Error(w, "Failed to get active runs", http.StatusInternalServerError)
		return
	}

	h.logger.Debugf("Found %d active runs", len(active))

	response := ActiveRunsResponse{
		Runs:        make([]RunSummary, 0),
		LastUpdated: time.Now(),
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		semaphore = make(chan struct{}, 10)
	)

	for _, run := range active {
		select {
		case <-ctx.Done():
			h.logger.Error("Request timeout while processing runs")
			http.Error(w, "Request timeout", http.StatusGatewayTimeout)
			return
		default:
			wg.Add(1)
			go func(runID string) {
				defer wg.Done()
				semaphore <- struct{}{}
				defer func() { <-semaphore }()

				refreshed, err := h.launcher.RefreshRun(ctx, runID, false)
				if err != nil {
					h.logger.Debugf("Failed to refresh run %s: %v", runID, err)
					return
				}

				mu.Lock()
				response.Runs = append(response.Runs, summarize(refreshed))
				mu.Unlock()
			}(run.ID)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		h.logger.Error("Request timeout while waiting for runs to refresh")
		http.Error(w, "Request timeout", http.StatusGatewayTimeout)
		return
	case <-done:

		sort.Slice(response.Runs, func(i, j int) bool {
			if response.Runs[i].Recipe == response.Runs[j].Recipe {
				return response.Runs[i].SubmittedAt < response.Runs[j].SubmittedAt
			}
			return response.Runs[i].Recipe < response.Runs[j].Recipe
		})

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		if err := json.NewEncoder(w).Encode(response); err != nil {
			h.logger.Errorf("Failed to encode response: %v", err)
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
			return
		}
	}
}

func summarize(run *types.RunInfo) RunSummary {
	summary := RunSummary{
		ID:         run.ID,
		Recipe:     run.Recipe,
		Mode:       string(run.Mode),
		State:      string(run.State),
		BatchJobID: run.BatchJobID,
		Partition:  run.Resources.Partition,
		Walltime:   run.Resources.Walltime,
		OutputLog:  run.OutputLog,
		ErrorLog:   run.ErrorLog,
	}

	if !run.SubmittedAt.IsZero() {
		summary.SubmittedAt = run.SubmittedAt.Format(time.RFC3339)
	}
	if !run.EndedAt.IsZero() {
		summary.EndedAt = run.EndedAt.Format(time.RFC3339)
	}

	return summary
}

func (h *Handler) handleError(w http.ResponseWriter, err error, code int) {
	h.logger.Error(err)
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
	})
}

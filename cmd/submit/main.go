package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/climops/recipe-launcher/internal/batch"
	"github.com/climops/recipe-launcher/internal/config"
	"github.com/sirupsen/logrus"
)

// One-shot submission tool: renders the batch script for a single recipe
// the way the server does, then prints it or hands it to sbatch. Replaces
// the old hand-written launcher scripts for ad-hoc runs.
func main() {
	configPath := flag.String("config", "config/config.json", "path to config file")
	recipeName := flag.String("recipe", "", "recipe to submit (required)")
	maxTasks := flag.Int("max-parallel-tasks", 0, "override max_parallel_tasks")
	dryRun := flag.Bool("dry-run", false, "print the rendered script instead of submitting")
	flag.Parse()

	logger := logrus.New()

	if *recipeName == "" {
		fmt.Fprintln(os.Stderr, "usage: submit -recipe <name> [-max-parallel-tasks N] [-dry-run]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	recipeInfo, err := config.GetRecipeInfo(*recipeName)
	if err != nil {
		logger.Fatalf("Failed to resolve recipe: %v", err)
	}

	resources := recipeInfo.Resources.Merge(cfg.Scheduler.Defaults)

	tasks := *maxTasks
	if tasks == 0 {
		tasks = recipeInfo.MaxParallelTasks
	}
	if tasks == 0 {
		tasks = cfg.Tool.MaxParallelTasks
	}

	stamp := time.Now().Format("20060102-150405")
	outputLog := filepath.Join(cfg.Scheduler.LogDir, fmt.Sprintf("%s-%s.out", recipeInfo.Name, stamp))
	errorLog := filepath.Join(cfg.Scheduler.LogDir, fmt.Sprintf("%s-%s.err", recipeInfo.Name, stamp))

	script, err := batch.RenderScript(batch.ScriptSpec{
		JobName:   recipeInfo.Name,
		OutputLog: outputLog,
		ErrorLog:  errorLog,
		Resources: resources,
		Command:   batch.ToolCommand(cfg.Tool.Binary, cfg.Tool.ConfigDir, recipeInfo.Name, tasks),
	})
	if err != nil {
		logger.Fatalf("Failed to render script: %v", err)
	}

	if *dryRun {
		fmt.Print(script)
		return
	}

	submitTimeout, err := time.ParseDuration(cfg.Scheduler.SubmitTimeout)
	if err != nil {
		logger.Fatalf("Invalid submit timeout: %v", err)
	}

	slurm := batch.NewSlurmClient(
		logger,
		cfg.Scheduler.SbatchBin,
		cfg.Scheduler.SqueueBin,
		cfg.Scheduler.SacctBin,
		cfg.Scheduler.ScancelBin,
		submitTimeout,
	)

	scriptPath := filepath.Join(cfg.Scheduler.ScriptDir, fmt.Sprintf("%s-%s.sh", recipeInfo.Name, stamp))

	jobID, err := slurm.Submit(context.Background(), scriptPath, script)
	if err != nil {
		logger.Fatalf("Submission failed: %v", err)
	}

	fmt.Printf("Submitted batch job %s for recipe %s\n", jobID, recipeInfo.Name)
}

package cron

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/climops/recipe-launcher/internal/batch"
	"github.com/climops/recipe-launcher/internal/config"
	"github.com/climops/recipe-launcher/internal/recipe"
	"github.com/climops/recipe-launcher/internal/store"
	"github.com/climops/recipe-launcher/internal/testutil"
	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `production:
  - name: recipe_ocean_heat
    display_name: Ocean Heat Content
    group: production
    max_parallel_tasks: 8
    schedule: "0 0 6 * * 1"
    resources:
      partition: compute
      walltime: "08:00:00"
      memory: 64G
  - name: recipe_gwls
    display_name: Global Warming Levels
    group: production
    resources:
      partition: compute
      walltime: "12:00:00"
      memory: 128G
testing:
  - name: recipe_fwi
    group: testing
    resources:
      partition: shared
      walltime: "01:00:00"
      memory: 8G
`

func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func writeCatalog(t *testing.T, contents string) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "recipes.yaml"), []byte(contents), 0o644))
	chdir(t, dir)
}

func newLoadTestLauncher(t *testing.T, cfg *config.Config) *recipe.Launcher {
	t.Helper()

	logger := logrus.New()
	runStore, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runStore.Close() })

	fake := testutil.NewFakeSlurm(t, "1", "PENDING", "")
	slurm := batch.NewSlurmClient(logger, fake.Sbatch, fake.Squeue, fake.Sacct, fake.Scancel, 10*time.Second)

	return recipe.NewLauncher(logger, cfg, runStore, slurm, batch.NewLocalRunner(logger))
}

func TestLoadRecipesJob(t *testing.T) {
	writeCatalog(t, testCatalog)

	cfg := config.DefaultConfig()
	launcher := newLoadTestLauncher(t, cfg)

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	scheduler := NewScheduler(logger, cfg.Jobs)
	job := NewLoadRecipesJob(launcher, scheduler, cfg, logger)
	assert.NotNil(t, job)

	err := job.Run()
	assert.NoError(t, err)

	loaded, err := launcher.GetMonitoredRecipes()
	assert.NoError(t, err)
	assert.Equal(t, []string{"recipe_fwi", "recipe_gwls", "recipe_ocean_heat"}, loaded)

	rc, err := launcher.GetRecipe("recipe_gwls")
	assert.NoError(t, err)
	assert.Equal(t, "128G", rc.Resources.Memory)

	// The entry carrying a schedule gets a recurring submission job.
	jobs := scheduler.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "recipe_ocean_heat", jobs[0].Recipe)
	assert.Equal(t, "0 0 6 * * 1", jobs[0].Schedule)
	assert.Equal(t, "submit-recipe_ocean_heat", jobs[0].TaskName)
}

func TestLoadRecipesJobRejectsInvalidEntries(t *testing.T) {
	// recipe_broken has no partition, and the defaults carry none either.
	writeCatalog(t, `production:
  - name: recipe_ok
    resources:
      partition: compute
      walltime: "08:00:00"
      memory: 64G
  - name: recipe_broken
    resources:
      walltime: "08:00:00"
      memory: 64G
`)

	cfg := config.DefaultConfig()
	cfg.Scheduler.Defaults = types.Resources{Walltime: "08:00:00", Memory: "64G"}
	launcher := newLoadTestLauncher(t, cfg)

	job := NewLoadRecipesJob(launcher, nil, cfg, logrus.New())
	err := job.Run()
	assert.NoError(t, err)

	loaded, err := launcher.GetMonitoredRecipes()
	assert.NoError(t, err)
	assert.Equal(t, []string{"recipe_ok"}, loaded)
	assert.False(t, launcher.RecipeExists("recipe_broken"))
}

func TestLoadRecipesJobMissingCatalog(t *testing.T) {
	chdir(t, t.TempDir())

	cfg := config.DefaultConfig()
	launcher := newLoadTestLauncher(t, cfg)

	job := NewLoadRecipesJob(launcher, nil, cfg, logrus.New())
	err := job.Run()
	assert.Error(t, err)
}

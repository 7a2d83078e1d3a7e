package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/climops/recipe-launcher/internal/batch"
	"github.com/climops/recipe-launcher/internal/config"
	"github.com/climops/recipe-launcher/internal/recipe"
	"github.com/climops/recipe-launcher/internal/store"
	"github.com/climops/recipe-launcher/internal/testutil"
	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiPath = "/api/v1"

func setupTestHandler(t *testing.T, fake *testutil.FakeSlurm) *Handler {
	t.Helper()

	t.Setenv("SLACK_WEBHOOK_URL", "")

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Scheduler.LogDir = filepath.Join(dir, "logs")
	cfg.Scheduler.ScriptDir = filepath.Join(dir, "scripts")
	cfg.Scheduler.Defaults = types.Resources{
		Partition: "compute",
		Walltime:  "08:00:00",
		Memory:    "64G",
	}
	cfg.Jobs = types.JobConfig{
		MaxConcurrent: 2,
		Predefined: []types.Job{
			{
				Name:        "weekly-ocean-heat",
				Schedule:    "0 0 6 * * 1",
				TaskName:    "submit-recipe_ocean_heat",
				Recipe:      "recipe_ocean_heat",
				Enabled:     true,
				Description: "Weekly ocean heat content run",
			},
		},
	}

	runStore, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runStore.Close() })

	slurm := batch.NewSlurmClient(logger, fake.Sbatch, fake.Squeue, fake.Sacct, fake.Scancel, 10*time.Second)
	launcher := recipe.NewLauncher(logger, cfg, runStore, slurm, batch.NewLocalRunner(logger))
	launcher.SetRecipes([]types.RecipeConfig{
		{
			Name:             "recipe_ocean_heat",
			DisplayName:      "Ocean Heat Content",
			Group:            "production",
			MaxParallelTasks: 8,
		},
		{
			Name:  "recipe_fwi",
			Group: "testing",
		},
	})

	return NewHandler(launcher, logger, cfg)
}

func TestHealthCheck(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "1", "", "")
	handler := setupTestHandler(t, fake)

	req, err := http.NewRequest("GET", apiPath+"/health", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	router := mux.NewRouter()
	SetupRoutes(router, handler)
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var response map[string]string
	err = json.Unmarshal(rr.Body.Bytes(), &response)
	if err != nil {
		t.Fatal(err)
	}

	assert.Equal(t, "ok", response["status"])
}

func TestListRecipes(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "1", "", "")
	handler := setupTestHandler(t, fake)

	req, err := http.NewRequest("GET", apiPath+"/recipes", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	handler.ListRecipes(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		Recipes []types.RecipeConfig `json:"recipes"`
		Count   int                  `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))

	assert.Equal(t, 2, response.Count)
	assert.Equal(t, "recipe_fwi", response.Recipes[0].Name)
	assert.Equal(t, "recipe_ocean_heat", response.Recipes[1].Name)
}

func TestGetRecipeInfo(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "1", "", "")
	handler := setupTestHandler(t, fake)

	req, err := http.NewRequest("GET", apiPath+"/recipes/recipe_ocean_heat", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"recipeName": "recipe_ocean_heat"})

	rr := httptest.NewRecorder()
	handler.GetRecipeInfo(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var response types.RecipeConfig
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	assert.Equal(t, "Ocean Heat Content", response.DisplayName)
	assert.Equal(t, 8, response.MaxParallelTasks)
}

func TestGetRecipeInfoNotFound(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "1", "", "")
	handler := setupTestHandler(t, fake)

	req, err := http.NewRequest("GET", apiPath+"/recipes/recipe_unknown", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"recipeName": "recipe_unknown"})

	rr := httptest.NewRecorder()
	handler.GetRecipeInfo(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSubmitRun(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "77001", "PENDING", "")
	handler := setupTestHandler(t, fake)

	req, err := http.NewRequest("POST", apiPath+"/recipes/recipe_ocean_heat/runs", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"recipeName": "recipe_ocean_heat"})

	rr := httptest.NewRecorder()
	handler.SubmitRun(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	var run types.RunInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
	assert.Equal(t, "recipe_ocean_heat", run.Recipe)
	assert.Equal(t, types.ModeBatch, run.Mode)
	assert.Equal(t, "77001", run.BatchJobID)
	assert.Equal(t, types.RunSubmitted, run.State)
}

func TestSubmitRunEmptyBody(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "77001", "PENDING", "")
	handler := setupTestHandler(t, fake)

	// An empty body, as opposed to no body at all, must also fall back to
	// catalog defaults instead of failing the JSON decode.
	req, err := http.NewRequest("POST", apiPath+"/recipes/recipe_ocean_heat/runs", strings.NewReader(""))
	require.NoError(t, err)
	req = mux.SetURLVars(req, map[string]string{"recipeName": "recipe_ocean_heat"})

	rr := httptest.NewRecorder()
	handler.SubmitRun(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	var run types.RunInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
	assert.Equal(t, types.ModeBatch, run.Mode)
}

func TestSubmitRunWithOverrides(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "77002", "PENDING", "")
	handler := setupTestHandler(t, fake)

	body, err := json.Marshal(SubmitRequest{
		MaxParallelTasks: 2,
		Resources: types.Resources{
			Partition: "shared",
			Walltime:  "02:00:00",
		},
	})
	require.NoError(t, err)

	req, err := http.NewRequest("POST", apiPath+"/recipes/recipe_fwi/runs", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"recipeName": "recipe_fwi"})

	rr := httptest.NewRecorder()
	handler.SubmitRun(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	var run types.RunInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
	assert.Equal(t, 2, run.MaxParallelTasks)
	assert.Equal(t, "shared", run.Resources.Partition)
	assert.Equal(t, "02:00:00", run.Resources.Walltime)
}

func TestSubmitRunUnknownRecipe(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "1", "", "")
	handler := setupTestHandler(t, fake)

	req, err := http.NewRequest("POST", apiPath+"/recipes/recipe_unknown/runs", nil)
	if err != nil {
		t.Fatal(err)
	}
	req = mux.SetURLVars(req, map[string]string{"recipeName": "recipe_unknown"})

	rr := httptest.NewRecorder()
	handler.SubmitRun(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetRunAndList(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "77003", "RUNNING", "")
	handler := setupTestHandler(t, fake)

	submitReq, err := http.NewRequest("POST", apiPath+"/recipes/recipe_ocean_heat/runs", nil)
	require.NoError(t, err)
	submitReq = mux.SetURLVars(submitReq, map[string]string{"recipeName": "recipe_ocean_heat"})

	rr := httptest.NewRecorder()
	handler.SubmitRun(rr, submitReq)
	require.Equal(t, http.StatusCreated, rr.Code)

	var submitted types.RunInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&submitted))

	req, err := http.NewRequest("GET", apiPath+"/runs/"+submitted.ID, nil)
	require.NoError(t, err)
	req = mux.SetURLVars(req, map[string]string{"id": submitted.ID})

	rr = httptest.NewRecorder()
	handler.GetRun(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var run types.RunInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
	assert.Equal(t, submitted.ID, run.ID)
	assert.Equal(t, types.RunRunning, run.State)

	listReq, err := http.NewRequest("GET", apiPath+"/runs?state=running", nil)
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	handler.ListRuns(rr, listReq)

	assert.Equal(t, http.StatusOK, rr.Code)

	var listResponse struct {
		Runs  []types.RunInfo `json:"runs"`
		Count int             `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&listResponse))
	assert.Equal(t, 1, listResponse.Count)
}

func TestGetRunNotFound(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "1", "", "")
	handler := setupTestHandler(t, fake)

	req, err := http.NewRequest("GET", apiPath+"/runs/no-such-run", nil)
	require.NoError(t, err)
	req = mux.SetURLVars(req, map[string]string{"id": "no-such-run"})

	rr := httptest.NewRecorder()
	handler.GetRun(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancelRun(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "77004", "PENDING", "")
	handler := setupTestHandler(t, fake)

	submitReq, err := http.NewRequest("POST", apiPath+"/recipes/recipe_ocean_heat/runs", nil)
	require.NoError(t, err)
	submitReq = mux.SetURLVars(submitReq, map[string]string{"recipeName": "recipe_ocean_heat"})

	rr := httptest.NewRecorder()
	handler.SubmitRun(rr, submitReq)
	require.Equal(t, http.StatusCreated, rr.Code)

	var submitted types.RunInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&submitted))

	req, err := http.NewRequest("DELETE", apiPath+"/runs/"+submitted.ID, nil)
	require.NoError(t, err)
	req = mux.SetURLVars(req, map[string]string{"id": submitted.ID})

	rr = httptest.NewRecorder()
	handler.CancelRun(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var run types.RunInfo
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&run))
	assert.Equal(t, types.RunCancelled, run.State)

	// Cancelling the same run again conflicts with its terminal state.
	again, err := http.NewRequest("DELETE", apiPath+"/runs/"+submitted.ID, nil)
	require.NoError(t, err)
	again = mux.SetURLVars(again, map[string]string{"id": submitted.ID})

	rr = httptest.NewRecorder()
	handler.CancelRun(rr, again)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestCancelRunNotFound(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "77004", "PENDING", "")
	handler := setupTestHandler(t, fake)

	req, err := http.NewRequest("DELETE", apiPath+"/runs/no-such-run", nil)
	require.NoError(t, err)
	req = mux.SetURLVars(req, map[string]string{"id": "no-such-run"})

	rr := httptest.NewRecorder()
	handler.CancelRun(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetActiveRuns(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "77005", "RUNNING", "")
	handler := setupTestHandler(t, fake)

	submitReq, err := http.NewRequest("POST", apiPath+"/recipes/recipe_ocean_heat/runs", nil)
	require.NoError(t, err)
	submitReq = mux.SetURLVars(submitReq, map[string]string{"recipeName": "recipe_ocean_heat"})

	rr := httptest.NewRecorder()
	handler.SubmitRun(rr, submitReq)
	require.Equal(t, http.StatusCreated, rr.Code)

	req, err := http.NewRequest("GET", apiPath+"/runs/active", nil)
	require.NoError(t, err)

	rr = httptest.NewRecorder()
	handler.GetActiveRuns(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var response ActiveRunsResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	require.Len(t, response.Runs, 1)
	assert.Equal(t, "recipe_ocean_heat", response.Runs[0].Recipe)
	assert.Equal(t, "77005", response.Runs[0].BatchJobID)
	assert.Equal(t, "compute", response.Runs[0].Partition)
}

func TestJobEndpoints(t *testing.T) {
	fake := testutil.NewFakeSlurm(t, "1", "", "")
	handler := setupTestHandler(t, fake)

	req, err := http.NewRequest("GET", apiPath+"/jobs", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	handler.ListJobs(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		ActiveJobs int `json:"active_jobs"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	assert.Equal(t, 1, response.ActiveJobs)

	statusReq, err := http.NewRequest("GET", apiPath+"/jobs/weekly-ocean-heat/status", nil)
	require.NoError(t, err)
	statusReq = mux.SetURLVars(statusReq, map[string]string{"name": "weekly-ocean-heat"})

	rr = httptest.NewRecorder()
	handler.GetJobStatus(rr, statusReq)

	assert.Equal(t, http.StatusOK, rr.Code)

	var status struct {
		Name        string `json:"name"`
		Enabled     bool   `json:"enabled"`
		Description string `json:"description"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	assert.Equal(t, "weekly-ocean-heat", status.Name)
	assert.True(t, status.Enabled)
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/climops/recipe-launcher/pkg/types"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Tool      ToolConfig      `json:"tool"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Poller    PollerConfig    `json:"poller"`
	Store     StoreConfig     `json:"store"`
	Slack     SlackConfig     `json:"slack"`
	Jobs      types.JobConfig `json:"jobs"`
}

type ServerConfig struct {
	Port         string `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

// ToolConfig describes the external diagnostics tool a run invokes.
type ToolConfig struct {
	Binary           string `json:"binary"`
	ConfigDir        string `json:"config_dir"`
	MaxParallelTasks int    `json:"max_parallel_tasks"`
}

// SchedulerConfig describes the batch scheduler commands and the default
// resource directives applied when a recipe does not override them.
type SchedulerConfig struct {
	SbatchBin     string          `json:"sbatch_bin"`
	SqueueBin     string          `json:"squeue_bin"`
	SacctBin      string          `json:"sacct_bin"`
	ScancelBin    string          `json:"scancel_bin"`
	LogDir        string          `json:"log_dir"`
	ScriptDir     string          `json:"script_dir"`
	SubmitTimeout string          `json:"submit_timeout"`
	Defaults      types.Resources `json:"defaults"`
}

type PollerConfig struct {
	Interval string `json:"interval"`
	Timeout  string `json:"timeout"`
}

type StoreConfig struct {
	Path string `json:"path"`
}

type SlackConfig struct {
	WebhookURL            string `json:"webhook_url"`
	NotificationThreshold string `json:"notification_threshold"`
}

func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if err := godotenv.Load(); err != nil {
			if err := godotenv.Load(".env.local"); err != nil {
				fmt.Printf("No .env or .env.local file found. Using environment variables.\n")
			}
		}

		return fromEnv(), nil
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)
	return &config, nil
}

func fromEnv() *Config {
	maxTasks, err := strconv.Atoi(getEnv("TOOL_MAX_PARALLEL_TASKS", "8"))
	if err != nil {
		maxTasks = 8
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Tool: ToolConfig{
			Binary:           getEnv("TOOL_BINARY", "esmvaltool"),
			ConfigDir:        getEnv("TOOL_CONFIG_DIR", ""),
			MaxParallelTasks: maxTasks,
		},
		Scheduler: SchedulerConfig{
			LogDir:    getEnv("SCHEDULER_LOG_DIR", "logs"),
			ScriptDir: getEnv("SCHEDULER_SCRIPT_DIR", "scripts"),
			Defaults: types.Resources{
				Account:   getEnv("SCHEDULER_ACCOUNT", ""),
				Partition: getEnv("SCHEDULER_PARTITION", "compute"),
				Walltime:  getEnv("SCHEDULER_WALLTIME", "08:00:00"),
				Memory:    getEnv("SCHEDULER_MEMORY", "64G"),
			},
		},
		Poller: PollerConfig{
			Interval: getEnv("POLLER_INTERVAL", "1m"),
		},
		Store: StoreConfig{
			Path: getEnv("STORE_PATH", "runs.db"),
		},
	}

	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.Tool.Binary == "" {
		cfg.Tool.Binary = "esmvaltool"
	}
	if cfg.Tool.MaxParallelTasks == 0 {
		cfg.Tool.MaxParallelTasks = 8
	}
	if cfg.Scheduler.SbatchBin == "" {
		cfg.Scheduler.SbatchBin = "sbatch"
	}
	if cfg.Scheduler.SqueueBin == "" {
		cfg.Scheduler.SqueueBin = "squeue"
	}
	if cfg.Scheduler.SacctBin == "" {
		cfg.Scheduler.SacctBin = "sacct"
	}
	if cfg.Scheduler.ScancelBin == "" {
		cfg.Scheduler.ScancelBin = "scancel"
	}
	if cfg.Scheduler.LogDir == "" {
		cfg.Scheduler.LogDir = "logs"
	}
	if cfg.Scheduler.ScriptDir == "" {
		cfg.Scheduler.ScriptDir = "scripts"
	}
	if cfg.Scheduler.SubmitTimeout == "" {
		cfg.Scheduler.SubmitTimeout = "30s"
	}
	if cfg.Scheduler.Defaults.Walltime == "" {
		cfg.Scheduler.Defaults.Walltime = "08:00:00"
	}
	if cfg.Poller.Interval == "" {
		cfg.Poller.Interval = "1m"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "runs.db"
	}
	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = 4
	}
}

func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Scheduler.Defaults.Partition = "compute"
	cfg.Scheduler.Defaults.Memory = "64G"
	return cfg
}

// LoadCatalogConfig locates and parses the recipes.yaml catalog, walking up
// from the working directory the way deployments nest the config dir.
func LoadCatalogConfig() (*types.CatalogConfig, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	var catalogPath string
	for i := 0; i < 3; i++ {
		catalogPath = filepath.Join(wd, "config", "recipes.yaml")
		if _, err := os.Stat(catalogPath); err == nil {
			break
		}

		if i == 0 {
			catalogPath = filepath.Join(wd, "recipes.yaml")
			if _, err := os.Stat(catalogPath); err == nil {
				break
			}
		}

		wd = filepath.Dir(wd)
		if wd == "/" {
			return nil, fmt.Errorf("config directory not found")
		}
	}

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var catalog types.CatalogConfig
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	return &catalog, nil
}

// GetRecipeInfo looks a recipe up in the catalog by name.
func GetRecipeInfo(recipeName string) (*types.RecipeConfig, error) {
	catalog, err := LoadCatalogConfig()
	if err != nil {
		return nil, err
	}

	for _, recipe := range catalog.Production {
		if recipe.Name == recipeName {
			return &recipe, nil
		}
	}

	for _, recipe := range catalog.Testing {
		if recipe.Name == recipeName {
			return &recipe, nil
		}
	}

	return nil, fmt.Errorf("recipe %s not found in catalog", recipeName)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

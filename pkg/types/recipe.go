package types

// RecipeConfig represents a single recipe entry from the catalog file
type RecipeConfig struct {
	Name             string    `yaml:"name" json:"name"`
	DisplayName      string    `yaml:"display_name" json:"display_name"`
	Group            string    `yaml:"group" json:"group"`
	MaxParallelTasks int       `yaml:"max_parallel_tasks" json:"max_parallel_tasks"`
	Schedule         string    `yaml:"schedule,omitempty" json:"schedule,omitempty"`
	Resources        Resources `yaml:"resources" json:"resources"`
}

// CatalogConfig represents the recipe catalog split by run cadence
type CatalogConfig struct {
	Production []RecipeConfig `yaml:"production"`
	Testing    []RecipeConfig `yaml:"testing"`
}

// Resources holds the batch scheduler directives for one submission.
// Zero values fall back to the launcher defaults from the main config.
type Resources struct {
	Account   string `yaml:"account" json:"account"`
	Partition string `yaml:"partition" json:"partition"`
	Walltime  string `yaml:"walltime" json:"walltime"`
	Memory    string `yaml:"memory" json:"memory"`
	Cpus      int    `yaml:"cpus" json:"cpus"`
}

// Merge fills empty fields from the given defaults.
func (r Resources) Merge(defaults Resources) Resources {
	if r.Account == "" {
		r.Account = defaults.Account
	}
	if r.Partition == "" {
		r.Partition = defaults.Partition
	}
	if r.Walltime == "" {
		r.Walltime = defaults.Walltime
	}
	if r.Memory == "" {
		r.Memory = defaults.Memory
	}
	if r.Cpus == 0 {
		r.Cpus = defaults.Cpus
	}
	return r
}

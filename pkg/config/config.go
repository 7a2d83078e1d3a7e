package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/climops/recipe-launcher/pkg/types"
	"gopkg.in/yaml.v3"
)

// Catalog is the parsed recipes.yaml file, split into production recipes
// (run on a cadence) and testing recipes (run on demand).
type Catalog struct {
	Production []types.RecipeConfig `yaml:"production"`
	Testing    []types.RecipeConfig `yaml:"testing"`
}

func LoadCatalog(catalogPath string) (*Catalog, error) {
	if catalogPath == "" {
		catalogPath = "config/recipes.yaml"
	}

	absPath, err := filepath.Abs(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	return &catalog, nil
}

func (c *Catalog) GetRecipeNames(group string) []string {
	var recipes []types.RecipeConfig
	switch group {
	case "production":
		recipes = c.Production
	case "testing":
		recipes = c.Testing
	default:
		return nil
	}

	names := make([]string, len(recipes))
	for i, recipe := range recipes {
		names[i] = recipe.Name
	}
	return names
}

func (c *Catalog) GetRecipeByName(name string) *types.RecipeConfig {
	for _, recipe := range c.Production {
		if recipe.Name == name {
			return &recipe
		}
	}

	for _, recipe := range c.Testing {
		if recipe.Name == name {
			return &recipe
		}
	}

	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCatalog = `production:
  - name: recipe_ocean_heat
    display_name: "Ocean Heat Content"
    max_parallel_tasks: 8
  - name: recipe_gwls
    display_name: "Global Warming Levels"
testing:
  - name: recipe_fwi
    resources:
      partition: shared
      walltime: "01:00:00"
`

func writeCatalog(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalog(t))
	require.NoError(t, err)

	assert.Len(t, catalog.Production, 2)
	assert.Len(t, catalog.Testing, 1)
	assert.Equal(t, "recipe_ocean_heat", catalog.Production[0].Name)
	assert.Equal(t, 8, catalog.Production[0].MaxParallelTasks)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGetRecipeNames(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalog(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"recipe_ocean_heat", "recipe_gwls"}, catalog.GetRecipeNames("production"))
	assert.Equal(t, []string{"recipe_fwi"}, catalog.GetRecipeNames("testing"))
	assert.Nil(t, catalog.GetRecipeNames("staging"))
}

func TestGetRecipeByName(t *testing.T) {
	catalog, err := LoadCatalog(writeCatalog(t))
	require.NoError(t, err)

	recipe := catalog.GetRecipeByName("recipe_fwi")
	require.NotNil(t, recipe)
	assert.Equal(t, "shared", recipe.Resources.Partition)

	assert.Nil(t, catalog.GetRecipeByName("recipe_unknown"))
}

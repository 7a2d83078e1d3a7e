package batch

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/climops/recipe-launcher/pkg/types"
)

// The following fields are available in the submission script template:
//
// JobName      scheduler job name
// OutputLog    stdout log path
// ErrorLog     stderr log path
// Account      accounting project, omitted when empty
// Partition    scheduler partition
// Walltime     time limit
// Memory       memory request
// Cpus         cpus per task, omitted when 0
// Command      the full tool invocation

var slurmTemplate = `#!/bin/bash
#SBATCH --job-name={{.JobName}}
#SBATCH --output={{.OutputLog}}
#SBATCH --error={{.ErrorLog}}
{{if .Account -}}
{{printf "#SBATCH --account=%s" .Account}}
{{- end}}
#SBATCH --partition={{.Partition}}
#SBATCH --time={{.Walltime}}
#SBATCH --mem={{.Memory}}
{{if ne .Cpus 0 -}}
{{printf "#SBATCH --cpus-per-task=%d" .Cpus}}
{{- end}}

set -eu -o pipefail

{{.Command}}
`

type scriptParams struct {
	JobName   string
	OutputLog string
	ErrorLog  string
	Account   string
	Partition string
	Walltime  string
	Memory    string
	Cpus      int
	Command   string
}

// ScriptSpec describes one submission script to render.
type ScriptSpec struct {
	JobName   string
	OutputLog string
	ErrorLog  string
	Resources types.Resources
	Command   string
}

var tmpl = template.Must(template.New("slurm").Parse(slurmTemplate))

// RenderScript produces the batch submission script for a run.
func RenderScript(spec ScriptSpec) (string, error) {
	if spec.JobName == "" {
		return "", fmt.Errorf("job name cannot be empty")
	}
	if spec.Command == "" {
		return "", fmt.Errorf("command cannot be empty")
	}
	if spec.Resources.Partition == "" {
		return "", fmt.Errorf("partition cannot be empty")
	}

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, scriptParams{
		JobName:   spec.JobName,
		OutputLog: spec.OutputLog,
		ErrorLog:  spec.ErrorLog,
		Account:   spec.Resources.Account,
		Partition: spec.Resources.Partition,
		Walltime:  spec.Resources.Walltime,
		Memory:    spec.Resources.Memory,
		Cpus:      spec.Resources.Cpus,
		Command:   spec.Command,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render submission script: %w", err)
	}

	return buf.String(), nil
}

// ToolCommand builds the diagnostics tool invocation for a recipe.
func ToolCommand(binary, configDir, recipe string, maxParallelTasks int) string {
	cmd := binary
	if configDir != "" {
		cmd = fmt.Sprintf("%s --config_dir %s", cmd, configDir)
	}
	return fmt.Sprintf("%s run %s --max_parallel_tasks=%d", cmd, recipe, maxParallelTasks)
}

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	iexec "github.com/ShayCichocki/stackrun/internal/exec"
	"github.com/ShayCichocki/stackrun/internal/executor"
	"github.com/ShayCichocki/stackrun/internal/graph"
	"github.com/ShayCichocki/stackrun/internal/report"
	"github.com/ShayCichocki/stackrun/internal/selector"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

var (
	planTasks          []string
	planFrameworks     []string
	planPackageManager string
	planTaskRunner     string
	planCache          string
	planTasksFile      string
	planAssumeAll      bool
)

var planCmd = &cobra.Command{
	Use:   "plan [task...]",
	Short: "Show batches and selected runners without running anything",
	Long: `Resolve the requested tasks into batches and show, for every task, the
runner the selection policy picks, the step that picked it, and the command
that would run.

Backends are probed as for a real run. Use --assume-all to plan as if every
backend were installed.`,
	RunE: runPlan,
}

func init() {
	f := planCmd.Flags()
	f.StringSliceVarP(&planTasks, "task", "t", nil, "Tasks to plan (comma separated)")
	f.StringSliceVar(&planFrameworks, "frameworks", nil, "Frameworks to filter to (comma separated)")
	f.StringVar(&planPackageManager, "package-manager", "", "Default package manager (npm, pnpm, yarn, bun)")
	f.StringVar(&planTaskRunner, "task-runner", "", "Default task runner (turbo, nx, lerna)")
	f.StringVar(&planCache, "cache", "", "Cache mode: aggressive, conservative or disabled")
	f.StringVar(&planTasksFile, "tasks-file", "", "Tasks file to overlay on the built-in tasks")
	f.BoolVar(&planAssumeAll, "assume-all", false, "Skip probing and treat every backend as available")
}

func runPlan(cmd *cobra.Command, args []string) error {
	names := taskNames(args, planTasks)
	if len(names) == 0 {
		return configError(errors.New("no tasks requested (use --task)"))
	}

	p, err := loadProject(planTasksFile)
	if err != nil {
		return err
	}
	prefs, err := p.preferences(planTaskRunner, planPackageManager, planCache)
	if err != nil {
		return err
	}

	batches, err := graph.Resolve(names, p.registry)
	if err != nil {
		return configError(err)
	}

	var caps models.Capabilities
	if planAssumeAll {
		caps = models.NewCapabilities(models.AllBackends()...)
	} else {
		logger := p.logger()
		defer logger.Close()
		caps = p.detector(iexec.NewRunner(), logger).Detect(cmd.Context())
	}

	opts := executor.Options{Frameworks: splitCSV(planFrameworks), Cache: prefs.Cache}
	printer := report.NewPrinter(os.Stdout, false)
	for _, batch := range batches {
		fmt.Printf("Batch %d:\n", batch.Depth)
		printer.Table([]string{"TASK", "RUNNER", "STEP", "COMMAND"}, planRows(p, batch, caps, prefs, opts))
		fmt.Println()
	}
	return nil
}

// planRows explains the runner choice for each task of a batch.
func planRows(p *project, batch models.Batch, caps models.Capabilities, prefs selector.Preferences, opts executor.Options) [][]string {
	rows := make([][]string, 0, len(batch.Tasks))
	for _, name := range batch.Tasks {
		task, _ := p.registry.Get(name)

		decision, err := p.policy.Explain(*task, caps, prefs)
		if err != nil {
			rows = append(rows, []string{name, "-", "none", err.Error()})
			continue
		}

		var command string
		c, err := executor.BuildCommand(decision.Runner, task.CommandFor(decision.Runner), name, opts)
		if err != nil {
			command = err.Error()
		} else {
			command = c.String()
		}

		runner := string(decision.Runner)
		if fb := fallbackRunners(task); fb != "" {
			runner += " (then " + fb + ")"
		}
		rows = append(rows, []string{name, runner, string(decision.Step), command})
	}
	return rows
}

func fallbackRunners(task *models.TaskDefinition) string {
	names := make([]string, 0, len(task.Fallbacks))
	for _, fb := range task.Fallbacks {
		names = append(names, string(fb.Runner))
	}
	return strings.Join(names, ", ")
}

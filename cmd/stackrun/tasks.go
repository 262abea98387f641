package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stackrun/internal/report"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

var tasksFile string

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List registered tasks",
	Long: `List the built-in tasks overlaid with the project tasks file
(stackrun.tasks.yaml), in registration order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProject(tasksFile)
		if err != nil {
			return err
		}

		rows := make([][]string, 0, p.registry.Len())
		for _, name := range p.registry.Names() {
			task, _ := p.registry.Get(name)
			rows = append(rows, taskRow(task))
		}

		report.NewPrinter(os.Stdout, false).Table(
			[]string{"TASK", "RUNNER", "DEPENDS ON", "FALLBACKS", "FLAGS", "DESCRIPTION"}, rows)
		return nil
	},
}

func init() {
	tasksCmd.Flags().StringVar(&tasksFile, "tasks-file", "", "Tasks file to overlay on the built-in tasks")
}

func taskRow(t *models.TaskDefinition) []string {
	var flags []string
	if t.ParallelSafe {
		flags = append(flags, "parallel")
	}
	if t.Cacheable {
		flags = append(flags, "cacheable")
	}
	if t.Timeout > 0 {
		flags = append(flags, "timeout="+t.Timeout.String())
	}
	if t.Retries > 0 {
		flags = append(flags, fmt.Sprintf("retries=%d", t.Retries))
	}

	return []string{
		t.Name,
		string(t.PreferredRunner),
		orDash(strings.Join(t.Dependencies, ", ")),
		orDash(fallbackRunners(t)),
		orDash(strings.Join(flags, " ")),
		t.Description,
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

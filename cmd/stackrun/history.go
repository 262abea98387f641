package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stackrun/internal/report"
	"github.com/ShayCichocki/stackrun/internal/state"
)

var (
	historyLimit int
	historyTask  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `List runs recorded in the project history database
(.stackrun/state.db), newest first.

With --task, list that task's results across runs instead.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum rows to show (0 = all)")
	historyCmd.Flags().StringVar(&historyTask, "task", "", "Show results of a single task")
}

func runHistory(cmd *cobra.Command, args []string) error {
	p, err := loadProject("")
	if err != nil {
		return err
	}

	path := p.cfg.History.Path
	if path == "" {
		path = state.ProjectDBPath(p.root)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Println("No runs recorded yet. Run 'stackrun run --task <name>' to start.")
		return nil
	}

	db, err := openHistory(p)
	if err != nil {
		return err
	}
	defer db.Close()

	limit := historyLimit
	if limit <= 0 {
		limit = -1
	}

	printer := report.NewPrinter(os.Stdout, false)
	if historyTask != "" {
		records, err := db.ListTaskResults(historyTask, limit)
		if err != nil {
			return fmt.Errorf("list task results: %w", err)
		}
		if len(records) == 0 {
			fmt.Printf("No recorded results for task %q.\n", historyTask)
			return nil
		}
		printer.Table([]string{"RUN", "WHEN", "RUNNER", "ATTEMPTS", "DURATION", "STATUS"}, taskHistoryRows(records))
		return nil
	}

	runs, err := db.ListRuns(limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	printer.Table([]string{"RUN", "WHEN", "TASKS", "FAILED", "DURATION", "STATUS", "REQUESTED"}, runHistoryRows(runs))
	return nil
}

func runHistoryRows(runs []state.RunRecord) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		status := "ok"
		switch {
		case r.Bailed:
			status = "bailed"
		case !r.Succeeded:
			status = "failed"
		}
		rows = append(rows, []string{
			shortID(r.ID),
			humanize.Time(r.StartedAt),
			strconv.Itoa(r.Tasks),
			strconv.Itoa(r.Failed),
			humanizeMs(r.DurationMs),
			status,
			strings.Join(r.Requested, ","),
		})
	}
	return rows
}

func taskHistoryRows(records []state.TaskRecord) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		status := "ok"
		if !r.Succeeded {
			status = "failed"
		}
		rows = append(rows, []string{
			shortID(r.RunID),
			humanize.Time(r.StartedAt),
			orDash(string(r.Runner)),
			strconv.Itoa(r.Attempts),
			humanizeMs(r.DurationMs),
			status,
		})
	}
	return rows
}

// shortID trims a run UUID to its first block.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

func humanizeMs(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return humanize.FtoaWithDigits(float64(ms)/1000, 2) + "s"
}

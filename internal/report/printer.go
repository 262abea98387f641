// Package report renders run progress and summaries for humans and machines.
package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/ShayCichocki/stackrun/internal/orchestrator"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

// Status symbols.
const (
	symbolBatch   = "▸"
	symbolStart   = "●"
	symbolOK      = "✓"
	symbolFail    = "✗"
	symbolSkipped = "○"
)

// Printer writes human-readable progress lines.
type Printer struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool

	headerStyle lipgloss.Style
	cellStyle   lipgloss.Style
	okStyle     lipgloss.Style
	failStyle   lipgloss.Style
	dimStyle    lipgloss.Style
}

// NewPrinter creates a printer. When verbose is false, captured output of
// failed tasks is printed after the failure line.
func NewPrinter(out io.Writer, verbose bool) *Printer {
	return &Printer{
		out:     out,
		verbose: verbose,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("7")),

		cellStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		okStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		failStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray
	}
}

// HandleEvent prints one orchestrator event.
func (p *Printer) HandleEvent(evt orchestrator.OrchestratorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch evt.Type {
	case orchestrator.EventBatchStarted:
		p.status(symbolBatch, fmt.Sprintf("batch %d: %s", evt.Batch, strings.Join(evt.Tasks, ", ")), color.FgCyan)
	case orchestrator.EventTaskStarted:
		p.status(symbolStart, fmt.Sprintf("%s via %s", evt.Task, evt.Runner), color.FgYellow)
	case orchestrator.EventTaskCompleted:
		msg := fmt.Sprintf("%s via %s (%s)", evt.Task, evt.Runner, formatMs(evt.Result.DurationMs))
		if evt.Result.DryRun {
			msg = strings.TrimSpace(evt.Result.Stdout)
		}
		p.status(symbolOK, msg, color.FgGreen)
	case orchestrator.EventTaskFailed:
		p.taskFailed(evt)
	}
}

func (p *Printer) taskFailed(evt orchestrator.OrchestratorEvent) {
	msg := evt.Task
	if evt.Result != nil && evt.Result.Error != "" {
		msg += ": " + evt.Result.Error
	}
	p.status(symbolFail, msg, color.FgRed)

	if evt.Result == nil || p.verbose {
		return
	}
	for _, a := range evt.Result.Attempts {
		if a.Skipped {
			fmt.Fprintf(p.out, "    %s %s unavailable\n", symbolSkipped, a.Runner)
		}
	}
	printIndented(p.out, evt.Result.Stdout)
	printIndented(p.out, evt.Result.Stderr)
}

// Watching announces watch mode.
func (p *Printer) Watching(dirs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status(symbolSkipped, fmt.Sprintf("watching %d directories for changes (ctrl-c to stop)", dirs), color.FgCyan)
}

// Changed prints the files that triggered a watch re-run.
func (p *Printer) Changed(paths []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	const maxShown = 5
	shown := paths
	if len(shown) > maxShown {
		shown = shown[:maxShown]
	}
	msg := "changed: " + strings.Join(shown, ", ")
	if extra := len(paths) - len(shown); extra > 0 {
		msg += fmt.Sprintf(" and %d more", extra)
	}
	fmt.Fprintln(p.out)
	p.status(symbolBatch, msg, color.FgMagenta)
}

// status prints a colored symbol followed by a message.
func (p *Printer) status(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(p.out, "%s %s\n", c.Sprint(symbol), message)
}

// Summary prints a table of results and the overall outcome.
func (p *Printer) Summary(s *models.RunSummary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	headers := []string{"TASK", "BATCH", "RUNNER", "ATTEMPTS", "DURATION", "STATUS"}
	rows := make([][]string, 0, len(s.Results))
	for _, r := range s.Results {
		status := "ok"
		switch {
		case r.DryRun:
			status = "dry-run"
		case !r.Succeeded:
			status = "failed"
		}
		runner := string(r.RunnerUsed)
		if runner == "" {
			runner = "-"
		}
		rows = append(rows, []string{
			r.TaskName,
			fmt.Sprintf("%d", r.Batch),
			runner,
			fmt.Sprintf("%d", len(r.Attempts)),
			formatMs(r.DurationMs),
			status,
		})
	}

	fmt.Fprintln(p.out)
	p.writeTable(headers, rows, func(row []string) lipgloss.Style {
		switch row[len(row)-1] {
		case "failed":
			return p.failStyle
		case "ok":
			return p.okStyle
		}
		return p.cellStyle
	})

	if missing := skippedTasks(s); len(missing) > 0 {
		fmt.Fprintln(p.out, p.dimStyle.Render("not run: "+strings.Join(missing, ", ")))
	}

	fmt.Fprintln(p.out)
	duration := formatMs(s.DurationMs)
	switch {
	case s.Succeeded:
		p.status(symbolOK, fmt.Sprintf("%d tasks succeeded in %s", len(s.Results), duration), color.FgGreen)
	case s.Bailed:
		p.status(symbolFail, fmt.Sprintf("%d of %d tasks failed, stopped early (bail) after %s", len(s.Failed()), len(s.Results), duration), color.FgRed)
	default:
		p.status(symbolFail, fmt.Sprintf("%d of %d tasks failed in %s", len(s.Failed()), len(s.Results), duration), color.FgRed)
	}
}

// Table prints rows under bold headers with aligned columns.
func (p *Printer) Table(headers []string, rows [][]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeTable(headers, rows, func([]string) lipgloss.Style { return p.cellStyle })
}

func (p *Printer) writeTable(headers []string, rows [][]string, styleFor func(row []string) lipgloss.Style) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	fmt.Fprintln(p.out, p.renderRow(headers, widths, p.headerStyle))
	for _, row := range rows {
		fmt.Fprintln(p.out, p.renderRow(row, widths, styleFor(row)))
	}
}

func (p *Printer) renderRow(cells []string, widths []int, style lipgloss.Style) string {
	rendered := make([]string, len(cells))
	for i, cell := range cells {
		rendered[i] = style.Width(widths[i] + 2).Render(cell)
	}
	return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, rendered...), " ")
}

// skippedTasks lists planned tasks with no result.
func skippedTasks(s *models.RunSummary) []string {
	var out []string
	for _, b := range s.Batches {
		for _, name := range b.Tasks {
			if s.Result(name) == nil {
				out = append(out, name)
			}
		}
	}
	return out
}

func printIndented(w io.Writer, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}

func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(10 * time.Millisecond).String()
}

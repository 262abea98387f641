package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	iexec "github.com/ShayCichocki/stackrun/internal/exec"
	"github.com/ShayCichocki/stackrun/internal/orchestrator"
	"github.com/ShayCichocki/stackrun/internal/report"
	"github.com/ShayCichocki/stackrun/internal/state"
	"github.com/ShayCichocki/stackrun/internal/watch"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

var (
	runTasks          []string
	runFrameworks     []string
	runPlatforms      []string
	runPackageManager string
	runTaskRunner     string
	runParallel       bool
	runNoFallback     bool
	runDry            bool
	runVerbose        bool
	runBail           bool
	runWatch          bool
	runCache          string
	runConcurrency    int
	runJSON           string
	runTasksFile      string
	runNoHistory      bool
)

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Run tasks and their dependencies",
	Long: `Run the named tasks. Dependencies are resolved into batches that run
in order; tasks inside a batch run in parallel when every task allows it.

Each task runs on the runner chosen by the selection policy. When it fails,
retries and declared fallback runners are tried in order.

Examples:
  stackrun run --task test
  stackrun run --task lint,typecheck --frameworks react,vue
  stackrun run --task e2e --dry
  stackrun run --task build --json summary.json
  stackrun run --task test --watch`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringSliceVarP(&runTasks, "task", "t", nil, "Tasks to run (comma separated)")
	f.StringSliceVar(&runFrameworks, "frameworks", nil, "Frameworks to filter to (comma separated)")
	f.StringSliceVar(&runPlatforms, "platforms", nil, "Platform targets passed to runners (comma separated)")
	f.StringVar(&runPackageManager, "package-manager", "", "Default package manager (npm, pnpm, yarn, bun)")
	f.StringVar(&runTaskRunner, "task-runner", "", "Default task runner (turbo, nx, lerna)")
	f.BoolVar(&runParallel, "parallel", true, "Run parallel-safe tasks of a batch concurrently")
	f.BoolVar(&runNoFallback, "no-fallback", false, "Only try the selected runner")
	f.BoolVar(&runDry, "dry", false, "Print commands without running them")
	f.BoolVarP(&runVerbose, "verbose", "v", false, "Stream task output live")
	f.BoolVar(&runBail, "bail", false, "Stop after the first failing batch")
	f.BoolVarP(&runWatch, "watch", "w", false, "Re-run on file changes")
	f.StringVar(&runCache, "cache", "", "Cache mode: aggressive, conservative or disabled")
	f.IntVar(&runConcurrency, "concurrency", 0, "Max concurrent tasks per batch (0 = unlimited)")
	f.StringVar(&runJSON, "json", "", "Write the run summary as JSON to a path (- for stdout)")
	f.StringVar(&runTasksFile, "tasks-file", "", "Tasks file to overlay on the built-in tasks")
	f.BoolVar(&runNoHistory, "no-history", false, "Do not record this run in history")
}

func runRun(cmd *cobra.Command, args []string) error {
	debug := os.Getenv(debugEnv) != ""

	names := taskNames(args, runTasks)
	if len(names) == 0 {
		return configError(errors.New("no tasks requested (use --task)"))
	}

	p, err := loadProject(runTasksFile)
	if err != nil {
		return err
	}

	prefs, err := p.preferences(runTaskRunner, runPackageManager, runCache)
	if err != nil {
		return err
	}
	if runConcurrency < 0 {
		return configError(fmt.Errorf("--concurrency must be >= 0, got %d", runConcurrency))
	}

	flags := cmd.Flags()
	parallel := boolFlag(flags.Changed("parallel"), runParallel, p.cfg.Defaults.Parallel)
	bail := boolFlag(flags.Changed("bail"), runBail, p.cfg.Defaults.Bail)
	verbose := boolFlag(flags.Changed("verbose"), runVerbose, p.cfg.Defaults.Verbose)
	noFallback := runNoFallback || !p.cfg.Defaults.Fallback
	concurrency := p.cfg.Defaults.Concurrency
	if flags.Changed("concurrency") {
		concurrency = runConcurrency
	}

	if debug {
		fmt.Fprintf(os.Stderr, "[DEBUG] root=%s tasks=%v parallel=%t bail=%t cache=%s dry=%t\n",
			p.root, names, parallel, bail, prefs.Cache, runDry)
	}

	// Human output moves to stderr when the JSON summary goes to stdout.
	var out io.Writer = os.Stdout
	if runJSON == "-" {
		out = os.Stderr
	}
	printer := report.NewPrinter(out, verbose)

	logger := p.logger()
	defer logger.Close()

	runner := iexec.NewRunner()
	opts := []orchestrator.Option{
		orchestrator.WithParallel(parallel),
		orchestrator.WithBail(bail),
		orchestrator.WithConcurrency(concurrency),
		orchestrator.WithPolicy(p.policy),
		orchestrator.WithPreferences(prefs),
		orchestrator.WithCache(prefs.Cache),
		orchestrator.WithFrameworks(splitCSV(runFrameworks)...),
		orchestrator.WithPlatforms(splitCSV(runPlatforms)...),
		orchestrator.WithDryRun(runDry),
		orchestrator.WithNoFallback(noFallback),
		orchestrator.WithLogger(logger),
		orchestrator.WithDetector(p.detector(runner, logger)),
		orchestrator.WithEventHandler(printer.HandleEvent),
	}
	if verbose {
		opts = append(opts, orchestrator.WithVerbose(out, os.Stderr))
	}

	orch := orchestrator.New(orchestrator.RequiredConfig{
		Registry: p.registry,
		Runner:   runner,
		WorkDir:  p.root,
	}, opts...)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOnce := func(ctx context.Context) (*models.RunSummary, error) {
		summary, err := orch.Run(ctx, names)
		if summary == nil {
			return nil, configError(err)
		}
		printer.Summary(summary)
		if runJSON != "" {
			if err := report.WriteJSONFile(runJSON, summary); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
		if !runDry && !runNoHistory && p.cfg.History.Enabled {
			if err := saveHistory(p, summary); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: run history not saved: %v\n", err)
			}
		}
		return summary, err
	}

	// The watcher is registered before the first run so that files the run
	// itself touches are not missed.
	var w *watch.Watcher
	if runWatch {
		w, err = startWatcher(ctx, p, logger)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	summary, err := runOnce(ctx)
	if err != nil && summary == nil {
		return err
	}

	if !runWatch {
		if err != nil {
			return taskFailure(fmt.Errorf("run interrupted: %w", err))
		}
		if !summary.Succeeded {
			return taskFailure(fmt.Errorf("%d task(s) failed", len(summary.Failed())))
		}
		return nil
	}

	return watchLoop(ctx, w, printer, runOnce)
}

// startWatcher registers the configured watch paths and starts queueing
// changes.
func startWatcher(ctx context.Context, p *project, logger *orchestrator.DebugLogger) (*watch.Watcher, error) {
	w, err := watch.New(watch.Config{
		Root:      p.root,
		Paths:     p.cfg.Watch.Paths,
		Ignore:    p.cfg.Watch.Ignore,
		Debounce:  p.cfg.Watch.Debounce,
		QueueSize: p.cfg.Watch.QueueSize,
	})
	if err != nil {
		return nil, configError(fmt.Errorf("starting watcher: %w", err))
	}
	w.SetDebugLog(logger.Log)
	w.Start(ctx)
	return w, nil
}

// watchLoop re-runs the requested tasks after each debounced burst of file
// changes until ctx is canceled.
func watchLoop(
	ctx context.Context,
	w *watch.Watcher,
	printer *report.Printer,
	runOnce func(context.Context) (*models.RunSummary, error),
) error {
	printer.Watching(len(w.WatchedPaths()))

	err := w.Run(ctx, func(ctx context.Context, changed []string) {
		printer.Changed(changed)
		if _, err := runOnce(ctx); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// saveHistory records a summary in the project database and purges runs
// older than the configured retention.
func saveHistory(p *project, summary *models.RunSummary) error {
	db, err := openHistory(p)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SaveRun(summary); err != nil {
		return err
	}
	if p.cfg.History.Retention > 0 {
		if _, err := db.PurgeOldRuns(p.cfg.History.Retention); err != nil {
			return err
		}
	}
	return nil
}

// openHistory opens and migrates the history database.
func openHistory(p *project) (state.StateStore, error) {
	var (
		db  *state.DB
		err error
	)
	if p.cfg.History.Path != "" {
		db, err = state.Open(p.cfg.History.Path)
	} else {
		db, err = state.OpenProject(p.root)
	}
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// boolFlag returns the flag value when it was set explicitly, otherwise the
// configured default.
func boolFlag(changed, flagValue, configured bool) bool {
	if changed {
		return flagValue
	}
	return configured
}

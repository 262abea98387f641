package orchestrator

import (
	"io"

	"github.com/ShayCichocki/stackrun/internal/executor"
	"github.com/ShayCichocki/stackrun/internal/selector"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	parallel    bool
	bail        bool
	concurrency int
	policy      *selector.Policy
	prefs       selector.Preferences
	exec        executor.Options
	logger      *DebugLogger
	onEvent     func(OrchestratorEvent)

	// Injectable dependencies for testing
	detector     CapabilityDetector
	capabilities *models.Capabilities
}

func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{parallel: true}
}

// WithParallel enables concurrent dispatch of parallel-safe batches.
func WithParallel(b bool) Option {
	return func(o *orchestratorOptions) { o.parallel = b }
}

// WithBail stops the run after the first failed batch.
func WithBail(b bool) Option {
	return func(o *orchestratorOptions) { o.bail = b }
}

// WithConcurrency caps tasks running at once within a batch. Zero is unlimited.
func WithConcurrency(n int) Option {
	return func(o *orchestratorOptions) { o.concurrency = n }
}

// WithPolicy sets the runner selection policy.
func WithPolicy(p selector.Policy) Option {
	return func(o *orchestratorOptions) { o.policy = &p }
}

// WithPreferences sets the caller's global runner preferences.
func WithPreferences(p selector.Preferences) Option {
	return func(o *orchestratorOptions) { o.prefs = p }
}

// WithFrameworks narrows tasks to the given sub-targets.
func WithFrameworks(frameworks ...string) Option {
	return func(o *orchestratorOptions) { o.exec.Frameworks = frameworks }
}

// WithPlatforms passes platform targets through to runners.
func WithPlatforms(platforms ...string) Option {
	return func(o *orchestratorOptions) { o.exec.Platforms = platforms }
}

// WithCache sets the cache mode for selection and execution.
func WithCache(m models.CacheMode) Option {
	return func(o *orchestratorOptions) {
		o.exec.Cache = m
		o.prefs.Cache = m
	}
}

// WithDryRun builds commands without spawning them.
func WithDryRun(b bool) Option {
	return func(o *orchestratorOptions) { o.exec.DryRun = b }
}

// WithNoFallback disables the fallback chain.
func WithNoFallback(b bool) Option {
	return func(o *orchestratorOptions) { o.exec.NoFallback = b }
}

// WithVerbose streams child output to out and errOut.
func WithVerbose(out, errOut io.Writer) Option {
	return func(o *orchestratorOptions) {
		o.exec.Verbose = true
		o.exec.Output = out
		o.exec.ErrOutput = errOut
	}
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithEventHandler receives every event. Calls are serialized.
func WithEventHandler(fn func(OrchestratorEvent)) Option {
	return func(o *orchestratorOptions) { o.onEvent = fn }
}

// WithDetector sets the capability detector.
func WithDetector(d CapabilityDetector) Option {
	return func(o *orchestratorOptions) { o.detector = d }
}

// WithCapabilities skips detection and uses caps for every run (mainly for testing).
func WithCapabilities(caps models.Capabilities) Option {
	return func(o *orchestratorOptions) { o.capabilities = &caps }
}

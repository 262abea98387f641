// Package detect probes which execution backends are usable in the current
// environment.
package detect

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	iexec "github.com/ShayCichocki/stackrun/internal/exec"
	"github.com/ShayCichocki/stackrun/pkg/models"
)

// DefaultProbeTimeout bounds a single `--version` probe.
const DefaultProbeTimeout = 5 * time.Second

// Detector computes a Capabilities snapshot.
type Detector struct {
	runner       iexec.CommandRunner
	workDir      string
	backends     []models.Backend
	probeTimeout time.Duration
	concurrency  int
	debugLog     func(format string, args ...interface{})
}

// Option configures a Detector.
type Option func(*Detector)

// WithProbeTimeout sets the per-probe timeout.
func WithProbeTimeout(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.probeTimeout = d
		}
	}
}

// WithConcurrency limits how many probes run at once. Zero means unlimited.
func WithConcurrency(n int) Option {
	return func(det *Detector) {
		if n >= 0 {
			det.concurrency = n
		}
	}
}

// WithBackends restricts probing to the given backends.
func WithBackends(backends ...models.Backend) Option {
	return func(det *Detector) { det.backends = backends }
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(det *Detector) {
		if fn != nil {
			det.debugLog = fn
		}
	}
}

// New creates a detector probing backends from workDir.
func New(runner iexec.CommandRunner, workDir string, opts ...Option) *Detector {
	d := &Detector{
		runner:       runner,
		workDir:      workDir,
		backends:     models.AllBackends(),
		probeTimeout: DefaultProbeTimeout,
		concurrency:  4,
		debugLog:     func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect probes every backend. A failing, hanging or panicking probe marks
// only its own backend unavailable; detection itself never fails.
func (d *Detector) Detect(ctx context.Context) models.Capabilities {
	caps := models.NewCapabilities()
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}

	for _, b := range d.backends {
		b := b
		g.Go(func() error {
			version, ok := d.probe(gctx, b)
			mu.Lock()
			caps.Available[b] = ok
			if ok {
				caps.Versions[b] = version
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	d.readManifest(&caps)
	d.debugLog("[detect] available backends: %v", caps.AvailableBackends())
	return caps
}

// DetectInstalled resolves every backend binary without spawning anything.
// A backend counts as available when its binary is found; versions stay
// empty. Dry runs use it so that planning never starts a process.
func (d *Detector) DetectInstalled(ctx context.Context) models.Capabilities {
	caps := models.NewCapabilities()
	for _, b := range d.backends {
		if ctx.Err() != nil {
			break
		}
		inv, known := b.Invocation()
		if !known {
			continue
		}
		if _, err := d.runner.LookPath(inv.Binary, d.localBinDir()); err == nil {
			caps.Available[b] = true
		}
	}

	d.readManifest(&caps)
	d.debugLog("[detect] installed backends (lookup only): %v", caps.AvailableBackends())
	return caps
}

// probe resolves the backend binary and runs it with --version.
func (d *Detector) probe(ctx context.Context, b models.Backend) (version string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.debugLog("[detect] probe %s panicked: %v", b, r)
			version, ok = "", false
		}
	}()

	inv, known := b.Invocation()
	if !known {
		return "", false
	}

	path, err := d.runner.LookPath(inv.Binary, d.localBinDir())
	if err != nil {
		d.debugLog("[detect] %s not installed: %v", b, err)
		return "", false
	}

	var stdout bytes.Buffer
	res, err := d.runner.Run(ctx, iexec.Spec{
		Name:    path,
		Args:    []string{"--version"},
		Dir:     d.workDir,
		Stdout:  &stdout,
		Timeout: d.probeTimeout,
	})
	if err != nil {
		d.debugLog("[detect] %s probe failed: %v", b, err)
		return "", false
	}
	if res.TimedOut || res.ExitCode != 0 {
		d.debugLog("[detect] %s probe exit=%d timed_out=%t", b, res.ExitCode, res.TimedOut)
		return "", false
	}

	return firstLine(stdout.String()), true
}

// localBinDir is where package managers install project-local executables.
func (d *Detector) localBinDir() string {
	return filepath.Join(d.workDir, "node_modules", ".bin")
}

// readManifest fills manifest-derived fields from package.json, if present.
func (d *Detector) readManifest(caps *models.Capabilities) {
	data, err := os.ReadFile(filepath.Join(d.workDir, "package.json"))
	if err != nil {
		return
	}
	if !gjson.ValidBytes(data) {
		d.debugLog("[detect] package.json is not valid JSON")
		return
	}

	m, err := ParseManifest(data)
	if err != nil {
		d.debugLog("[detect] %v", err)
	}
	caps.ManifestPackageManager = m.PackageManager
	for b := range m.Declared {
		caps.Declared[b] = true
	}
}

// Manifest is the subset of package.json the detector cares about.
type Manifest struct {
	// PackageManager is parsed from the "packageManager" field (corepack).
	PackageManager models.Backend
	// Declared holds backends listed in dependencies or devDependencies.
	Declared map[models.Backend]bool
}

// ParseManifest extracts backend information from package.json contents.
// An unknown packageManager is reported as an error alongside the rest.
func ParseManifest(data []byte) (Manifest, error) {
	m := Manifest{Declared: make(map[models.Backend]bool)}

	for _, b := range models.AllBackends() {
		inv, _ := b.Invocation()
		for _, pkg := range packageNames(b, inv.Binary) {
			escaped := strings.ReplaceAll(strings.ReplaceAll(pkg, ".", `\.`), "@", `\@`)
			if gjson.GetBytes(data, "devDependencies."+escaped).Exists() ||
				gjson.GetBytes(data, "dependencies."+escaped).Exists() {
				m.Declared[b] = true
			}
		}
	}

	pm := gjson.GetBytes(data, "packageManager").String()
	if pm == "" {
		return m, nil
	}
	name := pm
	if i := strings.Index(pm, "@"); i > 0 {
		name = pm[:i]
	}
	b, err := models.ParseBackend(name)
	if err != nil || b.Kind() != models.KindPackageManager {
		return m, fmt.Errorf("unsupported packageManager %q in package.json", pm)
	}
	m.PackageManager = b
	m.Declared[b] = true
	return m, nil
}

// packageNames maps a backend to the npm packages that provide it.
func packageNames(b models.Backend, binary string) []string {
	switch b {
	case models.BackendPlaywright:
		return []string{"@playwright/test", "playwright"}
	case models.BackendNpm:
		return nil
	default:
		return []string{binary}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

package models

import (
	"fmt"
	"strings"
)

// Backend identifies an external tool able to execute a task's command.
type Backend string

const (
	// BackendTurbo is the Turborepo task pipeline.
	BackendTurbo Backend = "turbo"
	// BackendNx is the Nx task pipeline.
	BackendNx Backend = "nx"
	// BackendLerna is the Lerna monorepo runner.
	BackendLerna Backend = "lerna"
	// BackendNpm runs package.json scripts through npm.
	BackendNpm Backend = "npm"
	// BackendPnpm runs package.json scripts through pnpm.
	BackendPnpm Backend = "pnpm"
	// BackendYarn runs package.json scripts through yarn.
	BackendYarn Backend = "yarn"
	// BackendBun runs package.json scripts through bun.
	BackendBun Backend = "bun"
	// BackendVitest is the Vitest test runner.
	BackendVitest Backend = "vitest"
	// BackendJest is the Jest test runner.
	BackendJest Backend = "jest"
	// BackendPlaywright is the Playwright end-to-end test runner.
	BackendPlaywright Backend = "playwright"
)

// BackendKind groups backends by the role they play in the stack.
type BackendKind string

const (
	KindPipeline       BackendKind = "pipeline"
	KindPackageManager BackendKind = "package_manager"
	KindTestRunner     BackendKind = "test_runner"
)

// Invocation describes how a backend is invoked on the command line.
type Invocation struct {
	// Binary is the executable name looked up on PATH.
	Binary string
	// Kind is the role of the backend.
	Kind BackendKind
	// Prefix is inserted between the binary and the task command.
	Prefix []string
	// FilterFlag is a fmt pattern producing one filter argument per framework.
	// Empty means the backend has no filter flag.
	FilterFlag string
	// FilterFirst places filter arguments before Prefix (pnpm, bun).
	FilterFirst bool
	// CacheDisableEnv is exported to the child when caching is disabled.
	CacheDisableEnv map[string]string
}

// invocations is the capability table for every known backend.
var invocations = map[Backend]Invocation{
	BackendTurbo: {
		Binary:          "turbo",
		Kind:            KindPipeline,
		Prefix:          []string{"run"},
		FilterFlag:      "--filter=%s",
		CacheDisableEnv: map[string]string{"TURBO_FORCE": "true"},
	},
	BackendNx: {
		Binary:          "nx",
		Kind:            KindPipeline,
		Prefix:          []string{"run-many", "-t"},
		FilterFlag:      "--projects=%s",
		CacheDisableEnv: map[string]string{"NX_SKIP_NX_CACHE": "true"},
	},
	BackendLerna: {
		Binary:          "lerna",
		Kind:            KindPipeline,
		Prefix:          []string{"run"},
		FilterFlag:      "--scope=%s",
		CacheDisableEnv: map[string]string{"NX_SKIP_NX_CACHE": "true"},
	},
	BackendNpm: {
		Binary:     "npm",
		Kind:       KindPackageManager,
		Prefix:     []string{"run"},
		FilterFlag: "--workspace=%s",
	},
	BackendPnpm: {
		Binary:      "pnpm",
		Kind:        KindPackageManager,
		Prefix:      []string{"run"},
		FilterFlag:  "--filter=%s",
		FilterFirst: true,
	},
	BackendYarn: {
		Binary: "yarn",
		Kind:   KindPackageManager,
		Prefix: []string{"run"},
	},
	BackendBun: {
		Binary:      "bun",
		Kind:        KindPackageManager,
		Prefix:      []string{"run"},
		FilterFlag:  "--filter=%s",
		FilterFirst: true,
	},
	BackendVitest: {
		Binary:     "vitest",
		Kind:       KindTestRunner,
		Prefix:     []string{"run"},
		FilterFlag: "--project=%s",
	},
	BackendJest: {
		Binary:     "jest",
		Kind:       KindTestRunner,
		FilterFlag: "--selectProjects=%s",
	},
	BackendPlaywright: {
		Binary:     "playwright",
		Kind:       KindTestRunner,
		Prefix:     []string{"test"},
		FilterFlag: "--project=%s",
	},
}

// defaultPriority is the fixed order used when nothing more specific applies.
var defaultPriority = []Backend{
	BackendTurbo,
	BackendNx,
	BackendLerna,
	BackendPnpm,
	BackendYarn,
	BackendNpm,
	BackendBun,
	BackendVitest,
	BackendJest,
	BackendPlaywright,
}

// AllBackends returns every known backend in default priority order.
func AllBackends() []Backend {
	out := make([]Backend, len(defaultPriority))
	copy(out, defaultPriority)
	return out
}

// Valid returns true if the backend is a known value.
func (b Backend) Valid() bool {
	_, ok := invocations[b]
	return ok
}

// String returns the backend identifier.
func (b Backend) String() string {
	return string(b)
}

// Invocation returns the invocation descriptor for the backend.
// The second return value is false for unknown backends.
func (b Backend) Invocation() (Invocation, bool) {
	inv, ok := invocations[b]
	return inv, ok
}

// Kind returns the backend's role, or an empty kind if unknown.
func (b Backend) Kind() BackendKind {
	return invocations[b].Kind
}

// ParseBackend converts a user supplied identifier into a Backend.
// Matching is case-insensitive; unknown identifiers are rejected.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	if !b.Valid() {
		return "", fmt.Errorf("unknown backend %q", s)
	}
	return b, nil
}

// ParseBackends parses a list of identifiers, failing on the first unknown one.
func ParseBackends(ss []string) ([]Backend, error) {
	out := make([]Backend, 0, len(ss))
	for _, s := range ss {
		b, err := ParseBackend(s)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

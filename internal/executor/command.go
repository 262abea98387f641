package executor

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// Environment variables exported to every child.
const (
	EnvFrameworks = "STACKRUN_FRAMEWORKS"
	EnvPlatforms  = "STACKRUN_PLATFORMS"
)

// Command is a fully built backend invocation.
type Command struct {
	Runner models.Backend
	// Binary is the backend executable name, before PATH resolution.
	Binary string
	Args   []string
	// Env holds KEY=VALUE pairs added to the child environment.
	Env []string
}

// Argv returns the binary followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Binary}, c.Args...)
}

// String renders the command with shell quoting.
func (c Command) String() string {
	return shellquote.Join(c.Argv()...)
}

// key identifies a (runner, argv) pair.
func (c Command) key() string {
	return string(c.Runner) + "\x00" + strings.Join(c.Argv(), "\x00")
}

// BuildCommand expands template for the given runner.
//
// Template variables: ${TASK}, ${FRAMEWORKS}, ${PLATFORMS} and ${CACHE}.
// Anything else expands from the environment. The result is split with
// POSIX shell quoting rules; no shell is involved in running it.
func BuildCommand(runner models.Backend, template, taskName string, opts Options) (Command, error) {
	inv, ok := runner.Invocation()
	if !ok {
		return Command{}, fmt.Errorf("unknown backend %q", runner)
	}

	expanded := os.Expand(template, func(name string) string {
		switch name {
		case "TASK":
			return taskName
		case "FRAMEWORKS":
			return strings.Join(opts.Frameworks, ",")
		case "PLATFORMS":
			return strings.Join(opts.Platforms, ",")
		case "CACHE":
			return string(opts.cacheMode())
		default:
			return os.Getenv(name)
		}
	})

	words, err := shellquote.Split(expanded)
	if err != nil {
		return Command{}, fmt.Errorf("parsing command %q: %w", template, err)
	}
	if len(words) == 0 {
		return Command{}, fmt.Errorf("command %q is empty after expansion", template)
	}

	var filters []string
	if inv.FilterFlag != "" {
		for _, fw := range opts.Frameworks {
			filters = append(filters, fmt.Sprintf(inv.FilterFlag, fw))
		}
	}

	args := make([]string, 0, len(filters)+len(inv.Prefix)+len(words))
	if inv.FilterFirst {
		args = append(args, filters...)
		args = append(args, inv.Prefix...)
		args = append(args, words...)
	} else {
		args = append(args, inv.Prefix...)
		args = append(args, words...)
		args = append(args, filters...)
	}

	return Command{
		Runner: runner,
		Binary: inv.Binary,
		Args:   args,
		Env:    buildEnv(inv, opts),
	}, nil
}

func buildEnv(inv models.Invocation, opts Options) []string {
	var env []string
	if len(opts.Frameworks) > 0 {
		env = append(env, EnvFrameworks+"="+strings.Join(opts.Frameworks, ","))
	}
	if len(opts.Platforms) > 0 {
		env = append(env, EnvPlatforms+"="+strings.Join(opts.Platforms, ","))
	}
	if opts.cacheMode() == models.CacheDisabled {
		keys := make([]string, 0, len(inv.CacheDisableEnv))
		for k := range inv.CacheDisableEnv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+inv.CacheDisableEnv[k])
		}
	}
	return env
}

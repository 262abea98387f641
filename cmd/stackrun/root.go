package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/stackrun/internal/graph"
	"github.com/ShayCichocki/stackrun/internal/registry"
)

// Process exit codes.
const (
	exitOK          = 0
	exitTaskFailure = 1
	exitConfigError = 2
)

// exitError carries the process exit code for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// configError marks err as a configuration problem (exit 2).
func configError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: exitConfigError, err: err}
}

// taskFailure marks err as a failed run (exit 1).
func taskFailure(err error) error {
	return &exitError{code: exitTaskFailure, err: err}
}

// exitCode maps an error returned by a command to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, graph.ErrConfiguration) || errors.Is(err, registry.ErrInvalidTask) {
		return exitConfigError
	}
	return exitTaskFailure
}

var rootCmd = &cobra.Command{
	Use:   "stackrun",
	Short: "Run monorepo tasks across JS build backends",
	Long: `stackrun runs named tasks (lint, build, test, e2e, ...) of a JavaScript
monorepo through whichever task runner, package manager, or test framework
is installed, resolving dependencies into batches and falling back to
alternative runners when one fails.

Examples:
  stackrun run --task test
  stackrun run --task build,e2e --bail --verbose
  stackrun run --task test --watch
  stackrun plan --task deploy`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return configError(err)
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

package executor

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name     string
		runner   models.Backend
		template string
		opts     Options
		want     []string
	}{
		{
			name:     "turbo with filters",
			runner:   models.BackendTurbo,
			template: "build",
			opts:     Options{Frameworks: []string{"web", "api"}},
			want:     []string{"turbo", "run", "build", "--filter=web", "--filter=api"},
		},
		{
			name:     "pnpm filters first",
			runner:   models.BackendPnpm,
			template: "build",
			opts:     Options{Frameworks: []string{"web"}},
			want:     []string{"pnpm", "--filter=web", "run", "build"},
		},
		{
			name:     "yarn has no filter flag",
			runner:   models.BackendYarn,
			template: "lint",
			opts:     Options{Frameworks: []string{"web"}},
			want:     []string{"yarn", "run", "lint"},
		},
		{
			name:     "jest has no prefix",
			runner:   models.BackendJest,
			template: "--ci",
			want:     []string{"jest", "--ci"},
		},
		{
			name:     "template variables",
			runner:   models.BackendNpm,
			template: "${TASK} -- --platforms=${PLATFORMS} --cache=${CACHE}",
			opts:     Options{Platforms: []string{"ios", "android"}, Cache: models.CacheAggressive},
			want:     []string{"npm", "run", "lint", "--", "--platforms=ios,android", "--cache=aggressive"},
		},
		{
			name:     "quoted argument",
			runner:   models.BackendPlaywright,
			template: `--grep "checkout flow"`,
			want:     []string{"playwright", "test", "--grep", "checkout flow"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := BuildCommand(tt.runner, tt.template, "lint", tt.opts)
			if err != nil {
				t.Fatalf("BuildCommand() error = %v", err)
			}
			if got := cmd.Argv(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("argv = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildCommand_Errors(t *testing.T) {
	if _, err := BuildCommand(models.BackendNpm, `build "unterminated`, "build", Options{}); err == nil {
		t.Error("expected error for unbalanced quote")
	}
	if _, err := BuildCommand(models.BackendNpm, "${NOTHING_HERE_XYZ}", "build", Options{}); err == nil {
		t.Error("expected error for empty command")
	}
	if _, err := BuildCommand(models.Backend("make"), "all", "build", Options{}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestBuildCommand_Env(t *testing.T) {
	cmd, err := BuildCommand(models.BackendTurbo, "build", "build", Options{
		Frameworks: []string{"web"},
		Platforms:  []string{"ios"},
		Cache:      models.CacheDisabled,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"STACKRUN_FRAMEWORKS=web", "STACKRUN_PLATFORMS=ios", "TURBO_FORCE=true"}
	if !reflect.DeepEqual(cmd.Env, want) {
		t.Errorf("env = %q, want %q", cmd.Env, want)
	}

	cmd, _ = BuildCommand(models.BackendTurbo, "build", "build", Options{})
	if len(cmd.Env) != 0 {
		t.Errorf("env = %q, want empty", cmd.Env)
	}
}

func TestCommandString(t *testing.T) {
	cmd, err := BuildCommand(models.BackendPlaywright, `--grep "a b"`, "e2e", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if s := cmd.String(); !strings.Contains(s, `'a b'`) && !strings.Contains(s, `a\ b`) {
		t.Errorf("String() = %q, want quoted argument", s)
	}
}

package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

func validTask(name string, deps ...string) models.TaskDefinition {
	return models.TaskDefinition{
		Name:            name,
		Command:         name,
		PreferredRunner: models.BackendNpm,
		Dependencies:    deps,
	}
}

func TestRegister_PreservesOrder(t *testing.T) {
	r := New()
	for _, name := range []string{"c", "a", "b"} {
		if err := r.Register(validTask(name)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	names := r.Names()
	want := []string{"c", "a", "b"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
	if r.Index("a") != 1 {
		t.Errorf("Index(a) = %d, want 1", r.Index("a"))
	}
	if r.Index("missing") != -1 {
		t.Errorf("Index(missing) = %d, want -1", r.Index("missing"))
	}
}

func TestRegister_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		def  models.TaskDefinition
	}{
		{"empty name", models.TaskDefinition{Command: "x", PreferredRunner: models.BackendNpm}},
		{"empty command", models.TaskDefinition{Name: "x", PreferredRunner: models.BackendNpm}},
		{"unknown runner", models.TaskDefinition{Name: "x", Command: "x", PreferredRunner: "make"}},
		{"self dependency", validTask("x", "x")},
		{"duplicate dependency", validTask("x", "a", "a")},
		{"negative retries", func() models.TaskDefinition { d := validTask("x"); d.Retries = -1; return d }()},
		{"negative timeout", func() models.TaskDefinition { d := validTask("x"); d.Timeout = -time.Second; return d }()},
		{"unknown fallback runner", func() models.TaskDefinition {
			d := validTask("x")
			d.Fallbacks = []models.Fallback{{Runner: "ant", Command: "x"}}
			return d
		}()},
		{"empty fallback command", func() models.TaskDefinition {
			d := validTask("x")
			d.Fallbacks = []models.Fallback{{Runner: models.BackendYarn}}
			return d
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Register(tt.def)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidTask) {
				t.Errorf("error %v does not match ErrInvalidTask", err)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	r := New()
	if err := r.Register(validTask("a")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(validTask("a")); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New()
	if err := r.Register(validTask("b", "a")); err != nil {
		t.Fatal(err)
	}

	def, ok := r.Get("b")
	if !ok {
		t.Fatal("expected task b")
	}
	def.Dependencies[0] = "mutated"

	again, _ := r.Get("b")
	if again.Dependencies[0] != "a" {
		t.Error("registry definition was mutated through Get")
	}
}

func TestDefaults_AreValid(t *testing.T) {
	r := Defaults()
	if r.Len() == 0 {
		t.Fatal("expected built-in tasks")
	}
	for _, name := range r.Names() {
		for _, dep := range r.Dependencies(name) {
			if !r.Has(dep) {
				t.Errorf("built-in task %s depends on unknown task %s", name, dep)
			}
		}
	}
}

func TestParse_OverlaysDefaults(t *testing.T) {
	data := []byte(`
tasks:
  - name: build
    command: build:prod
    runner: nx
    depends_on: [lint]
    timeout: 2m
    retries: 2
    fallbacks:
      - runner: yarn
        command: build
  - name: storybook
    command: build-storybook
    runner: pnpm
    parallel_safe: false
`)

	r, err := Parse(data, Defaults())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	build, ok := r.Get("build")
	if !ok {
		t.Fatal("expected build task")
	}
	if build.PreferredRunner != models.BackendNx {
		t.Errorf("build runner = %s, want nx", build.PreferredRunner)
	}
	if build.Timeout != 2*time.Minute {
		t.Errorf("build timeout = %v, want 2m", build.Timeout)
	}
	if build.Retries != 2 {
		t.Errorf("build retries = %d, want 2", build.Retries)
	}
	if len(build.Fallbacks) != 1 || build.Fallbacks[0].Runner != models.BackendYarn {
		t.Errorf("build fallbacks = %+v", build.Fallbacks)
	}
	if !build.ParallelSafe {
		t.Error("parallel_safe should default to true")
	}

	if r.Index("build") != Defaults().Index("build") {
		t.Error("overridden task should keep its registration position")
	}
	if r.Index("storybook") != r.Len()-1 {
		t.Error("new task should be appended")
	}
	sb, _ := r.Get("storybook")
	if sb.ParallelSafe {
		t.Error("storybook should not be parallel safe")
	}
}

func TestParse_InheritFalse(t *testing.T) {
	r, err := Parse([]byte("inherit: false\ntasks:\n  - {name: a, command: a, runner: npm}\n"), Defaults())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestParse_RejectsUnknownRunner(t *testing.T) {
	data := []byte(`
tasks:
  - name: a
    command: a
    runner: npm
    fallbacks:
      - runner: gradle
        command: build
`)
	_, err := Parse(data, nil)
	if err == nil {
		t.Fatal("expected error for unknown fallback runner")
	}
	if !errors.Is(err, ErrInvalidTask) {
		t.Errorf("error %v does not match ErrInvalidTask", err)
	}
}

func TestParse_RejectsBadTimeout(t *testing.T) {
	_, err := Parse([]byte("tasks:\n  - {name: a, command: a, runner: npm, timeout: soon}\n"), nil)
	if err == nil {
		t.Fatal("expected error for invalid timeout")
	}
}

func TestLoad_MissingDefaultFileUsesDefaults(t *testing.T) {
	r, err := Load(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if r.Len() != Defaults().Len() {
		t.Errorf("Len() = %d, want %d", r.Len(), Defaults().Len())
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	if _, err := Load(t.TempDir(), "/nonexistent/tasks.yaml"); err == nil {
		t.Error("expected error for missing explicit tasks file")
	}
}

func TestLoad_ProjectFile(t *testing.T) {
	dir := t.TempDir()
	content := "tasks:\n  - {name: docs, command: docs:build, runner: pnpm, depends_on: [build]}\n"
	if err := os.WriteFile(filepath.Join(dir, DefaultTasksFile), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	r, err := Load(dir, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !r.Has("docs") || !r.Has("build") {
		t.Errorf("expected docs and built-in build, got %v", r.Names())
	}
}

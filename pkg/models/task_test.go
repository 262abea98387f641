package models

import "testing"

func TestCacheMode_Valid(t *testing.T) {
	tests := []struct {
		name string
		mode CacheMode
		want bool
	}{
		{"aggressive is valid", CacheAggressive, true},
		{"conservative is valid", CacheConservative, true},
		{"disabled is valid", CacheDisabled, true},
		{"empty string is invalid", CacheMode(""), false},
		{"typo is invalid", CacheMode("agressive"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.mode.Valid(); got != tt.want {
				t.Errorf("CacheMode(%q).Valid() = %v, want %v", tt.mode, got, tt.want)
			}
		})
	}
}

func TestParseCacheMode(t *testing.T) {
	if _, err := ParseCacheMode("sometimes"); err == nil {
		t.Error("expected error for unknown cache mode")
	}
	m, err := ParseCacheMode("disabled")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != CacheDisabled {
		t.Errorf("got %q, want %q", m, CacheDisabled)
	}
}

func TestTaskDefinition_CommandFor(t *testing.T) {
	task := &TaskDefinition{
		Name:            "build",
		Command:         "build",
		PreferredRunner: BackendTurbo,
		Fallbacks: []Fallback{
			{Runner: BackendPnpm, Command: "build:all"},
			{Runner: BackendNpm, Command: "build"},
			{Runner: BackendPnpm, Command: "ignored"},
		},
	}

	tests := []struct {
		runner Backend
		want   string
	}{
		{BackendTurbo, "build"},
		{BackendPnpm, "build:all"},
		{BackendNpm, "build"},
		{BackendNx, "build"},
		{BackendYarn, TaskTemplate},
	}

	for _, tt := range tests {
		t.Run(string(tt.runner), func(t *testing.T) {
			if got := task.CommandFor(tt.runner); got != tt.want {
				t.Errorf("CommandFor(%s) = %q, want %q", tt.runner, got, tt.want)
			}
		})
	}
}

func TestTaskDefinition_CloneIsDeep(t *testing.T) {
	orig := &TaskDefinition{
		Name:         "test",
		Dependencies: []string{"build"},
		Fallbacks:    []Fallback{{Runner: BackendJest, Command: "--ci"}},
	}

	c := orig.Clone()
	c.Dependencies[0] = "lint"
	c.Fallbacks[0].Runner = BackendVitest

	if orig.Dependencies[0] != "build" {
		t.Errorf("clone shares dependency slice: %v", orig.Dependencies)
	}
	if orig.Fallbacks[0].Runner != BackendJest {
		t.Errorf("clone shares fallback slice: %v", orig.Fallbacks)
	}
}

func TestTaskDefinition_HasDependencies(t *testing.T) {
	if (&TaskDefinition{}).HasDependencies() {
		t.Error("empty task should have no dependencies")
	}
	if !(&TaskDefinition{Dependencies: []string{"a"}}).HasDependencies() {
		t.Error("expected dependencies")
	}
}

func TestTaskDefinition_CommandFor_OtherKindUsesTaskName(t *testing.T) {
	task := &TaskDefinition{
		Name:            "test",
		Command:         "--passWithNoTests",
		PreferredRunner: BackendVitest,
		Fallbacks:       []Fallback{{Runner: BackendNpm, Command: "test:unit"}},
	}

	tests := []struct {
		runner Backend
		want   string
	}{
		{BackendVitest, "--passWithNoTests"},
		{BackendJest, "--passWithNoTests"},
		{BackendNpm, "test:unit"},
		{BackendTurbo, TaskTemplate},
		{BackendPnpm, TaskTemplate},
	}
	for _, tt := range tests {
		if got := task.CommandFor(tt.runner); got != tt.want {
			t.Errorf("CommandFor(%s) = %q, want %q", tt.runner, got, tt.want)
		}
	}
}

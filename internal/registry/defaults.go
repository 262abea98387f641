package registry

import (
	"time"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// defaultTasks is the built-in task table for a React application stack.
var defaultTasks = []models.TaskDefinition{
	{
		Name:            "lint",
		Description:     "Lint every package",
		Command:         "lint",
		PreferredRunner: models.BackendTurbo,
		Fallbacks: []models.Fallback{
			{Runner: models.BackendPnpm, Command: "lint"},
			{Runner: models.BackendNpm, Command: "lint"},
		},
		ParallelSafe: true,
		Cacheable:    true,
		Timeout:      5 * time.Minute,
	},
	{
		Name:            "typecheck",
		Description:     "Type-check every package",
		Command:         "typecheck",
		PreferredRunner: models.BackendTurbo,
		Fallbacks: []models.Fallback{
			{Runner: models.BackendPnpm, Command: "typecheck"},
			{Runner: models.BackendNpm, Command: "typecheck"},
		},
		ParallelSafe: true,
		Cacheable:    true,
		Timeout:      5 * time.Minute,
	},
	{
		Name:            "build",
		Description:     "Build every framework target",
		Command:         "build",
		PreferredRunner: models.BackendTurbo,
		Dependencies:    []string{"typecheck"},
		Fallbacks: []models.Fallback{
			{Runner: models.BackendNx, Command: "build"},
			{Runner: models.BackendPnpm, Command: "build"},
			{Runner: models.BackendNpm, Command: "build"},
		},
		ParallelSafe: true,
		Cacheable:    true,
		Timeout:      15 * time.Minute,
		Retries:      1,
	},
	{
		Name:            "test",
		Description:     "Run unit tests",
		Command:         "--passWithNoTests",
		PreferredRunner: models.BackendVitest,
		Dependencies:    []string{"typecheck"},
		Fallbacks: []models.Fallback{
			{Runner: models.BackendJest, Command: "--passWithNoTests"},
			{Runner: models.BackendNpm, Command: "test"},
		},
		ParallelSafe: true,
		Cacheable:    true,
		Timeout:      10 * time.Minute,
	},
	{
		Name:            "e2e",
		Description:     "Run end-to-end tests against a production build",
		Command:         "--reporter=line",
		PreferredRunner: models.BackendPlaywright,
		Dependencies:    []string{"build"},
		Fallbacks: []models.Fallback{
			{Runner: models.BackendNpm, Command: "test:e2e"},
		},
		Timeout: 20 * time.Minute,
		Retries: 1,
	},
	{
		Name:            "deploy",
		Description:     "Deploy the built application",
		Command:         "deploy",
		PreferredRunner: models.BackendNpm,
		Dependencies:    []string{"build", "test"},
		Fallbacks: []models.Fallback{
			{Runner: models.BackendPnpm, Command: "deploy"},
			{Runner: models.BackendYarn, Command: "deploy"},
		},
		Timeout: 30 * time.Minute,
	},
}

// Defaults returns a registry populated with the built-in tasks.
func Defaults() *Registry {
	r := New()
	for _, def := range defaultTasks {
		if err := r.Register(def); err != nil {
			// Built-in table is static; a failure here is a programming error.
			panic(err)
		}
	}
	return r
}

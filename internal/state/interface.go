package state

import (
	"io"
	"time"

	"github.com/ShayCichocki/stackrun/pkg/models"
)

// RunStore handles run history persistence operations.
type RunStore interface {
	SaveRun(s *models.RunSummary) error
	GetRun(id string) (*models.RunSummary, error)
	ListRuns(limit int) ([]RunRecord, error)
	ListTaskResults(task string, limit int) ([]TaskRecord, error)
	PurgeOldRuns(olderThan time.Duration) (int64, error)
}

// Migrator handles database schema migrations.
// Separating this allows clients to depend only on migration functionality.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore defines the interface for state persistence.
// It lets the CLI work with any history backend without depending on the
// concrete SQLite implementation.
type StateStore interface {
	io.Closer
	Migrator
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ StateStore = (*DB)(nil)
	_ Migrator   = (*DB)(nil)
	_ RunStore   = (*DB)(nil)
)

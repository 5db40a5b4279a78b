// Package testsupport opens throwaway stores for tests.
package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/config"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	"github.com/jwalitptl/queue-api/internal/repository/postgres"
)

// MemoryConfig describes a migrated in-memory SQLite database.
func MemoryConfig() config.DatabaseConfig {
	return config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"}
}

// MustOpenStore returns a fresh migrated database that is closed with the test.
func MustOpenStore(t testing.TB) *sqlx.DB {
	t.Helper()

	db, err := postgres.Open(MemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// Seed inserts patients as-is, bypassing the queue engine. It is how tests
// build inconsistent or legacy states.
func Seed(t testing.TB, repo repository.PatientRepository, patients ...*model.Patient) {
	t.Helper()

	err := repo.WithTx(context.Background(), func(tx repository.PatientTx) error {
		for _, p := range patients {
			if err := tx.Insert(context.Background(), p); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// Waiting builds a waiting patient at the given position.
func Waiting(name string, position int, createdAt time.Time) *model.Patient {
	return &model.Patient{
		ID:            uuid.New(),
		Name:          name,
		Examination:   "checkup",
		Status:        model.PatientStatusWaiting,
		QueuePosition: position,
		CreatedAt:     createdAt,
	}
}

// Completed builds a completed patient with a frozen position.
func Completed(name string, position int, createdAt, completedAt time.Time) *model.Patient {
	p := Waiting(name, position, createdAt)
	p.Status = model.PatientStatusCompleted
	p.CompletedAt = &completedAt
	return p
}

// InsertLegacy writes a row with a NULL status, as stored before the
// status column was introduced.
func InsertLegacy(t testing.TB, db *sqlx.DB, name string, position int, createdAt time.Time) uuid.UUID {
	t.Helper()

	id := uuid.New()
	_, err := db.Exec(db.Rebind(`
		INSERT INTO patients (id, name, examination, status, queue_position, created_at)
		VALUES (?, ?, ?, NULL, ?, ?)
	`), id, name, "legacy", position, createdAt.UnixMilli())
	require.NoError(t, err)
	return id
}

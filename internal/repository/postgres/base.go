package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// queueLockKey identifies the transaction-scoped advisory lock that
// serializes queue mutations on Postgres.
const queueLockKey int64 = 0x636c696e6963

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// lockQueue blocks until no other mutation holds the queue. SQLite needs no
// statement here: its write transactions are already exclusive.
func (r *BaseRepository) lockQueue(ctx context.Context, tx *sqlx.Tx) error {
	if r.db.DriverName() != "postgres" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, queueLockKey)
	return err
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

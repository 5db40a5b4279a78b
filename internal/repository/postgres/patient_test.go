package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/config"
	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, Migrate(db))

	versions, err := AppliedMigrations(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_patients", "0002_outbox", "0003_backfill_status"}, versions)
}

func TestPatientInsertGetRoundTrip(t *testing.T) {
	db := openTestDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	created := time.Date(2024, 5, 1, 9, 30, 0, 123*int(time.Millisecond), time.UTC)
	completed := created.Add(time.Hour)
	p := &model.Patient{
		Name:          "Ana",
		Examination:   "X-ray",
		Status:        model.PatientStatusCompleted,
		QueuePosition: 4,
		CreatedAt:     created,
		CompletedAt:   &completed,
	}

	var got *model.Patient
	err := repo.WithTx(ctx, func(tx repository.PatientTx) error {
		if err := tx.Insert(ctx, p); err != nil {
			return err
		}
		var err error
		got, err = tx.Get(ctx, p.ID)
		return err
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, model.PatientStatusCompleted, got.Status)
	assert.Equal(t, 4, got.QueuePosition)
	assert.True(t, created.Equal(got.CreatedAt))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, completed.Equal(*got.CompletedAt))
}

func TestPatientLegacyNullStatusReadsAsWaiting(t *testing.T) {
	db := openTestDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	id := uuid.New()
	_, err := db.Exec(db.Rebind(`
		INSERT INTO patients (id, name, examination, status, queue_position, created_at)
		VALUES (?, 'Old', 'legacy', NULL, 1, 0)
	`), id)
	require.NoError(t, err)

	patients, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, model.PatientStatusWaiting, patients[0].Status)
	assert.Nil(t, patients[0].CompletedAt)
}

func TestPatientPatch(t *testing.T) {
	db := openTestDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	done := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := &model.Patient{Name: "Ben", Examination: "MRI", Status: model.PatientStatusWaiting, QueuePosition: 1, CreatedAt: done}

	require.NoError(t, repo.WithTx(ctx, func(tx repository.PatientTx) error { return tx.Insert(ctx, p) }))

	status := model.PatientStatusCompleted
	require.NoError(t, repo.WithTx(ctx, func(tx repository.PatientTx) error {
		return tx.Patch(ctx, p.ID, model.PatientPatch{Status: &status, CompletedAt: &done})
	}))

	waiting := model.PatientStatusWaiting
	var got *model.Patient
	require.NoError(t, repo.WithTx(ctx, func(tx repository.PatientTx) error {
		patch := model.PositionPatch(3)
		patch.Status = &waiting
		patch.ClearCompletedAt = true
		if err := tx.Patch(ctx, p.ID, patch); err != nil {
			return err
		}
		var err error
		got, err = tx.Get(ctx, p.ID)
		return err
	}))

	assert.Equal(t, model.PatientStatusWaiting, got.Status)
	assert.Equal(t, 3, got.QueuePosition)
	assert.Nil(t, got.CompletedAt)
	assert.Equal(t, "Ben", got.Name)
}

func TestPatientMissingIDs(t *testing.T) {
	db := openTestDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()
	missing := uuid.New()

	name := "x"
	tests := []struct {
		name string
		fn   func(tx repository.PatientTx) error
	}{
		{"get", func(tx repository.PatientTx) error { _, err := tx.Get(ctx, missing); return err }},
		{"patch", func(tx repository.PatientTx) error { return tx.Patch(ctx, missing, model.PatientPatch{Name: &name}) }},
		{"empty patch", func(tx repository.PatientTx) error { return tx.Patch(ctx, missing, model.PatientPatch{}) }},
		{"delete", func(tx repository.PatientTx) error { return tx.Delete(ctx, missing) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.WithTx(ctx, tt.fn)
			assert.ErrorIs(t, err, repository.ErrNotFound)
		})
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.WithTx(ctx, func(tx repository.PatientTx) error {
		p := &model.Patient{Name: "C", Examination: "E", Status: model.PatientStatusWaiting, QueuePosition: 1, CreatedAt: time.Now()}
		if err := tx.Insert(ctx, p); err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, &model.OutboxEvent{EventType: model.EventPatientAdded, Payload: []byte(`{}`)}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	patients, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, patients)

	events, err := NewOutboxRepository(db).GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := openTestDB(t)
	repo := NewPatientRepository(db)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = repo.WithTx(ctx, func(tx repository.PatientTx) error {
			p := &model.Patient{Name: "P", Examination: "E", Status: model.PatientStatusWaiting, QueuePosition: 1, CreatedAt: time.Now()}
			if err := tx.Insert(ctx, p); err != nil {
				return err
			}
			panic("unexpected")
		})
	})

	patients, err := repo.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, patients)
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
)

// ErrNotFound is returned when an id does not resolve to a stored record.
var ErrNotFound = errors.New("record not found")

// All repository interfaces in one file
type (
	// PatientTx is the unit of work a single queue mutation runs in. Every
	// call made through it commits or rolls back together.
	PatientTx interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		Insert(ctx context.Context, patient *model.Patient) error
		Patch(ctx context.Context, id uuid.UUID, patch model.PatientPatch) error
		Delete(ctx context.Context, id uuid.UUID) error
		Scan(ctx context.Context) ([]*model.Patient, error)
		AppendEvent(ctx context.Context, event *model.OutboxEvent) error
	}

	// PatientRepository serializes queue mutations and serves lock-free reads.
	PatientRepository interface {
		WithTx(ctx context.Context, fn func(tx PatientTx) error) error
		Snapshot(ctx context.Context) ([]*model.Patient, error)
	}

	OutboxRepository interface {
		GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
		MarkProcessed(ctx context.Context, id uuid.UUID) error
		MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error
		DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
	}
)

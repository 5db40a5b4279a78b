package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
)

const patientColumns = `id, name, examination, status, queue_position, created_at, completed_at`

type patientRow struct {
	ID            uuid.UUID      `db:"id"`
	Name          string         `db:"name"`
	Examination   string         `db:"examination"`
	Status        sql.NullString `db:"status"`
	QueuePosition int            `db:"queue_position"`
	CreatedAt     int64          `db:"created_at"`
	CompletedAt   sql.NullInt64  `db:"completed_at"`
}

func (r *patientRow) toModel() *model.Patient {
	p := &model.Patient{
		ID:            r.ID,
		Name:          r.Name,
		Examination:   r.Examination,
		Status:        model.ParsePatientStatus(r.Status.String),
		QueuePosition: r.QueuePosition,
		CreatedAt:     fromMillis(r.CreatedAt),
	}
	if r.CompletedAt.Valid {
		t := fromMillis(r.CompletedAt.Int64)
		p.CompletedAt = &t
	}
	return p
}

func rowsToModels(rows []patientRow) []*model.Patient {
	patients := make([]*model.Patient, 0, len(rows))
	for i := range rows {
		patients = append(patients, rows[i].toModel())
	}
	return patients
}

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(db *sqlx.DB) repository.PatientRepository {
	return &patientRepository{NewBaseRepository(db)}
}

func (r *patientRepository) WithTx(ctx context.Context, fn func(tx repository.PatientTx) error) error {
	return r.BaseRepository.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.lockQueue(ctx, tx); err != nil {
			return fmt.Errorf("failed to lock queue: %w", err)
		}
		return fn(&patientTx{tx: tx})
	})
}

func (r *patientRepository) Snapshot(ctx context.Context) ([]*model.Patient, error) {
	var rows []patientRow
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to scan patients: %w", err)
	}
	return rowsToModels(rows), nil
}

type patientTx struct {
	tx *sqlx.Tx
}

func (t *patientTx) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var row patientRow
	query := t.tx.Rebind(`SELECT ` + patientColumns + ` FROM patients WHERE id = ?`)
	err := t.tx.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return row.toModel(), nil
}

func (t *patientTx) Insert(ctx context.Context, patient *model.Patient) error {
	if patient.ID == uuid.Nil {
		patient.ID = uuid.New()
	}

	var completedAt interface{}
	if patient.CompletedAt != nil {
		completedAt = toMillis(*patient.CompletedAt)
	}

	query := t.tx.Rebind(`
		INSERT INTO patients (id, name, examination, status, queue_position, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := t.tx.ExecContext(ctx, query,
		patient.ID,
		patient.Name,
		patient.Examination,
		string(patient.Status),
		patient.QueuePosition,
		toMillis(patient.CreatedAt),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert patient: %w", err)
	}
	return nil
}

func (t *patientTx) Patch(ctx context.Context, id uuid.UUID, patch model.PatientPatch) error {
	if patch.IsEmpty() {
		_, err := t.Get(ctx, id)
		return err
	}

	var (
		sets []string
		args []interface{}
	)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Examination != nil {
		sets = append(sets, "examination = ?")
		args = append(args, *patch.Examination)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.QueuePosition != nil {
		sets = append(sets, "queue_position = ?")
		args = append(args, *patch.QueuePosition)
	}
	if patch.ClearCompletedAt {
		sets = append(sets, "completed_at = NULL")
	} else if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, toMillis(*patch.CompletedAt))
	}
	args = append(args, id)

	query := t.tx.Rebind(`UPDATE patients SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch patient: %w", err)
	}
	return requireAffected(res)
}

func (t *patientTx) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, t.tx.Rebind(`DELETE FROM patients WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete patient: %w", err)
	}
	return requireAffected(res)
}

func (t *patientTx) Scan(ctx context.Context) ([]*model.Patient, error) {
	var rows []patientRow
	query := `SELECT ` + patientColumns + ` FROM patients ORDER BY created_at, id`
	if err := t.tx.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to scan patients: %w", err)
	}
	return rowsToModels(rows), nil
}

func (t *patientTx) AppendEvent(ctx context.Context, event *model.OutboxEvent) error {
	return insertOutboxEvent(ctx, t.tx, event)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

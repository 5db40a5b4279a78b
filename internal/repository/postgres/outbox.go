package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
)

// maxDeliveryAttempts bounds how often a failed event is picked up again.
const maxDeliveryAttempts = 5

type outboxRow struct {
	ID           uuid.UUID      `db:"id"`
	EventType    string         `db:"event_type"`
	Payload      string         `db:"payload"`
	Status       string         `db:"status"`
	ErrorMessage sql.NullString `db:"error_message"`
	RetryCount   int            `db:"retry_count"`
	CreatedAt    int64          `db:"created_at"`
	ProcessedAt  sql.NullInt64  `db:"processed_at"`
}

func (r *outboxRow) toModel() *model.OutboxEvent {
	evt := &model.OutboxEvent{
		ID:         r.ID,
		EventType:  r.EventType,
		Payload:    []byte(r.Payload),
		Status:     model.OutboxStatus(r.Status),
		RetryCount: r.RetryCount,
		CreatedAt:  fromMillis(r.CreatedAt),
	}
	if r.ErrorMessage.Valid {
		msg := r.ErrorMessage.String
		evt.ErrorMessage = &msg
	}
	if r.ProcessedAt.Valid {
		t := fromMillis(r.ProcessedAt.Int64)
		evt.ProcessedAt = &t
	}
	return evt
}

type outboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{NewBaseRepository(db)}
}

func insertOutboxEvent(ctx context.Context, ext sqlx.ExtContext, event *model.OutboxEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if event.Payload == nil {
		return fmt.Errorf("event payload cannot be nil")
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.Status = model.OutboxStatusPending

	query := ext.Rebind(`
		INSERT INTO outbox_events (id, event_type, payload, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`)
	_, err := ext.ExecContext(ctx, query,
		event.ID,
		event.EventType,
		string(event.Payload),
		string(event.Status),
		toMillis(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}

func (r *outboxRepository) GetPendingEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := r.db.Rebind(`
		SELECT id, event_type, payload, status, error_message, retry_count, created_at, processed_at
		FROM outbox_events
		WHERE status = ? OR (status = ? AND retry_count < ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`)

	var rows []outboxRow
	err := r.db.SelectContext(ctx, &rows, query,
		string(model.OutboxStatusPending),
		string(model.OutboxStatusFailed),
		maxDeliveryAttempts,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}

	events := make([]*model.OutboxEvent, 0, len(rows))
	for i := range rows {
		events = append(events, rows[i].toModel())
	}
	return events, nil
}

func (r *outboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query := r.db.Rebind(`
		UPDATE outbox_events
		SET status = ?, error_message = NULL, processed_at = ?
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query, string(model.OutboxStatusProcessed), toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return requireAffected(res)
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	query := r.db.Rebind(`
		UPDATE outbox_events
		SET status = ?, error_message = ?, retry_count = retry_count + 1
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query, string(model.OutboxStatusFailed), errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to mark event failed: %w", err)
	}
	return requireAffected(res)
}

func (r *outboxRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	query := r.db.Rebind(`
		DELETE FROM outbox_events
		WHERE status = ?
		AND processed_at < ?
	`)
	result, err := r.db.ExecContext(ctx, query, string(model.OutboxStatusProcessed), toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}

	return result.RowsAffected()
}

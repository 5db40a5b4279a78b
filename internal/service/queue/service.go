package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
	"github.com/jwalitptl/queue-api/internal/repository"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
	"github.com/jwalitptl/queue-api/pkg/logger"
	"github.com/jwalitptl/queue-api/pkg/metrics"
)

// QueueService is the clinic waiting queue. Mutations on an unknown or
// ineligible id are no-ops, except Update which reports NotFound.
type QueueService interface {
	List(ctx context.Context) ([]*model.QueueEntry, error)
	ListCompleted(ctx context.Context) ([]*model.Patient, error)
	Add(ctx context.Context, name, examination string) (*model.Patient, error)
	Update(ctx context.Context, id uuid.UUID, name, examination string) error
	MarkCompleted(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	RestorePatient(ctx context.Context, id uuid.UUID) (*model.Patient, error)
	Remove(ctx context.Context, id uuid.UUID) error
	Reorder(ctx context.Context, id uuid.UUID, newPosition int) error
	ClearAll(ctx context.Context) error
	ClearCompleted(ctx context.Context) error
}

const (
	opList           = "list"
	opListCompleted  = "list_completed"
	opAdd            = "add"
	opUpdate         = "update"
	opMarkCompleted  = "mark_completed"
	opRestore        = "restore"
	opRemove         = "remove"
	opReorder        = "reorder"
	opClearAll       = "clear_all"
	opClearCompleted = "clear_completed"
)

// outcome labels for queue_operations_total
const (
	statusSuccess = "success"
	statusNoop    = "noop"
	statusError   = "error"
)

type Service struct {
	repo    repository.PatientRepository
	cache   *SnapshotCache
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ QueueService = (*Service)(nil)

// NewService wires the engine. cache and m may be nil.
func NewService(repo repository.PatientRepository, cache *SnapshotCache, log *logger.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}
}

// Invalidate drops the cached snapshot. It is called after local mutations
// and whenever another process announces a queue event.
func (s *Service) Invalidate() {
	if s.cache != nil {
		s.cache.Invalidate()
	}
}

func (s *Service) List(ctx context.Context) (entries []*model.QueueEntry, err error) {
	defer s.observe(opList, time.Now(), &err, nil)

	patients, err := s.snapshot(ctx)
	if err != nil {
		return nil, apperrors.Storage(opList, err)
	}

	entries = rank(waitingInOrder(patients))
	if s.metrics != nil {
		s.metrics.WaitingPatients.Set(float64(len(entries)))
	}
	return entries, nil
}

func (s *Service) ListCompleted(ctx context.Context) (completed []*model.Patient, err error) {
	defer s.observe(opListCompleted, time.Now(), &err, nil)

	patients, err := s.snapshot(ctx)
	if err != nil {
		return nil, apperrors.Storage(opListCompleted, err)
	}

	completed = completedByRecency(patients)
	for i, p := range completed {
		completed[i] = p.Clone()
	}
	return completed, nil
}

func (s *Service) snapshot(ctx context.Context) ([]*model.Patient, error) {
	if s.cache == nil {
		return s.repo.Snapshot(ctx)
	}

	cached, generation, ok := s.cache.Load()
	if ok {
		return cached, nil
	}
	patients, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Store(patients, generation)
	return patients, nil
}

func (s *Service) Add(ctx context.Context, name, examination string) (added *model.Patient, err error) {
	defer s.observe(opAdd, time.Now(), &err, nil)

	name, examination, err = validateDetails(name, examination)
	if err != nil {
		return nil, err
	}

	err = s.mutate(ctx, opAdd, func(tx repository.PatientTx) error {
		patients, err := tx.Scan(ctx)
		if err != nil {
			return err
		}

		p := &model.Patient{
			ID:            uuid.New(),
			Name:          name,
			Examination:   examination,
			Status:        model.PatientStatusWaiting,
			QueuePosition: nextPosition(patients),
			CreatedAt:     s.timestamp(),
		}
		if err := tx.Insert(ctx, p); err != nil {
			return err
		}
		added = p
		return s.appendEvent(ctx, tx, model.EventPatientAdded, &p.ID, func(e *model.QueueEvent) {
			e.Position = p.QueuePosition
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).Debug("Patient added", "patient_id", added.ID.String(), "position", added.QueuePosition)
	return added, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, name, examination string) (err error) {
	defer s.observe(opUpdate, time.Now(), &err, nil)

	name, examination, err = validateDetails(name, examination)
	if err != nil {
		return err
	}

	return s.mutate(ctx, opUpdate, func(tx repository.PatientTx) error {
		err := tx.Patch(ctx, id, model.PatientPatch{Name: &name, Examination: &examination})
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("patient", err)
		}
		if err != nil {
			return err
		}
		return s.appendEvent(ctx, tx, model.EventPatientUpdated, &id, nil)
	})
}

func (s *Service) MarkCompleted(ctx context.Context, id uuid.UUID) (previous *model.Patient, err error) {
	noop := false
	defer s.observe(opMarkCompleted, time.Now(), &err, &noop)

	err = s.mutate(ctx, opMarkCompleted, func(tx repository.PatientTx) error {
		p, err := tx.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			noop = true
			return nil
		}
		if err != nil {
			return err
		}
		if !p.IsWaiting() {
			noop = true
			return nil
		}

		completedAt := s.timestamp()
		status := model.PatientStatusCompleted
		if err := tx.Patch(ctx, id, model.PatientPatch{Status: &status, CompletedAt: &completedAt}); err != nil {
			return err
		}

		affected, err := s.compact(ctx, tx)
		if err != nil {
			return err
		}

		previous = p
		return s.appendEvent(ctx, tx, model.EventPatientCompleted, &id, func(e *model.QueueEvent) {
			e.OldPosition = p.QueuePosition
			e.Affected = affected
		})
	})
	if err != nil || noop {
		return nil, err
	}

	s.logger.WithContext(ctx).Debug("Patient completed", "patient_id", id.String(), "position", previous.QueuePosition)
	return previous, nil
}

func (s *Service) RestorePatient(ctx context.Context, id uuid.UUID) (restored *model.Patient, err error) {
	noop := false
	defer s.observe(opRestore, time.Now(), &err, &noop)

	err = s.mutate(ctx, opRestore, func(tx repository.PatientTx) error {
		p, err := tx.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			noop = true
			return nil
		}
		if err != nil {
			return err
		}
		if p.IsWaiting() {
			noop = true
			return nil
		}

		patients, err := tx.Scan(ctx)
		if err != nil {
			return err
		}
		position := nextPosition(patients)
		status := model.PatientStatusWaiting
		patch := model.PatientPatch{Status: &status, QueuePosition: &position, ClearCompletedAt: true}
		if err := tx.Patch(ctx, id, patch); err != nil {
			return err
		}

		restored = p.Clone()
		restored.Status = status
		restored.QueuePosition = position
		restored.CompletedAt = nil
		return s.appendEvent(ctx, tx, model.EventPatientRestored, &id, func(e *model.QueueEvent) {
			e.Position = position
		})
	})
	if err != nil || noop {
		return nil, err
	}

	s.logger.WithContext(ctx).Debug("Patient restored", "patient_id", id.String(), "position", restored.QueuePosition)
	return restored, nil
}

func (s *Service) Remove(ctx context.Context, id uuid.UUID) (err error) {
	noop := false
	defer s.observe(opRemove, time.Now(), &err, &noop)

	return s.mutate(ctx, opRemove, func(tx repository.PatientTx) error {
		p, err := tx.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			noop = true
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, id); err != nil {
			return err
		}

		affected := 0
		if p.IsWaiting() {
			if affected, err = s.compact(ctx, tx); err != nil {
				return err
			}
		}
		return s.appendEvent(ctx, tx, model.EventPatientRemoved, &id, func(e *model.QueueEvent) {
			e.OldPosition = p.QueuePosition
			e.Affected = affected
		})
	})
}

// Reorder moves a waiting patient to newPosition, clamped into [1, N]. The
// patient's current position is its rank in queue order, not the stored
// value, so a damaged numbering is repaired by the move.
func (s *Service) Reorder(ctx context.Context, id uuid.UUID, newPosition int) (err error) {
	noop := false
	defer s.observe(opReorder, time.Now(), &err, &noop)

	return s.mutate(ctx, opReorder, func(tx repository.PatientTx) error {
		patients, err := tx.Scan(ctx)
		if err != nil {
			return err
		}

		order := waitingInOrder(patients)
		idx := indexOf(order, id)
		if idx < 0 {
			noop = true
			return nil
		}

		oldPosition := idx + 1
		target := clampPosition(newPosition, len(order))
		if target == oldPosition {
			noop = true
			return nil
		}

		changes := renumber(moveTo(order, oldPosition, target))
		if err := applyChanges(ctx, tx, changes); err != nil {
			return err
		}

		s.logger.WithContext(ctx).Debug("Patient moved",
			"patient_id", id.String(),
			"old_position", oldPosition,
			"position", target,
			"rows", len(changes))
		return s.appendEvent(ctx, tx, model.EventPatientMoved, &id, func(e *model.QueueEvent) {
			e.OldPosition = oldPosition
			e.Position = target
			e.Affected = len(changes)
		})
	})
}

func (s *Service) ClearAll(ctx context.Context) (err error) {
	defer s.observe(opClearAll, time.Now(), &err, nil)

	return s.mutate(ctx, opClearAll, func(tx repository.PatientTx) error {
		return s.deleteWhere(ctx, tx, model.EventQueueCleared, func(*model.Patient) bool { return true })
	})
}

func (s *Service) ClearCompleted(ctx context.Context) (err error) {
	defer s.observe(opClearCompleted, time.Now(), &err, nil)

	return s.mutate(ctx, opClearCompleted, func(tx repository.PatientTx) error {
		return s.deleteWhere(ctx, tx, model.EventCompletedCleared, func(p *model.Patient) bool { return !p.IsWaiting() })
	})
}

func (s *Service) deleteWhere(ctx context.Context, tx repository.PatientTx, eventType string, match func(*model.Patient) bool) error {
	patients, err := tx.Scan(ctx)
	if err != nil {
		return err
	}

	deleted := 0
	for _, p := range patients {
		if !match(p) {
			continue
		}
		if err := tx.Delete(ctx, p.ID); err != nil {
			return err
		}
		deleted++
	}
	return s.appendEvent(ctx, tx, eventType, nil, func(e *model.QueueEvent) {
		e.Affected = deleted
	})
}

// compact renumbers the waiting set to 1..M in its current order.
func (s *Service) compact(ctx context.Context, tx repository.PatientTx) (int, error) {
	patients, err := tx.Scan(ctx)
	if err != nil {
		return 0, err
	}
	changes := renumber(waitingInOrder(patients))
	if err := applyChanges(ctx, tx, changes); err != nil {
		return 0, err
	}
	return len(changes), nil
}

func applyChanges(ctx context.Context, tx repository.PatientTx, changes []positionChange) error {
	for _, c := range changes {
		if err := tx.Patch(ctx, c.id, model.PositionPatch(c.to)); err != nil {
			return fmt.Errorf("move patient %s from %d to %d: %w", c.id, c.from, c.to, err)
		}
	}
	return nil
}

// mutate runs fn as one transaction. Errors that already carry an AppError
// pass through; anything else is a storage failure.
func (s *Service) mutate(ctx context.Context, op string, fn func(tx repository.PatientTx) error) error {
	err := s.repo.WithTx(ctx, fn)
	if err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		s.logger.WithContext(ctx).Error(err, "Queue transaction failed", "operation", op)
		return apperrors.Storage(op, err)
	}
	s.Invalidate()
	return nil
}

func (s *Service) appendEvent(ctx context.Context, tx repository.PatientTx, eventType string, patientID *uuid.UUID, fill func(*model.QueueEvent)) error {
	evt := model.QueueEvent{
		Type:       eventType,
		PatientID:  patientID,
		OccurredAt: s.timestamp(),
	}
	if fill != nil {
		fill(&evt)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return tx.AppendEvent(ctx, &model.OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   payload,
		CreatedAt: evt.OccurredAt,
	})
}

// timestamp is now at the precision the store keeps.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func (s *Service) observe(op string, start time.Time, err *error, noop *bool) {
	if s.metrics == nil {
		return
	}
	s.metrics.QueueOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	status := statusSuccess
	switch {
	case *err != nil:
		status = statusError
	case noop != nil && *noop:
		status = statusNoop
	}
	s.metrics.QueueOperations.WithLabelValues(op, status).Inc()
}

func validateDetails(name, examination string) (string, string, error) {
	name = strings.TrimSpace(name)
	examination = strings.TrimSpace(examination)

	var missing []string
	if name == "" {
		missing = append(missing, "name")
	}
	if examination == "" {
		missing = append(missing, "examination")
	}
	if len(missing) > 0 {
		return "", "", apperrors.Validation(strings.Join(missing, " and ") + " must not be blank")
	}
	return name, examination, nil
}

package queue

import (
	"cmp"
	"slices"

	"github.com/google/uuid"

	"github.com/jwalitptl/queue-api/internal/model"
)

// positionChange is a single row renumbering produced by compaction or a move.
type positionChange struct {
	id   uuid.UUID
	from int
	to   int
}

// compareQueueOrder orders waiting patients by stored position. Ties, which
// only exist in damaged data, fall back to arrival order and then id.
func compareQueueOrder(a, b *model.Patient) int {
	if c := cmp.Compare(a.QueuePosition, b.QueuePosition); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.String(), b.ID.String())
}

// waitingInOrder returns the waiting subset sorted into queue order.
func waitingInOrder(patients []*model.Patient) []*model.Patient {
	waiting := make([]*model.Patient, 0, len(patients))
	for _, p := range patients {
		if p.IsWaiting() {
			waiting = append(waiting, p)
		}
	}
	slices.SortFunc(waiting, compareQueueOrder)
	return waiting
}

func completedMillis(p *model.Patient) int64 {
	if p.CompletedAt == nil {
		return 0
	}
	return p.CompletedAt.UnixMilli()
}

// completedByRecency returns the completed subset, most recently completed
// first. A missing completion time sorts as the epoch.
func completedByRecency(patients []*model.Patient) []*model.Patient {
	completed := make([]*model.Patient, 0)
	for _, p := range patients {
		if !p.IsWaiting() {
			completed = append(completed, p)
		}
	}
	slices.SortStableFunc(completed, func(a, b *model.Patient) int {
		if c := cmp.Compare(completedMillis(b), completedMillis(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return completed
}

// rank annotates an ordered waiting list with 1-based ranks.
func rank(waiting []*model.Patient) []*model.QueueEntry {
	entries := make([]*model.QueueEntry, len(waiting))
	for i, p := range waiting {
		entries[i] = &model.QueueEntry{
			Patient:        p.Clone(),
			ActualPosition: i + 1,
			PatientsAhead:  i,
		}
	}
	return entries
}

// nextPosition is the tail slot of the waiting set: max position + 1, or 1.
func nextPosition(patients []*model.Patient) int {
	maxPosition := 0
	for _, p := range patients {
		if p.IsWaiting() && p.QueuePosition > maxPosition {
			maxPosition = p.QueuePosition
		}
	}
	return maxPosition + 1
}

// renumber assigns 1..N along order and reports the rows whose stored
// position differs from their new one.
func renumber(order []*model.Patient) []positionChange {
	var changes []positionChange
	for i, p := range order {
		if p.QueuePosition != i+1 {
			changes = append(changes, positionChange{id: p.ID, from: p.QueuePosition, to: i + 1})
		}
	}
	return changes
}

func indexOf(order []*model.Patient, id uuid.UUID) int {
	return slices.IndexFunc(order, func(p *model.Patient) bool { return p.ID == id })
}

// clampPosition bounds a requested position to [1, n].
func clampPosition(position, n int) int {
	return max(1, min(position, n))
}

// moveTo returns a copy of order with the element at rank from placed at rank to.
func moveTo(order []*model.Patient, from, to int) []*model.Patient {
	moved := slices.Clone(order)
	target := moved[from-1]
	moved = slices.Delete(moved, from-1, from)
	return slices.Insert(moved, to-1, target)
}

package model

import (
	"time"

	"github.com/google/uuid"
)

type PatientStatus string

const (
	PatientStatusWaiting   PatientStatus = "waiting"
	PatientStatusCompleted PatientStatus = "completed"
)

// ParsePatientStatus maps a stored status to its enum value. Records written
// before the status column existed carry no value and are waiting.
func ParsePatientStatus(raw string) PatientStatus {
	if PatientStatus(raw) == PatientStatusCompleted {
		return PatientStatusCompleted
	}
	return PatientStatusWaiting
}

func (s PatientStatus) IsWaiting() bool {
	return s != PatientStatusCompleted
}

// Patient is a single entry of the clinic waiting queue.
// QueuePosition is only meaningful while the patient is waiting.
type Patient struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Examination   string        `json:"examination"`
	Status        PatientStatus `json:"status"`
	QueuePosition int           `json:"queue_position"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

func (p *Patient) IsWaiting() bool {
	return p.Status.IsWaiting()
}

// Clone returns a copy that shares no pointers with p.
func (p *Patient) Clone() *Patient {
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// QueueEntry is a waiting patient annotated with its rank in the current view.
type QueueEntry struct {
	*Patient
	ActualPosition int `json:"actual_position"`
	PatientsAhead  int `json:"patients_ahead"`
}

// PatientPatch describes a partial update. Nil fields are left untouched.
type PatientPatch struct {
	Name             *string
	Examination      *string
	Status           *PatientStatus
	QueuePosition    *int
	CompletedAt      *time.Time
	ClearCompletedAt bool
}

func (p PatientPatch) IsEmpty() bool {
	return p.Name == nil && p.Examination == nil && p.Status == nil &&
		p.QueuePosition == nil && p.CompletedAt == nil && !p.ClearCompletedAt
}

// PositionPatch is shorthand for a patch that only moves a patient.
func PositionPatch(position int) PatientPatch {
	return PatientPatch{QueuePosition: &position}
}

type AddPatientRequest struct {
	Name        string `json:"name" binding:"required,notblank"`
	Examination string `json:"examination" binding:"required,notblank"`
}

type UpdatePatientRequest struct {
	Name        string `json:"name" binding:"required,notblank"`
	Examination string `json:"examination" binding:"required,notblank"`
}

type ReorderRequest struct {
	Position *int `json:"position" binding:"required"`
}

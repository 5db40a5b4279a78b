package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusProcessed OutboxStatus = "processed"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// Queue event types written to the outbox by committed mutations.
const (
	EventPatientAdded     = "queue.patient_added"
	EventPatientUpdated   = "queue.patient_updated"
	EventPatientCompleted = "queue.patient_completed"
	EventPatientRestored  = "queue.patient_restored"
	EventPatientRemoved   = "queue.patient_removed"
	EventPatientMoved     = "queue.patient_moved"
	EventQueueCleared     = "queue.cleared"
	EventCompletedCleared = "queue.completed_cleared"
)

type OutboxEvent struct {
	ID           uuid.UUID       `json:"id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	Status       OutboxStatus    `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
}

// QueueEvent is the payload published for every queue change.
type QueueEvent struct {
	Type        string     `json:"type"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	Position    int        `json:"position,omitempty"`
	OldPosition int        `json:"old_position,omitempty"`
	Affected    int        `json:"affected,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

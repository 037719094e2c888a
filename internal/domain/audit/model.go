package audit

import (
	"time"

	"github.com/google/uuid"
)

// Actions recorded for appointment and related entities.
const (
	ActionAppointmentCreated   = "APPOINTMENT_CREATED"
	ActionAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	ActionAppointmentCancelled = "APPOINTMENT_CANCELLED"
	ActionAppointmentCompleted = "APPOINTMENT_COMPLETED"
	ActionAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	ActionCalendarCreated      = "CALENDAR_CREATED"
	ActionCalendarUpdated      = "CALENDAR_UPDATED"
	ActionCalendarConfirmed    = "CALENDAR_CONFIRMED"
	ActionPaymentRecorded      = "PAYMENT_RECORDED"
	ActionPaymentCompleted     = "PAYMENT_COMPLETED"
	ActionPaymentFailed        = "PAYMENT_FAILED"
)

const (
	EntityAppointment = "appointment"
	EntityCalendar    = "calendar"
	EntityPayment     = "payment"
)

// Entry is an append-only record of a state change.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	ActorID    *uuid.UUID     `json:"actorId,omitempty"`
	ActorRole  string         `json:"actorRole"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   uuid.UUID      `json:"entityId"`
	OldValue   *string        `json:"oldValue,omitempty"`
	NewValue   *string        `json:"newValue,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	EntityID   *uuid.UUID
	ActorID    *uuid.UUID
	EntityType string
	Action     string
}

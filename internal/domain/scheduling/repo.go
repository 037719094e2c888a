package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AppointmentRepository interface {
	// Create inserts a pending appointment. An overlapping active booking for
	// the same doctor yields a Conflict.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListOverlapping returns active appointments of doctorID intersecting
	// [start, end).
	ListOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]*Appointment, error)
	// UpdateStatus moves id from status from to status to. It fails with
	// Conflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, cancellationReason *string) (*Appointment, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
}

type CalendarRepository interface {
	Create(ctx context.Context, c *Calendar) error
	GetByID(ctx context.Context, id uuid.UUID) (*Calendar, error)
	GetByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) (*Calendar, error)
	// UpdateSlots replaces the slots of an unconfirmed calendar and appends
	// prev to its history.
	UpdateSlots(ctx context.Context, id uuid.UUID, slots []string, prev SlotVersion) (*Calendar, error)
	Confirm(ctx context.Context, id uuid.UUID) (*Calendar, error)
}

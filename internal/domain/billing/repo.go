package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Payment, error)
	// Settle moves a payment out of pending. It fails with Conflict when the
	// payment is no longer pending.
	Settle(ctx context.Context, id uuid.UUID, status string, reference, failureReason *string, at time.Time) (*Payment, error)
}

// Package billing records appointment payments. A completed payment confirms
// the appointment it pays for.
package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRefunded  = "refunded"
)

const (
	MethodCard      = "card"
	MethodCash      = "cash"
	MethodTransfer  = "transfer"
	MethodInsurance = "insurance"
)

var validMethods = map[string]bool{
	MethodCard: true, MethodCash: true, MethodTransfer: true, MethodInsurance: true,
}

type Payment struct {
	ID            uuid.UUID       `json:"id"`
	AppointmentID uuid.UUID       `json:"appointmentId"`
	PatientID     uuid.UUID       `json:"patientId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Method        string          `json:"method"`
	Status        string          `json:"status"`
	Reference     *string         `json:"reference,omitempty"`
	FailureReason *string         `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

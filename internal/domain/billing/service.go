package billing

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/medbook/medbook/internal/domain/audit"
	"github.com/medbook/medbook/internal/domain/scheduling"
	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/db"
	"github.com/medbook/medbook/internal/platform/notification"
	"github.com/medbook/medbook/internal/platform/validate"
)

// Appointments is the part of the lifecycle manager payments depend on.
type Appointments interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	ConfirmFromPayment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
}

type Auditor interface {
	Record(ctx context.Context, actor auth.Actor, action, entityType string, entityID uuid.UUID, oldValue, newValue *string, meta map[string]any) error
}

type Notifier interface {
	Enqueue(ctx context.Context, msg notification.Message) (*notification.Notification, error)
	DeliverAll(ctx context.Context, ns []*notification.Notification)
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type Service struct {
	payments     Repository
	appointments Appointments
	audit        Auditor
	notifier     Notifier
	tx           db.Transactor
	loc          *time.Location
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(payments Repository, appts Appointments, audit Auditor, notifier Notifier, tx db.Transactor, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		payments:     payments,
		appointments: appts,
		audit:        audit,
		notifier:     notifier,
		tx:           tx,
		loc:          loc,
		logger:       logger,
		now:          time.Now,
	}
}

// RecordRequest is the body of POST /payments.
type RecordRequest struct {
	AppointmentID uuid.UUID       `json:"appointmentId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	Method        string          `json:"method" validate:"required,oneof=card cash transfer insurance"`
	Reference     *string         `json:"reference,omitempty" validate:"omitempty,max=200"`
}

// SettleRequest is the body of the complete and fail endpoints.
type SettleRequest struct {
	Reference *string `json:"reference,omitempty" validate:"omitempty,max=200"`
	Reason    *string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

// Record registers a pending payment for an appointment. Only the patient of
// the appointment or an admin may record one.
func (s *Service) Record(ctx context.Context, actor auth.Actor, req RecordRequest) (*Payment, error) {
	p := &Payment{
		ID:            uuid.New(),
		AppointmentID: req.AppointmentID,
		Amount:        req.Amount,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		Method:        req.Method,
		Status:        StatusPending,
		Reference:     validate.TextPtr(req.Reference),
	}
	var problems []string
	if p.AppointmentID == uuid.Nil {
		problems = append(problems, "appointmentId is required")
	}
	if !p.Amount.IsPositive() {
		problems = append(problems, "amount must be greater than 0")
	} else if !p.Amount.Equal(p.Amount.Round(2)) {
		problems = append(problems, "amount must have at most 2 decimal places")
	}
	if !currencyPattern.MatchString(p.Currency) {
		problems = append(problems, "currency must be a 3-letter ISO 4217 code")
	}
	if !validMethods[p.Method] {
		problems = append(problems, "method must be one of [card cash transfer insurance]")
	}
	if len(problems) > 0 {
		return nil, apperr.Validation("%s", strings.Join(problems, "; "))
	}

	a, err := s.appointments.GetAppointment(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && actor.ID != a.PatientID {
		return nil, apperr.Forbidden("only the patient of the appointment can pay for it")
	}
	if scheduling.IsTerminal(a.Status) {
		return nil, apperr.InvalidTransition("appointment is already %s", a.Status)
	}
	p.PatientID = a.PatientID

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.payments.Create(ctx, p); err != nil {
			return err
		}
		status := p.Status
		return s.audit.Record(ctx, actor, audit.ActionPaymentRecorded, audit.EntityPayment, p.ID, nil, &status,
			map[string]any{"appointmentId": p.AppointmentID, "amount": p.Amount.StringFixed(2), "currency": p.Currency, "method": p.Method})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("payment_id", p.ID.String()).
		Str("appointment_id", p.AppointmentID.String()).
		Str("amount", p.Amount.StringFixed(2)).
		Msg("payment recorded")
	return p, nil
}

// Complete marks a pending payment as completed and confirms the appointment
// if it is still pending. The payment stays completed when the appointment
// can no longer be confirmed.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID, reference *string) (*Payment, error) {
	p, err := s.settle(ctx, actor, id, StatusCompleted, validate.TextPtr(reference), nil)
	if err != nil {
		return nil, err
	}

	a, err := s.appointments.GetAppointment(ctx, p.AppointmentID)
	if err != nil {
		s.logger.Error().Err(err).Str("payment_id", p.ID.String()).Msg("load appointment after payment")
		return p, nil
	}
	if a.Status == scheduling.StatusPending {
		if _, err := s.appointments.ConfirmFromPayment(ctx, a.ID); err != nil {
			s.logger.Warn().Err(err).
				Str("payment_id", p.ID.String()).
				Str("appointment_id", a.ID.String()).
				Msg("payment completed but appointment could not be confirmed")
		}
	}
	return p, nil
}

// Fail marks a pending payment as failed.
func (s *Service) Fail(ctx context.Context, actor auth.Actor, id uuid.UUID, reason *string) (*Payment, error) {
	r := validate.TextPtr(reason)
	if r == nil {
		return nil, apperr.Validation("reason is required")
	}
	return s.settle(ctx, actor, id, StatusFailed, nil, r)
}

func (s *Service) settle(ctx context.Context, actor auth.Actor, id uuid.UUID, to string, reference, reason *string) (*Payment, error) {
	if !actor.IsPrivileged() {
		return nil, apperr.Forbidden("only administrators can settle payments")
	}
	action, kind := audit.ActionPaymentCompleted, notification.KindPaymentCompleted
	if to == StatusFailed {
		action, kind = audit.ActionPaymentFailed, notification.KindPaymentFailed
	}

	var (
		settled *Payment
		outbox  []*notification.Notification
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		outbox = nil
		p, err := s.payments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusPending {
			return apperr.InvalidTransition("payment is already %s", p.Status)
		}
		settled, err = s.payments.Settle(ctx, id, to, reference, reason, s.now().UTC())
		if err != nil {
			return err
		}
		from, status := p.Status, to
		if err := s.audit.Record(ctx, actor, action, audit.EntityPayment, id, &from, &status, nil); err != nil {
			return err
		}

		data := map[string]string{
			"paymentId":     id.String(),
			"appointmentId": p.AppointmentID.String(),
			"amount":        p.Amount.StringFixed(2),
			"currency":      p.Currency,
			"date":          p.CreatedAt.In(s.loc).Format(scheduling.DateLayout),
			"reason":        "",
		}
		if a, err := s.appointments.GetAppointment(ctx, p.AppointmentID); err == nil {
			data["date"] = a.StartTime.In(s.loc).Format(scheduling.DateLayout)
		}
		if reason != nil {
			data["reason"] = *reason
		}
		n, err := s.notifier.Enqueue(ctx, notification.Message{UserID: p.PatientID, Kind: kind, Data: data})
		if err != nil {
			return err
		}
		outbox = append(outbox, n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("payment_id", id.String()).Str("status", to).Msg("payment settled")
	s.notifier.DeliverAll(ctx, outbox)
	return settled, nil
}

// Get returns a payment visible to actor: the paying patient, the doctor of
// the appointment, or an admin.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsPrivileged() || actor.ID == p.PatientID {
		return p, nil
	}
	a, err := s.appointments.GetAppointment(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if actor.ID != a.DoctorID {
		return nil, apperr.Forbidden("not a participant of this payment")
	}
	return p, nil
}

func (s *Service) ListForAppointment(ctx context.Context, actor auth.Actor, appointmentID uuid.UUID) ([]*Payment, error) {
	a, err := s.appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if !actor.IsPrivileged() && !a.IsParticipant(actor.ID) {
		return nil, apperr.Forbidden("not a participant of this appointment")
	}
	return s.payments.ListForAppointment(ctx, appointmentID)
}

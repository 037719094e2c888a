package scheduling

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/domain/audit"
	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/notification"
	"github.com/medbook/medbook/internal/platform/validate"
)

// CreateRequest is the body of POST /appointments.
type CreateRequest struct {
	DoctorID        uuid.UUID  `json:"doctorId" validate:"required"`
	PatientID       *uuid.UUID `json:"patientId,omitempty"`
	AppointmentDate time.Time  `json:"appointmentDate" validate:"required"`
	Duration        int        `json:"duration" validate:"omitempty,min=5,max=480"`
	Type            string     `json:"type" validate:"omitempty,oneof=in_person teleconsultation home_visit"`
	Reason          string     `json:"reason" validate:"required,max=1000"`
}

// StatusRequest is the body of PATCH /appointments/:id/status.
type StatusRequest struct {
	Status             string  `json:"status" validate:"required,oneof=pending confirmed completed cancelled no_show"`
	CancellationReason *string `json:"cancellationReason,omitempty" validate:"omitempty,max=1000"`
}

var statusActions = map[string]string{
	StatusConfirmed: audit.ActionAppointmentConfirmed,
	StatusCancelled: audit.ActionAppointmentCancelled,
	StatusCompleted: audit.ActionAppointmentCompleted,
	StatusNoShow:    audit.ActionAppointmentNoShow,
}

var statusNotifications = map[string]string{
	StatusConfirmed: notification.KindAppointmentConfirmed,
	StatusCancelled: notification.KindAppointmentCancelled,
	StatusCompleted: notification.KindAppointmentCompleted,
	StatusNoShow:    notification.KindAppointmentNoShow,
}

// Create books a pending appointment. Patients book for themselves; admins
// book on behalf of a patient.
func (s *Service) Create(ctx context.Context, actor auth.Actor, req CreateRequest) (*Appointment, error) {
	patientID, err := s.bookingPatient(ctx, actor, req.PatientID)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  req.DoctorID,
		StartTime: req.AppointmentDate.UTC(),
		Duration:  req.Duration,
		Status:    StatusPending,
		Type:      req.Type,
		Reason:    validate.Text(req.Reason),
	}
	if a.Duration == 0 {
		a.Duration = DefaultDurationMinutes
	}
	if a.Type == "" {
		a.Type = TypeInPerson
	}
	if err := s.validateNew(a); err != nil {
		return nil, err
	}
	doctor, err := s.users.RequireDoctor(ctx, a.DoctorID)
	if err != nil {
		return nil, err
	}
	if doctor.ID == a.PatientID {
		return nil, apperr.Validation("a doctor cannot book an appointment with themselves")
	}

	var outbox []*notification.Notification
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		outbox = nil
		if err := s.ValidateNoConflict(ctx, a.DoctorID, a.StartTime, a.Duration); err != nil {
			return err
		}
		if err := s.appointments.Create(ctx, a); err != nil {
			return err
		}
		status := a.Status
		if err := s.audit.Record(ctx, actor, audit.ActionAppointmentCreated, audit.EntityAppointment, a.ID, nil, &status,
			map[string]any{"doctorId": a.DoctorID, "patientId": a.PatientID, "start": a.StartTime}); err != nil {
			return err
		}
		n, err := s.notifier.Enqueue(ctx, notification.Message{
			UserID: a.DoctorID,
			Kind:   notification.KindAppointmentBooked,
			Data: map[string]string{
				"appointmentId": a.ID.String(),
				"patient":       s.displayName(ctx, a.PatientID, "A patient"),
				"date":          s.localDate(a.StartTime),
				"time":          s.localClock(a.StartTime),
				"reason":        a.Reason,
			},
		})
		if err != nil {
			return err
		}
		outbox = append(outbox, n)
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			s.metrics.BookingConflict()
		}
		return nil, err
	}

	s.metrics.AppointmentCreated()
	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Time("start", a.StartTime).
		Msg("appointment booked")
	s.notifier.DeliverAll(ctx, outbox)
	return a, nil
}

func (s *Service) bookingPatient(ctx context.Context, actor auth.Actor, requested *uuid.UUID) (uuid.UUID, error) {
	switch {
	case actor.Role == auth.RolePatient:
		if requested != nil && *requested != actor.ID {
			return uuid.Nil, apperr.Forbidden("patients can only book for themselves")
		}
		return actor.ID, nil
	case actor.IsAdmin():
		if requested == nil || *requested == uuid.Nil {
			return uuid.Nil, apperr.Validation("patientId is required")
		}
		u, err := s.users.GetUser(ctx, *requested)
		if err != nil {
			return uuid.Nil, err
		}
		if u.Role != auth.RolePatient || !u.Active {
			return uuid.Nil, apperr.NotFound("patient %s not found", *requested)
		}
		return u.ID, nil
	default:
		return uuid.Nil, apperr.Forbidden("only patients can book appointments")
	}
}

func (s *Service) validateNew(a *Appointment) error {
	var problems []string
	if a.DoctorID == uuid.Nil {
		problems = append(problems, "doctorId is required")
	}
	if a.StartTime.IsZero() {
		problems = append(problems, "appointmentDate is required")
	} else if !a.StartTime.After(s.now()) {
		problems = append(problems, "appointmentDate must be in the future")
	}
	if a.Duration < MinDurationMinutes || a.Duration > MaxDurationMinutes {
		problems = append(problems, "duration must be between "+strconv.Itoa(MinDurationMinutes)+" and "+strconv.Itoa(MaxDurationMinutes)+" minutes")
	}
	if !validTypes[a.Type] {
		problems = append(problems, "type must be one of [in_person teleconsultation home_visit]")
	}
	if a.Reason == "" {
		problems = append(problems, "reason is required")
	}
	if len(problems) > 0 {
		return apperr.Validation("%s", strings.Join(problems, "; "))
	}
	return nil
}

// sideOf resolves in which capacity actor acts on a.
func sideOf(actor auth.Actor, a *Appointment) string {
	switch {
	case actor.IsSystem():
		return sideSystem
	case actor.IsAdmin():
		return sideAdmin
	case actor.ID == a.DoctorID:
		return sideDoctor
	case actor.ID == a.PatientID:
		return sidePatient
	}
	return ""
}

func sideAllowed(side string, allowed []string) bool {
	if side == sideAdmin {
		return true
	}
	for _, s := range allowed {
		if s == side {
			return true
		}
	}
	return false
}

// Transition moves appointment id to status to on behalf of actor. The
// status write is a compare-and-set on the status read in the same
// transaction; a concurrent change surfaces as Conflict.
func (s *Service) Transition(ctx context.Context, actor auth.Actor, id uuid.UUID, to string, cancellationReason *string) (*Appointment, error) {
	if !validStatuses[to] {
		return nil, apperr.Validation("unknown status %q", to)
	}
	reason := validate.TextPtr(cancellationReason)
	if to != StatusCancelled {
		reason = nil
	}

	var (
		updated *Appointment
		from    string
		outbox  []*notification.Notification
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		outbox = nil
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		side := sideOf(actor, a)
		if side == "" {
			return apperr.Forbidden("not a participant of this appointment")
		}
		if IsTerminal(a.Status) {
			return apperr.InvalidTransition("appointment is already %s", a.Status)
		}
		allowed, ok := transitions[a.Status][to]
		if !ok {
			return apperr.InvalidTransition("cannot change status from %s to %s", a.Status, to)
		}
		if !sideAllowed(side, allowed) {
			return apperr.Forbidden("the %s cannot change status from %s to %s", side, a.Status, to)
		}

		from = a.Status
		updated, err = s.appointments.UpdateStatus(ctx, a.ID, from, to, reason)
		if err != nil {
			return err
		}

		meta := map[string]any{"side": side}
		if reason != nil {
			meta["cancellationReason"] = *reason
		}
		newStatus := to
		if err := s.audit.Record(ctx, actor, statusActions[to], audit.EntityAppointment, a.ID, &from, &newStatus, meta); err != nil {
			return err
		}

		n, err := s.notifier.Enqueue(ctx, s.statusMessage(ctx, updated, side, reason))
		if err != nil {
			return err
		}
		outbox = append(outbox, n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StatusTransition(to)
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", from).
		Str("to", to).
		Str("actor_role", actor.Role).
		Msg("appointment status changed")
	s.notifier.DeliverAll(ctx, outbox)
	return updated, nil
}

// statusMessage addresses the counterparty of side: the doctor when the
// patient or the payment flow acted, the patient otherwise.
func (s *Service) statusMessage(ctx context.Context, a *Appointment, side string, reason *string) notification.Message {
	recipient, counterparty := a.PatientID, a.DoctorID
	fallback := "your doctor"
	if side == sidePatient || side == sideSystem {
		recipient, counterparty = a.DoctorID, a.PatientID
		fallback = "your patient"
	}
	data := map[string]string{
		"appointmentId": a.ID.String(),
		"status":        a.Status,
		"counterparty":  s.displayName(ctx, counterparty, fallback),
		"date":          s.localDate(a.StartTime),
		"time":          s.localClock(a.StartTime),
		"reason":        "not given",
	}
	if reason != nil {
		data["reason"] = *reason
	}
	return notification.Message{UserID: recipient, Kind: statusNotifications[a.Status], Data: data}
}

// ConfirmFromPayment confirms a pending appointment after its payment
// completed. Already confirmed appointments are returned unchanged.
func (s *Service) ConfirmFromPayment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusConfirmed {
		return a, nil
	}
	return s.Transition(ctx, auth.SystemActor(), id, StatusConfirmed, nil)
}

// Get returns an appointment visible to actor.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsPrivileged() && !a.IsParticipant(actor.ID) {
		return nil, apperr.Forbidden("not a participant of this appointment")
	}
	return a, nil
}

// GetAppointment is Get for server-side callers such as the payment flow.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, id)
}

// List returns appointments visible to actor. Patients and doctors only see
// their own; admins may filter freely.
func (s *Service) List(ctx context.Context, actor auth.Actor, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	switch actor.Role {
	case auth.RolePatient:
		id := actor.ID
		f.PatientID = &id
	case auth.RoleDoctor:
		id := actor.ID
		f.DoctorID = &id
	case auth.RoleAdmin:
	default:
		return nil, 0, apperr.Forbidden("cannot list appointments")
	}
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, apperr.Validation("unknown status %q", f.Status)
	}
	return s.appointments.List(ctx, f, limit, offset)
}

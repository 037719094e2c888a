package scheduling

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/domain/audit"
	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
)

type CalendarRequest struct {
	DoctorID *uuid.UUID `json:"doctorId,omitempty"`
	Date     string     `json:"date" validate:"required"`
	Slots    []string   `json:"slots" validate:"omitempty,dive,clock"`
}

type SlotsRequest struct {
	Slots []string `json:"slots" validate:"dive,clock"`
}

// calendarOwner resolves the doctor a calendar operation acts for.
func calendarOwner(actor auth.Actor, requested *uuid.UUID) (uuid.UUID, error) {
	switch {
	case actor.Role == auth.RoleDoctor:
		if requested != nil && *requested != actor.ID {
			return uuid.Nil, apperr.Forbidden("doctors can only manage their own calendar")
		}
		return actor.ID, nil
	case actor.IsAdmin():
		if requested == nil || *requested == uuid.Nil {
			return uuid.Nil, apperr.Validation("doctorId is required")
		}
		return *requested, nil
	default:
		return uuid.Nil, apperr.Forbidden("only doctors can manage calendars")
	}
}

func joinSlots(slots []string) *string {
	s := strings.Join(slots, ",")
	return &s
}

// CreateCalendar declares the availability of a doctor for one date. An empty
// slot set stores the default template.
func (s *Service) CreateCalendar(ctx context.Context, actor auth.Actor, req CalendarRequest) (*Calendar, error) {
	doctorID, err := calendarOwner(actor, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if _, err := ParseDate(req.Date, s.loc); err != nil {
		return nil, apperr.Validation("date must be YYYY-MM-DD")
	}
	slots, err := NormalizeSlots(req.Slots)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	if len(slots) == 0 {
		slots = DefaultTemplate()
	}
	if _, err := s.users.RequireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}

	c := &Calendar{ID: uuid.New(), DoctorID: doctorID, Date: req.Date, Slots: slots}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.calendars.Create(ctx, c); err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionCalendarCreated, audit.EntityCalendar, c.ID, nil, joinSlots(c.Slots),
			map[string]any{"doctorId": doctorID, "date": c.Date})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) GetCalendar(ctx context.Context, doctorID uuid.UUID, date string) (*Calendar, error) {
	if _, err := ParseDate(date, s.loc); err != nil {
		return nil, apperr.Validation("date must be YYYY-MM-DD")
	}
	return s.calendars.GetByDoctorDate(ctx, doctorID, date)
}

func (s *Service) GetCalendarByID(ctx context.Context, id uuid.UUID) (*Calendar, error) {
	return s.calendars.GetByID(ctx, id)
}

// ownedCalendar loads a calendar actor may edit.
func (s *Service) ownedCalendar(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Calendar, error) {
	c, err := s.calendars.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Role == auth.RoleDoctor && actor.ID == c.DoctorID) {
		return nil, apperr.Forbidden("doctors can only manage their own calendar")
	}
	return c, nil
}

// UpdateSlots replaces the slot set of an unconfirmed calendar. The previous
// set is kept in the calendar's version history.
func (s *Service) UpdateSlots(ctx context.Context, actor auth.Actor, id uuid.UUID, slots []string) (*Calendar, error) {
	normalized, err := NormalizeSlots(slots)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	var updated *Calendar
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.ownedCalendar(ctx, actor, id)
		if err != nil {
			return err
		}
		if c.Confirmed {
			return apperr.InvalidTransition("calendar is confirmed; slots can no longer change")
		}
		prev := SlotVersion{Slots: c.Slots, ReplacedAt: s.now().UTC(), ReplacedBy: actor.AuditID()}
		updated, err = s.calendars.UpdateSlots(ctx, id, normalized, prev)
		if err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionCalendarUpdated, audit.EntityCalendar, id,
			joinSlots(c.Slots), joinSlots(normalized), nil)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ConfirmCalendar locks the slot set. Confirming twice is a no-op.
func (s *Service) ConfirmCalendar(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Calendar, error) {
	var confirmed *Calendar
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		c, err := s.ownedCalendar(ctx, actor, id)
		if err != nil {
			return err
		}
		if c.Confirmed {
			confirmed = c
			return nil
		}
		confirmed, err = s.calendars.Confirm(ctx, id)
		if err != nil {
			return err
		}
		return s.audit.Record(ctx, actor, audit.ActionCalendarConfirmed, audit.EntityCalendar, id, nil, nil, nil)
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
)

// ListAvailableSlots returns the free and taken slots of doctorID on date
// (YYYY-MM-DD, clinic time). The doctor's calendar for the date is the slot
// template when present, the default template otherwise. Past dates are
// accepted.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, date string) (*Availability, error) {
	if _, err := s.users.RequireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	day, err := ParseDate(date, s.loc)
	if err != nil {
		return nil, apperr.Validation("date must be YYYY-MM-DD")
	}

	template, source := DefaultTemplate(), SourceDefault
	cal, err := s.calendars.GetByDoctorDate(ctx, doctorID, date)
	switch {
	case err == nil:
		template, source = cal.Slots, SourceCalendar
	case apperr.KindOf(err) != apperr.KindNotFound:
		return nil, err
	}

	y, m, d := day.Date()
	next := time.Date(y, m, d+1, 0, 0, 0, 0, s.loc)
	appts, err := s.appointments.ListOverlapping(ctx, doctorID, day, next)
	if err != nil {
		return nil, err
	}

	available, booked := ComputeAvailability(template, day, appts)
	return &Availability{
		DoctorID:       doctorID,
		Date:           date,
		Source:         source,
		AvailableSlots: available,
		BookedSlots:    booked,
	}, nil
}

// ValidateNoConflict fails with Conflict when doctorID has an active
// appointment sharing any instant with [start, start+duration). An interval
// ending exactly where another starts does not conflict.
func (s *Service) ValidateNoConflict(ctx context.Context, doctorID uuid.UUID, start time.Time, durationMinutes int) error {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	existing, err := s.appointments.ListOverlapping(ctx, doctorID, start, end)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return apperr.Conflict("time slot is already booked")
	}
	return nil
}

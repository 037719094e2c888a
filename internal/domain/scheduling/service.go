// Package scheduling books appointments against doctor availability and
// drives the appointment lifecycle.
package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/identity"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/db"
	"github.com/medbook/medbook/internal/platform/metrics"
	"github.com/medbook/medbook/internal/platform/notification"
)

// Directory resolves users referenced by appointments.
type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
	RequireDoctor(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// Auditor appends audit entries inside the caller's transaction.
type Auditor interface {
	Record(ctx context.Context, actor auth.Actor, action, entityType string, entityID uuid.UUID, oldValue, newValue *string, meta map[string]any) error
}

// Notifier stores notifications inside a transaction and delivers them once
// it has committed.
type Notifier interface {
	Enqueue(ctx context.Context, msg notification.Message) (*notification.Notification, error)
	DeliverAll(ctx context.Context, ns []*notification.Notification)
}

type Service struct {
	appointments AppointmentRepository
	calendars    CalendarRepository
	users        Directory
	audit        Auditor
	notifier     Notifier
	tx           db.Transactor
	metrics      metrics.Recorder
	loc          *time.Location
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(
	appts AppointmentRepository,
	cals CalendarRepository,
	users Directory,
	audit Auditor,
	notifier Notifier,
	tx db.Transactor,
	rec metrics.Recorder,
	loc *time.Location,
	logger zerolog.Logger,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		appointments: appts,
		calendars:    cals,
		users:        users,
		audit:        audit,
		notifier:     notifier,
		tx:           tx,
		metrics:      rec,
		loc:          loc,
		logger:       logger,
		now:          time.Now,
	}
}

// displayName returns how userID is addressed in notifications. Lookup
// failures fall back to fallback so a directory hiccup never blocks a booking.
func (s *Service) displayName(ctx context.Context, userID uuid.UUID, fallback string) string {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("user lookup for notification failed")
		return fallback
	}
	return u.DisplayName()
}

func (s *Service) localDate(t time.Time) string  { return t.In(s.loc).Format(DateLayout) }
func (s *Service) localClock(t time.Time) string { return t.In(s.loc).Format("15:04") }

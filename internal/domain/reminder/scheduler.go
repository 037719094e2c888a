// Package reminder sends appointment reminders at fixed lead times before
// the start and purges old notifications.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/identity"
	"github.com/medbook/medbook/internal/platform/db"
	"github.com/medbook/medbook/internal/platform/metrics"
	"github.com/medbook/medbook/internal/platform/notification"
)

// DefaultLeads are the lead times reminders fire at.
var DefaultLeads = []time.Duration{24 * time.Hour, time.Hour}

// Notifier stores and delivers one notification. A nil notification with an
// error means nothing was stored.
type Notifier interface {
	Notify(ctx context.Context, msg notification.Message) (*notification.Notification, error)
}

type Purger interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

type Directory interface {
	GetUser(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// TenantScope runs fn with ctx bound to the tenant's schema.
type TenantScope func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error

// PoolScope scopes each run to a tenant connection taken from pool.
func PoolScope(pool *pgxpool.Pool) TenantScope {
	return func(ctx context.Context, tenant string, fn func(ctx context.Context) error) error {
		return db.WithTenant(ctx, pool, tenant, fn)
	}
}

type Config struct {
	Tenants       []string
	Leads         []time.Duration
	Window        time.Duration
	Interval      time.Duration
	PurgeInterval time.Duration
	Retention     time.Duration
}

// LeadResult counts the outcome of one lead time within a scan.
type LeadResult struct {
	Candidates int `json:"candidates"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// RunResult maps lead minutes to the outcome of a scan.
type RunResult map[int]*LeadResult

type Scheduler struct {
	repo     Repository
	notifier Notifier
	purger   Purger
	users    Directory
	scope    TenantScope
	cfg      Config
	loc      *time.Location
	metrics  metrics.Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

func NewScheduler(repo Repository, notifier Notifier, purger Purger, users Directory, scope TenantScope,
	cfg Config, loc *time.Location, rec metrics.Recorder, logger zerolog.Logger) *Scheduler {
	if len(cfg.Leads) == 0 {
		cfg.Leads = DefaultLeads
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		repo:     repo,
		notifier: notifier,
		purger:   purger,
		users:    users,
		scope:    scope,
		cfg:      cfg,
		loc:      loc,
		metrics:  rec,
		logger:   logger.With().Str("component", "reminders").Logger(),
		now:      time.Now,
	}
}

// Start scans every tenant once, then on every Interval, and purges on every
// PurgeInterval. It blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.RunOnce(ctx)

	scanTicker := time.NewTicker(s.cfg.Interval)
	purgeTicker := time.NewTicker(s.cfg.PurgeInterval)
	defer scanTicker.Stop()
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			s.RunOnce(ctx)
		case <-purgeTicker.C:
			s.PurgeOnce(ctx)
		}
	}
}

// RunOnce scans every configured tenant. A failing tenant does not stop the
// others.
func (s *Scheduler) RunOnce(ctx context.Context) map[string]RunResult {
	results := make(map[string]RunResult, len(s.cfg.Tenants))
	for _, tenant := range s.cfg.Tenants {
		err := s.scope(ctx, tenant, func(ctx context.Context) error {
			res, err := s.Scan(ctx)
			results[tenant] = res
			return err
		})
		if err != nil {
			s.logger.Error().Err(err).Str("tenant", tenant).Msg("reminder scan failed")
		}
	}
	return results
}

// Scan sends every reminder due at the current time for the tenant bound to
// ctx. Per-appointment failures are logged and counted; only failures to
// list candidates are returned.
func (s *Scheduler) Scan(ctx context.Context) (RunResult, error) {
	now := s.now()
	result := make(RunResult, len(s.cfg.Leads))
	var errs []error

	for _, lead := range s.cfg.Leads {
		leadMinutes := int(lead / time.Minute)
		res := &LeadResult{}
		result[leadMinutes] = res

		target := now.Add(lead)
		candidates, err := s.repo.Candidates(ctx, leadMinutes, target.Add(-s.cfg.Window), target.Add(s.cfg.Window))
		if err != nil {
			s.logger.Error().Err(err).Int("lead_minutes", leadMinutes).Msg("list reminder candidates")
			errs = append(errs, fmt.Errorf("lead %s: %w", lead, err))
			continue
		}
		res.Candidates = len(candidates)

		for _, c := range candidates {
			switch s.remind(ctx, c, lead) {
			case outcomeSent:
				res.Sent++
				s.metrics.ReminderSent(lead)
			case outcomeSkipped:
				res.Skipped++
				s.metrics.ReminderSkipped(lead)
			default:
				res.Failed++
				s.metrics.ReminderFailed(lead)
			}
		}

		if res.Candidates > 0 {
			s.logger.Info().
				Int("lead_minutes", leadMinutes).
				Int("candidates", res.Candidates).
				Int("sent", res.Sent).
				Int("failed", res.Failed).
				Int("skipped", res.Skipped).
				Msg("reminder scan")
		}
	}
	return result, errors.Join(errs...)
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeSkipped
	outcomeFailed
)

// remind claims the (appointment, lead) marker before dispatching, so a
// reminder goes out at most once. The claim is released only when the
// notification could not be stored.
func (s *Scheduler) remind(ctx context.Context, c Candidate, lead time.Duration) outcome {
	leadMinutes := int(lead / time.Minute)
	log := s.logger.With().
		Str("appointment_id", c.AppointmentID.String()).
		Int("lead_minutes", leadMinutes).
		Logger()

	claimed, err := s.repo.Claim(ctx, c.AppointmentID, leadMinutes)
	if err != nil {
		log.Error().Err(err).Msg("claim reminder")
		return outcomeFailed
	}
	if !claimed {
		return outcomeSkipped
	}

	n, err := s.notifier.Notify(ctx, notification.Message{
		UserID: c.PatientID,
		Kind:   notification.KindAppointmentReminder,
		Data: map[string]string{
			"appointmentId": c.AppointmentID.String(),
			"doctor":        s.doctorName(ctx, c.DoctorID),
			"lead":          formatLead(lead),
			"date":          c.StartTime.In(s.loc).Format("2006-01-02"),
			"time":          c.StartTime.In(s.loc).Format("15:04"),
		},
	})
	if err != nil && n == nil {
		log.Error().Err(err).Msg("store reminder")
		if rerr := s.repo.Release(ctx, c.AppointmentID, leadMinutes); rerr != nil {
			log.Error().Err(rerr).Msg("release reminder claim")
		}
		return outcomeFailed
	}
	if err != nil {
		log.Warn().Err(err).Str("notification_id", n.ID.String()).Msg("reminder delivery failed")
		return outcomeFailed
	}
	return outcomeSent
}

func (s *Scheduler) doctorName(ctx context.Context, id uuid.UUID) string {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", id.String()).Msg("doctor lookup for reminder failed")
		return "your doctor"
	}
	return u.DisplayName()
}

func formatLead(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0 && d > 24*time.Hour:
		return fmt.Sprintf("%d days", d/(24*time.Hour))
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", d/time.Hour)
	case d == time.Minute:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	}
}

// PurgeOnce deletes notifications older than the retention window in every
// tenant and returns the number removed per tenant.
func (s *Scheduler) PurgeOnce(ctx context.Context) map[string]int64 {
	removed := make(map[string]int64, len(s.cfg.Tenants))
	for _, tenant := range s.cfg.Tenants {
		err := s.scope(ctx, tenant, func(ctx context.Context) error {
			n, err := s.purger.PurgeOlderThan(ctx, s.cfg.Retention)
			removed[tenant] = n
			return err
		})
		if err != nil {
			s.logger.Error().Err(err).Str("tenant", tenant).Msg("notification purge failed")
			continue
		}
		if removed[tenant] > 0 {
			s.logger.Info().Str("tenant", tenant).Int64("count", removed[tenant]).Msg("purged old notifications")
		}
	}
	return removed
}

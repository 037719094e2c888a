package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/metrics"
)

// RecipientLookup resolves where a user can be reached.
type RecipientLookup interface {
	Recipient(ctx context.Context, userID uuid.UUID) (*Recipient, error)
}

// Manager orchestrates storage and delivery of notifications.
type Manager struct {
	repo       Repository
	recipients RecipientLookup
	templates  *TemplateEngine
	senders    []Sender
	metrics    metrics.Recorder
	logger     zerolog.Logger
	now        func() time.Time
}

func NewManager(repo Repository, recipients RecipientLookup, tpl *TemplateEngine, rec metrics.Recorder, logger zerolog.Logger, senders ...Sender) *Manager {
	return &Manager{
		repo:       repo,
		recipients: recipients,
		templates:  tpl,
		senders:    senders,
		metrics:    rec,
		logger:     logger,
		now:        time.Now,
	}
}

// Enqueue renders and stores msg as pending. When ctx carries a transaction
// the row is written inside it, so it disappears on rollback.
func (m *Manager) Enqueue(ctx context.Context, msg Message) (*Notification, error) {
	title, body, err := m.templates.Render(msg.Kind, msg.Data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		ID:      uuid.New(),
		UserID:  msg.UserID,
		Kind:    msg.Kind,
		Title:   title,
		Message: body,
		Data:    msg.Data,
		Status:  StatusPending,
	}
	if err := m.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}
	return n, nil
}

// Deliver pushes n through every channel the recipient has an address on and
// records the outcome. Any channel error marks the notification failed.
func (m *Manager) Deliver(ctx context.Context, n *Notification) error {
	to, err := m.recipients.Recipient(ctx, n.UserID)
	if err != nil {
		return m.finish(ctx, n, fmt.Errorf("resolve recipient: %w", err))
	}

	var errs []error
	for _, s := range m.senders {
		err := s.Send(ctx, to, n)
		if errors.Is(err, ErrNoAddress) {
			continue
		}
		m.metrics.NotificationDelivered(s.Channel(), err == nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Channel(), err))
		}
	}
	return m.finish(ctx, n, errors.Join(errs...))
}

func (m *Manager) finish(ctx context.Context, n *Notification, sendErr error) error {
	if sendErr != nil {
		msg := sendErr.Error()
		n.Status = StatusFailed
		n.Error = &msg
		n.SentAt = nil
	} else {
		now := m.now().UTC()
		n.Status = StatusSent
		n.Error = nil
		n.SentAt = &now
	}
	if err := m.repo.UpdateDelivery(ctx, n); err != nil {
		m.logger.Error().Err(err).Str("notification_id", n.ID.String()).Msg("failed to record delivery")
		if sendErr == nil {
			return err
		}
	}
	return sendErr
}

// Notify stores and delivers msg in one step.
func (m *Manager) Notify(ctx context.Context, msg Message) (*Notification, error) {
	n, err := m.Enqueue(ctx, msg)
	if err != nil {
		return nil, err
	}
	return n, m.Deliver(ctx, n)
}

// DeliverAll delivers notifications enqueued by a committed transaction.
// Failures are logged; the notifications stay visible in-app as failed.
func (m *Manager) DeliverAll(ctx context.Context, ns []*Notification) {
	for _, n := range ns {
		if err := m.Deliver(ctx, n); err != nil {
			m.logger.Warn().Err(err).
				Str("notification_id", n.ID.String()).
				Str("kind", n.Kind).
				Msg("notification delivery failed")
		}
	}
}

// Retry re-sends a failed notification.
func (m *Manager) Retry(ctx context.Context, id uuid.UUID) (*Notification, error) {
	n, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != StatusFailed {
		return nil, apperr.Conflict("notification %s is not in failed status (current: %s)", id, n.Status)
	}
	return n, m.Deliver(ctx, n)
}

func (m *Manager) ListForUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return m.repo.ListForUser(ctx, userID, unreadOnly, limit, offset)
}

// MarkRead flags a notification owned by userID as read.
func (m *Manager) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	return m.repo.MarkRead(ctx, id, userID)
}

// PurgeOlderThan deletes notifications created more than age ago.
func (m *Manager) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, apperr.Validation("retention must be positive")
	}
	n, err := m.repo.DeleteOlderThan(ctx, m.now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("purge notifications: %w", err)
	}
	m.metrics.NotificationsPurged(n)
	return n, nil
}

// Stats returns counts of notifications grouped by status.
func (m *Manager) Stats(ctx context.Context) (map[string]int, error) {
	return m.repo.CountByStatus(ctx)
}

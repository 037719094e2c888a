package notification

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/metrics"
)

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Notification
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Notification)}
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	m.items[n.ID] = n
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("notification not found")
	}
	return n, nil
}

func (m *mockRepo) UpdateDelivery(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[n.ID] = n
	return nil
}

func (m *mockRepo) ListForUser(_ context.Context, userID uuid.UUID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset > total {
		offset = total
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) MarkRead(_ context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return apperr.NotFound("notification not found")
	}
	n.Read = true
	return nil
}

func (m *mockRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, item := range m.items {
		if item.CreatedAt.Before(cutoff) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[string]int)
	for _, n := range m.items {
		stats[n.Status]++
	}
	return stats, nil
}

type staticRecipients map[uuid.UUID]*Recipient

func (s staticRecipients) Recipient(_ context.Context, id uuid.UUID) (*Recipient, error) {
	r, ok := s[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return r, nil
}

type mockSender struct {
	mu      sync.Mutex
	channel string
	fail    bool
	noAddr  bool
	sent    []*Notification
}

func (s *mockSender) Channel() string { return s.channel }

func (s *mockSender) Send(_ context.Context, _ *Recipient, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noAddr {
		return ErrNoAddress
	}
	if s.fail {
		return errors.New("channel down")
	}
	s.sent = append(s.sent, n)
	return nil
}

func newTestManager(repo Repository, user uuid.UUID, senders ...Sender) *Manager {
	recipients := staticRecipients{user: {UserID: user, Name: "Ana Silva"}}
	return NewManager(repo, recipients, NewTemplateEngine(), metrics.Nop{}, zerolog.New(io.Discard), senders...)
}

func TestManager_EnqueueRendersPending(t *testing.T) {
	repo := newMockRepo()
	user := uuid.New()
	m := newTestManager(repo, user)

	n, err := m.Enqueue(context.Background(), Message{
		UserID: user,
		Kind:   KindAppointmentCancelled,
		Data:   map[string]string{"counterparty": "Dr. House", "date": "2026-03-10", "time": "10:00", "reason": "travel"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != StatusPending {
		t.Errorf("expected pending, got %s", n.Status)
	}
	want := "Your appointment with Dr. House on 2026-03-10 at 10:00 was cancelled. Reason: travel"
	if n.Message != want {
		t.Errorf("message = %q, want %q", n.Message, want)
	}
	if _, ok := repo.items[n.ID]; !ok {
		t.Error("expected notification to be stored")
	}
}

func TestManager_EnqueueUnknownKind(t *testing.T) {
	m := newTestManager(newMockRepo(), uuid.New())
	if _, err := m.Enqueue(context.Background(), Message{UserID: uuid.New(), Kind: "bogus"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestManager_DeliverSent(t *testing.T) {
	repo := newMockRepo()
	user := uuid.New()
	ok := &mockSender{channel: "log"}
	skip := &mockSender{channel: "telegram", noAddr: true}
	m := newTestManager(repo, user, ok, skip)

	n, err := m.Notify(context.Background(), Message{UserID: user, Kind: KindAppointmentConfirmed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != StatusSent || n.SentAt == nil {
		t.Errorf("expected sent with timestamp, got %s %v", n.Status, n.SentAt)
	}
	if len(ok.sent) != 1 {
		t.Errorf("expected 1 push, got %d", len(ok.sent))
	}
}

func TestManager_DeliverFailed(t *testing.T) {
	repo := newMockRepo()
	user := uuid.New()
	m := newTestManager(repo, user, &mockSender{channel: "log"}, &mockSender{channel: "telegram", fail: true})

	n, err := m.Notify(context.Background(), Message{UserID: user, Kind: KindAppointmentReminder})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if n.Status != StatusFailed || n.Error == nil {
		t.Errorf("expected failed with error, got %s", n.Status)
	}
}

func TestManager_DeliverUnknownRecipient(t *testing.T) {
	repo := newMockRepo()
	m := newTestManager(repo, uuid.New(), &mockSender{channel: "log"})

	n, err := m.Notify(context.Background(), Message{UserID: uuid.New(), Kind: KindAppointmentReminder})
	if err == nil {
		t.Fatal("expected error for unknown recipient")
	}
	if n.Status != StatusFailed {
		t.Errorf("expected failed, got %s", n.Status)
	}
}

func TestManager_Retry(t *testing.T) {
	repo := newMockRepo()
	user := uuid.New()
	sender := &mockSender{channel: "telegram", fail: true}
	m := newTestManager(repo, user, sender)
	ctx := context.Background()

	n, _ := m.Notify(ctx, Message{UserID: user, Kind: KindAppointmentReminder})

	sender.fail = false
	got, err := m.Retry(ctx, n.ID)
	if err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}
	if got.Status != StatusSent || got.Error != nil {
		t.Errorf("expected sent after retry, got %s", got.Status)
	}

	if _, err := m.Retry(ctx, n.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict retrying a sent notification, got %v", err)
	}
}

func TestManager_MarkReadOwnerOnly(t *testing.T) {
	repo := newMockRepo()
	user := uuid.New()
	m := newTestManager(repo, user)
	ctx := context.Background()

	n, _ := m.Enqueue(ctx, Message{UserID: user, Kind: KindAppointmentConfirmed})

	if err := m.MarkRead(ctx, n.ID, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
	if err := m.MarkRead(ctx, n.ID, user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	items, total, _ := m.ListForUser(ctx, user, true, 10, 0)
	if total != 0 || len(items) != 0 {
		t.Errorf("expected no unread notifications, got %d", total)
	}
}

func TestManager_PurgeOlderThan(t *testing.T) {
	repo := newMockRepo()
	user := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	m := newTestManager(repo, user)
	m.now = func() time.Time { return now }

	old := &Notification{ID: uuid.New(), UserID: user, CreatedAt: now.Add(-31 * 24 * time.Hour)}
	fresh := &Notification{ID: uuid.New(), UserID: user, CreatedAt: now.Add(-time.Hour)}
	repo.Create(context.Background(), old)
	repo.Create(context.Background(), fresh)

	n, err := m.PurgeOlderThan(context.Background(), 30*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	if _, ok := repo.items[fresh.ID]; !ok {
		t.Error("fresh notification should survive")
	}

	if _, err := m.PurgeOlderThan(context.Background(), 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for zero retention, got %v", err)
	}
}

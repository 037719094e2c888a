package scheduling

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/medbook/internal/domain/identity"
	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/metrics"
	"github.com/medbook/medbook/internal/platform/notification"
)

// -- Mock Repositories --

type mockAppointmentRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMockAppointmentRepo() *mockAppointmentRepo {
	return &mockAppointmentRepo{appts: make(map[uuid.UUID]*Appointment)}
}

// Create rejects overlaps the way the database exclusion constraint does.
func (m *mockAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.appts {
		if ex.DoctorID == a.DoctorID && IsActive(ex.Status) && ex.Overlaps(a.StartTime, a.End()) {
			return apperr.Conflict("time slot is already booked")
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.EndTime = a.End()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	a.RemindersSent = []int{}
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockAppointmentRepo) put(a *Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.EndTime = a.End()
	cp := *a
	m.appts[a.ID] = &cp
}

func (m *mockAppointmentRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) ListOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && IsActive(a.Status) && a.Overlaps(start, end) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *mockAppointmentRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to string, reason *string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, apperr.NotFound("appointment not found")
	}
	if a.Status != from {
		return nil, apperr.Conflict("appointment status changed concurrently (now %s)", a.Status)
	}
	a.Status = to
	if reason != nil {
		a.CancellationReason = reason
	}
	a.UpdatedAt = time.Now()
	cp := *a
	return &cp, nil
}

func (m *mockAppointmentRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Appointment
	for _, a := range m.appts {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type mockCalendarRepo struct {
	cals map[uuid.UUID]*Calendar
}

func newMockCalendarRepo() *mockCalendarRepo {
	return &mockCalendarRepo{cals: make(map[uuid.UUID]*Calendar)}
}

func (m *mockCalendarRepo) Create(_ context.Context, c *Calendar) error {
	for _, ex := range m.cals {
		if ex.DoctorID == c.DoctorID && ex.Date == c.Date {
			return apperr.Conflict("a calendar for %s already exists", c.Date)
		}
	}
	c.Versions = []SlotVersion{}
	c.CreatedAt = time.Now()
	m.cals[c.ID] = c
	return nil
}

func (m *mockCalendarRepo) GetByID(_ context.Context, id uuid.UUID) (*Calendar, error) {
	c, ok := m.cals[id]
	if !ok {
		return nil, apperr.NotFound("calendar not found")
	}
	return c, nil
}

func (m *mockCalendarRepo) GetByDoctorDate(_ context.Context, doctorID uuid.UUID, date string) (*Calendar, error) {
	for _, c := range m.cals {
		if c.DoctorID == doctorID && c.Date == date {
			return c, nil
		}
	}
	return nil, apperr.NotFound("calendar not found")
}

func (m *mockCalendarRepo) UpdateSlots(_ context.Context, id uuid.UUID, slots []string, prev SlotVersion) (*Calendar, error) {
	c, ok := m.cals[id]
	if !ok {
		return nil, apperr.NotFound("calendar not found")
	}
	if c.Confirmed {
		return nil, apperr.InvalidTransition("calendar is confirmed; slots can no longer change")
	}
	c.Versions = append(c.Versions, prev)
	c.Slots = slots
	return c, nil
}

func (m *mockCalendarRepo) Confirm(_ context.Context, id uuid.UUID) (*Calendar, error) {
	c, ok := m.cals[id]
	if !ok {
		return nil, apperr.NotFound("calendar not found")
	}
	c.Confirmed = true
	return c, nil
}

// -- Collaborators --

type mockDirectory struct {
	users map[uuid.UUID]*identity.User
}

func (d *mockDirectory) GetUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, apperr.NotFound("user not found")
	}
	return u, nil
}

func (d *mockDirectory) RequireDoctor(_ context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := d.users[id]
	if !ok || u.Role != auth.RoleDoctor || !u.Active {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	return u, nil
}

type auditCall struct {
	Actor    auth.Actor
	Action   string
	EntityID uuid.UUID
	Old, New *string
}

type mockAuditor struct {
	mu    sync.Mutex
	calls []auditCall
}

func (a *mockAuditor) Record(_ context.Context, actor auth.Actor, action, _ string, entityID uuid.UUID, oldValue, newValue *string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, auditCall{Actor: actor, Action: action, EntityID: entityID, Old: oldValue, New: newValue})
	return nil
}

func (a *mockAuditor) reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}

type mockNotifier struct {
	mu        sync.Mutex
	enqueued  []notification.Message
	delivered int
}

func (n *mockNotifier) Enqueue(_ context.Context, msg notification.Message) (*notification.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueued = append(n.enqueued, msg)
	return &notification.Notification{ID: uuid.New(), UserID: msg.UserID, Kind: msg.Kind, Status: notification.StatusPending}, nil
}

func (n *mockNotifier) DeliverAll(_ context.Context, ns []*notification.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delivered += len(ns)
}

func (n *mockNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueued = nil
	n.delivered = 0
}

// inlineTx runs fn directly; the mocks provide their own atomicity.
type inlineTx struct{}

func (inlineTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// -- Fixture --

type fixture struct {
	svc      *Service
	appts    *mockAppointmentRepo
	cals     *mockCalendarRepo
	dir      *mockDirectory
	audit    *mockAuditor
	notifier *mockNotifier
	doctor   *identity.User
	patient  *identity.User
}

// testNow is the frozen clock of every fixture.
var testNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	f := &fixture{
		appts:    newMockAppointmentRepo(),
		cals:     newMockCalendarRepo(),
		dir:      &mockDirectory{users: make(map[uuid.UUID]*identity.User)},
		audit:    &mockAuditor{},
		notifier: &mockNotifier{},
	}
	f.doctor = f.addUser(auth.RoleDoctor, "Gregory", "House")
	f.patient = f.addUser(auth.RolePatient, "Ana", "Silva")
	f.svc = NewService(f.appts, f.cals, f.dir, f.audit, f.notifier, inlineTx{}, metrics.Nop{}, time.UTC, zerolog.New(io.Discard))
	f.svc.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) addUser(role, first, last string) *identity.User {
	u := &identity.User{ID: uuid.New(), Role: role, FirstName: first, LastName: last, Email: uuid.NewString() + "@example.com", Active: true}
	f.dir.users[u.ID] = u
	return u
}

func (f *fixture) patientActor() auth.Actor { return auth.Actor{ID: f.patient.ID, Role: auth.RolePatient} }
func (f *fixture) doctorActor() auth.Actor  { return auth.Actor{ID: f.doctor.ID, Role: auth.RoleDoctor} }

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) book(start string) *Appointment {
	a, err := f.svc.Create(context.Background(), f.patientActor(), CreateRequest{
		DoctorID:        f.doctor.ID,
		AppointmentDate: at(start),
		Reason:          "Back pain",
	})
	if err != nil {
		panic(err)
	}
	return a
}

func actorWith(id uuid.UUID, role string) auth.Actor { return auth.Actor{ID: id, Role: role} }

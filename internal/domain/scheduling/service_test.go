package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/domain/audit"
	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/notification"
)

// -- Creation --

func TestCreate_BackToBackScenario(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	existing := &Appointment{
		PatientID: f.addUser(auth.RolePatient, "Other", "Patient").ID,
		DoctorID:  f.doctor.ID,
		StartTime: at("2024-06-01T10:00:00Z"),
		Duration:  30,
		Status:    StatusConfirmed,
		Type:      TypeInPerson,
		Reason:    "Checkup",
	}
	f.appts.put(existing)

	_, err := f.svc.Create(ctx, f.patientActor(), CreateRequest{
		DoctorID: f.doctor.ID, AppointmentDate: at("2024-06-01T10:15:00Z"), Duration: 30, Reason: "Back pain",
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict at 10:15, got %v", err)
	}
	if apperr.HTTPStatus(apperr.KindOf(err)) != 409 {
		t.Errorf("expected 409, got %d", apperr.HTTPStatus(apperr.KindOf(err)))
	}

	a, err := f.svc.Create(ctx, f.patientActor(), CreateRequest{
		DoctorID: f.doctor.ID, AppointmentDate: at("2024-06-01T10:30:00Z"), Duration: 30, Reason: "Back pain",
	})
	if err != nil {
		t.Fatalf("expected back-to-back booking to succeed, got %v", err)
	}
	if a.Status != StatusPending {
		t.Errorf("expected pending, got %s", a.Status)
	}
}

func TestCreate_Defaults(t *testing.T) {
	f := newFixture()
	a, err := f.svc.Create(context.Background(), f.patientActor(), CreateRequest{
		DoctorID:        f.doctor.ID,
		AppointmentDate: at("2024-06-01T09:00:00+02:00"),
		Reason:          "<b>Fever</b>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Duration != DefaultDurationMinutes || a.Type != TypeInPerson {
		t.Errorf("expected defaults, got %d/%s", a.Duration, a.Type)
	}
	if a.Reason != "Fever" {
		t.Errorf("expected sanitized reason, got %q", a.Reason)
	}
	if a.PatientID != f.patient.ID {
		t.Errorf("expected patient to be the actor")
	}
	if !a.StartTime.Equal(at("2024-06-01T07:00:00Z")) || a.StartTime.Location() != time.UTC {
		t.Errorf("expected start normalized to UTC, got %s", a.StartTime)
	}
}

func TestCreate_NotifiesDoctorAndAudits(t *testing.T) {
	f := newFixture()
	a := f.book("2024-06-01T10:00:00Z")

	if len(f.notifier.enqueued) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(f.notifier.enqueued))
	}
	msg := f.notifier.enqueued[0]
	if msg.UserID != f.doctor.ID || msg.Kind != notification.KindAppointmentBooked {
		t.Errorf("unexpected notification %+v", msg)
	}
	if msg.Data["patient"] != "Ana Silva" || msg.Data["time"] != "10:00" {
		t.Errorf("unexpected notification data %v", msg.Data)
	}
	if f.notifier.delivered != 1 {
		t.Errorf("expected delivery after commit, got %d", f.notifier.delivered)
	}
	if len(f.audit.calls) != 1 || f.audit.calls[0].Action != audit.ActionAppointmentCreated || f.audit.calls[0].EntityID != a.ID {
		t.Errorf("unexpected audit %+v", f.audit.calls)
	}
}

func TestCreate_RoundTrip(t *testing.T) {
	f := newFixture()
	created := f.book("2024-06-01T11:00:00Z")

	got, err := f.svc.Get(context.Background(), f.patientActor(), created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DoctorID != created.DoctorID || got.PatientID != created.PatientID ||
		!got.StartTime.Equal(created.StartTime) || got.Status != StatusPending {
		t.Errorf("round trip mismatch: created %+v, got %+v", created, got)
	}
}

func TestCreate_DoctorNotFound(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for name, id := range map[string]uuid.UUID{
		"missing":     uuid.New(),
		"not doctor":  f.addUser(auth.RolePatient, "Not", "Doctor").ID,
		"self booked": f.patient.ID,
	} {
		_, err := f.svc.Create(ctx, f.patientActor(), CreateRequest{
			DoctorID: id, AppointmentDate: at("2024-06-01T10:00:00Z"), Reason: "x",
		})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("%s: expected not found, got %v", name, err)
		}
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"past", CreateRequest{DoctorID: f.doctor.ID, AppointmentDate: at("2024-04-01T10:00:00Z"), Reason: "x"}},
		{"markup only reason", CreateRequest{DoctorID: f.doctor.ID, AppointmentDate: at("2024-06-01T10:00:00Z"), Reason: "<script></script>"}},
		{"too long", CreateRequest{DoctorID: f.doctor.ID, AppointmentDate: at("2024-06-01T10:00:00Z"), Duration: 600, Reason: "x"}},
		{"bad type", CreateRequest{DoctorID: f.doctor.ID, AppointmentDate: at("2024-06-01T10:00:00Z"), Type: "phone", Reason: "x"}},
		{"no doctor", CreateRequest{AppointmentDate: at("2024-06-01T10:00:00Z"), Reason: "x"}},
	}
	for _, tt := range tests {
		if _, err := f.svc.Create(ctx, f.patientActor(), tt.req); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", tt.name, err)
		}
	}
}

func TestCreate_Roles(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	req := CreateRequest{DoctorID: f.doctor.ID, AppointmentDate: at("2024-06-01T10:00:00Z"), Reason: "x"}

	if _, err := f.svc.Create(ctx, f.doctorActor(), req); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("doctor booking: expected forbidden, got %v", err)
	}

	other := f.addUser(auth.RolePatient, "Other", "Patient")
	forOther := req
	forOther.PatientID = &other.ID
	if _, err := f.svc.Create(ctx, f.patientActor(), forOther); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("booking for someone else: expected forbidden, got %v", err)
	}

	admin := auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin}
	if _, err := f.svc.Create(ctx, admin, req); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("admin without patientId: expected validation, got %v", err)
	}
	a, err := f.svc.Create(ctx, admin, forOther)
	if err != nil {
		t.Fatalf("admin booking: unexpected error %v", err)
	}
	if a.PatientID != other.ID {
		t.Errorf("expected patient %s, got %s", other.ID, a.PatientID)
	}
}

func TestCreate_ConcurrentSameSlot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	const n = 10

	patients := make([]auth.Actor, n)
	for i := range patients {
		patients[i] = auth.Actor{ID: f.addUser(auth.RolePatient, "P", "X").ID, Role: auth.RolePatient}
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(ctx, patients[i], CreateRequest{
				DoctorID:        f.doctor.ID,
				AppointmentDate: at("2024-06-01T10:00:00Z").Add(time.Duration(i%3) * 10 * time.Minute),
				Reason:          "Back pain",
			})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, apperr.ErrConflict):
			t.Errorf("expected conflict, got %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one booking, got %d", ok)
	}
}

// -- Transitions --

func TestTransition_PatientCancelsPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.book("2024-06-01T10:00:00Z")
	f.notifier.reset()
	f.audit.reset()

	reason := "Travelling"
	got, err := f.svc.Transition(ctx, f.patientActor(), a.ID, StatusCancelled, &reason)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled || got.CancellationReason == nil || *got.CancellationReason != "Travelling" {
		t.Errorf("unexpected result %+v", got)
	}

	if len(f.notifier.enqueued) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(f.notifier.enqueued))
	}
	msg := f.notifier.enqueued[0]
	if msg.UserID != f.doctor.ID || msg.Kind != notification.KindAppointmentCancelled {
		t.Errorf("expected cancellation notice to the doctor, got %+v", msg)
	}
	if msg.Data["reason"] != "Travelling" {
		t.Errorf("expected reason in notification, got %q", msg.Data["reason"])
	}

	if len(f.audit.calls) != 1 {
		t.Fatalf("expected one audit record, got %d", len(f.audit.calls))
	}
	call := f.audit.calls[0]
	if call.Action != audit.ActionAppointmentCancelled || *call.Old != StatusPending || *call.New != StatusCancelled {
		t.Errorf("unexpected audit %+v", call)
	}
	if call.Actor.ID != f.patient.ID {
		t.Errorf("expected patient as audit actor")
	}
}

func TestTransition_DoctorActionsNotifyPatient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.book("2024-06-01T10:00:00Z")
	f.notifier.reset()

	if _, err := f.svc.Transition(ctx, f.doctorActor(), a.ID, StatusConfirmed, nil); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := f.svc.Transition(ctx, f.doctorActor(), a.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(f.notifier.enqueued) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(f.notifier.enqueued))
	}
	for _, msg := range f.notifier.enqueued {
		if msg.UserID != f.patient.ID {
			t.Errorf("expected patient recipient, got %s", msg.UserID)
		}
		if msg.Data["counterparty"] != "Dr. House" {
			t.Errorf("unexpected counterparty %q", msg.Data["counterparty"])
		}
	}
}

func TestTransition_TerminalStatesReject(t *testing.T) {
	for _, terminal := range []string{StatusCompleted, StatusCancelled, StatusNoShow} {
		f := newFixture()
		a := &Appointment{PatientID: f.patient.ID, DoctorID: f.doctor.ID, StartTime: at("2024-06-01T10:00:00Z"), Duration: 30, Status: terminal}
		f.appts.put(a)

		for _, to := range []string{StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow} {
			for _, actor := range []auth.Actor{f.patientActor(), f.doctorActor(), {ID: uuid.New(), Role: auth.RoleAdmin}} {
				_, err := f.svc.Transition(context.Background(), actor, a.ID, to, nil)
				if !errors.Is(err, apperr.ErrInvalidTransition) {
					t.Errorf("%s -> %s by %s: expected invalid transition, got %v", terminal, to, actor.Role, err)
				}
			}
		}
		if len(f.notifier.enqueued) != 0 || len(f.audit.calls) != 0 {
			t.Errorf("%s: rejected transitions must not notify or audit", terminal)
		}
	}
}

func TestTransition_Permissions(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		to      string
		actor   func(f *fixture) auth.Actor
		wantErr error
	}{
		{"patient confirms", StatusPending, StatusConfirmed, (*fixture).patientActor, apperr.ErrForbidden},
		{"patient completes", StatusConfirmed, StatusCompleted, (*fixture).patientActor, apperr.ErrForbidden},
		{"patient no-show", StatusConfirmed, StatusNoShow, (*fixture).patientActor, apperr.ErrForbidden},
		{"outsider doctor cancels", StatusPending, StatusCancelled, func(f *fixture) auth.Actor {
			return auth.Actor{ID: f.addUser(auth.RoleDoctor, "Other", "Doc").ID, Role: auth.RoleDoctor}
		}, apperr.ErrForbidden},
		{"outsider patient views terminal", StatusCancelled, StatusConfirmed, func(f *fixture) auth.Actor {
			return auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
		}, apperr.ErrForbidden},
		{"complete pending", StatusPending, StatusCompleted, (*fixture).doctorActor, apperr.ErrInvalidTransition},
		{"back to pending", StatusConfirmed, StatusPending, (*fixture).doctorActor, apperr.ErrInvalidTransition},
		{"doctor no-show pending", StatusPending, StatusNoShow, (*fixture).doctorActor, nil},
		{"doctor cancels confirmed", StatusConfirmed, StatusCancelled, (*fixture).doctorActor, nil},
		{"patient cancels confirmed", StatusConfirmed, StatusCancelled, (*fixture).patientActor, nil},
		{"admin completes", StatusConfirmed, StatusCompleted, func(*fixture) auth.Actor {
			return auth.Actor{ID: uuid.New(), Role: auth.RoleAdmin}
		}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			a := &Appointment{PatientID: f.patient.ID, DoctorID: f.doctor.ID, StartTime: at("2024-06-01T10:00:00Z"), Duration: 30, Status: tt.from}
			f.appts.put(a)

			_, err := f.svc.Transition(context.Background(), tt.actor(f), a.ID, tt.to, nil)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTransition_NotFoundAndUnknownStatus(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Transition(context.Background(), f.doctorActor(), uuid.New(), StatusConfirmed, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	a := f.book("2024-06-01T10:00:00Z")
	if _, err := f.svc.Transition(context.Background(), f.doctorActor(), a.ID, "archived", nil); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestTransition_ConcurrentConfirmAndCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.book("2024-06-01T10:00:00Z")
	f.notifier.reset()

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = f.svc.Transition(ctx, f.doctorActor(), a.ID, StatusNoShow, nil)
	}()
	go func() {
		defer wg.Done()
		_, results[1] = f.svc.Transition(ctx, f.patientActor(), a.ID, StatusCancelled, nil)
	}()
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else if !errors.Is(err, apperr.ErrConflict) && !errors.Is(err, apperr.ErrInvalidTransition) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one winner, got %d", ok)
	}
	if len(f.notifier.enqueued) != 1 {
		t.Errorf("expected one notification, got %d", len(f.notifier.enqueued))
	}
}

func TestConfirmFromPayment(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.book("2024-06-01T10:00:00Z")
	f.notifier.reset()
	f.audit.reset()

	got, err := f.svc.ConfirmFromPayment(ctx, a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", got.Status)
	}
	if len(f.notifier.enqueued) != 1 || f.notifier.enqueued[0].UserID != f.doctor.ID {
		t.Errorf("expected doctor notification, got %+v", f.notifier.enqueued)
	}
	if len(f.audit.calls) != 1 || !f.audit.calls[0].Actor.IsSystem() {
		t.Errorf("expected system audit, got %+v", f.audit.calls)
	}

	again, err := f.svc.ConfirmFromPayment(ctx, a.ID)
	if err != nil || again.Status != StatusConfirmed {
		t.Fatalf("expected idempotent confirm, got %v %v", again, err)
	}
	if len(f.notifier.enqueued) != 1 {
		t.Errorf("second confirm must not notify again")
	}
}

// -- Queries --

func TestGet_Forbidden(t *testing.T) {
	f := newFixture()
	a := f.book("2024-06-01T10:00:00Z")
	stranger := auth.Actor{ID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.svc.Get(context.Background(), stranger, a.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), f.doctorActor(), a.ID); err != nil {
		t.Fatalf("doctor should see own appointment: %v", err)
	}
}

func TestList_ScopedToActor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.book("2024-06-01T10:00:00Z")
	other := f.addUser(auth.RolePatient, "Other", "Patient")
	f.appts.put(&Appointment{PatientID: other.ID, DoctorID: f.doctor.ID, StartTime: at("2024-06-01T11:00:00Z"), Duration: 30, Status: StatusPending})

	items, total, err := f.svc.List(ctx, f.patientActor(), ListFilter{PatientID: &other.ID}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || items[0].PatientID != f.patient.ID {
		t.Errorf("patient must only see own appointments, got %d", total)
	}

	_, total, _ = f.svc.List(ctx, f.doctorActor(), ListFilter{}, 20, 0)
	if total != 2 {
		t.Errorf("doctor should see 2, got %d", total)
	}

	if _, _, err := f.svc.List(ctx, f.doctorActor(), ListFilter{Status: "archived"}, 20, 0); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}

// -- Availability --

func TestListAvailableSlots_Default(t *testing.T) {
	f := newFixture()
	f.book("2024-06-01T10:00:00Z")
	f.appts.put(&Appointment{PatientID: f.patient.ID, DoctorID: f.doctor.ID, StartTime: at("2024-06-01T14:00:00Z"), Duration: 30, Status: StatusCancelled})

	av, err := f.svc.ListAvailableSlots(context.Background(), f.doctor.ID, "2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if av.Source != SourceDefault {
		t.Errorf("expected default source, got %s", av.Source)
	}
	if len(av.BookedSlots) != 1 || av.BookedSlots[0] != "10:00" {
		t.Errorf("expected 10:00 booked, got %v", av.BookedSlots)
	}
	if len(av.AvailableSlots) != 17 {
		t.Errorf("expected 17 available, got %d", len(av.AvailableSlots))
	}
}

func TestListAvailableSlots_CalendarTemplate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if _, err := f.svc.CreateCalendar(ctx, f.doctorActor(), CalendarRequest{Date: "2024-06-01", Slots: []string{"09:00", "09:30"}}); err != nil {
		t.Fatalf("create calendar: %v", err)
	}
	f.book("2024-06-01T09:30:00Z")

	av, err := f.svc.ListAvailableSlots(ctx, f.doctor.ID, "2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if av.Source != SourceCalendar {
		t.Errorf("expected calendar source, got %s", av.Source)
	}
	if len(av.AvailableSlots) != 1 || av.AvailableSlots[0] != "09:00" {
		t.Errorf("unexpected available %v", av.AvailableSlots)
	}
}

func TestListAvailableSlots_Errors(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.ListAvailableSlots(context.Background(), uuid.New(), "2024-06-01"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := f.svc.ListAvailableSlots(context.Background(), f.doctor.ID, "01/06/2024"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := f.svc.ListAvailableSlots(context.Background(), f.doctor.ID, "2020-01-01"); err != nil {
		t.Errorf("past dates must be accepted, got %v", err)
	}
}

func TestValidateNoConflict(t *testing.T) {
	f := newFixture()
	f.book("2024-06-01T10:00:00Z")
	ctx := context.Background()

	if err := f.svc.ValidateNoConflict(ctx, f.doctor.ID, at("2024-06-01T09:30:00Z"), 30); err != nil {
		t.Errorf("touching interval must not conflict: %v", err)
	}
	if err := f.svc.ValidateNoConflict(ctx, f.doctor.ID, at("2024-06-01T09:45:00Z"), 30); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	if err := f.svc.ValidateNoConflict(ctx, uuid.New(), at("2024-06-01T10:00:00Z"), 30); err != nil {
		t.Errorf("other doctors do not conflict: %v", err)
	}
}

package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/db"
)

// -- Appointment --

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const apptCols = `a.id, a.patient_id, a.doctor_id, a.start_time, a.duration_minutes, a.end_time,
	a.status, a.type, a.reason, a.cancellation_reason, a.created_at, a.updated_at,
	COALESCE((SELECT array_agg(r.lead_minutes ORDER BY r.lead_minutes)
		FROM appointment_reminders r WHERE r.appointment_id = a.id), '{}')`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var leads []int32
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartTime, &a.Duration, &a.EndTime,
		&a.Status, &a.Type, &a.Reason, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt, &leads)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, err
	}
	a.RemindersSent = make([]int, len(leads))
	for i, l := range leads {
		a.RemindersSent[i] = int(l)
	}
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, start_time, duration_minutes, end_time, status, type, reason)
		VALUES ($1, $2, $3, $4, $5, $4 + make_interval(mins => $5), $6, $7, $8)
		RETURNING end_time, created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.StartTime, a.Duration, a.Status, a.Type, a.Reason,
	).Scan(&a.EndTime, &a.CreatedAt, &a.UpdatedAt)
	if db.IsConstraintViolation(err) {
		return apperr.Wrap(apperr.KindConflict, err, "time slot is already booked")
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	a.RemindersSent = []int{}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments a WHERE a.id = $1`, id))
}

func (r *appointmentRepoPG) ListOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+apptCols+` FROM appointments a
		WHERE a.doctor_id = $1
		  AND a.status IN ('pending', 'confirmed')
		  AND a.start_time < $3 AND a.end_time > $2
		ORDER BY a.start_time`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, cancellationReason *string) (*Appointment, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET status = $3,
		    cancellation_reason = COALESCE($4, cancellation_reason),
		    updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to, cancellationReason)
	if db.IsConstraintViolation(err) {
		return nil, apperr.Wrap(apperr.KindConflict, err, "time slot is already booked")
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.Conflict("appointment status changed concurrently (now %s)", current.Status)
	}
	return current, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := []string{}
	args := []interface{}{}
	idx := 1

	if f.PatientID != nil {
		where = append(where, fmt.Sprintf("a.patient_id = $%d", idx))
		args = append(args, *f.PatientID)
		idx++
	}
	if f.DoctorID != nil {
		where = append(where, fmt.Sprintf("a.doctor_id = $%d", idx))
		args = append(args, *f.DoctorID)
		idx++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("a.status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.From != nil {
		where = append(where, fmt.Sprintf("a.start_time >= $%d", idx))
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where = append(where, fmt.Sprintf("a.start_time < $%d", idx))
		args = append(args, *f.To)
		idx++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, "SELECT COUNT(*) FROM appointments a "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM appointments a %s ORDER BY a.start_time LIMIT $%d OFFSET $%d",
		apptCols, whereClause, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// -- Calendar --

type calendarRepoPG struct{ pool *pgxpool.Pool }

func NewCalendarRepoPG(pool *pgxpool.Pool) CalendarRepository {
	return &calendarRepoPG{pool: pool}
}

func (r *calendarRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const calCols = `id, doctor_id, date::text, slots, confirmed, versions, created_at, updated_at`

func scanCalendar(row pgx.Row) (*Calendar, error) {
	var c Calendar
	var versions []byte
	err := row.Scan(&c.ID, &c.DoctorID, &c.Date, &c.Slots, &c.Confirmed, &versions, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.NotFound("calendar not found")
		}
		return nil, err
	}
	if err := json.Unmarshal(versions, &c.Versions); err != nil {
		return nil, fmt.Errorf("decode calendar versions: %w", err)
	}
	if c.Slots == nil {
		c.Slots = []string{}
	}
	return &c, nil
}

func (r *calendarRepoPG) Create(ctx context.Context, c *Calendar) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO calendars (id, doctor_id, date, slots)
		VALUES ($1, $2, $3::date, $4)
		RETURNING created_at, updated_at`,
		c.ID, c.DoctorID, c.Date, c.Slots,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if db.IsConstraintViolation(err) {
		return apperr.Conflict("a calendar for %s already exists", c.Date)
	}
	if err != nil {
		return fmt.Errorf("insert calendar: %w", err)
	}
	c.Versions = []SlotVersion{}
	return nil
}

func (r *calendarRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Calendar, error) {
	return scanCalendar(r.conn(ctx).QueryRow(ctx, `SELECT `+calCols+` FROM calendars WHERE id = $1`, id))
}

func (r *calendarRepoPG) GetByDoctorDate(ctx context.Context, doctorID uuid.UUID, date string) (*Calendar, error) {
	return scanCalendar(r.conn(ctx).QueryRow(ctx,
		`SELECT `+calCols+` FROM calendars WHERE doctor_id = $1 AND date = $2::date`, doctorID, date))
}

func (r *calendarRepoPG) UpdateSlots(ctx context.Context, id uuid.UUID, slots []string, prev SlotVersion) (*Calendar, error) {
	entry, err := json.Marshal([]SlotVersion{prev})
	if err != nil {
		return nil, err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE calendars
		SET slots = $2, versions = versions || $3::jsonb, updated_at = NOW()
		WHERE id = $1 AND NOT confirmed`, id, slots, entry)
	if err != nil {
		return nil, fmt.Errorf("update calendar slots: %w", err)
	}
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.InvalidTransition("calendar is confirmed; slots can no longer change")
	}
	return current, nil
}

func (r *calendarRepoPG) Confirm(ctx context.Context, id uuid.UUID) (*Calendar, error) {
	if _, err := r.conn(ctx).Exec(ctx,
		`UPDATE calendars SET confirmed = TRUE, updated_at = NOW() WHERE id = $1 AND NOT confirmed`, id); err != nil {
		return nil, fmt.Errorf("confirm calendar: %w", err)
	}
	return r.GetByID(ctx, id)
}

package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/db"
)

// Candidate is a confirmed appointment due for a reminder.
type Candidate struct {
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	StartTime     time.Time
}

// Repository tracks which (appointment, lead time) reminders were sent.
type Repository interface {
	// Candidates returns confirmed appointments starting within [from, to]
	// that have no marker for leadMinutes.
	Candidates(ctx context.Context, leadMinutes int, from, to time.Time) ([]Candidate, error)
	// Claim records the marker. It reports false when it already existed.
	Claim(ctx context.Context, appointmentID uuid.UUID, leadMinutes int) (bool, error)
	Release(ctx context.Context, appointmentID uuid.UUID, leadMinutes int) error
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

func (r *repoPG) Candidates(ctx context.Context, leadMinutes int, from, to time.Time) ([]Candidate, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, a.start_time
		FROM appointments a
		WHERE a.status = 'confirmed'
		  AND a.start_time BETWEEN $2 AND $3
		  AND NOT EXISTS (
		      SELECT 1 FROM appointment_reminders r
		      WHERE r.appointment_id = a.id AND r.lead_minutes = $1)
		ORDER BY a.start_time`, leadMinutes, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.AppointmentID, &c.PatientID, &c.DoctorID, &c.StartTime); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *repoPG) Claim(ctx context.Context, appointmentID uuid.UUID, leadMinutes int) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_reminders (appointment_id, lead_minutes)
		VALUES ($1, $2)
		ON CONFLICT (appointment_id, lead_minutes) DO NOTHING`, appointmentID, leadMinutes)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Release(ctx context.Context, appointmentID uuid.UUID, leadMinutes int) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM appointment_reminders WHERE appointment_id = $1 AND lead_minutes = $2`,
		appointmentID, leadMinutes)
	return err
}

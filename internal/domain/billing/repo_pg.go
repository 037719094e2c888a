package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const cols = `id, appointment_id, patient_id, amount::text, currency, method, status,
	reference, failure_reason, created_at, completed_at`

func scan(row pgx.Row) (*Payment, error) {
	var p Payment
	var amount string
	err := row.Scan(&p.ID, &p.AppointmentID, &p.PatientID, &amount, &p.Currency, &p.Method, &p.Status,
		&p.Reference, &p.FailureReason, &p.CreatedAt, &p.CompletedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("payment not found")
	}
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, appointment_id, patient_id, amount, currency, method, status, reference)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8)
		RETURNING created_at`,
		p.ID, p.AppointmentID, p.PatientID, p.Amount.StringFixed(2), p.Currency, p.Method, p.Status, p.Reference,
	).Scan(&p.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return scan(r.conn(ctx).QueryRow(ctx, `SELECT `+cols+` FROM payments WHERE id = $1`, id))
}

func (r *repoPG) ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+cols+` FROM payments WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*Payment{}
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) Settle(ctx context.Context, id uuid.UUID, status string, reference, failureReason *string, at time.Time) (*Payment, error) {
	var completedAt *time.Time
	if status == StatusCompleted {
		completedAt = &at
	}
	p, err := scan(r.conn(ctx).QueryRow(ctx, `
		UPDATE payments
		SET status = $2,
		    reference = COALESCE($3, reference),
		    failure_reason = $4,
		    completed_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+cols,
		id, status, reference, failureReason, completedAt))
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, apperr.Conflict("payment is no longer pending")
	}
	return p, err
}

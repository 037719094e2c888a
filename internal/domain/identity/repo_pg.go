package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/db"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository { return &userRepoPG{pool: pool} }

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.pool)
}

const userCols = `id, role, first_name, last_name, email, phone, telegram_chat_id, active, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Role, &u.FirstName, &u.LastName, &u.Email, &u.Phone,
		&u.TelegramChatID, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("user not found")
	}
	return &u, err
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, role, first_name, last_name, email, phone, telegram_chat_id, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		u.ID, u.Role, u.FirstName, u.LastName, u.Email, u.Phone, u.TelegramChatID, u.Active,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsConstraintViolation(err) {
		return apperr.Conflict("a user with email %s already exists", u.Email)
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) ListByRole(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE role = $1 AND active`, role).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+userCols+` FROM users
		WHERE role = $1 AND active ORDER BY last_name, first_name LIMIT $2 OFFSET $3`, role, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}

func (r *userRepoPG) SetTelegramChatID(ctx context.Context, id uuid.UUID, chatID *int64) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET telegram_chat_id = $2, updated_at = NOW() WHERE id = $1`, id, chatID)
	if err != nil {
		return fmt.Errorf("update telegram chat id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

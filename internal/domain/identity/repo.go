package identity

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	ListByRole(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
	SetTelegramChatID(ctx context.Context, id uuid.UUID, chatID *int64) error
}

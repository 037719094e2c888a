package identity

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/notification"
)

var validRoles = map[string]bool{
	auth.RolePatient: true,
	auth.RoleDoctor:  true,
	auth.RoleAdmin:   true,
}

type Service struct {
	users UserRepository
}

func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

// CreateUser provisions an account. Only reachable from the operator CLI.
func (s *Service) CreateUser(ctx context.Context, u *User) error {
	u.FirstName = strings.TrimSpace(u.FirstName)
	u.LastName = strings.TrimSpace(u.LastName)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))

	if !validRoles[u.Role] {
		return apperr.Validation("invalid role: %q", u.Role)
	}
	if u.FirstName == "" || u.LastName == "" {
		return apperr.Validation("first and last name are required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return apperr.Validation("invalid email: %q", u.Email)
	}
	u.Active = true
	return s.users.Create(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// RequireDoctor returns the user only if it is an active doctor. Anything else
// is reported as not found.
func (s *Service) RequireDoctor(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.NotFound("doctor %s not found", id)
		}
		return nil, err
	}
	if u.Role != auth.RoleDoctor || !u.Active {
		return nil, apperr.NotFound("doctor %s not found", id)
	}
	return u, nil
}

func (s *Service) ListDoctors(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.users.ListByRole(ctx, auth.RoleDoctor, limit, offset)
}

// LinkTelegram sets or clears the chat used for push notifications.
func (s *Service) LinkTelegram(ctx context.Context, id uuid.UUID, chatID *int64) error {
	return s.users.SetTelegramChatID(ctx, id, chatID)
}

// Recipient resolves the delivery address of a notification.
func (s *Service) Recipient(ctx context.Context, id uuid.UUID) (*notification.Recipient, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &notification.Recipient{
		UserID:         u.ID,
		Name:           u.DisplayName(),
		Email:          u.Email,
		TelegramChatID: u.TelegramChatID,
	}, nil
}

package identity

import (
	"time"

	"github.com/google/uuid"
)

// User is the read view of an account. Accounts are provisioned by operators;
// the API never creates or edits them.
type User struct {
	ID             uuid.UUID `json:"id"`
	Role           string    `json:"role"`
	FirstName      string    `json:"firstName"`
	LastName       string    `json:"lastName"`
	Email          string    `json:"email"`
	Phone          *string   `json:"phone,omitempty"`
	TelegramChatID *int64    `json:"-"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// DisplayName is how the user is addressed in notifications.
func (u *User) DisplayName() string {
	if u.Role == "doctor" {
		return "Dr. " + u.LastName
	}
	return u.FullName()
}

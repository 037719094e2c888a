package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
	// RoleSystem is never granted by a token. It marks actions taken by the
	// server itself, such as confirmation after a completed payment.
	RoleSystem = "system"
)

// Actor is the authenticated principal performing an operation.
type Actor struct {
	ID   uuid.UUID
	Role string
}

func SystemActor() Actor { return Actor{ID: uuid.Nil, Role: RoleSystem} }

func (a Actor) IsAdmin() bool  { return a.Role == RoleAdmin }
func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// IsPrivileged reports actors that bypass participant checks.
func (a Actor) IsPrivileged() bool { return a.IsAdmin() || a.IsSystem() }

// AuditID is the actor id as recorded in audit entries; nil for the system.
func (a Actor) AuditID() *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}

// rolePriority resolves tokens that carry more than one role.
var rolePriority = []string{RoleAdmin, RoleDoctor, RolePatient}

// ActorFromContext builds the Actor for the current request.
func ActorFromContext(ctx context.Context) (Actor, error) {
	raw := UserIDFromContext(ctx)
	id, err := uuid.Parse(raw)
	if err != nil {
		return Actor{}, fmt.Errorf("invalid user id %q", raw)
	}
	roles := RolesFromContext(ctx)
	for _, want := range rolePriority {
		for _, r := range roles {
			if r == want {
				return Actor{ID: id, Role: want}, nil
			}
		}
	}
	return Actor{}, fmt.Errorf("user %s has no recognised role", id)
}

// Package audit keeps the append-only history of appointment, calendar and
// payment changes.
package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record appends an entry for a change made by actor. It joins the caller's
// transaction, so the entry is committed or rolled back with the change.
func (s *Service) Record(ctx context.Context, actor auth.Actor, action, entityType string, entityID uuid.UUID, oldValue, newValue *string, meta map[string]any) error {
	if action == "" || entityType == "" || entityID == uuid.Nil {
		return apperr.Validation("audit entry needs an action and an entity")
	}
	e := &Entry{
		ActorID:    actor.AuditID(),
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldValue:   oldValue,
		NewValue:   newValue,
		Metadata:   meta,
	}
	if err := s.repo.Create(ctx, e); err != nil {
		return fmt.Errorf("record audit %s: %w", action, err)
	}
	return nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

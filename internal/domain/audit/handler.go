package audit

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/response"
	"github.com/medbook/medbook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleAdmin))
	read.GET("/audit-logs", h.List)
}

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("%s must be a UUID", name)
	}
	return &id, nil
}

// List handles GET /audit-logs?entity_id=&actor_id=&entity_type=&action=
func (h *Handler) List(c echo.Context) error {
	var f Filter
	var err error
	if f.EntityID, err = optionalUUID(c, "entity_id"); err != nil {
		return err
	}
	if f.ActorID, err = optionalUUID(c, "actor_id"); err != nil {
		return err
	}
	f.EntityType = c.QueryParam("entity_type")
	f.Action = c.QueryParam("action")

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "audit logs fetched", pagination.NewPage(items, total, pg))
}

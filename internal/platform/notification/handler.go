package notification

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/response"
	"github.com/medbook/medbook/pkg/pagination"
)

// Handler exposes notification operations over HTTP via Echo.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.POST("/notifications/:id/read", h.MarkRead)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/notifications/stats", h.Stats)
	admin.POST("/notifications/:id/retry", h.Retry)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

// List handles GET /notifications?unread=true for the calling user.
func (h *Handler) List(c echo.Context) error {
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return apperr.Unauthorized("%s", err.Error())
	}
	unread, _ := strconv.ParseBool(c.QueryParam("unread"))
	pg := pagination.FromContext(c)

	items, total, err := h.manager.ListForUser(c.Request().Context(), actor.ID, unread, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "notifications fetched", pagination.NewPage(items, total, pg))
}

func (h *Handler) MarkRead(c echo.Context) error {
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return apperr.Unauthorized("%s", err.Error())
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.manager.MarkRead(c.Request().Context(), id, actor.ID); err != nil {
		return err
	}
	return response.OK(c, "notification marked as read", nil)
}

func (h *Handler) Retry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	n, err := h.manager.Retry(c.Request().Context(), id)
	if n == nil {
		return err
	}
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "notification delivery failed again")
	}
	return response.OK(c, "notification delivered", n)
}

func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.manager.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return response.OK(c, "notification stats", stats)
}

package billing

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbook/medbook/internal/platform/apperr"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	read.GET("/payments/:id", h.GetPayment)
	read.GET("/appointments/:id/payments", h.ListForAppointment)

	pay := api.Group("", auth.RequireRole(auth.RolePatient))
	pay.POST("/payments", h.RecordPayment)

	// Provider callbacks
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/payments/:id/complete", h.CompletePayment)
	admin.POST("/payments/:id/fail", h.FailPayment)
}

func actorAndID(c echo.Context) (auth.Actor, uuid.UUID, error) {
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return auth.Actor{}, uuid.Nil, apperr.Unauthorized("%s", err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return auth.Actor{}, uuid.Nil, apperr.Validation("invalid id")
	}
	return actor, id, nil
}

func bindSettle(c echo.Context) (SettleRequest, error) {
	var req SettleRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return req, apperr.Validation("invalid request body")
		}
		if err := c.Validate(&req); err != nil {
			return req, err
		}
	}
	return req, nil
}

func (h *Handler) RecordPayment(c echo.Context) error {
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return apperr.Unauthorized("%s", err.Error())
	}
	var req RecordRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	p, err := h.svc.Record(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return response.Created(c, "payment recorded", p)
}

func (h *Handler) GetPayment(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return response.OK(c, "payment fetched", p)
}

func (h *Handler) ListForAppointment(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForAppointment(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return response.OK(c, "payments fetched", items)
}

func (h *Handler) CompletePayment(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	req, err := bindSettle(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Complete(c.Request().Context(), actor, id, req.Reference)
	if err != nil {
		return err
	}
	return response.OK(c, "payment completed", p)
}

func (h *Handler) FailPayment(c echo.Context) error {
	actor, id, err := actorAndID(c)
	if err != nil {
		return err
	}
	req, err := bindSettle(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Fail(c.Request().Context(), actor, id, req.Reason)
	if err != nil {
		return err
	}
	return response.OK(c, "payment failed", p)
}

package scheduling

import (
	"time"

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
	// Read endpoints – any authenticated participant
	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	read.GET("/appointments", h.ListAppointments)
	read.GET("/appointments/:id", h.GetAppointment)
	read.GET("/appointments/:id/available-slots", h.AvailableSlots)
	read.GET("/doctors/:id/available-slots", h.AvailableSlots)
	read.GET("/calendars", h.GetCalendar)
	read.GET("/calendars/:id", h.GetCalendarByID)

	// Lifecycle – participant checks happen in the service
	write := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	write.PATCH("/appointments/:id/status", h.UpdateStatus)
	write.POST("/appointments/:id/cancel", h.statusAction(StatusCancelled))

	book := api.Group("", auth.RequireRole(auth.RolePatient))
	book.POST("/appointments", h.CreateAppointment)

	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/appointments/:id/confirm", h.statusAction(StatusConfirmed))
	doctor.POST("/appointments/:id/complete", h.statusAction(StatusCompleted))
	doctor.POST("/appointments/:id/no-show", h.statusAction(StatusNoShow))
	doctor.POST("/calendars", h.CreateCalendar)
	doctor.PUT("/calendars/:id/slots", h.UpdateSlots)
	doctor.POST("/calendars/:id/confirm", h.ConfirmCalendar)
}

func actorOf(c echo.Context) (auth.Actor, error) {
	actor, err := auth.ActorFromContext(c.Request().Context())
	if err != nil {
		return auth.Actor{}, apperr.Unauthorized("%s", err.Error())
	}
	return actor, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperr.Validation("invalid request body")
	}
	return c.Validate(req)
}

// -- Appointments --

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Create(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return response.Created(c, "appointment booked", a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return response.OK(c, "appointment fetched", a)
}

func optionalTime(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperr.Validation("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
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

// ListAppointments handles GET /appointments?status=&from=&to=&doctor_id=&patient_id=
func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	f := ListFilter{Status: c.QueryParam("status")}
	if f.From, err = optionalTime(c, "from"); err != nil {
		return err
	}
	if f.To, err = optionalTime(c, "to"); err != nil {
		return err
	}
	if f.DoctorID, err = optionalUUID(c, "doctor_id"); err != nil {
		return err
	}
	if f.PatientID, err = optionalUUID(c, "patient_id"); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return response.OK(c, "appointments fetched", pagination.NewPage(items, total, pg))
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req StatusRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Transition(c.Request().Context(), actor, id, req.Status, req.CancellationReason)
	if err != nil {
		return err
	}
	return response.OK(c, "appointment status updated", a)
}

type reasonBody struct {
	CancellationReason *string `json:"cancellationReason,omitempty"`
}

// statusAction serves the POST shortcuts for a single target status.
func (h *Handler) statusAction(to string) echo.HandlerFunc {
	return func(c echo.Context) error {
		actor, err := actorOf(c)
		if err != nil {
			return err
		}
		id, err := parseID(c)
		if err != nil {
			return err
		}
		var body reasonBody
		if c.Request().ContentLength > 0 {
			if err := c.Bind(&body); err != nil {
				return apperr.Validation("invalid request body")
			}
		}
		a, err := h.svc.Transition(c.Request().Context(), actor, id, to, body.CancellationReason)
		if err != nil {
			return err
		}
		return response.OK(c, "appointment "+to, a)
	}
}

// AvailableSlots handles GET /doctors/:id/available-slots?date=YYYY-MM-DD and
// its alias under /appointments. In both routes :id is the doctor id.
func (h *Handler) AvailableSlots(c echo.Context) error {
	doctorID, err := parseID(c)
	if err != nil {
		return err
	}
	date := c.QueryParam("date")
	if date == "" {
		return apperr.Validation("date is required")
	}
	av, err := h.svc.ListAvailableSlots(c.Request().Context(), doctorID, date)
	if err != nil {
		return err
	}
	return response.OK(c, "available slots fetched", av)
}

// -- Calendars --

func (h *Handler) CreateCalendar(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	var req CalendarRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	cal, err := h.svc.CreateCalendar(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return response.Created(c, "calendar created", cal)
}

// GetCalendar handles GET /calendars?doctor_id=&date=
func (h *Handler) GetCalendar(c echo.Context) error {
	doctorID, err := uuid.Parse(c.QueryParam("doctor_id"))
	if err != nil {
		return apperr.Validation("doctor_id must be a UUID")
	}
	cal, err := h.svc.GetCalendar(c.Request().Context(), doctorID, c.QueryParam("date"))
	if err != nil {
		return err
	}
	return response.OK(c, "calendar fetched", cal)
}

func (h *Handler) GetCalendarByID(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cal, err := h.svc.GetCalendarByID(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return response.OK(c, "calendar fetched", cal)
}

func (h *Handler) UpdateSlots(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req SlotsRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	cal, err := h.svc.UpdateSlots(c.Request().Context(), actor, id, req.Slots)
	if err != nil {
		return err
	}
	return response.OK(c, "calendar slots updated", cal)
}

func (h *Handler) ConfirmCalendar(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cal, err := h.svc.ConfirmCalendar(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return response.OK(c, "calendar confirmed", cal)
}

package theatre

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ipd/ipd/internal/platform/auth"
	"github.com/ipd/ipd/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the theatre endpoints. Booking and state changes
// are doctor actions; the list views are open to ward staff.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleClerk))
	read.GET("/theatre/bookings", h.ListBookings)
	read.GET("/theatre/bookings/:id", h.GetBooking)
	read.GET("/admissions/:admissionId/theatre", h.ListByAdmission)

	write := api.Group("", auth.RequireRole(auth.RoleDoctor))
	write.POST("/theatre/bookings", h.CreateBooking)
	write.POST("/theatre/bookings/:id/complete", h.CompleteBooking)
	write.POST("/theatre/bookings/:id/cancel", h.CancelBooking)
}

func (h *Handler) CreateBooking(c echo.Context) error {
	var b Booking
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Schedule(c.Request().Context(), &b); err != nil {
		switch {
		case errors.Is(err, ErrAdmissionNotFound):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrSlotTaken):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "booking not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBookings(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Theatre: c.QueryParam("theatre"),
		Surgeon: c.QueryParam("surgeon"),
		Status:  c.QueryParam("status"),
	}
	if f.Status != "" && !validBookingStatuses[f.Status] {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+f.Status)
	}
	if raw := c.QueryParam("day"); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid day, want YYYY-MM-DD")
		}
		f.Day = &day
	}

	bookings, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(bookings, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListByAdmission(c echo.Context) error {
	admissionID, err := uuid.Parse(c.Param("admissionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission id")
	}
	bookings, err := h.svc.ListByAdmission(c.Request().Context(), admissionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, bookings)
}

func (h *Handler) CompleteBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "booking not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	// The reason body is optional.
	var req cancelRequest
	_ = c.Bind(&req)
	b, err := h.svc.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "booking not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, b)
}

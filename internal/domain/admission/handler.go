package admission

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ipd/ipd/internal/platform/auth"
	"github.com/ipd/ipd/internal/platform/docgen"
	"github.com/ipd/ipd/pkg/pagination"
)

// EntryLister supplies ward-course content for the discharge summary.
// The journal owns the entries; the admission handler only formats them.
type EntryLister interface {
	SummaryEntries(ctx context.Context, admissionID uuid.UUID, categories []string) ([]docgen.SummaryEntry, error)
}

// Categories folded into the discharge summary when the caller does not
// pick their own.
var defaultSummaryCategories = []string{"admission_assessment", "doctor_visit", "progress_note"}

type Handler struct {
	svc     *Service
	gen     *docgen.Generator
	entries EntryLister
}

func NewHandler(svc *Service, gen *docgen.Generator, entries EntryLister) *Handler {
	return &Handler{svc: svc, gen: gen, entries: entries}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleClerk))
	read.GET("/admissions", h.ListAdmissions)
	read.GET("/admissions/:id", h.GetAdmission)
	read.GET("/admissions/:id/letters/admission", h.AdmissionLetter)
	read.GET("/admissions/:id/letters/discharge", h.DischargeSummary)

	write := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	write.POST("/admissions", h.CreateAdmission)
	write.POST("/admissions/:id/discharge", h.DischargeAdmission)
}

func (h *Handler) CreateAdmission(c echo.Context) error {
	var adm Admission
	if err := c.Bind(&adm); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.Admit(c.Request().Context(), &adm); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, adm)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	adm, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "admission not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, adm)
}

func (h *Handler) ListAdmissions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{
		Status: c.QueryParam("status"),
		Ward:   c.QueryParam("ward"),
	}
	if f.Status != "" && !validStatuses[f.Status] {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid status: "+f.Status)
	}
	adms, total, err := h.svc.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(adms, total, pg.Limit, pg.Offset))
}

func (h *Handler) DischargeAdmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	adm, err := h.svc.Discharge(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "admission not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, adm)
}

func (h *Handler) AdmissionLetter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	adm, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "admission not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	html, err := h.gen.RenderAdmissionLetter(adm.LetterData())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.HTMLBlob(http.StatusOK, html)
}

func (h *Handler) DischargeSummary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	adm, err := h.svc.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "admission not found")
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	if !adm.Discharged() {
		return echo.NewHTTPError(http.StatusBadRequest, "admission is not discharged")
	}

	categories := defaultSummaryCategories
	if raw := c.QueryParam("categories"); raw != "" {
		categories = strings.Split(raw, ",")
	}
	var entries []docgen.SummaryEntry
	if h.entries != nil {
		entries, err = h.entries.SummaryEntries(ctx, adm.ID, categories)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}

	html, err := h.gen.RenderDischargeSummary(adm.SummaryData(entries))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.HTMLBlob(http.StatusOK, html)
}

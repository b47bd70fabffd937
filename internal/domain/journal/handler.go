package journal

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ipd/ipd/internal/platform/auth"
	"github.com/ipd/ipd/internal/platform/dictation"
)

// Handler exposes the journal over HTTP.
type Handler struct {
	svc       *Service
	dictation dictation.Service
	notices   Notifier
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// SetDictation attaches the optional dictation pipeline.
func (h *Handler) SetDictation(d dictation.Service) {
	h.dictation = d
}

// SetNotices attaches an optional notice sink for dictation outages.
func (h *Handler) SetNotices(n Notifier) {
	h.notices = n
}

// RegisterRoutes mounts the journal endpoints. Clerks can read; only
// nurses and doctors write.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleClerk))
	read.GET("/admissions/:admissionId/journal", h.ListRecords)
	read.GET("/admissions/:admissionId/journal/:category", h.GetRecord)
	read.GET("/admissions/:admissionId/journal/:category/entries", h.ListEntries)

	write := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	write.POST("/admissions/:admissionId/journal/:category/entries", h.AppendEntry)
	write.PUT("/admissions/:admissionId/journal/:category/entries/:entryId", h.EditEntry)
	write.DELETE("/admissions/:admissionId/journal/:category/entries/:entryId", h.DeleteEntry)
	write.POST("/admissions/:admissionId/journal/:category/entries/:entryId/sign", h.SignEntry)
	write.POST("/admissions/:admissionId/journal/:category/dictation", h.Dictate)
}

// ListRecords returns every category record the admission has.
func (h *Handler) ListRecords(c echo.Context) error {
	admissionID, err := uuid.Parse(c.Param("admissionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission id")
	}

	recs, err := h.svc.ListByAdmission(c.Request().Context(), admissionID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, recs)
}

// GetRecord returns the full record for one (admission, category) pair.
func (h *Handler) GetRecord(c echo.Context) error {
	admissionID, err := uuid.Parse(c.Param("admissionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission id")
	}

	rec, err := h.svc.Fetch(c.Request().Context(), admissionID, Category(c.Param("category")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// ListEntries projects the record's entries. ?deleted=true switches to the
// soft-deleted view; ?sort=desc reverses the default oldest-first order.
func (h *Handler) ListEntries(c echo.Context) error {
	admissionID, err := uuid.Parse(c.Param("admissionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission id")
	}

	rec, err := h.svc.Fetch(c.Request().Context(), admissionID, Category(c.Param("category")))
	if err != nil {
		return httpError(err)
	}

	order := SortAsc
	if c.QueryParam("sort") == SortDesc {
		order = SortDesc
	}
	entries := rec.ActiveEntries(order)
	if c.QueryParam("deleted") == "true" {
		entries = rec.DeletedEntries(order)
	}
	return c.JSON(http.StatusOK, entries)
}

// AppendEntry saves a new entry. The request body is the entry payload.
func (h *Handler) AppendEntry(c echo.Context) error {
	admissionID, err := uuid.Parse(c.Param("admissionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission id")
	}
	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.svc.Append(c.Request().Context(), admissionID, Category(c.Param("category")), payload)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

type editEntryRequest struct {
	Payload json.RawMessage `json:"payload"`
	Status  string          `json:"status"`
}

// EditEntry replaces a drug-chart entry's payload and optionally its
// status, preserving the previous revision in the entry's history.
func (h *Handler) EditEntry(c echo.Context) error {
	admissionID, err := uuid.Parse(c.Param("admissionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission id")
	}
	var req editEntryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entry, err := h.svc.Edit(c.Request().Context(), admissionID, Category(c.Param("category")), c.Param("entryId"), req.Payload, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// DeleteEntry marks an entry deleted. The entry stays in the record and
// remains visible in the deleted view.
func (h *Handler) DeleteEntry(c echo.Context) error {
	admissionID, err := uuid.Parse(c.Param("admissionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission id")
	}

	entry, err := h.svc.SoftDelete(c.Request().Context(), admissionID, Category(c.Param("category")), c.Param("entryId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// SignEntry appends the acting user's signature to a drug-chart entry.
func (h *Handler) SignEntry(c echo.Context) error {
	admissionID, err := uuid.Parse(c.Param("admissionId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission id")
	}

	entry, err := h.svc.Sign(c.Request().Context(), admissionID, Category(c.Param("category")), c.Param("entryId"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

// Dictate transcribes an audio clip into a draft entry suggestion. The
// flow is best effort: when the speech service is down the client gets a
// structured 503 and the user types the entry instead.
func (h *Handler) Dictate(c echo.Context) error {
	if _, err := uuid.Parse(c.Param("admissionId")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid admission id")
	}
	category := Category(c.Param("category"))
	if !category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category")
	}
	if h.dictation == nil {
		return h.dictationUnavailable(c)
	}

	audio, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.dictation.Run(c.Request().Context(), audio, c.Request().Header.Get(echo.HeaderContentType), category.String())
	if err != nil {
		if errors.Is(err, dictation.ErrUnavailable) {
			return h.dictationUnavailable(c)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) dictationUnavailable(c echo.Context) error {
	ctx := c.Request().Context()
	if h.notices != nil {
		actor := auth.ActorFromContext(ctx)
		if actor != auth.ActorUnknown {
			_, _ = h.notices.NotifyFromTemplate(ctx, actor, "dictation-unavailable", nil)
		}
	}
	return c.JSON(http.StatusServiceUnavailable, map[string]string{
		"error":   "dictation_unavailable",
		"message": "speech to text is unavailable right now, type the entry instead",
	})
}

// httpError translates the journal error classes to transport status
// codes. Unknown admissions are 422 so the client can tell a bad
// reference apart from a record that simply has no entries yet (404).
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrReferenceNotFound):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrStorage):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

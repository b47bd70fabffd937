package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ipd/ipd/internal/platform/dictation"
)

func newTestHandler() (*Handler, *echo.Echo, uuid.UUID) {
	repo := newMockRepo()
	admissionID := uuid.New()
	dir := &mockDirectory{refs: map[uuid.UUID]string{admissionID: "IPD-2026-0042"}}
	return NewHandler(NewService(repo, dir)), echo.New(), admissionID
}

func seedEntry(t *testing.T, h *Handler, e *echo.Echo, admissionID uuid.UUID, category, payload string) Entry {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), category)
	if err := h.AppendEntry(c); err != nil {
		t.Fatalf("seed append failed: %v", err)
	}
	var entry Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	return entry
}

func TestAppendEntryHandler(t *testing.T) {
	h, e, admissionID := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"BP 120/80"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), "nurse_note")

	if err := h.AppendEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var entry Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if entry.ID == "" {
		t.Fatal("expected entry id in response")
	}
}

func TestAppendEntryHandler_ErrorMapping(t *testing.T) {
	h, e, admissionID := newTestHandler()

	cases := []struct {
		name        string
		admissionID string
		category    string
		payload     string
		wantStatus  int
	}{
		{"invalid admission id", "not-a-uuid", "nurse_note", `{"note":"x"}`, http.StatusBadRequest},
		{"unknown admission", uuid.NewString(), "nurse_note", `{"note":"x"}`, http.StatusUnprocessableEntity},
		{"unknown category", admissionID.String(), "ward_gossip", `{"note":"x"}`, http.StatusBadRequest},
		{"empty payload", admissionID.String(), "nurse_note", `{}`, http.StatusBadRequest},
		{"drug chart without drug_name", admissionID.String(), "drug_chart", `{"dose":"500mg"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.payload))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("admissionId", "category")
			c.SetParamValues(tc.admissionID, tc.category)

			err := h.AppendEntry(c)
			if err == nil {
				t.Fatal("expected an error")
			}
			he, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected HTTP error, got %v", err)
			}
			if he.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, he.Code)
			}
		})
	}
}

func TestGetRecordHandler(t *testing.T) {
	h, e, admissionID := newTestHandler()
	seedEntry(t, h, e, admissionID, "nurse_note", `{"note":"BP 120/80"}`)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), "nurse_note")

	if err := h.GetRecord(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out Record
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Version != 1 || len(out.Entries) != 1 {
		t.Fatalf("unexpected record: version %d, %d entries", out.Version, len(out.Entries))
	}
}

func TestGetRecordHandler_NotFound(t *testing.T) {
	h, e, admissionID := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), "nurse_note")

	err := h.GetRecord(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestListEntriesHandler(t *testing.T) {
	h, e, admissionID := newTestHandler()
	first := seedEntry(t, h, e, admissionID, "nurse_note", `{"note":"first"}`)
	second := seedEntry(t, h, e, admissionID, "nurse_note", `{"note":"second"}`)

	// Soft delete the first entry.
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category", "entryId")
	c.SetParamValues(admissionID.String(), "nurse_note", first.ID)
	if err := h.DeleteEntry(c); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	list := func(query string) []Entry {
		req := httptest.NewRequest(http.MethodGet, "/"+query, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("admissionId", "category")
		c.SetParamValues(admissionID.String(), "nurse_note")
		if err := h.ListEntries(c); err != nil {
			t.Fatalf("list failed: %v", err)
		}
		var out []Entry
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		return out
	}

	active := list("")
	if len(active) != 1 || active[0].ID != second.ID {
		t.Fatalf("expected only the live entry, got %v", active)
	}
	removed := list("?deleted=true")
	if len(removed) != 1 || removed[0].ID != first.ID {
		t.Fatalf("expected the deleted entry, got %v", removed)
	}
	if removed[0].DeletedBy == nil {
		t.Fatal("expected delete marker in the deleted view")
	}
}

func TestListEntriesHandler_SortDesc(t *testing.T) {
	h, e, admissionID := newTestHandler()
	seedEntry(t, h, e, admissionID, "nurse_note", `{"note":"first"}`)
	last := seedEntry(t, h, e, admissionID, "nurse_note", `{"note":"second"}`)

	req := httptest.NewRequest(http.MethodGet, "/?sort=desc", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), "nurse_note")
	if err := h.ListEntries(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out []Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out) != 2 || out[0].ID != last.ID {
		t.Fatalf("expected newest first, got %v", out)
	}
}

func TestEditEntryHandler(t *testing.T) {
	h, e, admissionID := newTestHandler()
	entry := seedEntry(t, h, e, admissionID, "drug_chart", `{"drug_name":"paracetamol","dose":"500mg"}`)

	body := `{"payload":{"drug_name":"paracetamol","dose":"650mg"},"status":"administered"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category", "entryId")
	c.SetParamValues(admissionID.String(), "drug_chart", entry.ID)

	if err := h.EditEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Status != "administered" || len(out.EditHistory) != 1 {
		t.Fatalf("unexpected entry after edit: %+v", out)
	}
}

func TestEditEntryHandler_NonDrugChart(t *testing.T) {
	h, e, admissionID := newTestHandler()
	entry := seedEntry(t, h, e, admissionID, "nurse_note", `{"note":"x"}`)

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"payload":{"note":"y"}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category", "entryId")
	c.SetParamValues(admissionID.String(), "nurse_note", entry.ID)

	err := h.EditEntry(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSignEntryHandler(t *testing.T) {
	h, e, admissionID := newTestHandler()
	entry := seedEntry(t, h, e, admissionID, "drug_chart", `{"drug_name":"ceftriaxone"}`)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category", "entryId")
	c.SetParamValues(admissionID.String(), "drug_chart", entry.ID)

	if err := h.SignEntry(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Signatures) != 1 {
		t.Fatalf("expected one signature, got %d", len(out.Signatures))
	}
}

func TestConflictMapsTo409(t *testing.T) {
	repo := newMockRepo()
	admissionID := uuid.New()
	dir := &mockDirectory{refs: map[uuid.UUID]string{admissionID: "IPD-2026-0042"}}
	h := NewHandler(NewService(repo, dir))
	e := echo.New()
	repo.upsertErr = ErrConflict

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), "nurse_note")

	err := h.AppendEntry(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestStorageFailureMapsTo502(t *testing.T) {
	repo := newMockRepo()
	admissionID := uuid.New()
	dir := &mockDirectory{refs: map[uuid.UUID]string{admissionID: "IPD-2026-0042"}}
	h := NewHandler(NewService(repo, dir))
	e := echo.New()
	repo.fetchErr = errors.New("connection refused")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), "nurse_note")

	err := h.GetRecord(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
}

type stubDictation struct {
	res *dictation.Result
	err error
}

func (s *stubDictation) Run(context.Context, []byte, string, string) (*dictation.Result, error) {
	return s.res, s.err
}

func TestDictateHandler(t *testing.T) {
	h, e, admissionID := newTestHandler()
	h.SetDictation(&stubDictation{res: &dictation.Result{Transcript: "two puffs salbutamol", Confidence: 0.92}})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("audio-bytes"))
	req.Header.Set(echo.HeaderContentType, "audio/webm")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), "nurse_note")

	if err := h.Dictate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "two puffs salbutamol") {
		t.Fatalf("expected transcript in response, got %s", rec.Body.String())
	}
}

func TestDictateHandler_Unavailable(t *testing.T) {
	h, e, admissionID := newTestHandler()
	h.SetDictation(&stubDictation{err: fmt.Errorf("transcribe: %w", dictation.ErrUnavailable)})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("audio-bytes"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), "nurse_note")

	if err := h.Dictate(c); err != nil {
		t.Fatalf("unavailable path must answer, not error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dictation_unavailable") {
		t.Fatalf("expected structured unavailable body, got %s", rec.Body.String())
	}
}

func TestDictateHandler_NotConfigured(t *testing.T) {
	h, e, admissionID := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("audio-bytes"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("admissionId", "category")
	c.SetParamValues(admissionID.String(), "nurse_note")

	if err := h.Dictate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestJournalRoutes(t *testing.T) {
	h, _, _ := newTestHandler()
	e := echo.New()
	api := e.Group("/api/v1")
	h.RegisterRoutes(api)

	registered := make(map[string]bool)
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	want := []string{
		"GET /api/v1/admissions/:admissionId/journal",
		"GET /api/v1/admissions/:admissionId/journal/:category",
		"GET /api/v1/admissions/:admissionId/journal/:category/entries",
		"POST /api/v1/admissions/:admissionId/journal/:category/entries",
		"PUT /api/v1/admissions/:admissionId/journal/:category/entries/:entryId",
		"DELETE /api/v1/admissions/:admissionId/journal/:category/entries/:entryId",
		"POST /api/v1/admissions/:admissionId/journal/:category/entries/:entryId/sign",
		"POST /api/v1/admissions/:admissionId/journal/:category/dictation",
	}
	for _, route := range want {
		if !registered[route] {
			t.Errorf("route not registered: %s", route)
		}
	}
}

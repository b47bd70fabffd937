// Package notification delivers operation-outcome notices to ward staff.
// Notices are short, per-user messages ("Nurse note saved", "Could not save
// drug chart entry") kept in an in-memory ring and served over Echo HTTP
// handlers. Delivery is fire-and-forget: a failed notice never fails the
// clinical operation that produced it.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ipd/ipd/internal/platform/auth"
)

// ---------------------------------------------------------------------------
// Notice Types
// ---------------------------------------------------------------------------

// Severity classifies a notice for display.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
)

// maxPerActor bounds the in-memory ring kept for each user.
const maxPerActor = 200

// ---------------------------------------------------------------------------
// Notice
// ---------------------------------------------------------------------------

// Notice represents a single outcome message addressed to one user.
type Notice struct {
	ID         string            `json:"id"`
	ActorID    string            `json:"actor_id"`
	Severity   Severity          `json:"severity"`
	Message    string            `json:"message"`
	TemplateID string            `json:"template_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Sink Interface
// ---------------------------------------------------------------------------

// Sink receives outcome notices. Implementations must be safe for
// concurrent use; callers treat errors as advisory.
type Sink interface {
	Notify(ctx context.Context, n *Notice) error
}

// MetricsRecorder counts delivered notices by severity.
type MetricsRecorder interface {
	RecordNotice(severity string)
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notice message.
type Template struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// TemplateEngine manages notice templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:       "entry-saved",
			Name:     "Entry Saved",
			Message:  "{{category}} entry saved for {{patient_name}}.",
			Severity: SeveritySuccess,
		},
		{
			ID:       "entry-save-failed",
			Name:     "Entry Save Failed",
			Message:  "Could not save {{category}} entry: {{reason}}",
			Severity: SeverityError,
		},
		{
			ID:       "entry-deleted",
			Name:     "Entry Deleted",
			Message:  "{{category}} entry removed for {{patient_name}}.",
			Severity: SeveritySuccess,
		},
		{
			ID:       "entry-updated",
			Name:     "Entry Updated",
			Message:  "{{category}} entry updated for {{patient_name}}.",
			Severity: SeveritySuccess,
		},
		{
			ID:       "entry-signed",
			Name:     "Entry Signed",
			Message:  "Drug chart entry signed by {{signer}}.",
			Severity: SeveritySuccess,
		},
		{
			ID:       "dictation-unavailable",
			Name:     "Dictation Unavailable",
			Message:  "Speech-to-text is unavailable right now. Your note was saved without a transcript.",
			Severity: SeverityInfo,
		},
		{
			ID:       "admission-discharged",
			Name:     "Patient Discharged",
			Message:  "{{patient_name}} discharged from {{ward}}.",
			Severity: SeverityInfo,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (message string, severity Severity, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	message = t.Message
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		message = strings.ReplaceAll(message, placeholder, v)
	}
	return message, t.Severity, nil
}

// ---------------------------------------------------------------------------
// Mock Sink (test double)
// ---------------------------------------------------------------------------

// MockSink is a test double for Sink that records notices it receives.
type MockSink struct {
	mu         sync.Mutex
	notices    []*Notice
	ShouldFail bool
	FailError  string
}

// Notify records the notice and optionally returns an error.
func (m *MockSink) Notify(_ context.Context, n *Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Notices returns a copy of the recorded notices.
func (m *MockSink) Notices() []*Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Notice, len(m.notices))
	copy(out, m.notices)
	return out
}

// ---------------------------------------------------------------------------
// Notice Manager
// ---------------------------------------------------------------------------

// Manager stores notices per actor and implements Sink.
type Manager struct {
	templates *TemplateEngine
	mu        sync.RWMutex
	byActor   map[string][]*Notice
	metrics   MetricsRecorder
}

// NewManager constructs a Manager.
func NewManager(tpl *TemplateEngine) *Manager {
	return &Manager{
		templates: tpl,
		byActor:   make(map[string][]*Notice),
	}
}

// SetMetrics attaches an optional metrics recorder.
func (m *Manager) SetMetrics(rec MetricsRecorder) {
	m.metrics = rec
}

// Notify assigns an ID and timestamp, then stores the notice for its actor.
// The newest notice evicts the oldest once the per-actor ring is full.
func (m *Manager) Notify(_ context.Context, n *Notice) error {
	if n.ActorID == "" {
		return fmt.Errorf("actor_id is required")
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	n.CreatedAt = time.Now().UTC()

	m.mu.Lock()
	ring := append(m.byActor[n.ActorID], n)
	if len(ring) > maxPerActor {
		ring = ring[len(ring)-maxPerActor:]
	}
	m.byActor[n.ActorID] = ring
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordNotice(string(n.Severity))
	}
	return nil
}

// NotifyFromTemplate renders a template and stores the resulting notice.
func (m *Manager) NotifyFromTemplate(ctx context.Context, actorID, templateID string, data map[string]string) (*Notice, error) {
	message, severity, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notice{
		ActorID:    actorID,
		Severity:   severity,
		Message:    message,
		TemplateID: templateID,
		Metadata:   data,
	}
	if err := m.Notify(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Get retrieves a notice by actor and ID.
func (m *Manager) Get(_ context.Context, actorID, id string) (*Notice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.byActor[actorID] {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, fmt.Errorf("notice %q not found", id)
}

// ListByActor returns the actor's notices, newest first, up to limit.
func (m *Manager) ListByActor(_ context.Context, actorID string, limit int) ([]*Notice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ring := m.byActor[actorID]
	result := make([]*Notice, 0, limit)
	for i := len(ring) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, ring[i])
	}
	return result, nil
}

// Dismiss removes a notice from the actor's list.
func (m *Manager) Dismiss(_ context.Context, actorID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.byActor[actorID]
	for i, n := range ring {
		if n.ID == id {
			m.byActor[actorID] = append(ring[:i], ring[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("notice %q not found", id)
}

// Stats returns counts of stored notices grouped by severity.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, ring := range m.byActor {
		for _, n := range ring {
			stats[string(n.Severity)]++
		}
	}
	return stats
}

// ---------------------------------------------------------------------------
// HTTP Handler
// ---------------------------------------------------------------------------

// Handler exposes notice operations over HTTP via Echo. The acting user is
// taken from the request context; users only ever see their own notices.
type Handler struct {
	manager *Manager
}

// NewHandler creates a new Handler.
func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

// RegisterRoutes registers all notice routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notices", h.HandleList)
	g.GET("/notices/stats", h.HandleStats)
	g.GET("/notices/:id", h.HandleGet)
	g.DELETE("/notices/:id", h.HandleDismiss)
}

// HandleList handles GET /notices.
func (h *Handler) HandleList(c echo.Context) error {
	actorID := auth.ActorFromContext(c.Request().Context())

	list, err := h.manager.ListByActor(c.Request().Context(), actorID, 100)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, list)
}

// HandleGet handles GET /notices/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	actorID := auth.ActorFromContext(c.Request().Context())

	n, err := h.manager.Get(c.Request().Context(), actorID, c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, n)
}

// HandleDismiss handles DELETE /notices/:id.
func (h *Handler) HandleDismiss(c echo.Context) error {
	actorID := auth.ActorFromContext(c.Request().Context())

	if err := h.manager.Dismiss(c.Request().Context(), actorID, c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleStats handles GET /notices/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats := h.manager.Stats(c.Request().Context())
	return c.JSON(http.StatusOK, stats)
}

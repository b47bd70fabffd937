package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ipd/ipd/internal/platform/auth"
)

type breakGlassContextKey string

const (
	breakGlassKey       breakGlassContextKey = "break_glass"
	breakGlassReasonKey breakGlassContextKey = "break_glass_reason"
)

// breakGlassRateLimit tracks per-user request counts within a rolling window.
type breakGlassRateLimit struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func newBreakGlassRateLimit() *breakGlassRateLimit {
	return &breakGlassRateLimit{
		entries: make(map[string][]time.Time),
	}
}

// allow checks whether the user is under the break-glass rate limit. It keeps
// only timestamps within the last hour and enforces a maximum of maxPerHour
// requests. The caller supplies the current time so tests can inject a
// deterministic clock.
func (rl *breakGlassRateLimit) allow(userID string, now time.Time, maxPerHour int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-1 * time.Hour)

	existing := rl.entries[userID]
	pruned := existing[:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) >= maxPerHour {
		rl.entries[userID] = pruned
		return false
	}

	rl.entries[userID] = append(pruned, now)
	return true
}

// cleanup removes all entries older than one hour.
func (rl *breakGlassRateLimit) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-1 * time.Hour)
	for userID, timestamps := range rl.entries {
		pruned := timestamps[:0]
		for _, ts := range timestamps {
			if ts.After(cutoff) {
				pruned = append(pruned, ts)
			}
		}
		if len(pruned) == 0 {
			delete(rl.entries, userID)
		} else {
			rl.entries[userID] = pruned
		}
	}
}

const (
	breakGlassMaxPerHour    = 10
	breakGlassCleanupPeriod = 5 * time.Minute
)

func isPatientDataPath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

// BreakGlass returns Echo middleware implementing the emergency override for
// patient data access. A clinician attending a deteriorating patient outside
// their normal assignment sends the X-Break-Glass header with a non-empty
// reason string, and the middleware:
//
//  1. Verifies the user is authenticated.
//  2. Enforces a per-user rate limit (10 requests per hour).
//  3. Elevates the user's roles with admin so downstream role gates pass.
//  4. Stores break_glass and break_glass_reason in the request context for
//     the audit trail.
//  5. Emits a WARN-level structured log entry.
//
// The middleware only activates on /api/v1/ paths and must sit after
// authentication and before the audit middleware.
func BreakGlass(logger zerolog.Logger) echo.MiddlewareFunc {
	rl := newBreakGlassRateLimit()

	go func() {
		ticker := time.NewTicker(breakGlassCleanupPeriod)
		defer ticker.Stop()
		for range ticker.C {
			rl.cleanup(time.Now())
		}
	}()

	return breakGlassMiddleware(logger, rl, time.Now)
}

// breakGlassMiddleware is the internal constructor that accepts a clock
// function for testing determinism and a pre-built rate limiter.
func breakGlassMiddleware(logger zerolog.Logger, rl *breakGlassRateLimit, nowFn func() time.Time) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path

			if !isPatientDataPath(path) {
				return next(c)
			}

			reason := strings.TrimSpace(req.Header.Get("X-Break-Glass"))
			if reason == "" {
				return next(c)
			}

			ctx := req.Context()
			userID := auth.UserIDFromContext(ctx)
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "break-glass requires authentication")
			}

			now := nowFn()
			if !rl.allow(userID, now, breakGlassMaxPerHour) {
				return echo.NewHTTPError(http.StatusTooManyRequests,
					"break-glass rate limit exceeded: maximum 10 requests per user per hour")
			}

			roles := auth.RolesFromContext(ctx)
			hasAdmin := false
			for _, r := range roles {
				if r == auth.RoleAdmin {
					hasAdmin = true
					break
				}
			}
			if !hasAdmin {
				roles = append(roles, auth.RoleAdmin)
			}

			ctx = context.WithValue(ctx, breakGlassKey, true)
			ctx = context.WithValue(ctx, breakGlassReasonKey, reason)
			ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
			c.SetRequest(req.WithContext(ctx))

			logger.Warn().
				Str("type", "break_glass").
				Str("user_id", userID).
				Strs("original_roles", auth.RolesFromContext(req.Context())).
				Str("break_glass_reason", reason).
				Str("path", path).
				Str("method", req.Method).
				Str("remote_ip", c.RealIP()).
				Time("timestamp", now).
				Msg("break_glass_override")

			return next(c)
		}
	}
}

// IsBreakGlass returns true if the request is a break-glass override.
func IsBreakGlass(ctx context.Context) bool {
	v, _ := ctx.Value(breakGlassKey).(bool)
	return v
}

// BreakGlassReason returns the reason string provided in the X-Break-Glass
// header, or an empty string if break-glass was not invoked.
func BreakGlassReason(ctx context.Context) string {
	v, _ := ctx.Value(breakGlassReasonKey).(string)
	return v
}

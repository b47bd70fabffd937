package auth

import "context"

// ActorUnknown is the identity recorded on journal writes when no
// authenticated user is present on the request context. Clinical writes
// are never rejected for a missing identity; the sentinel keeps the
// authorship column non-empty so downstream documents can render it.
const ActorUnknown = "unknown"

// ActorFromContext returns the authenticated user's subject, or
// ActorUnknown when the context carries no identity. It never fails.
func ActorFromContext(ctx context.Context) string {
	if uid := UserIDFromContext(ctx); uid != "" {
		return uid
	}
	return ActorUnknown
}

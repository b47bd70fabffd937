package journal

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores at most one Record per (admission, category).
type Repository interface {
	// Fetch returns the record or ErrNotFound. Not-found is a sentinel,
	// never an empty record.
	Fetch(ctx context.Context, admissionID uuid.UUID, category Category) (*Record, error)

	// Upsert writes the record atomically. A fresh record (Version 0)
	// inserts; an existing one replaces entries and contributors only if
	// the stored version still equals rec.Version, then bumps it. A missed
	// compare-and-swap returns ErrConflict with nothing written. On
	// success rec's ID, Version and timestamps reflect the stored row.
	Upsert(ctx context.Context, rec *Record) error

	// ListByAdmission returns every record of the admission, one per
	// category that has seen at least one append.
	ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Record, error)
}

package theatre

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no booking matches the given id.
var ErrNotFound = errors.New("theatre booking not found")

// ListFilter narrows booking lists. Zero fields are ignored; Day keeps
// bookings starting inside that calendar day (UTC).
type ListFilter struct {
	Theatre string
	Surgeon string
	Status  string
	Day     *time.Time
}

type Repository interface {
	Create(ctx context.Context, b *Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	Update(ctx context.Context, b *Booking) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Booking, int, error)
	ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Booking, error)
	// FindOverlapping returns scheduled bookings in the theatre whose
	// window intersects [start, end).
	FindOverlapping(ctx context.Context, theatre string, start, end time.Time) ([]*Booking, error)
}

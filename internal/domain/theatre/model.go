package theatre

import (
	"time"

	"github.com/google/uuid"
)

// Booking statuses.
const (
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Booking reserves an operation theatre for one admitted patient.
type Booking struct {
	ID           uuid.UUID `db:"id" json:"id"`
	AdmissionID  uuid.UUID `db:"admission_id" json:"admission_id"`
	Theatre      string    `db:"theatre" json:"theatre"`
	Surgeon      string    `db:"surgeon" json:"surgeon"`
	Procedure    string    `db:"procedure_name" json:"procedure"`
	Anaesthetist *string   `db:"anaesthetist" json:"anaesthetist,omitempty"`
	StartsAt     time.Time `db:"starts_at" json:"starts_at"`
	EndsAt       time.Time `db:"ends_at" json:"ends_at"`
	Status       string    `db:"status" json:"status"`
	CancelReason *string   `db:"cancel_reason" json:"cancel_reason,omitempty"`
	Notes        *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Overlaps reports whether the booking's window intersects [start, end).
// Touching endpoints do not overlap, so back-to-back lists are legal.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return b.StartsAt.Before(end) && start.Before(b.EndsAt)
}

// Duration is the booked theatre time.
func (b *Booking) Duration() time.Duration {
	return b.EndsAt.Sub(b.StartsAt)
}

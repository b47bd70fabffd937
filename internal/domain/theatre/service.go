package theatre

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrAdmissionNotFound is returned when a booking references an admission
// the directory does not know.
var ErrAdmissionNotFound = errors.New("admission not found")

// ErrSlotTaken is returned when the theatre is already booked for an
// intersecting window.
var ErrSlotTaken = errors.New("theatre slot already booked")

// AdmissionDirectory confirms the admission a booking hangs off exists.
type AdmissionDirectory interface {
	ResolveCrossReference(ctx context.Context, admissionID uuid.UUID) (string, error)
}

// DirectoryFunc adapts a function to AdmissionDirectory.
type DirectoryFunc func(ctx context.Context, admissionID uuid.UUID) (string, error)

func (f DirectoryFunc) ResolveCrossReference(ctx context.Context, admissionID uuid.UUID) (string, error) {
	return f(ctx, admissionID)
}

var validBookingStatuses = map[string]bool{
	StatusScheduled: true,
	StatusCompleted: true,
	StatusCancelled: true,
}

type Service struct {
	repo      Repository
	directory AdmissionDirectory
}

func NewService(repo Repository, directory AdmissionDirectory) *Service {
	return &Service{repo: repo, directory: directory}
}

// Schedule books a theatre for an admitted patient, rejecting windows
// that intersect an existing scheduled booking in the same theatre.
func (s *Service) Schedule(ctx context.Context, b *Booking) error {
	if b.AdmissionID == uuid.Nil {
		return fmt.Errorf("admission_id is required")
	}
	if b.Theatre == "" {
		return fmt.Errorf("theatre is required")
	}
	if b.Surgeon == "" {
		return fmt.Errorf("surgeon is required")
	}
	if b.Procedure == "" {
		return fmt.Errorf("procedure is required")
	}
	if b.StartsAt.IsZero() {
		return fmt.Errorf("starts_at is required")
	}
	if b.EndsAt.IsZero() {
		return fmt.Errorf("ends_at is required")
	}
	if !b.EndsAt.After(b.StartsAt) {
		return fmt.Errorf("ends_at must be after starts_at")
	}
	if b.Status == "" {
		b.Status = StatusScheduled
	}
	if b.Status != StatusScheduled {
		return fmt.Errorf("new bookings must start as %s", StatusScheduled)
	}

	if _, err := s.directory.ResolveCrossReference(ctx, b.AdmissionID); err != nil {
		if errors.Is(err, ErrAdmissionNotFound) {
			return err
		}
		return fmt.Errorf("resolve admission: %w", err)
	}

	clashes, err := s.repo.FindOverlapping(ctx, b.Theatre, b.StartsAt, b.EndsAt)
	if err != nil {
		return err
	}
	if len(clashes) > 0 {
		return fmt.Errorf("%w: %s is occupied from %s", ErrSlotTaken,
			b.Theatre, clashes[0].StartsAt.Format(time.RFC3339))
	}

	return s.repo.Create(ctx, b)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Booking, int, error) {
	if f.Status != "" && !validBookingStatuses[f.Status] {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Booking, error) {
	return s.repo.ListByAdmission(ctx, admissionID)
}

// Complete marks a scheduled booking done.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusScheduled {
		return nil, fmt.Errorf("cannot complete a %s booking", b.Status)
	}
	b.Status = StatusCompleted
	if err := s.repo.Update(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Cancel frees the slot. Cancelling twice is a no-op; a completed booking
// cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Booking, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == StatusCancelled {
		return b, nil
	}
	if b.Status == StatusCompleted {
		return nil, fmt.Errorf("cannot cancel a completed booking")
	}
	b.Status = StatusCancelled
	if reason != "" {
		b.CancelReason = &reason
	}
	if err := s.repo.Update(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

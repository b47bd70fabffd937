package admission

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no admission exists for the given id.
var ErrNotFound = errors.New("admission not found")

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	Status string
	Ward   string
}

type Repository interface {
	Create(ctx context.Context, adm *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	Update(ctx context.Context, adm *Admission) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Admission, int, error)
}

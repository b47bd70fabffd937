package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ipd/ipd/internal/platform/auth"
	"github.com/ipd/ipd/internal/platform/notification"
)

// Notifier delivers fire-and-forget outcome notices to the acting user.
type Notifier interface {
	NotifyFromTemplate(ctx context.Context, actorID, templateID string, data map[string]string) (*notification.Notice, error)
}

type Service struct {
	repo    Repository
	notices Notifier
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SetNotices attaches an optional notice sink for discharge outcomes.
func (s *Service) SetNotices(n Notifier) {
	s.notices = n
}

var validStatuses = map[string]bool{
	StatusAdmitted:   true,
	StatusDischarged: true,
}

// Admit registers a new in-patient stay.
func (s *Service) Admit(ctx context.Context, adm *Admission) error {
	if adm.PatientNumber == "" {
		return fmt.Errorf("patient_number is required")
	}
	if adm.PatientName == "" {
		return fmt.Errorf("patient_name is required")
	}
	if adm.Ward == "" {
		return fmt.Errorf("ward is required")
	}
	if adm.AdmittingDoctor == "" {
		return fmt.Errorf("admitting_doctor is required")
	}
	if adm.Status == "" {
		adm.Status = StatusAdmitted
	}
	if !validStatuses[adm.Status] {
		return fmt.Errorf("invalid status: %s", adm.Status)
	}
	if adm.AdmittedAt.IsZero() {
		adm.AdmittedAt = time.Now().UTC()
	}
	return s.repo.Create(ctx, adm)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Admission, int, error) {
	if f.Status != "" && !validStatuses[f.Status] {
		return nil, 0, fmt.Errorf("invalid status: %s", f.Status)
	}
	return s.repo.List(ctx, f, limit, offset)
}

// Discharge ends the stay. Discharging an already-discharged admission is
// a no-op returning the stored row unchanged.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID) (*Admission, error) {
	adm, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if adm.Discharged() {
		return adm, nil
	}

	now := time.Now().UTC()
	adm.Status = StatusDischarged
	adm.DischargedAt = &now
	if err := s.repo.Update(ctx, adm); err != nil {
		return nil, err
	}

	if s.notices != nil {
		if actor := auth.ActorFromContext(ctx); actor != auth.ActorUnknown {
			_, _ = s.notices.NotifyFromTemplate(ctx, actor, "admission-discharged", map[string]string{
				"patient_name": adm.PatientName,
				"ward":         adm.Ward,
			})
		}
	}
	return adm, nil
}

// ResolveCrossReference returns the patient number for an admission. The
// journal stamps it into every record it creates; a missing admission
// surfaces as ErrNotFound so the caller can refuse the write.
func (s *Service) ResolveCrossReference(ctx context.Context, admissionID uuid.UUID) (string, error) {
	adm, err := s.repo.GetByID(ctx, admissionID)
	if err != nil {
		return "", err
	}
	return adm.PatientNumber, nil
}

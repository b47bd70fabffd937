package admission

import (
	"time"

	"github.com/google/uuid"

	"github.com/ipd/ipd/internal/platform/docgen"
)

// Admission statuses.
const (
	StatusAdmitted   = "admitted"
	StatusDischarged = "discharged"
)

// Admission maps to the admission table. It is the parent case every
// journal record hangs off: the journal keys its records by admission id
// and stamps the patient number into each record as the cross-reference.
type Admission struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientNumber   string     `db:"patient_number" json:"patient_number"`
	PatientName     string     `db:"patient_name" json:"patient_name"`
	Sex             *string    `db:"sex" json:"sex,omitempty"`
	AgeYears        *int       `db:"age_years" json:"age_years,omitempty"`
	Ward            string     `db:"ward" json:"ward"`
	Bed             *string    `db:"bed" json:"bed,omitempty"`
	AdmittingDoctor string     `db:"admitting_doctor" json:"admitting_doctor"`
	Diagnosis       *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	Status          string     `db:"status" json:"status"`
	AdmittedAt      time.Time  `db:"admitted_at" json:"admitted_at"`
	DischargedAt    *time.Time `db:"discharged_at" json:"discharged_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// Discharged reports whether the stay has ended.
func (a *Admission) Discharged() bool {
	return a.Status == StatusDischarged
}

// LetterData maps the admission onto the printable admission letter.
func (a *Admission) LetterData() *docgen.AdmissionLetterData {
	return &docgen.AdmissionLetterData{
		PatientName:     a.PatientName,
		PatientNumber:   a.PatientNumber,
		Ward:            a.Ward,
		Bed:             strPtrVal(a.Bed),
		AdmittingDoctor: a.AdmittingDoctor,
		Diagnosis:       strPtrVal(a.Diagnosis),
		AdmittedAt:      a.AdmittedAt,
	}
}

// SummaryData maps the admission plus its ward-course entries onto the
// printable discharge summary. DischargedAt is zero while the stay is
// still open; the renderer rejects that.
func (a *Admission) SummaryData(entries []docgen.SummaryEntry) *docgen.DischargeSummaryData {
	data := &docgen.DischargeSummaryData{
		PatientName:     a.PatientName,
		PatientNumber:   a.PatientNumber,
		Ward:            a.Ward,
		AdmittingDoctor: a.AdmittingDoctor,
		AdmittedAt:      a.AdmittedAt,
		Entries:         entries,
	}
	if a.DischargedAt != nil {
		data.DischargedAt = *a.DischargedAt
	}
	return data
}

func strPtrVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package admission

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ipd/ipd/internal/platform/docgen"
)

func TestAdmissionDischarged(t *testing.T) {
	a := &Admission{Status: StatusAdmitted}
	if a.Discharged() {
		t.Error("active admission should not report discharged")
	}
	a.Status = StatusDischarged
	if !a.Discharged() {
		t.Error("expected discharged")
	}
}

func TestLetterData(t *testing.T) {
	bed := "12B"
	diagnosis := "Community-acquired pneumonia"
	admitted := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	a := &Admission{
		ID:              uuid.New(),
		PatientNumber:   "IPD-2026-0042",
		PatientName:     "Asha Verma",
		Ward:            "Medical Ward 2",
		Bed:             &bed,
		AdmittingDoctor: "Dr. Rao",
		Diagnosis:       &diagnosis,
		AdmittedAt:      admitted,
	}

	data := a.LetterData()
	if data.PatientName != "Asha Verma" {
		t.Errorf("expected patient name, got %s", data.PatientName)
	}
	if data.PatientNumber != "IPD-2026-0042" {
		t.Errorf("expected patient number, got %s", data.PatientNumber)
	}
	if data.Bed != "12B" {
		t.Errorf("expected bed 12B, got %q", data.Bed)
	}
	if data.Diagnosis != diagnosis {
		t.Errorf("expected diagnosis, got %q", data.Diagnosis)
	}
	if !data.AdmittedAt.Equal(admitted) {
		t.Errorf("expected admitted at %v, got %v", admitted, data.AdmittedAt)
	}
}

func TestLetterData_NilOptionals(t *testing.T) {
	a := &Admission{PatientName: "Asha Verma", Ward: "Medical Ward 2"}
	data := a.LetterData()
	if data.Bed != "" {
		t.Errorf("expected empty bed, got %q", data.Bed)
	}
	if data.Diagnosis != "" {
		t.Errorf("expected empty diagnosis, got %q", data.Diagnosis)
	}
}

func TestSummaryData(t *testing.T) {
	admitted := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)
	discharged := admitted.Add(72 * time.Hour)
	a := &Admission{
		PatientName:     "Asha Verma",
		PatientNumber:   "IPD-2026-0042",
		Ward:            "Medical Ward 2",
		AdmittingDoctor: "Dr. Rao",
		Status:          StatusDischarged,
		AdmittedAt:      admitted,
		DischargedAt:    &discharged,
	}
	entries := []docgen.SummaryEntry{
		{Category: "progress_note", Author: "nurse-7", CreatedAt: admitted.Add(time.Hour), Text: "Stable overnight."},
	}

	data := a.SummaryData(entries)
	if !data.DischargedAt.Equal(discharged) {
		t.Errorf("expected discharge time %v, got %v", discharged, data.DischargedAt)
	}
	if len(data.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(data.Entries))
	}
	if data.Entries[0].Text != "Stable overnight." {
		t.Errorf("unexpected entry text: %s", data.Entries[0].Text)
	}
}

func TestSummaryData_OpenStay(t *testing.T) {
	a := &Admission{PatientName: "Asha Verma", Status: StatusAdmitted}
	data := a.SummaryData(nil)
	if !data.DischargedAt.IsZero() {
		t.Error("open stay should produce zero discharge time")
	}
}

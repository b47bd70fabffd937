package journal

// Category names one clinical journal tab. The set is fixed at compile
// time; payload shapes inside a category stay opaque to this service.
type Category string

const (
	CategoryClinicNote          Category = "clinic_note"
	CategoryDoctorVisit         Category = "doctor_visit"
	CategoryProgressNote        Category = "progress_note"
	CategoryGlucoseMonitoring   Category = "glucose_monitoring"
	CategoryInvestigationSheet  Category = "investigation_sheet"
	CategoryNurseNote           Category = "nurse_note"
	CategoryDrugChart           Category = "drug_chart"
	CategoryVitalObservation    Category = "vital_observation"
	CategoryAdmissionAssessment Category = "admission_assessment"
)

var categories = map[Category]bool{
	CategoryClinicNote:          true,
	CategoryDoctorVisit:         true,
	CategoryProgressNote:        true,
	CategoryGlucoseMonitoring:   true,
	CategoryInvestigationSheet:  true,
	CategoryNurseNote:           true,
	CategoryDrugChart:           true,
	CategoryVitalObservation:    true,
	CategoryAdmissionAssessment: true,
}

// Valid reports whether c names a known category.
func (c Category) Valid() bool {
	return categories[c]
}

// SupportsEditing reports whether entries in this category may be edited,
// carry a status, and collect signatures. Only the drug chart does; every
// other category is append-and-soft-delete only.
func (c Category) SupportsEditing() bool {
	return c == CategoryDrugChart
}

func (c Category) String() string {
	return string(c)
}

// Categories returns the full fixed set.
func Categories() []Category {
	return []Category{
		CategoryClinicNote,
		CategoryDoctorVisit,
		CategoryProgressNote,
		CategoryGlucoseMonitoring,
		CategoryInvestigationSheet,
		CategoryNurseNote,
		CategoryDrugChart,
		CategoryVitalObservation,
		CategoryAdmissionAssessment,
	}
}

// Package docgen renders printable ward documents (admission letters and
// discharge summaries) as HTML. Rendering is pure: data in, bytes out, no
// storage or network access.
package docgen

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// SummaryEntry is one journal line included in a discharge summary.
type SummaryEntry struct {
	Category  string
	Author    string
	CreatedAt time.Time
	Text      string
}

// AdmissionLetterData holds everything an admission letter needs.
type AdmissionLetterData struct {
	PatientName     string
	PatientNumber   string
	Ward            string
	Bed             string
	AdmittingDoctor string
	Diagnosis       string
	AdmittedAt      time.Time
}

// DischargeSummaryData holds everything a discharge summary needs.
type DischargeSummaryData struct {
	PatientName     string
	PatientNumber   string
	Ward            string
	AdmittingDoctor string
	AdmittedAt      time.Time
	DischargedAt    time.Time
	Entries         []SummaryEntry
}

// Generator renders documents with the hospital's letterhead. It is safe
// for concurrent use because it holds only immutable configuration.
type Generator struct {
	hospitalName    string
	hospitalAddress string
	tmpl            *template.Template
}

// NewGenerator creates a document generator for the given hospital.
func NewGenerator(hospitalName, hospitalAddress string) *Generator {
	funcs := template.FuncMap{
		"date":     func(t time.Time) string { return t.Format("2 January 2006") },
		"datetime": func(t time.Time) string { return t.Format("2 January 2006 15:04") },
	}
	tmpl := template.Must(template.New("docs").Funcs(funcs).Parse(documentTemplates))
	return &Generator{
		hospitalName:    hospitalName,
		hospitalAddress: hospitalAddress,
		tmpl:            tmpl,
	}
}

type letterContext struct {
	HospitalName    string
	HospitalAddress string
	GeneratedAt     time.Time
	Letter          *AdmissionLetterData
	Summary         *DischargeSummaryData
}

// RenderAdmissionLetter produces the admission letter HTML.
func (g *Generator) RenderAdmissionLetter(data *AdmissionLetterData) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("docgen: letter data is nil")
	}
	if data.PatientName == "" {
		return nil, fmt.Errorf("docgen: patient name is required")
	}
	if data.Ward == "" {
		return nil, fmt.Errorf("docgen: ward is required")
	}

	var buf bytes.Buffer
	err := g.tmpl.ExecuteTemplate(&buf, "admission_letter", letterContext{
		HospitalName:    g.hospitalName,
		HospitalAddress: g.hospitalAddress,
		GeneratedAt:     time.Now().UTC(),
		Letter:          data,
	})
	if err != nil {
		return nil, fmt.Errorf("docgen: render admission letter: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderDischargeSummary produces the discharge summary HTML.
func (g *Generator) RenderDischargeSummary(data *DischargeSummaryData) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("docgen: summary data is nil")
	}
	if data.PatientName == "" {
		return nil, fmt.Errorf("docgen: patient name is required")
	}
	if data.DischargedAt.IsZero() {
		return nil, fmt.Errorf("docgen: discharge time is required")
	}

	var buf bytes.Buffer
	err := g.tmpl.ExecuteTemplate(&buf, "discharge_summary", letterContext{
		HospitalName:    g.hospitalName,
		HospitalAddress: g.hospitalAddress,
		GeneratedAt:     time.Now().UTC(),
		Summary:         data,
	})
	if err != nil {
		return nil, fmt.Errorf("docgen: render discharge summary: %w", err)
	}
	return buf.Bytes(), nil
}

const documentTemplates = `
{{define "letterhead"}}
<header class="letterhead">
  <h1>{{.HospitalName}}</h1>
  {{if .HospitalAddress}}<p>{{.HospitalAddress}}</p>{{end}}
</header>
{{end}}

{{define "admission_letter"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Admission Letter</title></head>
<body>
{{template "letterhead" .}}
<main>
  <h2>Admission Letter</h2>
  <table class="patient-details">
    <tr><td>Patient</td><td>{{.Letter.PatientName}}</td></tr>
    <tr><td>Patient number</td><td>{{.Letter.PatientNumber}}</td></tr>
    <tr><td>Ward</td><td>{{.Letter.Ward}}</td></tr>
    {{if .Letter.Bed}}<tr><td>Bed</td><td>{{.Letter.Bed}}</td></tr>{{end}}
    <tr><td>Admitting doctor</td><td>{{.Letter.AdmittingDoctor}}</td></tr>
    <tr><td>Admitted</td><td>{{datetime .Letter.AdmittedAt}}</td></tr>
  </table>
  {{if .Letter.Diagnosis}}
  <section>
    <h3>Provisional diagnosis</h3>
    <p>{{.Letter.Diagnosis}}</p>
  </section>
  {{end}}
</main>
<footer><p>Generated {{datetime .GeneratedAt}}</p></footer>
</body>
</html>
{{end}}

{{define "discharge_summary"}}<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Discharge Summary</title></head>
<body>
{{template "letterhead" .}}
<main>
  <h2>Discharge Summary</h2>
  <table class="patient-details">
    <tr><td>Patient</td><td>{{.Summary.PatientName}}</td></tr>
    <tr><td>Patient number</td><td>{{.Summary.PatientNumber}}</td></tr>
    <tr><td>Ward</td><td>{{.Summary.Ward}}</td></tr>
    <tr><td>Admitting doctor</td><td>{{.Summary.AdmittingDoctor}}</td></tr>
    <tr><td>Admitted</td><td>{{date .Summary.AdmittedAt}}</td></tr>
    <tr><td>Discharged</td><td>{{date .Summary.DischargedAt}}</td></tr>
  </table>
  <section>
    <h3>Ward course</h3>
    {{if .Summary.Entries}}
    <ul class="course">
      {{range .Summary.Entries}}
      <li>
        <span class="when">{{datetime .CreatedAt}}</span>
        <span class="category">{{.Category}}</span>
        <span class="author">{{.Author}}</span>
        <p>{{.Text}}</p>
      </li>
      {{end}}
    </ul>
    {{else}}
    <p>No journal entries recorded.</p>
    {{end}}
  </section>
</main>
<footer><p>Generated {{datetime .GeneratedAt}}</p></footer>
</body>
</html>
{{end}}
`

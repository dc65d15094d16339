package coolfhir

import (
	"strings"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func FormatHumanName(name fhir.HumanName) string {
	if name.Text != nil {
		return *name.Text
	}
	var parts []string
	parts = append(parts, name.Prefix...)
	if name.Family != nil {
		f := *name.Family
		if len(name.Given) > 0 {
			f += ","
		}
		parts = append(parts, f)
	}
	parts = append(parts, name.Given...)
	parts = append(parts, name.Suffix...)
	return strings.Join(parts, " ")
}

// FormatPatientName returns the official name of the patient, or the first name if there's no official one.
func FormatPatientName(patient fhir.Patient) string {
	if len(patient.Name) == 0 {
		return ""
	}
	for _, name := range patient.Name {
		if name.Use != nil && *name.Use == fhir.NameUseOfficial {
			return FormatHumanName(name)
		}
	}
	return FormatHumanName(patient.Name[0])
}

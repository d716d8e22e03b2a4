package export

import (
	"encoding/json"
	"fmt"

	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/inventory"
	"carbon-scribe/ghg-reporting/internal/reports"
)

// JSONDocument is the machine-readable report payload
type JSONDocument struct {
	Metadata          reports.Metadata              `json:"metadata"`
	Sections          []reports.RenderedSection     `json:"sections"`
	ValidationResults []frameworks.ValidationResult `json:"validationResults"`
	Summary           frameworks.Summary            `json:"summary"`
	Completeness      float64                       `json:"completeness"`
	Disclosure        any                           `json:"disclosure,omitempty"`
	Totals            inventory.Totals              `json:"totals"`
	Warnings          []string                      `json:"warnings,omitempty"`
}

// JSONRenderer renders the full report as JSON
type JSONRenderer struct {
	indent bool
}

// NewJSONRenderer creates a JSON renderer
func NewJSONRenderer(indent bool) *JSONRenderer {
	return &JSONRenderer{indent: indent}
}

func (r *JSONRenderer) Format() frameworks.Format { return frameworks.FormatJSON }

func (r *JSONRenderer) ContentType() string { return "application/json" }

func (r *JSONRenderer) Render(report *reports.GeneratedReport, inv *inventory.Inventory) ([]byte, error) {
	doc := JSONDocument{
		Metadata:          report.Metadata,
		Sections:          report.Sections,
		ValidationResults: report.ValidationResults,
		Summary:           report.Summary,
		Completeness:      report.Completeness,
		Disclosure:        report.Disclosure,
		Totals:            inv.Totals,
		Warnings:          report.Warnings,
	}

	var (
		data []byte
		err  error
	)
	if r.indent {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return data, nil
}

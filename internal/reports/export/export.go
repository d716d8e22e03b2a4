// Package export renders generated reports into their output encodings.
package export

import (
	"sort"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/inventory"
	"carbon-scribe/ghg-reporting/internal/reports"
)

// DefaultRenderers returns one renderer per supported format
func DefaultRenderers() []reports.Renderer {
	return []reports.Renderer{
		NewPDFRenderer(DefaultPDFOptions()),
		NewExcelRenderer(DefaultExcelOptions()),
		NewCSVRenderer(DefaultCSVOptions()),
		NewJSONRenderer(true),
		NewXBRLRenderer(),
	}
}

// lineItemColumns are the columns of the flat emissions table shared by the
// tabular renderers
var lineItemColumns = []string{
	"scope", "scope2_method", "category", "activity_amount", "activity_unit",
	"factor_value", "emission_tons", "uncertainty_lower", "uncertainty_upper",
	"data_quality", "methodology", "version", "result_id",
}

// lineItems flattens the inventory into one row per result, ordered by scope
// then category. Scope 2 results appear once per method partition.
func lineItems(inv *inventory.Inventory) [][]interface{} {
	var results []*emissions.EmissionResult
	results = append(results, inv.Scope1...)
	results = append(results, inv.Scope2.LocationBased...)
	for _, r := range inv.Scope2.MarketBased {
		if r.Scope2Method == emissions.Scope2MethodMarketBased {
			results = append(results, r)
		}
	}
	for _, c := range inv.Scope3Categories() {
		results = append(results, inv.Scope3[c]...)
	}

	rows := make([][]interface{}, 0, len(results))
	for _, r := range results {
		var lower, upper interface{}
		if r.Uncertainty != nil {
			lower, upper = r.Uncertainty.Lower, r.Uncertainty.Upper
		}
		rows = append(rows, []interface{}{
			r.Scope.String(), string(r.Scope2Method), r.Category, r.ActivityAmount, r.ActivityUnit,
			r.FactorValue, r.EmissionTons, lower, upper,
			string(r.DataQuality), r.Methodology, r.Version, r.ID.String(),
		})
	}
	return rows
}

// scope3Rows lists all fifteen categories plus the uncategorized bucket, with
// zero rows for categories without results
func scope3Rows(inv *inventory.Inventory) [][]interface{} {
	categories := append(inventory.AllScope3Categories(), inventory.Uncategorized)
	rows := make([][]interface{}, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, []interface{}{int(c), c.Name(), inv.Scope3Total(c), len(inv.Scope3[c])})
	}
	return rows
}

// summaryItem is an ordered key/value pair for summary blocks
type summaryItem struct {
	Label string
	Value interface{}
}

func summaryItems(report *reports.GeneratedReport, inv *inventory.Inventory) []summaryItem {
	m := report.Metadata
	items := []summaryItem{
		{"Organization", m.Organization},
		{"Framework", m.FrameworkName + " " + m.FrameworkVersion},
		{"Reporting Period", m.Period.String()},
		{"Report Version", m.Version},
		{"Completeness", report.Completeness},
		{"Scope 1 (tCO2e)", inv.Totals.Scope1},
		{"Scope 2 location-based (tCO2e)", inv.Totals.Scope2LocationBased},
		{"Scope 2 market-based (tCO2e)", inv.Totals.Scope2MarketBased},
		{"Scope 3 (tCO2e)", inv.Totals.Scope3},
		{"Total (tCO2e)", inv.Totals.GrandTotal},
	}
	if m.Author != "" {
		items = append(items, summaryItem{"Prepared By", m.Author})
	}
	return items
}

// validationRows lists failed rules first, then passed ones, each group in
// declaration order
func validationRows(report *reports.GeneratedReport) [][]interface{} {
	results := append([]frameworks.ValidationResult(nil), report.ValidationResults...)
	sort.SliceStable(results, func(i, j int) bool {
		return !results[i].Passed && results[j].Passed
	})
	rows := make([][]interface{}, 0, len(results))
	for _, v := range results {
		rows = append(rows, []interface{}{v.SectionID, v.Field, string(v.Rule), string(v.Severity), v.Passed, v.Message})
	}
	return rows
}

var validationColumns = []string{"section", "field", "rule", "severity", "passed", "message"}

package frameworks

import (
	"carbon-scribe/ghg-reporting/internal/inventory"
)

// CDP relevance answers for C6.5
const (
	CDPRelevantCalculated = "Relevant, calculated"
	CDPNotEvaluated       = "Not evaluated"
)

// CDPDisclosure covers questionnaire modules C0, C6, C7 and C10
type CDPDisclosure struct {
	C0Organization  string             `json:"c0_organization"`
	C0ReportingYear int                `json:"c0_reporting_year"`
	C6_1Scope1      float64            `json:"c6_1_scope1"`
	C6_3Scope2      Scope2Figures      `json:"c6_3_scope2"`
	C6_5Scope3      []CDPScope3Row     `json:"c6_5_scope3"`
	C7Breakdown     []inventory.Source `json:"c7_breakdown"`
	C7_9Change      *inventory.Change  `json:"c7_9_change,omitempty"`
	C10Verification Assurance          `json:"c10_verification"`
}

// CDPScope3Row is one line of the C6.5 table; every category is listed
type CDPScope3Row struct {
	Category  string  `json:"category"`
	Number    int     `json:"number"`
	Relevance string  `json:"relevance"`
	Tons      float64 `json:"tons"`
}

// MapCDP builds the CDP body
func MapCDP(inv *inventory.Inventory, e Enrichment) *CDPDisclosure {
	d := &CDPDisclosure{
		C0Organization:  inv.Organization.Name,
		C0ReportingYear: inv.Period.Year(),
		C6_1Scope1:      inv.Totals.Scope1,
		C6_3Scope2: Scope2Figures{
			LocationBased: inv.Totals.Scope2LocationBased,
			MarketBased:   inv.Totals.Scope2MarketBased,
		},
		C7Breakdown:     inv.TopSources,
		C10Verification: assuranceOf(inv, e),
	}
	for _, c := range inventory.AllScope3Categories() {
		row := CDPScope3Row{Category: c.Name(), Number: int(c), Relevance: CDPNotEvaluated}
		if len(inv.Scope3[c]) > 0 {
			row.Relevance = CDPRelevantCalculated
			row.Tons = inv.Scope3Total(c)
		}
		d.C6_5Scope3 = append(d.C6_5Scope3, row)
	}
	if inv.YearOverYear != nil {
		total := inv.YearOverYear.Total
		d.C7_9Change = &total
	}
	return d
}

package frameworks

import (
	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/inventory"
)

// SB253Disclosure is the California SB-253 report body
type SB253Disclosure struct {
	ReportingEntity      string                  `json:"reporting_entity"`
	ReportingYear        int                     `json:"reporting_year"`
	Period               emissions.Period        `json:"period"`
	RevenueUSD           *float64                `json:"revenue_usd,omitempty"`
	CaliforniaFacilities []string                `json:"california_facilities,omitempty"`
	Emissions            GHGEmissions            `json:"emissions"`
	Scope1ByCategory     map[string]float64      `json:"scope1_by_category"`
	YearOverYear         *inventory.YearOverYear `json:"year_over_year,omitempty"`
	DataQualityScore     float64                 `json:"data_quality_score"`
	Verification         Assurance               `json:"verification"`
	PublicDisclosureURL  string                  `json:"public_disclosure_url,omitempty"`
	Boundaries           string                  `json:"organizational_boundaries,omitempty"`
}

// MapSB253 builds the SB-253 body
func MapSB253(inv *inventory.Inventory, e Enrichment) *SB253Disclosure {
	d := &SB253Disclosure{
		ReportingEntity:      inv.Organization.Name,
		ReportingYear:        inv.Period.Year(),
		Period:               inv.Period,
		RevenueUSD:           optionalFloat(e, "sb253.revenue_usd"),
		CaliforniaFacilities: stringList(e, "sb253.california_facilities"),
		Emissions:            ghgEmissions(inv),
		Scope1ByCategory:     make(map[string]float64),
		YearOverYear:         inv.YearOverYear,
		DataQualityScore:     inv.DataQuality.WeightedScore,
		Verification:         assuranceOf(inv, e),
		PublicDisclosureURL:  e.String("disclosure.public_url"),
		Boundaries:           e.String("narrative.organizational_boundaries"),
	}
	for _, r := range inv.Scope1 {
		d.Scope1ByCategory[r.Category] += r.EmissionTons
	}
	return d
}

package frameworks

import (
	"carbon-scribe/ghg-reporting/internal/inventory"
)

// CSRDDisclosure carries the ESRS E1 disclosure requirements
type CSRDDisclosure struct {
	Undertaking           string             `json:"undertaking"`
	ReportingYear         int                `json:"reporting_year"`
	MaterialityAssessment string             `json:"materiality_assessment,omitempty"`
	E1_1TransitionPlan    string             `json:"e1_1_transition_plan,omitempty"`
	E1_4Targets           ESRSTargets        `json:"e1_4_targets"`
	E1_5Energy            ESRSEnergy         `json:"e1_5_energy"`
	E1_6GrossEmissions    ESRSGrossEmissions `json:"e1_6_gross_emissions"`
	E1_7CarbonCredits     string             `json:"e1_7_carbon_credits,omitempty"`
	Assurance             Assurance          `json:"assurance"`
}

// ESRSTargets is E1-4
type ESRSTargets struct {
	ReductionPercent *float64 `json:"reduction_percent,omitempty"`
	TargetYear       *float64 `json:"target_year,omitempty"`
	BaseYear         *int     `json:"base_year,omitempty"`
}

// ESRSEnergy is E1-5
type ESRSEnergy struct {
	ConsumptionMWh *float64 `json:"consumption_mwh,omitempty"`
	RenewableShare *float64 `json:"renewable_share,omitempty"`
}

// ESRSGrossEmissions is E1-6. Percentage change is against the prior period
// when one was supplied.
type ESRSGrossEmissions struct {
	GHGEmissions
	PercentChange *float64 `json:"percent_change,omitempty"`
}

// MapCSRD builds the ESRS E1 body
func MapCSRD(inv *inventory.Inventory, e Enrichment) *CSRDDisclosure {
	d := &CSRDDisclosure{
		Undertaking:           inv.Organization.Name,
		ReportingYear:         inv.Period.Year(),
		MaterialityAssessment: e.String("materiality.assessment"),
		E1_1TransitionPlan:    e.String("transition_plan.summary"),
		E1_4Targets: ESRSTargets{
			ReductionPercent: optionalFloat(e, "targets.reduction_percent"),
			TargetYear:       optionalFloat(e, "targets.target_year"),
			BaseYear:         inv.Organization.BaseYear,
		},
		E1_5Energy: ESRSEnergy{
			ConsumptionMWh: optionalFloat(e, "energy.consumption_mwh"),
			RenewableShare: optionalFloat(e, "energy.renewable_share"),
		},
		E1_6GrossEmissions: ESRSGrossEmissions{GHGEmissions: ghgEmissions(inv)},
		E1_7CarbonCredits:  e.String("carbon_credits.summary"),
		Assurance:          assuranceOf(inv, e),
	}
	if inv.YearOverYear != nil {
		pct := inv.YearOverYear.Total.PercentDelta
		d.E1_6GrossEmissions.PercentChange = &pct
	}
	return d
}

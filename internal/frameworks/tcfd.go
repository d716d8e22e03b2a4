package frameworks

import (
	"carbon-scribe/ghg-reporting/internal/inventory"
)

// TCFDDisclosure follows the four TCFD pillars
type TCFDDisclosure struct {
	Governance     string       `json:"governance,omitempty"`
	Strategy       TCFDStrategy `json:"strategy"`
	RiskManagement string       `json:"risk_management,omitempty"`
	Metrics        TCFDMetrics  `json:"metrics_and_targets"`
}

// TCFDStrategy holds strategy narratives
type TCFDStrategy struct {
	RisksAndOpportunities string `json:"risks_and_opportunities,omitempty"`
	ScenarioAnalysis      string `json:"scenario_analysis,omitempty"`
}

// TCFDMetrics holds the emissions metrics and targets
type TCFDMetrics struct {
	Emissions        GHGEmissions `json:"emissions"`
	ReductionTarget  *float64     `json:"reduction_target_percent,omitempty"`
	IntensityPerUSDm *float64     `json:"intensity_per_usd_million,omitempty"`
}

// MapTCFD builds the TCFD body
func MapTCFD(inv *inventory.Inventory, e Enrichment) *TCFDDisclosure {
	d := &TCFDDisclosure{
		Governance: e.String("governance.board_oversight"),
		Strategy: TCFDStrategy{
			RisksAndOpportunities: e.String("strategy.risks_and_opportunities"),
			ScenarioAnalysis:      e.String("strategy.scenario_analysis"),
		},
		RiskManagement: e.String("risk_management.process"),
		Metrics: TCFDMetrics{
			Emissions:       ghgEmissions(inv),
			ReductionTarget: optionalFloat(e, "targets.reduction_percent"),
		},
	}
	if revenue, ok := e.Float("financials.revenue_usd"); ok && revenue > 0 {
		intensity := inv.Totals.GrandTotal / (revenue / 1e6)
		d.Metrics.IntensityPerUSDm = &intensity
	}
	return d
}

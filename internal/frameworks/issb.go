package frameworks

import (
	"sort"
	"strings"

	"carbon-scribe/ghg-reporting/internal/inventory"
)

const sasbMetricPrefix = "sasb.metrics."

// ISSBDisclosure follows IFRS S2 with SASB industry metrics
type ISSBDisclosure struct {
	Governance     string            `json:"governance,omitempty"`
	Strategy       TCFDStrategy      `json:"strategy"`
	RiskManagement string            `json:"risk_management,omitempty"`
	Emissions      GHGEmissions      `json:"emissions"`
	Change         *inventory.Change `json:"change,omitempty"`
	SASB           SASBMetrics       `json:"sasb"`
}

// SASBMetrics are industry-specific metrics supplied by enrichment
type SASBMetrics struct {
	Industry string       `json:"industry,omitempty"`
	Metrics  []SASBMetric `json:"metrics,omitempty"`
}

// SASBMetric is one named industry metric
type SASBMetric struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// MapISSB builds the IFRS S2 body
func MapISSB(inv *inventory.Inventory, e Enrichment) *ISSBDisclosure {
	d := &ISSBDisclosure{
		Governance: e.String("governance.board_oversight"),
		Strategy: TCFDStrategy{
			RisksAndOpportunities: e.String("strategy.risks_and_opportunities"),
			ScenarioAnalysis:      e.String("strategy.scenario_analysis"),
		},
		RiskManagement: e.String("risk_management.process"),
		Emissions:      ghgEmissions(inv),
		SASB:           SASBMetrics{Industry: e.String("sasb.industry")},
	}
	if inv.YearOverYear != nil {
		total := inv.YearOverYear.Total
		d.Change = &total
	}

	for key, value := range e {
		if code, ok := strings.CutPrefix(key, sasbMetricPrefix); ok {
			d.SASB.Metrics = append(d.SASB.Metrics, SASBMetric{Code: code, Value: value})
		}
	}
	sort.Slice(d.SASB.Metrics, func(i, j int) bool { return d.SASB.Metrics[i].Code < d.SASB.Metrics[j].Code })
	return d
}

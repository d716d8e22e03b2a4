package frameworks

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/inventory"
)

func result(scope emissions.Scope, category string, method emissions.Scope2Method, tons float64) *emissions.EmissionResult {
	return &emissions.EmissionResult{
		ID:           uuid.New(),
		Scope:        scope,
		Category:     category,
		Scope2Method: method,
		EmissionTons: tons,
		DataQuality:  emissions.DataQualityMeasured,
		Status:       emissions.ResultStatusDraft,
	}
}

func fullResults() []*emissions.EmissionResult {
	return []*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", "", 2.653),
		result(emissions.Scope2, "purchased_electricity", emissions.Scope2MethodLocationBased, 266.3375),
		result(emissions.Scope2, "purchased_electricity", emissions.Scope2MethodMarketBased, 150),
		result(emissions.Scope3, "purchased_goods_and_services", "", 456),
		result(emissions.Scope3, "business_travel", "", 12),
		result(emissions.Scope3, "employee_commuting", "", 8),
	}
}

func buildInventory(results []*emissions.EmissionResult, level emissions.AssuranceLevel) *inventory.Inventory {
	org := inventory.Organization{ID: uuid.New(), Name: "Acme Semiconductors", AssuranceLevel: level}
	return inventory.NewBuilder(0).Build(org, results, emissions.NewCalendarYear(2024), nil)
}

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	catalog, err := NewCatalog()
	require.NoError(t, err)
	return NewMapper(catalog, zap.NewNop())
}

func sb253Enrichment() Enrichment {
	return Flatten(map[string]any{
		"sb253": map[string]any{
			"revenue_usd":           2.5e9,
			"california_facilities": []string{"San Jose fab"},
		},
		"disclosure": map[string]any{"public_url": "https://example.com/ghg-2024"},
	})
}

func TestCatalog_BuiltinFrameworks(t *testing.T) {
	catalog, err := NewCatalog()
	require.NoError(t, err)

	frameworks := catalog.List()
	require.Len(t, frameworks, 5)

	tests := []struct {
		id        FrameworkID
		supported Format
		rejected  Format
	}{
		{FrameworkSB253, FormatPDF, FormatXBRL},
		{FrameworkCSRD, FormatXBRL, FormatCSV},
		{FrameworkCDP, FormatExcel, FormatPDF},
		{FrameworkTCFD, FormatPDF, FormatExcel},
		{FrameworkISSB, FormatXBRL, FormatCSV},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			f, err := catalog.Get(tt.id)
			require.NoError(t, err)
			assert.True(t, f.SupportsFormat(tt.supported))
			assert.False(t, f.SupportsFormat(tt.rejected))
			assert.Greater(t, f.RuleCount(), 0)
		})
	}

	_, err = catalog.Get("gri")
	assert.ErrorIs(t, err, ErrUnknownFramework)
}

func TestParseFrameworkID(t *testing.T) {
	tests := map[string]FrameworkID{
		"SB-253":   FrameworkSB253,
		"sb_253":   FrameworkSB253,
		"ESRS":     FrameworkCSRD,
		"IFRS S2":  FrameworkISSB,
		" cdp ":    FrameworkCDP,
		"tcfd":     FrameworkTCFD,
		"whatever": "whatever",
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseFrameworkID(input), input)
	}
}

func TestParseFramework_RejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no id", "name: x\nsections:\n  - id: a\n"},
		{"no sections", "id: x\n"},
		{"duplicate section", "id: x\nsections:\n  - id: a\n  - id: a\n"},
		{"min without value", "id: x\nsections:\n  - id: a\n    validation_rules:\n      - field: f\n        rule: min\n"},
		{"custom without predicate", "id: x\nsections:\n  - id: a\n    validation_rules:\n      - field: f\n        rule: custom\n"},
		{"unknown rule", "id: x\nsections:\n  - id: a\n    validation_rules:\n      - field: f\n        rule: regex\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFramework([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidate_MissingScope3FailsDisclosureRule(t *testing.T) {
	m := newTestMapper(t)
	var results []*emissions.EmissionResult
	for _, r := range fullResults() {
		if r.Scope != emissions.Scope3 {
			results = append(results, r)
		}
	}
	inv := buildInventory(results, emissions.AssuranceLimited)

	validation, err := m.Validate(inv, FrameworkSB253, sb253Enrichment())
	require.NoError(t, err)

	var found bool
	for _, v := range validation {
		if v.Predicate == "scope3_disclosed" {
			found = true
			assert.False(t, v.Passed)
			assert.Equal(t, "scope3", v.SectionID)
			assert.Equal(t, SeverityError, v.Severity)
		}
	}
	assert.True(t, found)

	summary := Summarize(validation)
	assert.Less(t, summary.Passed, summary.Total)
}

func TestValidate_EveryRuleIsReported(t *testing.T) {
	m := newTestMapper(t)
	inv := buildInventory(fullResults(), emissions.AssuranceLimited)

	for _, f := range m.Catalog().List() {
		validation, err := m.Validate(inv, f.ID, nil)
		require.NoError(t, err)
		assert.Len(t, validation, f.RuleCount(), f.ID)
	}
}

func TestMap_SB253CompleteInventoryPassesAllRules(t *testing.T) {
	m := newTestMapper(t)
	inv := buildInventory(fullResults(), emissions.AssuranceLimited)

	d, err := m.Map(inv, FrameworkSB253, sb253Enrichment())
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 10, Passed: 10}, d.Summary)
	body, ok := d.Body.(*SB253Disclosure)
	require.True(t, ok)
	assert.Equal(t, "Acme Semiconductors", body.ReportingEntity)
	assert.Equal(t, 2024, body.ReportingYear)
	assert.InDelta(t, inv.Totals.GrandTotal, body.Emissions.Total, 1e-9)
	assert.InDelta(t, 2.653, body.Scope1ByCategory["stationary_combustion"], 1e-9)
	assert.Equal(t, []string{"San Jose fab"}, body.CaliforniaFacilities)
	assert.True(t, body.Verification.Obtained)
	assert.Equal(t, 3, body.Emissions.Scope3CategoriesCovered)
}

func TestMap_SB253WithoutAssuranceOrDualScope2(t *testing.T) {
	m := newTestMapper(t)
	results := []*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", "", 10),
		result(emissions.Scope2, "purchased_electricity", emissions.Scope2MethodLocationBased, 20),
		result(emissions.Scope3, "business_travel", "", 5),
	}
	inv := buildInventory(results, emissions.AssuranceNone)

	d, err := m.Map(inv, FrameworkSB253, sb253Enrichment())
	require.NoError(t, err)

	failed := map[string]bool{}
	for _, v := range d.Validation {
		if !v.Passed {
			failed[v.Predicate] = true
		}
	}
	assert.True(t, failed["scope2_dual_reporting"])
	assert.True(t, failed["assurance_obtained"])
	assert.Equal(t, 2, d.Summary.Errors)
}

func TestMap_SameTotalsAcrossFrameworks(t *testing.T) {
	m := newTestMapper(t)
	inv := buildInventory(fullResults(), emissions.AssuranceReasonable)

	csrd, err := m.Map(inv, FrameworkCSRD, nil)
	require.NoError(t, err)
	cdp, err := m.Map(inv, FrameworkCDP, nil)
	require.NoError(t, err)
	tcfd, err := m.Map(inv, FrameworkTCFD, Enrichment{"financials.revenue_usd": 2e9})
	require.NoError(t, err)

	e16 := csrd.Body.(*CSRDDisclosure).E1_6GrossEmissions
	assert.InDelta(t, inv.Totals.GrandTotal, e16.Total, 1e-9)
	assert.Nil(t, e16.PercentChange)

	cdpBody := cdp.Body.(*CDPDisclosure)
	assert.InDelta(t, inv.Totals.Scope1, cdpBody.C6_1Scope1, 1e-9)
	assert.InDelta(t, 150, cdpBody.C6_3Scope2.MarketBased, 1e-9)
	require.Len(t, cdpBody.C6_5Scope3, 15)
	assert.Equal(t, CDPRelevantCalculated, cdpBody.C6_5Scope3[0].Relevance)
	assert.InDelta(t, 456, cdpBody.C6_5Scope3[0].Tons, 1e-9)
	assert.Equal(t, CDPNotEvaluated, cdpBody.C6_5Scope3[1].Relevance)

	tcfdBody := tcfd.Body.(*TCFDDisclosure)
	require.NotNil(t, tcfdBody.Metrics.IntensityPerUSDm)
	assert.InDelta(t, inv.Totals.GrandTotal/2000, *tcfdBody.Metrics.IntensityPerUSDm, 1e-9)
}

func TestMap_ISSBCollectsSASBMetrics(t *testing.T) {
	m := newTestMapper(t)
	inv := buildInventory(fullResults(), emissions.AssuranceLimited)

	d, err := m.Map(inv, FrameworkISSB, Flatten(map[string]any{
		"sasb": map[string]any{
			"industry": "Semiconductors",
			"metrics": map[string]any{
				"TC-SC-130a.1": 1200.5,
				"TC-SC-110a.1": 3.2,
			},
		},
		"governance": map[string]any{"board_oversight": "Quarterly review by the audit committee"},
	}))
	require.NoError(t, err)

	body := d.Body.(*ISSBDisclosure)
	assert.Equal(t, "Semiconductors", body.SASB.Industry)
	require.Len(t, body.SASB.Metrics, 2)
	assert.Equal(t, "TC-SC-110a.1", body.SASB.Metrics[0].Code)
	assert.Equal(t, "Quarterly review by the audit committee", body.Governance)
}

func TestMap_UnknownFramework(t *testing.T) {
	m := newTestMapper(t)
	_, err := m.Map(buildInventory(nil, ""), "gri", nil)
	assert.ErrorIs(t, err, ErrUnknownFramework)
}

func TestEvaluate_RuleKinds(t *testing.T) {
	five, hundred := 5.0, 100.0
	f := &Framework{
		ID: "test",
		Sections: []Section{{
			ID: "a",
			ValidationRules: []ValidationRule{
				{Field: "name", Rule: RuleRequired, Message: "name missing"},
				{Field: "blank", Rule: RuleRequired, Message: "blank missing"},
				{Field: "count", Rule: RuleMin, Value: &five, Message: "too few"},
				{Field: "share", Rule: RuleMax, Value: &hundred, Message: "too much"},
				{Field: "missing", Rule: RuleMin, Value: &five, Message: "absent"},
				{Field: "x", Rule: RuleCustom, Predicate: "no_such_predicate", Message: "unknown"},
			},
		}},
	}
	facts := Facts{"name": "Acme", "blank": "  ", "count": 7, "share": 120.0}

	results := Evaluate(f, facts)
	require.Len(t, results, 6)
	assert.True(t, results[0].Passed)
	assert.Equal(t, "ok", results[0].Message)
	assert.False(t, results[1].Passed)
	assert.True(t, results[2].Passed)
	assert.False(t, results[3].Passed)
	assert.Equal(t, "too much", results[3].Message)
	assert.False(t, results[4].Passed)
	assert.False(t, results[5].Passed)
	assert.Contains(t, results[5].Message, "unknown predicate")
	assert.Equal(t, SeverityError, results[5].Severity)
}

func TestRegisterPredicate(t *testing.T) {
	RegisterPredicate("has_targets", func(facts Facts, _ *float64) bool {
		return facts.present("targets.reduction_percent")
	})
	f := &Framework{ID: "t", Sections: []Section{{ID: "s", ValidationRules: []ValidationRule{
		{Field: "targets", Rule: RuleCustom, Predicate: "has_targets", Severity: SeverityWarning},
	}}}}

	assert.False(t, Evaluate(f, Facts{})[0].Passed)
	assert.True(t, Evaluate(f, Facts{"targets.reduction_percent": 42.0})[0].Passed)
}

func TestBuildFacts_ScopeTotalsOnlyWhenPresent(t *testing.T) {
	inv := buildInventory([]*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", "", 3),
	}, emissions.AssuranceNone)

	facts := BuildFacts(inv, Enrichment{"narrative.general": "text"})

	assert.Equal(t, 3.0, facts["emissions.scope1.total"])
	assert.NotContains(t, facts, "emissions.scope3.total")
	assert.NotContains(t, facts, "emissions.scope2.market_based")
	assert.NotContains(t, facts, "assurance.level")
	assert.Equal(t, "text", facts["narrative.general"])
	assert.Equal(t, 2024, facts["reporting_period.year"])
	assert.IsNonDecreasing(t, facts.Keys())
}

func TestBuildFacts_EnrichmentCannotOverrideInventory(t *testing.T) {
	inv := buildInventory([]*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", "", 3),
	}, emissions.AssuranceNone)

	facts := BuildFacts(inv, Enrichment{
		"emissions.scope3.total":     999.0,
		"emissions.scope1.total":     1.0,
		"data_quality.score":         1.0,
		"yoy.total_percent":          -12.0,
		"assurance.level":            "reasonable",
		"organization.name":          "Someone Else",
		"assurance.provider":         "Verifier LLP",
		"governance.board_oversight": "quarterly review",
	})

	assert.NotContains(t, facts, "emissions.scope3.total")
	assert.NotContains(t, facts, "yoy.total_percent")
	assert.NotContains(t, facts, "assurance.level")
	assert.Equal(t, 3.0, facts["emissions.scope1.total"])
	assert.Equal(t, "Acme Semiconductors", facts["organization.name"])
	assert.Equal(t, "Verifier LLP", facts["assurance.provider"])
	assert.Equal(t, "quarterly review", facts["governance.board_oversight"])
}

func TestValidate_EnrichedScope3TotalDoesNotSatisfyDisclosure(t *testing.T) {
	m := newTestMapper(t)
	inv := buildInventory([]*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", "", 3),
	}, emissions.AssuranceLimited)

	enrichment := sb253Enrichment()
	enrichment["emissions.scope3.total"] = 999.0

	validation, err := m.Validate(inv, FrameworkSB253, enrichment)
	require.NoError(t, err)

	var found bool
	for _, v := range validation {
		if v.Predicate == "scope3_disclosed" {
			found = true
			assert.False(t, v.Passed)
		}
	}
	assert.True(t, found)
}

func TestBuildFacts_UncategorizedScope3IsNotScreened(t *testing.T) {
	tests := []struct {
		name     string
		results  []*emissions.EmissionResult
		screened int
	}{
		{
			name: "uncategorized only",
			results: []*emissions.EmissionResult{
				result(emissions.Scope3, "widget_rental", "", 5),
			},
			screened: 0,
		},
		{
			name: "uncategorized plus two categories",
			results: []*emissions.EmissionResult{
				result(emissions.Scope3, "widget_rental", "", 5),
				result(emissions.Scope3, "business_travel", "", 2),
				result(emissions.Scope3, "employee_commuting", "", 1),
			},
			screened: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts := BuildFacts(buildInventory(tt.results, emissions.AssuranceNone), nil)
			assert.Equal(t, tt.screened, facts["emissions.scope3.category_count"])
			assert.Contains(t, facts, "emissions.scope3.total")
		})
	}
}

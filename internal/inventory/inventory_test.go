package inventory

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/ghg-reporting/internal/emissions"
)

func result(scope emissions.Scope, category string, tons float64) *emissions.EmissionResult {
	return &emissions.EmissionResult{
		ID:           uuid.New(),
		Scope:        scope,
		Category:     category,
		EmissionTons: tons,
		DataQuality:  emissions.DataQualityMeasured,
		Status:       emissions.ResultStatusDraft,
	}
}

func scope2(method emissions.Scope2Method, tons float64) *emissions.EmissionResult {
	r := result(emissions.Scope2, "purchased_electricity", tons)
	r.Scope2Method = method
	return r
}

var org = Organization{ID: uuid.New(), Name: "Acme", AssuranceLevel: emissions.AssuranceLimited}

func TestBuild_PartitionsAndTotals(t *testing.T) {
	archived := result(emissions.Scope1, "stationary_combustion", 1000)
	archived.Status = emissions.ResultStatusArchived

	results := []*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", 2.653),
		result(emissions.Scope1, "mobile_combustion", 10),
		archived,
		scope2(emissions.Scope2MethodLocationBased, 266.3375),
		scope2(emissions.Scope2MethodMarketBased, 120),
		result(emissions.Scope3, "purchased_goods_and_services", 456),
		result(emissions.Scope3, "Business travel", 12.5),
		result(emissions.Scope3, "category_7", 3),
		result(emissions.Scope3, "office snacks", 0.5),
	}

	inv := NewBuilder(5).Build(org, results, emissions.NewCalendarYear(2024), nil)

	assert.Len(t, inv.Scope1, 2)
	assert.InDelta(t, 12.653, inv.Totals.Scope1, 1e-9)
	assert.InDelta(t, 266.3375, inv.Totals.Scope2LocationBased, 1e-9)
	assert.InDelta(t, 120, inv.Totals.Scope2MarketBased, 1e-9)
	assert.InDelta(t, 472, inv.Totals.Scope3, 1e-9)

	assert.Len(t, inv.Scope3[PurchasedGoodsAndServices], 1)
	assert.Len(t, inv.Scope3[BusinessTravel], 1)
	assert.Len(t, inv.Scope3[EmployeeCommuting], 1)
	assert.Len(t, inv.Scope3[Uncategorized], 1)
	assert.InDelta(t, 0.5, inv.Scope3Total(Uncategorized), 1e-9)
	assert.NotEmpty(t, inv.Warnings)

	assert.InDelta(t, inv.Totals.Scope1+inv.Totals.Scope2MarketBased+inv.Totals.Scope3, inv.Totals.GrandTotal, 1e-9)
	assert.InDelta(t, 604.653, inv.Totals.GrandTotal, 1e-9)
	assert.Equal(t, 8, inv.ResultCount)
	assert.Equal(t, emissions.AssuranceLimited, inv.AssuranceLevel)
	assert.Nil(t, inv.YearOverYear)
}

func TestBuild_Additivity(t *testing.T) {
	var results []*emissions.EmissionResult
	for i := 1; i <= 15; i++ {
		results = append(results, result(emissions.Scope3, AllScope3Categories()[i-1].Slug(), float64(i)))
		results = append(results, result(emissions.Scope1, "stationary_combustion", float64(i)/10))
	}

	inv := NewBuilder(0).Build(org, results, emissions.NewCalendarYear(2024), nil)

	var scope1, scope3 float64
	for _, r := range results {
		switch r.Scope {
		case emissions.Scope1:
			scope1 += r.EmissionTons
		case emissions.Scope3:
			scope3 += r.EmissionTons
		}
	}
	assert.InDelta(t, scope1, inv.Totals.Scope1, 1e-9)
	assert.InDelta(t, scope3, inv.Totals.Scope3, 1e-9)

	var byCategory float64
	for _, tons := range inv.Totals.Scope3ByCategory {
		byCategory += tons
	}
	assert.InDelta(t, inv.Totals.Scope3, byCategory, 1e-9)
	assert.Len(t, inv.Scope3Categories(), 15)
	assert.Len(t, inv.TopSources, 10)
}

func TestBuild_UntaggedScope2CountsUnderBothMethods(t *testing.T) {
	results := []*emissions.EmissionResult{
		scope2(emissions.Scope2MethodUnspecified, 50),
		scope2(emissions.Scope2MethodMarketBased, 20),
	}

	inv := NewBuilder(0).Build(org, results, emissions.NewCalendarYear(2024), nil)

	assert.InDelta(t, 50, inv.Totals.Scope2LocationBased, 1e-9)
	assert.InDelta(t, 70, inv.Totals.Scope2MarketBased, 1e-9)
	assert.Len(t, inv.Scope2.LocationBased, 1)
	assert.Len(t, inv.Scope2.MarketBased, 2)
	assert.InDelta(t, 70, inv.Totals.GrandTotal, 1e-9)
	assert.Contains(t, inv.Warnings[0], "no accounting method")
}

func TestBuild_YearOverYear(t *testing.T) {
	current := []*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", 120),
		result(emissions.Scope3, "business_travel", 30),
	}
	previous := []*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", 100),
	}

	inv := NewBuilder(0).Build(org, current, emissions.NewCalendarYear(2024), previous)

	require.NotNil(t, inv.YearOverYear)
	assert.Equal(t, 2023, inv.YearOverYear.PreviousPeriod.Year())
	assert.InDelta(t, 20, inv.YearOverYear.Scope1.AbsoluteDelta, 1e-9)
	assert.InDelta(t, 20, inv.YearOverYear.Scope1.PercentDelta, 1e-9)
	assert.InDelta(t, 30, inv.YearOverYear.Scope3.AbsoluteDelta, 1e-9)
	assert.Equal(t, 0.0, inv.YearOverYear.Scope3.PercentDelta)
	assert.InDelta(t, 50, inv.YearOverYear.Total.PercentDelta, 1e-9)
}

func TestBuild_EmptyPreviousPeriod(t *testing.T) {
	inv := NewBuilder(0).Build(org, []*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", 5),
	}, emissions.NewCalendarYear(2024), []*emissions.EmissionResult{})

	require.NotNil(t, inv.YearOverYear)
	assert.Equal(t, 0.0, inv.YearOverYear.Total.PercentDelta)
	assert.Equal(t, 5.0, inv.YearOverYear.Total.AbsoluteDelta)
}

func TestBuild_TopSourcesAndDataQuality(t *testing.T) {
	estimated := result(emissions.Scope3, "purchased_goods_and_services", 75)
	estimated.DataQuality = emissions.DataQualityEstimated

	inv := NewBuilder(2).Build(org, []*emissions.EmissionResult{
		result(emissions.Scope1, "stationary_combustion", 20),
		result(emissions.Scope1, "stationary_combustion", 5),
		estimated,
		result(emissions.Scope1, "mobile_combustion", 1),
	}, emissions.NewCalendarYear(2024), nil)

	require.Len(t, inv.TopSources, 2)
	assert.Equal(t, "purchased_goods_and_services", inv.TopSources[0].Category)
	assert.InDelta(t, 75.0/101*100, inv.TopSources[0].Percentage, 1e-9)
	assert.Equal(t, "stationary_combustion", inv.TopSources[1].Category)
	assert.InDelta(t, 25, inv.TopSources[1].Tons, 1e-9)

	assert.InDelta(t, 75.0/101*100, inv.DataQuality.ShareByTier[emissions.DataQualityEstimated], 1e-9)
	assert.InDelta(t, (26*1.0+75*0.4)/101, inv.DataQuality.WeightedScore, 1e-9)
}

func TestClassifyScope3(t *testing.T) {
	tests := []struct {
		input string
		want  Scope3Category
	}{
		{"purchased_goods_and_services", PurchasedGoodsAndServices},
		{"Purchased goods and services", PurchasedGoodsAndServices},
		{"Fuel- and energy-related activities", FuelAndEnergyRelated},
		{"category_15", Investments},
		{"cat_4", UpstreamTransportation},
		{"6", BusinessTravel},
		{"End-of-life treatment of sold products", EndOfLifeTreatment},
		{"category_16", Uncategorized},
		{"travel", Uncategorized},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyScope3(tt.input))
		})
	}
}

func TestInventory_JSONUsesCategorySlugs(t *testing.T) {
	inv := NewBuilder(0).Build(org, []*emissions.EmissionResult{
		result(emissions.Scope3, "business_travel", 4),
	}, emissions.NewCalendarYear(2024), nil)

	data, err := json.Marshal(inv)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"business_travel":4`)

	var decoded Inventory
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 4.0, decoded.Totals.Scope3ByCategory[BusinessTravel])
}

func TestBuild_TopSourcesFallBackToLocationBasedScope2(t *testing.T) {
	tests := []struct {
		name       string
		results    []*emissions.EmissionResult
		scope2Tons float64
		share      float64
	}{
		{
			name: "location-based only",
			results: []*emissions.EmissionResult{
				result(emissions.Scope1, "stationary_combustion", 2.653),
				scope2(emissions.Scope2MethodLocationBased, 266.3375),
			},
			scope2Tons: 266.3375,
			share:      266.3375 / (266.3375 + 2.653) * 100,
		},
		{
			name: "market-based wins when present",
			results: []*emissions.EmissionResult{
				result(emissions.Scope1, "stationary_combustion", 30),
				scope2(emissions.Scope2MethodLocationBased, 266.3375),
				scope2(emissions.Scope2MethodMarketBased, 120),
			},
			scope2Tons: 120,
			share:      120.0 / 150 * 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := NewBuilder(0).Build(org, tt.results, emissions.NewCalendarYear(2024), nil)

			require.Len(t, inv.TopSources, 2)
			top := inv.TopSources[0]
			assert.Equal(t, emissions.Scope2, top.Scope)
			assert.Equal(t, "purchased_electricity", top.Category)
			assert.InDelta(t, tt.scope2Tons, top.Tons, 1e-9)
			assert.InDelta(t, tt.share, top.Percentage, 1e-9)

			var shares float64
			for _, s := range inv.TopSources {
				shares += s.Percentage
			}
			assert.InDelta(t, 100, shares, 1e-9)
		})
	}
}

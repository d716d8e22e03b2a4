package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"carbon-scribe/ghg-reporting/internal/emissions"
)

// Organization identifies the reporting entity on an inventory
type Organization struct {
	ID             uuid.UUID                `json:"id"`
	Name           string                   `json:"name"`
	AssuranceLevel emissions.AssuranceLevel `json:"assurance_level"`
	AssuranceBody  string                   `json:"assurance_body,omitempty"`
	BaseYear       *int                     `json:"base_year,omitempty"`
}

// FromOrganization builds the inventory header from a stored organization
func FromOrganization(org *emissions.Organization) Organization {
	out := Organization{
		ID:             org.ID,
		Name:           org.Name,
		AssuranceLevel: org.AssuranceLevel,
		BaseYear:       org.BaseYear,
	}
	if org.AssuranceBody != nil {
		out.AssuranceBody = *org.AssuranceBody
	}
	if out.AssuranceLevel == "" {
		out.AssuranceLevel = emissions.AssuranceNone
	}
	return out
}

// Scope2Results holds the dual-reported scope 2 partitions
type Scope2Results struct {
	LocationBased []*emissions.EmissionResult `json:"location_based"`
	MarketBased   []*emissions.EmissionResult `json:"market_based"`
}

// Totals are the tonnes CO2e per scope. GrandTotal uses the market-based
// scope 2 figure.
type Totals struct {
	Scope1                  float64                    `json:"scope1"`
	Scope2LocationBased     float64                    `json:"scope2_location_based"`
	Scope2MarketBased       float64                    `json:"scope2_market_based"`
	Scope3                  float64                    `json:"scope3"`
	Scope3ByCategory        map[Scope3Category]float64 `json:"scope3_by_category"`
	GrandTotal              float64                    `json:"grand_total"`
	GrandTotalLocationBased float64                    `json:"grand_total_location_based"`
}

// Change is one line of the year-over-year comparison
type Change struct {
	Previous      float64 `json:"previous"`
	Current       float64 `json:"current"`
	AbsoluteDelta float64 `json:"absolute_delta"`
	PercentDelta  float64 `json:"percent_delta"`
}

// YearOverYear compares this inventory with the prior period
type YearOverYear struct {
	PreviousPeriod      emissions.Period `json:"previous_period"`
	Scope1              Change           `json:"scope1"`
	Scope2LocationBased Change           `json:"scope2_location_based"`
	Scope2MarketBased   Change           `json:"scope2_market_based"`
	Scope3              Change           `json:"scope3"`
	Total               Change           `json:"total"`
}

// Source is one entry in the top emission sources ranking
type Source struct {
	Scope      emissions.Scope `json:"scope"`
	Category   string          `json:"category"`
	Tons       float64         `json:"tons"`
	Percentage float64         `json:"percentage"`
}

// DataQualitySummary breaks emissions down by data-quality tier
type DataQualitySummary struct {
	TonsByTier  map[emissions.DataQualityTier]float64 `json:"tons_by_tier"`
	ShareByTier map[emissions.DataQualityTier]float64 `json:"share_by_tier"`
	// WeightedScore is in [0, 1]; 1 means every tonne is measured data
	WeightedScore float64 `json:"weighted_score"`
}

// Inventory is a GHG Protocol inventory for one organization and period.
// It is a materialised view: always rebuilt from results, never patched.
type Inventory struct {
	Organization   Organization                                   `json:"organization"`
	Period         emissions.Period                               `json:"period"`
	Scope1         []*emissions.EmissionResult                    `json:"scope1"`
	Scope2         Scope2Results                                  `json:"scope2"`
	Scope3         map[Scope3Category][]*emissions.EmissionResult `json:"scope3"`
	Totals         Totals                                         `json:"totals"`
	YearOverYear   *YearOverYear                                  `json:"year_over_year,omitempty"`
	AssuranceLevel emissions.AssuranceLevel                       `json:"assurance_level"`
	TopSources     []Source                                       `json:"top_sources"`
	DataQuality    DataQualitySummary                             `json:"data_quality"`
	ResultCount    int                                            `json:"result_count"`
	Warnings       []string                                       `json:"warnings,omitempty"`
	BuiltAt        time.Time                                      `json:"built_at"`
}

// Scope3Total returns the tonnes recorded for a category
func (inv *Inventory) Scope3Total(c Scope3Category) float64 {
	return inv.Totals.Scope3ByCategory[c]
}

// Scope3Categories lists categories with at least one result, in order
func (inv *Inventory) Scope3Categories() []Scope3Category {
	out := make([]Scope3Category, 0, len(inv.Scope3))
	for c, results := range inv.Scope3 {
		if len(results) > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasScope reports whether any result was recorded for the scope
func (inv *Inventory) HasScope(scope emissions.Scope) bool {
	switch scope {
	case emissions.Scope1:
		return len(inv.Scope1) > 0
	case emissions.Scope2:
		return len(inv.Scope2.LocationBased) > 0 || len(inv.Scope2.MarketBased) > 0
	case emissions.Scope3:
		return len(inv.Scope3Categories()) > 0
	}
	return false
}

// Builder aggregates emission results into inventories
type Builder struct {
	now        func() time.Time
	topSources int
}

// NewBuilder creates a builder that ranks the given number of top sources
func NewBuilder(topSources int) *Builder {
	if topSources <= 0 {
		topSources = 10
	}
	return &Builder{now: time.Now, topSources: topSources}
}

// Build aggregates results into an inventory. previous, when non-nil, is the
// result set of the prior period and produces the year-over-year block.
// Archived results are skipped.
func (b *Builder) Build(org Organization, results []*emissions.EmissionResult, period emissions.Period, previous []*emissions.EmissionResult) *Inventory {
	inv := &Inventory{
		Organization:   org,
		Period:         period,
		Scope3:         make(map[Scope3Category][]*emissions.EmissionResult),
		AssuranceLevel: org.AssuranceLevel,
		BuiltAt:        b.now(),
	}
	inv.Totals.Scope3ByCategory = make(map[Scope3Category]float64)

	untagged := 0
	for _, r := range results {
		if r == nil || r.IsArchived() {
			continue
		}
		inv.ResultCount++

		switch r.Scope {
		case emissions.Scope1:
			inv.Scope1 = append(inv.Scope1, r)
			inv.Totals.Scope1 += r.EmissionTons
		case emissions.Scope2:
			switch r.Scope2Method {
			case emissions.Scope2MethodLocationBased:
				inv.Scope2.LocationBased = append(inv.Scope2.LocationBased, r)
				inv.Totals.Scope2LocationBased += r.EmissionTons
			case emissions.Scope2MethodMarketBased:
				inv.Scope2.MarketBased = append(inv.Scope2.MarketBased, r)
				inv.Totals.Scope2MarketBased += r.EmissionTons
			default:
				// without contractual instruments the market figure equals the location figure
				untagged++
				inv.Scope2.LocationBased = append(inv.Scope2.LocationBased, r)
				inv.Scope2.MarketBased = append(inv.Scope2.MarketBased, r)
				inv.Totals.Scope2LocationBased += r.EmissionTons
				inv.Totals.Scope2MarketBased += r.EmissionTons
			}
		case emissions.Scope3:
			c := ClassifyScope3(r.Category)
			inv.Scope3[c] = append(inv.Scope3[c], r)
			inv.Totals.Scope3ByCategory[c] += r.EmissionTons
			inv.Totals.Scope3 += r.EmissionTons
			if c == Uncategorized {
				inv.Warnings = append(inv.Warnings,
					fmt.Sprintf("scope 3 category %q is not a GHG Protocol category; reported as uncategorized", r.Category))
			}
		default:
			inv.Warnings = append(inv.Warnings, fmt.Sprintf("result %s has invalid scope %d", r.ID, int(r.Scope)))
			inv.ResultCount--
		}
	}
	if untagged > 0 {
		inv.Warnings = append(inv.Warnings,
			fmt.Sprintf("%d scope 2 results have no accounting method and are reported under both methods", untagged))
	}

	inv.Totals.GrandTotal = inv.Totals.Scope1 + inv.Totals.Scope2MarketBased + inv.Totals.Scope3
	inv.Totals.GrandTotalLocationBased = inv.Totals.Scope1 + inv.Totals.Scope2LocationBased + inv.Totals.Scope3

	inv.TopSources = b.topSourcesOf(inv)
	inv.DataQuality = dataQualityOf(inv)

	if previous != nil {
		prior := b.Build(org, previous, period.PreviousYear(), nil)
		inv.YearOverYear = &YearOverYear{
			PreviousPeriod:      prior.Period,
			Scope1:              change(prior.Totals.Scope1, inv.Totals.Scope1),
			Scope2LocationBased: change(prior.Totals.Scope2LocationBased, inv.Totals.Scope2LocationBased),
			Scope2MarketBased:   change(prior.Totals.Scope2MarketBased, inv.Totals.Scope2MarketBased),
			Scope3:              change(prior.Totals.Scope3, inv.Totals.Scope3),
			Total:               change(prior.Totals.GrandTotal, inv.Totals.GrandTotal),
		}
	}

	return inv
}

func change(previous, current float64) Change {
	c := Change{
		Previous:      previous,
		Current:       current,
		AbsoluteDelta: current - previous,
	}
	if previous != 0 {
		c.PercentDelta = (current - previous) / previous * 100
	}
	return c
}

// topSourcesOf ranks (scope, category) pairs by tonnes. Scope 2 uses the
// market-based figure of a category, or its location-based figure when the
// category has no market-based result. Shares are of the grand total plus
// those location-based fallbacks.
func (b *Builder) topSourcesOf(inv *Inventory) []Source {
	type key struct {
		scope    emissions.Scope
		category string
	}
	sums := make(map[key]float64)
	add := func(results []*emissions.EmissionResult) {
		for _, r := range results {
			sums[key{r.Scope, r.Category}] += r.EmissionTons
		}
	}
	add(inv.Scope1)
	add(inv.Scope2.MarketBased)
	for _, results := range inv.Scope3 {
		add(results)
	}

	base := inv.Totals.GrandTotal
	marketCategories := make(map[string]bool, len(inv.Scope2.MarketBased))
	for _, r := range inv.Scope2.MarketBased {
		marketCategories[r.Category] = true
	}
	for _, r := range inv.Scope2.LocationBased {
		if !marketCategories[r.Category] {
			sums[key{r.Scope, r.Category}] += r.EmissionTons
			base += r.EmissionTons
		}
	}

	sources := make([]Source, 0, len(sums))
	for k, tons := range sums {
		s := Source{Scope: k.scope, Category: k.category, Tons: tons}
		if base > 0 {
			s.Percentage = tons / base * 100
		}
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Tons != sources[j].Tons {
			return sources[i].Tons > sources[j].Tons
		}
		if sources[i].Scope != sources[j].Scope {
			return sources[i].Scope < sources[j].Scope
		}
		return sources[i].Category < sources[j].Category
	})
	if len(sources) > b.topSources {
		sources = sources[:b.topSources]
	}
	return sources
}

func dataQualityOf(inv *Inventory) DataQualitySummary {
	summary := DataQualitySummary{
		TonsByTier:  make(map[emissions.DataQualityTier]float64),
		ShareByTier: make(map[emissions.DataQualityTier]float64),
	}
	var total, weighted float64
	add := func(results []*emissions.EmissionResult) {
		for _, r := range results {
			summary.TonsByTier[r.DataQuality] += r.EmissionTons
			total += r.EmissionTons
			weighted += r.EmissionTons * r.DataQuality.Score()
		}
	}
	add(inv.Scope1)
	add(inv.Scope2.MarketBased)
	for _, results := range inv.Scope3 {
		add(results)
	}

	if total > 0 {
		for tier, tons := range summary.TonsByTier {
			summary.ShareByTier[tier] = tons / total * 100
		}
		summary.WeightedScore = weighted / total
	}
	return summary
}

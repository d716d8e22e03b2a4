package reports

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/inventory"
)

const unitTons = "tCO2e"

func builtinContent() map[string]ContentFunc {
	return map[string]ContentFunc{
		"compliance_statement": complianceStatement,
		"document_control":     documentControl,
		"executive_summary":    executiveSummary,
		"emissions_summary":    emissionsSummary,
		"scope1_detail":        scope1Detail,
		"scope2_detail":        scope2Detail,
		"scope3_detail":        scope3Detail,
		"methodology":          methodology,
		"data_quality":         dataQuality,
		"assurance":            assurance,
		"top_sources":          topSources,
		"targets":              targets,
		"sasb_metrics":         sasbMetrics,
	}
}

func tons(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

func share(part, total float64) string {
	if total == 0 {
		return percent(0)
	}
	return percent(part / total * 100)
}

// =====================================================
// Front matter
// =====================================================

func complianceStatement(in SectionInput) *Content {
	inv := in.Inventory
	c := &Content{}
	switch in.Framework.ID {
	case frameworks.FrameworkSB253:
		c.Paragraphs = append(c.Paragraphs,
			"This report has been prepared in accordance with California Senate Bill 253, the Climate Corporate Data Accountability Act, "+
				"which requires entities with total annual revenues exceeding $1 billion that do business in California to publicly disclose their greenhouse gas emissions.",
			"Legal authority: California Health and Safety Code Sections 38530-38533.")
	default:
		c.Paragraphs = append(c.Paragraphs,
			fmt.Sprintf("This report has been prepared in accordance with %s (%s).", in.Framework.Name, in.Framework.Version))
	}

	rows := [][]string{
		{"Reporting entity", inv.Organization.Name},
		{"Reporting year", strconv.Itoa(inv.Period.Year())},
		{"Third-party verification", string(inv.AssuranceLevel)},
	}
	if revenue, ok := in.Enrichment.Float("sb253.revenue_usd"); ok {
		rows = append(rows, []string{"Total annual revenue", fmt.Sprintf("$%.1f billion", revenue/1e9)})
	}
	c.Tables = append(c.Tables, Table{Columns: []string{"Item", "Value"}, Rows: rows})
	return c
}

func documentControl(in SectionInput) *Content {
	inv := in.Inventory
	rows := [][]string{
		{"Reporting entity", inv.Organization.Name},
		{"Reporting period", inv.Period.String()},
		{"Framework", fmt.Sprintf("%s (%s)", in.Framework.Name, in.Framework.Version)},
		{"Inventory built", inv.BuiltAt.UTC().Format(time.RFC3339)},
		{"Emission results", strconv.Itoa(inv.ResultCount)},
	}
	if in.Options.Author != "" {
		rows = append(rows, []string{"Prepared by", in.Options.Author})
	}
	return &Content{Tables: []Table{{Title: "Document Control", Columns: []string{"Field", "Value"}, Rows: rows}}}
}

func executiveSummary(in SectionInput) *Content {
	inv := in.Inventory
	c := &Content{
		Paragraphs: []string{fmt.Sprintf(
			"%s reports total greenhouse gas emissions of %s %s for %s (scope 1, scope 2 market-based and scope 3).",
			inv.Organization.Name, tons(inv.Totals.GrandTotal), unitTons, inv.Period.String())},
		KeyFigures: []KeyFigure{
			{Label: "Total emissions", Value: inv.Totals.GrandTotal, Unit: unitTons},
			{Label: "Scope 1", Value: inv.Totals.Scope1, Unit: unitTons},
			{Label: "Scope 2 (market-based)", Value: inv.Totals.Scope2MarketBased, Unit: unitTons},
			{Label: "Scope 3", Value: inv.Totals.Scope3, Unit: unitTons},
		},
	}
	if yoy := inv.YearOverYear; yoy != nil {
		direction := "an increase"
		if yoy.Total.AbsoluteDelta < 0 {
			direction = "a decrease"
		}
		c.Paragraphs = append(c.Paragraphs, fmt.Sprintf(
			"Compared with %d this is %s of %s %s (%s).",
			yoy.PreviousPeriod.Year(), direction, tons(abs(yoy.Total.AbsoluteDelta)), unitTons, percent(yoy.Total.PercentDelta)))
	}
	if len(inv.TopSources) > 0 {
		top := inv.TopSources[0]
		c.Paragraphs = append(c.Paragraphs, fmt.Sprintf(
			"The largest source is %s (%s) at %s of the total.", top.Category, top.Scope, percent(top.Percentage)))
	}
	return c
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// =====================================================
// Emissions
// =====================================================

func emissionsSummary(in SectionInput) *Content {
	inv := in.Inventory
	t := inv.Totals
	rows := [][]string{
		{"Scope 1", tons(t.Scope1), share(t.Scope1, t.GrandTotal)},
		{"Scope 2 (location-based)", tons(t.Scope2LocationBased), "-"},
		{"Scope 2 (market-based)", tons(t.Scope2MarketBased), share(t.Scope2MarketBased, t.GrandTotal)},
		{"Scope 3", tons(t.Scope3), share(t.Scope3, t.GrandTotal)},
		{"Total", tons(t.GrandTotal), percent(100)},
	}
	c := &Content{
		Paragraphs: []string{"Scope 2 location-based emissions are reported for reference and excluded from the total."},
		KeyFigures: []KeyFigure{{Label: "Total emissions", Value: t.GrandTotal, Unit: unitTons}},
		Tables:     []Table{{Title: "Emissions by scope", Columns: []string{"Scope", unitTons, "Share"}, Rows: rows}},
	}

	if yoy := inv.YearOverYear; yoy != nil {
		line := func(label string, ch inventory.Change) []string {
			return []string{label, tons(ch.Previous), tons(ch.Current), tons(ch.AbsoluteDelta), percent(ch.PercentDelta)}
		}
		c.Tables = append(c.Tables, Table{
			Title:   fmt.Sprintf("Change against %d", yoy.PreviousPeriod.Year()),
			Columns: []string{"Scope", "Previous", "Current", "Change", "Change %"},
			Rows: [][]string{
				line("Scope 1", yoy.Scope1),
				line("Scope 2 (location-based)", yoy.Scope2LocationBased),
				line("Scope 2 (market-based)", yoy.Scope2MarketBased),
				line("Scope 3", yoy.Scope3),
				line("Total", yoy.Total),
			},
		})
	}
	return c
}

func scope1Detail(in SectionInput) *Content {
	inv := in.Inventory
	if len(inv.Scope1) == 0 {
		return nil
	}
	return &Content{
		KeyFigures: []KeyFigure{{Label: "Scope 1", Value: inv.Totals.Scope1, Unit: unitTons}},
		Tables:     []Table{categoryTable("Scope 1 by category", inv.Scope1, inv.Totals.Scope1)},
	}
}

func scope2Detail(in SectionInput) *Content {
	inv := in.Inventory
	if !inv.HasScope(emissions.Scope2) {
		return nil
	}
	return &Content{
		Paragraphs: []string{
			"Location-based figures apply grid-average emission factors. Market-based figures reflect contractual instruments such as renewable energy certificates and supplier-specific factors.",
		},
		KeyFigures: []KeyFigure{
			{Label: "Scope 2 (location-based)", Value: inv.Totals.Scope2LocationBased, Unit: unitTons},
			{Label: "Scope 2 (market-based)", Value: inv.Totals.Scope2MarketBased, Unit: unitTons},
		},
		Tables: []Table{
			categoryTable("Location-based", inv.Scope2.LocationBased, inv.Totals.Scope2LocationBased),
			categoryTable("Market-based", inv.Scope2.MarketBased, inv.Totals.Scope2MarketBased),
		},
	}
}

func scope3Detail(in SectionInput) *Content {
	inv := in.Inventory
	if !inv.HasScope(emissions.Scope3) {
		return nil
	}

	rows := make([][]string, 0, 16)
	for _, cat := range inventory.AllScope3Categories() {
		status := "Not evaluated"
		amount := "-"
		if len(inv.Scope3[cat]) > 0 {
			status = "Calculated"
			amount = tons(inv.Scope3Total(cat))
		}
		rows = append(rows, []string{strconv.Itoa(int(cat)), cat.Name(), amount, status})
	}
	if len(inv.Scope3[inventory.Uncategorized]) > 0 {
		rows = append(rows, []string{"-", inventory.Uncategorized.Name(), tons(inv.Scope3Total(inventory.Uncategorized)), "Calculated"})
	}

	return &Content{
		Paragraphs: []string{fmt.Sprintf("%d of 15 scope 3 categories have calculated emissions.", countCalculated(inv))},
		KeyFigures: []KeyFigure{{Label: "Scope 3", Value: inv.Totals.Scope3, Unit: unitTons}},
		Tables:     []Table{{Title: "Scope 3 by category", Columns: []string{"#", "Category", unitTons, "Status"}, Rows: rows}},
	}
}

func countCalculated(inv *inventory.Inventory) int {
	n := 0
	for _, c := range inv.Scope3Categories() {
		if c != inventory.Uncategorized {
			n++
		}
	}
	return n
}

func categoryTable(title string, results []*emissions.EmissionResult, total float64) Table {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range results {
		sums[r.Category] += r.EmissionTons
		counts[r.Category]++
	}
	categories := make([]string, 0, len(sums))
	for c := range sums {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	rows := make([][]string, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, []string{c, strconv.Itoa(counts[c]), tons(sums[c]), share(sums[c], total)})
	}
	return Table{Title: title, Columns: []string{"Category", "Records", unitTons, "Share"}, Rows: rows}
}

// =====================================================
// Methodology and quality
// =====================================================

func methodology(in SectionInput) *Content {
	inv := in.Inventory
	type key struct {
		scope    emissions.Scope
		category string
		method   emissions.CalculationMethod
		factor   float64
		unit     string
	}
	seen := make(map[key]bool)
	var keys []key
	collect := func(results []*emissions.EmissionResult) {
		for _, r := range results {
			k := key{r.Scope, r.Category, r.Traceability.CalculationMethod, r.FactorValue, r.ActivityUnit}
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	collect(inv.Scope1)
	collect(inv.Scope2.LocationBased)
	collect(inv.Scope2.MarketBased)
	for _, c := range inv.Scope3Categories() {
		collect(inv.Scope3[c])
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].scope != keys[j].scope {
			return keys[i].scope < keys[j].scope
		}
		if keys[i].category != keys[j].category {
			return keys[i].category < keys[j].category
		}
		return keys[i].method < keys[j].method
	})

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{
			k.scope.String(), k.category, string(k.method),
			fmt.Sprintf("%s kg CO2e/%s", strconv.FormatFloat(k.factor, 'f', -1, 64), k.unit),
		})
	}

	return &Content{
		Paragraphs: []string{
			"Emissions are calculated following the GHG Protocol Corporate Accounting and Reporting Standard by multiplying activity data by published emission factors: emissions (tCO2e) = activity amount x emission factor (kg CO2e per unit) / 1000.",
			"Each result records its source activity, emission factor version and calculation method for audit.",
		},
		Tables: []Table{{Title: "Calculation methods and factors", Columns: []string{"Scope", "Category", "Method", "Factor"}, Rows: rows}},
	}
}

func dataQuality(in SectionInput) *Content {
	dq := in.Inventory.DataQuality
	if len(dq.TonsByTier) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(emissions.DataQualityTiers))
	for _, tier := range emissions.DataQualityTiers {
		t, ok := dq.TonsByTier[tier]
		if !ok {
			continue
		}
		rows = append(rows, []string{string(tier), tons(t), percent(dq.ShareByTier[tier])})
	}
	return &Content{
		KeyFigures: []KeyFigure{{Label: "Weighted data quality score", Value: dq.WeightedScore, Unit: "0-1"}},
		Tables:     []Table{{Title: "Emissions by data quality tier", Columns: []string{"Tier", unitTons, "Share"}, Rows: rows}},
	}
}

func assurance(in SectionInput) *Content {
	inv := in.Inventory
	provider := in.Enrichment.String("assurance.provider")
	if provider == "" {
		provider = inv.Organization.AssuranceBody
	}
	switch inv.AssuranceLevel {
	case emissions.AssuranceLimited, emissions.AssuranceReasonable:
		text := fmt.Sprintf("The greenhouse gas inventory for %s has been subject to %s assurance", inv.Period.String(), inv.AssuranceLevel)
		if provider != "" {
			text += " by " + provider
		}
		return &Content{Paragraphs: []string{text + "."}}
	}
	// no assurance: leave for the verifier's statement
	return nil
}

func topSources(in SectionInput) *Content {
	sources := in.Inventory.TopSources
	if len(sources) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(sources))
	for i, s := range sources {
		rows = append(rows, []string{strconv.Itoa(i + 1), s.Scope.String(), s.Category, tons(s.Tons), percent(s.Percentage)})
	}
	return &Content{Tables: []Table{{Title: "Top emission sources", Columns: []string{"Rank", "Scope", "Category", unitTons, "Share"}, Rows: rows}}}
}

func targets(in SectionInput) *Content {
	reduction, ok := in.Enrichment.Float("targets.reduction_percent")
	if !ok {
		return nil
	}
	text := fmt.Sprintf("Target: reduce gross GHG emissions by %s", percent(reduction))
	if year, ok := in.Enrichment.Float("targets.target_year"); ok {
		text += fmt.Sprintf(" by %d", int(year))
	}
	if base := in.Inventory.Organization.BaseYear; base != nil {
		text += fmt.Sprintf(" against a %d base year", *base)
	}
	return &Content{Paragraphs: []string{text + "."}}
}

func sasbMetrics(in SectionInput) *Content {
	const prefix = "sasb.metrics."
	var rows [][]string
	for k, v := range in.Enrichment {
		if code, ok := strings.CutPrefix(k, prefix); ok {
			rows = append(rows, []string{code, fmt.Sprint(v)})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	return &Content{Tables: []Table{{Title: "SASB metrics " + in.Enrichment.String("sasb.industry"), Columns: []string{"Code", "Value"}, Rows: rows}}}
}

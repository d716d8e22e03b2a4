package frameworks

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/inventory"
)

// Enrichment carries narrative and non-emissions inputs supplied by other
// systems (governance text, revenue, targets). Keys are dotted paths.
type Enrichment map[string]any

// Flatten turns nested maps into an Enrichment with dotted keys
func Flatten(nested map[string]any) Enrichment {
	out := make(Enrichment)
	var walk func(prefix string, v any)
	walk = func(prefix string, v any) {
		switch m := v.(type) {
		case map[string]any:
			for k, child := range m {
				walk(join(prefix, k), child)
			}
		case Enrichment:
			for k, child := range m {
				walk(join(prefix, k), child)
			}
		default:
			out[prefix] = v
		}
	}
	for k, v := range nested {
		walk(k, v)
	}
	return out
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// String returns the enrichment value at key as text
func (e Enrichment) String(key string) string {
	v, ok := e[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns the numeric enrichment value at key
func (e Enrichment) Float(key string) (float64, bool) {
	return toFloat(e[key])
}

// Bool returns the boolean enrichment value at key
func (e Enrichment) Bool(key string) bool {
	b, _ := e[key].(bool)
	return b
}

// Facts is the flat view of an inventory plus enrichment that rules read
type Facts map[string]any

// inventoryNamespaces are the fact keys owned by the inventory. Enrichment
// cannot set them.
var inventoryNamespaces = []string{
	"emissions.",
	"data_quality.",
	"yoy.",
	"reporting_period.",
	"organization.id",
	"organization.name",
	"organization.base_year",
	"assurance.level",
}

func inventoryOwned(key string) bool {
	for _, ns := range inventoryNamespaces {
		if strings.HasPrefix(key, ns) {
			return true
		}
	}
	return false
}

// BuildFacts derives the fact set for rule evaluation. Emission totals are
// only present when the scope has results, so "required" fails on an
// undisclosed scope. Enrichment keys in the inventory's namespaces are
// ignored.
func BuildFacts(inv *inventory.Inventory, enrichment Enrichment) Facts {
	f := make(Facts, len(enrichment)+16)
	for k, v := range enrichment {
		if !inventoryOwned(k) {
			f[k] = v
		}
	}

	screened := 0
	for _, c := range inv.Scope3Categories() {
		if c != inventory.Uncategorized {
			screened++
		}
	}
	f["organization.id"] = inv.Organization.ID.String()
	f["organization.name"] = inv.Organization.Name
	f["reporting_period.start"] = inv.Period.Start.Format(time.DateOnly)
	f["reporting_period.end"] = inv.Period.End.Format(time.DateOnly)
	f["reporting_period.year"] = inv.Period.Year()
	f["emissions.result_count"] = inv.ResultCount
	f["emissions.scope1.result_count"] = len(inv.Scope1)
	f["emissions.scope3.category_count"] = screened

	if inv.HasScope(emissions.Scope1) {
		f["emissions.scope1.total"] = inv.Totals.Scope1
	}
	if len(inv.Scope2.LocationBased) > 0 {
		f["emissions.scope2.location_based"] = inv.Totals.Scope2LocationBased
	}
	if len(inv.Scope2.MarketBased) > 0 {
		f["emissions.scope2.market_based"] = inv.Totals.Scope2MarketBased
	}
	if inv.HasScope(emissions.Scope3) {
		f["emissions.scope3.total"] = inv.Totals.Scope3
		var slugs []string
		for _, c := range inv.Scope3Categories() {
			f["emissions.scope3."+c.Slug()] = inv.Scope3Total(c)
			slugs = append(slugs, c.Slug())
		}
		f["emissions.scope3.categories"] = slugs
	}
	if inv.ResultCount > 0 {
		f["emissions.total"] = inv.Totals.GrandTotal
		f["emissions.total_location_based"] = inv.Totals.GrandTotalLocationBased
		f["data_quality.score"] = inv.DataQuality.WeightedScore
	}
	if inv.AssuranceLevel != "" && inv.AssuranceLevel != emissions.AssuranceNone {
		f["assurance.level"] = string(inv.AssuranceLevel)
	}
	if inv.Organization.AssuranceBody != "" {
		f["assurance.provider"] = inv.Organization.AssuranceBody
	}
	if inv.YearOverYear != nil {
		f["yoy.total_percent"] = inv.YearOverYear.Total.PercentDelta
		f["yoy.total_absolute"] = inv.YearOverYear.Total.AbsoluteDelta
	}
	if inv.Organization.BaseYear != nil {
		f["organization.base_year"] = *inv.Organization.BaseYear
	}
	return f
}

// Keys returns the fact keys in sorted order
func (f Facts) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// present reports whether a fact exists and is not an empty value
func (f Facts) present(key string) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) != ""
	case bool:
		return val
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

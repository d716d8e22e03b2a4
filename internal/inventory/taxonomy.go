package inventory

import (
	"fmt"
	"strconv"
	"strings"
)

// Scope3Category is one of the 15 GHG Protocol scope 3 categories.
// Zero is the bucket for categories that could not be recognised.
type Scope3Category int

const (
	Uncategorized Scope3Category = iota
	PurchasedGoodsAndServices
	CapitalGoods
	FuelAndEnergyRelated
	UpstreamTransportation
	WasteGenerated
	BusinessTravel
	EmployeeCommuting
	UpstreamLeasedAssets
	DownstreamTransportation
	ProcessingOfSoldProducts
	UseOfSoldProducts
	EndOfLifeTreatment
	DownstreamLeasedAssets
	Franchises
	Investments
)

type categoryInfo struct {
	slug string
	name string
}

var scope3Categories = map[Scope3Category]categoryInfo{
	Uncategorized:             {slug: "uncategorized", name: "Other / uncategorized"},
	PurchasedGoodsAndServices: {slug: "purchased_goods_and_services", name: "Purchased goods and services"},
	CapitalGoods:              {slug: "capital_goods", name: "Capital goods"},
	FuelAndEnergyRelated:      {slug: "fuel_and_energy_related_activities", name: "Fuel- and energy-related activities"},
	UpstreamTransportation:    {slug: "upstream_transportation_and_distribution", name: "Upstream transportation and distribution"},
	WasteGenerated:            {slug: "waste_generated_in_operations", name: "Waste generated in operations"},
	BusinessTravel:            {slug: "business_travel", name: "Business travel"},
	EmployeeCommuting:         {slug: "employee_commuting", name: "Employee commuting"},
	UpstreamLeasedAssets:      {slug: "upstream_leased_assets", name: "Upstream leased assets"},
	DownstreamTransportation:  {slug: "downstream_transportation_and_distribution", name: "Downstream transportation and distribution"},
	ProcessingOfSoldProducts:  {slug: "processing_of_sold_products", name: "Processing of sold products"},
	UseOfSoldProducts:         {slug: "use_of_sold_products", name: "Use of sold products"},
	EndOfLifeTreatment:        {slug: "end_of_life_treatment_of_sold_products", name: "End-of-life treatment of sold products"},
	DownstreamLeasedAssets:    {slug: "downstream_leased_assets", name: "Downstream leased assets"},
	Franchises:                {slug: "franchises", name: "Franchises"},
	Investments:               {slug: "investments", name: "Investments"},
}

var categoryLookup = func() map[string]Scope3Category {
	m := make(map[string]Scope3Category, len(scope3Categories)*2)
	for c, info := range scope3Categories {
		if c == Uncategorized {
			continue
		}
		m[info.slug] = c
		m[normalizeCategory(info.name)] = c
	}
	return m
}()

// AllScope3Categories lists categories 1 through 15 in order
func AllScope3Categories() []Scope3Category {
	out := make([]Scope3Category, 0, 15)
	for c := PurchasedGoodsAndServices; c <= Investments; c++ {
		out = append(out, c)
	}
	return out
}

// Slug is the machine-readable category key
func (c Scope3Category) Slug() string {
	return scope3Categories[c].slug
}

// Name is the GHG Protocol display name
func (c Scope3Category) Name() string {
	return scope3Categories[c].name
}

func (c Scope3Category) String() string {
	if c == Uncategorized {
		return c.Name()
	}
	return fmt.Sprintf("Category %d: %s", int(c), c.Name())
}

// MarshalText encodes the category as its slug so maps serialise readably
func (c Scope3Category) MarshalText() ([]byte, error) {
	return []byte(c.Slug()), nil
}

// UnmarshalText accepts anything ClassifyScope3 accepts
func (c *Scope3Category) UnmarshalText(text []byte) error {
	*c = ClassifyScope3(string(text))
	return nil
}

// ClassifyScope3 maps a free-form category onto the canonical taxonomy.
// Recognised forms are the slug, the display name, "category_N", "cat_N"
// and a bare number. Anything else is Uncategorized.
func ClassifyScope3(category string) Scope3Category {
	key := normalizeCategory(category)
	if c, ok := categoryLookup[key]; ok {
		return c
	}

	for _, prefix := range []string{"category_", "cat_", "scope3_category_", "s3_"} {
		if strings.HasPrefix(key, prefix) {
			key = strings.TrimPrefix(key, prefix)
			break
		}
	}
	if n, err := strconv.Atoi(key); err == nil && n >= 1 && n <= 15 {
		return Scope3Category(n)
	}
	return Uncategorized
}

func normalizeCategory(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_", "/", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

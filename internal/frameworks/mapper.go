package frameworks

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/inventory"
)

// Disclosure is the framework-native view of one inventory
type Disclosure struct {
	Framework    FrameworkID        `json:"framework"`
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Organization string             `json:"organization"`
	Period       emissions.Period   `json:"period"`
	Body         any                `json:"body"`
	Validation   []ValidationResult `json:"validation"`
	Summary      Summary            `json:"summary"`
	MappedAt     time.Time          `json:"mapped_at"`
}

// MapFunc builds the framework-native body for an inventory
type MapFunc func(inv *inventory.Inventory, enrichment Enrichment) any

// Mapper maps inventories onto framework disclosures
type Mapper struct {
	catalog *Catalog
	mappers map[FrameworkID]MapFunc
	logger  *zap.Logger
	now     func() time.Time
}

// NewMapper creates a mapper over the catalog with the built-in framework
// mappings registered
func NewMapper(catalog *Catalog, logger *zap.Logger) *Mapper {
	return &Mapper{
		catalog: catalog,
		mappers: map[FrameworkID]MapFunc{
			FrameworkSB253: func(inv *inventory.Inventory, e Enrichment) any { return MapSB253(inv, e) },
			FrameworkCSRD:  func(inv *inventory.Inventory, e Enrichment) any { return MapCSRD(inv, e) },
			FrameworkCDP:   func(inv *inventory.Inventory, e Enrichment) any { return MapCDP(inv, e) },
			FrameworkTCFD:  func(inv *inventory.Inventory, e Enrichment) any { return MapTCFD(inv, e) },
			FrameworkISSB:  func(inv *inventory.Inventory, e Enrichment) any { return MapISSB(inv, e) },
		},
		logger: logger,
		now:    time.Now,
	}
}

// Catalog exposes the framework configurations the mapper reads
func (m *Mapper) Catalog() *Catalog {
	return m.catalog
}

// RegisterMapFunc installs a mapping for a framework loaded from config
func (m *Mapper) RegisterMapFunc(id FrameworkID, fn MapFunc) {
	m.mappers[id] = fn
}

// Map produces the disclosure for a framework and evaluates its rules
func (m *Mapper) Map(inv *inventory.Inventory, id FrameworkID, enrichment Enrichment) (*Disclosure, error) {
	f, err := m.catalog.Get(id)
	if err != nil {
		return nil, err
	}

	results := Evaluate(f, BuildFacts(inv, enrichment))
	d := &Disclosure{
		Framework:    f.ID,
		Name:         f.Name,
		Version:      f.Version,
		Organization: inv.Organization.Name,
		Period:       inv.Period,
		Validation:   results,
		Summary:      Summarize(results),
		MappedAt:     m.now(),
	}

	if fn, ok := m.mappers[f.ID]; ok {
		d.Body = fn(inv, enrichment)
	} else {
		// config-only frameworks expose the raw fact set
		d.Body = BuildFacts(inv, enrichment)
	}

	m.logger.Debug("Mapped inventory to framework",
		zap.String("framework", string(f.ID)),
		zap.String("organization", inv.Organization.Name),
		zap.Int("rules", d.Summary.Total),
		zap.Int("passed", d.Summary.Passed),
	)
	return d, nil
}

// Validate evaluates every rule of the framework against the inventory
func (m *Mapper) Validate(inv *inventory.Inventory, id FrameworkID, enrichment Enrichment) ([]ValidationResult, error) {
	f, err := m.catalog.Get(id)
	if err != nil {
		return nil, fmt.Errorf("failed to validate inventory: %w", err)
	}
	return Evaluate(f, BuildFacts(inv, enrichment)), nil
}

// =====================================================
// Shared building blocks
// =====================================================

// Scope2Figures is the dual-reported scope 2 pair
type Scope2Figures struct {
	LocationBased float64 `json:"location_based"`
	MarketBased   float64 `json:"market_based"`
}

// CategoryFigure is one scope 3 category line
type CategoryFigure struct {
	Number int     `json:"number"`
	Slug   string  `json:"slug"`
	Name   string  `json:"name"`
	Tons   float64 `json:"tons"`
}

// GHGEmissions is the emissions block shared by every framework body
type GHGEmissions struct {
	Scope1                  float64          `json:"scope1"`
	Scope2                  Scope2Figures    `json:"scope2"`
	Scope3                  float64          `json:"scope3"`
	Scope3Categories        []CategoryFigure `json:"scope3_categories"`
	Total                   float64          `json:"total"`
	TotalLocationBased      float64          `json:"total_location_based"`
	Scope3CategoriesCovered int              `json:"scope3_categories_covered"`
}

func ghgEmissions(inv *inventory.Inventory) GHGEmissions {
	g := GHGEmissions{
		Scope1: inv.Totals.Scope1,
		Scope2: Scope2Figures{
			LocationBased: inv.Totals.Scope2LocationBased,
			MarketBased:   inv.Totals.Scope2MarketBased,
		},
		Scope3:             inv.Totals.Scope3,
		Total:              inv.Totals.GrandTotal,
		TotalLocationBased: inv.Totals.GrandTotalLocationBased,
	}
	for _, c := range inv.Scope3Categories() {
		g.Scope3Categories = append(g.Scope3Categories, CategoryFigure{
			Number: int(c),
			Slug:   c.Slug(),
			Name:   c.Name(),
			Tons:   inv.Scope3Total(c),
		})
		if c != inventory.Uncategorized {
			g.Scope3CategoriesCovered++
		}
	}
	return g
}

// Assurance describes third-party verification
type Assurance struct {
	Level    emissions.AssuranceLevel `json:"level"`
	Provider string                   `json:"provider,omitempty"`
	Obtained bool                     `json:"obtained"`
}

func assuranceOf(inv *inventory.Inventory, e Enrichment) Assurance {
	a := Assurance{Level: inv.AssuranceLevel, Provider: inv.Organization.AssuranceBody}
	if p := e.String("assurance.provider"); p != "" {
		a.Provider = p
	}
	a.Obtained = a.Level == emissions.AssuranceLimited || a.Level == emissions.AssuranceReasonable
	return a
}

func optionalFloat(e Enrichment, key string) *float64 {
	v, ok := e.Float(key)
	if !ok {
		return nil
	}
	return &v
}

func stringList(e Enrichment, key string) []string {
	switch v := e[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

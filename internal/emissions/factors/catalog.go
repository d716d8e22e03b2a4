package factors

import (
	"embed"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"carbon-scribe/ghg-reporting/internal/emissions"
)

//go:embed catalog/*.yaml
var builtinCatalogs embed.FS

// Catalog is the on-disk YAML form of a factor set
type Catalog struct {
	Source  string         `yaml:"source"`
	Factors []CatalogEntry `yaml:"factors"`
}

// CatalogEntry is one factor in a catalog file
type CatalogEntry struct {
	ID              string   `yaml:"id"`
	Name            string   `yaml:"name"`
	Source          string   `yaml:"source"`
	Version         string   `yaml:"version"`
	Scope           int      `yaml:"scope"`
	Category        string   `yaml:"category"`
	Geography       string   `yaml:"geography"`
	Value           float64  `yaml:"value"`
	ActivityUnit    string   `yaml:"activity_unit"`
	GWPStandard     string   `yaml:"gwp_standard"`
	ApplicableYears []int    `yaml:"applicable_years"`
	Uncertainty     *float64 `yaml:"uncertainty"`
	Active          *bool    `yaml:"active"`
	ReviewedAt      string   `yaml:"reviewed_at"`
}

// ParseCatalog decodes a YAML catalog into emission factors
func ParseCatalog(r io.Reader) ([]*emissions.EmissionFactor, error) {
	var catalog Catalog
	if err := yaml.NewDecoder(r).Decode(&catalog); err != nil {
		return nil, fmt.Errorf("failed to parse factor catalog: %w", err)
	}

	out := make([]*emissions.EmissionFactor, 0, len(catalog.Factors))
	for i, entry := range catalog.Factors {
		f, err := entry.toFactor(catalog.Source)
		if err != nil {
			return nil, fmt.Errorf("factor catalog entry %d: %w", i, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// LoadCatalog parses a catalog and registers every entry
func (r *Registry) LoadCatalog(reader io.Reader) (int, error) {
	factors, err := ParseCatalog(reader)
	if err != nil {
		return 0, err
	}
	for _, f := range factors {
		if err := r.Register(f); err != nil {
			return 0, err
		}
	}
	return len(factors), nil
}

// LoadBuiltin registers the factor catalog shipped with the binary
func (r *Registry) LoadBuiltin() (int, error) {
	file, err := builtinCatalogs.Open("catalog/default.yaml")
	if err != nil {
		return 0, fmt.Errorf("failed to open builtin catalog: %w", err)
	}
	defer file.Close()
	return r.LoadCatalog(file)
}

func (e CatalogEntry) toFactor(defaultSource string) (*emissions.EmissionFactor, error) {
	f := &emissions.EmissionFactor{
		Name:            e.Name,
		Source:          e.Source,
		Version:         e.Version,
		Scope:           emissions.Scope(e.Scope),
		Category:        e.Category,
		Value:           e.Value,
		ActivityUnit:    e.ActivityUnit,
		GWPStandard:     emissions.GWPStandard(strings.ToUpper(e.GWPStandard)),
		ApplicableYears: e.ApplicableYears,
		Uncertainty:     e.Uncertainty,
		Active:          e.Active == nil || *e.Active,
	}
	if f.Source == "" {
		f.Source = defaultSource
	}
	if f.GWPStandard == "" {
		f.GWPStandard = emissions.GWPAR5
	}
	if e.Geography != "" {
		geo := e.Geography
		f.Geography = &geo
	}

	if e.ID != "" {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", e.ID, err)
		}
		f.ID = id
	} else {
		// deterministic ids keep catalog reloads stable
		f.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join([]string{
			f.Source, f.Version, f.Category, e.Geography, e.Name,
		}, "|")))
	}

	if e.ReviewedAt != "" {
		reviewed, err := parseDate(e.ReviewedAt)
		if err != nil {
			return nil, err
		}
		f.ReviewedAt = reviewed
	}
	return f, nil
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reviewed_at %q: %w", raw, err)
	}
	return t, nil
}

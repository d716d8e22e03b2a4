package emissions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =====================================================
// Enums and Constants
// =====================================================

// Scope is a GHG Protocol emission scope
type Scope int

const (
	Scope1 Scope = 1
	Scope2 Scope = 2
	Scope3 Scope = 3
)

// Valid reports whether s is one of the three GHG Protocol scopes
func (s Scope) Valid() bool {
	return s >= Scope1 && s <= Scope3
}

func (s Scope) String() string {
	return fmt.Sprintf("scope_%d", int(s))
}

// ParseScope accepts "1", "scope1", "scope_1" and "Scope 1"
func ParseScope(raw string) (Scope, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.TrimPrefix(v, "scope")
	v = strings.TrimLeft(v, "_- ")
	n, err := strconv.Atoi(v)
	if err != nil || !Scope(n).Valid() {
		return 0, fmt.Errorf("invalid scope %q", raw)
	}
	return Scope(n), nil
}

// DataQualityTier describes how an activity amount was obtained
type DataQualityTier string

const (
	DataQualityMeasured         DataQualityTier = "measured"
	DataQualityCalculated       DataQualityTier = "calculated"
	DataQualityEstimated        DataQualityTier = "estimated"
	DataQualitySupplierSpecific DataQualityTier = "supplier-specific"
	DataQualityIndustryAverage  DataQualityTier = "industry-average"
)

// DataQualityTiers lists the tiers from most to least reliable
var DataQualityTiers = []DataQualityTier{
	DataQualityMeasured,
	DataQualitySupplierSpecific,
	DataQualityCalculated,
	DataQualityIndustryAverage,
	DataQualityEstimated,
}

// Score returns the weight used in data-quality summaries (1 = best)
func (t DataQualityTier) Score() float64 {
	switch t {
	case DataQualityMeasured:
		return 1.0
	case DataQualitySupplierSpecific:
		return 0.9
	case DataQualityCalculated:
		return 0.8
	case DataQualityIndustryAverage:
		return 0.6
	case DataQualityEstimated:
		return 0.4
	default:
		return 0
	}
}

// Scope2Method tags a scope-2 record with its accounting method
type Scope2Method string

const (
	Scope2MethodUnspecified   Scope2Method = ""
	Scope2MethodLocationBased Scope2Method = "location_based"
	Scope2MethodMarketBased   Scope2Method = "market_based"
)

// ResultStatus is the review status of an emission result
type ResultStatus string

const (
	ResultStatusDraft    ResultStatus = "draft"
	ResultStatusApproved ResultStatus = "approved"
	ResultStatusArchived ResultStatus = "archived"
)

// GWPStandard names the IPCC assessment report the factor's GWP values come from
type GWPStandard string

const (
	GWPAR4 GWPStandard = "AR4"
	GWPAR5 GWPStandard = "AR5"
	GWPAR6 GWPStandard = "AR6"
)

// CalculationMethod records which calculation route produced a result
type CalculationMethod string

const (
	MethodActivityBased    CalculationMethod = "activity-based"
	MethodSpendBased       CalculationMethod = "spend-based"
	MethodDistanceBased    CalculationMethod = "distance-based"
	MethodSupplierSpecific CalculationMethod = "supplier-specific"
	MethodFugitiveGWP      CalculationMethod = "fugitive-gwp"
	MethodLocationBased    CalculationMethod = "location-based"
	MethodMarketBased      CalculationMethod = "market-based"
)

// AssuranceLevel is the level of third-party assurance obtained on an inventory
type AssuranceLevel string

const (
	AssuranceNone       AssuranceLevel = "none"
	AssuranceLimited    AssuranceLevel = "limited"
	AssuranceReasonable AssuranceLevel = "reasonable"
)

// =====================================================
// Period
// =====================================================

// Period is a closed reporting interval
type Period struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// NewCalendarYear returns the period covering the given calendar year in UTC
func NewCalendarYear(year int) Period {
	return Period{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 23, 59, 59, 0, time.UTC),
	}
}

// Validate checks that the period is well-formed
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidPeriod)
	}
	if p.End.Before(p.Start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrInvalidPeriod,
			p.End.Format(time.DateOnly), p.Start.Format(time.DateOnly))
	}
	return nil
}

// Year is the year used for factor applicability
func (p Period) Year() int {
	return p.Start.Year()
}

// Contains reports whether other lies fully inside p
func (p Period) Contains(other Period) bool {
	return !other.Start.Before(p.Start) && !other.End.After(p.End)
}

// Overlaps reports whether the two periods share at least one instant
func (p Period) Overlaps(other Period) bool {
	return !other.End.Before(p.Start) && !other.Start.After(p.End)
}

// PreviousYear shifts the period back by one year
func (p Period) PreviousYear() Period {
	return Period{Start: p.Start.AddDate(-1, 0, 0), End: p.End.AddDate(-1, 0, 0)}
}

// Key is a stable string form used in cache keys and storage paths
func (p Period) Key() string {
	return p.Start.Format(time.DateOnly) + "_" + p.End.Format(time.DateOnly)
}

func (p Period) String() string {
	return p.Start.Format(time.DateOnly) + " to " + p.End.Format(time.DateOnly)
}

// =====================================================
// Core entities
// =====================================================

// Organization is the reporting entity an inventory belongs to
type Organization struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Jurisdiction   string         `json:"jurisdiction" db:"jurisdiction"`
	AssuranceLevel AssuranceLevel `json:"assurance_level" db:"assurance_level"`
	AssuranceBody  *string        `json:"assurance_body,omitempty" db:"assurance_body"`
	BaseYear       *int           `json:"base_year,omitempty" db:"base_year"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// ActivityData is a single measured or estimated quantity of activity
type ActivityData struct {
	ID           uuid.UUID       `json:"id"`
	CompanyID    uuid.UUID       `json:"company_id"`
	Scope        Scope           `json:"scope"`
	Category     string          `json:"category"`
	Subcategory  *string         `json:"subcategory,omitempty"`
	Amount       float64         `json:"amount"`
	Unit         string          `json:"unit"`
	Period       Period          `json:"period"`
	DataQuality  DataQualityTier `json:"data_quality"`
	Source       string          `json:"source"`
	Location     *string         `json:"location,omitempty"`
	Notes        *string         `json:"notes,omitempty"`
	Scope2Method Scope2Method    `json:"scope2_method,omitempty"`
	Revision     int             `json:"revision"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ArchivedAt   *time.Time      `json:"archived_at,omitempty"`
}

// Geography returns the activity location or an empty string
func (a *ActivityData) Geography() string {
	if a.Location == nil {
		return ""
	}
	return *a.Location
}

// EmissionFactor converts one unit of activity into kg CO2e
type EmissionFactor struct {
	ID              uuid.UUID   `json:"id" yaml:"id"`
	Name            string      `json:"name" yaml:"name"`
	Source          string      `json:"source" yaml:"source"`
	Version         string      `json:"version" yaml:"version"`
	Scope           Scope       `json:"scope" yaml:"scope"`
	Category        string      `json:"category" yaml:"category"`
	Geography       *string     `json:"geography,omitempty" yaml:"geography,omitempty"`
	Value           float64     `json:"value" yaml:"value"`
	ActivityUnit    string      `json:"activity_unit,omitempty" yaml:"activity_unit,omitempty"`
	GWPStandard     GWPStandard `json:"gwp_standard" yaml:"gwp_standard"`
	ApplicableYears []int       `json:"applicable_years" yaml:"applicable_years"`
	Uncertainty     *float64    `json:"uncertainty,omitempty" yaml:"uncertainty,omitempty"`
	Active          bool        `json:"active" yaml:"active"`
	ReviewedAt      time.Time   `json:"reviewed_at" yaml:"reviewed_at"`
	SupersedesID    *uuid.UUID  `json:"supersedes_id,omitempty" yaml:"supersedes_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at" yaml:"-"`
}

// AppliesTo reports whether the factor is valid for the given year.
// A factor without applicable years applies to every year.
func (f *EmissionFactor) AppliesTo(year int) bool {
	if len(f.ApplicableYears) == 0 {
		return true
	}
	for _, y := range f.ApplicableYears {
		if y == year {
			return true
		}
	}
	return false
}

// GeographyOrEmpty returns the factor geography or an empty string
func (f *EmissionFactor) GeographyOrEmpty() string {
	if f.Geography == nil {
		return ""
	}
	return *f.Geography
}

// UncertaintyRange is the low/high bound of a result in tonnes CO2e
type UncertaintyRange struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// CalculationStep is one recorded step of an emission calculation
type CalculationStep struct {
	StepNumber  int     `json:"step_number"`
	Description string  `json:"description"`
	Formula     string  `json:"formula"`
	Value       float64 `json:"value"`
}

// Traceability links a result back to the inputs that produced it
type Traceability struct {
	ActivityID        uuid.UUID         `json:"activity_id"`
	ActivityRevision  int               `json:"activity_revision"`
	FactorID          uuid.UUID         `json:"factor_id"`
	FactorVersion     string            `json:"factor_version"`
	CalculationMethod CalculationMethod `json:"calculation_method"`
	TriggerID         *uuid.UUID        `json:"trigger_id,omitempty"`
	ReviewedBy        *string           `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time        `json:"reviewed_at,omitempty"`
}

// EmissionResult is the outcome of applying one factor to one activity record
type EmissionResult struct {
	ID             uuid.UUID         `json:"id"`
	CompanyID      uuid.UUID         `json:"company_id"`
	Scope          Scope             `json:"scope"`
	Category       string            `json:"category"`
	Subcategory    *string           `json:"subcategory,omitempty"`
	Scope2Method   Scope2Method      `json:"scope2_method,omitempty"`
	Period         Period            `json:"period"`
	ActivityAmount float64           `json:"activity_amount"`
	ActivityUnit   string            `json:"activity_unit"`
	FactorID       uuid.UUID         `json:"factor_id"`
	FactorValue    float64           `json:"factor_value"`
	EmissionTons   float64           `json:"emission_tons"`
	Uncertainty    *UncertaintyRange `json:"uncertainty,omitempty"`
	Methodology    string            `json:"methodology"`
	Formula        string            `json:"formula"`
	Steps          []CalculationStep `json:"steps,omitempty"`
	DataQuality    DataQualityTier   `json:"data_quality"`
	CalculatedAt   time.Time         `json:"calculated_at"`
	Status         ResultStatus      `json:"status"`
	Version        int               `json:"version"`
	Traceability   Traceability      `json:"traceability"`
}

// IsArchived reports whether the result has been superseded or retired
func (r *EmissionResult) IsArchived() bool {
	return r.Status == ResultStatusArchived
}

// =====================================================
// Filters
// =====================================================

// ActivityFilter selects activity records
type ActivityFilter struct {
	CompanyID       *uuid.UUID `json:"company_id,omitempty"`
	Scope           *Scope     `json:"scope,omitempty"`
	Category        *string    `json:"category,omitempty"`
	From            *time.Time `json:"from,omitempty"`
	To              *time.Time `json:"to,omitempty"`
	IncludeArchived bool       `json:"include_archived"`
	Limit           int        `json:"limit,omitempty"`
	Offset          int        `json:"offset,omitempty"`
}

// ResultFilter selects emission results. Archived results are excluded
// unless IncludeArchived is set.
type ResultFilter struct {
	CompanyID       *uuid.UUID `json:"company_id,omitempty"`
	ActivityID      *uuid.UUID `json:"activity_id,omitempty"`
	FactorID        *uuid.UUID `json:"factor_id,omitempty"`
	Scope           *Scope     `json:"scope,omitempty"`
	Category        *string    `json:"category,omitempty"`
	From            *time.Time `json:"from,omitempty"`
	To              *time.Time `json:"to,omitempty"`
	IncludeArchived bool       `json:"include_archived"`
}

// FactorFilter selects emission factors
type FactorFilter struct {
	Scope      *Scope  `json:"scope,omitempty"`
	Category   *string `json:"category,omitempty"`
	ActiveOnly bool    `json:"active_only"`
}

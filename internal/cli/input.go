package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	v1 "carbon-scribe/ghg-reporting/api/v1"
	"carbon-scribe/ghg-reporting/internal/emissions"
)

// InventoryFile is the YAML (or JSON) document the offline commands read
type InventoryFile struct {
	Organization OrganizationInput `yaml:"organization"`
	Activities   []ActivityInput   `yaml:"activities"`
}

// OrganizationInput describes the reporting company
type OrganizationInput struct {
	ID             uuid.UUID                `yaml:"id"`
	Name           string                   `yaml:"name"`
	Jurisdiction   string                   `yaml:"jurisdiction"`
	AssuranceLevel emissions.AssuranceLevel `yaml:"assurance_level"`
	AssuranceBody  string                   `yaml:"assurance_body"`
	BaseYear       int                      `yaml:"base_year"`
}

// ActivityInput is one activity record. Year selects the calendar year the
// activity falls in.
type ActivityInput struct {
	Scope        emissions.Scope           `yaml:"scope"`
	Category     string                    `yaml:"category"`
	Subcategory  string                    `yaml:"subcategory"`
	Amount       float64                   `yaml:"amount"`
	Unit         string                    `yaml:"unit"`
	Year         int                       `yaml:"year"`
	DataQuality  emissions.DataQualityTier `yaml:"data_quality"`
	Source       string                    `yaml:"source"`
	Location     string                    `yaml:"location"`
	Scope2Method emissions.Scope2Method    `yaml:"scope2_method"`
}

// LoadInventoryFile decodes an inventory document. JSON is accepted as the
// YAML subset it is.
func LoadInventoryFile(r io.Reader) (*InventoryFile, error) {
	var doc InventoryFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("inventory file is empty")
		}
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}
	if len(doc.Activities) == 0 {
		return nil, errors.New("inventory file has no activities")
	}
	for i, a := range doc.Activities {
		if a.Year <= 0 {
			return nil, fmt.Errorf("activity %d: year is required", i)
		}
	}
	if doc.Organization.ID == uuid.Nil {
		doc.Organization.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(doc.Organization.Name))
	}
	if doc.Organization.AssuranceLevel == "" {
		doc.Organization.AssuranceLevel = emissions.AssuranceNone
	}
	return &doc, nil
}

func readInventoryFile(path string) (*InventoryFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open inventory file: %w", err)
	}
	defer f.Close()
	return LoadInventoryFile(f)
}

// LatestYear returns the most recent activity year
func (f *InventoryFile) LatestYear() int {
	year := 0
	for _, a := range f.Activities {
		year = max(year, a.Year)
	}
	return year
}

func (o OrganizationInput) toOrganization() *emissions.Organization {
	org := &emissions.Organization{
		ID:             o.ID,
		Name:           o.Name,
		Jurisdiction:   o.Jurisdiction,
		AssuranceLevel: o.AssuranceLevel,
		CreatedAt:      time.Now().UTC(),
	}
	if o.AssuranceBody != "" {
		org.AssuranceBody = &o.AssuranceBody
	}
	if o.BaseYear > 0 {
		org.BaseYear = &o.BaseYear
	}
	return org
}

func (a ActivityInput) toActivity(companyID uuid.UUID) *emissions.ActivityData {
	quality := a.DataQuality
	if quality == "" {
		quality = emissions.DataQualityEstimated
	}
	activity := &emissions.ActivityData{
		CompanyID:    companyID,
		Scope:        a.Scope,
		Category:     a.Category,
		Amount:       a.Amount,
		Unit:         a.Unit,
		Period:       emissions.NewCalendarYear(a.Year),
		DataQuality:  quality,
		Source:       a.Source,
		Scope2Method: a.Scope2Method,
	}
	if a.Subcategory != "" {
		activity.Subcategory = &a.Subcategory
	}
	if a.Location != "" {
		activity.Location = &a.Location
	}
	return activity
}

// calculation pairs an input activity with its outcome
type calculation struct {
	Activity *emissions.ActivityData   `json:"activity"`
	Result   *emissions.EmissionResult `json:"result,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// loadInventory stores the organization and every activity in api and
// collects the calculated results. An activity that fails to calculate is
// reported, not fatal.
func loadInventory(ctx context.Context, api *v1.API, doc *InventoryFile) ([]calculation, error) {
	org := doc.Organization.toOrganization()
	if err := api.Repository.UpsertOrganization(ctx, org); err != nil {
		return nil, fmt.Errorf("failed to store organization: %w", err)
	}

	out := make([]calculation, 0, len(doc.Activities))
	for i, input := range doc.Activities {
		activity, err := api.Engine.CreateActivity(ctx, input.toActivity(org.ID))
		if activity == nil {
			return nil, fmt.Errorf("activity %d: %w", i, err)
		}
		calc := calculation{Activity: activity}
		if err != nil {
			calc.Error = err.Error()
		} else if calc.Result, err = api.Repository.GetCurrentResult(ctx, activity.ID); err != nil {
			calc.Error = missingResultReason(api, activity, err)
		}
		out = append(out, calc)
	}
	return out, nil
}

// missingResultReason explains why an activity has no result. Failed
// calculations are logged by the bus, so the factor lookup is repeated here.
func missingResultReason(api *v1.API, a *emissions.ActivityData, lookupErr error) string {
	location := ""
	if a.Location != nil {
		location = *a.Location
	}
	if _, err := api.Registry.Resolve(a.Scope, a.Category, location, a.Period.Year()); err != nil {
		return err.Error()
	}
	return lookupErr.Error()
}

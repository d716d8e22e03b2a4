package calculator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"carbon-scribe/ghg-reporting/internal/emissions"
)

// KgPerTonne converts kilograms of CO2e into metric tonnes
const KgPerTonne = 1000.0

// Calculator applies an emission factor to an activity record.
// It holds no state beyond the clock used to stamp results.
type Calculator struct {
	now func() time.Time
}

// New creates a calculator stamping results with the wall clock
func New() *Calculator {
	return &Calculator{now: time.Now}
}

// NewWithClock creates a calculator with an injected clock
func NewWithClock(now func() time.Time) *Calculator {
	return &Calculator{now: now}
}

// Calculate computes the emission result for one activity and factor.
//
// The returned result is a draft without identity or version; the caller
// that persists it assigns both. Every field except CalculatedAt is a
// deterministic function of the inputs.
func (c *Calculator) Calculate(activity *emissions.ActivityData, factor *emissions.EmissionFactor) (*emissions.EmissionResult, error) {
	if !(activity.Amount > 0) {
		return nil, fmt.Errorf("activity %s amount %v: %w", activity.ID, activity.Amount, emissions.ErrInvalidActivityAmount)
	}
	if !(factor.Value > 0) {
		return nil, fmt.Errorf("factor %s value %v: %w", factor.ID, factor.Value, emissions.ErrInvalidFactorValue)
	}
	if factor.Scope != activity.Scope {
		return nil, fmt.Errorf("activity %s is %s, factor %s is %s: %w",
			activity.ID, activity.Scope, factor.ID, factor.Scope, emissions.ErrScopeMismatch)
	}
	if err := activity.Period.Validate(); err != nil {
		return nil, fmt.Errorf("activity %s: %w", activity.ID, err)
	}

	steps := make([]emissions.CalculationStep, 0, 4)
	factorUnit := factor.ActivityUnit
	if factorUnit == "" {
		factorUnit = activity.Unit
	}

	amount, err := ConvertAmount(activity.Amount, activity.Unit, factor.ActivityUnit)
	if err != nil {
		return nil, fmt.Errorf("activity %s: %w", activity.ID, err)
	}
	converted := NormalizeUnit(activity.Unit) != NormalizeUnit(factorUnit)
	if converted {
		steps = append(steps, emissions.CalculationStep{
			StepNumber:  len(steps) + 1,
			Description: "Normalize activity amount to factor unit",
			Formula:     fmt.Sprintf("%s %s = %s %s", num(activity.Amount), activity.Unit, num(amount), factorUnit),
			Value:       amount,
		})
	}

	kg := amount * factor.Value
	steps = append(steps, emissions.CalculationStep{
		StepNumber:  len(steps) + 1,
		Description: "Apply emission factor",
		Formula:     fmt.Sprintf("%s %s × %s kg CO2e/%s = %s kg CO2e", num(amount), factorUnit, num(factor.Value), factorUnit, num(kg)),
		Value:       kg,
	})

	tons := kg / KgPerTonne
	steps = append(steps, emissions.CalculationStep{
		StepNumber:  len(steps) + 1,
		Description: "Convert to tonnes CO2e",
		Formula:     fmt.Sprintf("%s kg CO2e ÷ %s = %s t CO2e", num(kg), num(KgPerTonne), num(tons)),
		Value:       tons,
	})

	var uncertainty *emissions.UncertaintyRange
	if factor.Uncertainty != nil {
		u := *factor.Uncertainty / 100
		uncertainty = &emissions.UncertaintyRange{
			Lower: tons * (1 - u),
			Upper: tons * (1 + u),
		}
		steps = append(steps, emissions.CalculationStep{
			StepNumber:  len(steps) + 1,
			Description: "Apply factor uncertainty",
			Formula: fmt.Sprintf("%s t CO2e ± %s%% = [%s, %s]",
				num(tons), num(*factor.Uncertainty), num(uncertainty.Lower), num(uncertainty.Upper)),
			Value: uncertainty.Upper - uncertainty.Lower,
		})
	}

	method := calculationMethod(activity)

	return &emissions.EmissionResult{
		CompanyID:      activity.CompanyID,
		Scope:          activity.Scope,
		Category:       activity.Category,
		Subcategory:    activity.Subcategory,
		Scope2Method:   activity.Scope2Method,
		Period:         activity.Period,
		ActivityAmount: activity.Amount,
		ActivityUnit:   activity.Unit,
		FactorID:       factor.ID,
		FactorValue:    factor.Value,
		EmissionTons:   tons,
		Uncertainty:    uncertainty,
		Methodology:    methodology(activity, factor, method),
		Formula:        formula(activity, factor, amount, factorUnit, converted, kg, tons),
		Steps:          steps,
		DataQuality:    activity.DataQuality,
		CalculatedAt:   c.now(),
		Status:         emissions.ResultStatusDraft,
		Traceability: emissions.Traceability{
			ActivityID:        activity.ID,
			ActivityRevision:  activity.Revision,
			FactorID:          factor.ID,
			FactorVersion:     factor.Version,
			CalculationMethod: method,
		},
	}, nil
}

func calculationMethod(a *emissions.ActivityData) emissions.CalculationMethod {
	category := strings.ToLower(a.Category)
	switch {
	case a.DataQuality == emissions.DataQualitySupplierSpecific:
		return emissions.MethodSupplierSpecific
	case a.Scope == emissions.Scope2 && a.Scope2Method == emissions.Scope2MethodMarketBased:
		return emissions.MethodMarketBased
	case a.Scope == emissions.Scope2 && a.Scope2Method == emissions.Scope2MethodLocationBased:
		return emissions.MethodLocationBased
	case isCurrency(a.Unit):
		return emissions.MethodSpendBased
	case isDistance(a.Unit):
		return emissions.MethodDistanceBased
	case a.Scope == emissions.Scope1 && (strings.Contains(category, "fugitive") || strings.Contains(category, "refrigerant")):
		return emissions.MethodFugitiveGWP
	default:
		return emissions.MethodActivityBased
	}
}

func methodology(a *emissions.ActivityData, f *emissions.EmissionFactor, method emissions.CalculationMethod) string {
	var b strings.Builder
	fmt.Fprintf(&b, "GHG Protocol scope %d %s calculation for %s", int(a.Scope), method, a.Category)
	if a.Subcategory != nil && *a.Subcategory != "" {
		fmt.Fprintf(&b, " (%s)", *a.Subcategory)
	}
	fmt.Fprintf(&b, ": %s %s of %s activity data", num(a.Amount), a.Unit, a.DataQuality)
	if a.Source != "" {
		fmt.Fprintf(&b, " from %s", a.Source)
	}
	fmt.Fprintf(&b, " multiplied by emission factor %q (%s, version %s", f.Name, f.Source, f.Version)
	if geo := f.GeographyOrEmpty(); geo != "" {
		fmt.Fprintf(&b, ", %s", geo)
	}
	unit := f.ActivityUnit
	if unit == "" {
		unit = a.Unit
	}
	fmt.Fprintf(&b, ") of %s kg CO2e per %s using %s global warming potentials", num(f.Value), unit, f.GWPStandard)
	if f.Uncertainty != nil {
		fmt.Fprintf(&b, ", with ±%s%% factor uncertainty", num(*f.Uncertainty))
	}
	b.WriteString(".")
	return b.String()
}

func formula(a *emissions.ActivityData, f *emissions.EmissionFactor, amount float64, unit string, converted bool, kg, tons float64) string {
	input := fmt.Sprintf("%s %s", num(a.Amount), a.Unit)
	if converted {
		input = fmt.Sprintf("%s (%s %s)", input, num(amount), unit)
	}
	return fmt.Sprintf("%s × %s kg CO2e/%s = %s kg CO2e = %s t CO2e",
		input, num(f.Value), unit, strconv.FormatFloat(kg, 'f', 2, 64), strconv.FormatFloat(tons, 'f', 4, 64))
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

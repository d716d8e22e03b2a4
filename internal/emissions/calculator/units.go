package calculator

import (
	"fmt"
	"strings"

	"carbon-scribe/ghg-reporting/internal/emissions"
)

type dimension string

const (
	dimEnergy   dimension = "energy"
	dimVolume   dimension = "volume"
	dimMass     dimension = "mass"
	dimDistance dimension = "distance"
	dimCurrency dimension = "currency"
)

// unitDef maps a unit onto its dimension's base unit (kWh, litre, kg, km)
type unitDef struct {
	dim    dimension
	toBase float64
	// currencies never convert into each other
	code string
}

var units = map[string]unitDef{
	"kwh":       {dim: dimEnergy, toBase: 1},
	"mwh":       {dim: dimEnergy, toBase: 1000},
	"gwh":       {dim: dimEnergy, toBase: 1e6},
	"btu":       {dim: dimEnergy, toBase: 0.000293071},
	"mmbtu":     {dim: dimEnergy, toBase: 293.071},
	"therm":     {dim: dimEnergy, toBase: 29.3071},
	"gj":        {dim: dimEnergy, toBase: 277.778},
	"liter":     {dim: dimVolume, toBase: 1},
	"gallon":    {dim: dimVolume, toBase: 3.78541},
	"m3":        {dim: dimVolume, toBase: 1000},
	"ft3":       {dim: dimVolume, toBase: 28.3168},
	"ccf":       {dim: dimVolume, toBase: 2831.68},
	"mcf":       {dim: dimVolume, toBase: 28316.8},
	"kg":        {dim: dimMass, toBase: 1},
	"g":         {dim: dimMass, toBase: 0.001},
	"lb":        {dim: dimMass, toBase: 0.453592},
	"tonne":     {dim: dimMass, toBase: 1000},
	"short ton": {dim: dimMass, toBase: 907.185},
	"km":        {dim: dimDistance, toBase: 1},
	"mile":      {dim: dimDistance, toBase: 1.60934},
	"usd":       {dim: dimCurrency, toBase: 1, code: "usd"},
	"eur":       {dim: dimCurrency, toBase: 1, code: "eur"},
	"gbp":       {dim: dimCurrency, toBase: 1, code: "gbp"},
}

var unitAliases = map[string]string{
	"kilowatt hour":  "kwh",
	"kilowatt hours": "kwh",
	"megawatt hour":  "mwh",
	"megawatt hours": "mwh",
	"btus":           "btu",
	"therms":         "therm",
	"l":              "liter",
	"liters":         "liter",
	"litre":          "liter",
	"litres":         "liter",
	"gal":            "gallon",
	"gallons":        "gallon",
	"cubic meter":    "m3",
	"cubic meters":   "m3",
	"cubic foot":     "ft3",
	"cubic feet":     "ft3",
	"scf":            "ft3",
	"kilogram":       "kg",
	"kilograms":      "kg",
	"kgs":            "kg",
	"gram":           "g",
	"grams":          "g",
	"lbs":            "lb",
	"pound":          "lb",
	"pounds":         "lb",
	"t":              "tonne",
	"tonnes":         "tonne",
	"metric ton":     "tonne",
	"metric tons":    "tonne",
	"short tons":     "short ton",
	"kilometer":      "km",
	"kilometers":     "km",
	"kilometre":      "km",
	"kilometres":     "km",
	"mi":             "mile",
	"miles":          "mile",
	"$":              "usd",
	"dollars":        "usd",
	"euro":           "eur",
	"euros":          "eur",
}

// NormalizeUnit returns the canonical spelling of a unit, or the cleaned
// input when the unit is unknown
func NormalizeUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.NewReplacer("_", " ", "-", " ").Replace(u)
	u = strings.Join(strings.Fields(u), " ")
	if canonical, ok := unitAliases[u]; ok {
		return canonical
	}
	return u
}

// ConvertAmount converts amount from one unit into another within the same
// dimension. Identical or empty target units pass the amount through.
func ConvertAmount(amount float64, from, to string) (float64, error) {
	src, dst := NormalizeUnit(from), NormalizeUnit(to)
	if dst == "" || src == dst {
		return amount, nil
	}

	s, okS := units[src]
	d, okD := units[dst]
	if !okS || !okD || s.dim != d.dim || s.code != d.code {
		return 0, fmt.Errorf("%w: %q to %q", emissions.ErrIncompatibleUnit, from, to)
	}
	return amount * s.toBase / d.toBase, nil
}

func isCurrency(unit string) bool {
	return units[NormalizeUnit(unit)].dim == dimCurrency
}

func isDistance(unit string) bool {
	return units[NormalizeUnit(unit)].dim == dimDistance
}

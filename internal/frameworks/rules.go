package frameworks

import (
	"fmt"
	"sync"
)

// Predicate is a named custom validation check. threshold carries the rule's
// optional value.
type Predicate func(facts Facts, threshold *float64) bool

var (
	predicatesMu sync.RWMutex
	predicates   = map[string]Predicate{
		"scope3_disclosed":           scope3Disclosed,
		"scope2_dual_reporting":      scope2DualReporting,
		"assurance_obtained":         assuranceObtained,
		"scope3_categories_screened": scope3CategoriesScreened,
		"yoy_available":              yoyAvailable,
		"positive_total":             positiveTotal,
		"data_quality_acceptable":    dataQualityAcceptable,
	}
)

// RegisterPredicate makes a custom predicate available to framework configs
func RegisterPredicate(name string, p Predicate) {
	predicatesMu.Lock()
	defer predicatesMu.Unlock()
	predicates[name] = p
}

func lookupPredicate(name string) (Predicate, bool) {
	predicatesMu.RLock()
	defer predicatesMu.RUnlock()
	p, ok := predicates[name]
	return p, ok
}

// Evaluate runs every rule of the framework against facts, in section order.
// Every rule produces a result, passed or not.
func Evaluate(f *Framework, facts Facts) []ValidationResult {
	results := make([]ValidationResult, 0, f.RuleCount())
	f.Walk(func(s *Section, _ int) {
		for _, rule := range s.ValidationRules {
			results = append(results, evaluateRule(s.ID, rule, facts))
		}
	})
	return results
}

func evaluateRule(sectionID string, rule ValidationRule, facts Facts) ValidationResult {
	res := ValidationResult{
		SectionID: sectionID,
		Field:     rule.Field,
		Rule:      rule.Rule,
		Predicate: rule.Predicate,
		Severity:  rule.Severity,
	}
	if res.Severity == "" {
		res.Severity = SeverityError
	}

	switch rule.Rule {
	case RuleRequired:
		res.Passed = facts.present(rule.Field)
	case RuleMin:
		v, ok := toFloat(facts[rule.Field])
		res.Passed = ok && rule.Value != nil && v >= *rule.Value
	case RuleMax:
		v, ok := toFloat(facts[rule.Field])
		res.Passed = ok && rule.Value != nil && v <= *rule.Value
	case RuleCustom:
		p, ok := lookupPredicate(rule.Predicate)
		if !ok {
			res.Message = fmt.Sprintf("unknown predicate %q", rule.Predicate)
			return res
		}
		res.Passed = p(facts, rule.Value)
	}

	if res.Passed {
		res.Message = "ok"
	} else {
		res.Message = rule.Message
	}
	return res
}

func scope3Disclosed(facts Facts, _ *float64) bool {
	v, ok := toFloat(facts["emissions.scope3.total"])
	return ok && v > 0
}

func scope2DualReporting(facts Facts, _ *float64) bool {
	_, location := facts["emissions.scope2.location_based"]
	_, market := facts["emissions.scope2.market_based"]
	return location && market
}

func assuranceObtained(facts Facts, _ *float64) bool {
	level, _ := facts["assurance.level"].(string)
	return level == "limited" || level == "reasonable"
}

func scope3CategoriesScreened(facts Facts, threshold *float64) bool {
	want := 1.0
	if threshold != nil {
		want = *threshold
	}
	n, ok := toFloat(facts["emissions.scope3.category_count"])
	return ok && n >= want
}

func yoyAvailable(facts Facts, _ *float64) bool {
	_, ok := facts["yoy.total_percent"]
	return ok
}

func positiveTotal(facts Facts, _ *float64) bool {
	v, ok := toFloat(facts["emissions.total"])
	return ok && v > 0
}

func dataQualityAcceptable(facts Facts, threshold *float64) bool {
	want := 0.5
	if threshold != nil {
		want = *threshold
	}
	v, ok := toFloat(facts["data_quality.score"])
	return ok && v >= want
}

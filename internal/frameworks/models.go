package frameworks

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFramework is returned for a framework id with no configuration
var ErrUnknownFramework = errors.New("unknown regulatory framework")

// =====================================================
// Enums and Constants
// =====================================================

// FrameworkID identifies a disclosure regime
type FrameworkID string

const (
	FrameworkSB253 FrameworkID = "sb253"
	FrameworkCSRD  FrameworkID = "csrd"
	FrameworkCDP   FrameworkID = "cdp"
	FrameworkTCFD  FrameworkID = "tcfd"
	FrameworkISSB  FrameworkID = "issb"
)

// ParseFrameworkID normalises user input such as "SB-253" or "ESRS"
func ParseFrameworkID(raw string) FrameworkID {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.NewReplacer("-", "", "_", "", " ", "").Replace(v)
	switch v {
	case "esrs", "esrse1":
		return FrameworkCSRD
	case "ifrss2", "issbs2":
		return FrameworkISSB
	}
	return FrameworkID(v)
}

// Format is an output encoding for generated reports
type Format string

const (
	FormatPDF   Format = "pdf"
	FormatExcel Format = "excel"
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatXBRL  Format = "xbrl"
)

// RuleType is the kind of validation a rule performs
type RuleType string

const (
	RuleRequired RuleType = "required"
	RuleMin      RuleType = "min"
	RuleMax      RuleType = "max"
	RuleCustom   RuleType = "custom"
)

// Severity grades a failed validation rule
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// =====================================================
// Framework configuration
// =====================================================

// ValidationRule is a declarative check attached to a section
type ValidationRule struct {
	Field     string   `yaml:"field" json:"field"`
	Rule      RuleType `yaml:"rule" json:"rule"`
	Value     *float64 `yaml:"value,omitempty" json:"value,omitempty"`
	Predicate string   `yaml:"predicate,omitempty" json:"predicate,omitempty"`
	Message   string   `yaml:"message" json:"message"`
	Severity  Severity `yaml:"severity" json:"severity"`
}

// Section is a node of a framework's report outline
type Section struct {
	ID              string           `yaml:"id" json:"id"`
	Title           string           `yaml:"title" json:"title"`
	Mandatory       bool             `yaml:"mandatory" json:"mandatory"`
	EstimatedSize   string           `yaml:"estimated_size" json:"estimated_size"`
	RequiredScopes  []int            `yaml:"required_scopes,omitempty" json:"required_scopes,omitempty"`
	Content         string           `yaml:"content,omitempty" json:"content,omitempty"`
	NarrativeField  string           `yaml:"narrative_field,omitempty" json:"narrative_field,omitempty"`
	ValidationRules []ValidationRule `yaml:"validation_rules,omitempty" json:"validation_rules,omitempty"`
	Subsections     []Section        `yaml:"subsections,omitempty" json:"subsections,omitempty"`
}

// ContentKey names the content generator for this section
func (s *Section) ContentKey() string {
	if s.Content != "" {
		return s.Content
	}
	return s.ID
}

// Framework is the static configuration of one disclosure regime
type Framework struct {
	ID           FrameworkID `yaml:"id" json:"id"`
	Name         string      `yaml:"name" json:"name"`
	Version      string      `yaml:"version" json:"version"`
	Jurisdiction string      `yaml:"jurisdiction" json:"jurisdiction"`
	Description  string      `yaml:"description" json:"description"`
	Formats      []Format    `yaml:"formats" json:"formats"`
	Sections     []Section   `yaml:"sections" json:"sections"`
}

// SupportsFormat reports whether reports may be rendered in the format
func (f *Framework) SupportsFormat(format Format) bool {
	for _, supported := range f.Formats {
		if supported == format {
			return true
		}
	}
	return false
}

// Walk visits every section depth-first in document order
func (f *Framework) Walk(fn func(section *Section, depth int)) {
	var walk func(sections []Section, depth int)
	walk = func(sections []Section, depth int) {
		for i := range sections {
			fn(&sections[i], depth)
			walk(sections[i].Subsections, depth+1)
		}
	}
	walk(f.Sections, 0)
}

// RuleCount is the number of validation rules across all sections
func (f *Framework) RuleCount() int {
	n := 0
	f.Walk(func(s *Section, _ int) { n += len(s.ValidationRules) })
	return n
}

func (f *Framework) validate() error {
	if f.ID == "" {
		return fmt.Errorf("framework id is required")
	}
	if len(f.Sections) == 0 {
		return fmt.Errorf("framework %s has no sections", f.ID)
	}

	seen := make(map[string]bool)
	var err error
	f.Walk(func(s *Section, _ int) {
		if err != nil {
			return
		}
		if s.ID == "" {
			err = fmt.Errorf("framework %s has a section without id", f.ID)
			return
		}
		if seen[s.ID] {
			err = fmt.Errorf("framework %s has duplicate section %s", f.ID, s.ID)
			return
		}
		seen[s.ID] = true
		for _, r := range s.ValidationRules {
			switch r.Rule {
			case RuleRequired:
			case RuleMin, RuleMax:
				if r.Value == nil {
					err = fmt.Errorf("framework %s section %s: %s rule on %s needs a value", f.ID, s.ID, r.Rule, r.Field)
				}
			case RuleCustom:
				if r.Predicate == "" {
					err = fmt.Errorf("framework %s section %s: custom rule on %s needs a predicate", f.ID, s.ID, r.Field)
				}
			default:
				err = fmt.Errorf("framework %s section %s: unknown rule type %q", f.ID, s.ID, r.Rule)
			}
		}
	})
	return err
}

// ValidationResult is the outcome of evaluating one rule
type ValidationResult struct {
	SectionID string   `json:"section_id"`
	Field     string   `json:"field"`
	Rule      RuleType `json:"rule"`
	Predicate string   `json:"predicate,omitempty"`
	Passed    bool     `json:"passed"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// Summary counts validation outcomes
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// Summarize tallies results; failed rules count by severity
func Summarize(results []ValidationResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Passed {
			s.Passed++
			continue
		}
		switch r.Severity {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		}
	}
	return s
}

package reports

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
)

var (
	// ErrUnsupportedFormat is returned for a (framework, format) pair the
	// framework does not allow or no renderer is registered for
	ErrUnsupportedFormat = errors.New("unsupported report format")
	ErrReportNotFound    = errors.New("report not found")
)

// =====================================================
// Enums and Constants
// =====================================================

// ReportStatus is the lifecycle state of a generated report
type ReportStatus string

const (
	ReportStatusDraft      ReportStatus = "draft"
	ReportStatusFinal      ReportStatus = "final"
	ReportStatusSuperseded ReportStatus = "superseded"
)

// =====================================================
// JSON Types for JSONB columns
// =====================================================

// JSONB is a wrapper for JSONB columns
type JSONB map[string]interface{}

// Value implements driver.Valuer
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported JSONB source %T", value)
	}
	return json.Unmarshal(bytes, j)
}

// =====================================================
// Report Content
// =====================================================

// KeyFigure is a labelled number shown at the top of a section
type KeyFigure struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Table is tabular section content
type Table struct {
	Title   string     `json:"title,omitempty"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Content is what a section shows; renderers decide the layout
type Content struct {
	Paragraphs []string    `json:"paragraphs,omitempty"`
	KeyFigures []KeyFigure `json:"keyFigures,omitempty"`
	Tables     []Table     `json:"tables,omitempty"`
}

// IsEmpty reports whether nothing was generated
func (c *Content) IsEmpty() bool {
	return c == nil || (len(c.Paragraphs) == 0 && len(c.KeyFigures) == 0 && len(c.Tables) == 0)
}

// RenderedSection is one node of a generated report's section tree
type RenderedSection struct {
	ID          string                        `json:"id"`
	Title       string                        `json:"title"`
	Mandatory   bool                          `json:"mandatory"`
	Depth       int                           `json:"depth"`
	Placeholder bool                          `json:"placeholder"`
	Content     Content                       `json:"content"`
	Validation  []frameworks.ValidationResult `json:"validation,omitempty"`
	Subsections []RenderedSection             `json:"subsections,omitempty"`
}

// Walk visits every section depth-first
func Walk(sections []RenderedSection, fn func(s *RenderedSection)) {
	for i := range sections {
		fn(&sections[i])
		Walk(sections[i].Subsections, fn)
	}
}

// =====================================================
// Generated Report
// =====================================================

// Metadata identifies one generated report version
type Metadata struct {
	ReportID         uuid.UUID              `json:"reportId"`
	Framework        frameworks.FrameworkID `json:"framework"`
	FrameworkName    string                 `json:"frameworkName"`
	FrameworkVersion string                 `json:"frameworkVersion"`
	CompanyID        uuid.UUID              `json:"companyId"`
	Organization     string                 `json:"organization"`
	Period           emissions.Period       `json:"period"`
	Title            string                 `json:"title"`
	Author           string                 `json:"author,omitempty"`
	GeneratedAt      time.Time              `json:"generatedAt"`
	Version          int                    `json:"version"`
}

// GeneratedReport is one rendering attempt. It is never mutated after it is
// persisted apart from its status moving to superseded.
type GeneratedReport struct {
	Metadata          Metadata                      `json:"metadata"`
	Sections          []RenderedSection             `json:"sections"`
	ValidationResults []frameworks.ValidationResult `json:"validationResults"`
	Summary           frameworks.Summary            `json:"summary"`
	Completeness      float64                       `json:"completeness"`
	Format            frameworks.Format             `json:"format"`
	ContentType       string                        `json:"contentType"`
	Payload           []byte                        `json:"payload,omitempty"`
	PayloadHash       string                        `json:"payloadHash"`
	PayloadSize       int64                         `json:"payloadSize"`
	StorageKey        string                        `json:"storageKey,omitempty"`
	Status            ReportStatus                  `json:"status"`
	Disclosure        any                           `json:"disclosure,omitempty"`
	Warnings          []string                      `json:"warnings,omitempty"`
	Options           GenerateOptions               `json:"options"`
}

// ID is shorthand for Metadata.ReportID
func (r *GeneratedReport) ID() uuid.UUID {
	return r.Metadata.ReportID
}

// FileName is the download name for the payload
func (r *GeneratedReport) FileName() string {
	ext := string(r.Format)
	if r.Format == frameworks.FormatExcel {
		ext = "xlsx"
	}
	return fmt.Sprintf("%s_%d_v%d.%s", r.Metadata.Framework, r.Metadata.Period.Year(), r.Metadata.Version, ext)
}

// PlaceholderCount is the number of sections awaiting human narrative
func (r *GeneratedReport) PlaceholderCount() int {
	n := 0
	Walk(r.Sections, func(s *RenderedSection) {
		if s.Placeholder {
			n++
		}
	})
	return n
}

// GenerateOptions tunes one generation request
type GenerateOptions struct {
	Title      string                `json:"title,omitempty"`
	Author     string                `json:"author,omitempty"`
	Enrichment frameworks.Enrichment `json:"enrichment,omitempty"`
}

// =====================================================
// Request/Response Types
// =====================================================

// GenerateReportRequest asks for a new report version
type GenerateReportRequest struct {
	CompanyID  uuid.UUID              `json:"company_id" binding:"required"`
	Framework  frameworks.FrameworkID `json:"framework" binding:"required"`
	Format     frameworks.Format      `json:"format" binding:"required"`
	Year       int                    `json:"year" binding:"required"`
	Title      string                 `json:"title,omitempty"`
	Author     string                 `json:"author,omitempty"`
	Enrichment map[string]any         `json:"enrichment,omitempty"`
}

// ReportFilters narrows report listings
type ReportFilters struct {
	CompanyID *uuid.UUID              `form:"company_id"`
	Framework *frameworks.FrameworkID `form:"framework"`
	Format    *frameworks.Format      `form:"format"`
	Status    *ReportStatus           `form:"status"`
	Period    *emissions.Period       `form:"-"`
	Page      int                     `form:"page"`
	PageSize  int                     `form:"page_size"`
}

// ReportListResponse is a page of report summaries
type ReportListResponse struct {
	Reports    []*GeneratedReport `json:"reports"`
	TotalCount int                `json:"total_count"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
}

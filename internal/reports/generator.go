package reports

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/inventory"
)

// Renderer encodes a generated report into one output format
type Renderer interface {
	Format() frameworks.Format
	ContentType() string
	Render(report *GeneratedReport, inv *inventory.Inventory) ([]byte, error)
}

// SectionInput is everything a content generator may read
type SectionInput struct {
	Inventory  *inventory.Inventory
	Framework  *frameworks.Framework
	Section    *frameworks.Section
	Enrichment frameworks.Enrichment
	Options    GenerateOptions
}

// ContentFunc fills one section. Returning nil or empty content falls back to
// the section's narrative field and then to a placeholder.
type ContentFunc func(in SectionInput) *Content

// Generator turns an inventory into a rendered framework report
type Generator struct {
	mapper    *frameworks.Mapper
	renderers map[frameworks.Format]Renderer
	content   map[string]ContentFunc
	logger    *zap.Logger
	now       func() time.Time
}

// NewGenerator creates a generator with the built-in content generators
func NewGenerator(mapper *frameworks.Mapper, logger *zap.Logger, renderers ...Renderer) *Generator {
	g := &Generator{
		mapper:    mapper,
		renderers: make(map[frameworks.Format]Renderer),
		content:   builtinContent(),
		logger:    logger,
		now:       time.Now,
	}
	for _, r := range renderers {
		g.RegisterRenderer(r)
	}
	return g
}

// RegisterRenderer installs the renderer for its format
func (g *Generator) RegisterRenderer(r Renderer) {
	g.renderers[r.Format()] = r
}

// RegisterContent installs a content generator under a section content key
func (g *Generator) RegisterContent(key string, fn ContentFunc) {
	g.content[key] = fn
}

// Frameworks exposes the framework catalog
func (g *Generator) Frameworks() *frameworks.Catalog {
	return g.mapper.Catalog()
}

// Generate builds a report. Validation failures never fail generation; they
// lower completeness and are returned on the report.
func (g *Generator) Generate(ctx context.Context, inv *inventory.Inventory, id frameworks.FrameworkID, format frameworks.Format, opts GenerateOptions) (*GeneratedReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := g.mapper.Catalog().Get(id)
	if err != nil {
		return nil, err
	}
	if !f.SupportsFormat(format) {
		return nil, fmt.Errorf("%w: %s does not support %s", ErrUnsupportedFormat, f.ID, format)
	}
	renderer, ok := g.renderers[format]
	if !ok {
		return nil, fmt.Errorf("%w: no renderer for %s", ErrUnsupportedFormat, format)
	}

	disclosure, err := g.mapper.Map(inv, f.ID, opts.Enrichment)
	if err != nil {
		return nil, fmt.Errorf("failed to map inventory: %w", err)
	}

	bySection := make(map[string][]frameworks.ValidationResult)
	for _, v := range disclosure.Validation {
		bySection[v.SectionID] = append(bySection[v.SectionID], v)
	}

	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("%s Report %d", f.Name, inv.Period.Year())
	}

	report := &GeneratedReport{
		Metadata: Metadata{
			ReportID:         uuid.New(),
			Framework:        f.ID,
			FrameworkName:    f.Name,
			FrameworkVersion: f.Version,
			CompanyID:        inv.Organization.ID,
			Organization:     inv.Organization.Name,
			Period:           inv.Period,
			Title:            title,
			Author:           opts.Author,
			GeneratedAt:      g.now(),
			Version:          1,
		},
		ValidationResults: disclosure.Validation,
		Summary:           disclosure.Summary,
		Completeness:      Completeness(disclosure.Summary),
		Format:            format,
		ContentType:       renderer.ContentType(),
		Status:            ReportStatusDraft,
		Disclosure:        disclosure.Body,
		Warnings:          inv.Warnings,
		Options:           opts,
	}
	report.Sections = g.buildSections(f.Sections, 0, SectionInput{
		Inventory:  inv,
		Framework:  f,
		Enrichment: opts.Enrichment,
		Options:    opts,
	}, bySection)

	payload, err := renderer.Render(report, inv)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s report: %w", format, err)
	}
	report.Payload = payload
	report.PayloadSize = int64(len(payload))
	report.PayloadHash = HashPayload(payload)

	g.logger.Info("Generated report",
		zap.String("report_id", report.Metadata.ReportID.String()),
		zap.String("framework", string(f.ID)),
		zap.String("format", string(format)),
		zap.Float64("completeness", report.Completeness),
		zap.Int("placeholders", report.PlaceholderCount()),
	)
	return report, nil
}

func (g *Generator) buildSections(sections []frameworks.Section, depth int, in SectionInput, validation map[string][]frameworks.ValidationResult) []RenderedSection {
	out := make([]RenderedSection, 0, len(sections))
	for i := range sections {
		s := &sections[i]
		in.Section = s

		rs := RenderedSection{
			ID:         s.ID,
			Title:      s.Title,
			Mandatory:  s.Mandatory,
			Depth:      depth,
			Validation: validation[s.ID],
		}

		var content *Content
		if fn, ok := g.content[s.ContentKey()]; ok {
			content = fn(in)
		}
		if content.IsEmpty() && s.NarrativeField != "" {
			if text := in.Enrichment.String(s.NarrativeField); text != "" {
				content = &Content{Paragraphs: []string{text}}
			}
		}
		if content.IsEmpty() {
			rs.Placeholder = true
			content = placeholder(s)
		}
		rs.Content = *content

		rs.Subsections = g.buildSections(s.Subsections, depth+1, in, validation)
		out = append(out, rs)
	}
	return out
}

func placeholder(s *frameworks.Section) *Content {
	text := fmt.Sprintf("[%s: content to be provided by the reporting entity]", s.Title)
	if s.EstimatedSize != "" {
		text = fmt.Sprintf("[%s: content to be provided by the reporting entity, approximately %s]", s.Title, s.EstimatedSize)
	}
	return &Content{Paragraphs: []string{text}}
}

// Completeness is passed rules over total rules as a percentage. A framework
// without rules is complete.
func Completeness(s frameworks.Summary) float64 {
	if s.Total == 0 {
		return 100
	}
	return float64(s.Passed) / float64(s.Total) * 100
}

// HashPayload is the hex SHA-256 of a rendered payload
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

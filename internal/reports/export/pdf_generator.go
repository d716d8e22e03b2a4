package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/inventory"
	"carbon-scribe/ghg-reporting/internal/reports"
)

// PDFGenerator lays out one PDF document
type PDFGenerator struct {
	pdf     *gofpdf.Fpdf
	options PDFOptions
	tr      func(string) string
}

// PDFOptions configures PDF generation
type PDFOptions struct {
	PageSize       string     `json:"page_size"`   // A4, Letter, Legal
	Orientation    string     `json:"orientation"` // portrait, landscape
	Title          string     `json:"title"`
	Subtitle       string     `json:"subtitle,omitempty"`
	Author         string     `json:"author,omitempty"`
	DateFormat     string     `json:"date_format"`
	IncludeHeader  bool       `json:"include_header"`
	IncludeFooter  bool       `json:"include_footer"`
	IncludePageNum bool       `json:"include_page_num"`
	IncludeDate    bool       `json:"include_date"`
	HeaderColor    PDFColor   `json:"header_color"`
	AlternateRows  bool       `json:"alternate_rows"`
	AlternateColor PDFColor   `json:"alternate_color"`
	FontFamily     string     `json:"font_family"`
	FontSize       float64    `json:"font_size"`
	HeaderFontSize float64    `json:"header_font_size"`
	TitleFontSize  float64    `json:"title_font_size"`
	Margins        PDFMargins `json:"margins"`
}

// PDFColor represents an RGB color
type PDFColor struct {
	R int `json:"r"`
	G int `json:"g"`
	B int `json:"b"`
}

// PDFMargins represents page margins
type PDFMargins struct {
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:       "A4",
		Orientation:    "portrait",
		Title:          "Report",
		DateFormat:     "2006-01-02",
		IncludeHeader:  true,
		IncludeFooter:  true,
		IncludePageNum: true,
		IncludeDate:    true,
		HeaderColor:    PDFColor{R: 46, G: 125, B: 50},
		AlternateRows:  true,
		AlternateColor: PDFColor{R: 242, G: 242, B: 242},
		FontFamily:     "Arial",
		FontSize:       10,
		HeaderFontSize: 10,
		TitleFontSize:  18,
		Margins: PDFMargins{
			Left:   15,
			Right:  15,
			Top:    20,
			Bottom: 20,
		},
	}
}

// NewPDFGenerator creates a new PDF generator
func NewPDFGenerator(options PDFOptions) *PDFGenerator {
	orientation := "P"
	if options.Orientation == "landscape" {
		orientation = "L"
	}

	pdf := gofpdf.New(orientation, "mm", options.PageSize, "")
	pdf.SetMargins(options.Margins.Left, options.Margins.Top, options.Margins.Right)
	pdf.SetAutoPageBreak(true, options.Margins.Bottom)
	pdf.SetTitle(options.Title, true)
	if options.Author != "" {
		pdf.SetAuthor(options.Author, true)
	}

	g := &PDFGenerator{
		pdf:     pdf,
		options: options,
		tr:      pdf.UnicodeTranslatorFromDescriptor(""),
	}
	if options.IncludeFooter {
		g.setFooter()
	}
	return g
}

// =====================================================
// Renderer
// =====================================================

// PDFRenderer renders reports as paginated PDF documents
type PDFRenderer struct {
	options PDFOptions
}

// NewPDFRenderer creates a PDF renderer
func NewPDFRenderer(options PDFOptions) *PDFRenderer {
	return &PDFRenderer{options: options}
}

func (r *PDFRenderer) Format() frameworks.Format { return frameworks.FormatPDF }

func (r *PDFRenderer) ContentType() string { return "application/pdf" }

// Render lays out the cover block, the section tree and a validation appendix
func (r *PDFRenderer) Render(report *reports.GeneratedReport, inv *inventory.Inventory) ([]byte, error) {
	m := report.Metadata
	opts := r.options
	opts.Title = m.Title
	opts.Subtitle = fmt.Sprintf("%s | %s | Version %d", m.Organization, m.Period.String(), m.Version)
	opts.Author = m.Author

	g := NewPDFGenerator(opts)
	g.pdf.SetCreationDate(m.GeneratedAt)

	g.pdf.AddPage()
	g.addTitle()
	g.addSubtitle()
	if opts.IncludeDate {
		g.addDate(m.GeneratedAt)
	}

	g.AddSummarySection("Report Summary", summaryItems(report, inv))

	for i := range report.Sections {
		g.addSection(&report.Sections[i])
	}

	if len(report.ValidationResults) > 0 {
		g.pdf.AddPage()
		g.addHeading("Appendix: Validation Results", 0)
		g.addTable(reports.Table{Columns: validationColumns, Rows: stringRows(g, validationRows(report))})
	}

	if err := g.pdf.Error(); err != nil {
		return nil, fmt.Errorf("failed to lay out pdf: %w", err)
	}
	return g.OutputToBytes()
}

func stringRows(g *PDFGenerator, rows [][]interface{}) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = g.formatValue(v)
		}
	}
	return out
}

// =====================================================
// Layout
// =====================================================

// addTitle adds the report title
func (g *PDFGenerator) addTitle() {
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.TitleFontSize)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.MultiCell(0, 10, g.tr(g.options.Title), "", "C", false)
}

// addSubtitle adds the report subtitle
func (g *PDFGenerator) addSubtitle() {
	if g.options.Subtitle == "" {
		return
	}
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize+2)
	g.pdf.SetTextColor(100, 100, 100)
	g.pdf.CellFormat(0, 8, g.tr(g.options.Subtitle), "", 1, "C", false, 0, "")
}

// addDate adds the report generation date
func (g *PDFGenerator) addDate(generatedAt time.Time) {
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize-1)
	g.pdf.SetTextColor(128, 128, 128)
	dateStr := fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(g.options.DateFormat))
	g.pdf.CellFormat(0, 6, dateStr, "", 1, "R", false, 0, "")
}

func (g *PDFGenerator) addHeading(title string, depth int) {
	size := g.options.FontSize + 4
	switch depth {
	case 0:
	case 1:
		size = g.options.FontSize + 2
	default:
		size = g.options.FontSize + 1
	}
	g.pdf.Ln(6)
	g.pdf.SetFont(g.options.FontFamily, "B", size)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.MultiCell(0, 7, g.tr(title), "", "L", false)
	g.pdf.Ln(1)
}

func (g *PDFGenerator) addSection(s *reports.RenderedSection) {
	g.addHeading(s.Title, s.Depth)

	if s.Placeholder {
		g.pdf.SetFont(g.options.FontFamily, "I", g.options.FontSize)
		g.pdf.SetTextColor(150, 150, 150)
	} else {
		g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
		g.pdf.SetTextColor(0, 0, 0)
	}
	for _, p := range s.Content.Paragraphs {
		g.pdf.MultiCell(0, 5, g.tr(p), "", "J", false)
		g.pdf.Ln(2)
	}

	if len(s.Content.KeyFigures) > 0 {
		items := make([]summaryItem, 0, len(s.Content.KeyFigures))
		for _, kf := range s.Content.KeyFigures {
			items = append(items, summaryItem{Label: kf.Label, Value: g.formatValue(kf.Value) + " " + kf.Unit})
		}
		g.addKeyValues(items)
	}

	for _, t := range s.Content.Tables {
		g.addTable(t)
	}

	for i := range s.Subsections {
		g.addSection(&s.Subsections[i])
	}
}

func (g *PDFGenerator) addTable(t reports.Table) {
	if len(t.Columns) == 0 {
		return
	}
	g.pdf.Ln(2)
	if t.Title != "" {
		g.pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize)
		g.pdf.SetTextColor(60, 60, 60)
		g.pdf.CellFormat(0, 6, g.tr(t.Title), "", 1, "L", false, 0, "")
	}

	widths := g.calculateColumnWidths(t.Columns, t.Rows)
	if g.options.IncludeHeader {
		g.addTableHeader(t.Columns, widths)
	}
	g.addTableData(t.Columns, t.Rows, widths)
	g.pdf.Ln(2)
}

// calculateColumnWidths sizes columns to their content and scales them to the page
func (g *PDFGenerator) calculateColumnWidths(labels []string, rows [][]string) []float64 {
	pageWidth, _ := g.pdf.GetPageSize()
	availableWidth := pageWidth - g.options.Margins.Left - g.options.Margins.Right

	g.pdf.SetFont(g.options.FontFamily, "B", g.options.HeaderFontSize)
	maxWidths := make([]float64, len(labels))
	for i, label := range labels {
		width := g.pdf.GetStringWidth(g.tr(label)) + 4
		if width > maxWidths[i] {
			maxWidths[i] = width
		}
	}

	// sample the first 100 rows
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
	sampleSize := len(rows)
	if sampleSize > 100 {
		sampleSize = 100
	}
	for _, row := range rows[:sampleSize] {
		for i := range labels {
			if i >= len(row) {
				break
			}
			width := g.pdf.GetStringWidth(g.tr(row[i])) + 4
			if width > maxWidths[i] {
				maxWidths[i] = width
			}
		}
	}

	totalWidth := 0.0
	for _, w := range maxWidths {
		totalWidth += w
	}
	if totalWidth > availableWidth {
		scale := availableWidth / totalWidth
		for i := range maxWidths {
			maxWidths[i] *= scale
		}
	}

	return maxWidths
}

// addTableHeader adds the table header row
func (g *PDFGenerator) addTableHeader(labels []string, widths []float64) {
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.HeaderFontSize)
	g.pdf.SetFillColor(g.options.HeaderColor.R, g.options.HeaderColor.G, g.options.HeaderColor.B)
	g.pdf.SetTextColor(255, 255, 255)

	for i, label := range labels {
		g.pdf.CellFormat(widths[i], 8, g.fit(label, widths[i]), "1", 0, "C", true, 0, "")
	}
	g.pdf.Ln(-1)
}

// addTableData adds the data rows, repeating the header after a page break
func (g *PDFGenerator) addTableData(labels []string, rows [][]string, widths []float64) {
	g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
	g.pdf.SetTextColor(0, 0, 0)

	_, pageHeight := g.pdf.GetPageSize()
	for i, row := range rows {
		if g.options.AlternateRows && i%2 == 1 {
			g.pdf.SetFillColor(g.options.AlternateColor.R, g.options.AlternateColor.G, g.options.AlternateColor.B)
		} else {
			g.pdf.SetFillColor(255, 255, 255)
		}

		if g.pdf.GetY()+7 > pageHeight-g.options.Margins.Bottom {
			g.pdf.AddPage()
			if g.options.IncludeHeader {
				g.addTableHeader(labels, widths)
				g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
				g.pdf.SetTextColor(0, 0, 0)
			}
		}

		for j := range labels {
			val := ""
			if j < len(row) {
				val = row[j]
			}
			g.pdf.CellFormat(widths[j], 7, g.fit(val, widths[j]), "1", 0, "L", true, 0, "")
		}
		g.pdf.Ln(-1)
	}
}

// fit truncates a cell value to the column width
func (g *PDFGenerator) fit(val string, width float64) string {
	val = g.tr(val)
	if g.pdf.GetStringWidth(val)+2 <= width {
		return val
	}
	runes := []rune(val)
	for len(runes) > 0 && g.pdf.GetStringWidth(string(runes)+"...")+2 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

// formatValue formats a value for display
func (g *PDFGenerator) formatValue(val interface{}) string {
	if val == nil {
		return ""
	}

	switch v := val.(type) {
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format(g.options.DateFormat)
	case float64:
		return fmt.Sprintf("%.2f", v)
	case float32:
		return fmt.Sprintf("%.2f", v)
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// AddSummarySection adds a titled block of labelled values
func (g *PDFGenerator) AddSummarySection(title string, items []summaryItem) {
	g.pdf.Ln(8)
	g.pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize+2)
	g.pdf.SetTextColor(0, 0, 0)
	g.pdf.CellFormat(0, 8, g.tr(title), "", 1, "L", false, 0, "")
	g.pdf.Ln(2)
	g.addKeyValues(items)
}

func (g *PDFGenerator) addKeyValues(items []summaryItem) {
	g.pdf.SetTextColor(0, 0, 0)
	for _, item := range items {
		g.pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize)
		g.pdf.CellFormat(70, 6, g.tr(item.Label+":"), "", 0, "L", false, 0, "")
		g.pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
		g.pdf.CellFormat(0, 6, g.tr(g.formatValue(item.Value)), "", 1, "L", false, 0, "")
	}
}

// OutputToBytes returns the PDF as bytes
func (g *PDFGenerator) OutputToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := g.pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// setFooter sets up the page footer
func (g *PDFGenerator) setFooter() {
	g.pdf.SetFooterFunc(func() {
		g.pdf.SetY(-15)
		g.pdf.SetFont(g.options.FontFamily, "", 8)
		g.pdf.SetTextColor(128, 128, 128)

		if g.options.IncludePageNum {
			pageInfo := fmt.Sprintf("Page %d", g.pdf.PageNo())
			g.pdf.CellFormat(0, 10, pageInfo, "", 0, "C", false, 0, "")
		}
	})
}

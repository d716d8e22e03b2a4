package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/inventory"
	"carbon-scribe/ghg-reporting/internal/reports"
)

// ExcelOptions configures Excel export behavior
type ExcelOptions struct {
	IncludeHeader bool              `json:"include_header"`
	FreezeHeader  bool              `json:"freeze_header"`
	AutoFilter    bool              `json:"auto_filter"`
	NumberFormat  string            `json:"number_format"`
	HeaderStyle   *ExcelStyleConfig `json:"header_style,omitempty"`
	DataStyle     *ExcelStyleConfig `json:"data_style,omitempty"`
	AutoWidth     bool              `json:"auto_width"`
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool   `json:"font_bold"`
	FontSize  int    `json:"font_size"`
	FontColor string `json:"font_color"`
	FillColor string `json:"fill_color"`
	Alignment string `json:"alignment"` // left, center, right
	Border    bool   `json:"border"`
	WrapText  bool   `json:"wrap_text"`
}

// DefaultExcelOptions returns default Excel export options
func DefaultExcelOptions() ExcelOptions {
	return ExcelOptions{
		IncludeHeader: true,
		FreezeHeader:  true,
		AutoFilter:    true,
		NumberFormat:  "#,##0.000",
		AutoWidth:     true,
		HeaderStyle: &ExcelStyleConfig{
			FontBold:  true,
			FontSize:  11,
			FillColor: "2E7D32",
			FontColor: "FFFFFF",
			Alignment: "center",
			Border:    true,
		},
		DataStyle: &ExcelStyleConfig{
			FontSize:  11,
			Alignment: "left",
			Border:    true,
		},
	}
}

// Sheet names of the rendered workbook
const (
	SheetSummary    = "Summary"
	SheetLineItems  = "Line Items"
	SheetScope3     = "Scope 3"
	SheetValidation = "Validation"
	SheetSections   = "Sections"
)

// ExcelRenderer renders reports as multi-sheet workbooks
type ExcelRenderer struct {
	options ExcelOptions
}

// NewExcelRenderer creates an Excel renderer
func NewExcelRenderer(options ExcelOptions) *ExcelRenderer {
	return &ExcelRenderer{options: options}
}

func (r *ExcelRenderer) Format() frameworks.Format { return frameworks.FormatExcel }

func (r *ExcelRenderer) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// Render writes the summary, line items, scope 3 breakdown, validation and
// section sheets
func (r *ExcelRenderer) Render(report *reports.GeneratedReport, inv *inventory.Inventory) ([]byte, error) {
	e := NewMultiSheetExporter(r.options)
	defer e.Close()

	m := report.Metadata
	if err := e.file.SetDocProps(&excelize.DocProperties{
		Title:       m.Title,
		Creator:     m.Author,
		Subject:     m.FrameworkName,
		Created:     m.GeneratedAt.UTC().Format(time.RFC3339),
		Modified:    m.GeneratedAt.UTC().Format(time.RFC3339),
		Description: fmt.Sprintf("%s %s version %d", m.Organization, m.Period.String(), m.Version),
	}); err != nil {
		return nil, fmt.Errorf("failed to set document properties: %w", err)
	}

	summary := make([][]interface{}, 0, 12)
	for _, item := range summaryItems(report, inv) {
		summary = append(summary, []interface{}{item.Label, item.Value})
	}
	if err := e.AddSheet(SheetSummary, []string{"Item", "Value"}, summary); err != nil {
		return nil, err
	}
	if err := e.AddSheet(SheetLineItems, lineItemColumns, lineItems(inv)); err != nil {
		return nil, err
	}
	if err := e.AddSheet(SheetScope3, []string{"category", "name", "emission_tons", "result_count"}, scope3Rows(inv)); err != nil {
		return nil, err
	}
	if err := e.AddSheet(SheetValidation, validationColumns, validationRows(report)); err != nil {
		return nil, err
	}
	if err := e.AddSheet(SheetSections, []string{"id", "title", "depth", "mandatory", "placeholder", "text"}, sectionRows(report)); err != nil {
		return nil, err
	}

	buf, err := e.file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func sectionRows(report *reports.GeneratedReport) [][]interface{} {
	var rows [][]interface{}
	reports.Walk(report.Sections, func(s *reports.RenderedSection) {
		rows = append(rows, []interface{}{
			s.ID, s.Title, s.Depth, s.Mandatory, s.Placeholder, strings.Join(s.Content.Paragraphs, "\n\n"),
		})
	})
	return rows
}

// =====================================================
// Sheet writing
// =====================================================

// ExcelExporter writes one sheet of a workbook
type ExcelExporter struct {
	file      *excelize.File
	options   ExcelOptions
	sheetName string
}

// WriteHeader writes the header row with styling
func (e *ExcelExporter) WriteHeader(columns []string) error {
	if !e.options.IncludeHeader {
		return nil
	}

	headerStyleID := 0
	if e.options.HeaderStyle != nil {
		style, err := e.createStyle(e.options.HeaderStyle)
		if err != nil {
			return fmt.Errorf("failed to create header style: %w", err)
		}
		headerStyleID = style
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := e.file.SetCellValue(e.sheetName, cell, col); err != nil {
			return fmt.Errorf("failed to set header cell: %w", err)
		}
		if headerStyleID > 0 {
			e.file.SetCellStyle(e.sheetName, cell, cell, headerStyleID)
		}
	}

	if e.options.FreezeHeader {
		e.file.SetPanes(e.sheetName, &excelize.Panes{
			Freeze:      true,
			Split:       false,
			XSplit:      0,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		})
	}

	return nil
}

// WriteRows writes data rows below the header
func (e *ExcelExporter) WriteRows(rows [][]interface{}, columns []string) error {
	startRow := 1
	if e.options.IncludeHeader {
		startRow = 2
	}

	dataStyleID := 0
	if e.options.DataStyle != nil {
		style, err := e.createStyle(e.options.DataStyle)
		if err != nil {
			return fmt.Errorf("failed to create data style: %w", err)
		}
		dataStyleID = style
	}
	numberStyleID := 0
	if e.options.NumberFormat != "" {
		style, err := e.file.NewStyle(&excelize.Style{CustomNumFmt: &e.options.NumberFormat})
		if err != nil {
			return fmt.Errorf("failed to create number style: %w", err)
		}
		numberStyleID = style
	}

	columnWidths := make(map[int]float64)
	for i, col := range columns {
		columnWidths[i] = e.estimateCellWidth(col)
	}

	for rowIdx, row := range rows {
		rowNum := startRow + rowIdx
		for colIdx := range columns {
			var val interface{}
			if colIdx < len(row) {
				val = row[colIdx]
			}
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowNum)

			if err := e.setCellValue(cell, val); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}

			switch val.(type) {
			case float64, float32:
				if numberStyleID > 0 {
					e.file.SetCellStyle(e.sheetName, cell, cell, numberStyleID)
				}
			default:
				if dataStyleID > 0 {
					e.file.SetCellStyle(e.sheetName, cell, cell, dataStyleID)
				}
			}

			if e.options.AutoWidth {
				if width := e.estimateCellWidth(val); width > columnWidths[colIdx] {
					columnWidths[colIdx] = width
				}
			}
		}
	}

	if e.options.AutoFilter && e.options.IncludeHeader && len(rows) > 0 {
		lastCol, _ := excelize.CoordinatesToCellName(len(columns), 1)
		e.file.AutoFilter(e.sheetName, "A1:"+lastCol, nil)
	}

	if e.options.AutoWidth {
		for colIdx, width := range columnWidths {
			colName, _ := excelize.ColumnNumberToName(colIdx + 1)
			// min width 10, max width 60
			if width < 10 {
				width = 10
			}
			if width > 60 {
				width = 60
			}
			e.file.SetColWidth(e.sheetName, colName, colName, width)
		}
	}

	return nil
}

// createStyle creates an Excel style from config
func (e *ExcelExporter) createStyle(config *ExcelStyleConfig) (int, error) {
	style := &excelize.Style{}

	style.Font = &excelize.Font{
		Bold: config.FontBold,
		Size: float64(config.FontSize),
	}
	if config.FontColor != "" {
		style.Font.Color = config.FontColor
	}

	if config.FillColor != "" {
		style.Fill = excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{config.FillColor},
		}
	}

	if config.Alignment != "" || config.WrapText {
		style.Alignment = &excelize.Alignment{
			Horizontal: config.Alignment,
			WrapText:   config.WrapText,
		}
	}

	if config.Border {
		style.Border = []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		}
	}

	return e.file.NewStyle(style)
}

// setCellValue sets a cell value, leaving nil values blank
func (e *ExcelExporter) setCellValue(cell string, val interface{}) error {
	switch v := val.(type) {
	case nil:
		return e.file.SetCellValue(e.sheetName, cell, "")
	case time.Time:
		if v.IsZero() {
			return e.file.SetCellValue(e.sheetName, cell, "")
		}
		return e.file.SetCellValue(e.sheetName, cell, v)
	default:
		return e.file.SetCellValue(e.sheetName, cell, v)
	}
}

// estimateCellWidth estimates the display width of a cell value
func (e *ExcelExporter) estimateCellWidth(val interface{}) float64 {
	if val == nil {
		return 0
	}
	str := fmt.Sprintf("%v", val)
	if i := strings.IndexByte(str, '\n'); i >= 0 {
		str = str[:i]
	}
	return float64(len(str)) * 1.2
}

// MultiSheetExporter builds a workbook one sheet at a time
type MultiSheetExporter struct {
	file    *excelize.File
	options ExcelOptions
	sheets  int
}

// NewMultiSheetExporter creates a multi-sheet Excel exporter
func NewMultiSheetExporter(options ExcelOptions) *MultiSheetExporter {
	return &MultiSheetExporter{
		file:    excelize.NewFile(),
		options: options,
	}
}

// AddSheet adds a sheet with a header and data rows. The first sheet
// replaces the workbook's default sheet.
func (e *MultiSheetExporter) AddSheet(name string, columns []string, rows [][]interface{}) error {
	if e.sheets == 0 {
		if err := e.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
	} else if _, err := e.file.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	e.sheets++

	sheet := &ExcelExporter{file: e.file, options: e.options, sheetName: name}
	if err := sheet.WriteHeader(columns); err != nil {
		return err
	}
	return sheet.WriteRows(rows, columns)
}

// Close closes the workbook
func (e *MultiSheetExporter) Close() error {
	return e.file.Close()
}

package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/inventory"
	"carbon-scribe/ghg-reporting/internal/reports"
)

// CSVExporter exports rows to CSV format
type CSVExporter struct {
	writer        *csv.Writer
	options       CSVOptions
	headerWritten bool
}

// CSVOptions configures CSV export behavior
type CSVOptions struct {
	Delimiter       rune   `json:"delimiter"`        // Field delimiter (default: comma)
	UseCRLF         bool   `json:"use_crlf"`         // Use \r\n for line terminator
	IncludeHeader   bool   `json:"include_header"`   // Include column headers
	IncludeTotals   bool   `json:"include_totals"`   // Append scope total rows
	DateFormat      string `json:"date_format"`      // Format for date fields
	TimestampFormat string `json:"timestamp_format"` // Format for timestamp fields
	NumberFormat    string `json:"number_format"`    // Format for numbers (e.g., "%.3f")
	NullValue       string `json:"null_value"`       // String to use for null values
	BoolTrueValue   string `json:"bool_true_value"`  // String for true
	BoolFalseValue  string `json:"bool_false_value"` // String for false
}

// DefaultCSVOptions returns default CSV export options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		Delimiter:       ',',
		UseCRLF:         false,
		IncludeHeader:   true,
		IncludeTotals:   true,
		DateFormat:      "2006-01-02",
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		NumberFormat:    "",
		NullValue:       "",
		BoolTrueValue:   "true",
		BoolFalseValue:  "false",
	}
}

// NewCSVExporter creates a new CSV exporter
func NewCSVExporter(w io.Writer, options CSVOptions) *CSVExporter {
	writer := csv.NewWriter(w)
	writer.Comma = options.Delimiter
	writer.UseCRLF = options.UseCRLF

	return &CSVExporter{
		writer:  writer,
		options: options,
	}
}

// WriteHeader writes the CSV header row
func (e *CSVExporter) WriteHeader(columns []string) error {
	if !e.options.IncludeHeader {
		return nil
	}

	if err := e.writer.Write(columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	e.headerWritten = true
	return nil
}

// WriteRow writes a single row of data
func (e *CSVExporter) WriteRow(row []interface{}) error {
	record := make([]string, len(row))
	for i, val := range row {
		record[i] = e.formatValue(val)
	}

	if err := e.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	return nil
}

// WriteRows writes multiple rows of data
func (e *CSVExporter) WriteRows(rows [][]interface{}) error {
	for _, row := range rows {
		if err := e.WriteRow(row); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes any buffered data to the underlying writer
func (e *CSVExporter) Flush() error {
	e.writer.Flush()
	return e.writer.Error()
}

// formatValue formats a value for CSV output
func (e *CSVExporter) formatValue(val interface{}) string {
	if val == nil {
		return e.options.NullValue
	}

	switch v := val.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		if e.options.NumberFormat != "" {
			return fmt.Sprintf(e.options.NumberFormat, v)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return e.options.BoolTrueValue
		}
		return e.options.BoolFalseValue
	case time.Time:
		if v.IsZero() {
			return e.options.NullValue
		}
		if v.Hour() != 0 || v.Minute() != 0 || v.Second() != 0 {
			return v.Format(e.options.TimestampFormat)
		}
		return v.Format(e.options.DateFormat)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// =====================================================
// Renderer
// =====================================================

// CSVRenderer renders the inventory line items as a flat table
type CSVRenderer struct {
	options CSVOptions
}

// NewCSVRenderer creates a CSV renderer
func NewCSVRenderer(options CSVOptions) *CSVRenderer {
	return &CSVRenderer{options: options}
}

func (r *CSVRenderer) Format() frameworks.Format { return frameworks.FormatCSV }

func (r *CSVRenderer) ContentType() string { return "text/csv; charset=utf-8" }

// Render writes one row per emission result, then optional total rows whose
// scope column names the total
func (r *CSVRenderer) Render(_ *reports.GeneratedReport, inv *inventory.Inventory) ([]byte, error) {
	var buf bytes.Buffer
	e := NewCSVExporter(&buf, r.options)

	if err := e.WriteHeader(lineItemColumns); err != nil {
		return nil, err
	}
	if err := e.WriteRows(lineItems(inv)); err != nil {
		return nil, err
	}
	if r.options.IncludeTotals {
		if err := e.WriteRows(totalRows(inv)); err != nil {
			return nil, err
		}
	}

	if err := e.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func totalRows(inv *inventory.Inventory) [][]interface{} {
	total := func(label, method string, tons float64) []interface{} {
		row := make([]interface{}, len(lineItemColumns))
		row[0], row[1], row[6] = label, method, tons
		return row
	}
	return [][]interface{}{
		total("total_scope_1", "", inv.Totals.Scope1),
		total("total_scope_2", "location_based", inv.Totals.Scope2LocationBased),
		total("total_scope_2", "market_based", inv.Totals.Scope2MarketBased),
		total("total_scope_3", "", inv.Totals.Scope3),
		total("total", "market_based", inv.Totals.GrandTotal),
		total("total", "location_based", inv.Totals.GrandTotalLocationBased),
	}
}

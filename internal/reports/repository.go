package reports

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
)

// Repository defines the interface for generated report storage
type Repository interface {
	CreateReport(ctx context.Context, report *GeneratedReport) error
	GetReport(ctx context.Context, id uuid.UUID) (*GeneratedReport, error)
	GetLatestReport(ctx context.Context, companyID uuid.UUID, framework frameworks.FrameworkID, format frameworks.Format, period emissions.Period) (*GeneratedReport, error)
	UpdateReportStatus(ctx context.Context, id uuid.UUID, status ReportStatus) error
	ListReports(ctx context.Context, filters *ReportFilters) ([]*GeneratedReport, int, error)
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const reportColumns = `id, company_id, organization, framework, framework_name, framework_version,
			   format, period_start, period_end, version, status, title, author, completeness,
			   summary, sections, validation_results, warnings, disclosure, content_type,
			   payload_hash, payload_size, storage_key, options, generated_at`

// =====================================================
// Generated Reports
// =====================================================

func (r *PostgresRepository) CreateReport(ctx context.Context, report *GeneratedReport) error {
	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	sectionsJSON, err := json.Marshal(report.Sections)
	if err != nil {
		return fmt.Errorf("failed to marshal sections: %w", err)
	}
	validationJSON, err := json.Marshal(report.ValidationResults)
	if err != nil {
		return fmt.Errorf("failed to marshal validation results: %w", err)
	}
	warningsJSON, _ := json.Marshal(report.Warnings)
	disclosureJSON, err := json.Marshal(report.Disclosure)
	if err != nil {
		return fmt.Errorf("failed to marshal disclosure: %w", err)
	}
	optionsJSON, err := json.Marshal(report.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	m := report.Metadata
	query := `
		INSERT INTO generated_reports (
			id, company_id, organization, framework, framework_name, framework_version,
			format, period_start, period_end, version, status, title, author, completeness,
			summary, sections, validation_results, warnings, disclosure, content_type,
			payload_hash, payload_size, storage_key, options, generated_at, payload
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26
		)
	`

	_, err = r.db.ExecContext(ctx, query,
		m.ReportID, m.CompanyID, m.Organization, m.Framework, m.FrameworkName, m.FrameworkVersion,
		report.Format, m.Period.Start, m.Period.End, m.Version, report.Status, m.Title, m.Author,
		report.Completeness, summaryJSON, sectionsJSON, validationJSON, warningsJSON, disclosureJSON,
		report.ContentType, report.PayloadHash, report.PayloadSize, report.StorageKey, optionsJSON,
		m.GeneratedAt, report.Payload,
	)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetReport(ctx context.Context, id uuid.UUID) (*GeneratedReport, error) {
	query := `SELECT ` + reportColumns + `, payload FROM generated_reports WHERE id = $1`

	report, err := scanReport(r.db.QueryRowContext(ctx, query, id), true)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

func (r *PostgresRepository) GetLatestReport(ctx context.Context, companyID uuid.UUID, framework frameworks.FrameworkID, format frameworks.Format, period emissions.Period) (*GeneratedReport, error) {
	query := `SELECT ` + reportColumns + ` FROM generated_reports
		WHERE company_id = $1 AND framework = $2 AND format = $3 AND period_start = $4 AND period_end = $5
		ORDER BY version DESC LIMIT 1`

	report, err := scanReport(r.db.QueryRowContext(ctx, query, companyID, framework, format, period.Start, period.End), false)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrReportNotFound
		}
		return nil, fmt.Errorf("failed to get latest report: %w", err)
	}
	return report, nil
}

func (r *PostgresRepository) UpdateReportStatus(ctx context.Context, id uuid.UUID, status ReportStatus) error {
	result, err := r.db.ExecContext(ctx, `UPDATE generated_reports SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update report status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update report status: %w", err)
	}
	if rows == 0 {
		return ErrReportNotFound
	}
	return nil
}

func (r *PostgresRepository) ListReports(ctx context.Context, filters *ReportFilters) ([]*GeneratedReport, int, error) {
	var conditions []string
	var args []interface{}
	argCount := 0

	if filters.CompanyID != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("company_id = $%d", argCount))
		args = append(args, *filters.CompanyID)
	}

	if filters.Framework != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("framework = $%d", argCount))
		args = append(args, *filters.Framework)
	}

	if filters.Format != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("format = $%d", argCount))
		args = append(args, *filters.Format)
	}

	if filters.Status != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("status = $%d", argCount))
		args = append(args, *filters.Status)
	}

	// overlapping periods
	if filters.Period != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("period_start <= $%d", argCount))
		args = append(args, filters.Period.End)
		argCount++
		conditions = append(conditions, fmt.Sprintf("period_end >= $%d", argCount))
		args = append(args, filters.Period.Start)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count
	var totalCount int
	countQuery := `SELECT COUNT(*) FROM generated_reports` + whereClause
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count reports: %w", err)
	}

	page, pageSize := pagination(filters)
	argCount++
	limitArg := argCount
	argCount++
	offsetArg := argCount

	query := `SELECT ` + reportColumns + ` FROM generated_reports` + whereClause +
		fmt.Sprintf(" ORDER BY generated_at DESC LIMIT $%d OFFSET $%d", limitArg, offsetArg)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*GeneratedReport
	for rows.Next() {
		report, err := scanReport(rows, false)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list reports: %w", err)
	}

	return reports, totalCount, nil
}

func pagination(filters *ReportFilters) (int, int) {
	page, pageSize := filters.Page, filters.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner, withPayload bool) (*GeneratedReport, error) {
	var report GeneratedReport
	var summaryJSON, sectionsJSON, validationJSON, warningsJSON, disclosureJSON, optionsJSON []byte
	var storageKey sql.NullString
	m := &report.Metadata

	dest := []interface{}{
		&m.ReportID, &m.CompanyID, &m.Organization, &m.Framework, &m.FrameworkName, &m.FrameworkVersion,
		&report.Format, &m.Period.Start, &m.Period.End, &m.Version, &report.Status, &m.Title, &m.Author,
		&report.Completeness, &summaryJSON, &sectionsJSON, &validationJSON, &warningsJSON, &disclosureJSON,
		&report.ContentType, &report.PayloadHash, &report.PayloadSize, &storageKey, &optionsJSON,
		&m.GeneratedAt,
	}
	if withPayload {
		dest = append(dest, &report.Payload)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	report.StorageKey = storageKey.String
	if len(summaryJSON) > 0 {
		if err := json.Unmarshal(summaryJSON, &report.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
	}
	if len(sectionsJSON) > 0 {
		if err := json.Unmarshal(sectionsJSON, &report.Sections); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sections: %w", err)
		}
	}
	if len(validationJSON) > 0 {
		if err := json.Unmarshal(validationJSON, &report.ValidationResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validation results: %w", err)
		}
	}
	if len(warningsJSON) > 0 {
		json.Unmarshal(warningsJSON, &report.Warnings)
	}
	if len(optionsJSON) > 0 {
		if err := json.Unmarshal(optionsJSON, &report.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal options: %w", err)
		}
	}
	if len(disclosureJSON) > 0 {
		var body JSONB
		if err := json.Unmarshal(disclosureJSON, &body); err == nil && body != nil {
			report.Disclosure = body
		}
	}
	return &report, nil
}

package reports

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
)

var reportRowColumns = []string{
	"id", "company_id", "organization", "framework", "framework_name", "framework_version",
	"format", "period_start", "period_end", "version", "status", "title", "author", "completeness",
	"summary", "sections", "validation_results", "warnings", "disclosure", "content_type",
	"payload_hash", "payload_size", "storage_key", "options", "generated_at",
}

func newMockRepository(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(sqlx.NewDb(db, "sqlmock")), mock
}

func reportRow(id, companyID uuid.UUID, version int, status ReportStatus) []driver.Value {
	period := emissions.NewCalendarYear(2024)
	return []driver.Value{
		id.String(), companyID.String(), "Acme Corp", "sb253", "California SB 253", "2024",
		"json", period.Start, period.End, version, string(status), "SB 253 Report 2024", "", 90.0,
		[]byte(`{"total":10,"passed":9,"errors":1,"warnings":0}`), []byte(`[]`), []byte(`[]`),
		[]byte(`["scope 2 reported under one method"]`), []byte(`{"reporting_year":2024}`), "application/json",
		"abc123", int64(512), nil, []byte(`{}`), time.Now(),
	}
}

func TestPostgresRepository_CreateReport(t *testing.T) {
	repo, mock := newMockRepository(t)

	report := &GeneratedReport{
		Metadata: Metadata{
			ReportID:  uuid.New(),
			CompanyID: uuid.New(),
			Framework: frameworks.FrameworkSB253,
			Period:    emissions.NewCalendarYear(2024),
			Version:   1,
		},
		Format:  frameworks.FormatJSON,
		Status:  ReportStatusDraft,
		Payload: []byte(`{}`),
	}

	mock.ExpectExec(`INSERT INTO generated_reports`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.CreateReport(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetReport(t *testing.T) {
	repo, mock := newMockRepository(t)
	id, companyID := uuid.New(), uuid.New()

	columns := append(append([]string{}, reportRowColumns...), "payload")
	row := append(reportRow(id, companyID, 3, ReportStatusDraft), []byte(`{"reporting_year":2024}`))
	mock.ExpectQuery(`SELECT (.+), payload FROM generated_reports WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(row...))

	report, err := repo.GetReport(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, report.ID())
	assert.Equal(t, companyID, report.Metadata.CompanyID)
	assert.Equal(t, frameworks.FrameworkSB253, report.Metadata.Framework)
	assert.Equal(t, 3, report.Metadata.Version)
	assert.Equal(t, 2024, report.Metadata.Period.Year())
	assert.Equal(t, frameworks.Summary{Total: 10, Passed: 9, Errors: 1}, report.Summary)
	assert.Equal(t, []string{"scope 2 reported under one method"}, report.Warnings)
	assert.Empty(t, report.StorageKey)
	assert.JSONEq(t, `{"reporting_year":2024}`, string(report.Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetReportNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(`SELECT (.+) FROM generated_reports WHERE id = \$1`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetReport(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestPostgresRepository_UpdateReportStatus(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "updated", affected: 1},
		{name: "missing", affected: 0, wantErr: ErrReportNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepository(t)
			id := uuid.New()

			mock.ExpectExec(`UPDATE generated_reports SET status = \$2 WHERE id = \$1`).
				WithArgs(id, ReportStatusSuperseded).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.UpdateReportStatus(context.Background(), id, ReportStatusSuperseded)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresRepository_ListReportsBuildsFilters(t *testing.T) {
	repo, mock := newMockRepository(t)
	companyID := uuid.New()
	status := ReportStatusDraft
	period := emissions.NewCalendarYear(2024)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM generated_reports WHERE company_id = \$1 AND status = \$2 AND period_start <= \$3 AND period_end >= \$4`).
		WithArgs(companyID, status, period.End, period.Start).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(`SELECT (.+) FROM generated_reports WHERE (.+) ORDER BY generated_at DESC LIMIT \$5 OFFSET \$6`).
		WithArgs(companyID, status, period.End, period.Start, 20, 0).
		WillReturnRows(sqlmock.NewRows(reportRowColumns).
			AddRow(reportRow(uuid.New(), companyID, 2, ReportStatusDraft)...).
			AddRow(reportRow(uuid.New(), companyID, 1, ReportStatusDraft)...))

	reports, total, err := repo.ListReports(context.Background(), &ReportFilters{
		CompanyID: &companyID,
		Status:    &status,
		Period:    &period,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, total)
	require.Len(t, reports, 2)
	assert.Nil(t, reports[0].Payload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

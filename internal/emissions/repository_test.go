package emissions

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(sqlx.NewDb(db, "sqlmock")), mock
}

var activityRowColumns = []string{
	"id", "company_id", "scope", "category", "subcategory", "amount", "unit", "period_start", "period_end",
	"data_quality", "source", "location", "notes", "scope2_method", "revision", "created_at", "updated_at", "archived_at",
}

func TestPostgresRepository_CreateActivity(t *testing.T) {
	repo, mock := newMockRepo(t)

	activity := &ActivityData{
		ID:          uuid.New(),
		CompanyID:   uuid.New(),
		Scope:       Scope1,
		Category:    "stationary_combustion",
		Amount:      50000,
		Unit:        "cubic feet",
		Period:      NewCalendarYear(2024),
		DataQuality: DataQualityMeasured,
		Source:      "utility bill",
		Revision:    1,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	mock.ExpectExec(`INSERT INTO emission_activities`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateActivity(context.Background(), activity)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetActivity(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	companyID := uuid.New()
	period := NewCalendarYear(2024)
	now := time.Now()

	rows := sqlmock.NewRows(activityRowColumns).AddRow(
		id.String(), companyID.String(), int64(2), "purchased_electricity", nil, 1250.0, "MWh",
		period.Start, period.End, "measured", "meter", "CAMX", nil, "location_based", int64(3), now, now, nil,
	)

	mock.ExpectQuery(`SELECT .+ FROM emission_activities WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(rows)

	activity, err := repo.GetActivity(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, activity.ID)
	assert.Equal(t, Scope2, activity.Scope)
	assert.Equal(t, Scope2MethodLocationBased, activity.Scope2Method)
	assert.Equal(t, "CAMX", activity.Geography())
	assert.Nil(t, activity.Subcategory)
	assert.Equal(t, 3, activity.Revision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_GetActivityNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM emission_activities WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(activityRowColumns))

	_, err := repo.GetActivity(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ArchiveActivityReferenced(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM emission_results WHERE activity_id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := repo.ArchiveActivity(context.Background(), id, time.Now())
	assert.ErrorIs(t, err, ErrActivityReferenced)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ArchiveActivity(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM emission_results`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE emission_activities SET archived_at`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ArchiveActivity(context.Background(), id, time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_ListResultsBuildsFilter(t *testing.T) {
	repo, mock := newMockRepo(t)

	companyID := uuid.New()
	scope := Scope3
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	columns := []string{
		"id", "company_id", "activity_id", "scope", "category", "subcategory", "scope2_method",
		"period_start", "period_end", "activity_amount", "activity_unit", "factor_id", "factor_value",
		"emission_tons", "uncertainty", "methodology", "formula", "steps", "data_quality",
		"calculated_at", "status", "version", "traceability",
	}
	period := NewCalendarYear(2024)
	activityID := uuid.New()
	rows := sqlmock.NewRows(columns).AddRow(
		uuid.New().String(), companyID.String(), activityID.String(), int64(3), "purchased_goods_and_services",
		nil, "", period.Start, period.End, 1000000.0, "USD", uuid.New().String(), 0.456, 456.0,
		[]byte(`{"lower":319.2,"upper":592.8}`), "spend-based", "formula", []byte(`[]`), "estimated",
		time.Now(), "draft", int64(1), []byte(`{"activity_revision":1,"calculation_method":"spend-based"}`),
	)

	mock.ExpectQuery(`FROM emission_results WHERE company_id = \$1 AND scope = \$2 AND period_end >= \$3 AND status <> 'archived'`).
		WithArgs(companyID, 3, from).
		WillReturnRows(rows)

	results, err := repo.ListResults(context.Background(), ResultFilter{
		CompanyID: &companyID,
		Scope:     &scope,
		From:      &from,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Scope3, results[0].Scope)
	assert.Equal(t, activityID, results[0].Traceability.ActivityID)
	assert.Equal(t, MethodSpendBased, results[0].Traceability.CalculationMethod)
	require.NotNil(t, results[0].Uncertainty)
	assert.InDelta(t, 592.8, results[0].Uncertainty.Upper, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepository_UpdateResultReviewArchived(t *testing.T) {
	repo, mock := newMockRepo(t)

	id := uuid.New()
	mock.ExpectExec(`UPDATE emission_results SET status = \$2, traceability = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateResultReview(context.Background(), id, ResultStatusApproved, Traceability{})
	assert.ErrorIs(t, err, ErrResultArchived)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package emissions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		input   string
		want    Scope
		wantErr bool
	}{
		{input: "1", want: Scope1},
		{input: "scope2", want: Scope2},
		{input: "scope_3", want: Scope3},
		{input: "Scope 1", want: Scope1},
		{input: "4", wantErr: true},
		{input: "scope", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseScope(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPeriod(t *testing.T) {
	year := NewCalendarYear(2024)
	require.NoError(t, year.Validate())
	assert.Equal(t, 2024, year.Year())
	assert.Equal(t, "2024-01-01_2024-12-31", year.Key())
	assert.Equal(t, 2023, year.PreviousYear().Year())

	q1 := Period{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, year.Contains(q1))
	assert.True(t, year.Overlaps(q1))
	assert.False(t, year.PreviousYear().Overlaps(q1))

	inverted := Period{Start: q1.End, End: q1.Start}
	assert.ErrorIs(t, inverted.Validate(), ErrInvalidPeriod)
	assert.ErrorIs(t, Period{}.Validate(), ErrInvalidPeriod)
}

func TestEmissionFactor_AppliesTo(t *testing.T) {
	f := &EmissionFactor{ApplicableYears: []int{2023, 2024}}
	assert.True(t, f.AppliesTo(2024))
	assert.False(t, f.AppliesTo(2022))

	open := &EmissionFactor{}
	assert.True(t, open.AppliesTo(1990))
}

func TestIsInputError(t *testing.T) {
	assert.True(t, IsInputError(ErrScopeMismatch))
	assert.False(t, IsInputError(ErrNoFactorFound))
}

func TestMemoryRepository_CurrentResultAndArchive(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	activity := &ActivityData{
		ID:        uuid.New(),
		CompanyID: uuid.New(),
		Scope:     Scope1,
		Category:  "stationary_combustion",
		Amount:    10,
		Unit:      "kWh",
		Period:    NewCalendarYear(2024),
	}
	require.NoError(t, repo.CreateActivity(ctx, activity))

	first := &EmissionResult{ID: uuid.New(), Version: 1, Status: ResultStatusDraft,
		Traceability: Traceability{ActivityID: activity.ID}}
	require.NoError(t, repo.CreateResult(ctx, first))

	err := repo.ArchiveActivity(ctx, activity.ID, time.Now())
	assert.ErrorIs(t, err, ErrActivityReferenced)

	require.NoError(t, repo.ArchiveResult(ctx, first.ID))
	second := &EmissionResult{ID: uuid.New(), Version: 2, Status: ResultStatusDraft,
		Traceability: Traceability{ActivityID: activity.ID}}
	require.NoError(t, repo.CreateResult(ctx, second))

	current, err := repo.GetCurrentResult(ctx, activity.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	all, err := repo.ListResults(ctx, ResultFilter{ActivityID: &activity.ID, IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	live, err := repo.ListResults(ctx, ResultFilter{ActivityID: &activity.ID})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	err = repo.UpdateResultReview(ctx, first.ID, ResultStatusApproved, first.Traceability)
	assert.ErrorIs(t, err, ErrResultArchived)
}

func TestMemoryRepository_ListActivitiesTimeRange(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	companyID := uuid.New()

	for _, year := range []int{2022, 2023, 2024} {
		require.NoError(t, repo.CreateActivity(ctx, &ActivityData{
			ID:        uuid.New(),
			CompanyID: companyID,
			Scope:     Scope1,
			Amount:    1,
			Period:    NewCalendarYear(year),
		}))
	}

	period := NewCalendarYear(2023)
	list, err := repo.ListActivities(ctx, ActivityFilter{CompanyID: &companyID, From: &period.Start, To: &period.End})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2023, list[0].Period.Year())
}

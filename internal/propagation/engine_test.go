package propagation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/emissions/calculator"
	"carbon-scribe/ghg-reporting/internal/emissions/factors"
	"carbon-scribe/ghg-reporting/internal/frameworks"
	"carbon-scribe/ghg-reporting/internal/notifications"
	"carbon-scribe/ghg-reporting/internal/reports"
)

// MockReportService is a mock implementation of ReportService
type MockReportService struct {
	mock.Mock
}

func (m *MockReportService) GenerateReport(ctx context.Context, req *reports.GenerateReportRequest) (*reports.GeneratedReport, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reports.GeneratedReport), args.Error(1)
}

func (m *MockReportService) RevalidateDrafts(ctx context.Context, companyID uuid.UUID, period emissions.Period) (int, error) {
	args := m.Called(ctx, companyID, period)
	return args.Int(0), args.Error(1)
}

type staleCall struct {
	companyID uuid.UUID
	period    emissions.Period
	reason    string
}

type recordingViews struct {
	mu    sync.Mutex
	calls []staleCall
}

func (v *recordingViews) MarkStale(_ context.Context, companyID uuid.UUID, period emissions.Period, reason string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, staleCall{companyID: companyID, period: period, reason: reason})
}

func (v *recordingViews) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

type recordingPusher struct {
	mu       sync.Mutex
	messages []notifications.WebSocketMessage
}

func (p *recordingPusher) SendToCompany(_ string, msg notifications.WebSocketMessage) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return 1
}

// failingFactorStore fails factor writes while the matching error is set
type failingFactorStore struct {
	*emissions.MemoryRepository
	createErr     error
	deactivateErr error
}

func (s *failingFactorStore) CreateFactor(ctx context.Context, factor *emissions.EmissionFactor) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryRepository.CreateFactor(ctx, factor)
}

func (s *failingFactorStore) SetFactorActive(ctx context.Context, id uuid.UUID, active bool) error {
	if !active && s.deactivateErr != nil {
		return s.deactivateErr
	}
	return s.MemoryRepository.SetFactorActive(ctx, id, active)
}

type engineFixture struct {
	repo      *emissions.MemoryRepository
	store     *failingFactorStore
	registry  *factors.Registry
	queue     *MemoryRetryQueue
	bus       *Bus
	views     *recordingViews
	reports   *MockReportService
	pusher    *recordingPusher
	engine    *Engine
	companyID uuid.UUID
	gasFactor *emissions.EmissionFactor
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		repo:      emissions.NewMemoryRepository(),
		registry:  factors.NewRegistry(zap.NewNop()),
		queue:     NewMemoryRetryQueue(),
		views:     &recordingViews{},
		reports:   new(MockReportService),
		pusher:    &recordingPusher{},
		companyID: uuid.New(),
	}
	f.reports.On("RevalidateDrafts", mock.Anything, mock.Anything, mock.Anything).Return(0, nil).Maybe()

	f.store = &failingFactorStore{MemoryRepository: f.repo}
	f.bus = NewBus(f.queue, zap.NewNop())
	calc := calculator.NewWithClock(func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) })
	f.engine = NewEngine(f.store, f.registry, calc, f.bus, zap.NewNop()).
		WithViews(f.views).
		WithReports(f.reports).
		WithPusher(f.pusher)

	f.gasFactor = &emissions.EmissionFactor{
		Name:         "Natural gas",
		Source:       "EPA",
		Version:      "2024",
		Scope:        emissions.Scope1,
		Category:     "stationary_combustion",
		Value:        0.05306,
		ActivityUnit: "cubic feet",
		GWPStandard:  emissions.GWPAR5,
		Active:       true,
	}
	require.NoError(t, f.engine.RegisterFactor(context.Background(), f.gasFactor))
	return f
}

func (f *engineFixture) gasActivity(amount float64) *emissions.ActivityData {
	return &emissions.ActivityData{
		CompanyID:   f.companyID,
		Scope:       emissions.Scope1,
		Category:    "stationary_combustion",
		Amount:      amount,
		Unit:        "cubic feet",
		Period:      emissions.NewCalendarYear(2024),
		DataQuality: emissions.DataQualityMeasured,
		Source:      "utility bill",
	}
}

func (f *engineFixture) create(t *testing.T, a *emissions.ActivityData) *emissions.ActivityData {
	t.Helper()
	created, err := f.engine.CreateActivity(context.Background(), a)
	require.NoError(t, err)
	return created
}

func (f *engineFixture) current(t *testing.T, activityID uuid.UUID) *emissions.EmissionResult {
	t.Helper()
	result, err := f.repo.GetCurrentResult(context.Background(), activityID)
	require.NoError(t, err)
	return result
}

func (f *engineFixture) state(t *testing.T, activityID uuid.UUID) string {
	t.Helper()
	s, err := f.engine.State(context.Background(), activityID)
	require.NoError(t, err)
	return string(s)
}

func TestEngine_CreateActivityCalculatesFirstVersion(t *testing.T) {
	f := newEngineFixture(t)

	activity := f.create(t, f.gasActivity(50000))
	assert.Equal(t, 1, activity.Revision)

	result := f.current(t, activity.ID)
	assert.Equal(t, 1, result.Version)
	assert.InDelta(t, 2.653, result.EmissionTons, 1e-9)
	assert.Equal(t, f.gasFactor.ID, result.FactorID)
	assert.Equal(t, emissions.ResultStatusDraft, result.Status)
	require.NotNil(t, result.Traceability.TriggerID)
	assert.Equal(t, activity.ID, result.Traceability.ActivityID)

	assert.Equal(t, "calculated", f.state(t, activity.ID))
	assert.Equal(t, 1, f.views.count())
	f.reports.AssertCalled(t, "RevalidateDrafts", mock.Anything, f.companyID, emissions.NewCalendarYear(2024))
	assert.Empty(t, f.queue.Entries())
}

func TestEngine_SecondUpdateSupersedesResult(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	activity := f.create(t, f.gasActivity(50000))
	first := f.current(t, activity.ID)

	update := f.gasActivity(100000)
	update.ID = activity.ID
	updated, err := f.engine.UpdateActivity(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Revision)

	second := f.current(t, activity.ID)
	assert.Equal(t, 2, second.Version)
	assert.InDelta(t, 5.306, second.EmissionTons, 1e-9)
	assert.Equal(t, 2, second.Traceability.ActivityRevision)

	archived, err := f.repo.GetResult(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived())

	history, err := f.repo.ListResults(ctx, emissions.ResultFilter{ActivityID: &activity.ID, IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	live, err := f.repo.ListResults(ctx, emissions.ResultFilter{ActivityID: &activity.ID})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	assert.Equal(t, "calculated", f.state(t, activity.ID))
}

func TestEngine_RedeliveredNotificationIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	activity := f.create(t, f.gasActivity(50000))

	n := NewNotification(&ActivityChanged{ActivityID: activity.ID, CompanyID: f.companyID, Revision: 1})
	require.NoError(t, f.bus.Publish(ctx, n))
	require.NoError(t, f.bus.Publish(ctx, n))
	require.NoError(t, f.bus.Deliver(ctx, n, HandlerCalculate))

	result := f.current(t, activity.ID)
	assert.Equal(t, 2, result.Version)
	assert.Equal(t, n.ID, *result.Traceability.TriggerID)

	history, err := f.repo.ListResults(ctx, emissions.ResultFilter{ActivityID: &activity.ID, IncludeArchived: true})
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestEngine_MissingFactorIsNotRetried(t *testing.T) {
	f := newEngineFixture(t)

	a := f.gasActivity(10)
	a.Category = "refrigerant_leak"
	activity := f.create(t, a)

	_, err := f.repo.GetCurrentResult(context.Background(), activity.ID)
	assert.ErrorIs(t, err, emissions.ErrNotFound)
	assert.Empty(t, f.queue.Entries())
	assert.Equal(t, "created", f.state(t, activity.ID))
}

func TestEngine_CreateActivityRejectsInvalidInput(t *testing.T) {
	f := newEngineFixture(t)

	tests := []struct {
		name   string
		mutate func(a *emissions.ActivityData)
		target error
	}{
		{"zero amount", func(a *emissions.ActivityData) { a.Amount = 0 }, emissions.ErrInvalidActivityAmount},
		{"NaN amount", func(a *emissions.ActivityData) { a.Amount = math.NaN() }, emissions.ErrInvalidActivityAmount},
		{"inverted period", func(a *emissions.ActivityData) {
			a.Period = emissions.Period{Start: a.Period.End, End: a.Period.Start}
		}, emissions.ErrInvalidPeriod},
		{"missing category", func(a *emissions.ActivityData) { a.Category = " " }, nil},
		{"invalid scope", func(a *emissions.ActivityData) { a.Scope = 7 }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := f.gasActivity(100)
			tt.mutate(a)

			_, err := f.engine.CreateActivity(context.Background(), a)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}

	all, err := f.repo.ListActivities(context.Background(), emissions.ActivityFilter{CompanyID: &f.companyID})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestEngine_ApprovalLifecycle(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	activity := f.create(t, f.gasActivity(50000))
	first := f.current(t, activity.ID)

	_, err := f.engine.ApproveResult(ctx, first.ID, "")
	assert.Error(t, err)

	approved, err := f.engine.ApproveResult(ctx, first.ID, "auditor@example.com")
	require.NoError(t, err)
	assert.Equal(t, emissions.ResultStatusApproved, approved.Status)
	require.NotNil(t, approved.Traceability.ReviewedBy)
	assert.Equal(t, "auditor@example.com", *approved.Traceability.ReviewedBy)
	assert.NotNil(t, approved.Traceability.ReviewedAt)
	assert.Equal(t, "approved", f.state(t, activity.ID))

	// approving again is harmless
	_, err = f.engine.ApproveResult(ctx, first.ID, "auditor@example.com")
	require.NoError(t, err)

	require.NoError(t, f.engine.Recalculate(ctx, activity.ID, "restated"))
	second := f.current(t, activity.ID)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, emissions.ResultStatusDraft, second.Status)
	assert.Equal(t, "calculated", f.state(t, activity.ID))

	_, err = f.engine.ApproveResult(ctx, first.ID, "auditor@example.com")
	assert.ErrorIs(t, err, emissions.ErrResultArchived)
}

func TestEngine_VersionsContinueAfterArchivedResult(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	activity := f.create(t, f.gasActivity(50000))
	require.NoError(t, f.engine.Recalculate(ctx, activity.ID, "restated"))
	second := f.current(t, activity.ID)
	require.Equal(t, 2, second.Version)

	_, err := f.engine.ApproveResult(ctx, second.ID, "auditor@example.com")
	require.NoError(t, err)
	require.NoError(t, f.engine.ArchiveResult(ctx, second.ID))

	require.NoError(t, f.engine.Recalculate(ctx, activity.ID, "reopened"))
	third := f.current(t, activity.ID)
	assert.Equal(t, 3, third.Version)

	history, err := f.repo.ListResults(ctx, emissions.ResultFilter{ActivityID: &activity.ID, IncludeArchived: true})
	require.NoError(t, err)
	versions := map[int]bool{}
	for _, r := range history {
		assert.False(t, versions[r.Version], "version %d reused", r.Version)
		versions[r.Version] = true
	}
	assert.Len(t, versions, 3)
}

func TestEngine_ArchiveActivityRequiresRetiredResult(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	activity := f.create(t, f.gasActivity(50000))
	result := f.current(t, activity.ID)

	err := f.engine.ArchiveActivity(ctx, activity.ID)
	assert.ErrorIs(t, err, emissions.ErrActivityReferenced)

	// a draft result cannot be retired directly
	err = f.engine.ArchiveResult(ctx, result.ID)
	assert.Error(t, err)

	_, err = f.engine.ApproveResult(ctx, result.ID, "auditor@example.com")
	require.NoError(t, err)
	require.NoError(t, f.engine.ArchiveResult(ctx, result.ID))
	require.NoError(t, f.engine.ArchiveActivity(ctx, activity.ID))

	stored, err := f.repo.GetActivity(ctx, activity.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ArchivedAt)

	update := f.gasActivity(1)
	update.ID = activity.ID
	_, err = f.engine.UpdateActivity(ctx, update)
	assert.ErrorIs(t, err, emissions.ErrActivityArchived)
}

func TestEngine_FactorVersionFansOut(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	a := f.create(t, f.gasActivity(50000))
	b := f.create(t, f.gasActivity(100000))

	next := *f.gasFactor
	next.ID = uuid.Nil
	next.Version = "2025"
	next.Value = 0.06
	change, err := f.engine.ActivateFactorVersion(ctx, &next, f.gasFactor.ID, true)
	require.NoError(t, err)
	assert.Equal(t, f.gasFactor.ID, change.OldFactorID)

	for _, activity := range []*emissions.ActivityData{a, b} {
		result := f.current(t, activity.ID)
		assert.Equal(t, 2, result.Version)
		assert.Equal(t, change.NewFactorID, result.FactorID)
		assert.Equal(t, "2025", result.Traceability.FactorVersion)
	}
	assert.InDelta(t, 3.0, f.current(t, a.ID).EmissionTons, 1e-9)

	old, err := f.repo.GetFactor(ctx, f.gasFactor.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)

	stale, err := f.repo.ListResults(ctx, emissions.ResultFilter{FactorID: &f.gasFactor.ID})
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestEngine_FactorVersionWithoutRecalculation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	a := f.create(t, f.gasActivity(50000))

	next := *f.gasFactor
	next.ID = uuid.Nil
	next.Version = "2025"
	_, err := f.engine.ActivateFactorVersion(ctx, &next, f.gasFactor.ID, false)
	require.NoError(t, err)

	result := f.current(t, a.ID)
	assert.Equal(t, 1, result.Version)
	assert.Equal(t, f.gasFactor.ID, result.FactorID)

	// new calculations pick up the new version
	b := f.create(t, f.gasActivity(50000))
	assert.Equal(t, next.ID, f.current(t, b.ID).FactorID)
}

func TestEngine_RegisterFactorStoreFailureCanBeRetried(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	factor := &emissions.EmissionFactor{
		ID:           uuid.New(),
		Name:         "Diesel",
		Scope:        emissions.Scope1,
		Category:     "mobile_combustion",
		Value:        10.21,
		ActivityUnit: "gallons",
		Active:       true,
	}
	f.store.createErr = errors.New("connection reset")
	err := f.engine.RegisterFactor(ctx, factor)
	require.Error(t, err)

	_, err = f.registry.Get(factor.ID)
	assert.ErrorIs(t, err, emissions.ErrNotFound)

	f.store.createErr = nil
	require.NoError(t, f.engine.RegisterFactor(ctx, factor))
	stored, err := f.repo.GetFactor(ctx, factor.ID)
	require.NoError(t, err)
	assert.True(t, stored.Active)
}

func TestEngine_FactorVersionStoreFailureLeavesOldVersionActive(t *testing.T) {
	tests := []struct {
		name          string
		createErr     error
		deactivateErr error
	}{
		{name: "new version not stored", createErr: errors.New("connection reset")},
		{name: "old version not deactivated", deactivateErr: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEngineFixture(t)
			ctx := context.Background()
			a := f.create(t, f.gasActivity(50000))

			next := *f.gasFactor
			next.ID = uuid.Nil
			next.Version = "2025"
			next.Value = 0.06

			f.store.createErr = tt.createErr
			f.store.deactivateErr = tt.deactivateErr
			_, err := f.engine.ActivateFactorVersion(ctx, &next, f.gasFactor.ID, true)
			require.Error(t, err)

			resolved, err := f.registry.Resolve(emissions.Scope1, "stationary_combustion", "", 2024)
			require.NoError(t, err)
			assert.Equal(t, f.gasFactor.ID, resolved.ID)
			_, err = f.registry.Get(next.ID)
			assert.ErrorIs(t, err, emissions.ErrNotFound)

			old, err := f.repo.GetFactor(ctx, f.gasFactor.ID)
			require.NoError(t, err)
			assert.True(t, old.Active)
			_, err = f.repo.GetFactor(ctx, next.ID)
			assert.ErrorIs(t, err, emissions.ErrNotFound)
			assert.Equal(t, 1, f.current(t, a.ID).Version)

			f.store.createErr = nil
			f.store.deactivateErr = nil
			_, err = f.engine.ActivateFactorVersion(ctx, &next, f.gasFactor.ID, true)
			require.NoError(t, err)
			assert.Equal(t, next.ID, f.current(t, a.ID).FactorID)
		})
	}
}

func TestEngine_RequestReportPushesToDashboard(t *testing.T) {
	f := newEngineFixture(t)
	reportID := uuid.New()

	f.reports.On("GenerateReport", mock.Anything, mock.MatchedBy(func(req *reports.GenerateReportRequest) bool {
		return req.CompanyID == f.companyID && req.Year == 2024
	})).Return(&reports.GeneratedReport{
		Metadata: reports.Metadata{
			ReportID:  reportID,
			Framework: frameworks.FrameworkSB253,
			CompanyID: f.companyID,
			Period:    emissions.NewCalendarYear(2024),
			Version:   3,
		},
		Format:       frameworks.FormatPDF,
		Completeness: 80,
	}, nil)

	err := f.engine.RequestReport(context.Background(), &reports.GenerateReportRequest{
		CompanyID: f.companyID,
		Framework: frameworks.FrameworkSB253,
		Format:    frameworks.FormatPDF,
		Year:      2024,
	})
	require.NoError(t, err)

	f.reports.AssertExpectations(t)
	require.Len(t, f.pusher.messages, 1)
	assert.Equal(t, notifications.WSMessageTypeReportGenerated, f.pusher.messages[0].Type)
	assert.Contains(t, string(f.pusher.messages[0].Data), reportID.String())
}

func TestEngine_RequestReportFailureIsQueued(t *testing.T) {
	f := newEngineFixture(t)
	f.reports.On("GenerateReport", mock.Anything, mock.Anything).Return(nil, errors.New("storage offline"))

	err := f.engine.RequestReport(context.Background(), &reports.GenerateReportRequest{
		CompanyID: f.companyID,
		Framework: frameworks.FrameworkSB253,
		Format:    frameworks.FormatJSON,
		Year:      2024,
	})
	require.NoError(t, err)

	entries := f.queue.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, HandlerGenerateReport, entries[0].Handler)
	assert.Empty(t, f.pusher.messages)

	err = f.engine.RequestReport(context.Background(), &reports.GenerateReportRequest{CompanyID: f.companyID})
	assert.ErrorIs(t, err, emissions.ErrInvalidPeriod)
}

func TestEngine_RecalculateAll(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	a := f.create(t, f.gasActivity(50000))
	b := f.create(t, f.gasActivity(100000))
	orphan := f.gasActivity(10)
	orphan.Category = "refrigerant_leak"
	f.create(t, orphan)
	f.views.calls = nil

	var progress []BatchProgress
	result, err := f.engine.RecalculateAll(ctx, f.companyID, func(p BatchProgress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.Cancelled)
	require.Len(t, result.Errors, 1)
	assert.True(t, result.Errors[0].NoFactor)

	require.Len(t, progress, 3)
	assert.Equal(t, 3, progress[2].Processed)

	assert.Equal(t, 2, f.current(t, a.ID).Version)
	assert.Equal(t, 2, f.current(t, b.ID).Version)

	// one refresh for the single affected period
	assert.Equal(t, 1, f.views.count())
}

func TestEngine_RecalculateAllStopsWhenCancelled(t *testing.T) {
	f := newEngineFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		f.create(t, f.gasActivity(float64(1000*(i+1))))
	}

	result, err := f.engine.RecalculateAll(ctx, f.companyID, func(p BatchProgress) {
		if p.Processed == 1 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.True(t, result.Cancelled)
	assert.Equal(t, 1, result.Succeeded)

	// the committed item stays committed
	live, err := f.repo.ListResults(context.Background(), emissions.ResultFilter{CompanyID: &f.companyID})
	require.NoError(t, err)
	versions := 0
	for _, r := range live {
		versions += r.Version
	}
	assert.Equal(t, 4, versions)
}

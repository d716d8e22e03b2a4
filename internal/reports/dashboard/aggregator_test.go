package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/notifications"
)

type recordingPusher struct {
	mu       sync.Mutex
	messages []notifications.WebSocketMessage
}

func (p *recordingPusher) SendToCompany(companyID string, message notifications.WebSocketMessage) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	message.Target = companyID
	p.messages = append(p.messages, message)
	return 1
}

func seed(t *testing.T) (*emissions.MemoryRepository, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := emissions.NewMemoryRepository()
	companyID := uuid.New()
	require.NoError(t, repo.UpsertOrganization(ctx, &emissions.Organization{
		ID:             companyID,
		Name:           "Acme Corp",
		AssuranceLevel: emissions.AssuranceLimited,
	}))

	add := func(year int, scope emissions.Scope, tons float64) {
		require.NoError(t, repo.CreateResult(ctx, &emissions.EmissionResult{
			ID:           uuid.New(),
			CompanyID:    companyID,
			Scope:        scope,
			Category:     "stationary_combustion",
			Period:       emissions.NewCalendarYear(year),
			EmissionTons: tons,
			Status:       emissions.ResultStatusDraft,
			Version:      1,
			Traceability: emissions.Traceability{ActivityID: uuid.New()},
		}))
	}
	add(2024, emissions.Scope1, 10)
	add(2024, emissions.Scope1, 5)
	add(2023, emissions.Scope1, 20)

	// spans both years and belongs to neither calendar-year inventory
	require.NoError(t, repo.CreateResult(ctx, &emissions.EmissionResult{
		ID:           uuid.New(),
		CompanyID:    companyID,
		Scope:        emissions.Scope1,
		Category:     "stationary_combustion",
		Period:       emissions.Period{Start: time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)},
		EmissionTons: 1000,
		Status:       emissions.ResultStatusDraft,
		Version:      1,
		Traceability: emissions.Traceability{ActivityID: uuid.New()},
	}))
	return repo, companyID
}

func TestAggregator_Inventory(t *testing.T) {
	repo, companyID := seed(t)
	agg := NewAggregator(repo, nil, zap.NewNop(), DefaultAggregatorConfig())
	defer agg.Stop()

	inv, err := agg.Inventory(context.Background(), companyID, emissions.NewCalendarYear(2024))
	require.NoError(t, err)

	assert.Equal(t, "Acme Corp", inv.Organization.Name)
	assert.Equal(t, 2, inv.ResultCount)
	assert.InDelta(t, 15.0, inv.Totals.Scope1, 1e-9)

	require.NotNil(t, inv.YearOverYear)
	assert.InDelta(t, 20.0, inv.YearOverYear.Scope1.Previous, 1e-9)
	assert.InDelta(t, -5.0, inv.YearOverYear.Scope1.AbsoluteDelta, 1e-9)
	assert.InDelta(t, -25.0, inv.YearOverYear.Scope1.PercentDelta, 1e-9)
}

func TestAggregator_NoPriorPeriod(t *testing.T) {
	repo, companyID := seed(t)
	agg := NewAggregator(repo, nil, zap.NewNop(), DefaultAggregatorConfig())
	defer agg.Stop()

	inv, err := agg.Inventory(context.Background(), companyID, emissions.NewCalendarYear(2023))
	require.NoError(t, err)

	assert.Equal(t, 1, inv.ResultCount)
	assert.Nil(t, inv.YearOverYear)
}

func TestAggregator_CachesUntilMarkedStale(t *testing.T) {
	ctx := context.Background()
	repo, companyID := seed(t)
	pusher := &recordingPusher{}
	agg := NewAggregator(repo, pusher, zap.NewNop(), DefaultAggregatorConfig())
	defer agg.Stop()

	period := emissions.NewCalendarYear(2024)
	first, err := agg.Inventory(ctx, companyID, period)
	require.NoError(t, err)
	second, err := agg.Inventory(ctx, companyID, period)
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, repo.CreateResult(ctx, &emissions.EmissionResult{
		ID:           uuid.New(),
		CompanyID:    companyID,
		Scope:        emissions.Scope3,
		Category:     "business_travel",
		Period:       period,
		EmissionTons: 7,
		Status:       emissions.ResultStatusDraft,
		Version:      1,
		Traceability: emissions.Traceability{ActivityID: uuid.New()},
	}))

	agg.MarkStale(ctx, companyID, period, "result.calculated")

	third, err := agg.Inventory(ctx, companyID, period)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.InDelta(t, 7.0, third.Totals.Scope3, 1e-9)

	require.Len(t, pusher.messages, 1)
	msg := pusher.messages[0]
	assert.Equal(t, notifications.WSMessageTypeInventoryStale, msg.Type)
	assert.Equal(t, companyID.String(), msg.Target)

	var payload notifications.InventoryStale
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, companyID, payload.CompanyID)
	assert.Equal(t, period.Key(), payload.Period)
	assert.Equal(t, "result.calculated", payload.Reason)
}

func TestAggregator_MarkStaleLeavesOtherCompanies(t *testing.T) {
	ctx := context.Background()
	repo, companyID := seed(t)
	agg := NewAggregator(repo, nil, zap.NewNop(), DefaultAggregatorConfig())
	defer agg.Stop()

	_, err := agg.Inventory(ctx, companyID, emissions.NewCalendarYear(2024))
	require.NoError(t, err)
	agg.cache.Set(buildInventoryKey(uuid.New(), emissions.NewCalendarYear(2024)), nil)
	require.Equal(t, 2, agg.cache.Size())

	agg.MarkStale(ctx, companyID, emissions.NewCalendarYear(2024), "test")
	assert.Equal(t, 1, agg.cache.Size())
}

// stallingSource holds the first result listing after it has read the store
// until release is closed
type stallingSource struct {
	*emissions.MemoryRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingSource) ListResults(ctx context.Context, filter emissions.ResultFilter) ([]*emissions.EmissionResult, error) {
	results, err := s.MemoryRepository.ListResults(ctx, filter)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return results, err
}

func TestAggregator_MarkStaleDuringBuildIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo, companyID := seed(t)
	source := &stallingSource{
		MemoryRepository: repo,
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	config := DefaultAggregatorConfig()
	config.YearOverYear = false
	agg := NewAggregator(source, nil, zap.NewNop(), config)
	defer agg.Stop()

	period := emissions.NewCalendarYear(2024)
	type built struct {
		scope1 float64
		err    error
	}
	done := make(chan built, 1)
	go func() {
		inv, err := agg.Inventory(ctx, companyID, period)
		if err != nil {
			done <- built{err: err}
			return
		}
		done <- built{scope1: inv.Totals.Scope1}
	}()

	<-source.entered
	require.NoError(t, repo.CreateResult(ctx, &emissions.EmissionResult{
		ID:           uuid.New(),
		CompanyID:    companyID,
		Scope:        emissions.Scope1,
		Category:     "stationary_combustion",
		Period:       period,
		EmissionTons: 100,
		Status:       emissions.ResultStatusDraft,
		Version:      1,
		Traceability: emissions.Traceability{ActivityID: uuid.New()},
	}))
	agg.MarkStale(ctx, companyID, period, "result.calculated")
	close(source.release)

	stale := <-done
	require.NoError(t, stale.err)
	assert.InDelta(t, 15.0, stale.scope1, 1e-9)
	assert.Equal(t, 0, agg.cache.Size())

	fresh, err := agg.Inventory(ctx, companyID, period)
	require.NoError(t, err)
	assert.InDelta(t, 115.0, fresh.Totals.Scope1, 1e-9)
	assert.Equal(t, 1, agg.cache.Size())
}

func TestAggregator_Errors(t *testing.T) {
	repo, _ := seed(t)
	agg := NewAggregator(repo, nil, zap.NewNop(), DefaultAggregatorConfig())
	defer agg.Stop()

	_, err := agg.Inventory(context.Background(), uuid.New(), emissions.NewCalendarYear(2024))
	assert.ErrorIs(t, err, emissions.ErrNotFound)

	bad := emissions.Period{Start: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	_, err = agg.Inventory(context.Background(), uuid.New(), bad)
	assert.ErrorIs(t, err, emissions.ErrInvalidPeriod)
}

func TestInventoryCache_Expiry(t *testing.T) {
	cache := NewInventoryCache(time.Millisecond)
	defer cache.Stop()

	cache.Set("a", nil)
	time.Sleep(5 * time.Millisecond)
	_, ok := cache.Get("a")
	assert.False(t, ok)

	cache.removeExpired()
	assert.Equal(t, 0, cache.Size())
}

func TestHandler_Inventory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	repo, companyID := seed(t)
	agg := NewAggregator(repo, nil, zap.NewNop(), DefaultAggregatorConfig())
	defer agg.Stop()

	router := gin.New()
	NewHandler(agg, nil, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))

	tests := []struct {
		name   string
		query  string
		status int
	}{
		{name: "by year", query: "?company_id=" + companyID.String() + "&year=2024", status: http.StatusOK},
		{name: "by dates", query: "?company_id=" + companyID.String() + "&start=2024-01-01&end=2024-12-31", status: http.StatusOK},
		{name: "bad company", query: "?company_id=nope&year=2024", status: http.StatusBadRequest},
		{name: "bad dates", query: "?company_id=" + companyID.String() + "&start=2024-01-01", status: http.StatusBadRequest},
		{name: "reversed dates", query: "?company_id=" + companyID.String() + "&start=2024-12-31&end=2024-01-01", status: http.StatusBadRequest},
		{name: "unknown company", query: "?company_id=" + uuid.New().String() + "&year=2024", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory"+tt.query, nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory/summary?company_id="+companyID.String()+"&year=2024", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var summary InventorySummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, companyID, summary.CompanyID)
	assert.Equal(t, 2, summary.ResultCount)
	assert.InDelta(t, 15.0, summary.Totals.Scope1, 1e-9)
}

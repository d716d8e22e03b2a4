package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/inventory"
	"carbon-scribe/ghg-reporting/internal/notifications"
)

// ResultSource is the read side of the emissions store the aggregator needs
type ResultSource interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*emissions.Organization, error)
	ListResults(ctx context.Context, filter emissions.ResultFilter) ([]*emissions.EmissionResult, error)
}

// Pusher delivers messages to dashboards watching a company
type Pusher interface {
	SendToCompany(companyID string, message notifications.WebSocketMessage) int
}

// Aggregator builds and caches inventory views for dashboards and reports
type Aggregator struct {
	repository ResultSource
	builder    *inventory.Builder
	cache      *InventoryCache
	pusher     Pusher
	logger     *zap.Logger
	config     AggregatorConfig
}

// AggregatorConfig configuration for the aggregator
type AggregatorConfig struct {
	CacheTTL   time.Duration `json:"cache_ttl"`
	TopSources int           `json:"top_sources"`

	// YearOverYear loads the prior period alongside every inventory
	YearOverYear bool `json:"year_over_year"`
}

// DefaultAggregatorConfig returns default configuration
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		CacheTTL:     5 * time.Minute,
		TopSources:   10,
		YearOverYear: true,
	}
}

// NewAggregator creates a new aggregator. pusher may be nil.
func NewAggregator(repository ResultSource, pusher Pusher, logger *zap.Logger, config AggregatorConfig) *Aggregator {
	return &Aggregator{
		repository: repository,
		builder:    inventory.NewBuilder(config.TopSources),
		cache:      NewInventoryCache(config.CacheTTL),
		pusher:     pusher,
		logger:     logger,
		config:     config,
	}
}

// Inventory returns the inventory for a company and period, building it on a
// cache miss
func (a *Aggregator) Inventory(ctx context.Context, companyID uuid.UUID, period emissions.Period) (*inventory.Inventory, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return a.cache.GetOrSet(companyPrefix(companyID), buildInventoryKey(companyID, period), func() (*inventory.Inventory, error) {
		return a.computeInventory(ctx, companyID, period)
	})
}

// computeInventory loads the current and prior period concurrently and
// aggregates them
func (a *Aggregator) computeInventory(ctx context.Context, companyID uuid.UUID, period emissions.Period) (*inventory.Inventory, error) {
	org, err := a.repository.GetOrganization(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	var (
		wg                sync.WaitGroup
		current, previous []*emissions.EmissionResult
		currentErr        error
		previousErr       error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		current, currentErr = a.resultsFor(ctx, companyID, period)
	}()

	if a.config.YearOverYear {
		wg.Add(1)
		go func() {
			defer wg.Done()
			previous, previousErr = a.resultsFor(ctx, companyID, period.PreviousYear())
		}()
	}

	wg.Wait()

	if currentErr != nil {
		return nil, fmt.Errorf("failed to list results: %w", currentErr)
	}
	if previousErr != nil {
		a.logger.Warn("Failed to load prior period, skipping year-over-year",
			zap.String("company_id", companyID.String()),
			zap.Error(previousErr),
		)
		previous = nil
	}
	if len(previous) == 0 {
		previous = nil
	}

	inv := a.builder.Build(inventory.FromOrganization(org), current, period, previous)

	a.logger.Debug("Built inventory",
		zap.String("company_id", companyID.String()),
		zap.String("period", period.Key()),
		zap.Int("results", inv.ResultCount),
	)
	return inv, nil
}

// resultsFor returns the non-archived results whose period lies inside period
func (a *Aggregator) resultsFor(ctx context.Context, companyID uuid.UUID, period emissions.Period) ([]*emissions.EmissionResult, error) {
	results, err := a.repository.ListResults(ctx, emissions.ResultFilter{
		CompanyID: &companyID,
		From:      &period.Start,
		To:        &period.End,
	})
	if err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if period.Contains(r.Period) {
			out = append(out, r)
		}
	}
	return out, nil
}

// MarkStale drops every cached inventory of the company and tells connected
// dashboards to refetch. The prior-year comparison of later periods depends
// on earlier ones, so all of the company's periods are invalidated.
func (a *Aggregator) MarkStale(ctx context.Context, companyID uuid.UUID, period emissions.Period, reason string) {
	removed := a.cache.DeleteByPrefix(companyPrefix(companyID))

	a.logger.Debug("Inventory view marked stale",
		zap.String("company_id", companyID.String()),
		zap.String("period", period.Key()),
		zap.Int("evicted", removed),
	)

	if a.pusher == nil {
		return
	}
	msg, err := notifications.NewMessage(notifications.WSMessageTypeInventoryStale, companyID, notifications.InventoryStale{
		CompanyID: companyID,
		Period:    period.Key(),
		Reason:    reason,
	})
	if err != nil {
		a.logger.Error("Failed to build stale message", zap.Error(err))
		return
	}
	a.pusher.SendToCompany(companyID.String(), msg)
}

// Summary returns the headline figures of an inventory for dashboards
func (a *Aggregator) Summary(ctx context.Context, companyID uuid.UUID, period emissions.Period) (*InventorySummary, error) {
	inv, err := a.Inventory(ctx, companyID, period)
	if err != nil {
		return nil, err
	}
	return summarize(inv), nil
}

// Stop releases the cache's background goroutine
func (a *Aggregator) Stop() {
	a.cache.Stop()
}

// InventorySummary is the dashboard projection of an inventory
type InventorySummary struct {
	CompanyID    uuid.UUID                    `json:"company_id"`
	Period       emissions.Period             `json:"period"`
	Totals       inventory.Totals             `json:"totals"`
	YearOverYear *inventory.YearOverYear      `json:"year_over_year,omitempty"`
	TopSources   []inventory.Source           `json:"top_sources"`
	DataQuality  inventory.DataQualitySummary `json:"data_quality"`
	Assurance    emissions.AssuranceLevel     `json:"assurance_level"`
	ResultCount  int                          `json:"result_count"`
	Warnings     []string                     `json:"warnings,omitempty"`
	ComputedAt   time.Time                    `json:"computed_at"`
}

func summarize(inv *inventory.Inventory) *InventorySummary {
	return &InventorySummary{
		CompanyID:    inv.Organization.ID,
		Period:       inv.Period,
		Totals:       inv.Totals,
		YearOverYear: inv.YearOverYear,
		TopSources:   inv.TopSources,
		DataQuality:  inv.DataQuality,
		Assurance:    inv.AssuranceLevel,
		ResultCount:  inv.ResultCount,
		Warnings:     inv.Warnings,
		ComputedAt:   inv.BuiltAt,
	}
}

// buildInventoryKey builds a cache key for an inventory
func buildInventoryKey(companyID uuid.UUID, period emissions.Period) string {
	return companyPrefix(companyID) + period.Key()
}

func companyPrefix(companyID uuid.UUID) string {
	return companyID.String() + "_"
}

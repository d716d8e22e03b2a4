package propagation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/metrics"
)

// BatchItemError is one activity the batch could not recalculate
type BatchItemError struct {
	ActivityID uuid.UUID `json:"activity_id"`
	Error      string    `json:"error"`
	NoFactor   bool      `json:"no_factor,omitempty"`
}

// BatchResult summarizes a bulk recalculation
type BatchResult struct {
	CompanyID uuid.UUID        `json:"company_id"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Errors    []BatchItemError `json:"errors,omitempty"`
	Cancelled bool             `json:"cancelled"`
	Duration  time.Duration    `json:"duration"`
}

// BatchProgress is reported after every item
type BatchProgress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// RecalculateAll recalculates every active activity of a company.
//
// Each item commits on its own, so results are visible while the batch is
// still running. A missing factor fails that item only. The context is
// checked between items; a cancelled batch keeps what it committed and
// reports Cancelled. Views and draft reports are refreshed once per affected
// period when the batch ends.
func (e *Engine) RecalculateAll(ctx context.Context, companyID uuid.UUID, progress func(BatchProgress)) (*BatchResult, error) {
	start := e.now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	activities, err := e.repo.ListActivities(ctx, emissions.ActivityFilter{CompanyID: &companyID})
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}

	// one trigger for the whole batch; a rerun gets a new one
	trigger := uuid.New()
	result := &BatchResult{CompanyID: companyID, Total: len(activities)}
	periods := make(map[string]emissions.Period)

	for i, activity := range activities {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}

		calculated, err := e.recalculate(ctx, activity.ID, trigger)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, BatchItemError{
				ActivityID: activity.ID,
				Error:      err.Error(),
				NoFactor:   errors.Is(err, emissions.ErrNoFactorFound),
			})
			metrics.BatchItemsTotal.WithLabelValues("failed").Inc()
			e.logger.Warn("Batch item failed",
				zap.String("activity_id", activity.ID.String()),
				zap.Error(err),
			)
		case calculated == nil:
			result.Skipped++
			metrics.BatchItemsTotal.WithLabelValues("skipped").Inc()
		default:
			result.Succeeded++
			periods[calculated.Period.Key()] = calculated.Period
			metrics.BatchItemsTotal.WithLabelValues("succeeded").Inc()
		}

		if progress != nil {
			progress(BatchProgress{
				Processed: i + 1,
				Total:     result.Total,
				Succeeded: result.Succeeded,
				Failed:    result.Failed,
			})
		}
	}

	e.refreshPeriods(context.WithoutCancel(ctx), companyID, periods)

	result.Duration = e.now().Sub(start)
	e.logger.Info("Batch recalculation finished",
		zap.String("company_id", companyID.String()),
		zap.Int("total", result.Total),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Bool("cancelled", result.Cancelled),
	)
	if result.Cancelled {
		return result, ctx.Err()
	}
	return result, nil
}

// refreshPeriods invalidates views and revalidates drafts for each period
// that received a new result
func (e *Engine) refreshPeriods(ctx context.Context, companyID uuid.UUID, periods map[string]emissions.Period) {
	for _, period := range periods {
		if e.views != nil {
			e.views.MarkStale(ctx, companyID, period, "batch recalculation")
		}
		if e.reports == nil {
			continue
		}
		if _, err := e.reports.RevalidateDrafts(ctx, companyID, period); err != nil {
			e.logger.Error("Failed to revalidate drafts after batch",
				zap.String("company_id", companyID.String()),
				zap.String("period", period.Key()),
				zap.Error(err),
			)
		}
	}
}

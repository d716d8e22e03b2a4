package propagation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/emissions/factors"
	"carbon-scribe/ghg-reporting/internal/reports"
	"carbon-scribe/ghg-reporting/pkg/workflows"
)

// ErrInvalidRequest marks a request missing a required field
var ErrInvalidRequest = errors.New("invalid request")

// =====================================================
// Activity Operations
// =====================================================

func validateActivity(a *emissions.ActivityData) error {
	if !a.Scope.Valid() {
		return fmt.Errorf("%w: invalid scope %d", ErrInvalidRequest, a.Scope)
	}
	if strings.TrimSpace(a.Category) == "" {
		return fmt.Errorf("%w: category is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(a.Unit) == "" {
		return fmt.Errorf("%w: unit is required", ErrInvalidRequest)
	}
	if !(a.Amount > 0) {
		return fmt.Errorf("amount %v: %w", a.Amount, emissions.ErrInvalidActivityAmount)
	}
	return a.Period.Validate()
}

// CreateActivity stores a new activity record and calculates its first
// result. The activity is returned even when the calculation fails; the
// failure is logged and queued by the bus.
func (e *Engine) CreateActivity(ctx context.Context, activity *emissions.ActivityData) (*emissions.ActivityData, error) {
	if err := validateActivity(activity); err != nil {
		return nil, err
	}
	if activity.CompanyID == uuid.Nil {
		return nil, fmt.Errorf("%w: company_id is required", ErrInvalidRequest)
	}
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	now := e.now().UTC()
	activity.Revision = 1
	activity.CreatedAt = now
	activity.UpdatedAt = now
	activity.ArchivedAt = nil

	if err := e.repo.CreateActivity(ctx, activity); err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}

	n := NewNotification(&ActivityChanged{
		ActivityID: activity.ID,
		CompanyID:  activity.CompanyID,
		Revision:   activity.Revision,
		Created:    true,
	})
	if err := e.bus.Publish(ctx, n); err != nil {
		return activity, fmt.Errorf("failed to propagate new activity: %w", err)
	}
	return activity, nil
}

// UpdateActivity replaces the editable fields of an activity, bumps its
// revision and recalculates its result
func (e *Engine) UpdateActivity(ctx context.Context, update *emissions.ActivityData) (*emissions.ActivityData, error) {
	if err := validateActivity(update); err != nil {
		return nil, err
	}

	existing, err := e.repo.GetActivity(ctx, update.ID)
	if err != nil {
		return nil, err
	}
	if existing.ArchivedAt != nil {
		return nil, fmt.Errorf("activity %s: %w", existing.ID, emissions.ErrActivityArchived)
	}

	update.CompanyID = existing.CompanyID
	update.CreatedAt = existing.CreatedAt
	update.Revision = existing.Revision + 1
	update.UpdatedAt = e.now().UTC()
	update.ArchivedAt = nil

	if err := e.repo.UpdateActivity(ctx, update); err != nil {
		return nil, fmt.Errorf("failed to update activity: %w", err)
	}

	n := NewNotification(&ActivityChanged{
		ActivityID: update.ID,
		CompanyID:  update.CompanyID,
		Revision:   update.Revision,
	})
	if err := e.bus.Publish(ctx, n); err != nil {
		return update, fmt.Errorf("failed to propagate activity update: %w", err)
	}
	return update, nil
}

// Recalculate requests a new result version for an activity without changing
// the activity itself
func (e *Engine) Recalculate(ctx context.Context, activityID uuid.UUID, reason string) error {
	activity, err := e.repo.GetActivity(ctx, activityID)
	if err != nil {
		return err
	}
	if activity.ArchivedAt != nil {
		return fmt.Errorf("activity %s: %w", activityID, emissions.ErrActivityArchived)
	}
	return e.bus.Publish(ctx, NewNotification(&ActivityChanged{
		ActivityID: activity.ID,
		CompanyID:  activity.CompanyID,
		Revision:   activity.Revision,
		Reason:     reason,
	}))
}

// ArchiveActivity retires an activity. It fails with ErrActivityReferenced
// while a non-archived result still references it.
func (e *Engine) ArchiveActivity(ctx context.Context, activityID uuid.UUID) error {
	unlock := e.lockActivity(activityID)
	defer unlock()

	if err := e.repo.ArchiveActivity(ctx, activityID, e.now().UTC()); err != nil {
		return err
	}
	e.lifecycle.Forget(activityID.String())
	e.logger.Info("Activity archived", zap.String("activity_id", activityID.String()))
	return nil
}

// =====================================================
// Result Review
// =====================================================

// ApproveResult records the reviewer of the current result of an activity
// and moves the activity to approved
func (e *Engine) ApproveResult(ctx context.Context, resultID uuid.UUID, reviewer string) (*emissions.EmissionResult, error) {
	if strings.TrimSpace(reviewer) == "" {
		return nil, fmt.Errorf("%w: reviewer is required", ErrInvalidRequest)
	}

	result, err := e.repo.GetResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result.IsArchived() {
		return nil, fmt.Errorf("result %s: %w", resultID, emissions.ErrResultArchived)
	}
	if result.Status == emissions.ResultStatusApproved {
		return result, nil
	}

	activityID := result.Traceability.ActivityID
	unlock := e.lockActivity(activityID)
	defer unlock()

	if err := e.seedLifecycle(ctx, activityID); err != nil {
		return nil, err
	}
	key := activityID.String()
	from, _ := e.lifecycle.Current(key)
	if err := e.validPath(from, []workflows.State{StateApproved}); err != nil {
		return nil, fmt.Errorf("activity %s: %w", activityID, err)
	}

	reviewedAt := e.now().UTC()
	trace := result.Traceability
	trace.ReviewedBy = &reviewer
	trace.ReviewedAt = &reviewedAt
	if err := e.repo.UpdateResultReview(ctx, resultID, emissions.ResultStatusApproved, trace); err != nil {
		return nil, fmt.Errorf("failed to approve result: %w", err)
	}
	if err := e.lifecycle.Transition(key, StateApproved); err != nil {
		e.lifecycle.Forget(key)
	}

	result.Status = emissions.ResultStatusApproved
	result.Traceability = trace
	e.logger.Info("Emission result approved",
		zap.String("result_id", resultID.String()),
		zap.String("reviewer", reviewer),
	)
	return result, nil
}

// ArchiveResult retires an approved result so its activity can be archived.
// Inventory views covering the result are invalidated.
func (e *Engine) ArchiveResult(ctx context.Context, resultID uuid.UUID) error {
	result, err := e.repo.GetResult(ctx, resultID)
	if err != nil {
		return err
	}
	if result.IsArchived() {
		return fmt.Errorf("result %s: %w", resultID, emissions.ErrResultArchived)
	}

	activityID := result.Traceability.ActivityID
	unlock := e.lockActivity(activityID)
	defer unlock()

	if err := e.seedLifecycle(ctx, activityID); err != nil {
		return err
	}
	key := activityID.String()
	from, _ := e.lifecycle.Current(key)
	if err := e.validPath(from, []workflows.State{StateArchived}); err != nil {
		return fmt.Errorf("activity %s: %w", activityID, err)
	}

	if err := e.repo.ArchiveResult(ctx, resultID); err != nil {
		return fmt.Errorf("failed to archive result: %w", err)
	}
	if err := e.lifecycle.Transition(key, StateArchived); err != nil {
		e.lifecycle.Forget(key)
	}
	if e.views != nil {
		e.views.MarkStale(ctx, result.CompanyID, result.Period, "result.archived")
	}
	return nil
}

// =====================================================
// Factor Operations
// =====================================================

// RegisterFactor adds a factor to the registry and the store
func (e *Engine) RegisterFactor(ctx context.Context, factor *emissions.EmissionFactor) error {
	if factor.CreatedAt.IsZero() {
		factor.CreatedAt = e.now().UTC()
	}
	if err := e.registry.Register(factor); err != nil {
		return err
	}
	if err := e.repo.CreateFactor(ctx, factor); err != nil {
		e.registry.Remove(factor.ID)
		return fmt.Errorf("failed to store factor: %w", err)
	}
	return nil
}

// ActivateFactorVersion replaces the factor oldID with next. When
// affectsExisting is set every activity whose current result used the old
// factor is recalculated. If the store rejects either write the registry and
// the store are left as they were.
func (e *Engine) ActivateFactorVersion(ctx context.Context, next *emissions.EmissionFactor, oldID uuid.UUID, affectsExisting bool) (*factors.VersionChange, error) {
	if next.CreatedAt.IsZero() {
		next.CreatedAt = e.now().UTC()
	}
	prev, err := e.registry.Get(oldID)
	if err != nil {
		return nil, err
	}
	change, err := e.registry.ActivateVersion(next, oldID, affectsExisting)
	if err != nil {
		return nil, err
	}
	if err := e.repo.SetFactorActive(ctx, oldID, false); err != nil {
		e.registry.RevertVersion(change, prev.Active)
		return nil, fmt.Errorf("failed to deactivate factor: %w", err)
	}
	if err := e.repo.CreateFactor(ctx, next); err != nil {
		e.registry.RevertVersion(change, prev.Active)
		if restoreErr := e.repo.SetFactorActive(ctx, oldID, prev.Active); restoreErr != nil {
			e.logger.Error("Failed to restore superseded factor",
				zap.String("factor_id", oldID.String()),
				zap.Error(restoreErr),
			)
		}
		return nil, fmt.Errorf("failed to store factor version: %w", err)
	}

	n := NewNotification(&FactorVersionChanged{
		OldFactorID:     change.OldFactorID,
		NewFactorID:     change.NewFactorID,
		OldVersion:      change.OldVersion,
		NewVersion:      change.NewVersion,
		AffectsExisting: change.AffectsExistingResults,
	})
	if err := e.bus.Publish(ctx, n); err != nil {
		return change, fmt.Errorf("failed to propagate factor version: %w", err)
	}
	return change, nil
}

// =====================================================
// Reports
// =====================================================

// RequestReport publishes a report request. The report is generated by the
// engine's own subscription within the same cascade.
func (e *Engine) RequestReport(ctx context.Context, req *reports.GenerateReportRequest) error {
	if req.CompanyID == uuid.Nil {
		return fmt.Errorf("%w: company_id is required", ErrInvalidRequest)
	}
	if req.Year <= 0 {
		return fmt.Errorf("%w: year %d", emissions.ErrInvalidPeriod, req.Year)
	}
	return e.bus.Publish(ctx, NewNotification(&ReportRequested{Request: *req}))
}

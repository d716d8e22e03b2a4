package propagation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/emissions/calculator"
	"carbon-scribe/ghg-reporting/internal/emissions/factors"
	"carbon-scribe/ghg-reporting/internal/metrics"
	"carbon-scribe/ghg-reporting/internal/notifications"
	"carbon-scribe/ghg-reporting/internal/reports"
	"carbon-scribe/ghg-reporting/pkg/workflows"
)

// Handler names. Retry entries refer to handlers by these names.
const (
	HandlerCalculate        = "calculate"
	HandlerInvalidateViews  = "invalidate-views"
	HandlerRevalidateDrafts = "revalidate-drafts"
	HandlerFanOut           = "fan-out"
	HandlerGenerateReport   = "generate-report"
	HandlerPushDashboard    = "push-dashboard"
)

// ViewInvalidator drops cached inventory views
type ViewInvalidator interface {
	MarkStale(ctx context.Context, companyID uuid.UUID, period emissions.Period, reason string)
}

// ReportService generates report versions
type ReportService interface {
	GenerateReport(ctx context.Context, req *reports.GenerateReportRequest) (*reports.GeneratedReport, error)
	RevalidateDrafts(ctx context.Context, companyID uuid.UUID, period emissions.Period) (int, error)
}

// DashboardPusher sends a message to every dashboard watching a company
type DashboardPusher interface {
	SendToCompany(companyID string, msg notifications.WebSocketMessage) int
}

// Engine keeps results, inventory views and draft reports consistent with
// activity data and the factor catalog. Every mutation is published on the
// bus and handled by the engine's own subscriptions.
type Engine struct {
	repo       emissions.Repository
	registry   *factors.Registry
	calculator *calculator.Calculator
	bus        *Bus
	machine    *workflows.StateMachine
	lifecycle  *workflows.Tracker
	logger     *zap.Logger
	now        func() time.Time

	views   ViewInvalidator
	reports ReportService
	pusher  DashboardPusher

	// serializes recalculation of one activity across cascades
	activityLocks sync.Map
}

// NewEngine creates an engine and subscribes its handlers to bus
func NewEngine(repo emissions.Repository, registry *factors.Registry, calc *calculator.Calculator, bus *Bus, logger *zap.Logger) *Engine {
	machine := NewActivityLifecycle()
	e := &Engine{
		repo:       repo,
		registry:   registry,
		calculator: calc,
		bus:        bus,
		machine:    machine,
		lifecycle:  workflows.NewTracker(machine, StateCreated),
		logger:     logger,
		now:        time.Now,
	}

	bus.Subscribe(TopicActivityCreated, HandlerCalculate, e.handleActivityChanged)
	bus.Subscribe(TopicActivityUpdated, HandlerCalculate, e.handleActivityChanged)
	bus.Subscribe(TopicResultCalculated, HandlerInvalidateViews, e.handleInvalidateViews)
	bus.Subscribe(TopicResultCalculated, HandlerRevalidateDrafts, e.handleRevalidateDrafts)
	bus.Subscribe(TopicFactorVersionChanged, HandlerFanOut, e.handleFactorVersionChanged)
	bus.Subscribe(TopicReportRequested, HandlerGenerateReport, e.handleReportRequested)
	bus.Subscribe(TopicReportGenerated, HandlerPushDashboard, e.handleReportGenerated)
	return e
}

// WithViews sets the inventory views invalidated after each calculation
func (e *Engine) WithViews(views ViewInvalidator) *Engine {
	e.views = views
	return e
}

// WithReports sets the report service used for draft revalidation and
// requested reports
func (e *Engine) WithReports(service ReportService) *Engine {
	e.reports = service
	return e
}

// WithPusher sets the dashboard channel for report announcements
func (e *Engine) WithPusher(pusher DashboardPusher) *Engine {
	e.pusher = pusher
	return e
}

// State returns the lifecycle state of an activity as the engine knows it
func (e *Engine) State(ctx context.Context, activityID uuid.UUID) (workflows.State, error) {
	if err := e.seedLifecycle(ctx, activityID); err != nil {
		return "", err
	}
	state, _ := e.lifecycle.Current(activityID.String())
	return state, nil
}

func (e *Engine) lockActivity(id uuid.UUID) func() {
	v, _ := e.activityLocks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// seedLifecycle derives the state of an activity the tracker has not seen
// from its persisted results
func (e *Engine) seedLifecycle(ctx context.Context, activityID uuid.UUID) error {
	key := activityID.String()
	if _, ok := e.lifecycle.Current(key); ok {
		return nil
	}

	current, err := e.currentResult(ctx, activityID)
	if err != nil {
		return err
	}
	switch {
	case current == nil:
		history, err := e.repo.ListResults(ctx, emissions.ResultFilter{ActivityID: &activityID, IncludeArchived: true})
		if err != nil {
			return fmt.Errorf("failed to load result history: %w", err)
		}
		if len(history) > 0 {
			e.lifecycle.Seed(key, StateArchived)
		} else {
			e.lifecycle.Seed(key, StateCreated)
		}
	case current.Status == emissions.ResultStatusApproved:
		e.lifecycle.Seed(key, StateApproved)
	default:
		e.lifecycle.Seed(key, StateCalculated)
	}
	return nil
}

// currentResult returns the non-archived result of an activity or nil
func (e *Engine) currentResult(ctx context.Context, activityID uuid.UUID) (*emissions.EmissionResult, error) {
	current, err := e.repo.GetCurrentResult(ctx, activityID)
	if errors.Is(err, emissions.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current result: %w", err)
	}
	return current, nil
}

// validPath reports whether the machine allows walking path from state
func (e *Engine) validPath(from workflows.State, path []workflows.State) error {
	current := from
	for _, to := range path {
		if !e.machine.CanTransition(current, to) {
			return fmt.Errorf("%w: %s -> %s", workflows.ErrInvalidTransition, current, to)
		}
		current = to
	}
	return nil
}

// =====================================================
// Handlers
// =====================================================

func (e *Engine) handleActivityChanged(ctx context.Context, n Notification) ([]Notification, error) {
	p, ok := n.Payload.(*ActivityChanged)
	if !ok {
		return nil, Permanent(fmt.Errorf("unexpected payload %T on %s", n.Payload, n.Topic))
	}

	calculated, err := e.recalculate(ctx, p.ActivityID, n.ID)
	if err != nil {
		return nil, err
	}
	if calculated == nil {
		return nil, nil
	}
	return []Notification{n.Caused(calculated)}, nil
}

// recalculate produces a new result version for an activity. It returns nil
// when there is nothing to do: the activity is archived or triggerID already
// produced the current result.
func (e *Engine) recalculate(ctx context.Context, activityID, triggerID uuid.UUID) (*ResultCalculated, error) {
	unlock := e.lockActivity(activityID)
	defer unlock()

	activity, err := e.repo.GetActivity(ctx, activityID)
	if err != nil {
		if errors.Is(err, emissions.ErrNotFound) {
			return nil, Permanent(fmt.Errorf("activity %s: %w", activityID, err))
		}
		return nil, fmt.Errorf("failed to load activity: %w", err)
	}
	if activity.ArchivedAt != nil {
		e.logger.Debug("Skipping archived activity", zap.String("activity_id", activityID.String()))
		return nil, nil
	}

	previous, err := e.currentResult(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if previous != nil && previous.Traceability.TriggerID != nil && *previous.Traceability.TriggerID == triggerID {
		e.logger.Debug("Notification already applied",
			zap.String("activity_id", activityID.String()),
			zap.String("notification_id", triggerID.String()),
		)
		return nil, nil
	}

	factor, err := e.registry.Resolve(activity.Scope, activity.Category, activity.Geography(), activity.Period.Year())
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues(activity.Scope.String(), "no_factor").Inc()
		return nil, Permanent(err)
	}
	result, err := e.calculator.Calculate(activity, factor)
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues(activity.Scope.String(), "invalid").Inc()
		if emissions.IsInputError(err) {
			return nil, Permanent(err)
		}
		return nil, err
	}

	if err := e.seedLifecycle(ctx, activityID); err != nil {
		return nil, err
	}
	key := activityID.String()
	from, _ := e.lifecycle.Current(key)
	path := recalculationPath(from)
	if err := e.validPath(from, path); err != nil {
		return nil, Permanent(fmt.Errorf("activity %s: %w", activityID, err))
	}

	version, err := e.nextVersion(ctx, activityID)
	if err != nil {
		return nil, err
	}
	trigger := triggerID
	result.ID = uuid.New()
	result.Version = version
	result.Traceability.TriggerID = &trigger

	var previousID *uuid.UUID
	if previous != nil {
		id := previous.ID
		previousID = &id
		if err := e.repo.ArchiveResult(ctx, previous.ID); err != nil {
			return nil, fmt.Errorf("failed to archive previous result: %w", err)
		}
	}
	if err := e.repo.CreateResult(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}
	if err := e.lifecycle.Path(key, path...); err != nil {
		// the store is authoritative; reseed from it next time
		e.lifecycle.Forget(key)
		e.logger.Warn("Lifecycle out of step with stored results", zap.String("activity_id", key), zap.Error(err))
	}

	metrics.CalculationsTotal.WithLabelValues(activity.Scope.String(), "success").Inc()
	e.logger.Info("Emission result calculated",
		zap.String("activity_id", key),
		zap.String("result_id", result.ID.String()),
		zap.Int("version", result.Version),
		zap.Float64("emission_tons", result.EmissionTons),
	)

	return &ResultCalculated{
		ResultID:         result.ID,
		ActivityID:       activityID,
		CompanyID:        result.CompanyID,
		Scope:            result.Scope,
		Period:           result.Period,
		Version:          result.Version,
		EmissionTons:     result.EmissionTons,
		PreviousResultID: previousID,
	}, nil
}

// nextVersion numbers a new result after every version the activity has
// had, archived ones included
func (e *Engine) nextVersion(ctx context.Context, activityID uuid.UUID) (int, error) {
	history, err := e.repo.ListResults(ctx, emissions.ResultFilter{ActivityID: &activityID, IncludeArchived: true})
	if err != nil {
		return 0, fmt.Errorf("failed to load result history: %w", err)
	}
	version := 0
	for _, r := range history {
		version = max(version, r.Version)
	}
	return version + 1, nil
}

func (e *Engine) handleInvalidateViews(ctx context.Context, n Notification) ([]Notification, error) {
	p, ok := n.Payload.(*ResultCalculated)
	if !ok {
		return nil, Permanent(fmt.Errorf("unexpected payload %T on %s", n.Payload, n.Topic))
	}
	if e.views != nil {
		e.views.MarkStale(ctx, p.CompanyID, p.Period, string(n.Topic))
	}
	return nil, nil
}

func (e *Engine) handleRevalidateDrafts(ctx context.Context, n Notification) ([]Notification, error) {
	p, ok := n.Payload.(*ResultCalculated)
	if !ok {
		return nil, Permanent(fmt.Errorf("unexpected payload %T on %s", n.Payload, n.Topic))
	}
	if e.reports == nil {
		return nil, nil
	}
	count, err := e.reports.RevalidateDrafts(ctx, p.CompanyID, p.Period)
	if err != nil {
		return nil, fmt.Errorf("failed to revalidate drafts: %w", err)
	}
	if count > 0 {
		e.logger.Info("Draft reports revalidated",
			zap.String("company_id", p.CompanyID.String()),
			zap.Int("count", count),
		)
	}
	return nil, nil
}

// handleFactorVersionChanged raises one activity update per activity whose
// current result used the old factor. Each raised notification is delivered
// on its own, so one failing activity does not hold back the rest.
func (e *Engine) handleFactorVersionChanged(ctx context.Context, n Notification) ([]Notification, error) {
	p, ok := n.Payload.(*FactorVersionChanged)
	if !ok {
		return nil, Permanent(fmt.Errorf("unexpected payload %T on %s", n.Payload, n.Topic))
	}
	if !p.AffectsExisting {
		return nil, nil
	}

	oldID := p.OldFactorID
	affected, err := e.repo.ListResults(ctx, emissions.ResultFilter{FactorID: &oldID})
	if err != nil {
		return nil, fmt.Errorf("failed to list affected results: %w", err)
	}

	seen := make(map[uuid.UUID]bool, len(affected))
	raised := make([]Notification, 0, len(affected))
	for _, r := range affected {
		activityID := r.Traceability.ActivityID
		if seen[activityID] {
			continue
		}
		seen[activityID] = true
		raised = append(raised, n.Caused(&ActivityChanged{
			ActivityID: activityID,
			CompanyID:  r.CompanyID,
			Revision:   r.Traceability.ActivityRevision,
			Reason:     fmt.Sprintf("factor %s superseded by %s", p.OldVersion, p.NewVersion),
		}))
	}

	e.logger.Info("Factor version fan-out",
		zap.String("old_factor_id", p.OldFactorID.String()),
		zap.String("new_factor_id", p.NewFactorID.String()),
		zap.Int("activities", len(raised)),
	)
	return raised, nil
}

func (e *Engine) handleReportRequested(ctx context.Context, n Notification) ([]Notification, error) {
	p, ok := n.Payload.(*ReportRequested)
	if !ok {
		return nil, Permanent(fmt.Errorf("unexpected payload %T on %s", n.Payload, n.Topic))
	}
	if e.reports == nil {
		return nil, Permanent(errors.New("no report service configured"))
	}

	report, err := e.reports.GenerateReport(ctx, &p.Request)
	if err != nil {
		if errors.Is(err, reports.ErrUnsupportedFormat) || errors.Is(err, emissions.ErrInvalidPeriod) {
			return nil, Permanent(err)
		}
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}

	return []Notification{n.Caused(&ReportGenerated{
		ReportID:     report.ID(),
		CompanyID:    report.Metadata.CompanyID,
		Framework:    report.Metadata.Framework,
		Format:       report.Format,
		Period:       report.Metadata.Period,
		Version:      report.Metadata.Version,
		Completeness: report.Completeness,
	})}, nil
}

func (e *Engine) handleReportGenerated(_ context.Context, n Notification) ([]Notification, error) {
	p, ok := n.Payload.(*ReportGenerated)
	if !ok {
		return nil, Permanent(fmt.Errorf("unexpected payload %T on %s", n.Payload, n.Topic))
	}
	if e.pusher == nil {
		return nil, nil
	}

	msg, err := notifications.NewMessage(notifications.WSMessageTypeReportGenerated, p.CompanyID, notifications.ReportGenerated{
		ReportID:     p.ReportID,
		CompanyID:    p.CompanyID,
		Framework:    string(p.Framework),
		Format:       string(p.Format),
		Version:      p.Version,
		Completeness: p.Completeness,
	})
	if err != nil {
		return nil, Permanent(err)
	}
	e.pusher.SendToCompany(p.CompanyID.String(), msg)
	return nil, nil
}

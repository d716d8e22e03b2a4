package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/reports"
)

// Requester hands a report request to the propagation engine
type Requester interface {
	RequestReport(ctx context.Context, req *reports.GenerateReportRequest) error
}

// ExecutionResult represents the result of one schedule firing
type ExecutionResult struct {
	ExecutionID uuid.UUID                      `json:"execution_id"`
	ScheduleID  uuid.UUID                      `json:"schedule_id"`
	Status      string                         `json:"status"`
	Year        int                            `json:"year"`
	Request     *reports.GenerateReportRequest `json:"request,omitempty"`
	StartedAt   time.Time                      `json:"started_at"`
	CompletedAt time.Time                      `json:"completed_at"`
	DurationMs  int64                          `json:"duration_ms"`
	Error       string                         `json:"error,omitempty"`
}

// ExecutorConfig configuration for the executor
type ExecutorConfig struct {
	Timeout time.Duration `json:"timeout"`
}

// DefaultExecutorConfig returns default configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Timeout: 30 * time.Minute,
	}
}

// Executor turns a schedule firing into a report request
type Executor struct {
	requester Requester
	logger    *zap.Logger
	config    ExecutorConfig
	now       func() time.Time
}

// NewExecutor creates a new executor
func NewExecutor(requester Requester, logger *zap.Logger, config ExecutorConfig) *Executor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultExecutorConfig().Timeout
	}
	return &Executor{
		requester: requester,
		logger:    logger,
		config:    config,
		now:       time.Now,
	}
}

// Execute requests the report a schedule describes. The returned result is
// never nil, even on error.
func (e *Executor) Execute(ctx context.Context, schedule *Schedule) (*ExecutionResult, error) {
	startTime := e.now()
	result := &ExecutionResult{
		ExecutionID: uuid.New(),
		ScheduleID:  schedule.ID,
		Status:      "processing",
		StartedAt:   startTime,
	}

	finish := func(status string, err error) (*ExecutionResult, error) {
		result.Status = status
		result.CompletedAt = e.now()
		result.DurationMs = result.CompletedAt.Sub(startTime).Milliseconds()
		if err != nil {
			result.Error = err.Error()
		}
		return result, err
	}

	year, err := ReportingYear(schedule, startTime)
	if err != nil {
		return finish("failed", err)
	}
	result.Year = year

	req := &reports.GenerateReportRequest{
		CompanyID: schedule.CompanyID,
		Framework: schedule.Framework,
		Format:    schedule.Format,
		Year:      year,
		Author:    schedule.Author,
	}
	if schedule.Name != "" {
		req.Title = schedule.Name
	}
	result.Request = req

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	if err := e.requester.RequestReport(ctx, req); err != nil {
		return finish("failed", fmt.Errorf("report request failed: %w", err))
	}

	e.logger.Debug("Report requested",
		zap.String("execution_id", result.ExecutionID.String()),
		zap.String("company_id", schedule.CompanyID.String()),
		zap.Int("year", year))

	return finish("completed", nil)
}

// ReportingYear resolves the year a schedule reports on when it fires at t
func ReportingYear(schedule *Schedule, t time.Time) (int, error) {
	loc := time.UTC
	if schedule.Timezone != "" {
		l, err := time.LoadLocation(schedule.Timezone)
		if err != nil {
			return 0, fmt.Errorf("invalid timezone %q: %w", schedule.Timezone, err)
		}
		loc = l
	}

	offset := -1
	if schedule.ReportingYear != nil {
		offset = *schedule.ReportingYear
	}
	return t.In(loc).Year() + offset, nil
}

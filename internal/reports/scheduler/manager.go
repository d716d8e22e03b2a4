package scheduler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"carbon-scribe/ghg-reporting/internal/frameworks"
)

// cronParser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as @monthly
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ScheduleManager fires report requests on cron schedules
type ScheduleManager struct {
	cron     *cron.Cron
	jobs     map[uuid.UUID]cron.EntryID
	runs     map[uuid.UUID]*runState
	executor *Executor
	logger   *zap.Logger
	mu       sync.RWMutex
	running  bool
}

// Schedule requests one framework report for one company on a cron
// expression. ReportingYear is relative to the year the schedule fires in;
// the default of -1 reports on the previous calendar year.
type Schedule struct {
	ID             uuid.UUID              `json:"id" yaml:"id"`
	Name           string                 `json:"name" yaml:"name"`
	CompanyID      uuid.UUID              `json:"company_id" yaml:"company_id"`
	Framework      frameworks.FrameworkID `json:"framework" yaml:"framework"`
	Format         frameworks.Format      `json:"format" yaml:"format"`
	CronExpression string                 `json:"cron_expression" yaml:"cron"`
	Timezone       string                 `json:"timezone" yaml:"timezone"`
	ReportingYear  *int                   `json:"reporting_year_offset,omitempty" yaml:"reporting_year_offset,omitempty"`
	Author         string                 `json:"author,omitempty" yaml:"author,omitempty"`
	IsActive       bool                   `json:"is_active" yaml:"active"`
}

type runState struct {
	lastExecutedAt time.Time
	executionCount int
	lastError      string
}

// LoadSchedules parses a YAML list of schedules. Schedules without an id get
// one derived from their name so reloads keep the same identity.
func LoadSchedules(r io.Reader) ([]*Schedule, error) {
	var doc struct {
		Schedules []*Schedule `yaml:"schedules"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse schedules: %w", err)
	}

	for i, s := range doc.Schedules {
		if s.ID == uuid.Nil {
			s.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(s.Name+"|"+s.CompanyID.String()))
		}
		if s.Format == "" {
			s.Format = frameworks.FormatPDF
		}
		s.Framework = frameworks.ParseFrameworkID(string(s.Framework))
		if err := ValidateCronExpression(s.CronExpression); err != nil {
			return nil, fmt.Errorf("schedule %d (%s): invalid cron expression: %w", i, s.Name, err)
		}
		if s.CompanyID == uuid.Nil {
			return nil, fmt.Errorf("schedule %d (%s): company_id is required", i, s.Name)
		}
	}
	return doc.Schedules, nil
}

// NewScheduleManager creates a new schedule manager
func NewScheduleManager(executor *Executor, logger *zap.Logger) *ScheduleManager {
	return &ScheduleManager{
		cron:     cron.New(cron.WithParser(cronParser)),
		jobs:     make(map[uuid.UUID]cron.EntryID),
		runs:     make(map[uuid.UUID]*runState),
		executor: executor,
		logger:   logger,
	}
}

// Start starts the schedule manager
func (m *ScheduleManager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("schedule manager already running")
	}
	m.running = true

	m.logger.Info("Starting schedule manager", zap.Int("schedules", len(m.jobs)))
	m.cron.Start()
	return nil
}

// Stop stops the schedule manager and waits for running jobs
func (m *ScheduleManager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Stopping schedule manager")
	<-m.cron.Stop().Done()
}

// executeSchedule executes a single scheduled report request
func (m *ScheduleManager) executeSchedule(ctx context.Context, schedule *Schedule) {
	m.logger.Info("Executing scheduled report",
		zap.String("schedule_id", schedule.ID.String()),
		zap.String("schedule_name", schedule.Name))

	result, err := m.executor.Execute(ctx, schedule)

	m.mu.Lock()
	state, ok := m.runs[schedule.ID]
	if !ok {
		state = &runState{}
		m.runs[schedule.ID] = state
	}
	state.lastExecutedAt = result.StartedAt
	state.executionCount++
	state.lastError = result.Error
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("Failed to execute scheduled report",
			zap.String("schedule_id", schedule.ID.String()),
			zap.Error(err))
		return
	}

	m.logger.Info("Scheduled report requested",
		zap.String("schedule_id", schedule.ID.String()),
		zap.String("execution_id", result.ExecutionID.String()),
		zap.Int("year", result.Year))
}

// AddSchedule adds or replaces a schedule
func (m *ScheduleManager) AddSchedule(schedule *Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[schedule.ID]; ok {
		m.cron.Remove(entryID)
		delete(m.jobs, schedule.ID)
	}

	spec := schedule.CronExpression
	if schedule.Timezone != "" {
		if _, err := time.LoadLocation(schedule.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", schedule.Timezone, err)
		}
		spec = "CRON_TZ=" + schedule.Timezone + " " + spec
	}

	timeout := m.executor.config.Timeout
	entryID, err := m.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		m.executeSchedule(ctx, schedule)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	m.jobs[schedule.ID] = entryID

	m.logger.Info("Added schedule",
		zap.String("schedule_id", schedule.ID.String()),
		zap.String("cron", schedule.CronExpression),
		zap.String("framework", string(schedule.Framework)))

	return nil
}

// RemoveSchedule removes a schedule from the manager
func (m *ScheduleManager) RemoveSchedule(scheduleID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entryID, ok := m.jobs[scheduleID]; ok {
		m.cron.Remove(entryID)
		delete(m.jobs, scheduleID)

		m.logger.Info("Removed schedule", zap.String("schedule_id", scheduleID.String()))
	}
}

// UpdateSchedule updates an existing schedule
func (m *ScheduleManager) UpdateSchedule(schedule *Schedule) error {
	m.RemoveSchedule(schedule.ID)

	if schedule.IsActive {
		return m.AddSchedule(schedule)
	}
	return nil
}

// GetActiveJobs returns the number of active jobs
func (m *ScheduleManager) GetActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// GetJobStatus returns the status of a scheduled job
func (m *ScheduleManager) GetJobStatus(scheduleID uuid.UUID) (*JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entryID, ok := m.jobs[scheduleID]
	if !ok {
		return nil, fmt.Errorf("job not found")
	}

	entry := m.cron.Entry(entryID)
	status := &JobStatus{
		ScheduleID: scheduleID,
		NextRun:    entry.Next,
		PrevRun:    entry.Prev,
		IsActive:   true,
	}
	if state, ok := m.runs[scheduleID]; ok {
		status.ExecutionCount = state.executionCount
		status.LastError = state.lastError
	}
	return status, nil
}

// JobStatus represents the status of a scheduled job
type JobStatus struct {
	ScheduleID     uuid.UUID `json:"schedule_id"`
	NextRun        time.Time `json:"next_run"`
	PrevRun        time.Time `json:"prev_run"`
	IsActive       bool      `json:"is_active"`
	ExecutionCount int       `json:"execution_count"`
	LastError      string    `json:"last_error,omitempty"`
}

// ValidateCronExpression validates a cron expression
func ValidateCronExpression(expr string) error {
	_, err := cronParser.Parse(expr)
	return err
}

package reports

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"carbon-scribe/ghg-reporting/internal/emissions"
	"carbon-scribe/ghg-reporting/internal/frameworks"
)

// MemoryRepository keeps reports in process memory
type MemoryRepository struct {
	mu      sync.RWMutex
	reports map[uuid.UUID]*GeneratedReport
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{reports: make(map[uuid.UUID]*GeneratedReport)}
}

func (r *MemoryRepository) CreateReport(_ context.Context, report *GeneratedReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *report
	r.reports[report.ID()] = &stored
	return nil
}

func (r *MemoryRepository) GetReport(_ context.Context, id uuid.UUID) (*GeneratedReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.reports[id]
	if !ok {
		return nil, ErrReportNotFound
	}
	out := *report
	return &out, nil
}

func (r *MemoryRepository) GetLatestReport(_ context.Context, companyID uuid.UUID, framework frameworks.FrameworkID, format frameworks.Format, period emissions.Period) (*GeneratedReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *GeneratedReport
	for _, report := range r.reports {
		m := report.Metadata
		if m.CompanyID != companyID || m.Framework != framework || report.Format != format || m.Period.Key() != period.Key() {
			continue
		}
		if latest == nil || m.Version > latest.Metadata.Version {
			latest = report
		}
	}
	if latest == nil {
		return nil, ErrReportNotFound
	}
	out := *latest
	return &out, nil
}

func (r *MemoryRepository) UpdateReportStatus(_ context.Context, id uuid.UUID, status ReportStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.reports[id]
	if !ok {
		return ErrReportNotFound
	}
	report.Status = status
	return nil
}

func (r *MemoryRepository) ListReports(_ context.Context, filters *ReportFilters) ([]*GeneratedReport, int, error) {
	r.mu.RLock()
	var matched []*GeneratedReport
	for _, report := range r.reports {
		m := report.Metadata
		if filters.CompanyID != nil && m.CompanyID != *filters.CompanyID {
			continue
		}
		if filters.Framework != nil && m.Framework != *filters.Framework {
			continue
		}
		if filters.Format != nil && report.Format != *filters.Format {
			continue
		}
		if filters.Status != nil && report.Status != *filters.Status {
			continue
		}
		if filters.Period != nil && !m.Period.Overlaps(*filters.Period) {
			continue
		}
		out := *report
		out.Payload = nil
		matched = append(matched, &out)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Metadata.GeneratedAt.After(matched[j].Metadata.GeneratedAt)
	})

	total := len(matched)
	page, pageSize := pagination(filters)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

package emissions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by the CLI and tests.
// Every method is atomic per record; returned values are copies.
type MemoryRepository struct {
	mu            sync.RWMutex
	organizations map[uuid.UUID]Organization
	activities    map[uuid.UUID]ActivityData
	factors       map[uuid.UUID]EmissionFactor
	results       map[uuid.UUID]EmissionResult
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		organizations: make(map[uuid.UUID]Organization),
		activities:    make(map[uuid.UUID]ActivityData),
		factors:       make(map[uuid.UUID]EmissionFactor),
		results:       make(map[uuid.UUID]EmissionResult),
	}
}

func (r *MemoryRepository) GetOrganization(_ context.Context, id uuid.UUID) (*Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	org, ok := r.organizations[id]
	if !ok {
		return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
	}
	return &org, nil
}

func (r *MemoryRepository) UpsertOrganization(_ context.Context, org *Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.organizations[org.ID] = *org
	return nil
}

func (r *MemoryRepository) CreateActivity(_ context.Context, a *ActivityData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.activities[a.ID]; exists {
		return fmt.Errorf("activity %s already exists", a.ID)
	}
	r.activities[a.ID] = *a
	return nil
}

func (r *MemoryRepository) GetActivity(_ context.Context, id uuid.UUID) (*ActivityData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.activities[id]
	if !ok {
		return nil, fmt.Errorf("activity %s: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateActivity(_ context.Context, a *ActivityData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.activities[a.ID]
	if !ok || existing.ArchivedAt != nil {
		return fmt.Errorf("activity %s: %w", a.ID, ErrNotFound)
	}
	r.activities[a.ID] = *a
	return nil
}

func (r *MemoryRepository) ArchiveActivity(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.activities[id]
	if !ok || a.ArchivedAt != nil {
		return fmt.Errorf("activity %s: %w", id, ErrNotFound)
	}
	for _, res := range r.results {
		if res.Traceability.ActivityID == id && !res.IsArchived() {
			return fmt.Errorf("activity %s: %w", id, ErrActivityReferenced)
		}
	}
	a.ArchivedAt = &at
	r.activities[id] = a
	return nil
}

func (r *MemoryRepository) ListActivities(_ context.Context, filter ActivityFilter) ([]*ActivityData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*ActivityData
	for _, a := range r.activities {
		if !filter.IncludeArchived && a.ArchivedAt != nil {
			continue
		}
		if filter.CompanyID != nil && a.CompanyID != *filter.CompanyID {
			continue
		}
		if filter.Scope != nil && a.Scope != *filter.Scope {
			continue
		}
		if filter.Category != nil && a.Category != *filter.Category {
			continue
		}
		if !inRange(a.Period, filter.From, filter.To) {
			continue
		}
		a := a
		out = append(out, &a)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Period.Start.Equal(out[j].Period.Start) {
			return out[i].Period.Start.Before(out[j].Period.Start)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) CreateFactor(_ context.Context, f *EmissionFactor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factors[f.ID]; exists {
		return fmt.Errorf("emission factor %s already exists", f.ID)
	}
	r.factors[f.ID] = *f
	return nil
}

func (r *MemoryRepository) GetFactor(_ context.Context, id uuid.UUID) (*EmissionFactor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factors[id]
	if !ok {
		return nil, fmt.Errorf("emission factor %s: %w", id, ErrNotFound)
	}
	return &f, nil
}

func (r *MemoryRepository) SetFactorActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factors[id]
	if !ok {
		return fmt.Errorf("emission factor %s: %w", id, ErrNotFound)
	}
	f.Active = active
	r.factors[id] = f
	return nil
}

func (r *MemoryRepository) ListFactors(_ context.Context, filter FactorFilter) ([]*EmissionFactor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*EmissionFactor
	for _, f := range r.factors {
		if filter.ActiveOnly && !f.Active {
			continue
		}
		if filter.Scope != nil && f.Scope != *filter.Scope {
			continue
		}
		if filter.Category != nil && f.Category != *filter.Category {
			continue
		}
		f := f
		out = append(out, &f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].ReviewedAt.After(out[j].ReviewedAt)
	})
	return out, nil
}

func (r *MemoryRepository) CreateResult(_ context.Context, res *EmissionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.results[res.ID]; exists {
		return fmt.Errorf("emission result %s already exists", res.ID)
	}
	r.results[res.ID] = *res
	return nil
}

func (r *MemoryRepository) GetResult(_ context.Context, id uuid.UUID) (*EmissionResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.results[id]
	if !ok {
		return nil, fmt.Errorf("emission result %s: %w", id, ErrNotFound)
	}
	return &res, nil
}

func (r *MemoryRepository) GetCurrentResult(_ context.Context, activityID uuid.UUID) (*EmissionResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var current *EmissionResult
	for _, res := range r.results {
		if res.Traceability.ActivityID != activityID || res.IsArchived() {
			continue
		}
		if current == nil || res.Version > current.Version {
			res := res
			current = &res
		}
	}
	if current == nil {
		return nil, fmt.Errorf("current result for activity %s: %w", activityID, ErrNotFound)
	}
	return current, nil
}

func (r *MemoryRepository) UpdateResultReview(_ context.Context, id uuid.UUID, status ResultStatus, trace Traceability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.results[id]
	if !ok {
		return fmt.Errorf("emission result %s: %w", id, ErrNotFound)
	}
	if res.IsArchived() {
		return fmt.Errorf("emission result %s: %w", id, ErrResultArchived)
	}
	res.Status = status
	res.Traceability = trace
	r.results[id] = res
	return nil
}

func (r *MemoryRepository) ArchiveResult(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.results[id]
	if !ok {
		return fmt.Errorf("emission result %s: %w", id, ErrNotFound)
	}
	res.Status = ResultStatusArchived
	r.results[id] = res
	return nil
}

func (r *MemoryRepository) ListResults(_ context.Context, filter ResultFilter) ([]*EmissionResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*EmissionResult
	for _, res := range r.results {
		if !filter.IncludeArchived && res.IsArchived() {
			continue
		}
		if filter.CompanyID != nil && res.CompanyID != *filter.CompanyID {
			continue
		}
		if filter.ActivityID != nil && res.Traceability.ActivityID != *filter.ActivityID {
			continue
		}
		if filter.FactorID != nil && res.FactorID != *filter.FactorID {
			continue
		}
		if filter.Scope != nil && res.Scope != *filter.Scope {
			continue
		}
		if filter.Category != nil && res.Category != *filter.Category {
			continue
		}
		if !inRange(res.Period, filter.From, filter.To) {
			continue
		}
		res := res
		out = append(out, &res)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].CalculatedAt.Before(out[j].CalculatedAt)
	})
	return out, nil
}

func inRange(p Period, from, to *time.Time) bool {
	if from != nil && p.End.Before(*from) {
		return false
	}
	if to != nil && p.Start.After(*to) {
		return false
	}
	return true
}

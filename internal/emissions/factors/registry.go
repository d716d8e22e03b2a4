package factors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/ghg-reporting/internal/emissions"
)

// ErrInvalidFactor is returned for a factor missing its scope or category
var ErrInvalidFactor = errors.New("invalid emission factor")

// FactorStore is the persistence the registry is seeded from
type FactorStore interface {
	ListFactors(ctx context.Context, filter emissions.FactorFilter) ([]*emissions.EmissionFactor, error)
}

// VersionChange describes the activation of a new factor version
type VersionChange struct {
	OldFactorID            uuid.UUID `json:"old_factor_id"`
	NewFactorID            uuid.UUID `json:"new_factor_id"`
	OldVersion             string    `json:"old_version"`
	NewVersion             string    `json:"new_version"`
	AffectsExistingResults bool      `json:"affects_existing_results"`
	ChangedAt              time.Time `json:"changed_at"`
}

// Registry holds the emission factor catalog and answers resolution queries.
// The active set is shared by concurrent calculations and guarded by mu.
type Registry struct {
	mu      sync.RWMutex
	factors map[uuid.UUID]*emissions.EmissionFactor
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		factors: make(map[uuid.UUID]*emissions.EmissionFactor),
		logger:  logger,
		now:     time.Now,
	}
}

// Load replaces the registry contents with every factor in the store
func (r *Registry) Load(ctx context.Context, store FactorStore) (int, error) {
	factors, err := store.ListFactors(ctx, emissions.FactorFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to load emission factors: %w", err)
	}

	loaded := make(map[uuid.UUID]*emissions.EmissionFactor, len(factors))
	for _, f := range factors {
		loaded[f.ID] = cloneFactor(f)
	}

	r.mu.Lock()
	r.factors = loaded
	r.mu.Unlock()

	r.logger.Info("Emission factor registry loaded", zap.Int("factors", len(loaded)))
	return len(loaded), nil
}

// Register adds a factor to the catalog. A nil ID is assigned.
func (r *Registry) Register(f *emissions.EmissionFactor) error {
	if err := validateFactor(f); err != nil {
		return err
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factors[f.ID]; exists {
		return fmt.Errorf("emission factor %s already registered", f.ID)
	}
	r.factors[f.ID] = cloneFactor(f)
	return nil
}

// Get returns a copy of the factor with the given id, active or not
func (r *Registry) Get(id uuid.UUID) (*emissions.EmissionFactor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factors[id]
	if !ok {
		return nil, fmt.Errorf("emission factor %s: %w", id, emissions.ErrNotFound)
	}
	return cloneFactor(f), nil
}

// List returns every factor ordered by scope, category and review date
func (r *Registry) List(activeOnly bool) []*emissions.EmissionFactor {
	r.mu.RLock()
	out := make([]*emissions.EmissionFactor, 0, len(r.factors))
	for _, f := range r.factors {
		if activeOnly && !f.Active {
			continue
		}
		out = append(out, cloneFactor(f))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return preferred(out[i], out[j])
	})
	return out
}

// Resolve selects the factor to apply to an activity.
//
// Tier 1 requires an exact scope, category and geography match; tier 2
// relaxes the geography. Both require the factor to be active and
// applicable to the year. Ties go to the most recently reviewed factor.
func (r *Registry) Resolve(scope emissions.Scope, category, geography string, year int) (*emissions.EmissionFactor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var exact, anyGeo *emissions.EmissionFactor
	for _, f := range r.factors {
		if !f.Active || f.Scope != scope || !sameKey(f.Category, category) || !f.AppliesTo(year) {
			continue
		}
		if geography != "" && sameKey(f.GeographyOrEmpty(), geography) {
			if exact == nil || preferred(f, exact) {
				exact = f
			}
		}
		if anyGeo == nil || preferred(f, anyGeo) {
			anyGeo = f
		}
	}

	switch {
	case exact != nil:
		return cloneFactor(exact), nil
	case anyGeo != nil:
		return cloneFactor(anyGeo), nil
	default:
		return nil, fmt.Errorf("%w: %s/%s geography=%q year=%d",
			emissions.ErrNoFactorFound, scope, category, geography, year)
	}
}

// ActivateVersion activates next and deactivates the factor it supersedes
// in one step. The returned change feeds the factor version notification.
func (r *Registry) ActivateVersion(next *emissions.EmissionFactor, oldID uuid.UUID, affectsExisting bool) (*VersionChange, error) {
	if err := validateFactor(next); err != nil {
		return nil, err
	}
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.factors[oldID]
	if !ok {
		return nil, fmt.Errorf("emission factor %s: %w", oldID, emissions.ErrNotFound)
	}
	if _, exists := r.factors[next.ID]; exists {
		return nil, fmt.Errorf("emission factor %s already registered", next.ID)
	}

	next.Active = true
	next.SupersedesID = &oldID
	r.factors[next.ID] = cloneFactor(next)
	old.Active = false

	change := &VersionChange{
		OldFactorID:            oldID,
		NewFactorID:            next.ID,
		OldVersion:             old.Version,
		NewVersion:             next.Version,
		AffectsExistingResults: affectsExisting,
		ChangedAt:              r.now(),
	}

	r.logger.Info("Emission factor version activated",
		zap.String("old_factor_id", oldID.String()),
		zap.String("new_factor_id", next.ID.String()),
		zap.String("new_version", next.Version),
		zap.Bool("affects_existing_results", affectsExisting),
	)
	return change, nil
}

// RevertVersion undoes ActivateVersion: the new factor is dropped and the
// superseded one gets back its previous active flag
func (r *Registry) RevertVersion(change *VersionChange, oldActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.factors, change.NewFactorID)
	if old, ok := r.factors[change.OldFactorID]; ok {
		old.Active = oldActive
	}

	r.logger.Warn("Emission factor version reverted",
		zap.String("old_factor_id", change.OldFactorID.String()),
		zap.String("new_factor_id", change.NewFactorID.String()),
	)
}

// Remove drops a factor from the catalog
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.factors, id)
}

func validateFactor(f *emissions.EmissionFactor) error {
	if f == nil {
		return fmt.Errorf("%w: emission factor is required", ErrInvalidFactor)
	}
	if !f.Scope.Valid() {
		return fmt.Errorf("%w: %q has invalid scope %d", ErrInvalidFactor, f.Name, f.Scope)
	}
	if strings.TrimSpace(f.Category) == "" {
		return fmt.Errorf("%w: %q has no category", ErrInvalidFactor, f.Name)
	}
	if !(f.Value > 0) {
		return fmt.Errorf("emission factor %q: %w", f.Name, emissions.ErrInvalidFactorValue)
	}
	return nil
}

// preferred orders candidates: latest review first, then by id for a stable pick
func preferred(a, b *emissions.EmissionFactor) bool {
	if !a.ReviewedAt.Equal(b.ReviewedAt) {
		return a.ReviewedAt.After(b.ReviewedAt)
	}
	return a.ID.String() < b.ID.String()
}

func sameKey(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func cloneFactor(f *emissions.EmissionFactor) *emissions.EmissionFactor {
	c := *f
	if f.ApplicableYears != nil {
		c.ApplicableYears = append([]int(nil), f.ApplicableYears...)
	}
	if f.Geography != nil {
		g := *f.Geography
		c.Geography = &g
	}
	if f.Uncertainty != nil {
		u := *f.Uncertainty
		c.Uncertainty = &u
	}
	if f.SupersedesID != nil {
		s := *f.SupersedesID
		c.SupersedesID = &s
	}
	return &c
}

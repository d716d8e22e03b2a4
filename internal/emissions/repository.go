package emissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Repository defines the persistence contract for activities, factors and results
type Repository interface {
	// Organizations
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
	UpsertOrganization(ctx context.Context, org *Organization) error

	// Activity data
	CreateActivity(ctx context.Context, activity *ActivityData) error
	GetActivity(ctx context.Context, id uuid.UUID) (*ActivityData, error)
	UpdateActivity(ctx context.Context, activity *ActivityData) error
	ArchiveActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	ListActivities(ctx context.Context, filter ActivityFilter) ([]*ActivityData, error)

	// Emission factors
	CreateFactor(ctx context.Context, factor *EmissionFactor) error
	GetFactor(ctx context.Context, id uuid.UUID) (*EmissionFactor, error)
	SetFactorActive(ctx context.Context, id uuid.UUID, active bool) error
	ListFactors(ctx context.Context, filter FactorFilter) ([]*EmissionFactor, error)

	// Emission results
	CreateResult(ctx context.Context, result *EmissionResult) error
	GetResult(ctx context.Context, id uuid.UUID) (*EmissionResult, error)
	GetCurrentResult(ctx context.Context, activityID uuid.UUID) (*EmissionResult, error)
	UpdateResultReview(ctx context.Context, id uuid.UUID, status ResultStatus, trace Traceability) error
	ArchiveResult(ctx context.Context, id uuid.UUID) error
	ListResults(ctx context.Context, filter ResultFilter) ([]*EmissionResult, error)
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// =====================================================
// Organizations
// =====================================================

func (r *PostgresRepository) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query := `
		SELECT id, name, jurisdiction, assurance_level, assurance_body, base_year, created_at
		FROM organizations
		WHERE id = $1
	`

	var org Organization
	if err := r.db.GetContext(ctx, &org, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("organization %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

func (r *PostgresRepository) UpsertOrganization(ctx context.Context, org *Organization) error {
	query := `
		INSERT INTO organizations (id, name, jurisdiction, assurance_level, assurance_body, base_year, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			jurisdiction = EXCLUDED.jurisdiction,
			assurance_level = EXCLUDED.assurance_level,
			assurance_body = EXCLUDED.assurance_body,
			base_year = EXCLUDED.base_year
	`

	_, err := r.db.ExecContext(ctx, query,
		org.ID, org.Name, org.Jurisdiction, org.AssuranceLevel, org.AssuranceBody, org.BaseYear, org.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert organization: %w", err)
	}
	return nil
}

// =====================================================
// Activity data
// =====================================================

const activityColumns = `
	id, company_id, scope, category, subcategory, amount, unit, period_start, period_end,
	data_quality, source, location, notes, scope2_method, revision, created_at, updated_at, archived_at
`

func (r *PostgresRepository) CreateActivity(ctx context.Context, a *ActivityData) error {
	query := `
		INSERT INTO emission_activities (` + activityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.CompanyID, int(a.Scope), a.Category, a.Subcategory, a.Amount, a.Unit,
		a.Period.Start, a.Period.End, a.DataQuality, a.Source, a.Location, a.Notes,
		string(a.Scope2Method), a.Revision, a.CreatedAt, a.UpdatedAt, a.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetActivity(ctx context.Context, id uuid.UUID) (*ActivityData, error) {
	query := `SELECT ` + activityColumns + ` FROM emission_activities WHERE id = $1`

	a, err := scanActivity(r.db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("activity %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) UpdateActivity(ctx context.Context, a *ActivityData) error {
	query := `
		UPDATE emission_activities SET
			scope = $2, category = $3, subcategory = $4, amount = $5, unit = $6,
			period_start = $7, period_end = $8, data_quality = $9, source = $10,
			location = $11, notes = $12, scope2_method = $13, revision = $14, updated_at = $15
		WHERE id = $1 AND archived_at IS NULL
	`

	res, err := r.db.ExecContext(ctx, query,
		a.ID, int(a.Scope), a.Category, a.Subcategory, a.Amount, a.Unit,
		a.Period.Start, a.Period.End, a.DataQuality, a.Source,
		a.Location, a.Notes, string(a.Scope2Method), a.Revision, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activity %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// ArchiveActivity refuses while a non-archived result still references the activity
func (r *PostgresRepository) ArchiveActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	var referenced int
	err := r.db.GetContext(ctx, &referenced,
		`SELECT COUNT(*) FROM emission_results WHERE activity_id = $1 AND status <> 'archived'`, id)
	if err != nil {
		return fmt.Errorf("failed to check activity references: %w", err)
	}
	if referenced > 0 {
		return fmt.Errorf("activity %s: %w", id, ErrActivityReferenced)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE emission_activities SET archived_at = $2 WHERE id = $1 AND archived_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to archive activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("activity %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) ListActivities(ctx context.Context, filter ActivityFilter) ([]*ActivityData, error) {
	var conditions []string
	var args []interface{}
	argCount := 0

	if filter.CompanyID != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("company_id = $%d", argCount))
		args = append(args, *filter.CompanyID)
	}
	if filter.Scope != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("scope = $%d", argCount))
		args = append(args, int(*filter.Scope))
	}
	if filter.Category != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("category = $%d", argCount))
		args = append(args, *filter.Category)
	}
	if filter.From != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("period_end >= $%d", argCount))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("period_start <= $%d", argCount))
		args = append(args, *filter.To)
	}
	if !filter.IncludeArchived {
		conditions = append(conditions, "archived_at IS NULL")
	}

	query := `SELECT ` + activityColumns + ` FROM emission_activities`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY period_start, created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	var activities []*ActivityData
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanActivity(row rowScanner) (*ActivityData, error) {
	var a ActivityData
	var scope int
	var method string
	err := row.Scan(
		&a.ID, &a.CompanyID, &scope, &a.Category, &a.Subcategory, &a.Amount, &a.Unit,
		&a.Period.Start, &a.Period.End, &a.DataQuality, &a.Source, &a.Location, &a.Notes,
		&method, &a.Revision, &a.CreatedAt, &a.UpdatedAt, &a.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Scope = Scope(scope)
	a.Scope2Method = Scope2Method(method)
	return &a, nil
}

// =====================================================
// Emission factors
// =====================================================

const factorColumns = `
	id, name, source, version, scope, category, geography, value, activity_unit,
	gwp_standard, applicable_years, uncertainty, active, reviewed_at, supersedes_id, created_at
`

func (r *PostgresRepository) CreateFactor(ctx context.Context, f *EmissionFactor) error {
	years := make(pq.Int64Array, len(f.ApplicableYears))
	for i, y := range f.ApplicableYears {
		years[i] = int64(y)
	}

	query := `
		INSERT INTO emission_factors (` + factorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.Name, f.Source, f.Version, int(f.Scope), f.Category, f.Geography, f.Value,
		f.ActivityUnit, f.GWPStandard, years, f.Uncertainty, f.Active, f.ReviewedAt,
		f.SupersedesID, f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create emission factor: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetFactor(ctx context.Context, id uuid.UUID) (*EmissionFactor, error) {
	query := `SELECT ` + factorColumns + ` FROM emission_factors WHERE id = $1`

	f, err := scanFactor(r.db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("emission factor %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get emission factor: %w", err)
	}
	return f, nil
}

func (r *PostgresRepository) SetFactorActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE emission_factors SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to update emission factor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("emission factor %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *PostgresRepository) ListFactors(ctx context.Context, filter FactorFilter) ([]*EmissionFactor, error) {
	var conditions []string
	var args []interface{}
	argCount := 0

	if filter.Scope != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("scope = $%d", argCount))
		args = append(args, int(*filter.Scope))
	}
	if filter.Category != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("category = $%d", argCount))
		args = append(args, *filter.Category)
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "active = TRUE")
	}

	query := `SELECT ` + factorColumns + ` FROM emission_factors`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY scope, category, reviewed_at DESC"

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list emission factors: %w", err)
	}
	defer rows.Close()

	var factors []*EmissionFactor
	for rows.Next() {
		f, err := scanFactor(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan emission factor: %w", err)
		}
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

func scanFactor(row rowScanner) (*EmissionFactor, error) {
	var f EmissionFactor
	var scope int
	var years pq.Int64Array
	err := row.Scan(
		&f.ID, &f.Name, &f.Source, &f.Version, &scope, &f.Category, &f.Geography, &f.Value,
		&f.ActivityUnit, &f.GWPStandard, &years, &f.Uncertainty, &f.Active, &f.ReviewedAt,
		&f.SupersedesID, &f.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Scope = Scope(scope)
	for _, y := range years {
		f.ApplicableYears = append(f.ApplicableYears, int(y))
	}
	return &f, nil
}

// =====================================================
// Emission results
// =====================================================

const resultColumns = `
	id, company_id, activity_id, scope, category, subcategory, scope2_method, period_start, period_end,
	activity_amount, activity_unit, factor_id, factor_value, emission_tons, uncertainty,
	methodology, formula, steps, data_quality, calculated_at, status, version, traceability
`

func (r *PostgresRepository) CreateResult(ctx context.Context, res *EmissionResult) error {
	uncertaintyJSON, err := json.Marshal(res.Uncertainty)
	if err != nil {
		return fmt.Errorf("failed to marshal uncertainty: %w", err)
	}
	stepsJSON, err := json.Marshal(res.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal calculation steps: %w", err)
	}
	traceJSON, err := json.Marshal(res.Traceability)
	if err != nil {
		return fmt.Errorf("failed to marshal traceability: %w", err)
	}

	query := `
		INSERT INTO emission_results (` + resultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
	`

	_, err = r.db.ExecContext(ctx, query,
		res.ID, res.CompanyID, res.Traceability.ActivityID, int(res.Scope), res.Category, res.Subcategory,
		string(res.Scope2Method), res.Period.Start, res.Period.End,
		res.ActivityAmount, res.ActivityUnit, res.FactorID, res.FactorValue, res.EmissionTons, uncertaintyJSON,
		res.Methodology, res.Formula, stepsJSON, res.DataQuality, res.CalculatedAt, res.Status, res.Version, traceJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to create emission result: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetResult(ctx context.Context, id uuid.UUID) (*EmissionResult, error) {
	query := `SELECT ` + resultColumns + ` FROM emission_results WHERE id = $1`

	res, err := scanResult(r.db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("emission result %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get emission result: %w", err)
	}
	return res, nil
}

func (r *PostgresRepository) GetCurrentResult(ctx context.Context, activityID uuid.UUID) (*EmissionResult, error) {
	query := `
		SELECT ` + resultColumns + ` FROM emission_results
		WHERE activity_id = $1 AND status <> 'archived'
		ORDER BY version DESC
		LIMIT 1
	`

	res, err := scanResult(r.db.QueryRowxContext(ctx, query, activityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("current result for activity %s: %w", activityID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get current emission result: %w", err)
	}
	return res, nil
}

func (r *PostgresRepository) UpdateResultReview(ctx context.Context, id uuid.UUID, status ResultStatus, trace Traceability) error {
	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("failed to marshal traceability: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE emission_results SET status = $2, traceability = $3 WHERE id = $1 AND status <> 'archived'`,
		id, status, traceJSON)
	if err != nil {
		return fmt.Errorf("failed to update emission result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("emission result %s: %w", id, ErrResultArchived)
	}
	return nil
}

func (r *PostgresRepository) ArchiveResult(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE emission_results SET status = 'archived' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to archive emission result: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListResults(ctx context.Context, filter ResultFilter) ([]*EmissionResult, error) {
	var conditions []string
	var args []interface{}
	argCount := 0

	if filter.CompanyID != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("company_id = $%d", argCount))
		args = append(args, *filter.CompanyID)
	}
	if filter.ActivityID != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("activity_id = $%d", argCount))
		args = append(args, *filter.ActivityID)
	}
	if filter.FactorID != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("factor_id = $%d", argCount))
		args = append(args, *filter.FactorID)
	}
	if filter.Scope != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("scope = $%d", argCount))
		args = append(args, int(*filter.Scope))
	}
	if filter.Category != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("category = $%d", argCount))
		args = append(args, *filter.Category)
	}
	if filter.From != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("period_end >= $%d", argCount))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		argCount++
		conditions = append(conditions, fmt.Sprintf("period_start <= $%d", argCount))
		args = append(args, *filter.To)
	}
	if !filter.IncludeArchived {
		conditions = append(conditions, "status <> 'archived'")
	}

	query := `SELECT ` + resultColumns + ` FROM emission_results`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY scope, category, calculated_at"

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list emission results: %w", err)
	}
	defer rows.Close()

	var results []*EmissionResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan emission result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func scanResult(row rowScanner) (*EmissionResult, error) {
	var res EmissionResult
	var activityID uuid.UUID
	var scope int
	var method string
	var uncertaintyJSON, stepsJSON, traceJSON []byte

	err := row.Scan(
		&res.ID, &res.CompanyID, &activityID, &scope, &res.Category, &res.Subcategory, &method,
		&res.Period.Start, &res.Period.End, &res.ActivityAmount, &res.ActivityUnit, &res.FactorID,
		&res.FactorValue, &res.EmissionTons, &uncertaintyJSON, &res.Methodology, &res.Formula,
		&stepsJSON, &res.DataQuality, &res.CalculatedAt, &res.Status, &res.Version, &traceJSON,
	)
	if err != nil {
		return nil, err
	}

	res.Scope = Scope(scope)
	res.Scope2Method = Scope2Method(method)
	if len(uncertaintyJSON) > 0 {
		if err := json.Unmarshal(uncertaintyJSON, &res.Uncertainty); err != nil {
			return nil, fmt.Errorf("failed to unmarshal uncertainty: %w", err)
		}
	}
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &res.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal calculation steps: %w", err)
		}
	}
	if len(traceJSON) > 0 {
		if err := json.Unmarshal(traceJSON, &res.Traceability); err != nil {
			return nil, fmt.Errorf("failed to unmarshal traceability: %w", err)
		}
	}
	res.Traceability.ActivityID = activityID
	return &res, nil
}

// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-loyalty/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTenant upserts a tenant.
func (r *SQLRepository) SaveTenant(ctx context.Context, tenant *domain.Tenant) error {
	if tenant.ID == 0 {
		return fmt.Errorf("%w: tenant id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO tenants (id, name, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenant.ID, tenant.Name, tenant.Status, tenant.CreatedAt,
	)
	return err
}

// GetTenant retrieves a tenant by ID.
func (r *SQLRepository) GetTenant(ctx context.Context, tenantID int64) (*domain.Tenant, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `SELECT id, name, status, created_at FROM tenants WHERE id = ?`

	var t domain.Tenant
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&t.ID, &t.Name, &t.Status, &t.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "tenant", ID: tenantID}
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveProgram upserts a program with tenant isolation.
func (r *SQLRepository) SaveProgram(ctx context.Context, program *domain.Program) error {
	if program.TenantID == 0 {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	if program.ID == 0 {
		return fmt.Errorf("%w: program id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO programs (id, tenant_id, name, status, max_active_rules, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			max_active_rules = excluded.max_active_rules
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		program.ID, program.TenantID, program.Name,
		program.Status, program.MaxActiveRules, program.CreatedAt,
	)
	return err
}

// GetProgram retrieves a program with tenant isolation.
func (r *SQLRepository) GetProgram(ctx context.Context, tenantID int64, programID int64) (*domain.Program, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, status, max_active_rules, created_at
		FROM programs
		WHERE tenant_id = ? AND id = ?
	`

	var p domain.Program
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, programID).Scan(
		&p.ID, &p.TenantID, &p.Name, &p.Status, &p.MaxActiveRules, &p.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "program", ID: programID}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const ruleColumns = `id, tenant_id, program_id, version, name, description,
	trigger_type, scope, eligibility, formula, limits,
	conflict_group, stack_policy, priority_rank, max_awards_per_event,
	idempotency, earning_domain, status, active_from, active_to,
	created_at, updated_at`

// SaveRule upserts one (id, version) row. A fresh id is assigned when
// rule.ID is zero. Re-saving an existing version only happens on status
// transitions, so the upsert overwrites the row in place.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID int64, rule *domain.RewardRule) error {
	if tenantID == 0 {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}
	rule.TenantID = tenantID

	scope, err := json.Marshal(rule.Scope)
	if err != nil {
		return fmt.Errorf("failed to encode scope: %w", err)
	}
	var eligibility []byte
	if rule.Eligibility != nil {
		if eligibility, err = json.Marshal(rule.Eligibility); err != nil {
			return fmt.Errorf("failed to encode eligibility: %w", err)
		}
	}
	formula, err := json.Marshal(rule.Formula)
	if err != nil {
		return fmt.Errorf("failed to encode formula: %w", err)
	}
	limits, err := json.Marshal(rule.Limits)
	if err != nil {
		return fmt.Errorf("failed to encode limits: %w", err)
	}
	idempotency, err := json.Marshal(rule.Idempotency)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if rule.ID == 0 {
		next := `SELECT COALESCE(MAX(id), 0) + 1 FROM reward_rules WHERE tenant_id = ?`
		if err := tx.QueryRowContext(ctx, r.rebind(next), tenantID).Scan(&rule.ID); err != nil {
			return fmt.Errorf("failed to assign rule id: %w", err)
		}
	}

	query := `
		INSERT INTO reward_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			trigger_type = excluded.trigger_type,
			scope = excluded.scope,
			eligibility = excluded.eligibility,
			formula = excluded.formula,
			limits = excluded.limits,
			conflict_group = excluded.conflict_group,
			stack_policy = excluded.stack_policy,
			priority_rank = excluded.priority_rank,
			max_awards_per_event = excluded.max_awards_per_event,
			idempotency = excluded.idempotency,
			earning_domain = excluded.earning_domain,
			status = excluded.status,
			active_from = excluded.active_from,
			active_to = excluded.active_to,
			updated_at = excluded.updated_at
	`

	var eligibilityArg any
	if eligibility != nil {
		eligibilityArg = string(eligibility)
	}

	_, err = tx.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.ProgramID, rule.Version,
		rule.Name, rule.Description, rule.Trigger,
		string(scope), eligibilityArg, string(formula), string(limits),
		rule.Conflict.ConflictGroup, rule.Conflict.StackPolicy,
		rule.Conflict.PriorityRank, rule.Conflict.MaxAwardsPerEvent,
		string(idempotency), rule.EarningDomain, rule.Status,
		rule.ActiveFrom, rule.ActiveTo,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// GetRule retrieves the latest version of a rule with tenant isolation.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID int64, ruleID int64) (*domain.RewardRule, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM reward_rules
		WHERE tenant_id = ? AND id = ?
		ORDER BY version DESC
		LIMIT 1
	`

	rule, err := r.scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "rule", ID: ruleID}
	}
	return rule, err
}

// GetRuleVersion retrieves one specific version of a rule.
func (r *SQLRepository) GetRuleVersion(ctx context.Context, tenantID int64, ruleID int64, version int) (*domain.RewardRule, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM reward_rules
		WHERE tenant_id = ? AND id = ? AND version = ?
	`

	rule, err := r.scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Resource: "rule version", ID: ruleID}
	}
	return rule, err
}

// ListRuleVersions retrieves the full version history of a rule,
// newest first.
func (r *SQLRepository) ListRuleVersions(ctx context.Context, tenantID int64, ruleID int64) ([]*domain.RewardRule, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM reward_rules
		WHERE tenant_id = ? AND id = ?
		ORDER BY version DESC
	`

	return r.queryRules(ctx, r.rebind(query), tenantID, ruleID)
}

// ListRulesByProgram retrieves the latest version of every rule in a
// program.
func (r *SQLRepository) ListRulesByProgram(ctx context.Context, tenantID int64, programID int64) ([]*domain.RewardRule, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT ` + prefixedRuleColumns + `
		FROM reward_rules r
		JOIN (
			SELECT id, MAX(version) AS version
			FROM reward_rules
			WHERE tenant_id = ? AND program_id = ?
			GROUP BY id
		) latest ON r.id = latest.id AND r.version = latest.version
		WHERE r.tenant_id = ? AND r.program_id = ?
		ORDER BY r.id
	`

	return r.queryRules(ctx, r.rebind(query), tenantID, programID, tenantID, programID)
}

// ListActiveRules retrieves latest versions with active status,
// optionally narrowed to one conflict group. Callers apply window
// checks via IsActive.
func (r *SQLRepository) ListActiveRules(ctx context.Context, tenantID int64, programID int64, conflictGroup string) ([]*domain.RewardRule, error) {
	if tenantID == 0 {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT ` + prefixedRuleColumns + `
		FROM reward_rules r
		JOIN (
			SELECT id, MAX(version) AS version
			FROM reward_rules
			WHERE tenant_id = ? AND program_id = ?
			GROUP BY id
		) latest ON r.id = latest.id AND r.version = latest.version
		WHERE r.tenant_id = ? AND r.program_id = ? AND r.status = 'active'
	`
	args := []any{tenantID, programID, tenantID, programID}

	if conflictGroup != "" {
		query += ` AND r.conflict_group = ?`
		args = append(args, conflictGroup)
	}
	query += ` ORDER BY r.id`

	return r.queryRules(ctx, r.rebind(query), args...)
}

// CountActiveRules counts latest versions with active status in a
// program.
func (r *SQLRepository) CountActiveRules(ctx context.Context, tenantID int64, programID int64) (int64, error) {
	if tenantID == 0 {
		return 0, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM reward_rules r
		JOIN (
			SELECT id, MAX(version) AS version
			FROM reward_rules
			WHERE tenant_id = ? AND program_id = ?
			GROUP BY id
		) latest ON r.id = latest.id AND r.version = latest.version
		WHERE r.tenant_id = ? AND r.program_id = ? AND r.status = 'active'
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, programID, tenantID, programID).Scan(&count)
	return count, err
}

// DeleteRule removes every version of a rule.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID int64, ruleID int64) error {
	if tenantID == 0 {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `DELETE FROM reward_rules WHERE tenant_id = ? AND id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return &domain.NotFoundError{Resource: "rule", ID: ruleID}
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const prefixedRuleColumns = `r.id, r.tenant_id, r.program_id, r.version, r.name, r.description,
	r.trigger_type, r.scope, r.eligibility, r.formula, r.limits,
	r.conflict_group, r.stack_policy, r.priority_rank, r.max_awards_per_event,
	r.idempotency, r.earning_domain, r.status, r.active_from, r.active_to,
	r.created_at, r.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanRule(row rowScanner) (*domain.RewardRule, error) {
	var rule domain.RewardRule
	var description, scope, formula, limits, idempotency string
	var eligibility sql.NullString
	var maxAwards sql.NullInt64
	var activeFrom, activeTo sql.NullTime

	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.ProgramID, &rule.Version,
		&rule.Name, &description, &rule.Trigger,
		&scope, &eligibility, &formula, &limits,
		&rule.Conflict.ConflictGroup, &rule.Conflict.StackPolicy,
		&rule.Conflict.PriorityRank, &maxAwards,
		&idempotency, &rule.EarningDomain, &rule.Status,
		&activeFrom, &activeTo,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Description = description
	if err := json.Unmarshal([]byte(scope), &rule.Scope); err != nil {
		return nil, fmt.Errorf("failed to parse scope for rule %d: %w", rule.ID, err)
	}
	if eligibility.Valid && eligibility.String != "" {
		rule.Eligibility = &domain.Eligibility{}
		if err := json.Unmarshal([]byte(eligibility.String), rule.Eligibility); err != nil {
			return nil, fmt.Errorf("failed to parse eligibility for rule %d: %w", rule.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(formula), &rule.Formula); err != nil {
		return nil, fmt.Errorf("failed to parse formula for rule %d: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(limits), &rule.Limits); err != nil {
		return nil, fmt.Errorf("failed to parse limits for rule %d: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(idempotency), &rule.Idempotency); err != nil {
		return nil, fmt.Errorf("failed to parse idempotency for rule %d: %w", rule.ID, err)
	}

	if maxAwards.Valid {
		n := int(maxAwards.Int64)
		rule.Conflict.MaxAwardsPerEvent = &n
	}
	if activeFrom.Valid {
		t := activeFrom.Time
		rule.ActiveFrom = &t
	}
	if activeTo.Valid {
		t := activeTo.Time
		rule.ActiveTo = &t
	}

	return &rule, nil
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.RewardRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.RewardRule
	for rows.Next() {
		rule, err := r.scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

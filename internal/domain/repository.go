// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All rule methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Tenant and program directory
	SaveTenant(ctx context.Context, tenant *Tenant) error
	GetTenant(ctx context.Context, tenantID int64) (*Tenant, error)
	SaveProgram(ctx context.Context, program *Program) error
	GetProgram(ctx context.Context, tenantID int64, programID int64) (*Program, error)

	// Rule operations. SaveRule upserts one (id, version) row and
	// assigns a fresh id when rule.ID is zero. GetRule returns the
	// latest version.
	SaveRule(ctx context.Context, tenantID int64, rule *RewardRule) error
	GetRule(ctx context.Context, tenantID int64, ruleID int64) (*RewardRule, error)
	GetRuleVersion(ctx context.Context, tenantID int64, ruleID int64, version int) (*RewardRule, error)
	ListRuleVersions(ctx context.Context, tenantID int64, ruleID int64) ([]*RewardRule, error)
	ListRulesByProgram(ctx context.Context, tenantID int64, programID int64) ([]*RewardRule, error)

	// ListActiveRules returns latest versions with active status for a
	// program, optionally narrowed to one conflict group. Callers apply
	// IsActive for window checks.
	ListActiveRules(ctx context.Context, tenantID int64, programID int64, conflictGroup string) ([]*RewardRule, error)
	CountActiveRules(ctx context.Context, tenantID int64, programID int64) (int64, error)

	// DeleteRule removes every version of the rule.
	DeleteRule(ctx context.Context, tenantID int64, ruleID int64) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

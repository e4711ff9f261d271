package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTenants = `
CREATE TABLE IF NOT EXISTS tenants (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaPrograms = `
CREATE TABLE IF NOT EXISTS programs (
    id INTEGER NOT NULL,
    tenant_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    max_active_rules INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_programs_tenant ON programs(tenant_id);
`

// schemaRewardRules stores every version of every rule. A version row
// is immutable except for status transitions, which update in place.
const schemaRewardRules = `
CREATE TABLE IF NOT EXISTS reward_rules (
    id INTEGER NOT NULL,
    tenant_id INTEGER NOT NULL,
    program_id INTEGER NOT NULL,
    version INTEGER NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    trigger_type TEXT NOT NULL,
    scope TEXT NOT NULL,
    eligibility TEXT,
    formula TEXT NOT NULL,
    limits TEXT NOT NULL,
    conflict_group TEXT NOT NULL,
    stack_policy TEXT NOT NULL,
    priority_rank INTEGER NOT NULL DEFAULT 0,
    max_awards_per_event INTEGER,
    idempotency TEXT NOT NULL,
    earning_domain TEXT NOT NULL,
    status TEXT NOT NULL,
    active_from TIMESTAMP,
    active_to TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id, version)
);

CREATE INDEX IF NOT EXISTS idx_reward_rules_tenant ON reward_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_reward_rules_program ON reward_rules(tenant_id, program_id);
CREATE INDEX IF NOT EXISTS idx_reward_rules_status ON reward_rules(tenant_id, program_id, status);
CREATE INDEX IF NOT EXISTS idx_reward_rules_group ON reward_rules(tenant_id, program_id, conflict_group);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTenants,
		schemaPrograms,
		schemaRewardRules,
	}
}

// Package authoring implements the rule authoring service: create,
// version, activate, and retire reward rules, plus dry-run evaluation
// of candidate events against the live rule set.
package authoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-loyalty/kestrel/internal/domain"
	"github.com/opensource-loyalty/kestrel/internal/quota"
	"github.com/opensource-loyalty/kestrel/internal/rules"
)

const engineVersion = "kestrel-1.0"

// Service coordinates rule persistence, validation, cache invalidation,
// and lifecycle events.
type Service struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	validator *rules.Validator
	engine    *rules.Engine
	quota     *quota.Service
	logger    *slog.Logger

	activeRulesTTL time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewService creates the authoring service.
func NewService(
	repo domain.Repository,
	cache domain.Cache,
	bus domain.EventBus,
	validator *rules.Validator,
	engine *rules.Engine,
	quotaSvc *quota.Service,
	cfg domain.AuthoringConfig,
	logger *slog.Logger,
) *Service {
	ttl := time.Duration(cfg.ActiveRulesTTL) * time.Second
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{
		repo:           repo,
		cache:          cache,
		bus:            bus,
		validator:      validator,
		engine:         engine,
		quota:          quotaSvc,
		logger:         logger,
		activeRulesTTL: ttl,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreateTenant registers a tenant.
func (s *Service) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
	if tenant.Name == "" {
		return &domain.InvalidInputError{Field: "name", Reason: "name is required"}
	}
	if tenant.Status == "" {
		tenant.Status = domain.DirectoryStatusActive
	}
	tenant.CreatedAt = s.now()
	return s.repo.SaveTenant(ctx, tenant)
}

// CreateProgram registers a loyalty program under a tenant.
func (s *Service) CreateProgram(ctx context.Context, program *domain.Program) error {
	if program.Name == "" {
		return &domain.InvalidInputError{Field: "name", Reason: "name is required"}
	}
	if program.MaxActiveRules < 0 {
		return &domain.InvalidInputError{Field: "maxActiveRules", Reason: "must not be negative"}
	}
	if _, err := s.repo.GetTenant(ctx, program.TenantID); err != nil {
		return err
	}
	if program.Status == "" {
		program.Status = domain.DirectoryStatusActive
	}
	program.CreatedAt = s.now()
	return s.repo.SaveProgram(ctx, program)
}

// GetProgram returns one program.
func (s *Service) GetProgram(ctx context.Context, tenantID, programID int64) (*domain.Program, error) {
	return s.repo.GetProgram(ctx, tenantID, programID)
}

// CreateRule validates and persists version 1 of a new rule. Rules
// default to draft status; creating directly in active status counts
// against the program's active-rule cap.
func (s *Service) CreateRule(ctx context.Context, rule *domain.RewardRule) (*domain.RewardRule, error) {
	now := s.now()
	rule.ID = 0
	rule.Version = 1
	if rule.Status == "" {
		rule.Status = domain.StatusDraft
	}
	s.applyDefaults(rule)
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if _, err := s.repo.GetProgram(ctx, rule.TenantID, rule.ProgramID); err != nil {
		return nil, err
	}
	if err := s.validator.Validate(ctx, rule); err != nil {
		return nil, err
	}
	if rule.Status == domain.StatusActive {
		if err := s.quota.EnsureCapacity(ctx, rule.TenantID, rule.ProgramID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SaveRule(ctx, rule.TenantID, rule); err != nil {
		return nil, err
	}

	s.afterWrite(ctx, rule, domain.TopicRuleCreated)
	s.logger.Info("rule created",
		"tenant_id", rule.TenantID,
		"program_id", rule.ProgramID,
		"rule_id", rule.ID,
		"trigger", rule.Trigger)
	return rule, nil
}

// UpdateRule applies a patch as a new version of the rule. The prior
// version row is never touched.
func (s *Service) UpdateRule(ctx context.Context, tenantID, ruleID int64, patch *domain.RulePatch) (*domain.RewardRule, error) {
	current, err := s.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	next := current.NewVersion(patch, s.now())
	s.applyDefaults(next)
	if err := s.validator.Validate(ctx, next); err != nil {
		return nil, err
	}
	if next.Status == domain.StatusActive && current.Status != domain.StatusActive {
		if err := s.quota.EnsureCapacity(ctx, tenantID, next.ProgramID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.SaveRule(ctx, tenantID, next); err != nil {
		return nil, err
	}

	s.afterWrite(ctx, next, domain.TopicRuleUpdated)
	s.logger.Info("rule updated",
		"tenant_id", tenantID,
		"rule_id", ruleID,
		"version", next.Version)
	return next, nil
}

// ActivateRule flips the latest version to active in place. The version
// number does not change.
func (s *Service) ActivateRule(ctx context.Context, tenantID, ruleID int64) (*domain.RewardRule, error) {
	current, err := s.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.StatusActive {
		return current, nil
	}

	activated := current.Activate(s.now())
	if err := s.validator.Validate(ctx, activated); err != nil {
		return nil, err
	}
	if err := s.quota.EnsureCapacity(ctx, tenantID, activated.ProgramID); err != nil {
		return nil, err
	}

	if err := s.repo.SaveRule(ctx, tenantID, activated); err != nil {
		return nil, err
	}

	s.afterWrite(ctx, activated, domain.TopicRuleActivated)
	s.logger.Info("rule activated", "tenant_id", tenantID, "rule_id", ruleID, "version", activated.Version)
	return activated, nil
}

// DeactivateRule flips the latest version to inactive and closes its
// activation window.
func (s *Service) DeactivateRule(ctx context.Context, tenantID, ruleID int64) (*domain.RewardRule, error) {
	current, err := s.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	deactivated := current.Deactivate(s.now())
	if err := s.validator.Validate(ctx, deactivated); err != nil {
		return nil, err
	}
	if err := s.repo.SaveRule(ctx, tenantID, deactivated); err != nil {
		return nil, err
	}

	s.afterWrite(ctx, deactivated, domain.TopicRuleDeactivated)
	s.logger.Info("rule deactivated", "tenant_id", tenantID, "rule_id", ruleID, "version", deactivated.Version)
	return deactivated, nil
}

// ValidateRuleDeletion checks whether the rule can be deleted without
// deleting it.
func (s *Service) ValidateRuleDeletion(ctx context.Context, tenantID, ruleID int64) error {
	return s.validator.ValidateDeletion(ctx, tenantID, ruleID)
}

// DeleteRule removes every version of a non-live rule.
func (s *Service) DeleteRule(ctx context.Context, tenantID, ruleID int64) error {
	current, err := s.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return err
	}
	if err := s.validator.ValidateDeletion(ctx, tenantID, ruleID); err != nil {
		return err
	}
	if err := s.repo.DeleteRule(ctx, tenantID, ruleID); err != nil {
		return err
	}

	s.afterWrite(ctx, current, domain.TopicRuleDeleted)
	s.logger.Info("rule deleted", "tenant_id", tenantID, "rule_id", ruleID)
	return nil
}

// GetRule returns the latest version of a rule.
func (s *Service) GetRule(ctx context.Context, tenantID, ruleID int64) (*domain.RewardRule, error) {
	return s.repo.GetRule(ctx, tenantID, ruleID)
}

// GetRuleVersion returns one specific version of a rule.
func (s *Service) GetRuleVersion(ctx context.Context, tenantID, ruleID int64, version int) (*domain.RewardRule, error) {
	return s.repo.GetRuleVersion(ctx, tenantID, ruleID, version)
}

// ListRuleVersions returns the full version history, newest first.
func (s *Service) ListRuleVersions(ctx context.Context, tenantID, ruleID int64) ([]*domain.RewardRule, error) {
	return s.repo.ListRuleVersions(ctx, tenantID, ruleID)
}

// ListRules returns the latest version of every rule in a program.
func (s *Service) ListRules(ctx context.Context, tenantID, programID int64) ([]*domain.RewardRule, error) {
	return s.repo.ListRulesByProgram(ctx, tenantID, programID)
}

// DryRun evaluates a candidate event against the program's live rules
// and explains what they would award. Nothing is persisted.
func (s *Service) DryRun(ctx context.Context, tenantID, programID int64, ev *domain.EventContext, traceID string) (*domain.DryRunResult, error) {
	start := time.Now()

	if !domain.KnownTrigger(ev.Trigger) {
		return nil, &domain.InvalidInputError{Field: "trigger", Reason: fmt.Sprintf("unknown trigger %q", ev.Trigger)}
	}
	ev.TenantID = tenantID
	ev.ProgramID = programID
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}

	candidates, err := s.activeRules(ctx, tenantID, programID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	awards := s.engine.EvaluateAll(ctx, candidates, ev, now)
	resolution := rules.Resolve(awards)

	result := &domain.DryRunResult{
		Trigger:     ev.Trigger,
		ProgramID:   programID,
		Awards:      resolution.Awards,
		Suppressed:  resolution.Suppressed,
		TotalPoints: resolution.TotalPoints,
		Metadata: domain.DryRunMetadata{
			TraceID:        traceID,
			RulesEvaluated: len(candidates),
			RulesMatched:   len(awards),
			EvalMs:         time.Since(start).Milliseconds(),
			EngineVersion:  engineVersion,
		},
	}

	s.logger.Info("dry run",
		"tenant_id", tenantID,
		"program_id", programID,
		"trigger", ev.Trigger,
		"rules_evaluated", len(candidates),
		"rules_matched", len(awards),
		"total_points", result.TotalPoints)
	return result, nil
}

// activeRules returns the program's active-status rules, served from
// cache when fresh.
func (s *Service) activeRules(ctx context.Context, tenantID, programID int64) ([]*domain.RewardRule, error) {
	if cached, err := s.cache.GetActiveRules(ctx, tenantID, programID); err == nil && cached != nil {
		return cached, nil
	}

	if _, err := s.repo.GetProgram(ctx, tenantID, programID); err != nil {
		return nil, err
	}
	active, err := s.repo.ListActiveRules(ctx, tenantID, programID, "")
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetActiveRules(ctx, tenantID, programID, active, s.activeRulesTTL); err != nil {
		s.logger.Warn("failed to cache active rules", "tenant_id", tenantID, "error", err)
	}
	return active, nil
}

// afterWrite invalidates the cached rule list and publishes the
// lifecycle event. Both are best effort: the write already committed.
func (s *Service) afterWrite(ctx context.Context, rule *domain.RewardRule, topic string) {
	if err := s.cache.InvalidateActiveRules(ctx, rule.TenantID, rule.ProgramID); err != nil {
		s.logger.Warn("cache invalidation failed", "tenant_id", rule.TenantID, "error", err)
	}

	payload, err := json.Marshal(domain.RuleEvent{
		RuleID:        rule.ID,
		TenantID:      rule.TenantID,
		ProgramID:     rule.ProgramID,
		Version:       rule.Version,
		ConflictGroup: rule.Conflict.ConflictGroup,
		Status:        rule.Status,
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, rule.TenantID, topic, payload); err != nil {
		s.logger.Warn("event publish failed", "tenant_id", rule.TenantID, "topic", topic, "error", err)
	}
}

// applyDefaults fills conflict and idempotency defaults for non-CUSTOM
// triggers. CUSTOM rules get no defaults: the validator requires the
// author to spell everything out.
func (s *Service) applyDefaults(rule *domain.RewardRule) {
	if rule.Trigger == domain.TriggerCustom {
		return
	}
	if rule.Conflict.StackPolicy == "" {
		rule.Conflict.StackPolicy = domain.StackPolicyStack
	}
	if rule.Idempotency.Strategy == "" {
		rule.Idempotency.Strategy = domain.IdempotencyDefault
	}
	if rule.Scope.TenantID == 0 {
		rule.Scope.TenantID = rule.TenantID
	}
	if rule.Scope.ProgramID == 0 {
		rule.Scope.ProgramID = rule.ProgramID
	}
}

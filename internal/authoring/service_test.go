package authoring

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/opensource-loyalty/kestrel/internal/bus"
	"github.com/opensource-loyalty/kestrel/internal/cache"
	"github.com/opensource-loyalty/kestrel/internal/domain"
	"github.com/opensource-loyalty/kestrel/internal/quota"
	"github.com/opensource-loyalty/kestrel/internal/repository"
	"github.com/opensource-loyalty/kestrel/internal/rules"
)

func newTestService(t *testing.T) (*Service, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "authoring-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lru := cache.NewLRUCache(100)
	t.Cleanup(func() { lru.Close() })

	channelBus := bus.NewChannelBus(100)
	t.Cleanup(func() { channelBus.Close() })

	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	validator := rules.NewValidator(repo, domain.DefaultCatalog(), engine)
	quotaSvc := quota.NewService(repo, lru, 0)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	svc := NewService(repo, lru, channelBus, validator, engine, quotaSvc, domain.AuthoringConfig{
		MaxWorkers:     4,
		ActiveRulesTTL: 60,
	}, logger)

	ctx := context.Background()
	if err := svc.CreateTenant(ctx, &domain.Tenant{ID: 1, Name: "acme"}); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if err := svc.CreateProgram(ctx, &domain.Program{ID: 1, TenantID: 1, Name: "main"}); err != nil {
		t.Fatalf("create program: %v", err)
	}
	return svc, repo
}

func draftRule() *domain.RewardRule {
	return &domain.RewardRule{
		TenantID:      1,
		ProgramID:     1,
		Name:          "Base purchase points",
		Trigger:       domain.TriggerPurchase,
		EarningDomain: domain.DomainBasePurchase,
		Formula: domain.Formula{PointsFormula: &domain.RateFormula{
			Rate:        1.0,
			AmountField: domain.AmountNet,
		}},
		Conflict: domain.ConflictSettings{
			ConflictGroup: domain.GroupPurchaseBase,
		},
	}
}

func purchase(net float64) *domain.EventContext {
	return &domain.EventContext{
		Trigger:   domain.TriggerPurchase,
		NetAmount: net,
		Items: []domain.EventItem{
			{SKU: "SKU-1", Qty: 1, UnitPrice: net, CategoryID: "coffee"},
		},
		Member: domain.MemberSnapshot{MemberID: 1001, TierID: 1, Status: "active"},
	}
}

func TestCreateRuleLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, draftRule())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected assigned rule id")
	}
	if created.Version != 1 {
		t.Errorf("version = %d, want 1", created.Version)
	}
	if created.Status != domain.StatusDraft {
		t.Errorf("status = %q, want draft", created.Status)
	}
	if created.Conflict.StackPolicy != domain.StackPolicyStack {
		t.Errorf("stack policy not defaulted: %q", created.Conflict.StackPolicy)
	}

	t.Run("ActivateKeepsVersion", func(t *testing.T) {
		activated, err := svc.ActivateRule(ctx, 1, created.ID)
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
		if activated.Version != 1 {
			t.Errorf("activation bumped version to %d", activated.Version)
		}
		if activated.Status != domain.StatusActive {
			t.Errorf("status = %q, want active", activated.Status)
		}
		if activated.ActiveFrom == nil {
			t.Error("expected activation to open the window")
		}
	})

	t.Run("UpdateBumpsVersion", func(t *testing.T) {
		name := "Base purchase points v2"
		updated, err := svc.UpdateRule(ctx, 1, created.ID, &domain.RulePatch{Name: &name})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.Version != 2 {
			t.Errorf("version = %d, want 2", updated.Version)
		}
		if updated.Name != name {
			t.Errorf("name = %q", updated.Name)
		}

		// Prior version is untouched.
		v1, err := svc.GetRuleVersion(ctx, 1, created.ID, 1)
		if err != nil {
			t.Fatalf("get version 1: %v", err)
		}
		if v1.Name != "Base purchase points" {
			t.Errorf("version 1 mutated: %q", v1.Name)
		}

		versions, err := svc.ListRuleVersions(ctx, 1, created.ID)
		if err != nil {
			t.Fatalf("list versions: %v", err)
		}
		if len(versions) != 2 {
			t.Errorf("versions = %d, want 2", len(versions))
		}
	})

	t.Run("DeleteRequiresDeactivation", func(t *testing.T) {
		err := svc.DeleteRule(ctx, 1, created.ID)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input for live rule, got %v", err)
		}

		if _, err := svc.DeactivateRule(ctx, 1, created.ID); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		if err := svc.DeleteRule(ctx, 1, created.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}

		_, err = svc.GetRule(ctx, 1, created.ID)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found after delete, got %v", err)
		}
	})
}

func TestDeactivateFutureScheduledRule(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	scheduled := draftRule()
	scheduled.Status = domain.StatusActive
	start := time.Now().UTC().Add(48 * time.Hour)
	scheduled.ActiveFrom = &start

	created, err := svc.CreateRule(ctx, scheduled)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.DeactivateRule(ctx, 1, created.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	stored, err := repo.GetRule(ctx, 1, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.StatusInactive {
		t.Errorf("status = %q, want inactive", stored.Status)
	}
	if stored.ActiveFrom != nil && stored.ActiveTo != nil && !stored.ActiveFrom.Before(*stored.ActiveTo) {
		t.Errorf("persisted inverted window: activeFrom=%v activeTo=%v", stored.ActiveFrom, stored.ActiveTo)
	}
}

func TestCreateRuleRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	bad := draftRule()
	bad.EarningDomain = "MYSTERY"

	if _, err := svc.CreateRule(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	// Nothing was persisted.
	list, err := svc.ListRules(ctx, 1, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no rules, got %d", len(list))
	}
}

func TestCreateRuleUnknownProgram(t *testing.T) {
	svc, _ := newTestService(t)

	orphan := draftRule()
	orphan.ProgramID = 99

	if _, err := svc.CreateRule(context.Background(), orphan); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestActivateEnforcesProgramCap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.CreateProgram(ctx, &domain.Program{ID: 2, TenantID: 1, Name: "capped", MaxActiveRules: 1}); err != nil {
		t.Fatalf("create program: %v", err)
	}

	first := draftRule()
	first.ProgramID = 2
	created, err := svc.CreateRule(ctx, first)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ActivateRule(ctx, 1, created.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	second := draftRule()
	second.ProgramID = 2
	second.Name = "Second rule"
	second.Conflict.ConflictGroup = domain.GroupPurchaseBonus
	overflow, err := svc.CreateRule(ctx, second)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if _, err := svc.ActivateRule(ctx, 1, overflow.ID); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected cap violation, got %v", err)
	}
}

func TestExclusiveCollisionOnActivate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	exclusive := draftRule()
	exclusive.Conflict.StackPolicy = domain.StackPolicyExclusive
	first, err := svc.CreateRule(ctx, exclusive)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ActivateRule(ctx, 1, first.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	rival := draftRule()
	rival.Name = "Rival base points"
	rival.Conflict.StackPolicy = domain.StackPolicyExclusive
	second, err := svc.CreateRule(ctx, rival)
	if err != nil {
		t.Fatalf("create rival: %v", err)
	}

	_, err = svc.ActivateRule(ctx, 1, second.ID)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce *domain.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %T", err)
	}
	if len(ce.RuleIDs) != 1 || ce.RuleIDs[0] != first.ID {
		t.Errorf("colliding ids = %v, want [%d]", ce.RuleIDs, first.ID)
	}
}

func TestDryRun(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	base, err := svc.CreateRule(ctx, draftRule())
	if err != nil {
		t.Fatalf("create base: %v", err)
	}
	if _, err := svc.ActivateRule(ctx, 1, base.ID); err != nil {
		t.Fatalf("activate base: %v", err)
	}

	bonus := draftRule()
	bonus.Name = "Coffee bonus"
	bonus.EarningDomain = domain.DomainBonusCategory
	bonus.Conflict.ConflictGroup = domain.GroupPurchaseBonus
	bonus.Eligibility = &domain.Eligibility{CategoryIDs: []string{"coffee"}}
	bonus.Formula = domain.Formula{PointsFormula: &domain.FixedFormula{Value: 50}}
	bonusRule, err := svc.CreateRule(ctx, bonus)
	if err != nil {
		t.Fatalf("create bonus: %v", err)
	}
	if _, err := svc.ActivateRule(ctx, 1, bonusRule.ID); err != nil {
		t.Fatalf("activate bonus: %v", err)
	}

	result, err := svc.DryRun(ctx, 1, 1, purchase(120), "trace-1")
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}

	if result.TotalPoints != 170 {
		t.Errorf("total = %d, want 170", result.TotalPoints)
	}
	if len(result.Awards) != 2 {
		t.Errorf("awards = %d, want 2", len(result.Awards))
	}
	if result.Metadata.RulesEvaluated != 2 {
		t.Errorf("rules evaluated = %d, want 2", result.Metadata.RulesEvaluated)
	}
	if result.Metadata.TraceID != "trace-1" {
		t.Errorf("trace id = %q", result.Metadata.TraceID)
	}

	t.Run("UnknownTrigger", func(t *testing.T) {
		ev := purchase(120)
		ev.Trigger = "CLICK"
		if _, err := svc.DryRun(ctx, 1, 1, ev, ""); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("UnknownProgram", func(t *testing.T) {
		if _, err := svc.DryRun(ctx, 1, 99, purchase(120), ""); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestDryRunUsesCachedRules(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, draftRule())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.ActivateRule(ctx, 1, created.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Prime the cache.
	if _, err := svc.DryRun(ctx, 1, 1, purchase(100), ""); err != nil {
		t.Fatalf("dry run: %v", err)
	}

	// Bypass the service so the cache stays stale.
	if err := repo.DeleteRule(ctx, 1, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	result, err := svc.DryRun(ctx, 1, 1, purchase(100), "")
	if err != nil {
		t.Fatalf("dry run after delete: %v", err)
	}
	if result.TotalPoints != 100 {
		t.Errorf("expected cached rules to serve the dry run, total = %d", result.TotalPoints)
	}
}

func TestTenantIsolation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateRule(ctx, draftRule())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.GetRule(ctx, 2, created.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found for other tenant, got %v", err)
	}
}

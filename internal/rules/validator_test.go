package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-loyalty/kestrel/internal/domain"
)

// stubRepo satisfies domain.Repository for validator tests. Only the
// methods the validator touches have behavior.
type stubRepo struct {
	active []*domain.RewardRule
	rule   *domain.RewardRule
	err    error
}

func (s *stubRepo) SaveTenant(ctx context.Context, t *domain.Tenant) error { return nil }
func (s *stubRepo) GetTenant(ctx context.Context, id int64) (*domain.Tenant, error) {
	return nil, domain.ErrNotFound
}
func (s *stubRepo) SaveProgram(ctx context.Context, p *domain.Program) error { return nil }
func (s *stubRepo) GetProgram(ctx context.Context, tenantID, programID int64) (*domain.Program, error) {
	return nil, domain.ErrNotFound
}
func (s *stubRepo) SaveRule(ctx context.Context, tenantID int64, r *domain.RewardRule) error {
	return nil
}
func (s *stubRepo) GetRule(ctx context.Context, tenantID, ruleID int64) (*domain.RewardRule, error) {
	if s.rule == nil {
		return nil, &domain.NotFoundError{Resource: "rule", ID: ruleID}
	}
	return s.rule, nil
}
func (s *stubRepo) GetRuleVersion(ctx context.Context, tenantID, ruleID int64, version int) (*domain.RewardRule, error) {
	return nil, domain.ErrNotFound
}
func (s *stubRepo) ListRuleVersions(ctx context.Context, tenantID, ruleID int64) ([]*domain.RewardRule, error) {
	return nil, nil
}
func (s *stubRepo) ListRulesByProgram(ctx context.Context, tenantID, programID int64) ([]*domain.RewardRule, error) {
	return nil, nil
}
func (s *stubRepo) ListActiveRules(ctx context.Context, tenantID, programID int64, conflictGroup string) ([]*domain.RewardRule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.active, nil
}
func (s *stubRepo) CountActiveRules(ctx context.Context, tenantID, programID int64) (int64, error) {
	return int64(len(s.active)), nil
}
func (s *stubRepo) DeleteRule(ctx context.Context, tenantID, ruleID int64) error { return nil }
func (s *stubRepo) Ping(ctx context.Context) error                               { return nil }
func (s *stubRepo) Close() error                                                 { return nil }

func validRule() *domain.RewardRule {
	return &domain.RewardRule{
		ID:            1,
		TenantID:      7,
		ProgramID:     3,
		Version:       1,
		Name:          "Base purchase points",
		Trigger:       domain.TriggerPurchase,
		EarningDomain: domain.DomainBasePurchase,
		Status:        domain.StatusDraft,
		Formula: domain.Formula{PointsFormula: &domain.RateFormula{
			Rate:        1.0,
			AmountField: domain.AmountNet,
		}},
		Conflict: domain.ConflictSettings{
			ConflictGroup: domain.GroupPurchaseBase,
			StackPolicy:   domain.StackPolicyStack,
		},
		Idempotency: domain.IdempotencyScope{
			Strategy: domain.IdempotencyDefault,
		},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestValidator(repo domain.Repository) *Validator {
	engine, err := NewEngine(4)
	if err != nil {
		panic(err)
	}
	v := NewValidator(repo, domain.DefaultCatalog(), engine)
	v.now = func() time.Time {
		return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return v
}

func TestValidateAcceptsWellFormedRule(t *testing.T) {
	v := newTestValidator(&stubRepo{})
	if err := v.Validate(context.Background(), validRule()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *domain.RewardRule)
	}{
		{"MissingName", func(r *domain.RewardRule) { r.Name = "" }},
		{"MissingTenant", func(r *domain.RewardRule) { r.TenantID = 0 }},
		{"UnknownTrigger", func(r *domain.RewardRule) { r.Trigger = "CLICK" }},
		{"UnknownStatus", func(r *domain.RewardRule) { r.Status = "paused" }},
		{"MissingFormula", func(r *domain.RewardRule) { r.Formula = domain.Formula{} }},
		{"UnknownEarningDomain", func(r *domain.RewardRule) { r.EarningDomain = "MYSTERY" }},
		{"UnknownConflictGroup", func(r *domain.RewardRule) { r.Conflict.ConflictGroup = "nope" }},
		{"UnknownStackPolicy", func(r *domain.RewardRule) { r.Conflict.StackPolicy = "MERGE" }},
		{"EmptyStackPolicy", func(r *domain.RewardRule) { r.Conflict.StackPolicy = "" }},
		{"NegativePriority", func(r *domain.RewardRule) { r.Conflict.PriorityRank = -1 }},
		{"WindowReversed", func(r *domain.RewardRule) {
			from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
			to := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
			r.ActiveFrom, r.ActiveTo = &from, &to
		}},
		{"PurchaseRateWithoutAmountField", func(r *domain.RewardRule) {
			r.Formula = domain.Formula{PointsFormula: &domain.RateFormula{Rate: 2.0}}
		}},
		{"UnknownRoundingPolicy", func(r *domain.RewardRule) {
			r.Formula = domain.Formula{PointsFormula: &domain.RateFormula{
				Rate: 1.0, AmountField: domain.AmountNet, Rounding: "banker",
			}}
		}},
		{"MinPointsAboveMax", func(r *domain.RewardRule) {
			lo, hi := int64(100), int64(10)
			r.Formula = domain.Formula{PointsFormula: &domain.RateFormula{
				Rate: 1.0, AmountField: domain.AmountNet, MinPoints: &lo, MaxPoints: &hi,
			}}
		}},
		{"EmptyTable", func(r *domain.RewardRule) {
			r.Formula = domain.Formula{PointsFormula: &domain.TableFormula{
				AmountField: domain.AmountNet,
			}}
		}},
		{"BandMinAboveMax", func(r *domain.RewardRule) {
			hi := 10.0
			r.Formula = domain.Formula{PointsFormula: &domain.TableFormula{
				AmountField: domain.AmountNet,
				Bands:       []domain.TableBand{{Min: 50, Max: &hi, Points: 5}},
			}}
		}},
		{"OverlappingBands", func(r *domain.RewardRule) {
			m1, m2 := 100.0, 200.0
			r.Formula = domain.Formula{PointsFormula: &domain.TableFormula{
				AmountField: domain.AmountNet,
				Bands: []domain.TableBand{
					{Min: 0, Max: &m1, Points: 5},
					{Min: 50, Max: &m2, Points: 10},
				},
			}}
		}},
		{"UnboundedBandNotLast", func(r *domain.RewardRule) {
			m := 500.0
			r.Formula = domain.Formula{PointsFormula: &domain.TableFormula{
				AmountField: domain.AmountNet,
				Bands: []domain.TableBand{
					{Min: 0, Points: 5},
					{Min: 100, Max: &m, Points: 10},
				},
			}}
		}},
		{"HybridWithoutBase", func(r *domain.RewardRule) {
			r.Formula = domain.Formula{PointsFormula: &domain.HybridFormula{}}
		}},
		{"BonusWithExpression", func(r *domain.RewardRule) {
			r.Formula = domain.Formula{PointsFormula: &domain.HybridFormula{
				Base: &domain.FixedFormula{Value: 10},
				Bonuses: []domain.HybridBonus{{
					Conditions: &domain.Eligibility{Expression: "amount > 10.0"},
					Formula:    &domain.FixedFormula{Value: 5},
				}},
			}}
		}},
		{"TierBoundsReversed", func(r *domain.RewardRule) {
			lo, hi := int64(5), int64(2)
			r.Eligibility = &domain.Eligibility{MinTierID: &lo, MaxTierID: &hi}
		}},
		{"AmountBoundsReversed", func(r *domain.RewardRule) {
			lo, hi := 100.0, 50.0
			r.Eligibility = &domain.Eligibility{MinAmount: &lo, MaxAmount: &hi}
		}},
		{"DayOfWeekOutOfRange", func(r *domain.RewardRule) {
			r.Eligibility = &domain.Eligibility{DayOfWeek: []int{7}}
		}},
		{"MalformedTimeRange", func(r *domain.RewardRule) {
			r.Eligibility = &domain.Eligibility{TimeRange: &domain.TimeRange{Start: "9am", End: "17:00"}}
		}},
		{"MidnightWrapTimeRange", func(r *domain.RewardRule) {
			r.Eligibility = &domain.Eligibility{TimeRange: &domain.TimeRange{Start: "22:00", End: "02:00"}}
		}},
		{"BadExpression", func(r *domain.RewardRule) {
			r.Eligibility = &domain.Eligibility{Expression: "amount >"}
		}},
		{"NonBoolExpression", func(r *domain.RewardRule) {
			r.Eligibility = &domain.Eligibility{Expression: "amount + 1.0"}
		}},
		{"UnknownIdempotencyStrategy", func(r *domain.RewardRule) {
			r.Idempotency.Strategy = "per-century"
		}},
		{"PerDayWithoutTimezone", func(r *domain.RewardRule) {
			r.Idempotency.Strategy = domain.IdempotencyPerDay
		}},
		{"DailyFrequencyWithoutTimezone", func(r *domain.RewardRule) {
			r.Limits.Frequency = "daily"
		}},
		{"CooldownWithoutTimezone", func(r *domain.RewardRule) {
			r.Limits.CooldownHours = 12
		}},
		{"BadTimezone", func(r *domain.RewardRule) {
			r.Idempotency.Strategy = domain.IdempotencyPerDay
			r.Idempotency.BucketTimezone = "Mars/Olympus"
		}},
		{"PerPeriodWithoutDays", func(r *domain.RewardRule) {
			r.Idempotency.Strategy = domain.IdempotencyPerPeriod
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(&stubRepo{})
			rule := validRule()
			tt.mutate(rule)

			err := v.Validate(context.Background(), rule)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestValidatePerDayWithTimezone(t *testing.T) {
	v := newTestValidator(&stubRepo{})
	rule := validRule()
	rule.Idempotency.Strategy = domain.IdempotencyPerDay
	rule.Idempotency.BucketTimezone = "America/New_York"

	if err := v.Validate(context.Background(), rule); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateCustomTriggerStrictness(t *testing.T) {
	base := func() *domain.RewardRule {
		r := validRule()
		r.Trigger = domain.TriggerCustom
		r.EarningDomain = domain.DomainBasePurchase
		return r
	}

	t.Run("RejectsDefaultGroup", func(t *testing.T) {
		v := newTestValidator(&stubRepo{})
		r := base()
		catalog := domain.DefaultCatalog()
		catalog.RegisterConflictGroup("DEFAULT")
		v.catalog = catalog
		r.Conflict.ConflictGroup = "DEFAULT"

		if err := v.Validate(context.Background(), r); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("RejectsImplicitStackPolicy", func(t *testing.T) {
		v := newTestValidator(&stubRepo{})
		r := base()
		r.Conflict.StackPolicy = ""

		if err := v.Validate(context.Background(), r); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("RejectsImplicitIdempotency", func(t *testing.T) {
		v := newTestValidator(&stubRepo{})
		r := base()
		r.Idempotency.Strategy = ""

		if err := v.Validate(context.Background(), r); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("AcceptsFullySpecified", func(t *testing.T) {
		v := newTestValidator(&stubRepo{})
		r := base()
		if err := v.Validate(context.Background(), r); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidateExclusiveCollision(t *testing.T) {
	other := validRule()
	other.ID = 99
	other.Status = domain.StatusActive
	other.Conflict.StackPolicy = domain.StackPolicyExclusive

	candidate := validRule()
	candidate.Status = domain.StatusActive
	candidate.Conflict.StackPolicy = domain.StackPolicyExclusive

	t.Run("CollidesWithLiveExclusive", func(t *testing.T) {
		v := newTestValidator(&stubRepo{active: []*domain.RewardRule{other}})

		err := v.Validate(context.Background(), candidate.Clone())
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected conflict, got %v", err)
		}
		var ce *domain.ConflictError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ConflictError, got %T", err)
		}
		if len(ce.RuleIDs) != 1 || ce.RuleIDs[0] != 99 {
			t.Errorf("colliding ids = %v, want [99]", ce.RuleIDs)
		}
	})

	t.Run("IgnoresDifferentTrigger", func(t *testing.T) {
		visits := other.Clone()
		visits.Trigger = domain.TriggerVisit
		v := newTestValidator(&stubRepo{active: []*domain.RewardRule{visits}})

		if err := v.Validate(context.Background(), candidate.Clone()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("IgnoresExpiredWindow", func(t *testing.T) {
		expired := other.Clone()
		to := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		expired.ActiveTo = &to
		v := newTestValidator(&stubRepo{active: []*domain.RewardRule{expired}})

		if err := v.Validate(context.Background(), candidate.Clone()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("IgnoresSelfOnUpdate", func(t *testing.T) {
		self := candidate.Clone()
		v := newTestValidator(&stubRepo{active: []*domain.RewardRule{self}})

		if err := v.Validate(context.Background(), candidate.Clone()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("SkipsCheckForDraft", func(t *testing.T) {
		v := newTestValidator(&stubRepo{err: errors.New("repo should not be called")})
		draft := candidate.Clone()
		draft.Status = domain.StatusDraft

		if err := v.Validate(context.Background(), draft); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestValidateDeletion(t *testing.T) {
	t.Run("MissingRule", func(t *testing.T) {
		v := newTestValidator(&stubRepo{})
		err := v.ValidateDeletion(context.Background(), 7, 42)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("ActiveRule", func(t *testing.T) {
		live := validRule()
		live.Status = domain.StatusActive
		v := newTestValidator(&stubRepo{rule: live})

		err := v.ValidateDeletion(context.Background(), 7, 1)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected invalid input, got %v", err)
		}
	})

	t.Run("InactiveRule", func(t *testing.T) {
		retired := validRule()
		retired.Status = domain.StatusInactive
		v := newTestValidator(&stubRepo{rule: retired})

		if err := v.ValidateDeletion(context.Background(), 7, 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

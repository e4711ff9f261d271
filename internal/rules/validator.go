package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-loyalty/kestrel/internal/domain"
)

// Validator runs the full invariant suite over a candidate rule
// version before it is persisted. Validation is fail-fast and
// all-or-nothing: the first violated invariant aborts the save.
type Validator struct {
	repo    domain.Repository
	catalog *domain.Catalog
	engine  *Engine

	// now is swappable for tests.
	now func() time.Time
}

// NewValidator creates a validator backed by the repository for
// collision checks and the engine for expression compilation.
func NewValidator(repo domain.Repository, catalog *domain.Catalog, engine *Engine) *Validator {
	return &Validator{
		repo:    repo,
		catalog: catalog,
		engine:  engine,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func invalid(field, reason string) error {
	return &domain.InvalidInputError{Field: field, Reason: reason}
}

// Validate checks a candidate rule version. The repository is only
// consulted for the exclusivity collision check.
func (v *Validator) Validate(ctx context.Context, rule *domain.RewardRule) error {
	if rule == nil {
		return invalid("rule", "rule is required")
	}
	if rule.TenantID <= 0 {
		return invalid("tenantId", "tenant id is required")
	}
	if rule.ProgramID <= 0 {
		return invalid("programId", "program id is required")
	}
	if rule.Name == "" {
		return invalid("name", "name is required")
	}
	if rule.Version < 1 {
		return invalid("version", "version must be at least 1")
	}
	if !domain.KnownTrigger(rule.Trigger) {
		return invalid("trigger", fmt.Sprintf("unknown trigger %q", rule.Trigger))
	}
	if rule.Status != domain.StatusDraft && rule.Status != domain.StatusActive && rule.Status != domain.StatusInactive {
		return invalid("status", fmt.Sprintf("unknown status %q", rule.Status))
	}
	if rule.Formula.PointsFormula == nil {
		return invalid("pointsFormula", "points formula is required")
	}

	// 1. Catalog membership
	if !v.catalog.KnownEarningDomain(rule.EarningDomain) {
		return invalid("earningDomain", fmt.Sprintf("unregistered earning domain %q", rule.EarningDomain))
	}
	if !v.catalog.KnownConflictGroup(rule.Conflict.ConflictGroup) {
		return invalid("conflict.conflictGroup", fmt.Sprintf("unregistered conflict group %q", rule.Conflict.ConflictGroup))
	}
	if rule.Conflict.StackPolicy == "" {
		if rule.Trigger == domain.TriggerCustom {
			return invalid("conflict.stackPolicy", "CUSTOM rules must set the stack policy explicitly")
		}
		return invalid("conflict.stackPolicy", "stack policy is required")
	}
	if !domain.KnownStackPolicy(rule.Conflict.StackPolicy) {
		return invalid("conflict.stackPolicy", fmt.Sprintf("unknown stack policy %q", rule.Conflict.StackPolicy))
	}

	// 2. Activation window ordering
	if rule.ActiveFrom != nil && rule.ActiveTo != nil && !rule.ActiveFrom.Before(*rule.ActiveTo) {
		return invalid("activeFrom", "activeFrom must be before activeTo")
	}

	// 3. Priority rank
	if rule.Conflict.PriorityRank < 0 {
		return invalid("conflict.priorityRank", "priority rank must not be negative")
	}
	if rule.Conflict.MaxAwardsPerEvent != nil && *rule.Conflict.MaxAwardsPerEvent < 0 {
		return invalid("conflict.maxAwardsPerEvent", "max awards per event must not be negative")
	}

	// 4. Formula shape, including the amount-field requirement for
	// monetary formulas on PURCHASE rules
	if err := v.validateFormula(rule.Formula.PointsFormula, rule.Trigger, "pointsFormula"); err != nil {
		return err
	}

	// Eligibility conditions
	if err := v.validateEligibility(rule.Eligibility, "eligibility", true); err != nil {
		return err
	}

	// 5. Idempotency and day bucketing
	if err := v.validateIdempotency(rule); err != nil {
		return err
	}

	// 7. CUSTOM trigger strictness
	if rule.Trigger == domain.TriggerCustom {
		if err := v.validateCustomTrigger(rule); err != nil {
			return err
		}
	}

	// 6. Exclusivity collision, repository backed. Only checked when the
	// candidate itself would be live.
	if rule.Conflict.StackPolicy == domain.StackPolicyExclusive && rule.IsActive(v.now()) {
		if err := v.checkExclusiveCollision(ctx, rule); err != nil {
			return err
		}
	}

	return nil
}

func (v *Validator) validateFormula(f domain.PointsFormula, trigger domain.Trigger, field string) error {
	switch formula := f.(type) {
	case *domain.FixedFormula:
		if formula.Value < 0 {
			return invalid(field+".points", "fixed points must not be negative")
		}

	case *domain.RateFormula:
		if formula.Rate < 0 {
			return invalid(field+".rate", "rate must not be negative")
		}
		if formula.Rounding != "" && !domain.KnownRoundingPolicy(formula.Rounding) {
			return invalid(field+".roundingPolicy", fmt.Sprintf("unknown rounding policy %q", formula.Rounding))
		}
		if formula.MinPoints != nil && formula.MaxPoints != nil && *formula.MinPoints > *formula.MaxPoints {
			return invalid(field+".minPoints", "minPoints must not exceed maxPoints")
		}
		if err := validateAmountField(formula.AmountField, trigger, field); err != nil {
			return err
		}

	case *domain.TableFormula:
		if len(formula.Bands) == 0 {
			return invalid(field+".bands", "table formula needs at least one band")
		}
		for i, band := range formula.Bands {
			if band.Max != nil && band.Min >= *band.Max {
				return invalid(fmt.Sprintf("%s.bands[%d]", field, i), "band min must be below max")
			}
			if i > 0 {
				prev := formula.Bands[i-1]
				if prev.Max == nil {
					return invalid(fmt.Sprintf("%s.bands[%d]", field, i-1), "only the last band may be unbounded")
				}
				if band.Min < *prev.Max {
					return invalid(fmt.Sprintf("%s.bands[%d]", field, i), "bands must be sorted and non-overlapping")
				}
			}
			if band.Points < 0 {
				return invalid(fmt.Sprintf("%s.bands[%d].points", field, i), "band points must not be negative")
			}
		}
		if err := validateAmountField(formula.AmountField, trigger, field); err != nil {
			return err
		}

	case *domain.HybridFormula:
		if formula.Base == nil {
			return invalid(field+".base", "hybrid formula needs a base")
		}
		if err := v.validateFormula(formula.Base, trigger, field+".base"); err != nil {
			return err
		}
		for i, bonus := range formula.Bonuses {
			bonusField := fmt.Sprintf("%s.bonuses[%d]", field, i)
			if bonus.Formula == nil {
				return invalid(bonusField, "bonus formula is required")
			}
			if err := v.validateFormula(bonus.Formula, trigger, bonusField); err != nil {
				return err
			}
			if err := v.validateEligibility(bonus.Conditions, bonusField+".conditions", false); err != nil {
				return err
			}
		}

	default:
		return invalid(field, fmt.Sprintf("unknown formula kind %q", f.Kind()))
	}

	return nil
}

// validateAmountField enforces the explicit amount selector on
// monetary formulas attached to PURCHASE rules.
func validateAmountField(field domain.AmountField, trigger domain.Trigger, path string) error {
	if trigger == domain.TriggerPurchase && field == "" {
		return invalid(path+".amountField", "PURCHASE rules with monetary formulas must name the amount field")
	}
	if field != "" && field != domain.AmountNet && field != domain.AmountGross {
		return invalid(path+".amountField", fmt.Sprintf("unknown amount field %q", field))
	}
	return nil
}

// validateEligibility checks condition shape. allowExpression is false
// inside hybrid bonuses, where formula evaluation must stay pure.
func (v *Validator) validateEligibility(e *domain.Eligibility, field string, allowExpression bool) error {
	if e == nil {
		return nil
	}

	if e.MinTierID != nil && e.MaxTierID != nil && *e.MinTierID > *e.MaxTierID {
		return invalid(field+".minTierId", "minTierId must not exceed maxTierId")
	}
	if e.MinMembershipAgeDays != nil && *e.MinMembershipAgeDays < 0 {
		return invalid(field+".minMembershipAgeDays", "membership age must not be negative")
	}
	if e.MinAmount != nil && e.MaxAmount != nil && *e.MinAmount > *e.MaxAmount {
		return invalid(field+".minAmount", "minAmount must not exceed maxAmount")
	}
	if e.MinItems != nil && *e.MinItems < 0 {
		return invalid(field+".minItems", "minItems must not be negative")
	}
	for _, d := range e.DayOfWeek {
		if d < 0 || d > 6 {
			return invalid(field+".dayOfWeek", fmt.Sprintf("day %d outside 0..6", d))
		}
	}
	if e.TimeRange != nil {
		start, ok := parseClock(e.TimeRange.Start)
		if !ok {
			return invalid(field+".timeRange.start", fmt.Sprintf("%q is not HH:mm", e.TimeRange.Start))
		}
		end, ok := parseClock(e.TimeRange.End)
		if !ok {
			return invalid(field+".timeRange.end", fmt.Sprintf("%q is not HH:mm", e.TimeRange.End))
		}
		if start > end {
			return invalid(field+".timeRange", "window must not wrap midnight")
		}
	}
	if e.Expression != "" {
		if !allowExpression {
			return invalid(field+".expression", "expressions are not allowed inside hybrid bonus conditions")
		}
		if err := v.engine.ValidateExpression(e.Expression); err != nil {
			return invalid(field+".expression", err.Error())
		}
	}

	return nil
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func (v *Validator) validateIdempotency(rule *domain.RewardRule) error {
	idem := rule.Idempotency

	if idem.Strategy == "" {
		if rule.Trigger == domain.TriggerCustom {
			return invalid("idempotencyScope.strategy", "CUSTOM rules must set the idempotency strategy explicitly")
		}
		return invalid("idempotencyScope.strategy", "idempotency strategy is required")
	}
	if !domain.KnownIdempotencyStrategy(idem.Strategy) {
		return invalid("idempotencyScope.strategy", fmt.Sprintf("unknown strategy %q", idem.Strategy))
	}

	// Day bucketing needs a zone: per-day idempotency, a daily award
	// frequency, or a cooldown all anchor to member-local days.
	needsZone := idem.Strategy == domain.IdempotencyPerDay ||
		rule.Limits.Frequency == "daily" ||
		rule.Limits.CooldownHours > 0
	if needsZone && idem.BucketTimezone == "" {
		return invalid("idempotencyScope.bucketTimezone", "day bucketing requires a bucket timezone")
	}
	if idem.BucketTimezone != "" {
		if _, err := time.LoadLocation(idem.BucketTimezone); err != nil {
			return invalid("idempotencyScope.bucketTimezone", fmt.Sprintf("unknown timezone %q", idem.BucketTimezone))
		}
	}

	if idem.Strategy == domain.IdempotencyPerPeriod && idem.PeriodDays <= 0 {
		return invalid("idempotencyScope.periodDays", "per-period strategy requires periodDays above zero")
	}

	return nil
}

// validateCustomTrigger applies the stricter rules for CUSTOM triggers:
// they carry no sensible defaults, so authors must spell everything out.
func (v *Validator) validateCustomTrigger(rule *domain.RewardRule) error {
	group := rule.Conflict.ConflictGroup
	if group == "" || group == "DEFAULT" || group == "CUSTOM" {
		return invalid("conflict.conflictGroup", "CUSTOM rules need a dedicated conflict group")
	}
	return nil
}

// checkExclusiveCollision fails when another live EXCLUSIVE rule with
// the same trigger already occupies the conflict group.
func (v *Validator) checkExclusiveCollision(ctx context.Context, rule *domain.RewardRule) error {
	if v.repo == nil {
		return nil
	}

	others, err := v.repo.ListActiveRules(ctx, rule.TenantID, rule.ProgramID, rule.Conflict.ConflictGroup)
	if err != nil {
		return fmt.Errorf("collision check failed: %w", err)
	}

	now := v.now()
	var colliding []int64
	for _, other := range others {
		if other.ID == rule.ID {
			continue
		}
		if other.Trigger != rule.Trigger {
			continue
		}
		if !other.IsActive(now) {
			continue
		}
		if other.Conflict.StackPolicy != domain.StackPolicyExclusive {
			continue
		}
		colliding = append(colliding, other.ID)
	}

	if len(colliding) > 0 {
		return &domain.ConflictError{
			ConflictGroup: rule.Conflict.ConflictGroup,
			RuleIDs:       colliding,
		}
	}
	return nil
}

// ValidateDeletion checks the delete precondition: the rule must exist
// and must not be live. Deactivate first, then delete.
func (v *Validator) ValidateDeletion(ctx context.Context, tenantID, ruleID int64) error {
	rule, err := v.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return err
	}
	if rule.IsActive(v.now()) {
		return invalid("status", "active rules cannot be deleted, deactivate first")
	}
	return nil
}

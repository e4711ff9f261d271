package domain

// Trigger identifies the loyalty event kind a rule reacts to.
type Trigger string

const (
	TriggerVisit        Trigger = "VISIT"
	TriggerPurchase     Trigger = "PURCHASE"
	TriggerReferral     Trigger = "REFERRAL"
	TriggerSubscription Trigger = "SUBSCRIPTION"
	TriggerRetention    Trigger = "RETENTION"
	TriggerCustom       Trigger = "CUSTOM"
)

// Status is the lifecycle state of a rule version.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// StackPolicy controls how rules in the same conflict group combine.
type StackPolicy string

const (
	StackPolicyStack     StackPolicy = "STACK"
	StackPolicyExclusive StackPolicy = "EXCLUSIVE"
	StackPolicyBestOf    StackPolicy = "BEST_OF"
	StackPolicyPriority  StackPolicy = "PRIORITY"
)

// IdempotencyStrategy controls how repeat awards for the same member are bucketed.
type IdempotencyStrategy string

const (
	IdempotencyDefault   IdempotencyStrategy = "default"
	IdempotencyPerDay    IdempotencyStrategy = "per-day"
	IdempotencyPerPeriod IdempotencyStrategy = "per-period"
	IdempotencyPerEvent  IdempotencyStrategy = "per-event"
)

// RoundingPolicy controls how fractional points are rounded.
type RoundingPolicy string

const (
	RoundFloor   RoundingPolicy = "floor"
	RoundCeil    RoundingPolicy = "ceil"
	RoundNearest RoundingPolicy = "nearest"
)

// AmountField selects which monetary amount a formula reads from the event.
type AmountField string

const (
	AmountNet   AmountField = "netAmount"
	AmountGross AmountField = "grossAmount"
)

// Well-known earning domains.
const (
	DomainBasePurchase     = "BASE_PURCHASE"
	DomainBaseVisit        = "BASE_VISIT"
	DomainBaseReferral     = "BASE_REFERRAL"
	DomainBaseSubscription = "BASE_SUBSCRIPTION"
	DomainBaseRetention    = "BASE_RETENTION"
	DomainBonusCategory    = "BONUS_CATEGORY"
	DomainBonusSKU         = "BONUS_SKU"
)

// Well-known conflict groups.
const (
	GroupPurchaseBase       = "CG_PURCHASE_BASE"
	GroupPurchaseBonus      = "CG_PURCHASE_BONUS"
	GroupPurchaseBonusFixed = "CG_PURCHASE_BONUS_FIXED"
	GroupPurchasePromo      = "CG_PURCHASE_PROMO"
	GroupVisitDaily         = "CG_VISIT_DAILY"
)

// Catalog holds the registered vocabularies rules must reference.
// Tenants can extend the defaults with their own entries.
type Catalog struct {
	earningDomains map[string]bool
	conflictGroups map[string]bool
}

// DefaultCatalog returns a catalog seeded with the standard vocabularies.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		earningDomains: make(map[string]bool),
		conflictGroups: make(map[string]bool),
	}
	for _, d := range []string{
		DomainBasePurchase, DomainBaseVisit, DomainBaseReferral,
		DomainBaseSubscription, DomainBaseRetention,
		DomainBonusCategory, DomainBonusSKU,
	} {
		c.earningDomains[d] = true
	}
	for _, g := range []string{
		GroupPurchaseBase, GroupPurchaseBonus, GroupPurchaseBonusFixed,
		GroupPurchasePromo, GroupVisitDaily,
	} {
		c.conflictGroups[g] = true
	}
	return c
}

// RegisterEarningDomain adds a custom earning domain.
func (c *Catalog) RegisterEarningDomain(name string) {
	c.earningDomains[name] = true
}

// RegisterConflictGroup adds a custom conflict group.
func (c *Catalog) RegisterConflictGroup(name string) {
	c.conflictGroups[name] = true
}

// KnownEarningDomain reports whether the domain is registered.
func (c *Catalog) KnownEarningDomain(name string) bool {
	return c.earningDomains[name]
}

// KnownConflictGroup reports whether the group is registered.
func (c *Catalog) KnownConflictGroup(name string) bool {
	return c.conflictGroups[name]
}

// KnownTrigger reports whether the trigger is part of the closed set.
func KnownTrigger(t Trigger) bool {
	switch t {
	case TriggerVisit, TriggerPurchase, TriggerReferral,
		TriggerSubscription, TriggerRetention, TriggerCustom:
		return true
	}
	return false
}

// KnownStackPolicy reports whether the policy is part of the closed set.
func KnownStackPolicy(p StackPolicy) bool {
	switch p {
	case StackPolicyStack, StackPolicyExclusive, StackPolicyBestOf, StackPolicyPriority:
		return true
	}
	return false
}

// KnownIdempotencyStrategy reports whether the strategy is part of the closed set.
func KnownIdempotencyStrategy(s IdempotencyStrategy) bool {
	switch s {
	case IdempotencyDefault, IdempotencyPerDay, IdempotencyPerPeriod, IdempotencyPerEvent:
		return true
	}
	return false
}

// KnownRoundingPolicy reports whether the policy is part of the closed set.
func KnownRoundingPolicy(p RoundingPolicy) bool {
	switch p {
	case RoundFloor, RoundCeil, RoundNearest:
		return true
	}
	return false
}

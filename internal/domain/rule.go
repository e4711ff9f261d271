package domain

import (
	"time"
)

// RuleScope narrows where a rule applies. Empty fields are wildcards.
type RuleScope struct {
	TenantID  int64  `json:"tenantId"`
	ProgramID int64  `json:"programId"`
	StoreID   string `json:"storeId,omitempty"`
	BranchID  string `json:"branchId,omitempty"`
	Channel   string `json:"channel,omitempty"`

	// CategoryID and SKU require at least one matching line item.
	CategoryID string `json:"categoryId,omitempty"`
	SKU        string `json:"sku,omitempty"`
}

// Matches reports whether the event falls inside the scope.
func (s *RuleScope) Matches(ev *EventContext) bool {
	if s.TenantID != 0 && s.TenantID != ev.TenantID {
		return false
	}
	if s.ProgramID != 0 && s.ProgramID != ev.ProgramID {
		return false
	}
	if s.StoreID != "" && s.StoreID != ev.StoreID {
		return false
	}
	if s.BranchID != "" && s.BranchID != ev.BranchID {
		return false
	}
	if s.Channel != "" && s.Channel != ev.Channel {
		return false
	}
	if s.CategoryID != "" && !ev.HasCategory([]string{s.CategoryID}) {
		return false
	}
	if s.SKU != "" && !ev.HasSKU([]string{s.SKU}) {
		return false
	}
	return true
}

// RuleLimits caps how often and how much a rule can award.
type RuleLimits struct {
	// Frequency is an award cadence such as "once" or "daily".
	Frequency     string `json:"frequency,omitempty"`
	CooldownHours int    `json:"cooldownHours,omitempty"`

	PerEventCap  *int64 `json:"perEventCap,omitempty"`
	PerPeriodCap *int64 `json:"perPeriodCap,omitempty"`
	PeriodType   string `json:"periodType,omitempty"`
	PeriodDays   int    `json:"periodDays,omitempty"`
}

// ConflictSettings places the rule in a conflict group and decides how
// it combines with group peers.
type ConflictSettings struct {
	ConflictGroup     string      `json:"conflictGroup"`
	StackPolicy       StackPolicy `json:"stackPolicy"`
	PriorityRank      int         `json:"priorityRank"`
	MaxAwardsPerEvent *int        `json:"maxAwardsPerEvent,omitempty"`
}

// IdempotencyScope controls duplicate-award suppression buckets.
type IdempotencyScope struct {
	Strategy IdempotencyStrategy `json:"strategy"`

	// BucketTimezone is an IANA zone name, required for day bucketing.
	BucketTimezone string `json:"bucketTimezone,omitempty"`

	// PeriodDays sizes the bucket for the per-period strategy.
	PeriodDays int `json:"periodDays,omitempty"`
}

// RewardRule is the versioned rule aggregate. A version is immutable
// once persisted: edits produce a new version with the same id, and
// only status transitions touch an existing version in place.
type RewardRule struct {
	ID        int64 `json:"id"`
	TenantID  int64 `json:"tenantId"`
	ProgramID int64 `json:"programId"`
	Version   int   `json:"version"`

	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Trigger     Trigger          `json:"trigger"`
	Scope       RuleScope        `json:"scope"`
	Eligibility *Eligibility     `json:"eligibility,omitempty"`
	Formula     Formula          `json:"pointsFormula"`
	Limits      RuleLimits       `json:"limits"`
	Conflict    ConflictSettings `json:"conflict"`
	Idempotency IdempotencyScope `json:"idempotencyScope"`

	EarningDomain string `json:"earningDomain"`

	Status     Status     `json:"status"`
	ActiveFrom *time.Time `json:"activeFrom,omitempty"`
	ActiveTo   *time.Time `json:"activeTo,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsActive reports whether the rule is live at the given instant:
// status active and now inside the activation window, both bounds
// inclusive.
func (r *RewardRule) IsActive(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	if r.ActiveFrom != nil && now.Before(*r.ActiveFrom) {
		return false
	}
	if r.ActiveTo != nil && now.After(*r.ActiveTo) {
		return false
	}
	return true
}

// Clone returns a deep copy of the rule.
func (r *RewardRule) Clone() *RewardRule {
	cp := *r
	cp.Eligibility = r.Eligibility.Clone()
	if r.ActiveFrom != nil {
		t := *r.ActiveFrom
		cp.ActiveFrom = &t
	}
	if r.ActiveTo != nil {
		t := *r.ActiveTo
		cp.ActiveTo = &t
	}
	if r.Conflict.MaxAwardsPerEvent != nil {
		n := *r.Conflict.MaxAwardsPerEvent
		cp.Conflict.MaxAwardsPerEvent = &n
	}
	if r.Limits.PerEventCap != nil {
		n := *r.Limits.PerEventCap
		cp.Limits.PerEventCap = &n
	}
	if r.Limits.PerPeriodCap != nil {
		n := *r.Limits.PerPeriodCap
		cp.Limits.PerPeriodCap = &n
	}
	return &cp
}

// RulePatch carries the fields an edit may overlay onto the next
// version. Nil fields are carried over from the current version.
type RulePatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`

	Trigger     *Trigger          `json:"trigger,omitempty"`
	Scope       *RuleScope        `json:"scope,omitempty"`
	Eligibility *Eligibility      `json:"eligibility,omitempty"`
	Formula     *Formula          `json:"pointsFormula,omitempty"`
	Limits      *RuleLimits       `json:"limits,omitempty"`
	Conflict    *ConflictSettings `json:"conflict,omitempty"`
	Idempotency *IdempotencyScope `json:"idempotencyScope,omitempty"`

	EarningDomain *string `json:"earningDomain,omitempty"`

	Status     *Status    `json:"status,omitempty"`
	ActiveFrom *time.Time `json:"activeFrom,omitempty"`
	ActiveTo   *time.Time `json:"activeTo,omitempty"`
}

// NewVersion derives the next version of the rule with the patch
// applied. The id stays the same, the version increments, and fields
// absent from the patch carry over unchanged.
func (r *RewardRule) NewVersion(patch *RulePatch, now time.Time) *RewardRule {
	next := r.Clone()
	next.Version = r.Version + 1
	next.UpdatedAt = now

	if patch == nil {
		return next
	}
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Trigger != nil {
		next.Trigger = *patch.Trigger
	}
	if patch.Scope != nil {
		next.Scope = *patch.Scope
	}
	if patch.Eligibility != nil {
		next.Eligibility = patch.Eligibility
	}
	if patch.Formula != nil {
		next.Formula = *patch.Formula
	}
	if patch.Limits != nil {
		next.Limits = *patch.Limits
	}
	if patch.Conflict != nil {
		next.Conflict = *patch.Conflict
	}
	if patch.Idempotency != nil {
		next.Idempotency = *patch.Idempotency
	}
	if patch.EarningDomain != nil {
		next.EarningDomain = *patch.EarningDomain
	}
	if patch.Status != nil {
		next.Status = *patch.Status
	}
	if patch.ActiveFrom != nil {
		next.ActiveFrom = patch.ActiveFrom
	}
	if patch.ActiveTo != nil {
		next.ActiveTo = patch.ActiveTo
	}
	return next
}

// Activate flips the current version to active. When no window start is
// set, activation time becomes the window start.
func (r *RewardRule) Activate(now time.Time) *RewardRule {
	next := r.Clone()
	next.Status = StatusActive
	if next.ActiveFrom == nil {
		t := now
		next.ActiveFrom = &t
	}
	next.UpdatedAt = now
	return next
}

// Deactivate flips the current version to inactive and closes the
// activation window at the deactivation instant. A window start the
// rule never reached is dropped so the closed window stays ordered.
func (r *RewardRule) Deactivate(now time.Time) *RewardRule {
	next := r.Clone()
	next.Status = StatusInactive
	if next.ActiveFrom != nil && !next.ActiveFrom.Before(now) {
		next.ActiveFrom = nil
	}
	t := now
	next.ActiveTo = &t
	next.UpdatedAt = now
	return next
}

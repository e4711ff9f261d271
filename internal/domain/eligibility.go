package domain

import (
	"time"
)

// TimeRange restricts matching to a daily window. Start and End are
// "HH:mm" in the event's local time, both bounds inclusive. Windows do
// not wrap midnight.
type TimeRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// minuteOfDay parses "HH:mm" into minutes since midnight.
func minuteOfDay(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

// Contains reports whether the instant falls inside the window.
// A malformed bound never matches.
func (tr *TimeRange) Contains(at time.Time) bool {
	start, ok := minuteOfDay(tr.Start)
	if !ok {
		return false
	}
	end, ok := minuteOfDay(tr.End)
	if !ok {
		return false
	}
	m := at.Hour()*60 + at.Minute()
	return m >= start && m <= end
}

// Eligibility is a conjunctive predicate over an event context.
// Every set field must hold; unset fields are vacuously true, so the
// zero value (and a nil pointer) matches everything.
type Eligibility struct {
	MinTierID *int64 `json:"minTierId,omitempty"`
	MaxTierID *int64 `json:"maxTierId,omitempty"`

	// MembershipStatus lists the member statuses that qualify.
	MembershipStatus     []string `json:"membershipStatus,omitempty"`
	MinMembershipAgeDays *int     `json:"minMembershipAgeDays,omitempty"`

	// Flags must all be present on the member.
	Flags []string `json:"flags,omitempty"`

	MinAmount *float64 `json:"minAmount,omitempty"`
	MaxAmount *float64 `json:"maxAmount,omitempty"`
	MinItems  *int     `json:"minItems,omitempty"`

	// CategoryIDs and SKUs are set-membership checks: at least one line
	// item must match.
	CategoryIDs []string `json:"categoryIds,omitempty"`
	SKUs        []string `json:"skus,omitempty"`

	// DayOfWeek uses 0=Sunday through 6=Saturday.
	DayOfWeek []int      `json:"dayOfWeek,omitempty"`
	TimeRange *TimeRange `json:"timeRange,omitempty"`

	// Metadata entries must equal the event's metadata values.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Expression is an optional CEL predicate compiled at authoring time
	// and evaluated by the rules engine. It is not part of Matches.
	Expression string `json:"expression,omitempty"`
}

// Clone returns a deep copy of the conditions.
func (e *Eligibility) Clone() *Eligibility {
	if e == nil {
		return nil
	}
	cp := *e
	if e.MinTierID != nil {
		v := *e.MinTierID
		cp.MinTierID = &v
	}
	if e.MaxTierID != nil {
		v := *e.MaxTierID
		cp.MaxTierID = &v
	}
	if e.MinMembershipAgeDays != nil {
		v := *e.MinMembershipAgeDays
		cp.MinMembershipAgeDays = &v
	}
	if e.MinAmount != nil {
		v := *e.MinAmount
		cp.MinAmount = &v
	}
	if e.MaxAmount != nil {
		v := *e.MaxAmount
		cp.MaxAmount = &v
	}
	if e.MinItems != nil {
		v := *e.MinItems
		cp.MinItems = &v
	}
	if e.TimeRange != nil {
		v := *e.TimeRange
		cp.TimeRange = &v
	}
	cp.MembershipStatus = append([]string(nil), e.MembershipStatus...)
	cp.Flags = append([]string(nil), e.Flags...)
	cp.CategoryIDs = append([]string(nil), e.CategoryIDs...)
	cp.SKUs = append([]string(nil), e.SKUs...)
	cp.DayOfWeek = append([]int(nil), e.DayOfWeek...)
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Matches evaluates the declarative conditions against the event.
func (e *Eligibility) Matches(ev *EventContext) bool {
	if e == nil {
		return true
	}

	if e.MinTierID != nil && ev.Member.TierID < *e.MinTierID {
		return false
	}
	if e.MaxTierID != nil && ev.Member.TierID > *e.MaxTierID {
		return false
	}
	if len(e.MembershipStatus) > 0 {
		found := false
		for _, s := range e.MembershipStatus {
			if s == ev.Member.Status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if e.MinMembershipAgeDays != nil && ev.Member.MembershipAgeDays < *e.MinMembershipAgeDays {
		return false
	}
	for _, flag := range e.Flags {
		if !ev.HasFlag(flag) {
			return false
		}
	}
	if e.MinAmount != nil && ev.NetAmount < *e.MinAmount {
		return false
	}
	if e.MaxAmount != nil && ev.NetAmount > *e.MaxAmount {
		return false
	}
	if e.MinItems != nil && ev.ItemCount() < *e.MinItems {
		return false
	}
	if len(e.CategoryIDs) > 0 && !ev.HasCategory(e.CategoryIDs) {
		return false
	}
	if len(e.SKUs) > 0 && !ev.HasSKU(e.SKUs) {
		return false
	}
	if len(e.DayOfWeek) > 0 {
		day := int(ev.OccurredAt.Weekday())
		found := false
		for _, d := range e.DayOfWeek {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if e.TimeRange != nil && !e.TimeRange.Contains(ev.OccurredAt) {
		return false
	}
	for k, v := range e.Metadata {
		if ev.Metadata[k] != v {
			return false
		}
	}

	return true
}

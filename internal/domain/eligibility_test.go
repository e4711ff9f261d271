package domain

import (
	"testing"
	"time"
)

func TestEligibilityNilMatchesEverything(t *testing.T) {
	var e *Eligibility
	if !e.Matches(purchaseEvent(0)) {
		t.Error("nil eligibility should match any event")
	}

	empty := &Eligibility{}
	if !empty.Matches(purchaseEvent(0)) {
		t.Error("empty eligibility should match any event")
	}
}

func TestEligibilityMatches(t *testing.T) {
	// Monday 2026-03-02 14:30 with a gold member buying coffee.
	base := func() *EventContext {
		return &EventContext{
			Trigger:    TriggerPurchase,
			TenantID:   1,
			ProgramID:  1,
			Channel:    "app",
			NetAmount:  120,
			Items:      []EventItem{{SKU: "latte-16", Qty: 2, CategoryID: "coffee"}},
			OccurredAt: time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC),
			Member: MemberSnapshot{
				TierID:            3,
				Status:            "active",
				MembershipAgeDays: 400,
				Flags:             []string{"employee", "beta"},
			},
			Metadata: map[string]string{"campaign": "spring"},
		}
	}

	tests := []struct {
		name string
		cond Eligibility
		edit func(*EventContext)
		want bool
	}{
		{name: "MinTierPass", cond: Eligibility{MinTierID: i64(2)}, want: true},
		{name: "MinTierFail", cond: Eligibility{MinTierID: i64(4)}, want: false},
		{name: "MaxTierPass", cond: Eligibility{MaxTierID: i64(3)}, want: true},
		{name: "MaxTierFail", cond: Eligibility{MaxTierID: i64(2)}, want: false},
		{name: "StatusPass", cond: Eligibility{MembershipStatus: []string{"active"}}, want: true},
		{name: "StatusSetPass", cond: Eligibility{MembershipStatus: []string{"suspended", "active"}}, want: true},
		{name: "StatusFail", cond: Eligibility{MembershipStatus: []string{"suspended"}}, want: false},
		{name: "AgePass", cond: Eligibility{MinMembershipAgeDays: iint(365)}, want: true},
		{name: "AgeFail", cond: Eligibility{MinMembershipAgeDays: iint(500)}, want: false},
		{name: "AllFlagsPass", cond: Eligibility{Flags: []string{"employee", "beta"}}, want: true},
		{name: "MissingFlagFail", cond: Eligibility{Flags: []string{"employee", "vip"}}, want: false},
		{name: "AmountBoundsPass", cond: Eligibility{MinAmount: f64(100), MaxAmount: f64(200)}, want: true},
		{name: "BelowMinAmount", cond: Eligibility{MinAmount: f64(121)}, want: false},
		{name: "AboveMaxAmount", cond: Eligibility{MaxAmount: f64(119)}, want: false},
		{name: "AmountBoundInclusive", cond: Eligibility{MinAmount: f64(120), MaxAmount: f64(120)}, want: true},
		{name: "MinItemsCountsQty", cond: Eligibility{MinItems: iint(2)}, want: true},
		{name: "MinItemsFail", cond: Eligibility{MinItems: iint(3)}, want: false},
		{name: "CategoryPass", cond: Eligibility{CategoryIDs: []string{"tea", "coffee"}}, want: true},
		{name: "CategoryFail", cond: Eligibility{CategoryIDs: []string{"bakery"}}, want: false},
		{name: "SKUPass", cond: Eligibility{SKUs: []string{"latte-16"}}, want: true},
		{name: "SKUFail", cond: Eligibility{SKUs: []string{"mocha-12"}}, want: false},
		{name: "DayOfWeekPass", cond: Eligibility{DayOfWeek: []int{1}}, want: true}, // Monday
		{name: "DayOfWeekFail", cond: Eligibility{DayOfWeek: []int{0, 6}}, want: false},
		{name: "TimeRangePass", cond: Eligibility{TimeRange: &TimeRange{Start: "14:00", End: "15:00"}}, want: true},
		{name: "TimeRangeInclusiveEnd", cond: Eligibility{TimeRange: &TimeRange{Start: "09:00", End: "14:30"}}, want: true},
		{name: "TimeRangeFail", cond: Eligibility{TimeRange: &TimeRange{Start: "15:00", End: "18:00"}}, want: false},
		{name: "MetadataPass", cond: Eligibility{Metadata: map[string]string{"campaign": "spring"}}, want: true},
		{name: "MetadataWrongValue", cond: Eligibility{Metadata: map[string]string{"campaign": "winter"}}, want: false},
		{name: "MetadataMissingKey", cond: Eligibility{Metadata: map[string]string{"referrer": "ad"}}, want: false},
		{
			name: "ConjunctionFailsOnAnyMiss",
			cond: Eligibility{MinTierID: i64(2), MinAmount: f64(500)},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base()
			if tt.edit != nil {
				tt.edit(ev)
			}
			if got := tt.cond.Matches(ev); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTimeRangeNoMidnightWrap(t *testing.T) {
	// Start after end never matches: wrapping windows are rejected at
	// validation time, and matching treats them as empty.
	tr := &TimeRange{Start: "22:00", End: "02:00"}

	at := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	if tr.Contains(at) {
		t.Error("wrapping window should not match")
	}
}

func TestTimeRangeMalformed(t *testing.T) {
	tr := &TimeRange{Start: "9am", End: "17:00"}
	if tr.Contains(time.Now()) {
		t.Error("malformed bound should never match")
	}
}

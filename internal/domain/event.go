package domain

import (
	"time"
)

// EventItem is a single line item on a purchase event.
type EventItem struct {
	SKU        string  `json:"sku"`
	Qty        int     `json:"qty"`
	UnitPrice  float64 `json:"unitPrice"`
	CategoryID string  `json:"categoryId,omitempty"`
}

// MemberSnapshot is the member state captured at event time.
type MemberSnapshot struct {
	MemberID          int64    `json:"memberId"`
	TierID            int64    `json:"tierId"`
	Status            string   `json:"status"`
	MembershipAgeDays int      `json:"membershipAgeDays"`
	Flags             []string `json:"flags,omitempty"`
}

// EventContext is the normalized loyalty event that formulas and
// eligibility conditions read. It carries no identity of its own;
// evaluation against it is pure.
type EventContext struct {
	Trigger   Trigger `json:"trigger"`
	TenantID  int64   `json:"tenantId"`
	ProgramID int64   `json:"programId"`

	StoreID  string `json:"storeId,omitempty"`
	BranchID string `json:"branchId,omitempty"`
	Channel  string `json:"channel,omitempty"`

	NetAmount   float64     `json:"netAmount,omitempty"`
	GrossAmount float64     `json:"grossAmount,omitempty"`
	Items       []EventItem `json:"items,omitempty"`

	// OccurredAt is in the member's local time for calendar checks.
	OccurredAt time.Time `json:"occurredAt"`

	Member   MemberSnapshot    `json:"member"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// AmountFor returns the monetary amount selected by field.
// An empty field defaults to the net amount.
func (ev *EventContext) AmountFor(field AmountField) float64 {
	if field == AmountGross {
		return ev.GrossAmount
	}
	return ev.NetAmount
}

// ItemCount returns the total quantity across line items.
func (ev *EventContext) ItemCount() int {
	total := 0
	for _, it := range ev.Items {
		if it.Qty > 0 {
			total += it.Qty
		}
	}
	return total
}

// HasCategory reports whether any line item belongs to one of the categories.
func (ev *EventContext) HasCategory(categoryIDs []string) bool {
	for _, it := range ev.Items {
		for _, c := range categoryIDs {
			if it.CategoryID == c {
				return true
			}
		}
	}
	return false
}

// HasSKU reports whether any line item matches one of the SKUs.
func (ev *EventContext) HasSKU(skus []string) bool {
	for _, it := range ev.Items {
		for _, s := range skus {
			if it.SKU == s {
				return true
			}
		}
	}
	return false
}

// HasFlag reports whether the member carries the flag.
func (ev *EventContext) HasFlag(flag string) bool {
	for _, f := range ev.Member.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

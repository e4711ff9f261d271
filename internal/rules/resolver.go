package rules

import (
	"fmt"

	"github.com/opensource-loyalty/kestrel/internal/domain"
)

// Resolution is the outcome of conflict resolution over a set of awards.
type Resolution struct {
	Awards      []domain.Award
	Suppressed  []domain.SuppressedAward
	TotalPoints int64
}

// Resolve applies stack policies within each conflict group and returns
// the surviving awards. Input order is preserved within groups and
// across them. Resolution is pure: the same awards always resolve the
// same way.
func Resolve(awards []domain.Award) Resolution {
	res := Resolution{}
	if len(awards) == 0 {
		return res
	}

	// Group by conflict group, preserving first-seen order.
	var order []string
	groups := make(map[string][]domain.Award)
	for _, a := range awards {
		if _, ok := groups[a.ConflictGroup]; !ok {
			order = append(order, a.ConflictGroup)
		}
		groups[a.ConflictGroup] = append(groups[a.ConflictGroup], a)
	}

	for _, group := range order {
		kept, suppressed := resolveGroup(groups[group])
		res.Awards = append(res.Awards, kept...)
		res.Suppressed = append(res.Suppressed, suppressed...)
	}

	for _, a := range res.Awards {
		res.TotalPoints += a.Points
	}
	return res
}

// resolveGroup resolves one conflict group. The governing policy and
// per-event award cap come from the leading award: highest priority
// rank, ties broken by earliest rule creation.
func resolveGroup(group []domain.Award) ([]domain.Award, []domain.SuppressedAward) {
	leader := group[0]
	for _, a := range group[1:] {
		if outranks(a, leader) {
			leader = a
		}
	}

	var kept []domain.Award
	var suppressed []domain.SuppressedAward

	switch leader.StackPolicy {
	case domain.StackPolicyExclusive, domain.StackPolicyPriority:
		for _, a := range group {
			if a.RuleID == leader.RuleID && a.Version == leader.Version {
				kept = append(kept, capAward(a))
			} else {
				suppressed = append(suppressed, domain.SuppressedAward{
					Award:  a,
					Reason: fmt.Sprintf("%s: outranked by rule %d", leader.StackPolicy, leader.RuleID),
				})
			}
		}

	case domain.StackPolicyBestOf:
		best := group[0]
		for _, a := range group[1:] {
			if a.Points > best.Points || (a.Points == best.Points && outranks(a, best)) {
				best = a
			}
		}
		for _, a := range group {
			if a.RuleID == best.RuleID && a.Version == best.Version {
				kept = append(kept, capAward(a))
			} else {
				suppressed = append(suppressed, domain.SuppressedAward{
					Award:  a,
					Reason: fmt.Sprintf("BEST_OF: rule %d yields more", best.RuleID),
				})
			}
		}

	default: // STACK
		for _, a := range group {
			kept = append(kept, capAward(a))
		}
	}

	// Cap the number of awards the group may emit per event.
	if leader.MaxAwardsPerEvent != nil && *leader.MaxAwardsPerEvent >= 0 && len(kept) > *leader.MaxAwardsPerEvent {
		for _, a := range kept[*leader.MaxAwardsPerEvent:] {
			suppressed = append(suppressed, domain.SuppressedAward{
				Award:  a,
				Reason: fmt.Sprintf("maxAwardsPerEvent %d reached", *leader.MaxAwardsPerEvent),
			})
		}
		kept = kept[:*leader.MaxAwardsPerEvent]
	}

	return kept, suppressed
}

// outranks reports whether a takes precedence over b: higher priority
// rank wins, ties go to the earlier created rule.
func outranks(a, b domain.Award) bool {
	if a.PriorityRank != b.PriorityRank {
		return a.PriorityRank > b.PriorityRank
	}
	return a.RuleCreatedAt.Before(b.RuleCreatedAt)
}

// capAward trims an award to its per-event point cap.
func capAward(a domain.Award) domain.Award {
	if a.PerEventCap != nil && a.Points > *a.PerEventCap {
		a.Points = *a.PerEventCap
	}
	return a
}

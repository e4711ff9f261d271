package domain

import (
	"time"
)

// Award is the outcome of one rule matching an event: the points the
// rule would yield plus the conflict attributes resolution needs.
type Award struct {
	RuleID        int64       `json:"ruleId"`
	RuleName      string      `json:"ruleName"`
	Version       int         `json:"version"`
	EarningDomain string      `json:"earningDomain"`
	ConflictGroup string      `json:"conflictGroup"`
	StackPolicy   StackPolicy `json:"stackPolicy"`
	PriorityRank  int         `json:"priorityRank"`
	Points        int64       `json:"points"`

	MaxAwardsPerEvent *int      `json:"maxAwardsPerEvent,omitempty"`
	PerEventCap       *int64    `json:"perEventCap,omitempty"`
	RuleCreatedAt     time.Time `json:"ruleCreatedAt"`
}

// SuppressedAward is an award dropped during conflict resolution,
// kept for dry-run explainability.
type SuppressedAward struct {
	Award  Award  `json:"award"`
	Reason string `json:"reason"`
}

// DryRunResult is the full evaluation outcome for a candidate event.
// No point transactions are emitted; the result only explains what the
// active rules would award.
type DryRunResult struct {
	Trigger   Trigger `json:"trigger"`
	ProgramID int64   `json:"programId"`

	Awards      []Award           `json:"awards"`
	Suppressed  []SuppressedAward `json:"suppressed,omitempty"`
	TotalPoints int64             `json:"totalPoints"`

	Metadata DryRunMetadata `json:"metadata"`
}

// DryRunMetadata carries processing information.
type DryRunMetadata struct {
	TraceID        string `json:"traceId"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	RulesMatched   int    `json:"rulesMatched"`
	EvalMs         int64  `json:"evalMs"`
	EngineVersion  string `json:"engineVersion"`
}

// Package rules provides rule validation, matching, and conflict resolution.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-loyalty/kestrel/internal/domain"
)

// Engine matches rules against events. Declarative eligibility is
// evaluated directly; optional CEL expressions are compiled once at
// load time and cached per rule version.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]cel.Program
	maxWorkers int
}

// NewEngine creates a new rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment with the event context variables expressions may use
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("gross_amount", cel.DoubleType),
		cel.Variable("item_count", cel.IntType),
		cel.Variable("trigger", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("store_id", cel.StringType),
		cel.Variable("branch_id", cel.StringType),
		cel.Variable("tier_id", cel.IntType),
		cel.Variable("member_status", cel.StringType),
		cel.Variable("membership_age_days", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]cel.Program),
		maxWorkers: maxWorkers,
	}, nil
}

func ruleKey(id int64, version int) string {
	return fmt.Sprintf("%d:%d", id, version)
}

// ValidateExpression compiles an eligibility expression without loading it.
func (e *Engine) ValidateExpression(expr string) error {
	_, err := e.compileExpression(expr)
	return err
}

func (e *Engine) compileExpression(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// LoadRule compiles and caches the rule's eligibility expression, if any.
func (e *Engine) LoadRule(r *domain.RewardRule) error {
	if r.Eligibility == nil || r.Eligibility.Expression == "" {
		return nil
	}

	program, err := e.compileExpression(r.Eligibility.Expression)
	if err != nil {
		return fmt.Errorf("rule %d v%d: %w", r.ID, r.Version, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled[ruleKey(r.ID, r.Version)] = program
	return nil
}

// LoadRules compiles and caches multiple rules.
func (e *Engine) LoadRules(rules []*domain.RewardRule) error {
	for _, r := range rules {
		if err := e.LoadRule(r); err != nil {
			return err
		}
	}
	return nil
}

// ReloadRules drops all cached programs and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(rules []*domain.RewardRule) error {
	fresh := make(map[string]cel.Program)
	for _, r := range rules {
		if r.Eligibility == nil || r.Eligibility.Expression == "" {
			continue
		}
		program, err := e.compileExpression(r.Eligibility.Expression)
		if err != nil {
			return fmt.Errorf("rule %d v%d: %w", r.ID, r.Version, err)
		}
		fresh[ruleKey(r.ID, r.Version)] = program
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = fresh
	return nil
}

// CompiledCount returns the number of cached expression programs.
func (e *Engine) CompiledCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]cel.Program)
	return nil
}

func activation(ev *domain.EventContext) map[string]any {
	metadata := ev.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return map[string]any{
		"amount":              ev.NetAmount,
		"gross_amount":        ev.GrossAmount,
		"item_count":          ev.ItemCount(),
		"trigger":             string(ev.Trigger),
		"channel":             ev.Channel,
		"store_id":            ev.StoreID,
		"branch_id":           ev.BranchID,
		"tier_id":             ev.Member.TierID,
		"member_status":       ev.Member.Status,
		"membership_age_days": ev.Member.MembershipAgeDays,
		"day_of_week":         int(ev.OccurredAt.Weekday()),
		"metadata":            metadata,
	}
}

// Matches reports whether the rule's eligibility holds for the event,
// including its expression when one is set.
func (e *Engine) Matches(r *domain.RewardRule, ev *domain.EventContext) (bool, error) {
	if !r.Eligibility.Matches(ev) {
		return false, nil
	}

	if r.Eligibility == nil || r.Eligibility.Expression == "" {
		return true, nil
	}

	e.mu.RLock()
	program, ok := e.compiled[ruleKey(r.ID, r.Version)]
	e.mu.RUnlock()

	if !ok {
		var err error
		program, err = e.compileExpression(r.Eligibility.Expression)
		if err != nil {
			return false, err
		}
	}

	out, _, err := program.Eval(activation(ev))
	if err != nil {
		return false, fmt.Errorf("rule %d v%d: expression evaluation failed: %w", r.ID, r.Version, err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("rule %d v%d: expression did not return bool", r.ID, r.Version)
	}
	return bool(b), nil
}

// EvaluateAll matches every candidate rule against the event in
// parallel and returns the awards for the rules that apply. Rules that
// are not live at now, have a different trigger, or fall outside the
// event's scope are skipped. Evaluation never emits point transactions.
func (e *Engine) EvaluateAll(ctx context.Context, candidates []*domain.RewardRule, ev *domain.EventContext, now time.Time) []domain.Award {
	results := make([]*domain.Award, len(candidates))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, r := range candidates {
		wg.Add(1)
		go func(idx int, rule *domain.RewardRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if !rule.IsActive(now) {
				return
			}
			if rule.Trigger != ev.Trigger {
				return
			}
			if !rule.Scope.Matches(ev) {
				return
			}

			if rule.Formula.PointsFormula == nil {
				return
			}

			matched, err := e.Matches(rule, ev)
			if err != nil || !matched {
				return
			}

			results[idx] = &domain.Award{
				RuleID:            rule.ID,
				RuleName:          rule.Name,
				Version:           rule.Version,
				EarningDomain:     rule.EarningDomain,
				ConflictGroup:     rule.Conflict.ConflictGroup,
				StackPolicy:       rule.Conflict.StackPolicy,
				PriorityRank:      rule.Conflict.PriorityRank,
				Points:            rule.Formula.Points(ev),
				MaxAwardsPerEvent: rule.Conflict.MaxAwardsPerEvent,
				PerEventCap:       rule.Limits.PerEventCap,
				RuleCreatedAt:     rule.CreatedAt,
			}
		}(i, r)
	}

	wg.Wait()

	// Compact while preserving candidate order
	awards := make([]domain.Award, 0, len(candidates))
	for _, a := range results {
		if a != nil {
			awards = append(awards, *a)
		}
	}
	return awards
}

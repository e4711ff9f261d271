// Package worker provides async rule lifecycle processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-loyalty/kestrel/internal/domain"
	"github.com/opensource-loyalty/kestrel/internal/rules"
)

// lifecycleTopics are the topics a worker follows for each tenant.
var lifecycleTopics = []string{
	domain.TopicRuleCreated,
	domain.TopicRuleUpdated,
	domain.TopicRuleActivated,
	domain.TopicRuleDeactivated,
	domain.TopicRuleDeleted,
}

// Worker keeps caches and the compiled rule set in sync with rule
// lifecycle events from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	engine *rules.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to follow
	TenantIDs []int64
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, engine *rules.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing lifecycle events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startTenantWorker subscribes to all lifecycle topics for a tenant.
func (w *Worker) startTenantWorker(tenantID int64) error {
	for _, topic := range lifecycleTopics {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, w.handleRuleEvent)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topics", len(lifecycleTopics),
	)

	return nil
}

// handleRuleEvent refreshes derived state after a rule changes.
func (w *Worker) handleRuleEvent(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var ev domain.RuleEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse rule event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	tenantID := ev.TenantID
	if tenantID == 0 {
		tenantID = msg.TenantID
	}

	slog.Debug("processing rule event",
		"rule_id", ev.RuleID,
		"tenant_id", tenantID,
		"topic", msg.Topic,
	)

	// 1. Drop the cached active-rule list for the program
	if w.cache != nil && ev.ProgramID != 0 {
		if err := w.cache.InvalidateActiveRules(ctx, tenantID, ev.ProgramID); err != nil {
			slog.Error("failed to invalidate rule cache",
				"rule_id", ev.RuleID,
				"program_id", ev.ProgramID,
				"error", err,
			)
		}
	}

	// 2. Recompile eligibility expressions for the program's live rules
	if w.engine != nil && w.repo != nil && ev.ProgramID != 0 {
		active, err := w.repo.ListActiveRules(ctx, tenantID, ev.ProgramID, "")
		if err != nil {
			slog.Error("failed to list active rules",
				"rule_id", ev.RuleID,
				"program_id", ev.ProgramID,
				"error", err,
			)
			return err
		}
		if err := w.engine.LoadRules(active); err != nil {
			slog.Error("failed to load rules into engine",
				"rule_id", ev.RuleID,
				"program_id", ev.ProgramID,
				"error", err,
			)
			return err
		}
	}

	slog.Info("rule event processed",
		"rule_id", ev.RuleID,
		"tenant_id", tenantID,
		"topic", msg.Topic,
		"status", ev.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

// Package quota enforces per-program rule capacity and per-tenant
// write rate limits on the authoring API.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-loyalty/kestrel/internal/domain"
)

// Service answers capacity and rate questions for authoring writes.
type Service struct {
	repo  domain.Repository
	cache domain.Cache

	// writesPerMinute caps authoring writes per tenant. Zero disables
	// the limiter.
	writesPerMinute int
}

// NewService creates a quota service.
func NewService(repo domain.Repository, cache domain.Cache, writesPerMinute int) *Service {
	return &Service{
		repo:            repo,
		cache:           cache,
		writesPerMinute: writesPerMinute,
	}
}

// ActiveRuleCount returns the number of rules with active status in a
// program, counting latest versions only.
func (s *Service) ActiveRuleCount(ctx context.Context, tenantID, programID int64) (int64, error) {
	if tenantID == 0 || programID == 0 {
		return 0, fmt.Errorf("%w: tenantID and programID are required", domain.ErrInvalidInput)
	}
	return s.repo.CountActiveRules(ctx, tenantID, programID)
}

// EnsureCapacity fails when activating one more rule would push the
// program past its configured active-rule cap. A zero cap means the
// program is uncapped.
func (s *Service) EnsureCapacity(ctx context.Context, tenantID, programID int64) error {
	program, err := s.repo.GetProgram(ctx, tenantID, programID)
	if err != nil {
		return err
	}
	if program.MaxActiveRules <= 0 {
		return nil
	}

	count, err := s.repo.CountActiveRules(ctx, tenantID, programID)
	if err != nil {
		return fmt.Errorf("failed to count active rules: %w", err)
	}
	if count >= int64(program.MaxActiveRules) {
		return &domain.InvalidInputError{
			Field:  "program",
			Reason: fmt.Sprintf("program %d already has %d active rules, cap is %d", programID, count, program.MaxActiveRules),
		}
	}
	return nil
}

// AllowWrite counts an authoring write against the tenant's per-minute
// budget. Returns false once the budget is spent.
func (s *Service) AllowWrite(ctx context.Context, tenantID int64) (bool, error) {
	if s.writesPerMinute <= 0 {
		return true, nil
	}

	count, err := s.cache.IncrementCounter(ctx, tenantID, "authoring:writes", time.Minute)
	if err != nil {
		// A broken counter should not take authoring down.
		return true, err
	}
	return count <= int64(s.writesPerMinute), nil
}

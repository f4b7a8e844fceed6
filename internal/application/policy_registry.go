package application

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ahrav/go-cubecomp/infrastructure/averaging"
	"github.com/ahrav/go-cubecomp/internal/domain"
	"github.com/ahrav/go-cubecomp/internal/ports"
)

// Verify interface compliance at compile time.
var _ ports.AveragerRegistry = (*PolicyRegistry)(nil)

// PolicyRegistry maps averaging policies to averager factories. The three
// standard policies are registered on construction.
type PolicyRegistry struct {
	// factories maps policy names to their factory functions.
	factories map[domain.AveragingPolicy]ports.AveragerFactory
	// mu protects concurrent access to the factories map.
	mu sync.RWMutex
}

// NewPolicyRegistry creates a registry with best_of_3, mean_of_3 and ao5
// registered.
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{
		factories: map[domain.AveragingPolicy]ports.AveragerFactory{
			domain.PolicyBestOf3:    averaging.NewBestOfThreeFromRule,
			domain.PolicyMeanOf3:    averaging.NewMeanOfThreeFromRule,
			domain.PolicyAverageOf5: averaging.NewAverageOfFiveFromRule,
		},
	}
}

// Averager builds the averager for rule. The factory validates that the
// rule's attempt count matches the policy.
func (r *PolicyRegistry) Averager(rule domain.DisciplineRule) (domain.Averager, error) {
	r.mu.RLock()
	factory, ok := r.factories[rule.Policy]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPolicy, rule.Policy)
	}

	avg, err := factory(rule)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s averager: %w", rule.Policy, err)
	}
	return avg, nil
}

// Register adds or replaces the factory for policy.
func (r *PolicyRegistry) Register(policy domain.AveragingPolicy, factory ports.AveragerFactory) error {
	if policy == "" {
		return fmt.Errorf("policy cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory function cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[policy] = factory
	return nil
}

// Policies returns the registered policies in sorted order.
func (r *PolicyRegistry) Policies() []domain.AveragingPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AveragingPolicy, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

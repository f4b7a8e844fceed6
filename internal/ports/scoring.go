// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/ahrav/go-cubecomp/internal/domain"
)

// RuleLookup resolves the scoring rule of a discipline. It replaces any
// process-wide discipline table: callers receive the lookup explicitly.
type RuleLookup interface {
	// Rule returns the rule of the discipline with the given id.
	// It returns ErrNotFound when the discipline is unknown.
	Rule(ctx context.Context, disciplineID int64) (domain.DisciplineRule, error)

	// DisciplineByCode resolves a discipline by its case-insensitive code.
	DisciplineByCode(ctx context.Context, code string) (domain.Discipline, error)
}

// AveragerFactory builds an averager for a validated discipline rule.
type AveragerFactory func(rule domain.DisciplineRule) (domain.Averager, error)

// AveragerRegistry maps averaging policies to averager factories.
type AveragerRegistry interface {
	// Averager returns the averager for rule, validating the rule against
	// the policy's requirements.
	Averager(rule domain.DisciplineRule) (domain.Averager, error)

	// Register adds or replaces the factory for policy.
	Register(policy domain.AveragingPolicy, factory AveragerFactory) error

	// Policies lists the registered policies.
	Policies() []domain.AveragingPolicy
}

// RecalcObserver provides observability hooks around leaderboard
// recalculation. Implementations add tracing and metrics without coupling
// them to the ranking logic.
type RecalcObserver interface {
	// Start is called before a recalculation and returns the context to run
	// it in together with a function that must be called when it finishes.
	Start(ctx context.Context, scope RecalcScope) (context.Context, func(rows int, err error))
}

// RecalcScope identifies what is being recalculated. DisciplineID is zero
// for the overall standing.
type RecalcScope struct {
	CompetitionID int64
	DisciplineID  int64
}

// Kind names the scope for labels: "discipline" or "overall".
func (s RecalcScope) Kind() string {
	if s.DisciplineID == 0 {
		return "overall"
	}
	return "discipline"
}

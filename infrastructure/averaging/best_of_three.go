package averaging

import (
	"github.com/ahrav/go-cubecomp/internal/domain"
)

var _ domain.Averager = (*BestOfThree)(nil)

// BestOfThree scores a discipline by its single best attempt out of three.
// The average is DNF only when every attempt is a DNF. Used for blindfolded
// events where finishing at all is the hard part.
type BestOfThree struct{}

// NewBestOfThree creates a BestOfThree averager.
func NewBestOfThree() *BestOfThree { return &BestOfThree{} }

// NewBestOfThreeFromRule creates a BestOfThree averager after checking that
// rule describes a best-of-3 discipline.
func NewBestOfThreeFromRule(rule domain.DisciplineRule) (domain.Averager, error) {
	if err := checkRule(rule, domain.PolicyBestOf3, 3); err != nil {
		return nil, err
	}
	return NewBestOfThree(), nil
}

// Policy returns domain.PolicyBestOf3.
func (b *BestOfThree) Policy() domain.AveragingPolicy { return domain.PolicyBestOf3 }

// AttemptCount returns 3.
func (b *BestOfThree) AttemptCount() int { return 3 }

// Average returns the best attempt, or a DNF when all three are DNF.
func (b *BestOfThree) Average(attempts []domain.Time) (domain.Time, error) {
	if len(attempts) != b.AttemptCount() {
		return domain.Time{}, domain.CountMismatchError(b.AttemptCount(), len(attempts))
	}
	return domain.BestTime(attempts), nil
}

package averaging

import (
	"github.com/ahrav/go-cubecomp/internal/domain"
)

var _ domain.Averager = (*MeanOfThree)(nil)

// MeanOfThree scores a discipline by the arithmetic mean of three attempts,
// truncated to whole milliseconds. A single DNF makes the mean DNF since
// no attempt is dropped.
type MeanOfThree struct{}

// NewMeanOfThree creates a MeanOfThree averager.
func NewMeanOfThree() *MeanOfThree { return &MeanOfThree{} }

// NewMeanOfThreeFromRule creates a MeanOfThree averager after checking that
// rule describes a mean-of-3 discipline.
func NewMeanOfThreeFromRule(rule domain.DisciplineRule) (domain.Averager, error) {
	if err := checkRule(rule, domain.PolicyMeanOf3, 3); err != nil {
		return nil, err
	}
	return NewMeanOfThree(), nil
}

// Policy returns domain.PolicyMeanOf3.
func (m *MeanOfThree) Policy() domain.AveragingPolicy { return domain.PolicyMeanOf3 }

// AttemptCount returns 3.
func (m *MeanOfThree) AttemptCount() int { return 3 }

// Average returns floor(sum/3), or a DNF if any attempt is DNF.
func (m *MeanOfThree) Average(attempts []domain.Time) (domain.Time, error) {
	if len(attempts) != m.AttemptCount() {
		return domain.Time{}, domain.CountMismatchError(m.AttemptCount(), len(attempts))
	}

	valid, dnf := splitDNF(attempts)
	if dnf > 0 {
		return domain.DNFTime, nil
	}
	return domain.Millis(sum(valid) / 3), nil
}

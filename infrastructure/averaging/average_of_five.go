package averaging

import (
	"slices"

	"github.com/ahrav/go-cubecomp/internal/domain"
)

var _ domain.Averager = (*AverageOfFive)(nil)

// countingAttempts is how many values an average of five keeps after trimming.
const countingAttempts = 3

// AverageOfFive implements the WCA average of five.
//
// Algorithm: with no DNF the single best and single worst attempts are
// dropped; with exactly one DNF that DNF is the dropped worst and the best
// numeric attempt is dropped; with two or more DNFs the average is DNF. The
// three counting attempts are averaged with truncating division. Which of
// several equal values is dropped does not matter since only the sum counts.
//
// If trimming ever leaves anything other than three values the average is
// reported as DNF rather than a misleading number. The DNF count check makes
// that branch unreachable for well-formed input.
type AverageOfFive struct{}

// NewAverageOfFive creates an AverageOfFive averager.
func NewAverageOfFive() *AverageOfFive { return &AverageOfFive{} }

// NewAverageOfFiveFromRule creates an AverageOfFive averager after checking
// that rule describes an average-of-5 discipline.
func NewAverageOfFiveFromRule(rule domain.DisciplineRule) (domain.Averager, error) {
	if err := checkRule(rule, domain.PolicyAverageOf5, 5); err != nil {
		return nil, err
	}
	return NewAverageOfFive(), nil
}

// Policy returns domain.PolicyAverageOf5.
func (a *AverageOfFive) Policy() domain.AveragingPolicy { return domain.PolicyAverageOf5 }

// AttemptCount returns 5.
func (a *AverageOfFive) AttemptCount() int { return 5 }

// Average returns the trimmed average of five attempts.
func (a *AverageOfFive) Average(attempts []domain.Time) (domain.Time, error) {
	if len(attempts) != a.AttemptCount() {
		return domain.Time{}, domain.CountMismatchError(a.AttemptCount(), len(attempts))
	}

	valid, dnf := splitDNF(attempts)
	if dnf >= 2 {
		return domain.DNFTime, nil
	}

	return trimmedMean(valid, dnf == 0), nil
}

// trimmedMean drops the best value, and the worst when dropWorst is set,
// then averages what is left if exactly countingAttempts values remain.
func trimmedMean(valid []int64, dropWorst bool) domain.Time {
	if len(valid) < countingAttempts {
		return domain.DNFTime
	}

	kept := slices.Clone(valid)
	slices.Sort(kept)
	kept = kept[1:]
	if dropWorst {
		kept = kept[:len(kept)-1]
	}

	if len(kept) != countingAttempts {
		return domain.DNFTime
	}
	return domain.Millis(sum(kept) / countingAttempts)
}

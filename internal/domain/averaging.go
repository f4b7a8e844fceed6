package domain

// AveragingPolicy names the rule that turns a discipline's attempts into
// its official average.
type AveragingPolicy string

// Supported averaging policies.
const (
	// PolicyBestOf3 takes the best of three attempts. The result is DNF
	// only when all three attempts are DNF.
	PolicyBestOf3 AveragingPolicy = "best_of_3"

	// PolicyMeanOf3 is the floor of the arithmetic mean of three attempts.
	// Any DNF attempt makes the result DNF.
	PolicyMeanOf3 AveragingPolicy = "mean_of_3"

	// PolicyAverageOf5 is the WCA average of five: the best and worst
	// attempts are dropped and the remaining three are averaged. A single
	// DNF counts as the worst attempt; two or more make the result DNF.
	PolicyAverageOf5 AveragingPolicy = "ao5"
)

// Valid reports whether p is one of the supported policies.
func (p AveragingPolicy) Valid() bool {
	switch p {
	case PolicyBestOf3, PolicyMeanOf3, PolicyAverageOf5:
		return true
	}
	return false
}

// DisciplineRule holds the scoring parameters of a discipline. Rules are
// fixed per discipline and never mutated by the scoring code.
type DisciplineRule struct {
	// AttemptCount is the number of attempts a result must contain.
	AttemptCount int `yaml:"attempts_count" json:"attempts_count" msgpack:"attempts" validate:"required,oneof=3 5"`

	// Policy selects the averaging rule.
	Policy AveragingPolicy `yaml:"average_calculation_type" json:"average_calculation_type" msgpack:"policy" validate:"required,policy"`

	// DNFThresholdSeconds is informational only and does not affect scoring.
	DNFThresholdSeconds int `yaml:"dnf_threshold" json:"dnf_threshold" msgpack:"dnf_threshold" validate:"min=0"`
}

// Averager computes the official average of an ordered list of attempts
// under one averaging policy. Implementations are stateless and safe for
// concurrent use.
type Averager interface {
	// Policy returns the averaging policy this averager implements.
	Policy() AveragingPolicy

	// AttemptCount returns the exact number of attempts Average accepts.
	AttemptCount() int

	// Average returns the official average of attempts. A DNF average is a
	// valid result, not an error. Average returns ErrAttemptCountMismatch
	// when len(attempts) differs from AttemptCount.
	Average(attempts []Time) (Time, error)
}

// BestTime returns the fastest non-DNF attempt, or DNFTime when every
// attempt is a DNF (or there are none).
func BestTime(attempts []Time) Time {
	best := DNFTime
	for _, a := range attempts {
		if a.DNF {
			continue
		}
		if best.DNF || a.Millis < best.Millis {
			best = a
		}
	}
	return best
}

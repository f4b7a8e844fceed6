// Package averaging provides the averaging policies that implement the
// domain.Averager contract for speedcubing disciplines.
package averaging

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-cubecomp/internal/domain"
)

// Package-level validator instance for discipline rule validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("policy", func(fl validator.FieldLevel) bool {
		return domain.AveragingPolicy(fl.Field().String()).Valid()
	})
	return v
}

// checkRule validates rule against the policy and attempt count an
// averager implements.
func checkRule(rule domain.DisciplineRule, policy domain.AveragingPolicy, attempts int) error {
	if err := validate.Struct(rule); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRule, err)
	}
	if rule.Policy != policy {
		return fmt.Errorf("%w: policy %q is not %q", domain.ErrInvalidRule, rule.Policy, policy)
	}
	if rule.AttemptCount != attempts {
		return fmt.Errorf("%w: %s needs %d attempts, rule has %d",
			domain.ErrInvalidRule, policy, attempts, rule.AttemptCount)
	}
	return nil
}

// splitDNF separates numeric attempt values from DNFs.
func splitDNF(attempts []domain.Time) (valid []int64, dnf int) {
	valid = make([]int64, 0, len(attempts))
	for _, a := range attempts {
		if a.DNF {
			dnf++
			continue
		}
		valid = append(valid, a.Millis)
	}
	return valid, dnf
}

// sum adds up values.
func sum(values []int64) int64 {
	var total int64
	for _, v := range values {
		total += v
	}
	return total
}

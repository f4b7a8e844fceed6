package application

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ahrav/go-cubecomp/internal/domain"
)

// disciplineCodePattern matches lowercase discipline codes such as "3x3",
// "oh" or "3bld".
var disciplineCodePattern = regexp.MustCompile(`^[a-z0-9_]{1,16}$`)

// NewValidator returns a validator with the custom tags used by
// configuration and request structs registered.
func NewValidator() (*validator.Validate, error) {
	v := validator.New()
	if err := RegisterValidators(v); err != nil {
		return nil, err
	}
	return v, nil
}

// RegisterValidators registers the policy, disccode and loglevel tags.
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("policy", validatePolicy); err != nil {
		return fmt.Errorf("failed to register policy validator: %w", err)
	}

	if err := v.RegisterValidation("disccode", validateDisciplineCode); err != nil {
		return fmt.Errorf("failed to register disccode validator: %w", err)
	}

	if err := v.RegisterValidation("loglevel", validateLogLevel); err != nil {
		return fmt.Errorf("failed to register loglevel validator: %w", err)
	}

	return nil
}

// validatePolicy accepts the supported averaging policy names.
func validatePolicy(fl validator.FieldLevel) bool {
	return domain.AveragingPolicy(fl.Field().String()).Valid()
}

// validateDisciplineCode accepts lowercase alphanumeric codes.
func validateDisciplineCode(fl validator.FieldLevel) bool {
	return disciplineCodePattern.MatchString(fl.Field().String())
}

// validateLogLevel accepts any level zerolog can parse.
func validateLogLevel(fl validator.FieldLevel) bool {
	_, err := zerolog.ParseLevel(fl.Field().String())
	return err == nil
}

// requiredAttempts is the attempt count a policy is defined over.
func requiredAttempts(p domain.AveragingPolicy) int {
	switch p {
	case domain.PolicyAverageOf5:
		return 5
	case domain.PolicyBestOf3, domain.PolicyMeanOf3:
		return 3
	}
	return 0
}

// policyAttempts reports whether rule's attempt count fits its policy.
func policyAttempts(rule domain.DisciplineRule) bool {
	return requiredAttempts(rule.Policy) == rule.AttemptCount
}

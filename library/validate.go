package library

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	MinLoanDays = 1
	MaxLoanDays = 90

	// RenewalDays is how far a renewal pushes the due date.
	RenewalDays = 30
)

//nolint:gochecknoglobals
var validate = validator.New(validator.WithRequiredStructEnabled())

func validateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return errors.Join(ErrValidation, err)
	}
	return nil
}

// ValidateLoanDays checks a requested loan duration before Borrow is called.
// The ledger itself only rejects non-positive durations.
func ValidateLoanDays(days int) error {
	if err := validate.Var(days, "min=1,max=90"); err != nil {
		return errors.Join(validationf("loan duration must be %d-%d days, got %d", MinLoanDays, MaxLoanDays, days), err)
	}
	return nil
}

func validateSecret(what, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return validationf("%s must not be empty", what)
	}
	return nil
}

package utils

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStruct runs the `validate` tags of an input struct and reports
// the first failure as a Validation error. Semantic checks (state
// transitions, stock levels) stay with the owning service.
func ValidateStruct(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return ValidationError("invalid %s (%s)", fe.Field(), fe.Tag())
	}
	return ValidationError("invalid input: %v", err)
}

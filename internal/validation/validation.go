// Package validation checks request structs before they reach the record store.
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/MarcoPoloResearchLab/ecocarbon/internal/apperrors"
	"github.com/go-playground/validator/v10"
)

// Validator wraps a validator instance that reports fields by their JSON names.
type Validator struct {
	validate *validator.Validate
}

// New builds a Validator.
func New() *Validator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return &Validator{validate: validate}
}

// Check validates input and converts the first failure into an apperrors.ValidationError
// attributed to operation.
func (v *Validator) Check(operation string, input any) error {
	err := v.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return apperrors.Validation(operation, "input", err.Error())
	}
	first := fieldErrors[0]
	return apperrors.Validation(operation, first.Field(), describe(first))
}

func describe(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fieldError.Param() + " characters"
	case "max":
		return "must be at most " + fieldError.Param() + " characters"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fieldError.Param(), " ", ", ")
	case "numeric", "number":
		return "must be a number"
	case "datetime":
		return "must match the " + fieldError.Param() + " layout"
	case "uuid":
		return "must be a valid identifier"
	default:
		return "failed " + fieldError.Tag() + " check"
	}
}

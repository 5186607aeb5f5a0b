package config

import (
	"fmt"

	validatorV10 "github.com/go-playground/validator/v10"

	apperrors "github.com/leeforge/runtimekit/errors"
)

var validate *validatorV10.Validate

func init() {
	validate = validatorV10.New()
}

// ValidateStruct checks v against its validate tags, reporting every failing
// field with its full namespace.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	fieldErrs, ok := err.(validatorV10.ValidationErrors)
	if !ok {
		return apperrors.Wrap(err, apperrors.KindValidation, "config validation")
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, apperrors.Validation(fe.Namespace(), validationMessage(fe)))
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return apperrors.Wrap(apperrors.Join(errs...), apperrors.KindValidation,
		fmt.Sprintf("%d fields failed validation", len(errs)))
}

func validationMessage(fe validatorV10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "hostname", "hostname_rfc1123":
		return "must be a valid hostname"
	case "ip":
		return "must be a valid IP address"
	case "numeric":
		return "must be a valid number"
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed validation for tag '%s'", fe.Tag())
	}
}

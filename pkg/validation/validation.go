// Package validation wraps go-playground/validator and reports failures as
// errutil.ValidationFailed with one Detail per field.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"licensing-controlplane/pkg/errutil"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	return v
}

// Struct validates v against its `validate` tags.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errutil.BadRequest("invalid request", errors.Join(errutil.ErrInvalidArgument, err))
	}

	details := make([]errutil.Detail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, errutil.Detail{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}

	return errutil.ValidationFailed("validation failed", errutil.ErrInvalidArgument, errutil.WithDetails(details...))
}

// Email reports whether s is a syntactically valid address.
func Email(s string) bool {
	return validate.Var(s, "required,email") == nil
}

func message(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

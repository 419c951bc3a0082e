package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports fields by their `path` or `json` tag, so messages use
// the names clients send.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"path", "json"} {
			name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// fieldMessages formats the message for a failed tag; %[1]s is the field, %[2]s the tag parameter
var fieldMessages = map[string]string{
	"required":   "%[1]s is required",
	"uuid":       "%[1]s must be a valid UUID",
	"max":        "%[1]s must be at most %[2]s characters",
	"printascii": "%[1]s must contain printable ASCII only",
}

// ValidateStruct validates a struct using go-playground/validator
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		return NewValidationError(validationErrors)
	}
	return err
}

// ValidationError carries one message per invalid field
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a ValidationError from validator.ValidationErrors
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		format, ok := fieldMessages[fe.Tag()]
		if !ok {
			fields[fe.Field()] = fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
			continue
		}
		fields[fe.Field()] = fmt.Sprintf(format, fe.Field(), fe.Param())
	}

	return &ValidationError{
		Message: "Validation failed",
		Fields:  fields,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// GetValidationFields extracts field errors from a ValidationError
func GetValidationFields(err error) map[string]string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Fields
	}
	return nil
}

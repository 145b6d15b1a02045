package utils

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// FieldError is a single failed constraint on a request field.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// FormatValidationErrors converts validator.ValidationErrors into FieldErrors.
func FormatValidationErrors(err error) []FieldError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	out := make([]FieldError, len(ve))
	for i, fe := range ve {
		field := strings.ToLower(fe.Field())
		out[i] = FieldError{Field: field, Tag: fe.Tag()}
		switch fe.Tag() {
		case "required":
			out[i].Message = fmt.Sprintf("%s is required", field)
		case "email":
			out[i].Message = fmt.Sprintf("%s must be a valid email address", field)
		case "min":
			out[i].Message = fmt.Sprintf("%s must be at least %s characters long", field, fe.Param())
		case "max":
			out[i].Message = fmt.Sprintf("%s must be at most %s characters long", field, fe.Param())
		default:
			out[i].Message = fmt.Sprintf("%s failed on %s", field, fe.Tag())
		}
	}
	return out
}

// Validate checks struct tags and returns a validation-kind error naming the first failure.
func Validate(v interface{}) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	if fe := FormatValidationErrors(err); len(fe) > 0 {
		return apperrors.Wrap(apperrors.KindValidation, fe[0].Message, err)
	}
	return apperrors.Wrap(apperrors.KindValidation, "invalid request", err)
}

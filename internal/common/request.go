package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the process-wide validator, using json tag names in errors.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// DecodeJSON decodes a JSON body into dst and validates it. Failures are
// returned as AppErrors carrying per-field details.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return NewAppError("BAD_REQUEST", "request body is required", http.StatusBadRequest, nil)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return NewAppError("BAD_REQUEST", "request body is required", http.StatusBadRequest, err)
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return NewAppError("PAYLOAD_TOO_LARGE", "request body too large", http.StatusRequestEntityTooLarge, err)
		}
		return NewAppError("BAD_REQUEST", "invalid request payload", http.StatusBadRequest, err)
	}
	return ValidateStruct(dst)
}

// ValidateStruct runs struct tag validation and converts failures to an AppError.
func ValidateStruct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewAppError("VALIDATION_ERROR", "invalid request", http.StatusBadRequest, err)
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = describeFieldError(fe)
	}
	return NewAppError("VALIDATION_ERROR", "request validation failed", http.StatusBadRequest, err).WithDetails(details)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of %s", fe.Param())
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("must satisfy %s %s", fe.Tag(), fe.Param())
	default:
		return "is invalid"
	}
}

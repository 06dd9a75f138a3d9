package utils

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names so messages match the request body
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct runs the validate tags on s and returns field -> tag for
// every failed rule, or nil when s is valid.
func ValidateStruct(s any) (map[string]string, error) {
	err := validate.Struct(s)
	if err == nil {
		return nil, nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil, err
	}
	return ProcessValidationErrors(validationErrors), nil
}

func ProcessValidationErrors(validationErrors validator.ValidationErrors) map[string]string {
	errorResponse := make(map[string]string, len(validationErrors))
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

package validator

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var (
	identRe      = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)
	actionTypeRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*\.[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
)

func init() {
	validate = validator.New()

	validate.RegisterValidation("ident", validateIdent)
	validate.RegisterValidation("action_type", validateActionType)
}

func Get() *validator.Validate {
	return validate
}

func Validate(s interface{}) error {
	return validate.Struct(s)
}

// validateIdent accepts workflow, node and connector identifiers:
// lowercase alphanumerics separated by single hyphens or underscores.
func validateIdent(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if len(id) < 1 || len(id) > 100 {
		return false
	}
	return identRe.MatchString(id)
}

// validateActionType requires the "connectorId.action" shape used for
// catalog lookup and dispatch routing.
func validateActionType(fl validator.FieldLevel) bool {
	return actionTypeRe.MatchString(fl.Field().String())
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func FormatErrors(err error) []ValidationError {
	var errors []ValidationError

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrors {
			errors = append(errors, ValidationError{
				Field:   toSnakeCase(e.Field()),
				Message: formatMessage(e),
			})
		}
	}

	return errors
}

func formatMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "ident":
		return "Invalid identifier (use lowercase letters, numbers, hyphens, and underscores)"
	case "action_type":
		return "Invalid action type (expected connectorId.action)"
	case "uuid":
		return "Invalid UUID format"
	case "url":
		return "Invalid URL"
	default:
		return "Invalid value"
	}
}

func toSnakeCase(str string) string {
	var result strings.Builder
	for i, r := range str {
		if i > 0 && 'A' <= r && r <= 'Z' {
			result.WriteRune('_')
		}
		result.WriteRune(r)
	}
	return strings.ToLower(result.String())
}

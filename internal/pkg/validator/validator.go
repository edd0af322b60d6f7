package validator

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// tileurl requires all three slippy-map placeholders so a template can
	// be rendered for every tile in the pyramid.
	validate.RegisterValidation("tileurl", func(fl validator.FieldLevel) bool {
		tmpl := fl.Field().String()
		return strings.Contains(tmpl, "{z}") &&
			strings.Contains(tmpl, "{x}") &&
			strings.Contains(tmpl, "{y}")
	})
}

// Validate runs struct-tag validation on s.
func Validate(s interface{}) error {
	return validate.Struct(s)
}

// GetValidator exposes the shared instance for custom rules.
func GetValidator() *validator.Validate {
	return validate
}

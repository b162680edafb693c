package binder

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/shishobooks/spines/pkg/identifiers"
)

// isbnValidator accepts an empty string or a checksum-valid ISBN-10/13 with
// optional hyphens and spaces.
func isbnValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, ok := identifiers.CanonicalISBN(value)
	return ok
}

// contributorValidator rejects names with control characters or path
// separators, since contributor names end up in logs and run keys.
func contributorValidator(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if strings.ContainsAny(value, `/\`) {
		return false
	}
	for _, r := range value {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

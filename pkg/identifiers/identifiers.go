package identifiers

import (
	"regexp"
	"strings"
	"unicode"
)

// Type represents the type of identifier.
type Type string

const (
	TypeISBN10  Type = "isbn_10"
	TypeISBN13  Type = "isbn_13"
	TypeOther   Type = "other"
	TypeUnknown Type = ""
)

// isbnCandidateRE finds ISBN-shaped runs in free text: an optional "ISBN",
// "ISBN-10:" or "ISBN-13:" label, then 10 or 13 digits that may be split by
// hyphens or spaces. Checksums are verified separately.
var isbnCandidateRE = regexp.MustCompile(`(?i)\b(?:ISBN(?:-1[03])?:?\s*)?((?:97[89][\s-]?)?(?:\d[\s-]?){9}[\dX])\b`)

// DetectType determines the identifier type from a value and optional scheme.
// An explicit ISBN scheme is trusted only if the checksum passes.
func DetectType(value, scheme string) Type {
	value = strings.TrimSpace(value)
	scheme = strings.ToUpper(strings.TrimSpace(scheme))

	switch scheme {
	case "", "ISBN":
	default:
		return TypeOther
	}

	normalized := NormalizeISBN(value)
	if len(normalized) == 13 && ValidateISBN13(normalized) {
		return TypeISBN13
	}
	if len(normalized) == 10 && ValidateISBN10(normalized) {
		return TypeISBN10
	}
	if scheme == "ISBN" {
		return TypeUnknown
	}
	return TypeOther
}

// NormalizeISBN removes hyphens, spaces, and common prefixes from an ISBN.
func NormalizeISBN(value string) string {
	value = strings.ToUpper(strings.TrimSpace(value))
	value = strings.TrimPrefix(value, "URN:ISBN:")
	value = strings.TrimPrefix(value, "ISBN-13")
	value = strings.TrimPrefix(value, "ISBN-10")
	value = strings.TrimPrefix(value, "ISBN")
	value = strings.TrimPrefix(value, ":")

	var result strings.Builder
	for _, r := range value {
		if unicode.IsDigit(r) || r == 'X' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ValidateISBN10 validates an ISBN-10 checksum.
// ISBN-10 uses modulo 11 with weights 10,9,8,7,6,5,4,3,2,1.
func ValidateISBN10(isbn string) bool {
	if len(isbn) != 10 {
		return false
	}

	var sum int
	for i, r := range isbn {
		var digit int
		switch {
		case r == 'X' || r == 'x':
			if i != 9 {
				return false
			}
			digit = 10
		case unicode.IsDigit(r):
			digit = int(r - '0')
		default:
			return false
		}
		sum += digit * (10 - i)
	}
	return sum%11 == 0
}

// ValidateISBN13 validates an ISBN-13 checksum.
// ISBN-13 uses alternating weights of 1 and 3.
func ValidateISBN13(isbn string) bool {
	if len(isbn) != 13 {
		return false
	}
	if !strings.HasPrefix(isbn, "978") && !strings.HasPrefix(isbn, "979") {
		return false
	}

	var sum int
	for i, r := range isbn {
		if !unicode.IsDigit(r) {
			return false
		}
		digit := int(r - '0')
		if i%2 == 0 {
			sum += digit
		} else {
			sum += digit * 3
		}
	}
	return sum%10 == 0
}

// ISBN10To13 converts a valid ISBN-10 into its 978-prefixed ISBN-13 form.
func ISBN10To13(isbn10 string) string {
	core := "978" + isbn10[:9]
	var sum int
	for i, r := range core {
		digit := int(r - '0')
		if i%2 == 0 {
			sum += digit
		} else {
			sum += digit * 3
		}
	}
	check := (10 - sum%10) % 10
	return core + string(rune('0'+check))
}

// CanonicalISBN normalizes value and returns it as an ISBN-13 if it is a
// checksum-valid, non-placeholder ISBN-10 or ISBN-13.
func CanonicalISBN(value string) (string, bool) {
	normalized := NormalizeISBN(value)
	switch {
	case len(normalized) == 13 && ValidateISBN13(normalized):
	case len(normalized) == 10 && ValidateISBN10(normalized):
		normalized = ISBN10To13(normalized)
	default:
		return "", false
	}
	if isPlaceholder(normalized) {
		return "", false
	}
	return normalized, true
}

// FindISBNs scans free text and returns the canonical ISBN-13 of every valid
// ISBN it finds, in order of first appearance and without duplicates.
func FindISBNs(text string) []string {
	var found []string
	seen := map[string]struct{}{}
	for _, m := range isbnCandidateRE.FindAllStringSubmatch(text, -1) {
		isbn, ok := CanonicalISBN(m[1])
		if !ok {
			continue
		}
		if _, dup := seen[isbn]; dup {
			continue
		}
		seen[isbn] = struct{}{}
		found = append(found, isbn)
	}
	return found
}

// isPlaceholder catches the sample numbers publishers and templates print
// where a real ISBN would go: 0123456789 and ten repeats of one digit.
func isPlaceholder(isbn13 string) bool {
	body := isbn13[3:12]
	if body == "012345678" {
		return true
	}
	return strings.Count(body, body[:1]) == len(body)
}
